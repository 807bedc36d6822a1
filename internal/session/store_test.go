package session

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	s, err := NewStore(dbPath, "")
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

// P1: edit_message(s, i, c) followed by get_history(s) yields exactly
// s[:i] + [(role_i, c)].
func TestEditMessageProperty(t *testing.T) {
	s := newTestStore(t)
	id, err := s.CreateSession("t", false)
	if err != nil {
		t.Fatal(err)
	}
	for _, m := range []struct{ role, content string }{
		{RoleUser, "q1"}, {RoleAssistant, "a1"}, {RoleUser, "q2"}, {RoleAssistant, "a2"},
	} {
		if _, err := s.AddMessage(id, m.role, m.content, nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.EditMessage(id, 1, "edited"); err != nil {
		t.Fatalf("EditMessage: %v", err)
	}
	history, err := s.GetHistory(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("len(history) = %d, want 2", len(history))
	}
	if history[0].Content != "q1" || history[1].Content != "edited" {
		t.Errorf("history = %+v", history)
	}
	if history[1].Role != RoleAssistant {
		t.Errorf("role at edited index = %q, want unchanged role %q", history[1].Role, RoleAssistant)
	}
}

// P2: truncate_history(s, k) is idempotent.
func TestTruncateHistoryIdempotent(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.CreateSession("t", false)
	for i := 0; i < 4; i++ {
		if _, err := s.AddMessage(id, RoleUser, "m", nil, nil); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.TruncateHistory(id, 2); err != nil {
		t.Fatal(err)
	}
	first, err := s.GetHistory(id)
	if err != nil {
		t.Fatal(err)
	}
	if err := s.TruncateHistory(id, 2); err != nil {
		t.Fatal(err)
	}
	second, err := s.GetHistory(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(first) != 2 || len(second) != 2 {
		t.Fatalf("first=%d second=%d, want 2 and 2", len(first), len(second))
	}
}

// P4: add_message then get_history preserves attachment order/content,
// except name normalization and kind inference.
func TestAddMessagePreservesAttachments(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.CreateSession("t", false)

	atts := []Attachment{
		{Name: "  notes.txt  ", Content: "hello world"},
		{Name: "pic.png", Mime: "image/png", Content: "data:image/png;base64,aGVsbG8="},
	}
	msg, err := s.AddMessage(id, RoleUser, "see attached", nil, atts)
	if err != nil {
		t.Fatal(err)
	}
	if len(msg.Attachments) != 2 {
		t.Fatalf("len(attachments) = %d, want 2", len(msg.Attachments))
	}
	if msg.Attachments[0].Name != "notes.txt" {
		t.Errorf("Name = %q, want trimmed", msg.Attachments[0].Name)
	}
	if msg.Attachments[0].Kind != AttachmentKindText {
		t.Errorf("Kind = %q, want text", msg.Attachments[0].Kind)
	}
	if msg.Attachments[1].Kind != AttachmentKindImage {
		t.Errorf("Kind = %q, want image", msg.Attachments[1].Kind)
	}

	history, err := s.GetHistory(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(history[0].Attachments) != 2 {
		t.Fatalf("round-tripped attachments = %d, want 2", len(history[0].Attachments))
	}
	if history[0].Attachments[0].Content != "hello world" {
		t.Errorf("Content = %q", history[0].Attachments[0].Content)
	}
}

// Scenario 3: a 600 KiB text attachment is truncated to exactly 512 KiB
// and flagged truncated=true.
func TestAttachmentTextTruncation(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.CreateSession("t", false)

	big := strings.Repeat("a", 600*1024)
	msg, err := s.AddMessage(id, RoleUser, "", nil, []Attachment{{Name: "big.txt", Content: big}})
	if err != nil {
		t.Fatal(err)
	}
	a := msg.Attachments[0]
	if !a.Truncated {
		t.Error("expected truncated=true")
	}
	if a.Size != MaxTextAttachmentBytes {
		t.Errorf("size = %d, want %d", a.Size, MaxTextAttachmentBytes)
	}
	if len(a.Content) != MaxTextAttachmentBytes {
		t.Errorf("content length = %d, want %d", len(a.Content), MaxTextAttachmentBytes)
	}
}

func TestUpdateTitleTruncatesAt30(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.CreateSession("t", false)

	long := strings.Repeat("x", 40)
	if err := s.UpdateTitle(id, long); err != nil {
		t.Fatal(err)
	}
	sessions, err := s.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if sessions[0].Title != strings.Repeat("x", 30)+"..." {
		t.Errorf("Title = %q", sessions[0].Title)
	}
}

func TestUpdateTitleIdempotentUnderLimit(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.CreateSession("t", false)
	if err := s.UpdateTitle(id, "xyz"); err != nil {
		t.Fatal(err)
	}
	if err := s.UpdateTitle(id, "xyz"); err != nil {
		t.Fatal(err)
	}
	sessions, _ := s.ListSessions()
	if sessions[0].Title != "xyz" {
		t.Errorf("Title = %q, want xyz", sessions[0].Title)
	}
}

func TestRenameSessionVerbatim(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.CreateSession("t", false)
	long := strings.Repeat("y", 40)
	if err := s.RenameSession(id, long); err != nil {
		t.Fatal(err)
	}
	sessions, _ := s.ListSessions()
	if sessions[0].Title != long {
		t.Errorf("RenameSession must not truncate; got %q", sessions[0].Title)
	}
}

func TestTemporarySessionNeverPersists(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "sessions.db")
	s, err := NewStore(dbPath, "")
	if err != nil {
		t.Fatal(err)
	}
	id, err := s.CreateSession("temp", true)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddMessage(id, RoleUser, "hi", nil, nil); err != nil {
		t.Fatal(err)
	}
	s.Close()

	// Reopening must not find the temporary session anywhere.
	s2, err := NewStore(dbPath, "")
	if err != nil {
		t.Fatal(err)
	}
	defer s2.Close()
	sessions, err := s2.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	for _, sess := range sessions {
		if sess.ID == id {
			t.Fatalf("temporary session %q leaked to disk", id)
		}
	}
}

func TestListSessionsOrdersTempAfterPersistent(t *testing.T) {
	s := newTestStore(t)
	persistentID, _ := s.CreateSession("p", false)
	tempID, _ := s.CreateSession("tmp", true)

	sessions, err := s.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 2 {
		t.Fatalf("len = %d, want 2", len(sessions))
	}
	if sessions[0].ID != persistentID {
		t.Errorf("expected persistent session first, got %+v", sessions)
	}
	if sessions[1].ID != tempID {
		t.Errorf("expected temp session second, got %+v", sessions)
	}
}

func TestDeleteSessionClearsCurrent(t *testing.T) {
	s := newTestStore(t)
	id, _ := s.CreateSession("t", false)

	current, err := s.CurrentSessionID()
	if err != nil || current != id {
		t.Fatalf("CurrentSessionID = %q, %v", current, err)
	}
	if err := s.DeleteSession(id); err != nil {
		t.Fatal(err)
	}
	current, err = s.CurrentSessionID()
	if err != nil {
		t.Fatal(err)
	}
	if current != "" {
		t.Errorf("CurrentSessionID after delete = %q, want empty", current)
	}
}

func TestLegacyJSONMigrationIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	legacyPath := filepath.Join(dir, "sessions.json")
	legacyJSON := `{
		"sessions": {
			"s1": {"title": "Old Chat", "history": [
				{"role": "user", "content": "hi"},
				{"role": "assistant", "content": "hello", "think_duration": 1.5}
			]}
		},
		"current_session_id": "s1"
	}`
	if err := os.WriteFile(legacyPath, []byte(legacyJSON), 0o644); err != nil {
		t.Fatal(err)
	}

	dbPath := filepath.Join(dir, "sessions.db")
	s, err := NewStore(dbPath, legacyPath)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}

	sessions, err := s.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions) != 1 || sessions[0].ID != "s1" || sessions[0].IsTemporary {
		t.Fatalf("migrated sessions = %+v", sessions)
	}
	history, err := s.GetHistory("s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("migrated history = %+v", history)
	}
	if history[1].Meta["think_duration"] == nil {
		t.Error("think_duration should survive in meta")
	}

	if _, err := os.Stat(legacyPath + ".bak"); err != nil {
		t.Errorf("expected legacy file renamed to .bak: %v", err)
	}
	if _, err := os.Stat(legacyPath); !os.IsNotExist(err) {
		t.Error("legacy file should no longer exist at original path")
	}
	s.Close()

	// Idempotence: reopening with a (now absent) legacy path must not
	// error and must not duplicate the session.
	s2, err := NewStore(dbPath, legacyPath)
	if err != nil {
		t.Fatalf("re-open NewStore: %v", err)
	}
	defer s2.Close()
	sessions2, err := s2.ListSessions()
	if err != nil {
		t.Fatal(err)
	}
	if len(sessions2) != 1 {
		t.Errorf("migration re-run duplicated sessions: %+v", sessions2)
	}
}
