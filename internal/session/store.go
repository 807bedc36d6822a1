package session

import (
	"database/sql"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Store is the session/message/attachment persistence layer (spec §4.3).
// Every mutating operation is serialized under mu, matching spec §9's
// "scoped acquisition of the session-store writer lock on every mutation,
// with guaranteed release on all exit paths"; reads are not required to
// take the lock because WAL journaling permits concurrent readers, but this
// implementation keeps them under the same lock for simplicity since the
// store is not a measured hot path (spec §5 allows this: "readers may
// overlap iff the backing store permits").
type Store struct {
	mu   sync.Mutex
	db   *sql.DB
	temp map[string]*tempSession
}

// tempSession holds an entire in-memory conversation for a temporary
// session (spec §3 invariant 3: "MUST survive process restart without
// leaking or restoring it" -- i.e. it must never touch disk at all).
type tempSession struct {
	session  Session
	messages []Message
	nextID   int64
}

// NewStore opens (creating if absent) the database at dbPath, initializes
// its schema, and runs the legacy sessions.json migration if applicable.
func NewStore(dbPath, legacyJSONPath string) (*Store, error) {
	db, err := openDB(dbPath)
	if err != nil {
		return nil, err
	}
	if err := initSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("init session schema: %w", err)
	}

	s := &Store{db: db, temp: map[string]*tempSession{}}

	if err := s.migrateLegacyJSON(legacyJSONPath); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// CreateSession returns a new id, persisting it unless isTemp, and sets it
// as the current session.
func (s *Store) CreateSession(title string, isTemp bool) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := uuid.NewString()
	now := nowUnix()

	if isTemp {
		s.temp[id] = &tempSession{session: Session{
			ID: id, Title: title, IsTemporary: true, CreatedAt: now, UpdatedAt: now,
		}}
	} else {
		if _, err := s.db.Exec(
			`INSERT INTO sessions (id, title, is_temporary, created_at, updated_at) VALUES (?, ?, 0, ?, ?)`,
			id, title, now, now,
		); err != nil {
			return "", err
		}
	}

	if err := s.setAppStateLocked("current_session_id", id); err != nil {
		return "", err
	}
	return id, nil
}

// DeleteSession removes a session and all cascading rows; if it was
// current, current becomes unset.
func (s *Store) DeleteSession(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.temp[id]; ok {
		delete(s.temp, id)
	} else if _, err := s.db.Exec(`DELETE FROM sessions WHERE id = ?`, id); err != nil {
		return err
	}

	current, err := s.appStateLocked("current_session_id")
	if err != nil {
		return err
	}
	if current == id {
		return s.setAppStateLocked("current_session_id", "")
	}
	return nil
}

// ListSessions returns persistent sessions ordered by updated_at desc,
// followed by temporary sessions (spec §4.3).
func (s *Store) ListSessions() ([]Session, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`SELECT id, title, is_temporary, created_at, updated_at FROM sessions ORDER BY updated_at DESC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Session
	for rows.Next() {
		var sess Session
		var isTemp int
		if err := rows.Scan(&sess.ID, &sess.Title, &isTemp, &sess.CreatedAt, &sess.UpdatedAt); err != nil {
			return nil, err
		}
		sess.IsTemporary = isTemp != 0
		out = append(out, sess)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for _, t := range s.temp {
		out = append(out, t.session)
	}
	return out, nil
}

// GetHistory returns the ordered messages of a session with attachments
// inlined per message.
func (s *Store) GetHistory(id string) ([]Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.getHistoryLocked(id)
}

func (s *Store) getHistoryLocked(id string) ([]Message, error) {
	if t, ok := s.temp[id]; ok {
		out := make([]Message, len(t.messages))
		copy(out, t.messages)
		return out, nil
	}

	rows, err := s.db.Query(`SELECT id, role, content, meta, created_at FROM messages WHERE session_id = ? ORDER BY id ASC`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var messages []Message
	for rows.Next() {
		var m Message
		var metaJSON string
		if err := rows.Scan(&m.ID, &m.Role, &m.Content, &metaJSON, &m.CreatedAt); err != nil {
			return nil, err
		}
		if metaJSON != "" {
			_ = json.Unmarshal([]byte(metaJSON), &m.Meta)
		}
		messages = append(messages, m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range messages {
		atts, err := s.getAttachmentsLocked(messages[i].ID)
		if err != nil {
			return nil, err
		}
		messages[i].Attachments = atts
	}
	return messages, nil
}

func (s *Store) getAttachmentsLocked(messageID int64) ([]Attachment, error) {
	rows, err := s.db.Query(
		`SELECT id, name, kind, mime, content, truncated, size FROM attachments WHERE message_id = ? ORDER BY id ASC`,
		messageID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Attachment
	for rows.Next() {
		var a Attachment
		var truncated int
		if err := rows.Scan(&a.ID, &a.Name, &a.Kind, &a.Mime, &a.Content, &truncated, &a.Size); err != nil {
			return nil, err
		}
		a.Truncated = truncated != 0
		out = append(out, a)
	}
	return out, rows.Err()
}

// AddMessage appends a message (and its attachments) to a session, bumps
// updated_at, and returns the stored message with normalized attachments.
func (s *Store) AddMessage(id, role, content string, meta map[string]any, attachments []Attachment) (Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	normalized := make([]Attachment, len(attachments))
	for i, a := range attachments {
		normalized[i] = NormalizeAttachment(a)
	}

	now := nowUnix()

	if t, ok := s.temp[id]; ok {
		t.nextID++
		msg := Message{ID: t.nextID, Role: role, Content: content, Meta: meta, Attachments: normalized, CreatedAt: now}
		t.messages = append(t.messages, msg)
		t.session.UpdatedAt = now
		return msg, nil
	}

	metaJSON := "{}"
	if meta != nil {
		b, err := json.Marshal(meta)
		if err != nil {
			return Message{}, err
		}
		metaJSON = string(b)
	}

	res, err := s.db.Exec(
		`INSERT INTO messages (session_id, role, content, meta, created_at) VALUES (?, ?, ?, ?, ?)`,
		id, role, content, metaJSON, now,
	)
	if err != nil {
		return Message{}, err
	}
	msgID, err := res.LastInsertId()
	if err != nil {
		return Message{}, err
	}

	for i := range normalized {
		if err := s.insertAttachmentLocked(msgID, id, &normalized[i]); err != nil {
			return Message{}, err
		}
	}

	if _, err := s.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, now, id); err != nil {
		return Message{}, err
	}

	return Message{ID: msgID, Role: role, Content: content, Meta: meta, Attachments: normalized, CreatedAt: now}, nil
}

func (s *Store) insertAttachmentLocked(messageID int64, sessionID string, a *Attachment) error {
	res, err := s.db.Exec(
		`INSERT INTO attachments (message_id, session_id, name, kind, mime, content, truncated, size) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		messageID, sessionID, a.Name, a.Kind, a.Mime, a.Content, boolToInt(a.Truncated), a.Size,
	)
	if err != nil {
		return err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return err
	}
	a.ID = id
	return nil
}

// EditMessage updates the content at index and, per invariant 5, discards
// everything after it (the edited message remains, the tail is truncated).
func (s *Store) EditMessage(id string, index int, content string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages, err := s.getHistoryLocked(id)
	if err != nil {
		return err
	}
	if index < 0 || index >= len(messages) {
		return fmt.Errorf("edit_message: index %d out of range [0,%d)", index, len(messages))
	}

	if t, ok := s.temp[id]; ok {
		t.messages[index].Content = content
		t.messages = t.messages[:index+1]
		t.session.UpdatedAt = nowUnix()
		return nil
	}

	target := messages[index].ID
	if _, err := s.db.Exec(`UPDATE messages SET content = ? WHERE id = ?`, content, target); err != nil {
		return err
	}
	return s.truncateAfterLocked(id, messages, index+1)
}

// TruncateHistory removes messages with ordinal >= end (spec §4.3, P2
// idempotence: calling this twice with the same end is a no-op the second
// time since there is nothing left past end).
func (s *Store) TruncateHistory(id string, end int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages, err := s.getHistoryLocked(id)
	if err != nil {
		return err
	}
	if end < 0 {
		end = 0
	}
	return s.truncateAfterLocked(id, messages, end)
}

func (s *Store) truncateAfterLocked(id string, messages []Message, end int) error {
	if end >= len(messages) {
		return nil
	}

	if t, ok := s.temp[id]; ok {
		t.messages = t.messages[:end]
		t.session.UpdatedAt = nowUnix()
		return nil
	}

	for _, m := range messages[end:] {
		if _, err := s.db.Exec(`DELETE FROM messages WHERE id = ?`, m.ID); err != nil {
			return err
		}
	}
	_, err := s.db.Exec(`UPDATE sessions SET updated_at = ? WHERE id = ?`, nowUnix(), id)
	return err
}

// ClearSession truncates to zero messages.
func (s *Store) ClearSession(id string) error {
	return s.TruncateHistory(id, 0)
}

// UpdateTitle auto-truncates: raw[:30] + "..." when len(raw) > 30, else raw
// verbatim (spec §4.3).
func (s *Store) UpdateTitle(id, raw string) error {
	title := raw
	runes := []rune(raw)
	if len(runes) > MaxTitleLen {
		title = string(runes[:MaxTitleLen]) + "..."
	}
	return s.setTitle(id, title)
}

// RenameSession stores title verbatim, caller-provided (spec §4.3).
func (s *Store) RenameSession(id, title string) error {
	return s.setTitle(id, title)
}

func (s *Store) setTitle(id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.temp[id]; ok {
		t.session.Title = title
		t.session.UpdatedAt = nowUnix()
		return nil
	}
	_, err := s.db.Exec(`UPDATE sessions SET title = ?, updated_at = ? WHERE id = ?`, title, nowUnix(), id)
	return err
}

// SessionSize returns the sum of message content byte-length plus
// attachment sizes, in bytes.
func (s *Store) SessionSize(id string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	messages, err := s.getHistoryLocked(id)
	if err != nil {
		return 0, err
	}
	var total int64
	for _, m := range messages {
		total += int64(len(m.Content))
		for _, a := range m.Attachments {
			total += a.Size
		}
	}
	return total, nil
}

// GetSession returns the session's own row (not its messages), checking
// temporary sessions first the same way getHistoryLocked does.
func (s *Store) GetSession(id string) (Session, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.temp[id]; ok {
		return t.session, true, nil
	}

	var sess Session
	var isTemp int
	err := s.db.QueryRow(
		`SELECT id, title, is_temporary, created_at, updated_at FROM sessions WHERE id = ?`, id,
	).Scan(&sess.ID, &sess.Title, &isTemp, &sess.CreatedAt, &sess.UpdatedAt)
	if err == sql.ErrNoRows {
		return Session{}, false, nil
	}
	if err != nil {
		return Session{}, false, err
	}
	sess.IsTemporary = isTemp != 0
	return sess, true, nil
}

func (s *Store) CurrentSessionID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appStateLocked("current_session_id")
}

func (s *Store) SetCurrentSessionID(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.setAppStateLocked("current_session_id", id)
}

func (s *Store) appStateLocked(key string) (string, error) {
	var value string
	err := s.db.QueryRow(`SELECT value FROM app_state WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	return value, err
}

func (s *Store) setAppStateLocked(key, value string) error {
	_, err := s.db.Exec(
		`INSERT INTO app_state (key, value) VALUES (?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		key, value,
	)
	return err
}

// NormalizeAttachment trims name to <=200 chars, infers kind when unset,
// and computes size, applying the 512 KiB text cap (spec §4.3, §6.5).
func NormalizeAttachment(a Attachment) Attachment {
	a.Name = strings.TrimSpace(a.Name)
	if len(a.Name) > 200 {
		a.Name = a.Name[:200]
	}

	if a.Kind == "" {
		a.Kind = inferKind(a)
	}
	if a.Kind != AttachmentKindText && a.Kind != AttachmentKindImage {
		log.Printf("session: accepting attachment %q with unknown kind %q", a.Name, a.Kind)
	}

	if a.Kind == AttachmentKindText {
		decoded, truncated := capText(a.Content)
		a.Content = decoded
		a.Truncated = truncated
		a.Size = int64(len(decoded))
		return a
	}

	// data:<mime>;base64,<payload>
	if payload, ok := dataURLPayload(a.Content); ok {
		if raw, err := base64.StdEncoding.DecodeString(payload); err == nil {
			a.Size = int64(len(raw))
			return a
		}
	}
	a.Size = int64(len(a.Content))
	return a
}

func inferKind(a Attachment) string {
	if strings.HasPrefix(a.Content, "data:image/") || strings.HasPrefix(a.Mime, "image/") {
		return AttachmentKindImage
	}
	return AttachmentKindText
}

func capText(content string) (string, bool) {
	if len(content) <= MaxTextAttachmentBytes {
		return content, false
	}
	return string([]byte(content)[:MaxTextAttachmentBytes]), true
}

func dataURLPayload(content string) (string, bool) {
	if !strings.HasPrefix(content, "data:") {
		return "", false
	}
	idx := strings.Index(content, ",")
	if idx < 0 {
		return "", false
	}
	return content[idx+1:], true
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nowUnix() int64 {
	return time.Now().Unix()
}
