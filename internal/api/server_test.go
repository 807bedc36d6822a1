package api

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/FangAiden/Idle-NPU-Waker/internal/config"
	"github.com/FangAiden/Idle-NPU-Waker/internal/download"
	"github.com/FangAiden/Idle-NPU-Waker/internal/i18n"
	"github.com/FangAiden/Idle-NPU-Waker/internal/session"
	"github.com/FangAiden/Idle-NPU-Waker/internal/worker"
)

// fakeWorkerProcess wires worker.Supervisor directly to an in-process
// worker.RunLoop via io.Pipe, the same seam internal/worker's own tests
// use to exercise the supervisor without a real subprocess.
type fakeWorkerProcess struct {
	stdin  io.WriteCloser
	stdout io.Reader
	cancel context.CancelFunc
	alive  atomic.Bool
}

func (f *fakeWorkerProcess) Stdin() io.WriteCloser { return f.stdin }
func (f *fakeWorkerProcess) Stdout() io.Reader     { return f.stdout }
func (f *fakeWorkerProcess) Alive() bool           { return f.alive.Load() }
func (f *fakeWorkerProcess) Pid() int              { return 4242 }
func (f *fakeWorkerProcess) Terminate() {
	f.alive.Store(false)
	f.cancel()
	_ = f.stdin.Close()
}

type fakeWorkerSpawner struct{}

func (fakeWorkerSpawner) Spawn() (worker.ProcessHandle, error) {
	cmdR, cmdW := io.Pipe()
	evtR, evtW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	h := &fakeWorkerProcess{stdin: cmdW, stdout: evtR, cancel: cancel}
	h.alive.Store(true)
	go func() {
		worker.RunLoop(ctx, cmdR, evtW)
		h.alive.Store(false)
	}()
	return h, nil
}

// fakeDownloadProcess mirrors fakeWorkerProcess for the download child's
// RunChild/HubClient protocol.
type fakeDownloadProcess struct {
	stdin  io.WriteCloser
	stdout io.Reader
	cancel context.CancelFunc
	alive  atomic.Bool
}

func (f *fakeDownloadProcess) Stdin() io.WriteCloser { return f.stdin }
func (f *fakeDownloadProcess) Stdout() io.Reader     { return f.stdout }
func (f *fakeDownloadProcess) Alive() bool           { return f.alive.Load() }
func (f *fakeDownloadProcess) Terminate() {
	f.alive.Store(false)
	f.cancel()
	_ = f.stdin.Close()
}

// fakeHubClient generates a single small file per repo, avoiding any real
// network access from these tests.
type fakeHubClient struct{}

func (fakeHubClient) ListFiles(ctx context.Context, repoID string) ([]download.HubFile, error) {
	return []download.HubFile{{Path: "weights.bin", Size: 16}}, nil
}

func (fakeHubClient) DownloadFile(ctx context.Context, repoID string, file download.HubFile, destDir string, onProgress func(int64)) error {
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return err
	}
	data := []byte("0123456789ABCDEF")
	if err := os.WriteFile(filepath.Join(destDir, file.Path), data, 0o644); err != nil {
		return err
	}
	onProgress(int64(len(data)))
	return nil
}

type fakeDownloadSpawner struct{}

func (fakeDownloadSpawner) Spawn() (download.ProcessHandle, error) {
	cmdR, cmdW := io.Pipe()
	evtR, evtW := io.Pipe()
	ctx, cancel := context.WithCancel(context.Background())
	h := &fakeDownloadProcess{stdin: cmdW, stdout: evtR, cancel: cancel}
	h.alive.Store(true)
	go func() {
		download.RunChild(ctx, cmdR, evtW, fakeHubClient{})
		h.alive.Store(false)
	}()
	return h, nil
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	dir := t.TempDir()

	store, err := session.NewStore(filepath.Join(dir, "sessions.db"), filepath.Join(dir, "sessions.json"))
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	t.Cleanup(func() { store.Close() })

	translations, err := i18n.New()
	if err != nil {
		t.Fatalf("i18n.New: %v", err)
	}

	paths := &config.Paths{
		DataDir:          dir,
		ConfigDir:        filepath.Join(dir, "config"),
		ModelsDir:        filepath.Join(dir, "models"),
		DownloadCacheDir: filepath.Join(dir, "cache"),
		LangFile:         filepath.Join(dir, "lang.json"),
	}
	if err := os.MkdirAll(paths.ModelsDir, 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(paths.DownloadCacheDir, 0o755); err != nil {
		t.Fatal(err)
	}

	cfg := &config.Config{
		Server:     config.ServerConfig{Host: "127.0.0.1", Port: 0},
		Generation: config.GenerationDefaults{Temperature: 0.7},
		Devices:    []string{"CPU", "AUTO"},
	}

	modelSup := worker.NewSupervisor(fakeWorkerSpawner{})
	dlSup := download.NewSupervisor(fakeDownloadSpawner{}, paths.ModelsDir, paths.DownloadCacheDir)

	return NewServer(cfg, paths, store, modelSup, dlSup, translations, nil, nil, nil)
}

func doRequest(mux *http.ServeMux, method, path string, body any) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		data, _ := json.Marshal(body)
		reader = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, path, reader)
	rec := httptest.NewRecorder()
	mux.ServeHTTP(rec, req)
	return rec
}

func TestHandleHealth(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	rec := doRequest(mux, http.MethodGet, "/api/health", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatal(err)
	}
	if body["status"] != "ok" {
		t.Errorf("status = %q", body["status"])
	}
}

func TestSessionsCreateListGet(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	rec := doRequest(mux, http.MethodPost, "/api/sessions", map[string]any{"title": "Hello"})
	if rec.Code != http.StatusOK {
		t.Fatalf("create status = %d body=%s", rec.Code, rec.Body.String())
	}
	var created map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}
	id := created["id"]
	if id == "" {
		t.Fatal("expected a session id")
	}

	rec = doRequest(mux, http.MethodGet, "/api/sessions", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("list status = %d", rec.Code)
	}
	var list map[string][]session.Session
	if err := json.Unmarshal(rec.Body.Bytes(), &list); err != nil {
		t.Fatal(err)
	}
	found := false
	for _, sess := range list["sessions"] {
		if sess.ID == id {
			found = true
		}
	}
	if !found {
		t.Errorf("created session %s not in list %+v", id, list["sessions"])
	}

	rec = doRequest(mux, http.MethodGet, "/api/sessions/"+id, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}

	rec = doRequest(mux, http.MethodGet, "/api/sessions/does-not-exist", nil)
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown session, got %d", rec.Code)
	}
}

func TestSessionCurrentAndClear(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	rec := doRequest(mux, http.MethodPost, "/api/sessions", map[string]any{"title": "A"})
	var created map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	id := created["id"]

	rec = doRequest(mux, http.MethodGet, "/api/sessions/current", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("get current status = %d", rec.Code)
	}
	var cur map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &cur)
	if cur["id"] != id {
		t.Errorf("current session = %q, want %q (creating a session sets it current)", cur["id"], id)
	}

	other := "does-not-exist"
	rec = doRequest(mux, http.MethodPost, "/api/sessions/current", map[string]string{"id": other})
	if rec.Code != http.StatusNotFound {
		t.Errorf("expected 404 setting current to an unknown session, got %d", rec.Code)
	}

	_, err := s.Sessions.AddMessage(id, session.RoleUser, "hi", nil, nil)
	if err != nil {
		t.Fatal(err)
	}
	rec = doRequest(mux, http.MethodDelete, "/api/sessions/"+id+"/messages", nil)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("clear status = %d", rec.Code)
	}
	history, err := s.Sessions.GetHistory(id)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 0 {
		t.Errorf("expected clear_session to truncate to zero messages, got %d", len(history))
	}
}

func TestMessageEditAtIndexZeroUpdatesTitle(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	rec := doRequest(mux, http.MethodPost, "/api/sessions", map[string]any{"title": "A"})
	var created map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	id := created["id"]

	if _, err := s.Sessions.AddMessage(id, session.RoleUser, "original", nil, nil); err != nil {
		t.Fatal(err)
	}

	rec = doRequest(mux, http.MethodPost, "/api/sessions/"+id+"/messages/edit", map[string]any{"index": 0, "content": "new title text"})
	if rec.Code != http.StatusNoContent {
		t.Fatalf("edit status = %d body=%s", rec.Code, rec.Body.String())
	}

	sess, ok, err := s.Sessions.GetSession(id)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Fatal("session not found")
	}
	if sess.Title != "new title text" {
		t.Errorf("title = %q, want %q", sess.Title, "new title text")
	}
}

func TestChatStreamEndToEnd(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	rec := doRequest(mux, http.MethodPost, "/api/sessions", map[string]any{"title": "Chat"})
	var created map[string]string
	_ = json.Unmarshal(rec.Body.Bytes(), &created)
	sessionID := created["id"]

	modelDir := t.TempDir()
	if _, err := s.Model.Load(context.Background(), worker.Command{Path: modelDir}); err != nil {
		t.Fatalf("Load: %v", err)
	}

	rec = doRequest(mux, http.MethodPost, "/api/chat/stream", map[string]any{
		"session_id": sessionID,
		"text":       "hello there",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("chat stream status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"type":"token"`) {
		t.Errorf("expected token frames in %q", body)
	}
	if !strings.Contains(body, `"type":"done"`) {
		t.Errorf("expected a done frame in %q", body)
	}

	history, err := s.Sessions.GetHistory(sessionID)
	if err != nil {
		t.Fatal(err)
	}
	if len(history) != 2 {
		t.Fatalf("expected user+assistant messages, got %d: %+v", len(history), history)
	}
	if history[0].Role != session.RoleUser || history[1].Role != session.RoleAssistant {
		t.Errorf("unexpected roles: %s, %s", history[0].Role, history[1].Role)
	}
}

func TestLangRoundTrip(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	rec := doRequest(mux, http.MethodPost, "/api/lang", map[string]string{"lang": "zh_CN"})
	if rec.Code != http.StatusOK {
		t.Fatalf("set lang status = %d", rec.Code)
	}

	rec = doRequest(mux, http.MethodGet, "/api/lang", nil)
	var got langFile
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Lang != "zh_CN" {
		t.Errorf("lang = %q, want zh_CN", got.Lang)
	}
}

func TestDownloadStreamEndToEnd(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	rec := doRequest(mux, http.MethodPost, "/api/download/stream", map[string]any{"repo_id": "org/demo-model"})
	if rec.Code != http.StatusOK {
		t.Fatalf("download stream status = %d body=%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"type":"done"`) {
		t.Errorf("expected a done frame in %q", body)
	}
}

func TestDownloadStreamModelExistsIsSSEErrorNotHTTP409(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	if err := os.MkdirAll(filepath.Join(s.Paths.ModelsDir, "demo-model"), 0o755); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(mux, http.MethodPost, "/api/download/stream", map[string]any{"repo_id": "org/demo-model"})
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200 with stream-level error (not HTTP 409) for an existing model, got %d body=%s", rec.Code, rec.Body.String())
	}
	body := rec.Body.String()
	if !strings.Contains(body, `"type":"error"`) {
		t.Errorf("expected an error frame in %q", body)
	}
	if !strings.Contains(body, `"type":"done"`) {
		t.Errorf("expected a done frame in %q", body)
	}
}

func TestDownloadStreamAlreadyRunningIsHTTP409(t *testing.T) {
	s := newTestServer(t)
	mux := http.NewServeMux()
	s.SetupRoutes(mux)

	if _, err := s.Download.Start(context.Background(), "org/other-model"); err != nil {
		t.Fatal(err)
	}

	rec := doRequest(mux, http.MethodPost, "/api/download/stream", map[string]any{"repo_id": "org/demo-model"})
	if rec.Code != http.StatusConflict {
		t.Errorf("expected 409 for an already-running download, got %d body=%s", rec.Code, rec.Body.String())
	}
}
