package download

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// ProcessHandle abstracts the spawned download child the same way
// internal/worker.ProcessHandle abstracts the inference worker -- a
// distinct type because the two subprocess protocols are unrelated, but
// grounded on the same isolation rationale (spec §9: "process boundaries
// as the isolation primitive").
type ProcessHandle interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Alive() bool
	Terminate()
}

// Spawner creates a new download child process on demand.
type Spawner interface {
	Spawn() (ProcessHandle, error)
}

// Status mirrors download_service.py's get_status() shape (spec §6.1 GET
// /api/status's "download" field).
type Status struct {
	Running   bool
	RepoID    string
	Percent   int
	File      string
	Message   string
	Error     string
	Path      string
	StartedAt time.Time
	UpdatedAt time.Time
}

// candidateModelNames mirrors download_script.py's _candidate_model_names:
// a repo_id's basename, plus the "." -> "___" variant some hubs use for
// on-disk directory names.
func candidateModelNames(repoID string) []string {
	parts := strings.Split(repoID, "/")
	name := strings.TrimSpace(parts[len(parts)-1])
	if name == "" {
		return nil
	}
	names := []string{name}
	if replaced := strings.ReplaceAll(name, ".", "___"); replaced != name {
		names = append(names, replaced)
	}
	return names
}

// ModelExistsError is returned by Start when repoID's target directory
// already exists on disk. Spec §4.5 step 2 treats this as a stream-level
// failure ("fail immediately with error{\"Model exists: <name>\"}"), not an
// HTTP-level one, so callers distinguish it from an ordinary Start error
// (which maps to a 409) and instead open the SSE stream and emit it there.
type ModelExistsError struct {
	Name string
}

func (e *ModelExistsError) Error() string {
	return fmt.Sprintf("Model exists: %s", e.Name)
}

// FindExistingModel reports the first candidate directory name for repoID
// that already exists under modelsDir, or "" if none do (spec §4.5 step 2
// preflight dedup check).
func FindExistingModel(modelsDir, repoID string) string {
	for _, name := range candidateModelNames(repoID) {
		if _, err := os.Stat(filepath.Join(modelsDir, name)); err == nil {
			return name
		}
	}
	return ""
}

// Supervisor drives at most one concurrent download child (spec §4.5:
// "The supervisor exposes one event channel per active download (at most
// one concurrent)").
type Supervisor struct {
	spawner   Spawner
	modelsDir string
	cacheDir  string

	mu      sync.Mutex
	running bool
	proc    ProcessHandle
	writer  *frameWriter
	events  chan ProgressEvent
	status  Status
}

// NewSupervisor constructs a download Supervisor. modelsDir is the install
// destination root; cacheDir is scratch space for in-flight downloads
// (spec §7 directory layout).
func NewSupervisor(spawner Spawner, modelsDir, cacheDir string) *Supervisor {
	return &Supervisor{spawner: spawner, modelsDir: modelsDir, cacheDir: cacheDir}
}

// Start begins a download for repoID, returning a channel of
// ProgressEvents terminated by "done" (spec §4.5, §6.2 download frame
// kinds). It errors immediately if a download is already running or the
// target model already exists on disk.
func (s *Supervisor) Start(ctx context.Context, repoID string) (<-chan ProgressEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil, fmt.Errorf("download already running")
	}
	if existing := FindExistingModel(s.modelsDir, repoID); existing != "" {
		return nil, &ModelExistsError{Name: existing}
	}

	proc, err := s.spawner.Spawn()
	if err != nil {
		return nil, fmt.Errorf("spawn download process: %w", err)
	}
	s.proc = proc
	s.writer = newFrameWriter(proc.Stdin())
	s.running = true
	s.status = Status{Running: true, RepoID: repoID, StartedAt: time.Now(), UpdatedAt: time.Now()}

	events := make(chan ProgressEvent, 64)
	s.events = events

	if err := s.writer.Write(Command{Type: "start", RepoID: repoID, CacheDir: s.cacheDir, TargetDir: s.modelsDir}); err != nil {
		s.running = false
		close(events)
		return nil, fmt.Errorf("write start command: %w", err)
	}

	go s.readLoop(proc, events)
	return events, nil
}

func (s *Supervisor) readLoop(proc ProcessHandle, events chan ProgressEvent) {
	reader := newFrameReader(proc.Stdout())
	for {
		var evt WireEvent
		if err := reader.Read(&evt); err != nil {
			s.finish(events, "download process exited unexpectedly")
			return
		}

		s.mu.Lock()
		s.status.UpdatedAt = time.Now()
		switch evt.Type {
		case "progress":
			s.status.Percent = evt.Percent
			s.status.File = evt.File
		case "log":
			s.status.Message = evt.Message
		case "finished":
			s.status.Path = evt.Path
		case "error":
			s.status.Error = evt.Message
		case "cancelled":
			s.status.Message = "cancelled"
		}
		s.mu.Unlock()

		events <- ProgressEvent{Type: evt.Type, File: evt.File, Percent: evt.Percent, Message: evt.Message, Path: evt.Path}

		if evt.Type == "done" {
			s.mu.Lock()
			s.running = false
			s.status.Running = false
			s.mu.Unlock()
			close(events)
			return
		}
	}
}

// finish synthesizes an error+done pair when the child dies without
// sending its own terminal frames (spec §8 propagation policy: "a typed
// error event followed by the appropriate terminal event").
func (s *Supervisor) finish(events chan ProgressEvent, reason string) {
	s.mu.Lock()
	s.running = false
	s.status.Running = false
	s.status.Error = reason
	s.mu.Unlock()

	events <- ProgressEvent{Type: "error", Message: reason}
	events <- ProgressEvent{Type: "done"}
	close(events)
}

// Stop requests cancellation of the active download. The child observes
// the stop command, abandons its in-flight transfer, and emits its own
// "cancelled" then "done" frames (spec property P8: "no finished frame
// appears"); readLoop remains the sole writer of the events channel, so
// Stop never races it by injecting a synthetic event of its own. If the
// child is still running 5s later the process is killed as a backstop.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	proc := s.proc
	writer := s.writer
	s.status.Message = "cancelling"
	s.mu.Unlock()

	if writer != nil {
		if err := writer.Write(Command{Type: "stop"}); err != nil && proc != nil {
			proc.Terminate()
		}
	} else if proc != nil {
		proc.Terminate()
	}
	if proc != nil {
		time.AfterFunc(5*time.Second, func() {
			s.mu.Lock()
			stillRunning := s.running && s.proc == proc
			s.mu.Unlock()
			if stillRunning {
				proc.Terminate()
			}
		})
	}
	return nil
}

// GetStatus returns the current download status (spec §6.1 GET
// /api/status's "download" field).
func (s *Supervisor) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}
