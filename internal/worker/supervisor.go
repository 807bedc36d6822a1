package worker

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
	"time"
)

// ProcessHandle abstracts the spawned worker process so Supervisor can be
// exercised without actually forking an OS process (grounded on
// llm_service.py's LLMService, which drives a multiprocessing.Process the
// same way through queues -- this interface is the Go rendition of that
// seam).
type ProcessHandle interface {
	Stdin() io.WriteCloser
	Stdout() io.Reader
	Alive() bool
	Terminate()
	Pid() int
}

// Spawner creates a new worker process on demand. Production code uses
// ExecSpawner (cmd/workerproc via os/exec); tests use an in-process fake
// built on io.Pipe wired directly to RunLoop, so Supervisor's
// load/generate/crash/timeout logic is exercised without ever building a
// real binary.
type Spawner interface {
	Spawn() (ProcessHandle, error)
}

// Status mirrors llm_service.py's get_status() return shape (spec §6.1
// GET /status).
type Status struct {
	Loaded        bool
	Path          string
	Device        string
	Kind          string
	PID           int
	Loading       bool
	LoadStage     string
	LoadMessage   string
	LoadStartedAt time.Time
}

// GenEvent is one item the supervisor forwards to the API layer while a
// generation is in flight (spec §4.4 step 7, the SSE-facing side of the
// worker protocol).
type GenEvent struct {
	Type        string // "token" | "image" | "done" | "error"
	Token       string
	Attachments []EventAttachment
	Stats       *Stats
	Msg         string
}

type loadOutcome struct {
	ok     bool
	device string
	kind   string
	errMsg string
}

// Supervisor owns the single worker process and enforces the same
// mutual-exclusion rules as llm_service.py: at most one load or one
// generation in flight at a time, never both.
type Supervisor struct {
	spawner Spawner

	mu      sync.Mutex
	proc    ProcessHandle
	writer  *frameWriter
	reading bool

	loading       bool
	loadStage     string
	loadMessage   string
	loadStartedAt time.Time
	loadResultCh  chan loadOutcome

	modelLoaded bool
	modelPath   string
	device      string
	kind        string
	source      string
	lastOptions Command

	activeGeneration bool
	genEvents        chan GenEvent
}

// NewSupervisor constructs a Supervisor that spawns worker processes via
// spawner on demand.
func NewSupervisor(spawner Spawner) *Supervisor {
	return &Supervisor{spawner: spawner}
}

func (s *Supervisor) startProcessLocked() error {
	if s.proc != nil && s.proc.Alive() {
		return nil
	}
	proc, err := s.spawner.Spawn()
	if err != nil {
		return fmt.Errorf("spawn worker process: %w", err)
	}
	s.proc = proc
	s.writer = newFrameWriter(proc.Stdin())
	if !s.reading {
		s.reading = true
		go s.monitorLoop(proc)
	}
	return nil
}

func (s *Supervisor) monitorLoop(proc ProcessHandle) {
	reader := newFrameReader(proc.Stdout())
	for {
		var evt Event
		if err := reader.Read(&evt); err != nil {
			s.handleProcessExit()
			return
		}
		s.dispatchEvent(evt)
	}
}

func (s *Supervisor) dispatchEvent(evt Event) {
	switch evt.Type {
	case "loaded":
		s.mu.Lock()
		s.device = evt.Device
		if evt.Kind != "" {
			s.kind = evt.Kind
		}
		s.loading = false
		s.loadStage = StageReady
		s.loadMessage = ""
		ch := s.loadResultCh
		s.mu.Unlock()
		if ch != nil {
			ch <- loadOutcome{ok: true, device: evt.Device, kind: evt.Kind}
		}

	case "load_stage":
		s.mu.Lock()
		s.loading = true
		s.loadStage = evt.Stage
		s.loadMessage = evt.Message
		s.mu.Unlock()

	case "token":
		s.forwardGen(GenEvent{Type: "token", Token: evt.Token})

	case "image":
		s.forwardGen(GenEvent{Type: "image", Attachments: evt.Attachments})

	case "finished":
		s.forwardGen(GenEvent{Type: "done", Stats: evt.Stats})
		s.mu.Lock()
		ch := s.genEvents
		s.genEvents = nil
		s.activeGeneration = false
		s.mu.Unlock()
		if ch != nil {
			close(ch)
		}

	case "error":
		s.mu.Lock()
		inGeneration := s.genEvents != nil
		ch := s.loadResultCh
		s.mu.Unlock()
		if inGeneration {
			s.forwardGen(GenEvent{Type: "error", Msg: evt.Msg})
		} else if ch != nil {
			ch <- loadOutcome{ok: false, errMsg: evt.Msg}
		} else {
			log.Printf("worker: load error before any load request: %s", evt.Msg)
		}
	}
}

// forwardGen delivers e to the active generation's event channel. token,
// image, error and done are never dropped (spec §4.6, §5; §8-P7 requires
// stats.tokens to equal the number of token frames the client actually
// received), so this blocks rather than shedding under backpressure --
// unlike sse.Dispatcher's ladder, GenEvent carries no droppable log/progress
// kind, so every send here is must-keep.
func (s *Supervisor) forwardGen(e GenEvent) {
	s.mu.Lock()
	ch := s.genEvents
	s.mu.Unlock()
	if ch == nil {
		return
	}
	ch <- e
}

// handleProcessExit synthesizes an error then a done event for an
// in-flight generation, and a failed outcome for an in-flight load, when
// the worker process dies unexpectedly, mirroring llm_service.py's
// "process exited during load"/dead-process handling.
func (s *Supervisor) handleProcessExit() {
	s.mu.Lock()
	s.reading = false
	loadCh := s.loadResultCh
	genCh := s.genEvents
	s.loading = false
	s.modelLoaded = false
	s.activeGeneration = false
	s.genEvents = nil
	s.mu.Unlock()

	if loadCh != nil {
		loadCh <- loadOutcome{ok: false, errMsg: "worker process exited unexpectedly"}
	}
	if genCh != nil {
		genCh <- GenEvent{Type: "error", Msg: "worker process exited unexpectedly"}
		genCh <- GenEvent{Type: "done", Stats: &Stats{}}
		close(genCh)
	}
}

// Load requests a model load, blocking until the worker reports success or
// failure or 300s elapse (spec §4.4 step 9, ported from llm_service.py's
// 300-second deadline poll). A request identical to the currently loaded
// model (same source/path/device, no cache_bust) is suppressed and returns
// immediately (spec §4.4 "the supervisor suppresses a load when...").
func (s *Supervisor) Load(ctx context.Context, cmd Command) (Status, error) {
	s.mu.Lock()
	if s.activeGeneration {
		s.mu.Unlock()
		return Status{}, fmt.Errorf("generation in progress")
	}
	if s.modelLoaded && !cmd.CacheBust && s.source == cmd.Source &&
		s.modelPath == cmd.Path && s.device == cmd.Device &&
		s.lastOptions.MaxPromptLen == cmd.MaxPromptLen &&
		s.lastOptions.ImageMaxSequenceLength == cmd.ImageMaxSequenceLength {
		status := s.statusLocked()
		s.mu.Unlock()
		return status, nil
	}

	if err := s.startProcessLocked(); err != nil {
		s.mu.Unlock()
		return Status{}, err
	}

	resultCh := make(chan loadOutcome, 1)
	s.loadResultCh = resultCh
	s.loading = true
	s.loadStage = StageStart
	s.loadMessage = ""
	s.loadStartedAt = time.Now()
	writer := s.writer
	s.mu.Unlock()

	cmd.Type = "load"
	if err := writer.Write(cmd); err != nil {
		return Status{}, fmt.Errorf("write load command: %w", err)
	}

	deadline := time.NewTimer(300 * time.Second)
	defer deadline.Stop()

	select {
	case outcome := <-resultCh:
		s.mu.Lock()
		defer s.mu.Unlock()
		s.loadResultCh = nil
		if !outcome.ok {
			s.loading = false
			s.loadStage = StageError
			s.loadMessage = outcome.errMsg
			return Status{}, fmt.Errorf("%s", outcome.errMsg)
		}
		s.modelLoaded = true
		s.modelPath = cmd.Path
		s.device = outcome.device
		s.kind = outcome.kind
		s.source = cmd.Source
		s.lastOptions = cmd
		return s.statusLocked(), nil

	case <-deadline.C:
		s.mu.Lock()
		s.loadResultCh = nil
		s.loading = false
		s.loadStage = StageError
		s.loadMessage = "model load timed out"
		proc := s.proc
		s.mu.Unlock()
		if proc != nil {
			proc.Terminate()
		}
		return Status{}, fmt.Errorf("model load timed out")

	case <-ctx.Done():
		return Status{}, ctx.Err()
	}
}

// Generate starts a generation and returns a channel of GenEvents,
// terminated by a "done" event (preceded by an "error" event on failure)
// followed by channel close (spec
// §4.4 step 7, §6.1 chat stream endpoint).
func (s *Supervisor) Generate(cmd Command) (<-chan GenEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.modelLoaded {
		return nil, fmt.Errorf("model not loaded")
	}
	if s.activeGeneration {
		return nil, fmt.Errorf("generation already running")
	}
	if err := s.startProcessLocked(); err != nil {
		return nil, err
	}

	s.activeGeneration = true
	ch := make(chan GenEvent, 32)
	s.genEvents = ch

	cmd.Type = "generate"
	if err := s.writer.Write(cmd); err != nil {
		s.activeGeneration = false
		s.genEvents = nil
		close(ch)
		return nil, fmt.Errorf("write generate command: %w", err)
	}
	return ch, nil
}

// Stop sends a cooperative cancellation to the worker (spec §9,
// stop_flag). It is a no-op if no process has ever been spawned.
func (s *Supervisor) Stop() error {
	s.mu.Lock()
	writer := s.writer
	s.mu.Unlock()
	if writer == nil {
		return nil
	}
	return writer.Write(Command{Type: "stop"})
}

// GetStatus returns the current supervisor/worker status (spec §6.1
// GET /status).
func (s *Supervisor) GetStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statusLocked()
}

func (s *Supervisor) statusLocked() Status {
	pid := 0
	alive := s.proc != nil && s.proc.Alive()
	if alive {
		pid = s.proc.Pid()
	}
	return Status{
		Loaded:        s.modelLoaded && alive,
		Path:          s.modelPath,
		Device:        orDefault(s.device, "AUTO"),
		Kind:          orDefault(s.kind, "llm"),
		PID:           pid,
		Loading:       s.loading,
		LoadStage:     s.loadStage,
		LoadMessage:   s.loadMessage,
		LoadStartedAt: s.loadStartedAt,
	}
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Shutdown terminates the worker process, if any (spec §9 process
// lifecycle, mirrored from llm_service.py's shutdown()).
func (s *Supervisor) Shutdown() {
	s.mu.Lock()
	proc := s.proc
	writer := s.writer
	s.activeGeneration = false
	s.genEvents = nil
	s.mu.Unlock()

	if writer != nil {
		_ = writer.Write(Command{Type: "shutdown"})
	}
	if proc != nil {
		proc.Terminate()
	}
}
