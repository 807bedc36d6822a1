// Package api implements the control-plane HTTP surface (spec §4.7, §6.1),
// composing the config, modelscan, settingsres, session, worker, download,
// sse and telemetry packages behind a single stdlib net/http.ServeMux.
// Routing style (a Server struct holding its collaborators, a
// SetupRoutes(mux) method registering handlers with mux.HandleFunc, and
// dev-mode-vs-embedded-frontend branching) is grounded on the teacher's
// internal/ws/server.go.
package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/FangAiden/Idle-NPU-Waker/internal/config"
	"github.com/FangAiden/Idle-NPU-Waker/internal/download"
	"github.com/FangAiden/Idle-NPU-Waker/internal/i18n"
	"github.com/FangAiden/Idle-NPU-Waker/internal/session"
	"github.com/FangAiden/Idle-NPU-Waker/internal/settingsres"
	"github.com/FangAiden/Idle-NPU-Waker/internal/sse"
	"github.com/FangAiden/Idle-NPU-Waker/internal/worker"
)

// Server holds every collaborator the endpoint table in spec §6.1
// composes. All fields are wired once at startup and never reassigned
// (spec §9: path overrides and process-wide state are immutable after
// resolution). The language preference lives in lang.json rather than in a
// field; langMu serializes its reads and writes since GET/POST /api/lang
// can race arbitrary other requests.
type Server struct {
	Config   *config.Config
	Paths    *config.Paths
	Sessions *session.Store
	Model    *worker.Supervisor
	Download *download.Supervisor
	I18n     *i18n.Manager
	Schema   *settingsres.Schema

	// FrontendHandler serves "/", "/static/*" and "/tray*" (spec §6.1's
	// last row); nil is a valid value (no UI assets wired in this build).
	FrontendHandler http.Handler

	StartedAt time.Time

	onExit func()

	langMu sync.Mutex
}

// NewServer constructs a Server. schema may be nil (settingsres.Resolve
// treats a nil schema as "support everything").
func NewServer(cfg *config.Config, paths *config.Paths, sessions *session.Store, model *worker.Supervisor, dl *download.Supervisor, translations *i18n.Manager, schema *settingsres.Schema, frontend http.Handler, onExit func()) *Server {
	return &Server{
		Config:           cfg,
		Paths:            paths,
		Sessions:         sessions,
		Model:            model,
		Download:         dl,
		I18n:             translations,
		Schema:           schema,
		FrontendHandler:  frontend,
		StartedAt:        time.Now(),
		onExit:           onExit,
	}
}

// SetupRoutes registers every endpoint in spec §6.1 on mux.
func (s *Server) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/health", s.handleHealth)
	mux.HandleFunc("/api/config", s.handleConfig)

	mux.HandleFunc("/api/i18n", s.handleI18nList)
	mux.HandleFunc("/api/i18n/", s.handleI18nDict)
	mux.HandleFunc("/api/lang", s.handleLang)

	mux.HandleFunc("/api/models/local", s.handleModelsLocal)
	mux.HandleFunc("/api/models/config", s.handleModelsConfig)
	mux.HandleFunc("/api/models/load", s.handleModelsLoad)
	mux.HandleFunc("/api/models/delete", s.handleModelsDelete)
	mux.HandleFunc("/api/models/status", s.handleModelsStatus)

	mux.HandleFunc("/api/sessions", s.handleSessionsCollection)
	mux.HandleFunc("/api/sessions/", s.handleSessionsItemRoutes)

	mux.HandleFunc("/api/chat/stream", s.handleChatStream)
	mux.HandleFunc("/api/chat/regenerate", s.handleChatRegenerate)
	mux.HandleFunc("/api/chat/stop", s.handleChatStop)

	mux.HandleFunc("/api/download/stream", s.handleDownloadStream)
	mux.HandleFunc("/api/download/stop", s.handleDownloadStop)

	mux.HandleFunc("/api/status", s.handleStatus)
	mux.HandleFunc("/api/app/exit", s.handleAppExit)

	if s.FrontendHandler != nil {
		mux.Handle("/", s.FrontendHandler)
		mux.Handle("/static/", s.FrontendHandler)
		mux.Handle("/tray", s.FrontendHandler)
		mux.Handle("/tray/", s.FrontendHandler)
	}
}
