package api

import (
	"errors"
	"net/http"

	"github.com/FangAiden/Idle-NPU-Waker/internal/download"
	"github.com/FangAiden/Idle-NPU-Waker/internal/sse"
)

type downloadStreamRequest struct {
	RepoID string `json:"repo_id"`
}

// handleDownloadStream implements POST /api/download/stream: streams
// progress|log|error|finished|done frames for one model download (spec
// §6.1, §6.2, §4.5). Unlike chat, a client disconnect does not cancel the
// download (spec §4.6: "download -> ignore") -- only POST
// /api/download/stop does.
func (s *Server) handleDownloadStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
		return
	}

	var req downloadStreamRequest
	if err := decodeJSON(r, &req); err != nil || req.RepoID == "" {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "missing repo_id")
		return
	}

	events, err := s.Download.Start(r.Context(), req.RepoID)
	var existsErr *download.ModelExistsError
	if errors.As(err, &existsErr) {
		// Spec §4.5 step 2 / §7: "Model exists" is a stream-level error, not
		// an HTTP status -- open the stream and terminate it immediately.
		dispatcher := sse.NewDispatcher(8)
		dispatcher.Send(sse.Frame{Type: "error", Data: map[string]any{"message": existsErr.Error()}})
		dispatcher.Send(sse.Frame{Type: "done", Data: map[string]any{}})
		dispatcher.Close()
		_ = sse.WriteStream(r.Context(), w, dispatcher, nil)
		return
	}
	if err != nil {
		writeError(w, http.StatusConflict, KindConflict, err.Error())
		return
	}

	dispatcher := sse.NewDispatcher(256)
	go pumpDownload(events, dispatcher)

	_ = sse.WriteStream(r.Context(), w, dispatcher, nil)
}

func pumpDownload(events <-chan download.ProgressEvent, dispatcher *sse.Dispatcher) {
	for evt := range events {
		data := map[string]any{}
		if evt.File != "" {
			data["file"] = evt.File
		}
		if evt.Type == "progress" {
			data["percent"] = evt.Percent
		}
		if evt.Message != "" {
			data["message"] = evt.Message
		}
		if evt.Path != "" {
			data["path"] = evt.Path
		}
		dispatcher.Send(sse.Frame{Type: evt.Type, Data: data})
	}
	dispatcher.Close()
}

func (s *Server) handleDownloadStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
		return
	}
	if err := s.Download.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
