package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/FangAiden/Idle-NPU-Waker/internal/modelscan"
	"github.com/FangAiden/Idle-NPU-Waker/internal/settingsres"
	"github.com/FangAiden/Idle-NPU-Waker/internal/telemetry"
	"github.com/FangAiden/Idle-NPU-Waker/internal/worker"
)

func (s *Server) handleModelsLocal(w http.ResponseWriter, r *http.Request) {
	descriptors := modelscan.Scan([]string{s.Paths.ModelsDir}, 0)
	writeJSON(w, http.StatusOK, map[string]any{"models": descriptors})
}

func (s *Server) handleModelsConfig(w http.ResponseWriter, r *http.Request) {
	path := r.URL.Query().Get("path")
	if path == "" {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "missing path")
		return
	}

	merged := settingsres.LoadModelJSONConfigs(path)
	kind := modelscan.DetectKind(path)

	allKeys := make([]string, 0, len(merged))
	for k := range merged {
		allKeys = append(allKeys, k)
	}

	supported := settingsres.Resolve(filepath.Base(path), path, kind, allKeys, s.Schema, nil)

	writeJSON(w, http.StatusOK, map[string]any{
		"config":         merged,
		"supported_keys": supported,
	})
}

type modelsLoadRequest struct {
	Source       string `json:"source"`
	ModelID      string `json:"model_id"`
	Path         string `json:"path"`
	Device       string `json:"device"`
	MaxPromptLen int    `json:"max_prompt_len"`
}

func (s *Server) handleModelsLoad(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
		return
	}

	var req modelsLoadRequest
	if err := decodeJSON(r, &req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "missing path")
		return
	}

	status, err := s.Model.Load(r.Context(), worker.Command{
		Source:       req.Source,
		ModelID:      req.ModelID,
		Path:         req.Path,
		Device:       req.Device,
		MaxPromptLen: req.MaxPromptLen,
	})
	if err != nil {
		writeError(w, http.StatusBadRequest, "load_failed", err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"path": status.Path, "device": status.Device})
}

type modelsDeleteRequest struct {
	Path string `json:"path"`
}

// handleModelsDelete removes a model directory, refusing paths that
// escape the models root and paths belonging to the currently loaded
// model (spec §6.1: "400 if path escapes models root; 409 if the model is
// currently loaded and cannot be unloaded").
func (s *Server) handleModelsDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
		return
	}

	var req modelsDeleteRequest
	if err := decodeJSON(r, &req); err != nil || req.Path == "" {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "missing path")
		return
	}

	if !withinRoot(s.Paths.ModelsDir, req.Path) {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "path escapes models root")
		return
	}

	status := s.Model.GetStatus()
	if status.Loaded && samePath(status.Path, req.Path) {
		writeError(w, http.StatusConflict, KindConflict, "model is currently loaded")
		return
	}

	if err := os.RemoveAll(req.Path); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleModelsStatus(w http.ResponseWriter, r *http.Request) {
	status := s.Model.GetStatus()
	mem := telemetry.GetProcessMemory(int32(status.PID))

	writeJSON(w, http.StatusOK, map[string]any{
		"loaded":          status.Loaded,
		"path":            status.Path,
		"device":          status.Device,
		"kind":            status.Kind,
		"pid":             status.PID,
		"memory":          map[string]any{"rss": mem.RSS, "private": mem.Private},
		"loading":         status.Loading,
		"load_stage":      status.LoadStage,
		"load_message":    status.LoadMessage,
		"load_started_at": status.LoadStartedAt,
	})
}

// withinRoot reports whether target, once made absolute, is root or a
// descendant of root.
func withinRoot(root, target string) bool {
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return false
	}
	absTarget, err := filepath.Abs(target)
	if err != nil {
		return false
	}
	rel, err := filepath.Rel(absRoot, absTarget)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return a == b
	}
	return absA == absB
}
