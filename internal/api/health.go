package api

import (
	"encoding/json"
	"net/http"
	"os"
	"strings"

	"github.com/FangAiden/Idle-NPU-Waker/internal/telemetry"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// appConfigResponse is the static app config surfaced by GET /api/config
// (spec §6.1: "version, default gen params, config group schema, preset
// model list, available devices, models dir, file-size cap").
type appConfigResponse struct {
	Version            string    `json:"version"`
	Generation         any       `json:"generation"`
	ConfigGroupSchema  any       `json:"config_group_schema,omitempty"`
	Presets            any       `json:"presets"`
	Devices            []string  `json:"devices"`
	ModelsDir          string    `json:"models_dir"`
	TextAttachmentCap  int64     `json:"text_attachment_cap_bytes"`
	ImageAttachmentCap int64     `json:"image_attachment_cap_bytes"`
}

const appVersion = "0.1.0"

func (s *Server) handleConfig(w http.ResponseWriter, r *http.Request) {
	resp := appConfigResponse{
		Version:            appVersion,
		Generation:         s.Config.Generation,
		ConfigGroupSchema:  s.Schema,
		Presets:            s.Config.Presets,
		Devices:            s.Config.Devices,
		ModelsDir:          s.Paths.ModelsDir,
		TextAttachmentCap:  512 * 1024,
		ImageAttachmentCap: 5 * 1024 * 1024,
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleI18nList(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"languages": s.I18n.Languages(),
		"default":   s.I18n.Default(),
	})
}

func (s *Server) handleI18nDict(w http.ResponseWriter, r *http.Request) {
	lang := strings.TrimPrefix(r.URL.Path, "/api/i18n/")
	if lang == "" {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "missing language code")
		return
	}
	dict, ok := s.I18n.Dictionary(lang)
	if !ok {
		writeError(w, http.StatusNotFound, KindNotFound, "unknown language: "+lang)
		return
	}
	writeJSON(w, http.StatusOK, dict)
}

// langFile mirrors the on-disk {"lang":"en_US"} document (spec §6.3).
type langFile struct {
	Lang string `json:"lang"`
}

func (s *Server) handleLang(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.langMu.Lock()
		defer s.langMu.Unlock()
		lang := s.readLangLocked()
		writeJSON(w, http.StatusOK, langFile{Lang: lang})

	case http.MethodPost:
		var body langFile
		if err := decodeJSON(r, &body); err != nil || body.Lang == "" {
			writeError(w, http.StatusBadRequest, KindInvalidRequest, "missing lang")
			return
		}
		s.langMu.Lock()
		defer s.langMu.Unlock()
		if err := s.writeLangLocked(body.Lang); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, body)

	default:
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
	}
}

// readLangLocked reads lang.json, silently defaulting on a missing or
// malformed file (spec §6.3 "a missing or malformed paths.json is
// silently ignored" -- the same tolerance applies to lang.json).
func (s *Server) readLangLocked() string {
	data, err := os.ReadFile(s.Paths.LangFile)
	if err != nil {
		return s.I18n.Default()
	}
	var lf langFile
	if err := json.Unmarshal(data, &lf); err != nil || lf.Lang == "" {
		return s.I18n.Default()
	}
	return lf.Lang
}

func (s *Server) writeLangLocked(lang string) error {
	data, err := json.Marshal(langFile{Lang: lang})
	if err != nil {
		return err
	}
	return os.WriteFile(s.Paths.LangFile, data, 0o644)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	hostMem, err := telemetry.GetHostMemory()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	modelStatus := s.Model.GetStatus()
	appMem := telemetry.GetProcessMemory(int32(os.Getpid()))

	resp := map[string]any{
		"memory": map[string]any{
			"total":     hostMem.Total,
			"available": hostMem.Available,
			"used":      hostMem.Used,
			"percent":   hostMem.Percent,
		},
		"app": map[string]any{
			"rss":     appMem.RSS,
			"private": appMem.Private,
		},
		"download":      s.Download.GetStatus(),
		"model":         modelStatus,
		"npu_available": telemetry.NPUAvailable(),
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleAppExit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
	if s.onExit != nil {
		go s.onExit()
	}
}
