package api

import (
	"net/http"
	"strings"

	"github.com/FangAiden/Idle-NPU-Waker/internal/session"
)

type createSessionRequest struct {
	Title     string `json:"title"`
	Temporary bool   `json:"is_temporary"`
}

// handleSessionsCollection implements GET (list) and POST (create) on
// /api/sessions (spec §6.1, §4.3).
func (s *Server) handleSessionsCollection(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		sessions, err := s.Sessions.ListSessions()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"sessions": sessions})

	case http.MethodPost:
		var req createSessionRequest
		_ = decodeJSON(r, &req)
		if req.Title == "" {
			req.Title = "New Chat"
		}
		id, err := s.Sessions.CreateSession(req.Title, req.Temporary)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id})

	default:
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
	}
}

// handleSessionsItemRoutes dispatches every path under /api/sessions/{id}
// (spec §6.1's "/api/sessions[...]" row): the bare session (GET/PUT/DELETE),
// its message list, and the edit/retry sub-actions.
func (s *Server) handleSessionsItemRoutes(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/sessions/")
	parts := strings.SplitN(rest, "/", 3)
	id := parts[0]
	if id == "" {
		writeError(w, http.StatusNotFound, KindNotFound, "missing session id")
		return
	}
	if id == "current" && len(parts) == 1 {
		s.handleCurrentSession(w, r)
		return
	}

	if len(parts) == 1 {
		s.handleSessionItem(w, r, id)
		return
	}
	if len(parts) == 2 && parts[1] == "messages" {
		s.handleSessionMessages(w, r, id)
		return
	}
	if len(parts) == 2 && parts[1] == "size" {
		s.handleSessionSize(w, r, id)
		return
	}
	if len(parts) == 3 && parts[1] == "messages" && parts[2] == "edit" {
		s.handleMessageEdit(w, r, id)
		return
	}
	if len(parts) == 3 && parts[1] == "messages" && parts[2] == "retry" {
		s.handleMessageRetry(w, r, id)
		return
	}
	writeError(w, http.StatusNotFound, KindNotFound, "unknown session route")
}

func (s *Server) handleSessionItem(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		sess, ok, err := s.Sessions.GetSession(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		if !ok {
			writeError(w, http.StatusNotFound, KindNotFound, "unknown session: "+id)
			return
		}
		writeJSON(w, http.StatusOK, sess)

	case http.MethodPut:
		var req struct {
			Title string `json:"title"`
		}
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, KindInvalidRequest, "invalid body")
			return
		}
		if err := s.Sessions.RenameSession(id, req.Title); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	case http.MethodDelete:
		if err := s.Sessions.DeleteSession(id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
	}
}

// handleSessionMessages implements GET (history) and DELETE (clear_session,
// spec: "equivalent to truncate 0") on /api/sessions/{id}/messages.
func (s *Server) handleSessionMessages(w http.ResponseWriter, r *http.Request, id string) {
	switch r.Method {
	case http.MethodGet:
		messages, err := s.Sessions.GetHistory(id)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string][]session.Message{"messages": messages})

	case http.MethodDelete:
		if err := s.Sessions.ClearSession(id); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
	}
}

// handleSessionSize reports the session's total message+attachment byte
// size, used by a client deciding whether to warn before another turn.
func (s *Server) handleSessionSize(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
		return
	}
	size, err := s.Sessions.SessionSize(id)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"size_bytes": size})
}

// handleCurrentSession implements GET/POST on /api/sessions/current, backing
// the single persisted current-session pointer (spec §4.3 invariant 4).
func (s *Server) handleCurrentSession(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		id, err := s.Sessions.CurrentSessionID()
		if err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"id": id})

	case http.MethodPost:
		var req struct {
			ID string `json:"id"`
		}
		if err := decodeJSON(r, &req); err != nil || req.ID == "" {
			writeError(w, http.StatusBadRequest, KindInvalidRequest, "missing id")
			return
		}
		if _, ok, err := s.Sessions.GetSession(req.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		} else if !ok {
			writeError(w, http.StatusNotFound, KindNotFound, "unknown session: "+req.ID)
			return
		}
		if err := s.Sessions.SetCurrentSessionID(req.ID); err != nil {
			writeError(w, http.StatusInternalServerError, "internal", err.Error())
			return
		}
		w.WriteHeader(http.StatusNoContent)

	default:
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
	}
}

type editMessageRequest struct {
	Index   int    `json:"index"`
	Content string `json:"content"`
}

// handleMessageEdit applies spec §4.3's edit semantics: the message at
// index is updated in place and everything after it is discarded.
func (s *Server) handleMessageEdit(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
		return
	}
	var req editMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "invalid body")
		return
	}
	if err := s.Sessions.EditMessage(id, req.Index, req.Content); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, err.Error())
		return
	}
	if req.Index == 0 {
		_ = s.Sessions.UpdateTitle(id, req.Content)
	}
	w.WriteHeader(http.StatusNoContent)
}

type retryMessageRequest struct {
	Index int `json:"index"`
}

// handleMessageRetry truncates history to drop the assistant message at
// index and everything after it (spec §6.1), so the client can re-issue
// /api/chat/regenerate against the now-trailing user turn.
func (s *Server) handleMessageRetry(w http.ResponseWriter, r *http.Request, id string) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
		return
	}
	var req retryMessageRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "invalid body")
		return
	}
	if err := s.Sessions.TruncateHistory(id, req.Index); err != nil {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
