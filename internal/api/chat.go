package api

import (
	"net/http"
	"strings"

	"github.com/FangAiden/Idle-NPU-Waker/internal/session"
	"github.com/FangAiden/Idle-NPU-Waker/internal/sse"
	"github.com/FangAiden/Idle-NPU-Waker/internal/worker"
)

type attachmentPayload struct {
	Name    string `json:"name"`
	Kind    string `json:"kind"`
	Mime    string `json:"mime,omitempty"`
	Content string `json:"content"`
}

type chatStreamRequest struct {
	SessionID   string              `json:"session_id"`
	Text        string              `json:"text"`
	Config      map[string]any      `json:"config"`
	Attachments []attachmentPayload `json:"attachments"`
}

// handleChatStream implements POST /api/chat/stream: persists the user
// turn, starts a generation over the full history, and streams
// token|error|done frames (spec §6.1, §6.2).
func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
		return
	}

	var req chatStreamRequest
	if err := decodeJSON(r, &req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "missing session_id")
		return
	}
	if _, ok, err := s.Sessions.GetSession(req.SessionID); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	} else if !ok {
		writeError(w, http.StatusNotFound, KindNotFound, "unknown session: "+req.SessionID)
		return
	}

	attachments := toSessionAttachments(req.Attachments)
	if _, err := s.Sessions.AddMessage(req.SessionID, session.RoleUser, req.Text, nil, attachments); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	history, err := s.Sessions.GetHistory(req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}

	s.runGeneration(w, r, req.SessionID, history, req.Config)
}

type chatRegenerateRequest struct {
	SessionID string         `json:"session_id"`
	Config    map[string]any `json:"config"`
}

// handleChatRegenerate implements POST /api/chat/regenerate: re-runs
// generation over the existing history, which must already end on a user
// turn (spec §6.1: "requires last message to be user").
func (s *Server) handleChatRegenerate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
		return
	}

	var req chatRegenerateRequest
	if err := decodeJSON(r, &req); err != nil || req.SessionID == "" {
		writeError(w, http.StatusBadRequest, KindInvalidRequest, "missing session_id")
		return
	}

	history, err := s.Sessions.GetHistory(req.SessionID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	if len(history) == 0 || history[len(history)-1].Role != session.RoleUser {
		writeError(w, http.StatusConflict, KindConflict, "last message must be from the user")
		return
	}

	s.runGeneration(w, r, req.SessionID, history, req.Config)
}

// runGeneration drives one worker.Supervisor.Generate call, fanning its
// GenEvents into an sse.Dispatcher and persisting the resulting assistant
// message once the generation completes (spec §4.4 step 7, §4.3).
func (s *Server) runGeneration(w http.ResponseWriter, r *http.Request, sessionID string, history []session.Message, config map[string]any) {
	genCh, err := s.Model.Generate(worker.Command{
		Messages: toWorkerMessages(history),
		Config:   config,
	})
	if err != nil {
		writeError(w, http.StatusConflict, KindConflict, err.Error())
		return
	}

	dispatcher := sse.NewDispatcher(256)
	go s.pumpGeneration(sessionID, genCh, dispatcher)

	_ = sse.WriteStream(r.Context(), w, dispatcher, func() { _ = s.Model.Stop() })
}

func (s *Server) pumpGeneration(sessionID string, genCh <-chan worker.GenEvent, dispatcher *sse.Dispatcher) {
	var content strings.Builder
	var attachments []session.Attachment
	var lastErr string

	for evt := range genCh {
		switch evt.Type {
		case "token":
			content.WriteString(evt.Token)
			dispatcher.Send(sse.Frame{Type: "token", Data: map[string]any{"token": evt.Token}})

		case "image":
			attachments = append(attachments, toSessionAttachmentsFromEvent(evt.Attachments)...)
			dispatcher.Send(sse.Frame{Type: "image", Data: map[string]any{"attachments": evt.Attachments}})

		case "error":
			lastErr = evt.Msg
			dispatcher.Send(sse.Frame{Type: "error", Data: map[string]any{"message": evt.Msg}})

		case "done":
			meta := map[string]any{}
			if evt.Stats != nil {
				meta["stats"] = evt.Stats
			}
			if lastErr != "" {
				meta["error"] = lastErr
			}
			if _, err := s.Sessions.AddMessage(sessionID, session.RoleAssistant, content.String(), meta, attachments); err != nil {
				dispatcher.Send(sse.Frame{Type: "error", Data: map[string]any{"message": err.Error()}})
			}
			dispatcher.Send(sse.Frame{Type: "done", Data: map[string]any{"stats": evt.Stats}})
		}
	}
	dispatcher.Close()
}

func (s *Server) handleChatStop(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, KindInvalidRequest, "method not allowed")
		return
	}
	if err := s.Model.Stop(); err != nil {
		writeError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func toSessionAttachments(in []attachmentPayload) []session.Attachment {
	out := make([]session.Attachment, len(in))
	for i, a := range in {
		out[i] = session.Attachment{Name: a.Name, Kind: a.Kind, Mime: a.Mime, Content: a.Content}
	}
	return out
}

func toSessionAttachmentsFromEvent(in []worker.EventAttachment) []session.Attachment {
	out := make([]session.Attachment, len(in))
	for i, a := range in {
		out[i] = session.Attachment{Name: a.Name, Kind: a.Kind, Mime: a.Mime, Content: a.Content}
	}
	return out
}

func toWorkerMessages(history []session.Message) []worker.ChatMessage {
	out := make([]worker.ChatMessage, len(history))
	for i, m := range history {
		atts := make([]worker.EventAttachment, len(m.Attachments))
		for j, a := range m.Attachments {
			atts[j] = worker.EventAttachment{Name: a.Name, Kind: a.Kind, Mime: a.Mime, Content: a.Content}
		}
		out[i] = worker.ChatMessage{Role: m.Role, Content: m.Content, Attachments: atts}
	}
	return out
}
