package server

import (
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"dmdesk/internal/domain"
)

type connectRequest struct {
	Username      string `json:"username" validate:"required"`
	Password      string `json:"password" validate:"required"`
	Code          string `json:"code,omitempty"`
	TwoFactorCode string `json:"twoFactorCode,omitempty"`
}

type sendRequest struct {
	FinalText string `json:"finalText"`
}

type conversationSendRequest struct {
	ConversationID string `json:"conversation_id"`
	ChatID         string `json:"chat_id"`
	FinalText      string `json:"finalText"`
}

type testMessageRequest struct {
	Text   string `json:"text"`
	Sender string `json:"sender"`
}

type generateRequest struct {
	Text     string `json:"text" validate:"required"`
	Platform string `json:"platform"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleConnect(w http.ResponseWriter, r *http.Request) {
	var req connectRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}
	code := req.Code
	if code == "" {
		code = req.TwoFactorCode
	}

	s.logger.Info("authentication attempt", "username", req.Username, "with_code", code != "")
	res, err := s.svc.Connect(r.Context(), req.Username, req.Password, code)
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	if res.Checkpoint {
		writeJSON(w, http.StatusAccepted, map[string]any{"checkpoint": true, "account_id": res.AccountID})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "account_id": res.AccountID})
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if err := s.svc.Logout(r.Context()); err != nil {
		if errors.Is(err, domain.ErrNotConnected) {
			writeError(w, http.StatusBadRequest, "No active session")
			return
		}
		s.fail(w, r, err, "")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Logged out successfully"})
}

func (s *Server) handleSessionStatus(w http.ResponseWriter, r *http.Request) {
	accountID, connected := s.svc.SessionStatus()
	var id any
	if connected {
		id = accountID
	}
	writeJSON(w, http.StatusOK, map[string]any{"connected": connected, "account_id": id})
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Messages())
}

func (s *Server) handleTestMessage(w http.ResponseWriter, r *http.Request) {
	var req testMessageRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}
	msg := s.svc.CreateTestMessage(r.Context(), req.Text, req.Sender)
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": msg})
}

func (s *Server) handleRegenerate(w http.ResponseWriter, r *http.Request) {
	msg, err := s.svc.Regenerate(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err, "Not found")
		return
	}
	writeJSON(w, http.StatusOK, msg)
}

func (s *Server) handleSend(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}
	if err := s.svc.SendInboxReply(r.Context(), chi.URLParam(r, "id"), req.FinalText); err != nil {
		s.fail(w, r, err, "Message not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleConversations(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.svc.Conversations())
}

func (s *Server) handleConversation(w http.ResponseWriter, r *http.Request) {
	conv, err := s.svc.Conversation(chi.URLParam(r, "id"))
	if err != nil {
		s.fail(w, r, err, "Conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, conv)
}

func (s *Server) handleConversationSend(w http.ResponseWriter, r *http.Request) {
	var req conversationSendRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}
	if err := s.svc.SendConversationReply(r.Context(), req.ConversationID, req.ChatID, req.FinalText); err != nil {
		s.fail(w, r, err, "Conversation not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := s.decode(r, &req); err != nil {
		s.fail(w, r, err, "")
		return
	}
	draft, err := s.svc.GenerateResponse(r.Context(), req.Text, req.Platform)
	if err != nil {
		s.logger.Error("generate response failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to generate response")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"response": draft})
}

func (s *Server) handleFetch(w http.ResponseWriter, r *http.Request) {
	raw, err := s.svc.FetchMessages(r.Context())
	if err != nil {
		s.fail(w, r, err, "")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(raw)
}
