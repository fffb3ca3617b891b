package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"dmdesk/internal/desk"
	"dmdesk/internal/domain"
)

// handleWebhook accepts gateway deliveries. Duplicates and the bot's own
// echoes are acknowledged with 200 so the gateway stops redelivering.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodySize))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Bad Request")
		return
	}
	defer r.Body.Close()

	if s.webhookSecret != "" {
		sig := r.Header.Get("X-Signature-256")
		if sig == "" {
			writeError(w, http.StatusUnauthorized, "Missing signature")
			return
		}
		if !verifyHMAC(body, s.webhookSecret, sig) {
			writeError(w, http.StatusForbidden, "Invalid signature")
			return
		}
	}

	var ev domain.InboundEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	s.logger.Info("webhook received",
		"event", ev.Event,
		"account_id", ev.AccountID,
		"sender", ev.SenderName(),
		"provider_message_id", ev.ProviderMessageID,
	)

	res, err := s.svc.Ingest(r.Context(), ev)
	if err != nil {
		s.fail(w, r, err, "")
		return
	}

	switch res.Status {
	case desk.StatusDuplicate:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "duplicate": true})
	case desk.StatusIgnoredSelf:
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "ignored": "bot_message"})
	default:
		writeJSON(w, http.StatusOK, map[string]any{"success": true})
	}
}

// verifyHMAC checks a "sha256=<hex>" signature of body.
func verifyHMAC(body []byte, secret, signature string) bool {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	expected := "sha256=" + hex.EncodeToString(mac.Sum(nil))
	return hmac.Equal([]byte(expected), []byte(signature))
}
