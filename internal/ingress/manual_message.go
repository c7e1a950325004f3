package ingress

import (
	"encoding/json"
	"net/http"

	"github.com/choptalini/chatbot/internal/store"
)

type manualMessageRequest struct {
	MessageID   store.MessageID `json:"message_id"`
	ContactID   store.ContactID `json:"contact_id"`
	ContentText string          `json:"content_text"`
	UserID      int64           `json:"user_id"`
	TenantID    store.TenantID  `json:"tenant_id"`
}

type manualMessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

// handleManualMessage sends an operator-authored message, already persisted
// with direction=manual by the dashboard, and updates its delivery status.
// Idempotent: a message already past pending is a no-op (spec.md §7).
func (s *Server) handleManualMessage(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.abuseLimiter.Allow(clientIP(r)) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	r.Body = http.MaxBytesReader(nil, r.Body, 64*1024)

	var req manualMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, manualMessageResponse{Status: "error", Message: "unparseable body"})
		return
	}

	ctx := r.Context()
	msg, err := s.store.MessageByID(ctx, req.TenantID, req.MessageID)
	if err != nil {
		writeJSON(w, http.StatusOK, manualMessageResponse{Status: "error", Message: "message not found"})
		return
	}
	if msg.Status != store.StatusPending {
		// Already sent or failed by a prior delivery of this same request.
		writeJSON(w, http.StatusOK, manualMessageResponse{Status: "success", Message: "already processed"})
		return
	}

	contact, err := s.store.Contact(ctx, req.TenantID, req.ContactID)
	if err != nil {
		writeJSON(w, http.StatusOK, manualMessageResponse{Status: "error", Message: "contact not found"})
		return
	}

	chatbot, err := s.store.ChatbotByID(ctx, req.TenantID, contact.ChatbotID)
	if err != nil {
		writeJSON(w, http.StatusOK, manualMessageResponse{Status: "error", Message: "chatbot not found"})
		return
	}

	_, sendErr := s.transport.SendText(ctx, chatbot.SenderMSISDN, contact.PhoneNumber, req.ContentText)
	if sendErr != nil {
		s.store.UpdateMessageStatus(ctx, req.TenantID, req.MessageID, store.StatusFailed, sendErr.Error())
		writeJSON(w, http.StatusOK, manualMessageResponse{Status: "error", Message: "send failed"})
		return
	}

	s.store.UpdateMessageStatus(ctx, req.TenantID, req.MessageID, store.StatusSent, "")
	writeJSON(w, http.StatusOK, manualMessageResponse{Status: "success", Message: "sent"})
}
