package ingress

import (
	"encoding/json"
	"net/http"

	"github.com/choptalini/chatbot/internal/store"
)

type actionFeedbackRequest struct {
	ActionID     store.ActionID `json:"action_id"`
	Status       string         `json:"status"` // "approved" | "denied"
	UserResponse string         `json:"user_response"`
	TenantID     store.TenantID `json:"tenant_id"`
}

type actionFeedbackResponse struct {
	Status string `json:"status"`
}

// handleActionFeedback resolves an Action raised by submit_action, composes
// a reply from a response template, sends it, and updates the action
// indicator message. Idempotent by (action_id, status): an already-resolved
// Action is a no-op (spec.md §7).
func (s *Server) handleActionFeedback(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.abuseLimiter.Allow(clientIP(r)) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	r.Body = http.MaxBytesReader(nil, r.Body, 64*1024)

	var req actionFeedbackRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, actionFeedbackResponse{Status: "error"})
		return
	}

	newStatus := toActionStatus(req.Status)
	if newStatus == "" {
		writeJSON(w, http.StatusBadRequest, actionFeedbackResponse{Status: "error"})
		return
	}

	ctx := r.Context()
	action, err := s.store.Action(ctx, req.TenantID, req.ActionID)
	if err != nil {
		writeJSON(w, http.StatusOK, actionFeedbackResponse{Status: "error"})
		return
	}
	if action.Status != store.ActionPending {
		// Already resolved by a prior delivery of this same feedback.
		writeJSON(w, http.StatusOK, actionFeedbackResponse{Status: "ok"})
		return
	}

	if err := s.store.ResolveAction(ctx, req.TenantID, req.ActionID, newStatus, req.UserResponse, nil); err != nil {
		writeJSON(w, http.StatusOK, actionFeedbackResponse{Status: "error"})
		return
	}

	contact, err := s.store.Contact(ctx, req.TenantID, action.ContactID)
	if err == nil {
		if chatbot, cerr := s.store.ChatbotByID(ctx, req.TenantID, action.ChatbotID); cerr == nil {
			text := s.respond(action.RequestType, newStatus, req.UserResponse)
			if _, sendErr := s.transport.SendText(ctx, chatbot.SenderMSISDN, contact.PhoneNumber, text); sendErr == nil {
				s.store.InsertOutgoingMessage(ctx, &store.Message{
					TenantID:    req.TenantID,
					ChatbotID:   action.ChatbotID,
					ContactID:   action.ContactID,
					Direction:   store.DirectionOutgoing,
					MessageType: store.MessageTypeText,
					ContentText: text,
					Status:      store.StatusSent,
				})
			}
		}
	}

	s.store.UpdateActionIndicatorMessage(ctx, req.TenantID, req.ActionID, newStatus)

	writeJSON(w, http.StatusOK, actionFeedbackResponse{Status: "ok"})
}

func toActionStatus(raw string) store.ActionStatus {
	switch raw {
	case "approved":
		return store.ActionApproved
	case "denied":
		return store.ActionDenied
	default:
		return ""
	}
}

// DefaultResponder is a minimal response-template implementation, grounded
// on the teacher's plain-string template composition (no templating engine
// pulled in for a handful of fixed phrasings).
func DefaultResponder(requestType string, status store.ActionStatus, operatorResponse string) string {
	if operatorResponse != "" {
		return operatorResponse
	}
	switch status {
	case store.ActionApproved:
		return "Your request has been approved."
	case store.ActionDenied:
		return "Your request could not be approved at this time."
	default:
		return "Your request has been updated."
	}
}
