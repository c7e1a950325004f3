package ingress

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/choptalini/chatbot/internal/debounce"
	"github.com/choptalini/chatbot/internal/router"
	"github.com/choptalini/chatbot/internal/store"
)

// bspEnvelope is the BSP webhook body shape from spec.md §7:
// {"results": [{"messageId","from","to","message":{"type",...},"contact":{"name"},"receivedAt"}]}.
type bspEnvelope struct {
	Results []bspResult `json:"results"`
}

type bspResult struct {
	MessageID  string     `json:"messageId"`
	From       string     `json:"from"`
	To         string     `json:"to"`
	Message    bspMessage `json:"message"`
	Contact    bspContact `json:"contact"`
	ReceivedAt time.Time  `json:"receivedAt"`
	Status     string     `json:"status"` // present only on delivery-status callbacks
}

type bspMessage struct {
	Type string `json:"type"`
	Text string `json:"text"`
	URL  string `json:"url"`
}

type bspContact struct {
	Name string `json:"name"`
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if !s.abuseLimiter.Allow(clientIP(r)) {
		http.Error(w, "rate limited", http.StatusTooManyRequests)
		return
	}
	capBody(r)

	var env bspEnvelope
	if err := json.NewDecoder(r.Body).Decode(&env); err != nil {
		http.Error(w, "unparseable body", http.StatusBadRequest)
		return
	}

	ctx := r.Context()
	processed := 0
	for _, rec := range env.Results {
		if rec.Status != "" {
			s.handleDeliveryStatus(ctx, rec)
			continue
		}
		if rec.MessageID == "" || rec.From == "" || rec.To == "" {
			slog.Warn("skipping malformed webhook record", "message_id", rec.MessageID)
			continue
		}
		if !s.burstLimiter.allow(rec.To) {
			slog.Warn("destination burst limit exceeded, dropping record", "to", rec.To)
			continue
		}

		route, err := s.router.Resolve(ctx, rec.To, rec.From, rec.MessageID)
		if err != nil {
			if err == router.ErrUnroutable {
				continue
			}
			slog.Error("router resolve failed", "error", err)
			continue
		}

		contact, err := s.store.GetOrCreateContact(ctx, route.TenantID, route.ChatbotID, rec.From, rec.Contact.Name)
		if err != nil {
			slog.Error("get or create contact failed", "error", err)
			continue
		}

		receivedAt := rec.ReceivedAt
		if receivedAt.IsZero() {
			receivedAt = time.Now()
		}
		chunk := debounce.InboundChunk{
			ProviderMessageID: rec.MessageID,
			MessageType:       toMessageType(rec.Message.Type),
			Text:              rec.Message.Text,
			MediaURL:          rec.Message.URL,
			ReceivedAt:        receivedAt,
		}
		s.debouncer.Ingest(route.TenantID, route.ChatbotID, contact.ID, contact.ThreadID, rec.From, route.TransportRef, chunk)
		processed++
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":             "success",
		"processed_messages": processed,
	})
}

// handleDeliveryStatus updates Message.status for a sent/delivered/read/failed
// callback, keyed by provider_message_id. Unknown ids are dropped with a
// warning rather than surfaced as an error, per spec.md §7.
func (s *Server) handleDeliveryStatus(ctx context.Context, rec bspResult) {
	status := toMessageStatus(rec.Status)
	if status == "" {
		slog.Warn("unknown delivery status, dropping", "status", rec.Status, "message_id", rec.MessageID)
		return
	}
	if err := s.store.UpdateMessageStatusByProviderID(ctx, rec.MessageID, status); err != nil {
		slog.Warn("delivery status update failed, dropping", "message_id", rec.MessageID, "error", err)
	}
}

// toMessageType maps the BSP's message.type onto the message_type enum
// (spec.md §3). An unrecognized or missing type falls back to text rather
// than leaving message_type empty, since every persisted row must satisfy
// the message_type ∈ {text,image,...} invariant.
func toMessageType(raw string) store.MessageType {
	switch raw {
	case "TEXT", "text":
		return store.MessageTypeText
	case "IMAGE", "image":
		return store.MessageTypeImage
	case "AUDIO", "audio":
		return store.MessageTypeAudio
	case "DOCUMENT", "document":
		return store.MessageTypeDocument
	case "LOCATION", "location":
		return store.MessageTypeLocation
	case "TEMPLATE", "template":
		return store.MessageTypeTemplate
	default:
		return store.MessageTypeText
	}
}

func toMessageStatus(raw string) store.MessageStatus {
	switch raw {
	case "sent":
		return store.StatusSent
	case "delivered":
		return store.StatusDelivered
	case "read":
		return store.StatusRead
	case "failed":
		return store.StatusFailed
	default:
		return ""
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
