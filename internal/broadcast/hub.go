// Package broadcast fans out row-level change events to SSE subscribers
// (spec.md §4.8). The Hub owns no ambient state beyond its own subscriber
// set; it is constructed once by the Pipeline and fed by the Store's
// change-notification subscription plus an optional NATS bridge for
// multi-process deployments.
package broadcast

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/choptalini/chatbot/internal/store"
)

// subscriberBuffer is the small bound from spec.md §4.8: a subscriber that
// falls this far behind is dropped rather than allowed to back-pressure
// the publisher.
const subscriberBuffer = 64

// EventType is the closed set of broadcast events from spec.md §4.8.
type EventType string

const (
	EventMessageIncoming     EventType = "message.incoming"
	EventMessageOutgoing     EventType = "message.outgoing"
	EventMessageManual       EventType = "message.manual"
	EventMessageStatusChange EventType = "message.status_changed"
	EventActionCreated       EventType = "action.created"
	EventActionResolved      EventType = "action.resolved"
	EventContactPaused       EventType = "contact.paused"
	EventContactResumed      EventType = "contact.resumed"
	EventQueueFull           EventType = "queue_full"
	EventQuotaExceeded       EventType = "quota_exceeded"
)

// Event is one broadcast payload. Snapshot is a minimal JSON view of the
// affected entity, never the full row.
type Event struct {
	Type     EventType       `json:"type"`
	TenantID store.TenantID  `json:"tenant_id"`
	Snapshot json.RawMessage `json:"snapshot"`
}

type subscriber struct {
	ch       chan Event
	tenantID store.TenantID // filter: only events for this tenant are delivered
}

// Hub maintains SSE subscribers and publishes events to them non-blockingly.
type Hub struct {
	mu          sync.RWMutex
	subscribers map[int64]*subscriber
	nextID      int64
}

// New creates an empty Hub.
func New() *Hub {
	return &Hub{subscribers: make(map[int64]*subscriber)}
}

// Subscribe registers a new subscriber filtered to tenantID and returns a
// receive channel plus an unsubscribe function the caller must invoke when
// the SSE connection closes.
func (h *Hub) Subscribe(tenantID store.TenantID) (<-chan Event, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.nextID
	h.nextID++

	sub := &subscriber{ch: make(chan Event, subscriberBuffer), tenantID: tenantID}
	h.subscribers[id] = sub

	return sub.ch, func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		if s, ok := h.subscribers[id]; ok {
			close(s.ch)
			delete(h.subscribers, id)
		}
	}
}

// Publish delivers ev to every subscriber authorized for ev.TenantID. A
// subscriber whose buffer is full is dropped immediately — it must
// reconnect to resume receiving events, per spec.md §4.8.
func (h *Hub) Publish(ev Event) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for id, sub := range h.subscribers {
		if sub.tenantID != ev.TenantID {
			continue
		}
		select {
		case sub.ch <- ev:
		default:
			slog.Warn("broadcast subscriber buffer full, dropping", "subscriber_id", id, "event_type", ev.Type)
			go h.drop(id)
		}
	}
}

func (h *Hub) drop(id int64) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if s, ok := h.subscribers[id]; ok {
		close(s.ch)
		delete(h.subscribers, id)
	}
}

// BridgeFromStore wires the Hub to the Store's row-level change
// notifications (Postgres LISTEN/NOTIFY in the pg implementation),
// translating ChangeEvent into the broadcast Event shape 1:1. The change
// name becomes the EventType unchanged, so a name outside the constants
// above (the migration's trigger emits contact.updated) is passed through.
func BridgeFromStore(st store.Store, hub *Hub) {
	st.Subscribe(func(change store.ChangeEvent) {
		hub.Publish(Event{
			Type:     EventType(change.Name),
			TenantID: change.TenantID,
			Snapshot: change.Payload,
		})
	})
}

// Count returns the current subscriber count (test/metrics hook).
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.subscribers)
}
