// Package debounce coalesces messages arriving for the same conversation
// within a short window into a single logical Turn before it is handed to
// the dispatcher, per spec.md §4.3.
package debounce

import (
	"time"

	"github.com/google/uuid"

	"github.com/choptalini/chatbot/internal/store"
)

// Key identifies one conversation for debouncing and single-flight
// purposes: (tenant_id, contact_id). Sharding in both the Debouncer and
// the Dispatcher's in-flight set is keyed off the same hash of Key; each
// keeps its own set of shard locks.
type Key struct {
	TenantID  store.TenantID
	ContactID store.ContactID
}

// InboundChunk is one BSP record's contribution to a Turn, before merge.
type InboundChunk struct {
	ProviderMessageID string
	MessageType       store.MessageType
	Text              string    // empty for pure-media chunks
	MediaURL          string    // set for image/audio/document/location payloads
	ReceivedAt        time.Time
}

// Turn is the in-memory unit scheduled through the pipeline (spec.md §3).
type Turn struct {
	TurnID       uuid.UUID
	TenantID     store.TenantID
	ChatbotID    store.ChatbotID
	ContactID    store.ContactID
	ThreadID     store.ThreadID
	SenderMSISDN string // the contact's own number
	TransportRef string // the chatbot's sending number; keys the Transport client
	MergedText   string
	Attachments []InboundChunk // media-bearing chunks, in receipt order
	Chunks      []InboundChunk // every chunk including text-only, in receipt order
	FirstArrival time.Time
	LastArrival  time.Time
	LanguageHint string
}

// Key returns the conversation key for this Turn.
func (t Turn) Key() Key { return Key{TenantID: t.TenantID, ContactID: t.ContactID} }
