package debounce

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/choptalini/chatbot/internal/store"
)

const numShards = 32

// DispatchFunc hands a coalesced Turn to the dispatcher. It returns
// deferred=true when the dispatcher could not accept the Turn because a
// Turn for the same conversation_key is already in flight (spec.md §4.4's
// single-flight discipline) — the Debouncer then re-arms a fresh
// PendingTurn instead of dropping the messages.
type DispatchFunc func(Turn) (deferred bool)

type pendingTurn struct {
	turn  Turn
	timer *time.Timer
}

type shard struct {
	mu      sync.Mutex
	pending map[Key]*pendingTurn
}

// Debouncer coalesces per-conversation inbound messages into Turns.
// State is a sharded map from conversation_key to PendingTurn, guarded by
// a lock per shard to avoid a single global mutex (spec.md §5).
type Debouncer struct {
	shards  [numShards]*shard
	window  time.Duration
	maxSpan time.Duration
	dispatch DispatchFunc
}

func shardIndex(k Key) int {
	h := uint64(k.TenantID)*1000003 + uint64(k.ContactID)
	return int(h % numShards)
}

// New creates a Debouncer. window is the coalescing deadline (extended on
// each new arrival, up to maxSpan from the first message).
func New(window, maxSpan time.Duration, dispatch DispatchFunc) *Debouncer {
	d := &Debouncer{window: window, maxSpan: maxSpan, dispatch: dispatch}
	for i := range d.shards {
		d.shards[i] = &shard{pending: make(map[Key]*pendingTurn)}
	}
	return d
}

// Ingest appends one inbound chunk to the conversation's PendingTurn,
// creating it if absent, and extends the deadline up to maxSpan from the
// first message's arrival.
func (d *Debouncer) Ingest(tenantID store.TenantID, chatbotID store.ChatbotID, contactID store.ContactID, threadID store.ThreadID, senderMSISDN, transportRef string, chunk InboundChunk) {
	key := Key{TenantID: tenantID, ContactID: contactID}
	sh := d.shards[shardIndex(key)]

	sh.mu.Lock()
	defer sh.mu.Unlock()

	pt, ok := sh.pending[key]
	if !ok {
		pt = &pendingTurn{
			turn: Turn{
				TurnID:       uuid.New(),
				TenantID:     tenantID,
				ChatbotID:    chatbotID,
				ContactID:    contactID,
				ThreadID:     threadID,
				SenderMSISDN: senderMSISDN,
				TransportRef: transportRef,
				FirstArrival: chunk.ReceivedAt,
			},
		}
		sh.pending[key] = pt
	}

	pt.turn.LastArrival = chunk.ReceivedAt
	pt.turn.Chunks = append(pt.turn.Chunks, chunk)
	if chunk.MediaURL != "" {
		pt.turn.Attachments = append(pt.turn.Attachments, chunk)
	}

	// Extend the deadline up to the hard ceiling from first_arrival.
	deadline := chunk.ReceivedAt.Add(d.window)
	ceiling := pt.turn.FirstArrival.Add(d.maxSpan)
	if deadline.After(ceiling) {
		deadline = ceiling
	}

	if pt.timer != nil {
		pt.timer.Stop()
	}
	delay := time.Until(deadline)
	if delay < 0 {
		delay = 0
	}
	pt.timer = time.AfterFunc(delay, func() { d.onDeadline(key) })
}

// onDeadline fires when a PendingTurn's coalescing window expires. It
// atomically removes the PendingTurn and hands it to the dispatcher. If
// the dispatcher reports the conversation is still in flight, a fresh
// PendingTurn is re-armed with the same messages rather than dropping
// them (spec.md §4.3's "second inbound arriving after dispatch" case,
// generalized to apply at flush time too).
func (d *Debouncer) onDeadline(key Key) {
	sh := d.shards[shardIndex(key)]

	sh.mu.Lock()
	pt, ok := sh.pending[key]
	if !ok {
		sh.mu.Unlock()
		return
	}
	delete(sh.pending, key)
	turn := pt.turn
	sh.mu.Unlock()

	turn.MergedText = mergeText(turn.Chunks)

	deferred := d.dispatch(turn)
	if !deferred {
		return
	}

	slog.Debug("turn deferred: conversation in flight, re-arming", "tenant_id", turn.TenantID, "contact_id", turn.ContactID)

	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, exists := sh.pending[key]; exists {
		// New messages already arrived while we were dispatching; let
		// their own timer govern the next flush.
		return
	}
	rearmed := &pendingTurn{turn: turn}
	rearmed.turn.TurnID = uuid.New()
	delay := d.window
	rearmed.timer = time.AfterFunc(delay, func() { d.onDeadline(key) })
	sh.pending[key] = rearmed
}

// mergeText joins per-chunk texts in receipt order with newlines,
// skipping pure-media chunks with no text (spec.md §4.3 and §8's
// coalescing-associativity law).
func mergeText(chunks []InboundChunk) string {
	var parts []string
	for _, c := range chunks {
		if c.Text != "" {
			parts = append(parts, c.Text)
		}
	}
	return strings.Join(parts, "\n")
}

// Pending reports whether a PendingTurn currently exists for key (test hook).
func (d *Debouncer) Pending(key Key) bool {
	sh := d.shards[shardIndex(key)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	_, ok := sh.pending[key]
	return ok
}
