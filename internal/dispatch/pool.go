// Package dispatch is the fixed-size worker pool that executes Turns
// handed off by the Debouncer (spec.md §4.4), enforcing single-flight per
// conversation and running the agent/tool-call loop.
package dispatch

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/choptalini/chatbot/internal/agent"
	"github.com/choptalini/chatbot/internal/broadcast"
	"github.com/choptalini/chatbot/internal/debounce"
	"github.com/choptalini/chatbot/internal/store"
	"github.com/choptalini/chatbot/internal/telemetry"
	"github.com/choptalini/chatbot/internal/tools"
	"github.com/choptalini/chatbot/internal/transport"
	"github.com/choptalini/chatbot/internal/usage"
)

const numShards = 32

const busyTemplate = "We're handling a lot of messages right now — please give us a moment and try again."

// inFlightSet is a sharded set of conversation keys currently being
// processed by a worker, keyed the same way as the Debouncer's PendingTurn
// map (spec.md §5's shared-shard note) so both stay lock-contention-light
// without a second global mutex.
type inFlightSet struct {
	shards [numShards]struct {
		mu  sync.Mutex
		set map[debounce.Key]struct{}
	}
}

func newInFlightSet() *inFlightSet {
	s := &inFlightSet{}
	for i := range s.shards {
		s.shards[i].set = make(map[debounce.Key]struct{})
	}
	return s
}

func shardFor(k debounce.Key) int {
	h := uint64(k.TenantID)*1000003 + uint64(k.ContactID)
	return int(h % numShards)
}

func (s *inFlightSet) tryAcquire(k debounce.Key) bool {
	sh := &s.shards[shardFor(k)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if _, busy := sh.set[k]; busy {
		return false
	}
	sh.set[k] = struct{}{}
	return true
}

func (s *inFlightSet) release(k debounce.Key) {
	sh := &s.shards[shardFor(k)]
	sh.mu.Lock()
	defer sh.mu.Unlock()
	delete(sh.set, k)
}

// Pool is the worker pool. It is constructed once by the Pipeline and
// never referenced through a package-level singleton.
type Pool struct {
	turns     chan debounce.Turn
	inFlight  *inFlightSet
	store     store.Store
	transport transport.Transport
	agents    *agent.Registry
	toolReg   *tools.Registry
	usage     *usage.Enforcer
	hub       *broadcast.Hub
	metrics   *Metrics

	agentDeadline   time.Duration
	enqueueDeadline time.Duration

	busyWorkers atomic.Int32
	wg          sync.WaitGroup
}

// Config bundles Pool's dependencies.
type Config struct {
	Workers         int
	QueueCapacity   int
	AgentDeadline   time.Duration
	EnqueueDeadline time.Duration // how long Submit blocks on a full queue before rejecting
	Store           store.Store
	Transport       transport.Transport
	Agents          *agent.Registry
	Tools           *tools.Registry
	Usage           *usage.Enforcer
	Hub             *broadcast.Hub
	Metrics         *Metrics
}

// NewPool creates a Pool and starts its workers, ready to accept Submit calls.
func NewPool(ctx context.Context, cfg Config) *Pool {
	p := &Pool{
		turns:           make(chan debounce.Turn, cfg.QueueCapacity),
		inFlight:        newInFlightSet(),
		store:           cfg.Store,
		transport:       cfg.Transport,
		agents:          cfg.Agents,
		toolReg:         cfg.Tools,
		usage:           cfg.Usage,
		hub:             cfg.Hub,
		metrics:         cfg.Metrics,
		agentDeadline:   cfg.AgentDeadline,
		enqueueDeadline: cfg.EnqueueDeadline,
	}
	for i := 0; i < cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(ctx, i)
	}
	return p
}

// Submit implements debounce.DispatchFunc. It returns deferred=true when
// the conversation is already in flight (the Debouncer must re-arm), and
// handles queue backpressure itself: a Turn that can't be enqueued within
// enqueueDeadline is rejected with a busy reply and a queue_full broadcast
// rather than blocking the debouncer's timer goroutine indefinitely.
func (p *Pool) Submit(turn debounce.Turn) (deferred bool) {
	key := turn.Key()

	if !p.inFlight.tryAcquire(key) {
		return true
	}

	select {
	case p.turns <- turn:
		if p.metrics != nil {
			p.metrics.QueueDepth.Set(float64(len(p.turns)))
		}
		return false
	default:
	}

	timer := time.NewTimer(p.enqueueDeadline)
	defer timer.Stop()
	select {
	case p.turns <- turn:
		if p.metrics != nil {
			p.metrics.QueueDepth.Set(float64(len(p.turns)))
		}
		return false
	case <-timer.C:
		p.inFlight.release(key)
		p.reject(turn)
		return false
	}
}

func (p *Pool) reject(turn debounce.Turn) {
	if p.metrics != nil {
		p.metrics.RejectedTotal.Inc()
	}
	slog.Warn("dispatch queue full, rejecting turn", "tenant_id", turn.TenantID, "contact_id", turn.ContactID)

	ctx := context.Background()
	if _, err := p.transport.SendText(ctx, turn.TransportRef, turn.SenderMSISDN, busyTemplate); err != nil {
		slog.Error("failed to send busy reply", "error", err)
	}

	snapshot, _ := json.Marshal(map[string]interface{}{"contact_id": turn.ContactID})
	p.hub.Publish(broadcast.Event{Type: broadcast.EventQueueFull, TenantID: turn.TenantID, Snapshot: snapshot})
}

// QueueDepth reports the number of Turns currently buffered, for the
// /health liveness probe.
func (p *Pool) QueueDepth() int { return len(p.turns) }

// Wait blocks until every worker goroutine has exited (channel closed).
func (p *Pool) Wait() { p.wg.Wait() }

// Close stops accepting new Turns and waits for in-flight work to finish.
func (p *Pool) Close() {
	close(p.turns)
	p.wg.Wait()
}

func (p *Pool) worker(ctx context.Context, id int) {
	defer p.wg.Done()
	for turn := range p.turns {
		p.busyWorkers.Add(1)
		if p.metrics != nil {
			p.metrics.QueueDepth.Set(float64(len(p.turns)))
			p.metrics.BusyWorkers.Inc()
		}
		p.process(ctx, turn)
		p.busyWorkers.Add(-1)
		if p.metrics != nil {
			p.metrics.BusyWorkers.Dec()
		}
		p.inFlight.release(turn.Key())
	}
}

// BusyWorkers reports the number of workers currently processing a Turn,
// for the /health liveness probe.
func (p *Pool) BusyWorkers() int { return int(p.busyWorkers.Load()) }

func (p *Pool) process(ctx context.Context, turn debounce.Turn) {
	ctx, span := telemetry.Tracer().Start(ctx, "turn",
		trace.WithAttributes(
			attribute.Int64("tenant_id", int64(turn.TenantID)),
			attribute.Int64("chatbot_id", int64(turn.ChatbotID)),
		),
	)
	defer span.End()

	turnCtx, cancel := context.WithTimeout(ctx, p.agentDeadline)
	defer cancel()

	contact, err := p.store.GetOrCreateContact(turnCtx, turn.TenantID, turn.ChatbotID, turn.SenderMSISDN, "")
	if err != nil {
		slog.Error("dispatch: contact lookup failed", "error", err, "tenant_id", turn.TenantID)
		return
	}
	if err := p.store.TouchLastInteraction(turnCtx, turn.TenantID, contact.ID, time.Now()); err != nil {
		slog.Error("dispatch: touch last_interaction failed", "error", err)
	}

	for _, chunk := range turn.Chunks {
		msg := &store.Message{
			ProviderMessageID: chunk.ProviderMessageID,
			ContactID:         contact.ID,
			TenantID:          turn.TenantID,
			ChatbotID:         turn.ChatbotID,
			Direction:         store.DirectionIncoming,
			MessageType:       chunk.MessageType,
			ContentText:       chunk.Text,
			ContentURL:        chunk.MediaURL,
			Status:            store.StatusDelivered,
			SentAt:            chunk.ReceivedAt,
		}
		if _, err := p.store.InsertIncomingMessage(turnCtx, msg); err != nil {
			// spec.md §4.4 step 8's note: do not block the agent on
			// persistence of the incoming message; log and continue.
			slog.Error("dispatch: persist incoming failed", "error", err)
		}
	}

	paused, err := p.store.IsPaused(turnCtx, turn.TenantID, contact.ID)
	if err != nil {
		slog.Error("dispatch: pause check failed", "error", err)
	}
	if paused {
		snapshot, _ := json.Marshal(map[string]interface{}{"contact_id": contact.ID})
		p.hub.Publish(broadcast.Event{Type: broadcast.EventContactPaused, TenantID: turn.TenantID, Snapshot: snapshot})
		return
	}

	decision, err := p.usage.PreCheck(turnCtx, turn.TenantID)
	if err != nil {
		slog.Error("dispatch: usage pre-check failed", "error", err)
	} else if !decision.Allowed {
		// Over quota: no outbound message is sent, persisted, or counted
		// against usage. Only a broadcast event reaches operators.
		snapshot, _ := json.Marshal(map[string]interface{}{"contact_id": contact.ID, "reason": decision.Reason})
		p.hub.Publish(broadcast.Event{Type: broadcast.EventQuotaExceeded, TenantID: turn.TenantID, Snapshot: snapshot})
		return
	}

	chatbot, err := p.store.ChatbotBySenderMSISDN(turnCtx, turn.TransportRef)
	if err != nil {
		slog.Error("dispatch: chatbot lookup failed", "error", err)
		return
	}

	ag, ok := p.agents.Get(chatbot.AgentID)
	if !ok {
		slog.Error("dispatch: no agent registered", "agent_id", chatbot.AgentID)
		return
	}

	finalText, runErr := p.runAgent(turnCtx, ag, turn, contact)
	if runErr != nil {
		span.SetStatus(codes.Error, runErr.Error())
		p.persistInternalDiagnostic(turnCtx, turn, contact, runErr)
		return
	}
	if finalText == "" {
		return
	}

	p.sendTemplated(turnCtx, turn, contact, finalText)
}

// runAgent drives the agent's Run/tool-call/Continue loop until a Final or
// Error event arrives, executing tool calls synchronously in between
// (spec.md §4.4 step 6).
func (p *Pool) runAgent(ctx context.Context, ag agent.Agent, turn debounce.Turn, contact *store.Contact) (string, error) {
	ctx, span := telemetry.Tracer().Start(ctx, "agent.run")
	defer span.End()

	turnCtx := agent.TurnContext{
		TenantID:   turn.TenantID,
		ChatbotID:  turn.ChatbotID,
		ContactID:  contact.ID,
		FromNumber: turn.SenderMSISDN,
	}

	events, err := ag.Run(ctx, turn.ThreadID, turnCtx, turn.MergedText)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return "", fmt.Errorf("agent run: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return "", fmt.Errorf("agent: event stream closed without a final event")
			}
			switch ev.Kind {
			case agent.EventTextChunk:
				// Only the final text is sent to the customer (step 6);
				// intermediate chunks are buffered by the agent itself.
			case agent.EventToolCall:
				result := p.executeTool(ctx, ev.ToolCall, turn, contact)
				next, err := ag.Continue(ctx, turn.ThreadID, agent.ToolResult{
					CorrelationID: ev.ToolCall.CorrelationID,
					ResultJSON:    []byte(result),
				})
				if err != nil {
					return "", fmt.Errorf("agent continue: %w", err)
				}
				events = next
			case agent.EventFinal:
				return ev.FinalText, nil
			case agent.EventError:
				return "", fmt.Errorf("agent error: %s: %s", ev.ErrorKind, ev.ErrorDetail)
			}
		}
	}
}

func (p *Pool) executeTool(ctx context.Context, call agent.ToolCall, turn debounce.Turn, contact *store.Contact) string {
	ctx, span := telemetry.Tracer().Start(ctx, "tool."+call.Name)
	defer span.End()

	tool, ok := p.toolReg.Get(call.Name)
	if !ok {
		span.SetStatus(codes.Error, "unknown tool")
		return fmt.Sprintf(`{"error":"unknown tool %q"}`, call.Name)
	}

	var args map[string]interface{}
	if err := json.Unmarshal(call.ArgumentsJSON, &args); err != nil {
		return `{"error":"malformed tool arguments"}`
	}

	toolCtx := tools.TurnContext{
		TenantID:      turn.TenantID,
		ChatbotID:     turn.ChatbotID,
		ContactID:     contact.ID,
		ContactNumber: turn.SenderMSISDN,
		TransportRef:  turn.TransportRef,
		ThreadID:      turn.ThreadID,
	}

	result := tool.Execute(ctx, toolCtx, args)
	if result.IsError {
		span.SetStatus(codes.Error, result.ForLLM)
	}
	encoded, _ := json.Marshal(map[string]interface{}{"for_llm": result.ForLLM, "is_error": result.IsError})
	return string(encoded)
}

func (p *Pool) sendTemplated(ctx context.Context, turn debounce.Turn, contact *store.Contact, text string) {
	providerMessageID, err := p.transport.SendText(ctx, turn.TransportRef, turn.SenderMSISDN, text)
	status := store.StatusSent
	errText := ""
	if err != nil {
		status = store.StatusFailed
		errText = err.Error()
		slog.Error("dispatch: transport send failed", "error", err)
	}

	msg := &store.Message{
		ProviderMessageID: providerMessageID,
		ContactID:         contact.ID,
		TenantID:          turn.TenantID,
		ChatbotID:         turn.ChatbotID,
		Direction:         store.DirectionOutgoing,
		MessageType:       store.MessageTypeText,
		ContentText:       text,
		Status:            status,
		AIProcessed:       true,
	}
	id, insertErr := p.store.InsertOutgoingMessage(ctx, msg)
	if insertErr != nil {
		slog.Error("dispatch: persist outgoing failed", "error", insertErr)
	}
	if err != nil {
		if updateErr := p.store.UpdateMessageStatus(ctx, turn.TenantID, id, store.StatusFailed, errText); updateErr != nil {
			slog.Error("dispatch: status update failed", "error", updateErr)
		}
		return
	}

	if _, err := p.usage.Increment(ctx, turn.TenantID); err != nil {
		slog.Error("dispatch: usage increment failed", "error", err)
	}

	snapshot, _ := json.Marshal(map[string]interface{}{"message_id": id, "contact_id": contact.ID})
	p.hub.Publish(broadcast.Event{Type: broadcast.EventMessageOutgoing, TenantID: turn.TenantID, Snapshot: snapshot})
}

func (p *Pool) persistInternalDiagnostic(ctx context.Context, turn debounce.Turn, contact *store.Contact, cause error) {
	msg := &store.Message{
		ContactID:   contact.ID,
		TenantID:    turn.TenantID,
		ChatbotID:   turn.ChatbotID,
		Direction:   store.DirectionInternal,
		MessageType: store.MessageTypeText,
		ContentText: cause.Error(),
		Status:      store.StatusFailed,
	}
	if _, err := p.store.InsertInternalMessage(ctx, msg); err != nil {
		slog.Error("dispatch: persist internal diagnostic failed", "error", err)
	}
}
