// Package agent defines the narrow Agent collaborator interface
// (spec.md §4.5) and the agent_id → Agent registry. Agent internals (the
// prompt, the model, tool-calling strategy) are out of scope for this
// core; only the event-stream contract and the registry live here.
package agent

import (
	"context"

	"github.com/choptalini/chatbot/internal/store"
)

// EventKind is the closed set of AgentEvent variants from spec.md §4.5.
// Modeled as a tagged sum (Design Note: "Source-language dynamic dispatch →
// tagged variants") instead of an open, string-keyed event bus.
type EventKind string

const (
	EventTextChunk  EventKind = "text_chunk"
	EventToolCall   EventKind = "tool_call"
	EventToolResult EventKind = "tool_result"
	EventFinal      EventKind = "final"
	EventError      EventKind = "error"
)

// ToolCall is a tool invocation requested by the agent.
type ToolCall struct {
	Name          string
	ArgumentsJSON []byte
	CorrelationID string
}

// ToolResult is echoed back to the agent by the worker after executing a
// ToolCall (spec.md §4.5).
type ToolResult struct {
	CorrelationID string
	ResultJSON    []byte
}

// Event is one emission from an agent's run stream. Exactly one of the
// payload fields is meaningful, selected by Kind.
type Event struct {
	Kind EventKind

	TextChunk string

	ToolCall ToolCall

	ToolResult ToolResult

	FinalText string

	ErrorKind   string
	ErrorDetail string
}

// TurnContext carries the per-turn identifiers and callbacks an Agent
// needs without letting it reach into the Store or Transport directly
// (spec.md §4.4 step 5).
type TurnContext struct {
	TenantID     store.TenantID
	ChatbotID    store.ChatbotID
	ContactID    store.ContactID
	FromNumber   string
	LanguageHint string
}

// Agent is the polymorphic collaborator the worker pool invokes for each
// Turn. Agents are stateful only through ThreadID; conversation memory is
// owned by the agent's own persistence layer, never cached by the core.
type Agent interface {
	// Run starts processing mergedInput for the given thread and returns a
	// channel of Events. The channel is closed after an EventFinal or
	// EventError is sent, or after the EventToolCall events of a step that
	// stops for tool use (the worker then calls Continue with each result).
	// Run must respect ctx cancellation (the worker
	// enforces the agent deadline from spec.md §5 via ctx).
	Run(ctx context.Context, threadID store.ThreadID, turnCtx TurnContext, mergedInput string) (<-chan Event, error)

	// Continue resumes a run after the worker has executed a tool call and
	// wants to hand the result back (spec.md's ToolResult "echoed back to
	// the agent by the worker"). It returns a fresh event channel for the
	// remainder of the run.
	Continue(ctx context.Context, threadID store.ThreadID, result ToolResult) (<-chan Event, error)
}

// Registry maps agent_id → Agent. Built once at startup from config,
// read-mostly thereafter (Design Note: router map and tool registry are
// built once at startup; no ambient singletons).
type Registry struct {
	agents map[store.AgentID]Agent
}

// NewRegistry builds a Registry from a fixed set of named agents.
func NewRegistry(agents map[store.AgentID]Agent) *Registry {
	cp := make(map[store.AgentID]Agent, len(agents))
	for k, v := range agents {
		cp[k] = v
	}
	return &Registry{agents: cp}
}

// Get looks up an Agent by id.
func (r *Registry) Get(id store.AgentID) (Agent, bool) {
	a, ok := r.agents[id]
	return a, ok
}
