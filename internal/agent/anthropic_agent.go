package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/choptalini/chatbot/internal/store"
)

const defaultAnthropicModel = "claude-sonnet-4-5-20250929"

// ToolSpec describes one tool an AnthropicAgent offers the model, translated
// into anthropic.ToolParam on every Run/Continue call.
type ToolSpec struct {
	Name        string
	Description string
	InputSchema map[string]interface{}
}

// AnthropicAgent is the reference Agent implementation, built directly on
// the Anthropic Messages API instead of a hand-rolled HTTP client. It keeps
// the teacher's functional-options constructor and Name()/DefaultModel()
// shape but replaces the request plumbing with anthropic-sdk-go.
type AnthropicAgent struct {
	client       *anthropic.Client
	defaultModel string
	maxTokens    int64
	systemPrompt string
	tools        []ToolSpec

	// historyMu guards history: the registry holds one shared AnthropicAgent
	// and spec.md §5 runs workers for different conversations in parallel, so
	// Run/Continue for one thread_id can race the stream goroutine writing
	// back another's accumulated reply.
	historyMu sync.Mutex
	history   map[store.ThreadID][]anthropic.MessageParam
}

// AnthropicOption configures an AnthropicAgent at construction time.
type AnthropicOption func(*AnthropicAgent)

func WithAnthropicModel(model string) AnthropicOption {
	return func(a *AnthropicAgent) {
		if model != "" {
			a.defaultModel = model
		}
	}
}

func WithAnthropicMaxTokens(n int64) AnthropicOption {
	return func(a *AnthropicAgent) {
		if n > 0 {
			a.maxTokens = n
		}
	}
}

func WithAnthropicSystemPrompt(prompt string) AnthropicOption {
	return func(a *AnthropicAgent) { a.systemPrompt = prompt }
}

func WithAnthropicTools(tools []ToolSpec) AnthropicOption {
	return func(a *AnthropicAgent) { a.tools = tools }
}

// NewAnthropicAgent creates an AnthropicAgent authenticated with apiKey.
// baseURL is optional; an empty string uses the SDK's default endpoint.
func NewAnthropicAgent(apiKey, baseURL string, opts ...AnthropicOption) *AnthropicAgent {
	clientOpts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		clientOpts = append(clientOpts, option.WithBaseURL(baseURL))
	}
	client := anthropic.NewClient(clientOpts...)

	a := &AnthropicAgent{
		client:       &client,
		defaultModel: defaultAnthropicModel,
		maxTokens:    4096,
		history:      make(map[store.ThreadID][]anthropic.MessageParam),
	}
	for _, o := range opts {
		o(a)
	}
	return a
}

func (a *AnthropicAgent) Name() string          { return "anthropic" }
func (a *AnthropicAgent) DefaultModel() string   { return a.defaultModel }

// Run starts a new turn: appends mergedInput as a user message onto the
// thread's running history and streams the model's reply.
func (a *AnthropicAgent) Run(ctx context.Context, threadID store.ThreadID, turnCtx TurnContext, mergedInput string) (<-chan Event, error) {
	a.historyMu.Lock()
	prior := append([]anthropic.MessageParam(nil), a.history[threadID]...)
	a.historyMu.Unlock()

	msgs := append(prior, anthropic.NewUserMessage(anthropic.NewTextBlock(mergedInput)))
	return a.stream(ctx, threadID, msgs)
}

// Continue hands a ToolResult back to the model as a tool_result content
// block and resumes streaming from where Run left off.
func (a *AnthropicAgent) Continue(ctx context.Context, threadID store.ThreadID, result ToolResult) (<-chan Event, error) {
	a.historyMu.Lock()
	prior, ok := a.history[threadID]
	if ok {
		prior = append([]anthropic.MessageParam(nil), prior...)
	}
	a.historyMu.Unlock()
	if !ok {
		return nil, fmt.Errorf("agent: anthropic: no pending run for thread %s", threadID)
	}

	msgs := append(prior, anthropic.NewUserMessage(
		anthropic.NewToolResultBlock(result.CorrelationID, string(result.ResultJSON), false),
	))
	return a.stream(ctx, threadID, msgs)
}

// stream issues a streaming Messages call and translates the SDK's
// server-sent event union into the agent package's tagged Event sum,
// accumulating the full message so it can be appended to thread history
// once the turn finishes.
func (a *AnthropicAgent) stream(ctx context.Context, threadID store.ThreadID, msgs []anthropic.MessageParam) (<-chan Event, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(a.defaultModel),
		MaxTokens: a.maxTokens,
		Messages:  msgs,
	}
	if a.systemPrompt != "" {
		params.System = []anthropic.TextBlockParam{{Text: a.systemPrompt}}
	}
	if len(a.tools) > 0 {
		params.Tools = a.translateTools()
	}

	out := make(chan Event, 8)

	go func() {
		defer close(out)

		respStream := a.client.Messages.NewStreaming(ctx, params)
		var acc anthropic.Message

		for respStream.Next() {
			event := respStream.Current()
			if err := acc.Accumulate(event); err != nil {
				out <- Event{Kind: EventError, ErrorKind: "stream_accumulate", ErrorDetail: err.Error()}
				return
			}

			switch delta := event.AsAny().(type) {
			case anthropic.ContentBlockDeltaEvent:
				if text := delta.Delta.Text; text != "" {
					out <- Event{Kind: EventTextChunk, TextChunk: text}
				}
			}
		}
		if err := respStream.Err(); err != nil {
			out <- Event{Kind: EventError, ErrorKind: "stream_transport", ErrorDetail: err.Error()}
			return
		}

		a.historyMu.Lock()
		a.history[threadID] = append(msgs, acc.ToParam())
		a.historyMu.Unlock()

		var finalText string
		for _, block := range acc.Content {
			switch block.Type {
			case "text":
				finalText += block.AsText().Text
			case "tool_use":
				tu := block.AsToolUse()
				args, err := json.Marshal(tu.Input)
				if err != nil {
					args = []byte("{}")
				}
				out <- Event{
					Kind: EventToolCall,
					ToolCall: ToolCall{
						Name:          tu.Name,
						ArgumentsJSON: args,
						CorrelationID: tu.ID,
					},
				}
			}
		}

		if acc.StopReason != anthropic.StopReasonToolUse {
			out <- Event{Kind: EventFinal, FinalText: finalText}
		}
	}()

	return out, nil
}

func (a *AnthropicAgent) translateTools() []anthropic.ToolUnionParam {
	result := make([]anthropic.ToolUnionParam, 0, len(a.tools))
	for _, t := range a.tools {
		tool := anthropic.ToolParam{
			Name: t.Name,
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: t.InputSchema["properties"],
			},
		}
		if t.Description != "" {
			tool.Description = anthropic.String(t.Description)
		}
		if req, ok := t.InputSchema["required"].([]string); ok {
			tool.InputSchema.Required = req
		}
		result = append(result, anthropic.ToolUnionParam{OfTool: &tool})
	}
	return result
}
