// Package tools implements the agent-invokable tool set from spec.md §4.6.
// Each tool is tenant-scoped: the tenant, chatbot, and contact come from
// the worker's Turn context, never from tool arguments, so an agent cannot
// address another tenant's contact by supplying an arbitrary to_number.
package tools

import (
	"context"

	"github.com/choptalini/chatbot/internal/store"
)

// Result is the unified return type from tool execution, mirroring the
// teacher's for-LLM/for-user split so a tool can answer the agent
// differently from what (if anything) reaches the transcript.
type Result struct {
	ForLLM  string
	ForUser string
	Silent  bool
	IsError bool
	Err     error
}

func NewResult(forLLM string) *Result          { return &Result{ForLLM: forLLM} }
func SilentResult(forLLM string) *Result       { return &Result{ForLLM: forLLM, Silent: true} }
func ErrorResult(message string) *Result       { return &Result{ForLLM: message, IsError: true} }

func (r *Result) WithError(err error) *Result {
	r.Err = err
	return r
}

// TurnContext carries the identifiers a tool executes under. Arguments the
// agent supplies are validated against these, never trusted on their own.
type TurnContext struct {
	TenantID      store.TenantID
	ChatbotID     store.ChatbotID
	ContactID     store.ContactID
	ContactNumber string // the contact's own MSISDN; to_number must match it
	TransportRef  string // the tenant's sending number, keys the Transport client
	ThreadID      store.ThreadID
}

// Tool is one agent-invokable operation.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, turn TurnContext, args map[string]interface{}) *Result
}

// ImageSender is the narrow slice of MessagingTransport send_image needs.
type ImageSender interface {
	SendImage(ctx context.Context, transportRef, toNumber, imageURL, caption string) (providerMessageID string, err error)
}

// LocationSender is the narrow slice of MessagingTransport send_location needs.
type LocationSender interface {
	SendLocation(ctx context.Context, transportRef, toNumber string, lat, lon float64, name, address string) (providerMessageID string, err error)
}

// TemplateSender is the narrow slice of MessagingTransport send_template needs.
type TemplateSender interface {
	SendTemplate(ctx context.Context, transportRef, toNumber, templateName string, variables []string, buttons []string) (providerMessageID string, err error)
}

// MediaDownloader is the narrow slice of MessagingTransport download_media needs.
type MediaDownloader interface {
	HeadMedia(ctx context.Context, transportRef, mediaURL string) (sizeBytes int64, contentType string, err error)
	FetchMedia(ctx context.Context, transportRef, mediaURL string) (data []byte, contentType string, err error)
}

// Registry maps tool name to Tool, built once at startup.
type Registry struct {
	tools map[string]Tool
}

// NewRegistry builds a Registry from a fixed tool set.
func NewRegistry(ts ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool, len(ts))}
	for _, t := range ts {
		r.tools[t.Name()] = t
	}
	return r
}

func (r *Registry) Get(name string) (Tool, bool) {
	t, ok := r.tools[name]
	return t, ok
}

// Specs returns the tool definitions (name/description/parameters) the
// registry exposes, for wiring into an Agent; cmd/serve.go converts each to
// an agent.ToolSpec.
func (r *Registry) Specs() []struct {
	Name        string
	Description string
	Parameters  map[string]interface{}
} {
	out := make([]struct {
		Name        string
		Description string
		Parameters  map[string]interface{}
	}, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, struct {
			Name        string
			Description string
			Parameters  map[string]interface{}
		}{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
	}
	return out
}
