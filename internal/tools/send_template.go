package tools

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/choptalini/chatbot/internal/store"
)

// SendTemplateTool sends a BSP-approved message template to the current contact.
type SendTemplateTool struct {
	sender TemplateSender
	store  store.Store
}

func NewSendTemplateTool(sender TemplateSender, st store.Store) *SendTemplateTool {
	return &SendTemplateTool{sender: sender, store: st}
}

func (t *SendTemplateTool) Name() string { return "send_template" }

func (t *SendTemplateTool) Description() string {
	return "Send an approved WhatsApp message template to the current contact."
}

func (t *SendTemplateTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"to_number":     map[string]interface{}{"type": "string"},
			"template_name": map[string]interface{}{"type": "string"},
			"variables":     map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
			"buttons":       map[string]interface{}{"type": "array", "items": map[string]interface{}{"type": "string"}},
		},
		"required": []string{"to_number", "template_name"},
	}
}

func (t *SendTemplateTool) Execute(ctx context.Context, turn TurnContext, args map[string]interface{}) *Result {
	toNumber, _ := args["to_number"].(string)
	templateName, _ := args["template_name"].(string)
	variables := stringSlice(args["variables"])
	buttons := stringSlice(args["buttons"])

	if toNumber != turn.ContactNumber {
		return ErrorResult("send_template: to_number must match the current contact")
	}
	if templateName == "" {
		return ErrorResult("send_template: template_name is required")
	}

	providerMessageID, err := t.sender.SendTemplate(ctx, turn.TransportRef, toNumber, templateName, variables, buttons)
	if err != nil {
		return ErrorResult(fmt.Sprintf("send_template: transport error: %v", err)).WithError(err)
	}

	meta, _ := json.Marshal(map[string]interface{}{"template_name": templateName, "variables": variables, "buttons": buttons})
	msg := &store.Message{
		ProviderMessageID: providerMessageID,
		ContactID:         turn.ContactID,
		TenantID:          turn.TenantID,
		ChatbotID:         turn.ChatbotID,
		Direction:         store.DirectionOutgoing,
		MessageType:       store.MessageTypeTemplate,
		ContentText:       templateName,
		Status:            store.StatusSent,
		Metadata:          meta,
		AIProcessed:       true,
	}
	if _, err := t.store.InsertOutgoingMessage(ctx, msg); err != nil {
		return ErrorResult(fmt.Sprintf("send_template: persist failed: %v", err)).WithError(err)
	}

	return SilentResult("template sent")
}

func stringSlice(v interface{}) []string {
	raw, ok := v.([]interface{})
	if !ok {
		return nil
	}
	out := make([]string, 0, len(raw))
	for _, item := range raw {
		if s, ok := item.(string); ok {
			out = append(out, s)
		}
	}
	return out
}
