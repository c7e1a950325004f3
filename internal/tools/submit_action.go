package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/choptalini/chatbot/internal/store"
)

var allowedPriorities = map[string]store.ActionPriority{
	"low":    store.PriorityLow,
	"medium": store.PriorityMedium,
	"high":   store.PriorityHigh,
}

// SubmitActionTool raises a human-in-the-loop Action and records an
// action_indicator message referencing it, per spec.md §4.6.
type SubmitActionTool struct {
	store store.Store
}

func NewSubmitActionTool(st store.Store) *SubmitActionTool {
	return &SubmitActionTool{store: st}
}

func (t *SubmitActionTool) Name() string { return "submit_action" }

func (t *SubmitActionTool) Description() string {
	return "Raise a request for a human operator to review and resolve."
}

func (t *SubmitActionTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"request_type":    map[string]interface{}{"type": "string", "description": "Free-form classification, at most 100 characters."},
			"request_details": map[string]interface{}{"type": "string", "description": "At most 2000 characters."},
			"priority":        map[string]interface{}{"type": "string", "enum": []string{"low", "medium", "high"}},
			"request_data":    map[string]interface{}{"type": "object", "description": "Optional JSON payload, at most 10240 bytes encoded."},
		},
		"required": []string{"request_type", "request_details", "priority"},
	}
}

func (t *SubmitActionTool) Execute(ctx context.Context, turn TurnContext, args map[string]interface{}) *Result {
	requestType, _ := args["request_type"].(string)
	requestDetails, _ := args["request_details"].(string)
	priorityArg, _ := args["priority"].(string)

	if requestType == "" || len(requestType) > store.MaxRequestTypeLen {
		return ErrorResult(fmt.Sprintf("submit_action: request_type must be 1-%d characters", store.MaxRequestTypeLen))
	}
	if len(requestDetails) > store.MaxRequestDetailsLen {
		return ErrorResult(fmt.Sprintf("submit_action: request_details exceeds %d characters", store.MaxRequestDetailsLen))
	}
	priority, ok := allowedPriorities[priorityArg]
	if !ok {
		return ErrorResult("submit_action: priority must be one of low, medium, high")
	}

	var requestData []byte
	if raw, ok := args["request_data"]; ok && raw != nil {
		encoded, err := json.Marshal(raw)
		if err != nil {
			return ErrorResult("submit_action: request_data is not valid JSON")
		}
		if len(encoded) > store.MaxRequestDataBytes {
			return ErrorResult(fmt.Sprintf("submit_action: request_data exceeds %d bytes", store.MaxRequestDataBytes))
		}
		requestData = encoded
	}

	action := &store.Action{
		TenantID:       turn.TenantID,
		ChatbotID:      turn.ChatbotID,
		ContactID:      turn.ContactID,
		RequestType:    requestType,
		RequestDetails: requestDetails,
		RequestData:    requestData,
		Priority:       priority,
		Status:         store.ActionPending,
		CreatedAt:      time.Now(),
	}

	actionID, err := t.store.CreateAction(ctx, action)
	if err != nil {
		return ErrorResult(fmt.Sprintf("submit_action: create failed: %v", err)).WithError(err)
	}

	body, err := json.Marshal(map[string]interface{}{
		"action_id":       actionID,
		"request_type":    requestType,
		"request_details": requestDetails,
		"priority":        priorityArg,
		"status":          string(store.ActionPending),
	})
	if err != nil {
		return ErrorResult("submit_action: failed to encode indicator body").WithError(err)
	}
	metadata, err := json.Marshal(map[string]interface{}{"action_id": actionID})
	if err != nil {
		return ErrorResult("submit_action: failed to encode indicator metadata").WithError(err)
	}

	indicator := &store.Message{
		ContactID:   turn.ContactID,
		TenantID:    turn.TenantID,
		ChatbotID:   turn.ChatbotID,
		Direction:   store.DirectionInternal,
		MessageType: store.MessageTypeActionIndicator,
		ContentText: string(body),
		Metadata:    metadata,
		Status:      store.StatusSent,
		AIProcessed: true,
	}
	if _, err := t.store.InsertInternalMessage(ctx, indicator); err != nil {
		return ErrorResult(fmt.Sprintf("submit_action: indicator persist failed: %v", err)).WithError(err)
	}

	return NewResult(fmt.Sprintf("action %d submitted with priority %s; a human operator will respond", actionID, priorityArg))
}
