package tools

import (
	"context"
	"strings"
	"testing"

	"github.com/choptalini/chatbot/internal/store"
)

type fakeActionStore struct {
	store.Store
	createdAction    *store.Action
	createdIndicator *store.Message
}

func (f *fakeActionStore) CreateAction(ctx context.Context, a *store.Action) (store.ActionID, error) {
	f.createdAction = a
	return 42, nil
}

func (f *fakeActionStore) InsertInternalMessage(ctx context.Context, msg *store.Message) (store.MessageID, error) {
	f.createdIndicator = msg
	return 7, nil
}

func (f *fakeActionStore) InsertOutgoingMessage(ctx context.Context, msg *store.Message) (store.MessageID, error) {
	return 8, nil
}

func TestSubmitAction_RequestDataSizeBoundary(t *testing.T) {
	turn := TurnContext{TenantID: 1, ChatbotID: 1, ContactID: 1}

	tests := []struct {
		name      string
		dataBytes int
		wantError bool
	}{
		{"exactly at cap", store.MaxRequestDataBytes - 2, false}, // -2 to account for JSON string quoting overhead
		// MaxRequestDataBytes-1 x's JSON-encode to MaxRequestDataBytes+1 bytes.
		{"one byte over cap", store.MaxRequestDataBytes - 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := &fakeActionStore{}
			tool := NewSubmitActionTool(fs)

			args := map[string]interface{}{
				"request_type":    "refund_request",
				"request_details": "customer requests refund",
				"priority":        "high",
				"request_data":    strings.Repeat("x", tt.dataBytes),
			}

			result := tool.Execute(context.Background(), turn, args)
			if tt.wantError && !result.IsError {
				t.Errorf("expected IsError for %d bytes, got result %+v", tt.dataBytes, result)
			}
			if !tt.wantError && result.IsError {
				t.Errorf("unexpected error for %d bytes: %+v", tt.dataBytes, result)
			}
		})
	}
}

func TestSubmitAction_RejectsUnknownPriority(t *testing.T) {
	fs := &fakeActionStore{}
	tool := NewSubmitActionTool(fs)
	turn := TurnContext{TenantID: 1, ChatbotID: 1, ContactID: 1}

	result := tool.Execute(context.Background(), turn, map[string]interface{}{
		"request_type":    "refund_request",
		"request_details": "details",
		"priority":        "urgent",
	})

	if !result.IsError {
		t.Fatalf("expected priority validation error, got %+v", result)
	}
}

func TestSubmitAction_CreatesActionAndIndicator(t *testing.T) {
	fs := &fakeActionStore{}
	tool := NewSubmitActionTool(fs)
	turn := TurnContext{TenantID: 3, ChatbotID: 2, ContactID: 9}

	result := tool.Execute(context.Background(), turn, map[string]interface{}{
		"request_type":    "refund_request",
		"request_details": "Customer X requests refund on order #1001",
		"priority":        "high",
	})

	if result.IsError {
		t.Fatalf("unexpected error: %+v", result)
	}
	if fs.createdAction == nil {
		t.Fatal("expected CreateAction to be called")
	}
	if fs.createdAction.Status != store.ActionPending {
		t.Errorf("new action status = %q, want %q", fs.createdAction.Status, store.ActionPending)
	}
	if fs.createdIndicator == nil {
		t.Fatal("expected an action_indicator message to be recorded")
	}
	if fs.createdIndicator.MessageType != store.MessageTypeActionIndicator {
		t.Errorf("indicator message type = %q, want action_indicator", fs.createdIndicator.MessageType)
	}
}
