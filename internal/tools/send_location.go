package tools

import (
	"context"
	"fmt"

	"github.com/choptalini/chatbot/internal/store"
)

const (
	maxLocationNameLen    = 1000
	maxLocationAddressLen = 1000
)

// SendLocationTool sends a location pin to the current contact.
type SendLocationTool struct {
	sender LocationSender
	store  store.Store
}

func NewSendLocationTool(sender LocationSender, st store.Store) *SendLocationTool {
	return &SendLocationTool{sender: sender, store: st}
}

func (t *SendLocationTool) Name() string { return "send_location" }

func (t *SendLocationTool) Description() string {
	return "Send a location pin to the current contact."
}

func (t *SendLocationTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"to_number": map[string]interface{}{"type": "string"},
			"lat":       map[string]interface{}{"type": "number", "description": "Latitude in [-90, 90]."},
			"lon":       map[string]interface{}{"type": "number", "description": "Longitude in [-180, 180]."},
			"name":      map[string]interface{}{"type": "string"},
			"address":   map[string]interface{}{"type": "string"},
		},
		"required": []string{"to_number", "lat", "lon"},
	}
}

func (t *SendLocationTool) Execute(ctx context.Context, turn TurnContext, args map[string]interface{}) *Result {
	toNumber, _ := args["to_number"].(string)
	lat, latOK := asFloat(args["lat"])
	lon, lonOK := asFloat(args["lon"])
	name, _ := args["name"].(string)
	address, _ := args["address"].(string)

	if toNumber != turn.ContactNumber {
		return ErrorResult("send_location: to_number must match the current contact")
	}
	if !latOK || lat < -90 || lat > 90 {
		return ErrorResult("send_location: lat must be a number in [-90, 90]")
	}
	if !lonOK || lon < -180 || lon > 180 {
		return ErrorResult("send_location: lon must be a number in [-180, 180]")
	}
	if len(name) > maxLocationNameLen {
		return ErrorResult(fmt.Sprintf("send_location: name exceeds %d characters", maxLocationNameLen))
	}
	if len(address) > maxLocationAddressLen {
		return ErrorResult(fmt.Sprintf("send_location: address exceeds %d characters", maxLocationAddressLen))
	}

	providerMessageID, err := t.sender.SendLocation(ctx, turn.TransportRef, toNumber, lat, lon, name, address)
	if err != nil {
		return ErrorResult(fmt.Sprintf("send_location: transport error: %v", err)).WithError(err)
	}

	msg := &store.Message{
		ProviderMessageID: providerMessageID,
		ContactID:         turn.ContactID,
		TenantID:          turn.TenantID,
		ChatbotID:         turn.ChatbotID,
		Direction:         store.DirectionOutgoing,
		MessageType:       store.MessageTypeLocation,
		ContentText:       fmt.Sprintf("%s|%s", name, address),
		Status:            store.StatusSent,
		AIProcessed:       true,
	}
	if _, err := t.store.InsertOutgoingMessage(ctx, msg); err != nil {
		return ErrorResult(fmt.Sprintf("send_location: persist failed: %v", err)).WithError(err)
	}

	return SilentResult("location sent")
}

func asFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
