package tools

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/disintegration/imaging"

	"github.com/choptalini/chatbot/internal/store"
)

const maxImageBytes = 5 * 1024 * 1024 // 5 MiB, spec.md §4.6 / §8's boundary test

var allowedImageContentTypes = map[string]bool{
	"image/jpeg": true,
	"image/png":  true,
	"image/webp": true,
	"image/gif":  true,
}

// SendImageTool sends an image to the contact the current Turn is for.
type SendImageTool struct {
	sender ImageSender
	store  store.Store
	client *http.Client
}

func NewSendImageTool(sender ImageSender, st store.Store) *SendImageTool {
	return &SendImageTool{sender: sender, store: st, client: &http.Client{Timeout: 20 * time.Second}}
}

func (t *SendImageTool) Name() string { return "send_image" }

func (t *SendImageTool) Description() string {
	return "Send an image to the current contact. image_url must be HTTPS, at most 5 MiB, and one of JPEG/PNG/WebP/GIF."
}

func (t *SendImageTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"to_number": map[string]interface{}{"type": "string", "description": "Must be the contact's own number."},
			"image_url": map[string]interface{}{"type": "string", "description": "HTTPS URL of the image to send."},
			"caption":   map[string]interface{}{"type": "string", "description": "Optional caption text."},
		},
		"required": []string{"to_number", "image_url"},
	}
}

func (t *SendImageTool) Execute(ctx context.Context, turn TurnContext, args map[string]interface{}) *Result {
	toNumber, _ := args["to_number"].(string)
	imageURL, _ := args["image_url"].(string)
	caption, _ := args["caption"].(string)

	if toNumber != turn.ContactNumber {
		return ErrorResult("send_image: to_number must match the current contact")
	}
	if imageURL == "" {
		return ErrorResult("send_image: image_url is required")
	}

	u, err := url.Parse(imageURL)
	if err != nil || u.Scheme != "https" {
		return ErrorResult("send_image: image_url must be an https URL")
	}

	if err := t.validateImage(ctx, imageURL); err != nil {
		return ErrorResult(fmt.Sprintf("send_image: %v", err))
	}

	providerMessageID, err := t.sender.SendImage(ctx, turn.TransportRef, toNumber, imageURL, caption)
	if err != nil {
		return ErrorResult(fmt.Sprintf("send_image: transport error: %v", err)).WithError(err)
	}

	msg := &store.Message{
		ProviderMessageID: providerMessageID,
		ContactID:         turn.ContactID,
		TenantID:          turn.TenantID,
		ChatbotID:         turn.ChatbotID,
		Direction:         store.DirectionOutgoing,
		MessageType:       store.MessageTypeImage,
		ContentURL:        imageURL,
		ContentText:       caption,
		Status:            store.StatusSent,
		AIProcessed:       true,
	}
	if _, err := t.store.InsertOutgoingMessage(ctx, msg); err != nil {
		return ErrorResult(fmt.Sprintf("send_image: persist failed: %v", err)).WithError(err)
	}

	return SilentResult("image sent")
}

// validateImage fetches at most maxImageBytes+1 bytes, checks the
// Content-Type against the allowed set, and decodes the bytes to reject
// truncated or corrupt payloads (best-effort; WebP decoding isn't wired
// through imaging so content-type is trusted for that format alone).
func (t *SendImageTool) validateImage(ctx context.Context, imageURL string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, imageURL, nil)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	ct := strings.ToLower(strings.SplitN(resp.Header.Get("Content-Type"), ";", 2)[0])
	if !allowedImageContentTypes[ct] {
		return fmt.Errorf("unsupported content type %q", ct)
	}

	limited := io.LimitReader(resp.Body, maxImageBytes+1)
	data, err := io.ReadAll(limited)
	if err != nil {
		return fmt.Errorf("read: %w", err)
	}
	if len(data) > maxImageBytes {
		return fmt.Errorf("image exceeds %d byte cap", maxImageBytes)
	}

	if ct == "image/webp" {
		return nil
	}
	if _, _, err := imaging.Decode(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("decode: %w", err)
	}
	return nil
}
