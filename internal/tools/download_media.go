package tools

import (
	"context"
	"encoding/base64"
	"fmt"
)

const maxDownloadBytes = 20 * 1024 * 1024 // 20 MiB, generous over the 5 MiB image cap to cover documents/audio

var allowedDownloadContentTypes = map[string]bool{
	"image/jpeg":     true,
	"image/png":      true,
	"image/webp":     true,
	"image/gif":      true,
	"audio/ogg":      true,
	"audio/mpeg":     true,
	"application/pdf": true,
}

// DownloadMediaTool fetches a provider-hosted media URL and returns its
// bytes (base64-encoded, since agent results are text) to the agent. It
// never writes a transcript row (spec.md §4.6).
type DownloadMediaTool struct {
	downloader MediaDownloader
}

func NewDownloadMediaTool(downloader MediaDownloader) *DownloadMediaTool {
	return &DownloadMediaTool{downloader: downloader}
}

func (t *DownloadMediaTool) Name() string { return "download_media" }

func (t *DownloadMediaTool) Description() string {
	return "Fetch the bytes of a provider-hosted media URL from an inbound message, subject to size and type caps."
}

func (t *DownloadMediaTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"provider_media_url": map[string]interface{}{"type": "string"},
		},
		"required": []string{"provider_media_url"},
	}
}

func (t *DownloadMediaTool) Execute(ctx context.Context, turn TurnContext, args map[string]interface{}) *Result {
	mediaURL, _ := args["provider_media_url"].(string)
	if mediaURL == "" {
		return ErrorResult("download_media: provider_media_url is required")
	}

	size, contentType, err := t.downloader.HeadMedia(ctx, turn.TransportRef, mediaURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("download_media: head failed: %v", err)).WithError(err)
	}
	if size > maxDownloadBytes {
		return ErrorResult(fmt.Sprintf("download_media: media exceeds %d byte cap", maxDownloadBytes))
	}
	if !allowedDownloadContentTypes[contentType] {
		return ErrorResult(fmt.Sprintf("download_media: unsupported content type %q", contentType))
	}

	data, contentType, err := t.downloader.FetchMedia(ctx, turn.TransportRef, mediaURL)
	if err != nil {
		return ErrorResult(fmt.Sprintf("download_media: fetch failed: %v", err)).WithError(err)
	}
	if len(data) > maxDownloadBytes {
		return ErrorResult(fmt.Sprintf("download_media: media exceeds %d byte cap", maxDownloadBytes))
	}

	result := NewResult(fmt.Sprintf("content_type=%s;base64=%s", contentType, base64.StdEncoding.EncodeToString(data)))
	result.Silent = true
	return result
}
