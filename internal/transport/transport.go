// Package transport is the MessagingTransport boundary: a per-tenant BSP
// (Business Solution Provider) HTTP client used to send outbound messages
// and fetch inbound media, per spec.md §4.1/§7.
package transport

import (
	"context"
)

// Transport is the full MessagingTransport surface. The tools package only
// needs slivers of this (see internal/tools' ImageSender/LocationSender/
// TemplateSender/MediaDownloader interfaces); dispatch needs SendText too.
type Transport interface {
	SendText(ctx context.Context, transportRef, toNumber, text string) (providerMessageID string, err error)
	SendImage(ctx context.Context, transportRef, toNumber, imageURL, caption string) (providerMessageID string, err error)
	SendLocation(ctx context.Context, transportRef, toNumber string, lat, lon float64, name, address string) (providerMessageID string, err error)
	SendTemplate(ctx context.Context, transportRef, toNumber, templateName string, variables []string, buttons []string) (providerMessageID string, err error)
	HeadMedia(ctx context.Context, transportRef, mediaURL string) (sizeBytes int64, contentType string, err error)
	FetchMedia(ctx context.Context, transportRef, mediaURL string) (data []byte, contentType string, err error)
}

// ClientResolver looks up the per-tenant HTTP credentials a transportRef
// (the chatbot's sending MSISDN) should use. Implemented by
// config.CredentialResolver.
type ClientResolver interface {
	CredentialsFor(transportRef string) (apiKey, baseURL string, ok bool)
}
