package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// BSPClient is the default Transport: a hand-rolled HTTP client against a
// WhatsApp Business Solution Provider's Cloud API. One instance, with one
// http.Client, serves every tenant: each send resolves the (apiKey,
// baseURL) pair for its transportRef through the ClientResolver.
type BSPClient struct {
	httpClient *http.Client
	resolver   ClientResolver
	maxRetries int
}

// NewBSPClient creates a BSPClient. timeout bounds a single HTTP attempt;
// maxRetries bounds the retry budget per spec.md §7.
func NewBSPClient(resolver ClientResolver, timeout time.Duration, maxRetries int) *BSPClient {
	return &BSPClient{
		httpClient: &http.Client{Timeout: timeout},
		resolver:   resolver,
		maxRetries: maxRetries,
	}
}

func (c *BSPClient) SendText(ctx context.Context, transportRef, toNumber, text string) (string, error) {
	return c.send(ctx, transportRef, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                toNumber,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
}

func (c *BSPClient) SendImage(ctx context.Context, transportRef, toNumber, imageURL, caption string) (string, error) {
	image := map[string]string{"link": imageURL}
	if caption != "" {
		image["caption"] = caption
	}
	return c.send(ctx, transportRef, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                toNumber,
		"type":              "image",
		"image":             image,
	})
}

func (c *BSPClient) SendLocation(ctx context.Context, transportRef, toNumber string, lat, lon float64, name, address string) (string, error) {
	loc := map[string]interface{}{"latitude": lat, "longitude": lon}
	if name != "" {
		loc["name"] = name
	}
	if address != "" {
		loc["address"] = address
	}
	return c.send(ctx, transportRef, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                toNumber,
		"type":              "location",
		"location":          loc,
	})
}

func (c *BSPClient) SendTemplate(ctx context.Context, transportRef, toNumber, templateName string, variables []string, buttons []string) (string, error) {
	components := []map[string]interface{}{}
	if len(variables) > 0 {
		params := make([]map[string]string, 0, len(variables))
		for _, v := range variables {
			params = append(params, map[string]string{"type": "text", "text": v})
		}
		components = append(components, map[string]interface{}{"type": "body", "parameters": params})
	}
	for i, b := range buttons {
		components = append(components, map[string]interface{}{
			"type":     "button",
			"sub_type": "quick_reply",
			"index":    strconv.Itoa(i),
			"parameters": []map[string]string{
				{"type": "payload", "payload": b},
			},
		})
	}

	template := map[string]interface{}{
		"name":     templateName,
		"language": map[string]string{"code": "en_US"},
	}
	if len(components) > 0 {
		template["components"] = components
	}

	return c.send(ctx, transportRef, map[string]interface{}{
		"messaging_product": "whatsapp",
		"to":                toNumber,
		"type":              "template",
		"template":          template,
	})
}

// send POSTs one message payload, retrying per spec.md §7's exact policy:
// exponential backoff starting at 500ms, doubling, jitter, capped at 8s, up
// to maxRetries attempts — honoring Retry-After on HTTP 429.
func (c *BSPClient) send(ctx context.Context, transportRef string, payload map[string]interface{}) (string, error) {
	apiKey, baseURL, ok := c.resolver.CredentialsFor(transportRef)
	if !ok {
		return "", fmt.Errorf("transport: no BSP credentials for %s", transportRef)
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("transport: marshal request: %w", err)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.Multiplier = 2
	b.MaxInterval = 8 * time.Second

	var rateLimitHits int

	return backoff.Retry(ctx, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/messages", bytes.NewReader(body))
		if err != nil {
			return "", backoff.Permanent(fmt.Errorf("transport: build request: %w", err))
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Authorization", "Bearer "+apiKey)

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return "", fmt.Errorf("transport: http request: %w", err)
		}
		defer resp.Body.Close()

		respBody, _ := io.ReadAll(resp.Body)

		if resp.StatusCode == http.StatusTooManyRequests {
			rateLimitHits++
			if retryAfter := parseRetryAfter(resp.Header.Get("Retry-After")); retryAfter > 0 {
				slog.Warn("transport rate limited, honoring Retry-After", "seconds", retryAfter.Seconds())
				select {
				case <-time.After(retryAfter):
				case <-ctx.Done():
					return "", backoff.Permanent(ctx.Err())
				}
			}
			// The first two 429s return errRetryWithoutBudget; backoff.Retry
			// still counts them toward maxRetries like any other attempt.
			if rateLimitHits <= 2 {
				return "", errRetryWithoutBudget
			}
			return "", fmt.Errorf("transport: rate limited: %s", truncate(respBody, 300))
		}

		if resp.StatusCode >= 500 {
			return "", fmt.Errorf("transport: BSP %d: %s", resp.StatusCode, truncate(respBody, 300))
		}
		if resp.StatusCode >= 400 {
			return "", backoff.Permanent(fmt.Errorf("transport: BSP %d: %s", resp.StatusCode, truncate(respBody, 300)))
		}

		var parsed struct {
			Messages []struct {
				ID string `json:"id"`
			} `json:"messages"`
		}
		if err := json.Unmarshal(respBody, &parsed); err != nil {
			return "", backoff.Permanent(fmt.Errorf("transport: decode response: %w", err))
		}
		if len(parsed.Messages) == 0 {
			return "", backoff.Permanent(fmt.Errorf("transport: BSP response had no message id"))
		}
		return parsed.Messages[0].ID, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(uint(c.maxRetries)))
}

// errRetryWithoutBudget is the error returned for the first two 429s of a
// send. The distinction is informational only: backoff.Retry counts these
// attempts toward maxRetries like any other retryable error, since the v5
// retrier has no separate excused-attempt counter.
var errRetryWithoutBudget = fmt.Errorf("transport: rate limited, retrying")

func parseRetryAfter(v string) time.Duration {
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func truncate(b []byte, max int) string {
	if len(b) <= max {
		return string(b)
	}
	return string(b[:max]) + "..."
}

// HeadMedia issues a HEAD request to learn a media object's size and
// content type before committing to a full download.
func (c *BSPClient) HeadMedia(ctx context.Context, transportRef, mediaURL string) (int64, string, error) {
	apiKey, _, ok := c.resolver.CredentialsFor(transportRef)
	if !ok {
		return 0, "", fmt.Errorf("transport: no BSP credentials for %s", transportRef)
	}
	if _, err := url.Parse(mediaURL); err != nil {
		return 0, "", fmt.Errorf("transport: invalid media url: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, mediaURL, nil)
	if err != nil {
		return 0, "", fmt.Errorf("transport: build head request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, "", fmt.Errorf("transport: head request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, "", fmt.Errorf("transport: head returned %d", resp.StatusCode)
	}
	return resp.ContentLength, resp.Header.Get("Content-Type"), nil
}

// FetchMedia downloads the full media object.
func (c *BSPClient) FetchMedia(ctx context.Context, transportRef, mediaURL string) ([]byte, string, error) {
	apiKey, _, ok := c.resolver.CredentialsFor(transportRef)
	if !ok {
		return nil, "", fmt.Errorf("transport: no BSP credentials for %s", transportRef)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, mediaURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("transport: build get request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("transport: get request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("transport: fetch returned %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", fmt.Errorf("transport: read body: %w", err)
	}
	return data, resp.Header.Get("Content-Type"), nil
}
