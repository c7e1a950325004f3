package ingress

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of tracked rate-limit keys to prevent
	// memory exhaustion from an attacker rotating source IPs.
	maxTrackedKeys = 4096

	// rateLimitWindow is the fixed window duration for abuse-rate counting.
	rateLimitWindow = 60 * time.Second

	// rateLimitMaxHits is the max requests per key within a window.
	rateLimitMaxHits = 60
)

type rateLimitEntry struct {
	windowStart time.Time
	count       int
}

// WebhookRateLimiter bounds the number of tracked source-IP keys
// to prevent memory exhaustion from rotating source keys. Safe for
// concurrent use.
type WebhookRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*rateLimitEntry
}

func NewWebhookRateLimiter() *WebhookRateLimiter {
	return &WebhookRateLimiter{entries: make(map[string]*rateLimitEntry)}
}

// Allow returns true if key is within rate limits, pruning stale entries and
// enforcing a hard cap on tracked keys.
func (r *WebhookRateLimiter) Allow(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()

	if len(r.entries) >= maxTrackedKeys {
		for k, e := range r.entries {
			if now.Sub(e.windowStart) >= rateLimitWindow {
				delete(r.entries, k)
			}
		}
		for len(r.entries) >= maxTrackedKeys {
			for k := range r.entries {
				delete(r.entries, k)
				break
			}
		}
	}

	e, ok := r.entries[key]
	if !ok || now.Sub(e.windowStart) >= rateLimitWindow {
		r.entries[key] = &rateLimitEntry{windowStart: now, count: 1}
		return true
	}

	e.count++
	return e.count <= rateLimitMaxHits
}

// destinationLimiters gives the BSP webhook a per-destination-MSISDN token
// bucket, absorbing a legitimate burst from one active chatbot without
// opening the abuse-rate window wide enough to let a rotating attacker in.
// Distinct from WebhookRateLimiter: that one is abuse keying, this one is
// burst smoothing for a single known destination.
type destinationLimiters struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

func newDestinationLimiters() *destinationLimiters {
	return &destinationLimiters{limiters: make(map[string]*rate.Limiter)}
}

func (d *destinationLimiters) allow(destinationMSISDN string) bool {
	d.mu.Lock()
	lim, ok := d.limiters[destinationMSISDN]
	if !ok {
		lim = rate.NewLimiter(rate.Limit(20), 40) // 20/s sustained, burst of 40
		d.limiters[destinationMSISDN] = lim
	}
	d.mu.Unlock()
	return lim.Allow()
}
