// Package router selects (tenant_id, chatbot_id, agent_id) for an inbound
// event by its destination number — never by the sender — per spec.md §4.2.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/choptalini/chatbot/internal/config"
	"github.com/choptalini/chatbot/internal/store"
)

// ErrUnroutable is returned when the destination MSISDN has no binding.
var ErrUnroutable = fmt.Errorf("router: unroutable destination")

// Route is the resolved routing decision for one inbound event.
type Route struct {
	TenantID  store.TenantID
	ChatbotID store.ChatbotID
	AgentID   store.AgentID
	// TransportRef is the sender MSISDN the reply must be sent *from* —
	// the Transport layer keys its per-tenant client on this.
	TransportRef string
}

// DeadLetterSink records inbound events that could not be routed.
type DeadLetterSink interface {
	Record(ctx context.Context, reason, destinationMSISDN, senderMSISDN, raw string, at time.Time) error
}

// Router resolves destination MSISDNs to tenant bindings. It wraps the
// process's TenantMap in an LRU cache to avoid repeated map contention
// under load — the cache is never the source of truth; TenantMap.Lookup
// always backs a miss (and a reload invalidates by generation, see Refresh).
type Router struct {
	tenantMap  *config.TenantMap
	cache      *lru.Cache[string, Route]
	deadLetter DeadLetterSink
}

// New creates a Router. cacheSize should be roughly the number of
// configured chatbots; the cache only smooths hot-path lookups.
func New(tenantMap *config.TenantMap, cacheSize int, deadLetter DeadLetterSink) (*Router, error) {
	if cacheSize <= 0 {
		cacheSize = 256
	}
	c, err := lru.New[string, Route](cacheSize)
	if err != nil {
		return nil, fmt.Errorf("router: create cache: %w", err)
	}
	return &Router{tenantMap: tenantMap, cache: c, deadLetter: deadLetter}, nil
}

// Resolve selects (tenant_id, chatbot_id, agent_id, transport_ref) for the
// given destination MSISDN (the business number the customer wrote to).
// Routing never depends on the sender (customer) phone.
func (r *Router) Resolve(ctx context.Context, destinationMSISDN, senderMSISDN, rawEventForLog string) (Route, error) {
	if route, ok := r.cache.Get(destinationMSISDN); ok {
		return route, nil
	}

	binding, ok := r.tenantMap.Lookup(destinationMSISDN)
	if !ok {
		slog.Warn("unroutable destination, parking in dead-letter log",
			"destination", destinationMSISDN, "sender", senderMSISDN)
		if r.deadLetter != nil {
			if err := r.deadLetter.Record(ctx, "unroutable_destination", destinationMSISDN, senderMSISDN, rawEventForLog, time.Now()); err != nil {
				slog.Error("dead-letter record failed", "error", err)
			}
		}
		return Route{}, ErrUnroutable
	}

	route := Route{
		TenantID:     binding.TenantID,
		ChatbotID:    binding.ChatbotID,
		AgentID:      binding.AgentID,
		TransportRef: destinationMSISDN,
	}
	r.cache.Add(destinationMSISDN, route)
	return route, nil
}

// Refresh drops every cached entry — called after the tenant map reloads,
// since a binding's tenant/chatbot/agent ids could have changed under an
// unchanged sender_msisdn.
func (r *Router) Refresh() {
	r.cache.Purge()
}
