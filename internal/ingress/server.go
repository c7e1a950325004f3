// Package ingress is the HTTP surface from spec.md §4.1: the BSP webhook,
// the manual-message and action-feedback webhooks, the Shopify catalog
// webhook, and the SSE broadcast stream. Handlers never block on agent
// work — they enqueue to the Router/Debouncer and return, or perform a
// single short transport call.
package ingress

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/choptalini/chatbot/internal/broadcast"
	"github.com/choptalini/chatbot/internal/debounce"
	"github.com/choptalini/chatbot/internal/router"
	"github.com/choptalini/chatbot/internal/store"
	"github.com/choptalini/chatbot/internal/transport"
)

const maxBodyBytes = 1 << 20 // 1 MiB, caps the BSP and Shopify webhook bodies (manual-message and action-feedback use 64 KiB)

// ActionFeedbackResponder composes the terminal-status text sent to the
// contact after an operator resolves an Action (spec.md's "response
// template keyed by request_type and status").
type ActionFeedbackResponder func(requestType string, status store.ActionStatus, operatorResponse string) string

// Server wires the four ingress surfaces onto a net/http.ServeMux, mirroring
// the teacher gateway's BuildMux/Start shape.
type Server struct {
	addr          string
	store         store.Store
	router        *router.Router
	debouncer     *debounce.Debouncer
	hub           *broadcast.Hub
	transport     transport.Transport
	respond       ActionFeedbackResponder
	shopifySecret string
	health        HealthProbe

	abuseLimiter *WebhookRateLimiter
	burstLimiter *destinationLimiters

	httpServer *http.Server
	mux        *http.ServeMux
}

// HealthProbe reports the liveness signals spec.md's /health endpoint
// surfaces: queue depth, worker busy count, and transport reachability.
// pipeline.Build wires the first two to dispatch.Pool and the third to a
// HEAD request against the process-level BSP base URL.
type HealthProbe struct {
	QueueDepth         func() int
	BusyWorkers        func() int
	TransportReachable func(ctx context.Context) bool
}

// Config bundles Server's dependencies.
type Config struct {
	Host          string
	Port          int
	Store         store.Store
	Router        *router.Router
	Debouncer     *debounce.Debouncer
	Hub           *broadcast.Hub
	Transport     transport.Transport
	Respond       ActionFeedbackResponder
	ShopifySecret string
	Health        HealthProbe
}

// New creates a Server. Call Start to begin listening.
func New(cfg Config) *Server {
	return &Server{
		addr:          fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		store:         cfg.Store,
		router:        cfg.Router,
		debouncer:     cfg.Debouncer,
		hub:           cfg.Hub,
		transport:     cfg.Transport,
		respond:       cfg.Respond,
		shopifySecret: cfg.ShopifySecret,
		health:        cfg.Health,
		abuseLimiter:  NewWebhookRateLimiter(),
		burstLimiter:  newDestinationLimiters(),
	}
}

// BuildMux registers every route and caches the mux.
func (s *Server) BuildMux() *http.ServeMux {
	if s.mux != nil {
		return s.mux
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/webhook", s.handleWebhook)
	mux.HandleFunc("/manual-message", s.handleManualMessage)
	mux.HandleFunc("/action-feedback", s.handleActionFeedback)
	mux.HandleFunc("/webhook/shopify", s.handleShopifyWebhook)
	mux.HandleFunc("/stream", s.handleStream)
	mux.HandleFunc("/health", s.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())

	s.mux = mux
	return mux
}

// Start begins listening and blocks until ctx is cancelled or the server
// fails to start.
func (s *Server) Start(ctx context.Context) error {
	mux := s.BuildMux()
	s.httpServer = &http.Server{Addr: s.addr, Handler: mux}

	slog.Info("ingress server starting", "addr", s.addr)

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("ingress: listen: %w", err)
	}
	return nil
}

func capBody(r *http.Request) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxBodyBytes)
}

// clientIP extracts the caller's address for abuse-rate keying, preferring
// the first hop of X-Forwarded-For when present (the ingress server usually
// sits behind a BSP-facing reverse proxy).
func clientIP(r *http.Request) string {
	if fwd := r.Header.Get("X-Forwarded-For"); fwd != "" {
		if i := strings.IndexByte(fwd, ','); i != -1 {
			return strings.TrimSpace(fwd[:i])
		}
		return strings.TrimSpace(fwd)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	queueDepth, busyWorkers, transportOK := 0, 0, true
	if s.health.QueueDepth != nil {
		queueDepth = s.health.QueueDepth()
	}
	if s.health.BusyWorkers != nil {
		busyWorkers = s.health.BusyWorkers()
	}
	if s.health.TransportReachable != nil {
		transportOK = s.health.TransportReachable(r.Context())
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"status":              "ok",
		"queue_depth":         queueDepth,
		"busy_workers":        busyWorkers,
		"transport_reachable": transportOK,
		"subscribers":         s.hub.Count(),
	})
}
