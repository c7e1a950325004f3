// Package pipeline constructs the one Pipeline struct that owns every
// collaborator in the broker: Store, Transport, Router, Debouncer,
// dispatch.Pool, agent/tool registries, usage enforcement, the Broadcast
// Hub, and the ingress Server. There are no package-level singletons —
// cmd/serve.go builds exactly one Pipeline per process.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/choptalini/chatbot/internal/agent"
	"github.com/choptalini/chatbot/internal/broadcast"
	"github.com/choptalini/chatbot/internal/config"
	"github.com/choptalini/chatbot/internal/debounce"
	"github.com/choptalini/chatbot/internal/dispatch"
	"github.com/choptalini/chatbot/internal/ingress"
	"github.com/choptalini/chatbot/internal/router"
	"github.com/choptalini/chatbot/internal/scheduler"
	"github.com/choptalini/chatbot/internal/store"
	"github.com/choptalini/chatbot/internal/store/deadletter"
	"github.com/choptalini/chatbot/internal/tools"
	"github.com/choptalini/chatbot/internal/transport"
	"github.com/choptalini/chatbot/internal/usage"
)

// Pipeline wires every collaborator and exposes Start/Close for cmd/serve.go.
type Pipeline struct {
	Store     store.Store
	Transport transport.Transport
	Router    *router.Router
	Debouncer *debounce.Debouncer
	Pool      *dispatch.Pool
	Hub       *broadcast.Hub
	Usage     *usage.Enforcer
	Ingress   *ingress.Server
	Scheduler *scheduler.Scheduler

	tenantMap   *config.TenantMap
	deadLetters *deadletter.Store
	natsBridge  *broadcast.NATSBridge
	redis       *redis.Client
}

// Dependencies bundles everything Build needs to construct a Pipeline.
// Agents and Tools are supplied as factories, not plain values, because
// they are the one domain-specific extension point (spec.md's Agent
// collaborator is "pluggable") and both need a live Transport: several
// tools (send_image, send_location, send_template, download_media) send
// through it directly, and an agent needs the tool registry's Specs() to
// know what it may call. The Transport itself only exists part-way through
// Build, once the tenant map and credential resolver are ready, so Build
// calls BuildTools first and passes its Registry into BuildAgents.
type Dependencies struct {
	Process     *config.Process
	Store       store.Store
	BuildTools  func(transport.Transport) []tools.Tool
	BuildAgents func(transport.Transport, *tools.Registry) map[store.AgentID]agent.Agent
	Respond     ingress.ActionFeedbackResponder
}

// Build constructs every collaborator but does not yet start listening;
// call Start to begin serving traffic.
func Build(ctx context.Context, deps Dependencies) (*Pipeline, error) {
	p := deps.Process

	tenantMap, err := config.LoadTenantMap(p.TenantMapPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: load tenant map: %w", err)
	}
	if err := tenantMap.WatchFile(); err != nil {
		slog.Warn("tenant map hot reload disabled", "error", err)
	}

	deadLetters, err := deadletter.Open(p.DeadLetterPath)
	if err != nil {
		return nil, fmt.Errorf("pipeline: open dead-letter log: %w", err)
	}

	rtr, err := router.New(tenantMap, 256, deadLetters)
	if err != nil {
		deadLetters.Close()
		return nil, fmt.Errorf("pipeline: build router: %w", err)
	}

	resolver := config.NewCredentialResolver(tenantMap, p.BSPAPIKey, p.BSPBaseURL)
	bspClient := transport.NewBSPClient(resolver, p.TransportTimeout(), p.TransportMaxRetries)

	var rdb *redis.Client
	if p.RedisURL != "" {
		opts, err := redis.ParseURL(p.RedisURL)
		if err != nil {
			deadLetters.Close()
			return nil, fmt.Errorf("pipeline: parse REDIS_URL: %w", err)
		}
		rdb = redis.NewClient(opts)
	}

	hub := broadcast.New()
	broadcast.BridgeFromStore(deps.Store, hub)

	var natsBridge *broadcast.NATSBridge
	if p.BroadcastNATSURL != "" {
		natsBridge, err = broadcast.NewNATSBridge(p.BroadcastNATSURL, hub)
		if err != nil {
			slog.Warn("broadcast NATS bridge disabled", "error", err)
		}
	}

	enforcer := usage.New(deps.Store, rdb)

	var toolSet []tools.Tool
	if deps.BuildTools != nil {
		toolSet = deps.BuildTools(bspClient)
	}
	toolRegistry := tools.NewRegistry(toolSet...)

	var agents map[store.AgentID]agent.Agent
	if deps.BuildAgents != nil {
		agents = deps.BuildAgents(bspClient, toolRegistry)
	}
	agentRegistry := agent.NewRegistry(agents)

	metrics := dispatch.NewMetrics(prometheus.DefaultRegisterer)

	pool := dispatch.NewPool(ctx, dispatch.Config{
		Workers:         p.MaxWorkers,
		QueueCapacity:   p.QueueCapacity,
		AgentDeadline:   p.AgentDeadline(),
		EnqueueDeadline: 2 * time.Second,
		Store:           deps.Store,
		Transport:       bspClient,
		Agents:          agentRegistry,
		Tools:           toolRegistry,
		Usage:           enforcer,
		Hub:             hub,
		Metrics:         metrics,
	})

	deb := debounce.New(p.DebounceWindow(), p.MaxCoalesceSpan(), pool.Submit)

	respond := deps.Respond
	if respond == nil {
		respond = ingress.DefaultResponder
	}

	srv := ingress.New(ingress.Config{
		Host:          p.GatewayHost,
		Port:          p.GatewayPort,
		Store:         deps.Store,
		Router:        rtr,
		Debouncer:     deb,
		Hub:           hub,
		Transport:     bspClient,
		Respond:       respond,
		ShopifySecret: p.ShopifyWebhookSecret,
		Health: ingress.HealthProbe{
			QueueDepth:  pool.QueueDepth,
			BusyWorkers: pool.BusyWorkers,
			TransportReachable: func(ctx context.Context) bool {
				if p.BSPBaseURL == "" {
					return true
				}
				probeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
				defer cancel()
				req, err := http.NewRequestWithContext(probeCtx, http.MethodHead, p.BSPBaseURL, nil)
				if err != nil {
					return true
				}
				resp, err := http.DefaultClient.Do(req)
				if err != nil {
					return false
				}
				resp.Body.Close()
				return true
			},
		},
	})

	sched := scheduler.New(p.MaintenanceCron, deps.Store)

	return &Pipeline{
		Store:       deps.Store,
		Transport:   bspClient,
		Router:      rtr,
		Debouncer:   deb,
		Pool:        pool,
		Hub:         hub,
		Usage:       enforcer,
		Ingress:     srv,
		Scheduler:   sched,
		tenantMap:   tenantMap,
		deadLetters: deadLetters,
		natsBridge:  natsBridge,
		redis:       rdb,
	}, nil
}

// Start runs the ingress server and the Store's change-notification
// listener until ctx is cancelled.
func (p *Pipeline) Start(ctx context.Context) error {
	errCh := make(chan error, 2)

	go func() {
		errCh <- p.Store.Listen(ctx)
	}()
	go p.Scheduler.Start(ctx)
	go func() {
		errCh <- p.Ingress.Start(ctx)
	}()

	select {
	case <-ctx.Done():
		return nil
	case err := <-errCh:
		return err
	}
}

// Close releases every resource the Pipeline opened.
func (p *Pipeline) Close() {
	p.Pool.Close()
	p.tenantMap.Close()
	p.deadLetters.Close()
	if p.natsBridge != nil {
		p.natsBridge.Close()
	}
	if p.redis != nil {
		p.redis.Close()
	}
	p.Store.Close()
}
