// Package config loads the per-sender tenant map and process-tuning
// parameters described in spec.md §1 and §6. Two layers, matching the
// teacher's file+env overlay pattern but split along the grain of the
// data: the tenant map is many rows (JSON5 file, hot-reloadable), process
// tuning is flat scalars (environment, struct-tag bound).
package config

import (
	"fmt"
	"time"
)

// Process holds the flat, scalar process-tuning parameters enumerated in
// spec.md §6. Bound from the environment with caarlos0/env struct tags.
type Process struct {
	DatabaseURL string `env:"DATABASE_URL"`

	BSPAPIKey  string `env:"BSP_API_KEY"`
	BSPBaseURL string `env:"BSP_BASE_URL" envDefault:"https://api.bsp.example.com"`

	AnthropicAPIKey  string `env:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `env:"ANTHROPIC_BASE_URL"`
	SystemPrompt     string `env:"SYSTEM_PROMPT"`

	DebounceSeconds         int `env:"DEBOUNCE_SECONDS" envDefault:"3"`
	MaxCoalesceSpanSeconds  int `env:"MAX_COALESCE_SPAN_SECONDS" envDefault:"10"`
	MaxWorkers              int `env:"MAX_WORKERS" envDefault:"5"`
	QueueCapacity           int `env:"QUEUE_CAPACITY" envDefault:"1024"`
	AgentDeadlineSeconds    int `env:"AGENT_DEADLINE_SECONDS" envDefault:"60"`
	TransportTimeoutSeconds int `env:"TRANSPORT_TIMEOUT_SECONDS" envDefault:"30"`
	TransportMaxRetries     int `env:"TRANSPORT_MAX_RETRIES" envDefault:"3"`

	ShopifyWebhookSecret string `env:"SHOPIFY_WEBHOOK_SECRET"`

	EnableMultiTenant    bool `env:"ENABLE_MULTI_TENANT" envDefault:"true"`
	EnableUsageTracking  bool `env:"ENABLE_USAGE_TRACKING" envDefault:"true"`
	EnableActionsCenter  bool `env:"ENABLE_ACTIONS_CENTER" envDefault:"true"`
	RouteByDestination   bool `env:"ROUTE_BY_DESTINATION" envDefault:"true"`

	RedisURL         string `env:"REDIS_URL"`
	BroadcastNATSURL string `env:"BROADCAST_NATS_URL"`

	GatewayHost string `env:"GATEWAY_HOST" envDefault:"0.0.0.0"`
	GatewayPort int    `env:"GATEWAY_PORT" envDefault:"8080"`

	TenantMapPath string `env:"TENANT_MAP_PATH" envDefault:"tenants.json5"`

	DeadLetterPath string `env:"DEAD_LETTER_PATH" envDefault:"deadletter.db"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`

	MaintenanceCron string `env:"MAINTENANCE_CRON" envDefault:"17 3 * * *"`
}

// DebounceWindow is the configured coalescing window, floored at 10ms per
// spec.md §4.3 ("also bounded below by a short floor... for single-message
// traffic").
func (p *Process) DebounceWindow() time.Duration {
	d := time.Duration(p.DebounceSeconds) * time.Second
	const floor = 10 * time.Millisecond
	if d < floor {
		return floor
	}
	return d
}

// MaxCoalesceSpan is the hard ceiling on how long a PendingTurn can be
// extended before it must dispatch regardless of new arrivals.
func (p *Process) MaxCoalesceSpan() time.Duration {
	return time.Duration(p.MaxCoalesceSpanSeconds) * time.Second
}

func (p *Process) AgentDeadline() time.Duration {
	return time.Duration(p.AgentDeadlineSeconds) * time.Second
}

func (p *Process) TransportTimeout() time.Duration {
	return time.Duration(p.TransportTimeoutSeconds) * time.Second
}

// Validate enforces the startup-time invariants from spec.md §5: the
// worker pool size must not exceed the store connection pool capacity
// minus a reservation for ingress handlers.
func (p *Process) Validate(storePoolSize, ingressReservation int) error {
	if p.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if p.MaxWorkers <= 0 {
		return fmt.Errorf("config: MAX_WORKERS must be positive")
	}
	if p.QueueCapacity <= 0 {
		return fmt.Errorf("config: QUEUE_CAPACITY must be positive")
	}
	if storePoolSize > 0 && storePoolSize < p.MaxWorkers+ingressReservation {
		return fmt.Errorf(
			"config: store pool size %d is smaller than MAX_WORKERS(%d)+ingress_reservation(%d)",
			storePoolSize, p.MaxWorkers, ingressReservation,
		)
	}
	return nil
}
