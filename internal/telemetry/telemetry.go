// Package telemetry bootstraps an OpenTelemetry tracer provider for the
// broker. Every turn dispatched through internal/dispatch gets one root
// span ("turn") with child spans for the agent run ("agent.run") and each
// tool call ("tool.<name>"), built on the OpenTelemetry SDK.
package telemetry

import (
	"context"
	"fmt"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// ShutdownFunc flushes and closes the tracer provider. Call it during
// graceful shutdown, after the last span of the process has been recorded.
type ShutdownFunc func(context.Context) error

// noopShutdown is returned when tracing is disabled (no endpoint configured),
// so callers never need a nil check before deferring it.
func noopShutdown(context.Context) error { return nil }

// Init configures the global TracerProvider. An empty endpoint disables
// tracing entirely: Tracer() still works, but every span is a no-op, which
// keeps dispatch.Pool's instrumentation unconditional.
func Init(ctx context.Context, serviceName, endpoint string) (ShutdownFunc, error) {
	if endpoint == "" {
		return noopShutdown, nil
	}

	exporter, err := newExporter(ctx, endpoint)
	if err != nil {
		return noopShutdown, fmt.Errorf("telemetry: build exporter: %w", err)
	}

	res, err := resource.New(ctx, resource.WithAttributes(
		attribute.String("service.name", serviceName),
	))
	if err != nil {
		return noopShutdown, fmt.Errorf("telemetry: build resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	return tp.Shutdown, nil
}

// newExporter picks gRPC or HTTP transport from the endpoint's scheme, the
// same convention the OTEL_EXPORTER_OTLP_ENDPOINT env var follows upstream:
// an explicit http(s):// endpoint uses the HTTP exporter, anything else
// (typically a bare host:port) uses gRPC.
func newExporter(ctx context.Context, endpoint string) (*otlptrace.Exporter, error) {
	if strings.HasPrefix(endpoint, "http://") || strings.HasPrefix(endpoint, "https://") {
		client := otlptracehttp.NewClient(otlptracehttp.WithEndpointURL(endpoint))
		return otlptrace.New(ctx, client)
	}
	client := otlptracegrpc.NewClient(
		otlptracegrpc.WithEndpoint(endpoint),
		otlptracegrpc.WithInsecure(),
	)
	return otlptrace.New(ctx, client)
}

// Tracer returns the broker's tracer. Safe to call before Init: it then
// resolves against the no-op global provider and every span is a no-op.
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/choptalini/chatbot")
}
