// Package telemetry sets up OpenTelemetry tracing for Auriance.
package telemetry

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

const (
	DefaultServiceName = "auriance"
	serviceVersion     = "1.0.0"
)

// Config holds the configuration for telemetry.
type Config struct {
	// Endpoint is the OTLP/HTTP traces URL. Tracing is disabled when empty.
	Endpoint    string
	ServiceName string
}

// Provider owns the tracer provider for the process.
type Provider struct {
	enabled bool
	tp      trace.TracerProvider
	sdk     *sdktrace.TracerProvider
}

// NewProvider creates a tracer provider exporting to cfg.Endpoint and installs it
// as the global provider. Without an endpoint it returns a no-op provider.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if cfg.Endpoint == "" {
		slog.Debug("telemetry.NewProvider: tracing disabled")
		return &Provider{tp: noop.NewTracerProvider()}, nil
	}
	name := cfg.ServiceName
	if name == "" {
		name = DefaultServiceName
	}

	exporter, err := otlptracehttp.New(ctx, otlptracehttp.WithEndpointURL(cfg.Endpoint))
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP exporter: %w", err)
	}
	res := resource.NewSchemaless(
		attribute.String("service.name", name),
		attribute.String("service.version", serviceVersion),
	)
	sdk := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(sdk)
	slog.Info("telemetry.NewProvider: tracing enabled", "endpoint", cfg.Endpoint, "service", name)
	return &Provider{enabled: true, tp: sdk, sdk: sdk}, nil
}

// Enabled reports whether spans are exported.
func (p *Provider) Enabled() bool {
	return p.enabled
}

// Tracer returns a named tracer from the provider.
func (p *Provider) Tracer(name string) trace.Tracer {
	return p.tp.Tracer(name)
}

// Shutdown flushes pending spans and stops the exporter.
func (p *Provider) Shutdown(ctx context.Context) error {
	if !p.enabled {
		return nil
	}
	slog.Debug("telemetry.Provider.Shutdown: flushing spans")
	if err := p.sdk.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shut down tracer provider: %w", err)
	}
	return nil
}
