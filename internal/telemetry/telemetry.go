package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry owns the tracer and meter providers for the lifetime of the process
type Telemetry struct {
	tracerProvider trace.TracerProvider
	meterProvider  metric.MeterProvider
	metricsHandler http.Handler
}

// New builds the providers described by cfg. A nil or disabled config yields
// no-op providers. Callers must call Shutdown before exiting so pending spans
// and metrics are flushed.
func New(ctx context.Context, cfg *Config, opts ...ProviderOption) (*Telemetry, error) {
	if cfg == nil || !cfg.Enabled {
		slog.Debug("Telemetry disabled")
		cfg = &Config{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry configuration: %w", err)
	}

	base := []ProviderOption{
		WithServiceName(cfg.GetServiceName()),
		WithServiceVersion(cfg.GetServiceVersion()),
		WithEndpoint(cfg.GetEndpoint()),
		WithInsecure(cfg.Insecure),
	}
	if cfg.TracingEnabled() {
		base = append(base, WithTracing(cfg.Tracing))
	}
	var metricsHandler http.Handler
	if cfg.MetricsEnabled() {
		base = append(base, WithMetrics(cfg.Metrics))
		if cfg.Metrics.Prometheus {
			reader, handler, err := newPrometheusReader()
			if err != nil {
				return nil, err
			}
			base = append(base, WithMetricsReader(reader))
			metricsHandler = handler
		}
	}
	base = append(base, opts...)

	tracerProvider, err := NewTracerProvider(ctx, base...)
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer provider: %w", err)
	}

	meterProvider, err := NewMeterProvider(ctx, base...)
	if err != nil {
		if tp, ok := tracerProvider.(*sdktrace.TracerProvider); ok {
			_ = tp.Shutdown(ctx)
		}
		return nil, fmt.Errorf("failed to create meter provider: %w", err)
	}

	if cfg.Enabled {
		slog.Info("Telemetry initialized",
			"service_name", cfg.GetServiceName(),
			"service_version", cfg.GetServiceVersion(),
			"tracing", cfg.TracingEnabled(),
			"metrics", cfg.MetricsEnabled(),
		)
	}

	return &Telemetry{
		tracerProvider: tracerProvider,
		meterProvider:  meterProvider,
		metricsHandler: metricsHandler,
	}, nil
}

// MetricsHandler serves the Prometheus scrape endpoint. It is nil unless
// metrics are exposed through Prometheus.
func (t *Telemetry) MetricsHandler() http.Handler {
	return t.metricsHandler
}

// TracerProvider returns the configured tracer provider
func (t *Telemetry) TracerProvider() trace.TracerProvider {
	return t.tracerProvider
}

// MeterProvider returns the configured meter provider
func (t *Telemetry) MeterProvider() metric.MeterProvider {
	return t.meterProvider
}

// Tracer returns a named tracer from the tracer provider
func (t *Telemetry) Tracer(name string, opts ...trace.TracerOption) trace.Tracer {
	return t.tracerProvider.Tracer(name, opts...)
}

// Shutdown flushes and stops the SDK providers
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error

	if tp, ok := t.tracerProvider.(*sdktrace.TracerProvider); ok {
		if err := tp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown tracer provider: %w", err))
		}
	}
	if mp, ok := t.meterProvider.(*sdkmetric.MeterProvider); ok {
		if err := mp.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to shutdown meter provider: %w", err))
		}
	}

	return errors.Join(errs...)
}
