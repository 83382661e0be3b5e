package telemetry

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

// DefaultMetricsInterval is how often the periodic reader pushes metrics
const DefaultMetricsInterval = 60 * time.Second

// ProviderOption configures NewTracerProvider and NewMeterProvider
type ProviderOption func(*providerConfig)

type providerConfig struct {
	serviceName    string
	serviceVersion string
	endpoint       string
	insecure       bool
	tracing        *TracingConfig
	metrics        *MetricsConfig
	metricsReader  sdkmetric.Reader
}

func newProviderConfig(opts []ProviderOption) *providerConfig {
	cfg := &providerConfig{
		serviceName:    DefaultServiceName,
		serviceVersion: "unknown",
		endpoint:       DefaultEndpoint,
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// WithServiceName sets service.name on the exported resource
func WithServiceName(name string) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.serviceName = name
	}
}

// WithServiceVersion sets service.version on the exported resource
func WithServiceVersion(version string) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.serviceVersion = version
	}
}

// WithEndpoint sets the OTLP/HTTP collector address
func WithEndpoint(endpoint string) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.endpoint = endpoint
	}
}

// WithInsecure disables TLS towards the collector
func WithInsecure(insecure bool) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.insecure = insecure
	}
}

// WithTracing enables the tracer provider when tc.Enabled is set
func WithTracing(tc *TracingConfig) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.tracing = tc
	}
}

// WithMetrics enables the meter provider when mc.Enabled is set
func WithMetrics(mc *MetricsConfig) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.metrics = mc
	}
}

// WithMetricsReader replaces the OTLP periodic reader, mainly for tests
func WithMetricsReader(reader sdkmetric.Reader) ProviderOption {
	return func(cfg *providerConfig) {
		cfg.metricsReader = reader
	}
}

func (cfg *providerConfig) resource(ctx context.Context) (*resource.Resource, error) {
	// resource.New instead of resource.Default avoids schema URL conflicts
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.serviceName),
			semconv.ServiceVersion(cfg.serviceVersion),
		),
		resource.WithHost(),
		resource.WithTelemetrySDK(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}
	return res, nil
}

// NewTracerProvider builds an OTLP tracer provider and installs it, together
// with the W3C trace context propagator, as the global provider.
// A no-op provider is returned when tracing is not enabled.
func NewTracerProvider(ctx context.Context, opts ...ProviderOption) (trace.TracerProvider, error) {
	cfg := newProviderConfig(opts)
	if cfg.tracing == nil || !cfg.tracing.Enabled {
		slog.Debug("Tracing disabled, using no-op tracer provider")
		return tracenoop.NewTracerProvider(), nil
	}

	res, err := cfg.resource(ctx)
	if err != nil {
		return nil, err
	}

	exporterOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(cfg.endpoint)}
	if cfg.insecure {
		exporterOpts = append(exporterOpts, otlptracehttp.WithInsecure())
	}
	exporter, err := otlptracehttp.New(ctx, exporterOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create OTLP trace exporter: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(exporter),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.tracing.GetSampling()))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	if cfg.insecure {
		slog.Warn("Tracing configured with insecure connection, spans are sent over plain HTTP")
	}
	slog.Info("Tracing initialized",
		"endpoint", cfg.endpoint,
		"sampling_ratio", cfg.tracing.GetSampling(),
	)
	return tp, nil
}

// NewMeterProvider builds an OTLP meter provider and installs it as the
// global provider. A no-op provider is returned when metrics are not enabled.
func NewMeterProvider(ctx context.Context, opts ...ProviderOption) (metric.MeterProvider, error) {
	cfg := newProviderConfig(opts)
	if cfg.metrics == nil || !cfg.metrics.Enabled {
		slog.Debug("Metrics disabled, using no-op meter provider")
		return metricnoop.NewMeterProvider(), nil
	}

	res, err := cfg.resource(ctx)
	if err != nil {
		return nil, err
	}

	reader := cfg.metricsReader
	if reader == nil {
		exporterOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(cfg.endpoint)}
		if cfg.insecure {
			exporterOpts = append(exporterOpts, otlpmetrichttp.WithInsecure())
		}
		exporter, err := otlpmetrichttp.New(ctx, exporterOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create OTLP metric exporter: %w", err)
		}
		reader = sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(DefaultMetricsInterval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(reader),
	)
	otel.SetMeterProvider(mp)

	slog.Info("Metrics initialized", "endpoint", cfg.endpoint)
	return mp, nil
}
