// Package telemetry wires OpenTelemetry tracing and metrics for the extractor.
// Both signals are exported over OTLP/HTTP, metrics optionally through a
// Prometheus scrape endpoint instead, and fall back to no-op providers when
// disabled.
package telemetry

import (
	"errors"
	"fmt"
)

const (
	// DefaultServiceName is reported as service.name when none is configured
	DefaultServiceName = "trello-extractor"

	// DefaultEndpoint is the default OTLP/HTTP collector address
	DefaultEndpoint = "localhost:4318"

	// DefaultSampling is the trace sampling ratio used when tracing is enabled
	// without an explicit ratio
	DefaultSampling = 0.05
)

// Config represents the telemetry section of the extractor configuration
type Config struct {
	// Enabled turns telemetry on. When false no exporter is created.
	Enabled bool `yaml:"enabled"`

	// ServiceName defaults to "trello-extractor"
	ServiceName string `yaml:"serviceName,omitempty"`

	// ServiceVersion defaults to the binary version
	ServiceVersion string `yaml:"serviceVersion,omitempty"`

	// Endpoint is the OTLP collector as "host:port"
	Endpoint string `yaml:"endpoint,omitempty"`

	// Insecure sends telemetry over plain HTTP
	Insecure bool `yaml:"insecure,omitempty"`

	Tracing *TracingConfig `yaml:"tracing,omitempty"`
	Metrics *MetricsConfig `yaml:"metrics,omitempty"`
}

// TracingConfig defines tracing-specific configuration
type TracingConfig struct {
	Enabled bool `yaml:"enabled"`

	// Sampling is the ratio of traces kept, between 0.0 and 1.0.
	// Zero selects DefaultSampling.
	Sampling float64 `yaml:"sampling,omitempty"`
}

// MetricsConfig defines metrics-specific configuration
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`

	// Prometheus serves metrics for scraping on /metrics instead of pushing
	// them over OTLP
	Prometheus bool `yaml:"prometheus,omitempty"`
}

// GetServiceName returns the service name, using default if not specified
func (c *Config) GetServiceName() string {
	if c.ServiceName == "" {
		return DefaultServiceName
	}
	return c.ServiceName
}

// GetServiceVersion returns the service version, using "unknown" if not specified
func (c *Config) GetServiceVersion() string {
	if c.ServiceVersion == "" {
		return "unknown"
	}
	return c.ServiceVersion
}

// GetEndpoint returns the endpoint, using default if not specified
func (c *Config) GetEndpoint() string {
	if c.Endpoint == "" {
		return DefaultEndpoint
	}
	return c.Endpoint
}

// GetSampling returns the sampling ratio.
// An unset (zero) ratio cannot be told apart from an explicit zero in YAML,
// so zero maps to DefaultSampling.
func (c *TracingConfig) GetSampling() float64 {
	if c.Sampling == 0.0 {
		return DefaultSampling
	}
	return c.Sampling
}

// TracingEnabled reports whether a real tracer provider should be built
func (c *Config) TracingEnabled() bool {
	return c != nil && c.Enabled && c.Tracing != nil && c.Tracing.Enabled
}

// MetricsEnabled reports whether a real meter provider should be built
func (c *Config) MetricsEnabled() bool {
	return c != nil && c.Enabled && c.Metrics != nil && c.Metrics.Enabled
}

// Validate validates the telemetry configuration. A nil or disabled
// configuration is always valid.
func (c *Config) Validate() error {
	if c == nil || !c.Enabled {
		return nil
	}

	var errs []error
	if c.Tracing != nil && c.Tracing.Enabled {
		if c.Tracing.Sampling < 0 || c.Tracing.Sampling > 1.0 {
			errs = append(errs, fmt.Errorf("tracing: sampling must be between 0.0 and 1.0, got %f", c.Tracing.Sampling))
		}
	}
	return errors.Join(errs...)
}
