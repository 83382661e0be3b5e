package telemetry

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
)

// newPrometheusReader creates a metric reader backed by its own registry,
// together with the handler that serves that registry
func newPrometheusReader() (*otelprom.Exporter, http.Handler, error) {
	registry := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(registry))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}
	return exporter, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}
