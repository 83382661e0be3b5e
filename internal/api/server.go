// Package api provides the HTTP server that receives platform events.
package api

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/stacklok/trello-extractor/internal/api/common"
	"github.com/stacklok/trello-extractor/internal/versions"
)

// ServerOption configures the event server
type ServerOption func(*serverConfig)

// serverConfig holds the server configuration
type serverConfig struct {
	middlewares    []func(http.Handler) http.Handler
	metricsHandler http.Handler
	maxBodyBytes   int64
}

// DefaultMaxBodyBytes caps the size of an inbound event
const DefaultMaxBodyBytes = 10 << 20

// WithMiddlewares adds middleware to the server
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.middlewares = append(cfg.middlewares, mw...)
	}
}

// WithMetricsHandler serves h on /metrics
func WithMetricsHandler(h http.Handler) ServerOption {
	return func(cfg *serverConfig) {
		cfg.metricsHandler = h
	}
}

// WithMaxBodyBytes caps the size of an inbound event
func WithMaxBodyBytes(n int64) ServerOption {
	return func(cfg *serverConfig) {
		if n > 0 {
			cfg.maxBodyBytes = n
		}
	}
}

// NewServer creates and configures the HTTP router for the given event handler
func NewServer(handler EventHandler, opts ...ServerOption) *chi.Mux {
	cfg := &serverConfig{
		middlewares:  []func(http.Handler) http.Handler{},
		maxBodyBytes: DefaultMaxBodyBytes,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	r := chi.NewRouter()
	for _, mw := range cfg.middlewares {
		r.Use(mw)
	}

	r.Get("/health", healthHandler)
	r.Get("/version", versionHandler)
	if cfg.metricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", cfg.metricsHandler)
	}

	r.Route("/v1", func(r chi.Router) {
		r.Post("/events", eventsHandler(handler, cfg.maxBodyBytes))
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		common.WriteErrorResponse(w, "not found", http.StatusNotFound)
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		common.WriteErrorResponse(w, "method not allowed", http.StatusMethodNotAllowed)
	})

	return r
}

// LoggingMiddleware logs HTTP requests
func LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		slog.DebugContext(r.Context(), "HTTP request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func healthHandler(w http.ResponseWriter, _ *http.Request) {
	common.WriteJSONResponse(w, HealthResponse{Status: "healthy"}, http.StatusOK)
}

func versionHandler(w http.ResponseWriter, _ *http.Request) {
	info := versions.GetVersionInfo()
	common.WriteJSONResponse(w, VersionResponse{
		Version:   info.Version,
		Commit:    info.Commit,
		BuildDate: info.BuildDate,
		GoVersion: info.GoVersion,
		Platform:  info.Platform,
	}, http.StatusOK)
}
