package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/netip"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/stacklok/trello-extractor/internal/api"
	"github.com/stacklok/trello-extractor/internal/app/storage"
	"github.com/stacklok/trello-extractor/internal/callback"
	"github.com/stacklok/trello-extractor/internal/config"
	"github.com/stacklok/trello-extractor/internal/extraction"
	"github.com/stacklok/trello-extractor/internal/telemetry"
	"github.com/stacklok/trello-extractor/internal/trello"
	"github.com/stacklok/trello-extractor/internal/versions"
	"github.com/stacklok/trello-extractor/internal/worker"
)

const (
	defaultHTTPAddress = ":8080"
	defaultReadTimeout = 10 * time.Second
	defaultIdleTimeout = 60 * time.Second

	// writeTimeoutMargin is added on top of the invocation and emit
	// deadlines so the response is never cut off by the server
	writeTimeoutMargin = 30 * time.Second
)

// ExtractorAppOptions is a function that configures the extractor app builder
type ExtractorAppOptions func(*extractorAppConfig) error

// extractorAppConfig collects the inputs of NewExtractorApp.
// It supports dependency injection for testing while providing sensible defaults for production
type extractorAppConfig struct {
	config *config.Config

	// Optional component overrides (primarily for testing)
	storageFactory storage.Factory
	clientFactory  worker.ClientFactory
	emitter        worker.Emitter
	telemetry      *telemetry.Telemetry

	// HTTP server options
	address     string
	middlewares []func(http.Handler) http.Handler
	readTimeout time.Duration
	idleTimeout time.Duration
}

func baseConfig(opts ...ExtractorAppOptions) (*extractorAppConfig, error) {
	cfg := &extractorAppConfig{
		address:     defaultHTTPAddress,
		readTimeout: defaultReadTimeout,
		idleTimeout: defaultIdleTimeout,
	}

	for _, opt := range opts {
		if err := opt(cfg); err != nil {
			return nil, err
		}
	}

	if cfg.config == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}

	return cfg, nil
}

// NewExtractorApp creates the extractor with all of its components wired together
func NewExtractorApp(
	ctx context.Context,
	opts ...ExtractorAppOptions,
) (*ExtractorApp, error) {
	cfg, err := baseConfig(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to build base configuration: %w", err)
	}

	if cfg.telemetry == nil {
		var telemetryOpts []telemetry.ProviderOption
		if tc := cfg.config.Telemetry; tc == nil || tc.ServiceVersion == "" {
			telemetryOpts = append(telemetryOpts, telemetry.WithServiceVersion(versions.Version))
		}
		cfg.telemetry, err = telemetry.New(ctx, cfg.config.Telemetry, telemetryOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize telemetry: %w", err)
		}
	}

	if cfg.storageFactory == nil {
		cfg.storageFactory, err = storage.NewStorageFactory(ctx, cfg.config)
		if err != nil {
			_ = cfg.telemetry.Shutdown(ctx)
			return nil, fmt.Errorf("failed to create storage factory: %w", err)
		}
	}

	// Ensure cleanup happens on error
	var cleanupNeeded = true
	defer func() {
		if cleanupNeeded {
			cfg.storageFactory.Cleanup()
			_ = cfg.telemetry.Shutdown(ctx)
		}
	}()

	w, err := buildWorker(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to build worker: %w", err)
	}

	httpServer, err := buildHTTPServer(ctx, cfg, w)
	if err != nil {
		return nil, fmt.Errorf("failed to build HTTP server: %w", err)
	}

	appCtx, cancel := context.WithCancel(ctx)

	// Cleanup is now handled by the app, not in defer
	cleanupNeeded = false

	storageFactory := cfg.storageFactory
	cancelFunc := func() {
		storageFactory.Cleanup()
		cancel()
	}

	return &ExtractorApp{
		config: cfg.config,
		components: &AppComponents{
			Worker:    w,
			Telemetry: cfg.telemetry,
			Storage:   cfg.storageFactory,
		},
		httpServer: httpServer,
		ctx:        appCtx,
		cancelFunc: cancelFunc,
	}, nil
}

// WithConfig sets the configuration
func WithConfig(c *config.Config) ExtractorAppOptions {
	return func(cfg *extractorAppConfig) error {
		cfg.config = c
		return nil
	}
}

// WithAddress sets the HTTP server address
func WithAddress(addr string) ExtractorAppOptions {
	return func(cfg *extractorAppConfig) error {
		if addr == "" {
			return fmt.Errorf("address cannot be empty")
		}

		parts := strings.SplitN(addr, ":", 2)
		if len(parts) != 2 || parts[1] == "" {
			return fmt.Errorf("address is not a valid port: %s", addr)
		}
		host, port := parts[0], parts[1]
		if host == "localhost" {
			host = "127.0.0.1"
		}
		if host == "" {
			host = "0.0.0.0"
		}

		if _, err := netip.ParseAddrPort(host + ":" + port); err != nil {
			return fmt.Errorf("address is not a valid port: %w", err)
		}

		cfg.address = addr
		return nil
	}
}

// WithMiddlewares sets custom HTTP middlewares
func WithMiddlewares(mw ...func(http.Handler) http.Handler) ExtractorAppOptions {
	return func(cfg *extractorAppConfig) error {
		cfg.middlewares = mw
		return nil
	}
}

// WithStorageFactory allows injecting a custom storage factory (for testing)
func WithStorageFactory(f storage.Factory) ExtractorAppOptions {
	return func(cfg *extractorAppConfig) error {
		cfg.storageFactory = f
		return nil
	}
}

// WithClientFactory allows injecting the Trello client constructor (for testing)
func WithClientFactory(f worker.ClientFactory) ExtractorAppOptions {
	return func(cfg *extractorAppConfig) error {
		cfg.clientFactory = f
		return nil
	}
}

// WithEmitter allows injecting the signal emitter (for testing)
func WithEmitter(e worker.Emitter) ExtractorAppOptions {
	return func(cfg *extractorAppConfig) error {
		cfg.emitter = e
		return nil
	}
}

// WithTelemetry uses already initialized telemetry providers
func WithTelemetry(t *telemetry.Telemetry) ExtractorAppOptions {
	return func(cfg *extractorAppConfig) error {
		cfg.telemetry = t
		return nil
	}
}

// buildWorker builds the event worker and its dependencies
func buildWorker(ctx context.Context, b *extractorAppConfig) (*worker.Worker, error) {
	slog.Info("Initializing worker")

	ledgers, err := b.storageFactory.CreateLedgerStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create ledger store: %w", err)
	}

	artifactStore, err := b.storageFactory.CreateArtifactStore(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to create artifact store: %w", err)
	}

	if b.clientFactory == nil {
		trelloCfg := b.config.Trello
		b.clientFactory = func(creds trello.Credentials) worker.TrelloClient {
			return trello.NewClient(trelloCfg.GetBaseURL(), creds, trelloCfg.GetTimeout())
		}
	}

	if b.emitter == nil {
		b.emitter = callback.NewEmitter(
			callback.WithMaxRetries(b.config.Callback.GetMaxRetries()),
			callback.WithHTTPClient(&http.Client{
				Timeout:   b.config.Callback.GetTimeout(),
				Transport: otelhttp.NewTransport(http.DefaultTransport),
			}),
		)
	}

	workerMetrics, err := telemetry.NewWorkerMetrics(b.telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create worker metrics: %w", err)
	}
	extractionMetrics, err := telemetry.NewExtractionMetrics(b.telemetry.MeterProvider())
	if err != nil {
		return nil, fmt.Errorf("failed to create extraction metrics: %w", err)
	}

	orchestratorOpts := []extraction.Option{
		extraction.WithPageSize(b.config.Trello.GetPageSize()),
	}
	if b.config.Artifacts.MaxAttachmentBytes > 0 {
		orchestratorOpts = append(orchestratorOpts,
			extraction.WithAttachmentBudget(b.config.Artifacts.MaxAttachmentBytes))
	}

	w := worker.New(b.clientFactory, ledgers, artifactStore, b.emitter,
		worker.WithTimeout(b.config.Worker.GetTimeout()),
		worker.WithEmitTimeout(b.config.Worker.GetEmitTimeout()),
		worker.WithMetrics(workerMetrics, extractionMetrics),
		worker.WithTracer(b.telemetry.Tracer(worker.TracerName)),
		worker.WithOrchestratorOptions(orchestratorOpts...),
	)

	slog.Info("Worker initialized",
		"ledger_type", b.config.GetLedgerType(),
		"timeout", b.config.Worker.GetTimeout().String())
	return w, nil
}

// buildHTTPServer builds the HTTP server with router and middleware
//
//nolint:unparam // we prefer having a similar interface
func buildHTTPServer(
	_ context.Context,
	b *extractorAppConfig,
	handler api.EventHandler,
) (*http.Server, error) {
	slog.Info("Initializing HTTP server")

	if b.middlewares == nil {
		b.middlewares = []func(http.Handler) http.Handler{
			middleware.RequestID,
			middleware.RealIP,
			middleware.Recoverer,
			api.LoggingMiddleware,
		}
	}

	var metricsHandler http.Handler
	if b.telemetry != nil {
		httpMetrics, err := telemetry.NewHTTPMetrics(b.telemetry.MeterProvider())
		if err != nil {
			return nil, fmt.Errorf("failed to create HTTP metrics: %w", err)
		}
		// Prepend so rejected requests are measured and traced too
		b.middlewares = append([]func(http.Handler) http.Handler{
			httpMetrics.Middleware,
			telemetry.TracingMiddleware(b.telemetry.TracerProvider()),
		}, b.middlewares...)
		metricsHandler = b.telemetry.MetricsHandler()
	}

	router := api.NewServer(handler,
		api.WithMiddlewares(b.middlewares...),
		api.WithMetricsHandler(metricsHandler),
	)

	// Events are processed synchronously, so the write deadline must outlast
	// the invocation and the final emit.
	writeTimeout := writeTimeoutMargin
	if b.config != nil {
		writeTimeout += b.config.Worker.GetTimeout() + b.config.Worker.GetEmitTimeout()
	}

	server := &http.Server{
		Addr:         b.address,
		Handler:      router,
		ReadTimeout:  b.readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  b.idleTimeout,
	}

	slog.Info("HTTP server configured", "address", b.address, "write_timeout", writeTimeout.String())
	return server, nil
}
