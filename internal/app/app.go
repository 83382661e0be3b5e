// Package app provides application lifecycle management for the extractor server.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/stacklok/trello-extractor/internal/config"
	"github.com/stacklok/trello-extractor/internal/event"
)

// ExtractorApp encapsulates all components needed to run the extractor
// It provides lifecycle management and graceful shutdown capabilities
type ExtractorApp struct {
	config     *config.Config
	components *AppComponents
	httpServer *http.Server

	// Lifecycle management
	ctx        context.Context
	cancelFunc context.CancelFunc
}

// Start serves platform events over HTTP.
// This method blocks until the HTTP server stops or encounters an error
func (app *ExtractorApp) Start() error {
	slog.Info("Server listening", "address", app.httpServer.Addr)
	if err := app.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("HTTP server failed: %w", err)
	}

	return nil
}

// Handle processes a single event without going through the HTTP server
func (app *ExtractorApp) Handle(ctx context.Context, ev event.Event) (event.Signal, error) {
	return app.components.Worker.Handle(ctx, ev)
}

// Stop gracefully stops the application with the given timeout.
// In-flight events are allowed to finish before storage and telemetry are
// released.
func (app *ExtractorApp) Stop(timeout time.Duration) error {
	slog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	var errs []error
	if err := app.httpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("server forced to shutdown: %w", err))
	}

	if app.cancelFunc != nil {
		app.cancelFunc()
	}

	if app.components.Telemetry != nil {
		if err := app.components.Telemetry.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	slog.Info("Server shutdown complete")
	return nil
}

// Close releases storage and telemetry without an HTTP server shutdown.
// It is used by one-shot commands that never call Start.
func (app *ExtractorApp) Close(ctx context.Context) error {
	if app.cancelFunc != nil {
		app.cancelFunc()
	}
	if app.components.Telemetry != nil {
		return app.components.Telemetry.Shutdown(ctx)
	}
	return nil
}

// GetConfig returns the application configuration
func (app *ExtractorApp) GetConfig() *config.Config {
	return app.config
}

// GetHTTPServer returns the HTTP server (useful for testing to get the actual port)
func (app *ExtractorApp) GetHTTPServer() *http.Server {
	return app.httpServer
}
