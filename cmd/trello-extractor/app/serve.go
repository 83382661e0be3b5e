package app

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/stacklok/trello-extractor/internal/app"
	"github.com/stacklok/trello-extractor/internal/config"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the extractor server",
		Long: `Start the extractor server to receive platform extraction events.

Events are accepted on POST /v1/events and handled synchronously; the
resulting signal is delivered to the event's callback URL.

The server requires a configuration file (--config) that specifies:
- Trello API settings and page size
- Ledger storage (file or database)
- Artifact location, callback retries and telemetry`,
		RunE: runServe,
	}

	cmd.Flags().String("address", ":8080", "Address to listen on")
	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	address, err := cmd.Flags().GetString("address")
	if err != nil {
		return fmt.Errorf("failed to get address flag: %w", err)
	}
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	slog.Info("Loaded configuration",
		"path", configPath,
		"ledger_type", cfg.GetLedgerType(),
		"trello_base_url", cfg.Trello.GetBaseURL())

	extractor, err := app.NewExtractorApp(ctx,
		app.WithConfig(cfg),
		app.WithAddress(address),
	)
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- extractor.Start()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		_ = extractor.Close(ctx)
		return err
	case sig := <-quit:
		slog.Info("Received signal", "signal", sig.String())
	}

	// In-flight events may run until their own deadline and final emit.
	gracefulTimeout := cfg.Worker.GetTimeout() + cfg.Worker.GetEmitTimeout()
	if err := extractor.Stop(gracefulTimeout); err != nil {
		return err
	}
	return <-errCh
}
