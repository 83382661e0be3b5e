package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/stacklok/trello-extractor/internal/app"
	"github.com/stacklok/trello-extractor/internal/config"
	"github.com/stacklok/trello-extractor/internal/event"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Handle a single extraction event",
		Long: `Handle a single extraction event read from a file or standard input and
print the emitted signal. The signal is also delivered to the event's callback URL.

Examples:
  trello-extractor run --config config.yaml --event event.json
  cat event.json | trello-extractor run --config config.yaml`,
		RunE: runEvent,
	}

	cmd.Flags().String("config", "", "Path to configuration file (YAML format, required)")
	cmd.Flags().String("event", "-", "Path to the event JSON, or - for standard input")
	if err := cmd.MarkFlagRequired("config"); err != nil {
		panic(err)
	}
	return cmd
}

func runEvent(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}
	eventPath, err := cmd.Flags().GetString("event")
	if err != nil {
		return fmt.Errorf("failed to get event flag: %w", err)
	}

	ev, err := readEvent(cmd.InOrStdin(), eventPath)
	if err != nil {
		return err
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	extractor, err := app.NewExtractorApp(ctx, app.WithConfig(cfg))
	if err != nil {
		return fmt.Errorf("failed to create extractor: %w", err)
	}
	defer func() { _ = extractor.Close(ctx) }()

	signal, handleErr := extractor.Handle(ctx, ev)
	if err := writeSignal(cmd.OutOrStdout(), signal); err != nil {
		return err
	}
	return handleErr
}

// readEvent decodes one event from path, or from stdin when path is "-"
func readEvent(stdin io.Reader, path string) (event.Event, error) {
	var (
		raw []byte
		err error
	)
	if path == "" || path == "-" {
		raw, err = io.ReadAll(stdin)
	} else {
		raw, err = os.ReadFile(path) // #nosec G304 -- path is provided by the operator
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read event: %w", err)
	}

	ev, err := event.DecodeBatch(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to decode event: %w", err)
	}
	return ev, nil
}

func writeSignal(w io.Writer, s event.Signal) error {
	out, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode signal: %w", err)
	}
	_, err = fmt.Fprintln(w, string(out))
	return err
}
