package app

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stacklok/trello-extractor/internal/trello"
)

func newCheckAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check-auth",
		Short: "Verify a Trello connection key",
		Long: `Verify a Trello connection key by fetching the member that owns the token.

The key has the form "key=<api key>&token=<token>" and is read from the
TRELLO_EXTRACTOR_CONNECTION_KEY environment variable, from the terminal, or
from standard input.`,
		Args: cobra.NoArgs,
		RunE: runCheckAuth,
	}

	cmd.Flags().String("config", "", "Path to configuration file (YAML format, optional)")
	cmd.Flags().String("format", "", "Output format (table or json)")
	return cmd
}

func runCheckAuth(cmd *cobra.Command, _ []string) error {
	ctx := context.Background()

	cfg, err := loadOptionalConfig(cmd)
	if err != nil {
		return err
	}
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}

	key, err := readConnectionKey(cmd)
	if err != nil {
		return err
	}
	creds, err := trello.ParseConnectionKey(key)
	if err != nil {
		return err
	}

	client := trello.NewClient(cfg.Trello.GetBaseURL(), creds, cfg.Trello.GetTimeout())
	me, err := client.GetMe(ctx)
	if err != nil {
		return fmt.Errorf("authentication check failed: %w", err)
	}

	if format == formatJSON {
		out, err := json.MarshalIndent(me, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to encode member: %w", err)
		}
		_, err = fmt.Fprintln(cmd.OutOrStdout(), string(out))
		return err
	}

	_, err = fmt.Fprintf(cmd.OutOrStdout(), "Authenticated as %s (@%s)\n", me.FullName, me.Username)
	return err
}
