// Package app provides the command line interface of the Trello extractor.
package app

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stacklok/trello-extractor/internal/versions"
)

// NewRootCmd creates a new root command for the extractor.
func NewRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:               "trello-extractor",
		DisableAutoGenTag: true,
		Short:             "Trello extractor",
		Long: `Trello extractor exports users, cards and attachments from a Trello organization
into normalized artifacts, driven by platform extraction events.`,
		SilenceUsage: true,
		Run: func(cmd *cobra.Command, _ []string) {
			// If no subcommand is provided, print help
			if err := cmd.Help(); err != nil {
				slog.Error("Error displaying help", "error", err)
			}
		},
	}

	rootCmd.AddCommand(newServeCmd())
	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newCheckAuthCmd())
	rootCmd.AddCommand(newDiscoverCmd())
	rootCmd.AddCommand(newMigrateCmd())
	rootCmd.AddCommand(newVersionCmd())

	return rootCmd
}

func newVersionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		RunE: func(cmd *cobra.Command, _ []string) error {
			info := versions.GetVersionInfo()
			format, err := cmd.Flags().GetString("format")
			if err != nil {
				return fmt.Errorf("failed to get format flag: %w", err)
			}

			if format == formatJSON {
				output, err := json.MarshalIndent(info, "", "  ")
				if err != nil {
					return fmt.Errorf("failed to format version info as JSON: %w", err)
				}
				_, err = fmt.Fprintln(cmd.OutOrStdout(), string(output))
				return err
			}

			slog.Info("trello-extractor version",
				"version", info.Version,
				"commit", info.Commit,
				"built", info.BuildDate,
				"go", info.GoVersion,
				"platform", info.Platform,
				"release", versions.IsRelease(info.Version))
			return nil
		},
	}
	cmd.Flags().String("format", "", "Output format (json)")
	return cmd
}
