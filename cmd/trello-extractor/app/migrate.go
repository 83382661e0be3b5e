package app

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stacklok/trello-extractor/database"
	"github.com/stacklok/trello-extractor/internal/config"
)

func newMigrateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Database migration tool",
		Long:  `Database migration tool for the ledger schema. Use with 'up' or 'down' subcommands.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Usage()
		},
	}

	cmd.PersistentFlags().BoolP("yes", "y", false, "Answer yes to all questions")
	cmd.PersistentFlags().UintP("num-steps", "n", 0, "Number of steps to migrate (0 = all)")
	cmd.PersistentFlags().String("config", "", "Path to configuration file (YAML format, required)")
	if err := cmd.MarkPersistentFlagRequired("config"); err != nil {
		panic(err)
	}

	cmd.AddCommand(newMigrateUpCmd())
	cmd.AddCommand(newMigrateDownCmd())
	return cmd
}

// migrationTarget loads the configuration named by the config flag and
// returns the database connection string with a printable description.
func migrationTarget(cmd *cobra.Command) (string, string, error) {
	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return "", "", fmt.Errorf("failed to get config flag: %w", err)
	}

	cfg, err := config.LoadConfig(config.WithConfigPath(configPath))
	if err != nil {
		return "", "", fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.Database == nil {
		return "", "", fmt.Errorf("database configuration is required")
	}

	connString, err := cfg.Database.GetConnectionString()
	if err != nil {
		return "", "", fmt.Errorf("failed to build connection string: %w", err)
	}

	target := fmt.Sprintf("%s@%s:%d/%s", cfg.Database.User, cfg.Database.Host, cfg.Database.Port, cfg.Database.Database)
	return connString, target, nil
}

// confirmed returns true when --yes is set or the operator answers yes to prompt
func confirmed(cmd *cobra.Command, prompt string) (bool, error) {
	yes, err := cmd.Flags().GetBool("yes")
	if err != nil {
		return false, fmt.Errorf("failed to get yes flag: %w", err)
	}
	if yes {
		return true, nil
	}
	return confirm(cmd.InOrStdin(), cmd.ErrOrStderr(), prompt)
}

func confirm(in io.Reader, out io.Writer, prompt string) (bool, error) {
	fmt.Fprintf(out, "%s (yes/no): ", prompt)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return false, fmt.Errorf("failed to read user input: %w", err)
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "yes", "y":
		return true, nil
	default:
		return false, nil
	}
}

func logMigrationVersion(connString string) {
	version, dirty, err := database.GetVersion(connString)
	switch {
	case err != nil:
		slog.Warn("Unable to get migration version", "error", err)
	case dirty:
		slog.Warn("Database is in a dirty state", "version", version)
	default:
		slog.Info("Current migration version", "version", version)
	}
}
