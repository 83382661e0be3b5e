package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stacklok/trello-extractor/database"
)

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		Long: `Apply pending database migrations to bring the ledger schema up to date.
This command reads the database connection parameters from the config file.`,
		RunE: runMigrateUp,
	}
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	connString, target, err := migrationTarget(cmd)
	if err != nil {
		return err
	}

	numSteps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	ok, err := confirmed(cmd, fmt.Sprintf("About to apply migrations to database %s. Continue?", target))
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("Migration cancelled by user")
		return nil
	}

	slog.Info("Applying database migrations", "target", target, "steps", numSteps)
	if err := database.MigrateUp(connString, numSteps); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	logMigrationVersion(connString)
	return nil
}
