package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stacklok/trello-extractor/database"
)

func newMigrateDownCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "down",
		Short: "Migrate the database down",
		Long: `Migrate the ledger schema down by reverting migrations.
WARNING: This operation can result in loss of extraction progress.

Examples:
  # Migrate down by 1 step
  trello-extractor migrate down --config config.yaml --num-steps 1 --yes

  # Migrate down all the way (WARNING: drops the ledger)
  trello-extractor migrate down --config config.yaml --yes`,
		RunE: runMigrateDown,
	}
}

func runMigrateDown(cmd *cobra.Command, _ []string) error {
	connString, target, err := migrationTarget(cmd)
	if err != nil {
		return err
	}

	numSteps, err := cmd.Flags().GetUint("num-steps")
	if err != nil {
		return fmt.Errorf("failed to get num-steps flag: %w", err)
	}

	prompt := fmt.Sprintf("WARNING: This will migrate %s down ALL steps and drop the ledger. Continue?", target)
	if numSteps > 0 {
		prompt = fmt.Sprintf("WARNING: This will migrate %s down %d step(s). Continue?", target, numSteps)
	}
	ok, err := confirmed(cmd, prompt)
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("Migration cancelled")
		return fmt.Errorf("migration cancelled by user")
	}

	if err := database.MigrateDown(connString, numSteps); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	slog.Info("Migration completed successfully")
	logMigrationVersion(connString)
	return nil
}
