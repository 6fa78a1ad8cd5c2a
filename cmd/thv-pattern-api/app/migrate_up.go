package app

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/stacklok/toolhive-pattern-catalog/database"
)

func newMigrateUpCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "up",
		Short: "Apply pending database migrations",
		Long: `Apply all pending database migrations to bring the schema up to date.
This command will read the database connection parameters from the config file
and apply all migrations that haven't been run yet.`,
		RunE: runMigrateUp,
	}
}

func runMigrateUp(cmd *cobra.Command, _ []string) error {
	db, connString, err := migrationTarget(cmd)
	if err != nil {
		return err
	}

	ok, err := confirm(cmd, fmt.Sprintf("About to apply migrations to database %s@%s:%d/%s. Continue?",
		db.User, db.Host, db.Port, db.Database))
	if err != nil {
		return err
	}
	if !ok {
		slog.Info("Migration cancelled by user")
		return nil
	}

	slog.Info("Applying database migrations")
	version, err := database.MigrateUp(connString)
	if err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	slog.Info("Migrations applied successfully", "version", version)
	return nil
}
