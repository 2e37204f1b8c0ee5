package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Apply database schema migrations and exit",
	Long: `Migrate creates the pending and active registration tables if they
do not exist. The command runs once and exits 0 on success or non-zero
on failure.`,
	RunE: runMigrate,
}

func runMigrate(cmd *cobra.Command, args []string) error {
	ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
	defer cancel()

	slog.Info("applying migrations")
	if err := app.store.Migrate(ctx); err != nil {
		return err
	}
	slog.Info("migrations applied")
	return nil
}
