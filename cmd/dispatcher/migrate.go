package main

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"outreach/internal/config"
	"outreach/internal/logging"
	"outreach/internal/store/pg"
)

var migrateCmd = &cobra.Command{
	Use:       "migrate [up|down|status]",
	Short:     "Apply or inspect database migrations",
	Args:      cobra.ExactArgs(1),
	ValidArgs: []string{"up", "down", "status"},
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Init("dispatcher", "text", "info")
		cfg := config.LoadDB()
		if err := pg.Migrate(context.Background(), cfg.DSN, args[0]); err != nil {
			return err
		}
		slog.Info("migrate done", "command", args[0])
		return nil
	},
}
