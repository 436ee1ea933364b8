package main

import (
	"flowtrack/internal/db"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newMigrateCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := opts.logger()
			if err != nil {
				return err
			}
			defer logger.Sync()

			if err := db.Migrate(opts.cfg.DatabaseURL); err != nil {
				return err
			}
			logger.Info("Migrations applied", zap.String("database", redactURL(opts.cfg.DatabaseURL)))
			return nil
		},
	}
}
