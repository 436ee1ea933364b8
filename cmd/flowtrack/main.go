package main

import (
	"fmt"
	"os"

	"flowtrack/internal/config"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

// rootOptions holds flags shared by every command
type rootOptions struct {
	Verbose     bool
	DatabaseURL string
	cfg         *config.Config
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "flowtrack",
		Short: "Snapshot versioning and progress tracking for learning flows",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if opts.DatabaseURL != "" {
				cfg.DatabaseURL = opts.DatabaseURL
			}
			opts.cfg = cfg
			return nil
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().BoolVarP(&opts.Verbose, "verbose", "v", false, "debug logging")
	cmd.PersistentFlags().StringVar(&opts.DatabaseURL, "database-url", "", "PostgreSQL URL (overrides DATABASE_URL)")

	cmd.AddCommand(newServeCommand(opts))
	cmd.AddCommand(newMigrateCommand(opts))
	cmd.AddCommand(newCleanupCommand(opts))

	return cmd
}

func (o *rootOptions) logger() (*zap.Logger, error) {
	if o.Verbose {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}
