package main

import (
	"encoding/json"
	"fmt"
	"net/url"

	"flowtrack/internal/db"
	"flowtrack/internal/jobs"
	"flowtrack/internal/metrics"
	"flowtrack/internal/schema"
	"flowtrack/internal/service"

	"github.com/hibiken/asynq"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type cleanupOptions struct {
	*rootOptions
	OlderThanDays int
	KeepMinimum   int
	Enqueue       bool
}

func newCleanupCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &cleanupOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete unreferenced snapshots past the retention window",
		Long: `Delete snapshots older than the retention window that no assignment
references. The newest --keep-minimum versions of every flow are kept.

Example:
  flowtrack cleanup --older-than-days 180 --keep-minimum 2
  flowtrack cleanup --enqueue`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCleanup(cmd, opts)
		},
	}

	cmd.Flags().IntVar(&opts.OlderThanDays, "older-than-days", -1, "retention window in days (default FLOWTRACK_RETENTION_DAYS)")
	cmd.Flags().IntVar(&opts.KeepMinimum, "keep-minimum", -1, "versions kept per flow (default FLOWTRACK_KEEP_MINIMUM)")
	cmd.Flags().BoolVar(&opts.Enqueue, "enqueue", false, "queue the run on the job server instead of running it here")

	return cmd
}

func runCleanup(cmd *cobra.Command, opts *cleanupOptions) error {
	cfg := opts.cfg
	payload := jobs.CleanupPayload{OlderThanDays: cfg.RetentionDays, KeepMinimum: cfg.KeepMinimum}
	if cmd.Flags().Changed("older-than-days") {
		payload.OlderThanDays = opts.OlderThanDays
	}
	if cmd.Flags().Changed("keep-minimum") {
		payload.KeepMinimum = opts.KeepMinimum
	}

	logger, err := opts.logger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	if opts.Enqueue {
		if cfg.RedisAddr == "" {
			return fmt.Errorf("--enqueue requires REDIS_ADDR")
		}
		client := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer client.Close()
		if err := jobs.EnqueueCleanup(client, payload); err != nil {
			return fmt.Errorf("failed to enqueue cleanup: %w", err)
		}
		logger.Info("Cleanup enqueued", zap.Int("older_than_days", payload.OlderThanDays), zap.Int("keep_minimum", payload.KeepMinimum))
		return nil
	}

	ctx := cmd.Context()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	validator := schema.NewValidator(schema.NewCompilerWithCache(cfg.SchemaCacheSize, cfg.SchemaCacheTTL))
	snapshots := service.NewSnapshotService(pool, validator, metrics.NewNop(), logger)
	result, err := snapshots.CleanupOldSnapshots(ctx, payload.OlderThanDays, payload.KeepMinimum)
	if err != nil {
		return err
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// redactURL drops the password from a connection URL for logging.
func redactURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return "invalid"
	}
	return u.Redacted()
}
