package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"flowtrack/internal/api"
	"flowtrack/internal/auth"
	"flowtrack/internal/db"
	"flowtrack/internal/deadline"
	"flowtrack/internal/jobs"
	"flowtrack/internal/memstore"
	"flowtrack/internal/metrics"
	"flowtrack/internal/pubsub"
	"flowtrack/internal/repo"
	"flowtrack/internal/schema"
	"flowtrack/internal/service"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

type serveOptions struct {
	*rootOptions
	Store string
}

func newServeCommand(rootOpts *rootOptions) *cobra.Command {
	opts := &serveOptions{rootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and, with REDIS_ADDR set, the job server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVar(&opts.Store, "store", "postgres", "storage backend (postgres|memory)")

	return cmd
}

func runServe(ctx context.Context, opts *serveOptions) error {
	cfg := opts.cfg

	logger, err := opts.logger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer logger.Sync()

	var store repo.Store
	switch opts.Store {
	case "postgres":
		pool, err := db.NewPool(ctx, cfg.DatabaseURL, logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer pool.Close()
		store = pool
	case "memory":
		logger.Warn("Using in-memory store; data is lost on exit")
		store = memstore.New()
	default:
		return fmt.Errorf("unknown store %q: must be postgres or memory", opts.Store)
	}

	calendar, err := deadline.LoadCalendar(cfg.CalendarPath)
	if err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	collector := metrics.NewPrometheus(reg, "flowtrack")

	validator := schema.NewValidator(schema.NewCompilerWithCache(cfg.SchemaCacheSize, cfg.SchemaCacheTTL))
	editor := service.NewEditorService(store, validator, logger)
	snapshots := service.NewSnapshotService(store, validator, collector, logger)
	assignments := service.NewAssignmentCoordinator(store, snapshots, calendar,
		service.AssignmentDefaults{DeadlineWorkingDays: cfg.DefaultDeadlineDays, WarningDays: cfg.WarningDays},
		collector, logger)
	engine := service.NewProgressEngine(store, snapshots, validator, collector, logger)

	var dispatcher service.Dispatcher
	var streams *pubsub.Streams
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("failed to connect to redis: %w", err)
		}

		bus := pubsub.New(rdb, collector, logger)
		dispatcher = bus
		streams = bus.GetStreams()

		jobCfg := jobs.Config{
			Concurrency:      cfg.JobConcurrency,
			RetentionDays:    cfg.RetentionDays,
			KeepMinimum:      cfg.KeepMinimum,
			CleanupCron:      cfg.CleanupCron,
			OverdueSweepCron: cfg.OverdueCron,
		}
		handlers := jobs.NewHandlers(snapshots, assignments, bus, collector, jobCfg, logger)
		jobServer, jobClient := jobs.NewJobServer(cfg.RedisAddr, handlers, jobCfg, logger)
		assignments.SetJobClient(jobs.NewAsynqJobClient(jobClient))
		if err := jobServer.Start(); err != nil {
			return fmt.Errorf("failed to start job server: %w", err)
		}
		defer jobServer.Stop()
	} else {
		logger.Warn("REDIS_ADDR not set; facts are logged and background jobs are disabled")
		dispatcher = pubsub.NewLogDispatcher(logger)
	}

	jwtConfig := auth.NewJWTConfig(cfg.JWTSecret)
	jwtConfig.AllowHeaderIdentity = cfg.DevHeaderIdentity

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Mount("/v1", api.Routes(api.Dependencies{
		Store:       store,
		Editor:      editor,
		Snapshots:   snapshots,
		Assignments: assignments,
		Engine:      engine,
		Dispatcher:  dispatcher,
		Streams:     streams,
		Metrics:     collector,
		Gatherer:    reg,
		JWT:         jwtConfig,
		Log:         logger,
	}))

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	logger.Info("Starting server", zap.String("addr", cfg.Addr), zap.String("store", opts.Store))
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-quit:
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	}

	logger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server stopped")
	return nil
}
