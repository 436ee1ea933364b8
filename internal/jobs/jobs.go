package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"flowtrack/internal/apperr"
	"flowtrack/internal/metrics"
	"flowtrack/internal/model"
	"flowtrack/internal/service"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TypeSnapshotCleanup = "snapshot:cleanup"
	TypeOverdueCheck    = "assignment:overdue"
	TypeOverdueSweep    = "assignment:overdue_sweep"
	TypeDeadlineWarning = "assignment:deadline_warning"
)

// Config controls the periodic jobs
type Config struct {
	Concurrency      int
	RetentionDays    int
	KeepMinimum      int
	CleanupCron      string
	OverdueSweepCron string
}

// CleanupPayload overrides the configured retention for one run
type CleanupPayload struct {
	OlderThanDays int `json:"olderThanDays"`
	KeepMinimum   int `json:"keepMinimum"`
}

// Handlers runs engine operations for queued tasks and dispatches the facts they return
type Handlers struct {
	snapshots   *service.SnapshotService
	assignments *service.AssignmentCoordinator
	dispatcher  service.Dispatcher
	metrics     metrics.Collector
	cfg         Config
	log         *zap.Logger
	now         func() time.Time
}

func NewHandlers(snapshots *service.SnapshotService, assignments *service.AssignmentCoordinator, dispatcher service.Dispatcher, collector metrics.Collector, cfg Config, log *zap.Logger) *Handlers {
	return &Handlers{
		snapshots:   snapshots,
		assignments: assignments,
		dispatcher:  dispatcher,
		metrics:     collector,
		cfg:         cfg,
		log:         log,
		now:         time.Now,
	}
}

// SetClock replaces the time source
func (h *Handlers) SetClock(now func() time.Time) {
	h.now = now
}

// Register adds every handler to mux.
func (h *Handlers) Register(mux *asynq.ServeMux) {
	mux.HandleFunc(TypeSnapshotCleanup, h.handleSnapshotCleanup)
	mux.HandleFunc(TypeOverdueCheck, h.handleOverdueCheck)
	mux.HandleFunc(TypeOverdueSweep, h.handleOverdueSweep)
	mux.HandleFunc(TypeDeadlineWarning, h.handleDeadlineWarning)
}

func (h *Handlers) handleSnapshotCleanup(ctx context.Context, t *asynq.Task) error {
	payload := CleanupPayload{OlderThanDays: h.cfg.RetentionDays, KeepMinimum: h.cfg.KeepMinimum}
	if len(t.Payload()) > 0 {
		if err := json.Unmarshal(t.Payload(), &payload); err != nil {
			return fmt.Errorf("failed to decode cleanup payload: %v: %w", err, asynq.SkipRetry)
		}
	}

	result, err := h.snapshots.CleanupOldSnapshots(ctx, payload.OlderThanDays, payload.KeepMinimum)
	if err != nil {
		return h.fail("snapshot_cleanup", err)
	}
	h.log.Info("Snapshot cleanup job done", zap.Int("deleted", len(result.Deleted)))
	return nil
}

func (h *Handlers) handleOverdueCheck(ctx context.Context, t *asynq.Task) error {
	assignmentID := string(t.Payload())
	facts, err := h.assignments.MarkOverdue(ctx, assignmentID, h.now())
	if apperr.IsNotFound(err) {
		h.log.Warn("Overdue check for unknown assignment", zap.String("assignment_id", assignmentID))
		return nil
	}
	if err != nil {
		return h.fail("overdue_check", err)
	}
	return h.dispatch(ctx, facts)
}

func (h *Handlers) handleOverdueSweep(ctx context.Context, _ *asynq.Task) error {
	facts, err := h.assignments.MarkOverdueAssignments(ctx, h.now())
	if dispatchErr := h.dispatch(ctx, facts); dispatchErr != nil {
		h.log.Warn("Failed to dispatch overdue facts", zap.Error(dispatchErr))
	}
	if err != nil {
		return h.fail("overdue_sweep", err)
	}
	return nil
}

func (h *Handlers) handleDeadlineWarning(ctx context.Context, t *asynq.Task) error {
	assignmentID := string(t.Payload())
	facts, err := h.assignments.CheckDeadlineWarning(ctx, assignmentID, h.now())
	if apperr.IsNotFound(err) {
		h.log.Warn("Deadline warning for unknown assignment", zap.String("assignment_id", assignmentID))
		return nil
	}
	if err != nil {
		return h.fail("deadline_warning", err)
	}
	return h.dispatch(ctx, facts)
}

func (h *Handlers) dispatch(ctx context.Context, facts []model.Fact) error {
	if len(facts) == 0 {
		return nil
	}
	if err := h.dispatcher.Dispatch(ctx, facts); err != nil {
		return fmt.Errorf("failed to dispatch facts: %w", err)
	}
	return nil
}

// fail records the error and stops retries for business errors, which a
// retry cannot fix.
func (h *Handlers) fail(op string, err error) error {
	kind := apperr.KindOf(err)
	h.metrics.RecordOperationError(op, string(kind))
	h.log.Error("Job failed", zap.String("op", op), zap.Error(err))
	if kind != "" {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}
	return err
}

type JobServer struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	client    *asynq.Client
	handlers  *Handlers
	cfg       Config
	log       *zap.Logger
}

func NewJobServer(redisAddr string, handlers *Handlers, cfg Config, log *zap.Logger) (*JobServer, *asynq.Client) {
	redisOpt := asynq.RedisClientOpt{Addr: redisAddr}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 10
	}

	server := asynq.NewServer(
		redisOpt,
		asynq.Config{
			Concurrency: cfg.Concurrency,
			Queues: map[string]int{
				"critical": 6,
				"default":  3,
				"low":      1,
			},
		},
	)

	client := asynq.NewClient(redisOpt)
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})

	return &JobServer{
		server:    server,
		scheduler: scheduler,
		client:    client,
		handlers:  handlers,
		cfg:       cfg,
		log:       log,
	}, client
}

// Start registers the periodic jobs and starts processing.
func (js *JobServer) Start() error {
	if js.cfg.CleanupCron != "" {
		id, err := js.scheduler.Register(js.cfg.CleanupCron, asynq.NewTask(TypeSnapshotCleanup, nil), asynq.Queue("low"))
		if err != nil {
			return fmt.Errorf("failed to register cleanup schedule: %w", err)
		}
		js.log.Info("Snapshot cleanup scheduled", zap.String("cron", js.cfg.CleanupCron), zap.String("entry_id", id))
	}
	if js.cfg.OverdueSweepCron != "" {
		id, err := js.scheduler.Register(js.cfg.OverdueSweepCron, asynq.NewTask(TypeOverdueSweep, nil))
		if err != nil {
			return fmt.Errorf("failed to register overdue sweep: %w", err)
		}
		js.log.Info("Overdue sweep scheduled", zap.String("cron", js.cfg.OverdueSweepCron), zap.String("entry_id", id))
	}
	if err := js.scheduler.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	mux := asynq.NewServeMux()
	js.handlers.Register(mux)
	return js.server.Start(mux)
}

func (js *JobServer) Stop() {
	js.scheduler.Shutdown()
	js.server.Shutdown()
	js.client.Close()
}

// Schedule jobs

// AsynqJobClient implements service.JobClient on an asynq client
type AsynqJobClient struct {
	client *asynq.Client
	now    func() time.Time
}

func NewAsynqJobClient(client *asynq.Client) *AsynqJobClient {
	return &AsynqJobClient{client: client, now: time.Now}
}

func (c *AsynqJobClient) ScheduleOverdueCheck(assignmentID string, deadline time.Time) error {
	return ScheduleOverdueCheck(c.client, assignmentID, deadline, c.now())
}

func (c *AsynqJobClient) ScheduleDeadlineWarning(assignmentID string, deadline time.Time, warningDays int) error {
	return ScheduleDeadlineWarning(c.client, assignmentID, deadline, warningDays, c.now())
}

// OverdueCheckTime is the start of the first day after the deadline date.
func OverdueCheckTime(deadline time.Time) time.Time {
	return deadline.AddDate(0, 0, 1)
}

// WarningTime is the start of the day warningDays before the deadline date.
func WarningTime(deadline time.Time, warningDays int) time.Time {
	return deadline.AddDate(0, 0, -warningDays)
}

func ScheduleOverdueCheck(client *asynq.Client, assignmentID string, deadline, now time.Time) error {
	checkAt := OverdueCheckTime(deadline)
	if checkAt.Before(now) {
		checkAt = now
	}
	task := asynq.NewTask(TypeOverdueCheck, []byte(assignmentID))
	_, err := client.Enqueue(task, asynq.ProcessAt(checkAt), asynq.Queue("critical"))
	return err
}

func ScheduleDeadlineWarning(client *asynq.Client, assignmentID string, deadline time.Time, warningDays int, now time.Time) error {
	if !deadline.After(now) {
		return nil // Already due
	}
	warnAt := WarningTime(deadline, warningDays)
	if warnAt.Before(now) {
		warnAt = now
	}
	task := asynq.NewTask(TypeDeadlineWarning, []byte(assignmentID))
	_, err := client.Enqueue(task, asynq.ProcessAt(warnAt))
	return err
}

// EnqueueCleanup queues a one-off retention run.
func EnqueueCleanup(client *asynq.Client, payload CleanupPayload) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	_, err = client.Enqueue(asynq.NewTask(TypeSnapshotCleanup, data), asynq.Queue("low"))
	return err
}

var _ service.JobClient = (*AsynqJobClient)(nil)
