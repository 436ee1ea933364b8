package service

import (
	"context"
	"time"

	"flowtrack/internal/apperr"
	"flowtrack/internal/deadline"
	"flowtrack/internal/metrics"
	"flowtrack/internal/model"
	"flowtrack/internal/progress"
	"flowtrack/internal/repo"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// AssignmentDefaults apply when neither the request nor the flow settings decide
type AssignmentDefaults struct {
	DeadlineWorkingDays int
	WarningDays         int
}

// AssignmentCoordinator creates assignments and drives their lifecycle
type AssignmentCoordinator struct {
	store     repo.Store
	snapshots *SnapshotService
	calendar  *deadline.Calendar
	defaults  AssignmentDefaults
	jobClient JobClient
	metrics   metrics.Collector
	log       *zap.Logger
	now       func() time.Time
}

func NewAssignmentCoordinator(store repo.Store, snapshots *SnapshotService, calendar *deadline.Calendar, defaults AssignmentDefaults, collector metrics.Collector, log *zap.Logger) *AssignmentCoordinator {
	if calendar == nil {
		calendar = deadline.DefaultCalendar()
	}
	if defaults.DeadlineWorkingDays <= 0 {
		defaults.DeadlineWorkingDays = 10
	}
	return &AssignmentCoordinator{
		store:     store,
		snapshots: snapshots,
		calendar:  calendar,
		defaults:  defaults,
		metrics:   collector,
		log:       log,
		now:       time.Now,
	}
}

// SetJobClient sets the job client for scheduling background jobs
func (c *AssignmentCoordinator) SetJobClient(client JobClient) {
	c.jobClient = client
}

// SetClock replaces the time source
func (c *AssignmentCoordinator) SetClock(now func() time.Time) {
	c.now = now
}

type AssignFlowInput struct {
	UserID              string  `json:"userId"`
	FlowID              string  `json:"flowId"`
	DeadlineWorkingDays *int    `json:"deadlineWorkingDays,omitempty"`
	MentorID            *string `json:"mentorId,omitempty"`
	AssignedBy          string  `json:"-"`
}

type AssignFlowResult struct {
	Assignment   *model.Assignment   `json:"assignment"`
	FlowProgress *model.FlowProgress `json:"flowProgress"`
	Snapshot     model.SnapshotInfo  `json:"snapshot"`
	Facts        []model.Fact        `json:"-"`
}

// AssignFlow freezes the flow and creates the assignment with its progress
// row in one transaction.
func (c *AssignmentCoordinator) AssignFlow(ctx context.Context, input AssignFlowInput) (*AssignFlowResult, error) {
	if input.UserID == "" || input.FlowID == "" {
		return nil, apperr.InvalidArgument("userId and flowId are required")
	}
	if input.AssignedBy == "" {
		return nil, apperr.InvalidArgument("assignedBy is required")
	}
	if input.DeadlineWorkingDays != nil && *input.DeadlineWorkingDays <= 0 {
		return nil, apperr.InvalidArgument("deadline working days must be positive, got %d", *input.DeadlineWorkingDays)
	}

	var result *AssignFlowResult
	err := c.store.WithinTx(ctx, func(tx repo.Tx) error {
		if err := tx.LockAssignmentPair(ctx, input.UserID, input.FlowID); err != nil {
			return err
		}
		existing, err := tx.GetActiveAssignment(ctx, input.UserID, input.FlowID)
		switch {
		case err == nil:
			return apperr.Conflict("user %s already has active assignment %s of flow %s", input.UserID, existing.ID, input.FlowID)
		case !apperr.IsNotFound(err):
			return err
		}

		flow, err := tx.GetFlow(ctx, input.FlowID)
		if err != nil {
			return err
		}
		if flow.Status != model.FlowStatusPublished {
			return apperr.PreconditionFailed("flow %s is %s, not published", flow.ID, flow.Status)
		}

		snapshot, err := c.snapshots.CreateSnapshotTx(ctx, tx, flow)
		if err != nil {
			return err
		}

		now := c.now()
		calc, err := c.calendar.Compute(c.workingDays(input.DeadlineWorkingDays, flow), now)
		if err != nil {
			return err
		}

		assignment := &model.Assignment{
			ID:             ulid.Make().String(),
			UserID:         input.UserID,
			FlowID:         flow.ID,
			FlowSnapshotID: snapshot.ID,
			Status:         model.AssignmentStatusAssigned,
			AssignedAt:     now,
			Deadline:       calc.Deadline(),
			AssignedBy:     input.AssignedBy,
			MentorID:       input.MentorID,
			UpdatedAt:      now,
		}
		if err := tx.InsertAssignment(ctx, assignment); err != nil {
			return err
		}

		summary := progress.NewTracker(snapshot, nil).Summary()
		fp := &model.FlowProgress{
			ID:                ulid.Make().String(),
			AssignmentID:      assignment.ID,
			FlowSnapshotID:    snapshot.ID,
			UserID:            assignment.UserID,
			Status:            model.ProgressStatusNotStarted,
			OverallProgress:   0,
			CompletedRequired: 0,
			TotalRequired:     summary.TotalRequired,
			UpdatedAt:         now,
		}
		if err := tx.InsertFlowProgress(ctx, fp); err != nil {
			return err
		}

		due := assignment.Deadline
		result = &AssignFlowResult{
			Assignment:   assignment,
			FlowProgress: fp,
			Snapshot:     snapshot.Info(),
			Facts: []model.Fact{{
				Type:           model.FactFlowAssigned,
				OccurredAt:     now,
				UserID:         assignment.UserID,
				AssignmentID:   assignment.ID,
				FlowID:         flow.ID,
				FlowSnapshotID: snapshot.ID,
				FlowTitle:      snapshot.Title,
				AssignedBy:     assignment.AssignedBy,
				Deadline:       &due,
			}},
		}
		return nil
	})
	if err != nil {
		switch apperr.KindOf(err) {
		case apperr.KindConflict:
			c.metrics.RecordAssignment(metrics.AssignmentConflict)
		case apperr.KindPreconditionFailed, apperr.KindNotFound, apperr.KindInvalidArgument:
			c.metrics.RecordAssignment(metrics.AssignmentRejected)
		}
		return nil, err
	}

	c.metrics.RecordAssignment(metrics.AssignmentCreated)
	c.scheduleFollowUps(result.Assignment, c.warningDays(ctx, result.Snapshot.ID))
	c.log.Info("Flow assigned",
		zap.String("assignment_id", result.Assignment.ID),
		zap.String("user_id", result.Assignment.UserID),
		zap.String("flow_id", result.Assignment.FlowID),
		zap.Int("snapshot_version", result.Snapshot.Version),
		zap.Time("deadline", result.Assignment.Deadline),
	)
	return result, nil
}

// workingDays picks the requested count, else days-per-step times step count,
// else the configured default.
func (c *AssignmentCoordinator) workingDays(requested *int, flow *model.Flow) int {
	if requested != nil {
		return *requested
	}
	if flow.Settings.DaysPerStep > 0 && len(flow.Steps) > 0 {
		return flow.Settings.DaysPerStep * len(flow.Steps)
	}
	return c.defaults.DeadlineWorkingDays
}

func (c *AssignmentCoordinator) warningDays(ctx context.Context, snapshotID string) int {
	snapshot, err := c.snapshots.GetSnapshot(ctx, snapshotID)
	if err == nil && snapshot.Settings.DeadlineWarningDays > 0 {
		return snapshot.Settings.DeadlineWarningDays
	}
	return c.defaults.WarningDays
}

func (c *AssignmentCoordinator) scheduleFollowUps(a *model.Assignment, warningDays int) {
	if c.jobClient == nil {
		return
	}
	if err := c.jobClient.ScheduleOverdueCheck(a.ID, a.Deadline); err != nil {
		c.log.Warn("Failed to schedule overdue check", zap.String("assignment_id", a.ID), zap.Error(err))
	}
	if warningDays > 0 {
		if err := c.jobClient.ScheduleDeadlineWarning(a.ID, a.Deadline, warningDays); err != nil {
			c.log.Warn("Failed to schedule deadline warning", zap.String("assignment_id", a.ID), zap.Error(err))
		}
	}
}

func (c *AssignmentCoordinator) GetAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	return c.store.GetAssignment(ctx, id)
}

func (c *AssignmentCoordinator) ListAssignments(ctx context.Context, userID string) ([]model.Assignment, error) {
	if userID == "" {
		return nil, apperr.InvalidArgument("userId is required")
	}
	return c.store.ListAssignmentsByUser(ctx, userID)
}

// CancelAssignment ends an active assignment and frees the (user, flow) pair.
func (c *AssignmentCoordinator) CancelAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	return c.transition(ctx, id, func(a *model.Assignment, _ *model.FlowProgress) error {
		if !a.Status.IsActive() {
			return apperr.PreconditionFailed("assignment %s is already %s", a.ID, a.Status)
		}
		a.Status = model.AssignmentStatusCancelled
		return nil
	})
}

func (c *AssignmentCoordinator) PauseAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	return c.transition(ctx, id, func(a *model.Assignment, _ *model.FlowProgress) error {
		if !a.Status.AcceptsProgress() {
			return apperr.PreconditionFailed("assignment %s cannot be paused while %s", a.ID, a.Status)
		}
		a.Status = model.AssignmentStatusPaused
		return nil
	})
}

// ResumeAssignment returns a paused assignment to Overdue, InProgress or
// Assigned depending on the deadline and whether work has started.
func (c *AssignmentCoordinator) ResumeAssignment(ctx context.Context, id string) (*model.Assignment, error) {
	return c.transition(ctx, id, func(a *model.Assignment, fp *model.FlowProgress) error {
		if a.Status != model.AssignmentStatusPaused {
			return apperr.PreconditionFailed("assignment %s is not paused", a.ID)
		}
		switch {
		case deadline.IsOverdue(a.Deadline, c.now()):
			a.Status = model.AssignmentStatusOverdue
		case fp != nil && fp.StartedAt != nil:
			a.Status = model.AssignmentStatusInProgress
		default:
			a.Status = model.AssignmentStatusAssigned
		}
		return nil
	})
}

func (c *AssignmentCoordinator) transition(ctx context.Context, id string, apply func(a *model.Assignment, fp *model.FlowProgress) error) (*model.Assignment, error) {
	var out *model.Assignment
	err := c.store.WithinTx(ctx, func(tx repo.Tx) error {
		if err := tx.LockAssignment(ctx, id); err != nil {
			return err
		}
		a, err := tx.GetAssignment(ctx, id)
		if err != nil {
			return err
		}
		fp, err := tx.GetFlowProgressByAssignment(ctx, id)
		if err != nil && !apperr.IsNotFound(err) {
			return err
		}
		if err := apply(a, fp); err != nil {
			return err
		}
		a.UpdatedAt = model.Touch(a.UpdatedAt, c.now())
		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return err
		}
		out = a
		return nil
	})
	if err != nil {
		return nil, err
	}
	c.log.Info("Assignment status changed", zap.String("assignment_id", out.ID), zap.String("status", string(out.Status)))
	return out, nil
}

// MarkOverdue flags an assignment whose deadline date has passed. Paused,
// completed and cancelled assignments are left alone.
func (c *AssignmentCoordinator) MarkOverdue(ctx context.Context, id string, now time.Time) ([]model.Fact, error) {
	var facts []model.Fact
	err := c.store.WithinTx(ctx, func(tx repo.Tx) error {
		facts = nil
		if err := tx.LockAssignment(ctx, id); err != nil {
			return err
		}
		a, err := tx.GetAssignment(ctx, id)
		if err != nil {
			return err
		}
		if a.Status != model.AssignmentStatusAssigned && a.Status != model.AssignmentStatusInProgress {
			return nil
		}
		if !deadline.IsOverdue(a.Deadline, now) {
			return nil
		}

		a.Status = model.AssignmentStatusOverdue
		a.UpdatedAt = model.Touch(a.UpdatedAt, now)
		if err := tx.UpdateAssignment(ctx, a); err != nil {
			return err
		}

		fact, err := c.assignmentFact(ctx, tx, a, model.FactAssignmentOverdue, now)
		if err != nil {
			return err
		}
		facts = append(facts, fact)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return facts, nil
}

// MarkOverdueAssignments sweeps every active assignment due before now.
func (c *AssignmentCoordinator) MarkOverdueAssignments(ctx context.Context, now time.Time) ([]model.Fact, error) {
	due, err := c.store.ListActiveAssignmentsDueBefore(ctx, now)
	if err != nil {
		return nil, err
	}
	var facts []model.Fact
	for _, a := range due {
		f, err := c.MarkOverdue(ctx, a.ID, now)
		if err != nil {
			return facts, err
		}
		facts = append(facts, f...)
	}
	if len(facts) > 0 {
		c.log.Info("Assignments marked overdue", zap.Int("count", len(facts)))
	}
	return facts, nil
}

// CheckDeadlineWarning emits DeadlineApproaching when the assignment is
// active and its deadline falls within the warning window.
func (c *AssignmentCoordinator) CheckDeadlineWarning(ctx context.Context, id string, now time.Time) ([]model.Fact, error) {
	a, err := c.store.GetAssignment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !a.Status.AcceptsProgress() {
		return nil, nil
	}
	warn := c.warningDays(ctx, a.FlowSnapshotID)
	if !deadline.IsApproaching(a.Deadline, now, warn) {
		return nil, nil
	}

	fact, err := c.assignmentFact(ctx, c.store, a, model.FactDeadlineApproaching, now)
	if err != nil {
		return nil, err
	}
	days := deadline.DaysUntil(a.Deadline, now)
	fact.DaysUntilDue = &days
	return []model.Fact{fact}, nil
}

func (c *AssignmentCoordinator) assignmentFact(ctx context.Context, r repo.Repositories, a *model.Assignment, kind model.FactType, now time.Time) (model.Fact, error) {
	snapshot, err := c.snapshots.GetSnapshot(ctx, a.FlowSnapshotID)
	if err != nil {
		return model.Fact{}, err
	}
	fact := model.Fact{
		Type:           kind,
		OccurredAt:     now,
		UserID:         a.UserID,
		AssignmentID:   a.ID,
		FlowID:         a.FlowID,
		FlowSnapshotID: a.FlowSnapshotID,
		FlowTitle:      snapshot.Title,
		AssignedBy:     a.AssignedBy,
	}
	due := a.Deadline
	fact.Deadline = &due
	if fp, err := r.GetFlowProgressByAssignment(ctx, a.ID); err == nil {
		fact.OverallProgress = fp.OverallProgress
	} else if !apperr.IsNotFound(err) {
		return model.Fact{}, err
	}
	return fact, nil
}
