package service

import (
	"context"
	"encoding/json"
	"time"

	"flowtrack/internal/apperr"
	"flowtrack/internal/metrics"
	"flowtrack/internal/model"
	"flowtrack/internal/progress"
	"flowtrack/internal/repo"
	"flowtrack/internal/schema"

	"github.com/oklog/ulid/v2"
	"go.uber.org/zap"
)

// ProgressEngine records learner attempts and keeps step and flow aggregates
// in line with the component rows.
type ProgressEngine struct {
	store     repo.Store
	snapshots *SnapshotService
	validator *schema.Validator
	metrics   metrics.Collector
	log       *zap.Logger
	now       func() time.Time
}

func NewProgressEngine(store repo.Store, snapshots *SnapshotService, validator *schema.Validator, collector metrics.Collector, log *zap.Logger) *ProgressEngine {
	return &ProgressEngine{
		store:     store,
		snapshots: snapshots,
		validator: validator,
		metrics:   collector,
		log:       log,
		now:       time.Now,
	}
}

// SetClock replaces the time source
func (e *ProgressEngine) SetClock(now func() time.Time) {
	e.now = now
}

type StartResult struct {
	Progress *model.ComponentProgress `json:"progress"`
	Facts    []model.Fact             `json:"-"`
}

type RecordInput struct {
	ComponentProgressID string          `json:"-"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	TimeSpentMinutes    *int            `json:"timeSpentMinutes,omitempty"`
	Completed           bool            `json:"completed"`
	Score               *int            `json:"score,omitempty"`
}

type RecordResult struct {
	Progress     *model.ComponentProgress `json:"progress"`
	Passed       bool                     `json:"passed"`
	Reason       string                   `json:"reason,omitempty"`
	FlowProgress *model.FlowProgress      `json:"flowProgress"`
	Facts        []model.Fact             `json:"-"`
}

type UnlockResult struct {
	StepSnapshotID string              `json:"stepSnapshotId,omitempty"`
	Reason         progress.NextReason `json:"reason"`
	Facts          []model.Fact        `json:"-"`
}

// FlowProgressView is the flow row with derived step state and raw component rows
type FlowProgressView struct {
	FlowProgress *model.FlowProgress       `json:"flowProgress"`
	Steps        []progress.StepState      `json:"steps"`
	Components   []model.ComponentProgress `json:"components"`
}

// txState is what every progress operation loads under the flow progress lock
type txState struct {
	assignment *model.Assignment
	flow       *model.FlowProgress
	snapshot   *model.FlowSnapshot
	rows       []model.ComponentProgress
	steps      map[string]model.StepProgress
}

// load takes the flow progress lock and then the assignment lock, and reads
// both rows only after holding them.
func (e *ProgressEngine) load(ctx context.Context, tx repo.Tx, assignmentID string) (*txState, error) {
	fp, err := tx.GetFlowProgressByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	if err := tx.LockFlowProgress(ctx, fp.ID); err != nil {
		return nil, err
	}
	if err := tx.LockAssignment(ctx, assignmentID); err != nil {
		return nil, err
	}
	if fp, err = tx.GetFlowProgress(ctx, fp.ID); err != nil {
		return nil, err
	}
	a, err := tx.GetAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	snapshot, err := e.snapshots.GetSnapshot(ctx, a.FlowSnapshotID)
	if err != nil {
		return nil, err
	}
	rows, err := tx.ListComponentProgress(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	stepRows, err := tx.ListStepProgress(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	steps := make(map[string]model.StepProgress, len(stepRows))
	for _, s := range stepRows {
		steps[s.StepSnapshotID] = s
	}
	return &txState{assignment: a, flow: fp, snapshot: snapshot, rows: rows, steps: steps}, nil
}

// StartComponent is the first interaction with a component. It creates the
// progress row in InProgress, or returns the existing one.
func (e *ProgressEngine) StartComponent(ctx context.Context, assignmentID, componentSnapshotID string) (*StartResult, error) {
	if assignmentID == "" || componentSnapshotID == "" {
		return nil, apperr.InvalidArgument("assignmentId and componentSnapshotId are required")
	}

	var result *StartResult
	err := e.store.WithinTx(ctx, func(tx repo.Tx) error {
		st, err := e.load(ctx, tx, assignmentID)
		if err != nil {
			return err
		}
		if !st.assignment.Status.AcceptsProgress() {
			return apperr.PreconditionFailed("assignment %s is %s", st.assignment.ID, st.assignment.Status)
		}
		step, comp, ok := st.snapshot.FindComponent(componentSnapshotID)
		if !ok {
			return apperr.NotFound("component %s is not part of snapshot %s", componentSnapshotID, st.snapshot.ID)
		}

		existing, err := tx.FindComponentProgress(ctx, assignmentID, componentSnapshotID)
		if err == nil {
			result = &StartResult{Progress: existing}
			return nil
		}
		if !apperr.IsNotFound(err) {
			return err
		}

		now := e.now()
		result = &StartResult{}
		if st.flow.CurrentStepSnapshotID == nil {
			tracker := progress.NewTracker(st.snapshot, st.rows)
			if first, _ := tracker.NextStep(""); first != nil {
				fact, fresh, err := e.unlockStep(ctx, tx, st, first, now)
				if err != nil {
					return err
				}
				if fresh {
					result.Facts = append(result.Facts, fact)
				}
			}
		}

		tracker := progress.NewTracker(st.snapshot, st.rows)
		if ok, blocker := tracker.CanStart(comp.ID); !ok {
			return blockedError(comp, blocker)
		}

		row := &model.ComponentProgress{
			ID:                  ulid.Make().String(),
			AssignmentID:        assignmentID,
			StepSnapshotID:      step.ID,
			ComponentSnapshotID: comp.ID,
			Status:              model.ProgressStatusInProgress,
			StartedAt:           now,
			UpdatedAt:           now,
		}
		if err := tx.UpsertComponentProgress(ctx, row); err != nil {
			return err
		}
		if err := e.ensureStepRow(ctx, tx, st, step.ID, now); err != nil {
			return err
		}

		if st.assignment.Status == model.AssignmentStatusAssigned {
			st.assignment.Status = model.AssignmentStatusInProgress
			st.assignment.UpdatedAt = model.Touch(st.assignment.UpdatedAt, now)
			if err := tx.UpdateAssignment(ctx, st.assignment); err != nil {
				return err
			}
		}
		if st.flow.Status == model.ProgressStatusNotStarted {
			st.flow.Status = model.ProgressStatusInProgress
			started := now
			st.flow.StartedAt = &started
		}
		st.flow.UpdatedAt = model.Touch(st.flow.UpdatedAt, now)
		if err := tx.UpdateFlowProgress(ctx, st.flow); err != nil {
			return err
		}

		result.Progress = row
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// RecordComponentProgress stores a learner interaction. When Completed is set
// it counts as an attempt and is evaluated against the component's gates.
func (e *ProgressEngine) RecordComponentProgress(ctx context.Context, input RecordInput) (*RecordResult, error) {
	if input.ComponentProgressID == "" {
		return nil, apperr.InvalidArgument("component progress id is required")
	}
	if input.TimeSpentMinutes != nil && *input.TimeSpentMinutes < 0 {
		return nil, apperr.InvalidArgument("timeSpentMinutes must not be negative, got %d", *input.TimeSpentMinutes)
	}
	if input.Score != nil && *input.Score < 0 {
		return nil, apperr.InvalidArgument("score must not be negative, got %d", *input.Score)
	}

	var (
		result  *RecordResult
		variant model.ComponentVariant
	)
	err := e.store.WithinTx(ctx, func(tx repo.Tx) error {
		row, err := tx.GetComponentProgress(ctx, input.ComponentProgressID)
		if err != nil {
			return err
		}
		st, err := e.load(ctx, tx, row.AssignmentID)
		if err != nil {
			return err
		}
		// re-read under the lock
		if row, err = tx.GetComponentProgress(ctx, input.ComponentProgressID); err != nil {
			return err
		}
		step, comp, ok := st.snapshot.FindComponent(row.ComponentSnapshotID)
		if !ok {
			return apperr.NotFound("component %s is not part of snapshot %s", row.ComponentSnapshotID, st.snapshot.ID)
		}
		variant = comp.Variant
		if err := e.validator.ValidatePayload(ctx, comp.Variant, input.Payload); err != nil {
			return err
		}

		result = &RecordResult{Progress: row, FlowProgress: st.flow}
		switch row.Status {
		case model.ProgressStatusCompleted:
			result.Passed = true
			return nil
		case model.ProgressStatusFailed:
			return apperr.PreconditionFailed("attempts exhausted for component %q", comp.Title)
		}
		if !st.assignment.Status.AcceptsProgress() {
			return apperr.PreconditionFailed("assignment %s is %s", st.assignment.ID, st.assignment.Status)
		}
		if ok, blocker := progress.NewTracker(st.snapshot, st.rows).CanStart(comp.ID); !ok {
			return blockedError(comp, blocker)
		}

		now := e.now()
		if len(input.Payload) > 0 {
			row.Payload = input.Payload
		}
		if input.TimeSpentMinutes != nil {
			row.TimeSpentMinutes += *input.TimeSpentMinutes
		}
		if input.Completed {
			row.AttemptCount++
			outcome, err := progress.Evaluate(comp, row.AttemptCount, progress.Attempt{Score: input.Score, Payload: input.Payload})
			if err != nil {
				return err
			}
			if input.Score != nil {
				score := *input.Score
				row.Score = &score
			}
			row.Status = outcome.Status
			if outcome.Status == model.ProgressStatusCompleted {
				completed := now
				row.CompletedAt = &completed
			}
			result.Passed = outcome.Passed
			result.Reason = outcome.Reason
		}
		row.UpdatedAt = model.Touch(row.UpdatedAt, now)
		if err := tx.UpsertComponentProgress(ctx, row); err != nil {
			return err
		}

		if row.Status != model.ProgressStatusCompleted {
			return nil
		}

		for i := range st.rows {
			if st.rows[i].ID == row.ID {
				st.rows[i] = *row
			}
		}
		fact := e.fact(st, model.FactComponentCompleted, now)
		fact.StepID, fact.StepTitle = step.ID, step.Title
		fact.ComponentID, fact.ComponentTitle = comp.ID, comp.Title

		facts, err := e.aggregate(ctx, tx, st, now)
		if err != nil {
			return err
		}
		fact.OverallProgress = st.flow.OverallProgress
		result.Facts = append([]model.Fact{fact}, facts...)
		return nil
	})
	if err != nil {
		return nil, err
	}

	if input.Completed {
		e.metrics.RecordComponentAttempt(string(variant), string(result.Progress.Status))
	}
	for _, f := range result.Facts {
		if f.Type == model.FactFlowCompleted {
			e.metrics.RecordFlowCompleted()
			e.log.Info("Flow completed",
				zap.String("assignment_id", f.AssignmentID),
				zap.String("user_id", f.UserID),
			)
		}
	}
	return result, nil
}

// aggregate recomputes step completion, unlocks the following steps and
// completes the flow at 100%. st.rows must already hold the new row state.
func (e *ProgressEngine) aggregate(ctx context.Context, tx repo.Tx, st *txState, now time.Time) ([]model.Fact, error) {
	tracker := progress.NewTracker(st.snapshot, st.rows)
	var facts []model.Fact

	for stepID, sp := range st.steps {
		if sp.Status == model.ProgressStatusCompleted || !tracker.StepCompleted(stepID) {
			continue
		}
		if err := e.completeStepRow(ctx, tx, st, stepID, now); err != nil {
			return nil, err
		}
	}

	current := ""
	if st.flow.CurrentStepSnapshotID != nil {
		current = *st.flow.CurrentStepSnapshotID
	}
	for {
		next, _ := tracker.NextStep(current)
		if next == nil || next.ID == current {
			break
		}
		fact, fresh, err := e.unlockStep(ctx, tx, st, next, now)
		if err != nil {
			return nil, err
		}
		if fresh {
			facts = append(facts, fact)
		}
		if !tracker.StepCompleted(next.ID) {
			break
		}
		if err := e.completeStepRow(ctx, tx, st, next.ID, now); err != nil {
			return nil, err
		}
		current = next.ID
	}

	summary := tracker.Summary()
	st.flow.OverallProgress = summary.Percentage
	st.flow.CompletedRequired = summary.CompletedRequired
	st.flow.TotalRequired = summary.TotalRequired
	st.flow.UpdatedAt = model.Touch(st.flow.UpdatedAt, now)

	justFinished := summary.TotalRequired > 0 && summary.Percentage >= 100 && st.flow.Status != model.ProgressStatusCompleted
	if justFinished {
		completed := now
		st.flow.Status = model.ProgressStatusCompleted
		st.flow.CompletedAt = &completed

		st.assignment.Status = model.AssignmentStatusCompleted
		st.assignment.CompletedAt = &completed
		st.assignment.UpdatedAt = model.Touch(st.assignment.UpdatedAt, now)
		if err := tx.UpdateAssignment(ctx, st.assignment); err != nil {
			return nil, err
		}
	}
	if err := tx.UpdateFlowProgress(ctx, st.flow); err != nil {
		return nil, err
	}

	for i := range facts {
		facts[i].OverallProgress = st.flow.OverallProgress
	}
	if justFinished {
		facts = append(facts, e.fact(st, model.FactFlowCompleted, now))
	}
	return facts, nil
}

// UnlockNextStep advances the current step when it is complete. An empty
// StepSnapshotID comes with the reason nothing was unlocked.
func (e *ProgressEngine) UnlockNextStep(ctx context.Context, flowProgressID string) (*UnlockResult, error) {
	if flowProgressID == "" {
		return nil, apperr.InvalidArgument("flow progress id is required")
	}

	var result *UnlockResult
	err := e.store.WithinTx(ctx, func(tx repo.Tx) error {
		fp, err := tx.GetFlowProgress(ctx, flowProgressID)
		if err != nil {
			return err
		}
		st, err := e.load(ctx, tx, fp.AssignmentID)
		if err != nil {
			return err
		}

		current := ""
		if st.flow.CurrentStepSnapshotID != nil {
			current = *st.flow.CurrentStepSnapshotID
		}
		next, reason := progress.NewTracker(st.snapshot, st.rows).NextStep(current)
		result = &UnlockResult{Reason: reason}
		if next == nil {
			return nil
		}

		now := e.now()
		fact, fresh, err := e.unlockStep(ctx, tx, st, next, now)
		if err != nil {
			return err
		}
		st.flow.UpdatedAt = model.Touch(st.flow.UpdatedAt, now)
		if err := tx.UpdateFlowProgress(ctx, st.flow); err != nil {
			return err
		}
		result.StepSnapshotID = next.ID
		if fresh {
			result.Facts = []model.Fact{fact}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

func (e *ProgressEngine) GetFlowProgress(ctx context.Context, flowProgressID string) (*FlowProgressView, error) {
	fp, err := e.store.GetFlowProgress(ctx, flowProgressID)
	if err != nil {
		return nil, err
	}
	snapshot, err := e.snapshots.GetSnapshot(ctx, fp.FlowSnapshotID)
	if err != nil {
		return nil, err
	}
	rows, err := e.store.ListComponentProgress(ctx, fp.AssignmentID)
	if err != nil {
		return nil, err
	}
	if rows == nil {
		rows = []model.ComponentProgress{}
	}
	return &FlowProgressView{
		FlowProgress: fp,
		Steps:        progress.NewTracker(snapshot, rows).Steps(),
		Components:   rows,
	}, nil
}

func (e *ProgressEngine) GetFlowProgressByAssignment(ctx context.Context, assignmentID string) (*FlowProgressView, error) {
	fp, err := e.store.GetFlowProgressByAssignment(ctx, assignmentID)
	if err != nil {
		return nil, err
	}
	return e.GetFlowProgress(ctx, fp.ID)
}

func (e *ProgressEngine) GetComponentProgress(ctx context.Context, id string) (*model.ComponentProgress, error) {
	return e.store.GetComponentProgress(ctx, id)
}

// unlockStep makes step the current step and opens its progress row. fresh
// is false when the row already existed, i.e. the learner reached the step
// out of order; no StepUnlocked fact is due then.
func (e *ProgressEngine) unlockStep(ctx context.Context, tx repo.Tx, st *txState, step *model.StepSnapshot, now time.Time) (model.Fact, bool, error) {
	id := step.ID
	st.flow.CurrentStepSnapshotID = &id
	_, seen := st.steps[step.ID]
	if err := e.ensureStepRow(ctx, tx, st, step.ID, now); err != nil {
		return model.Fact{}, false, err
	}
	fact := e.fact(st, model.FactStepUnlocked, now)
	fact.StepID, fact.StepTitle = step.ID, step.Title

	e.log.Debug("Step unlocked",
		zap.String("assignment_id", st.assignment.ID),
		zap.String("step_snapshot_id", step.ID),
		zap.Bool("already_reached", seen),
	)
	return fact, !seen, nil
}

func (e *ProgressEngine) ensureStepRow(ctx context.Context, tx repo.Tx, st *txState, stepID string, now time.Time) error {
	if _, ok := st.steps[stepID]; ok {
		return nil
	}
	sp := model.StepProgress{
		ID:             ulid.Make().String(),
		AssignmentID:   st.assignment.ID,
		StepSnapshotID: stepID,
		Status:         model.ProgressStatusInProgress,
		UnlockedAt:     now,
		UpdatedAt:      now,
	}
	if err := tx.UpsertStepProgress(ctx, &sp); err != nil {
		return err
	}
	st.steps[stepID] = sp
	return nil
}

func (e *ProgressEngine) completeStepRow(ctx context.Context, tx repo.Tx, st *txState, stepID string, now time.Time) error {
	if err := e.ensureStepRow(ctx, tx, st, stepID, now); err != nil {
		return err
	}
	sp := st.steps[stepID]
	if sp.Status == model.ProgressStatusCompleted {
		return nil
	}
	completed := now
	sp.Status = model.ProgressStatusCompleted
	sp.CompletedAt = &completed
	sp.UpdatedAt = model.Touch(sp.UpdatedAt, now)
	if err := tx.UpsertStepProgress(ctx, &sp); err != nil {
		return err
	}
	st.steps[stepID] = sp
	return nil
}

func (e *ProgressEngine) fact(st *txState, kind model.FactType, now time.Time) model.Fact {
	due := st.assignment.Deadline
	return model.Fact{
		Type:            kind,
		OccurredAt:      now,
		UserID:          st.assignment.UserID,
		AssignmentID:    st.assignment.ID,
		FlowID:          st.assignment.FlowID,
		FlowSnapshotID:  st.snapshot.ID,
		FlowTitle:       st.snapshot.Title,
		AssignedBy:      st.assignment.AssignedBy,
		Deadline:        &due,
		OverallProgress: st.flow.OverallProgress,
	}
}

func blockedError(comp *model.ComponentSnapshot, blocker *progress.Blocker) error {
	if blocker == nil {
		return apperr.PreconditionFailed("component %q is not reachable", comp.Title)
	}
	if blocker.ComponentSnapshotID != "" {
		return apperr.PreconditionFailed("component %q is blocked by %q in step %q", comp.Title, blocker.ComponentTitle, blocker.StepTitle)
	}
	return apperr.PreconditionFailed("component %q is blocked by step %q", comp.Title, blocker.StepTitle)
}
