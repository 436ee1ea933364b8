package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"flowtrack/internal/deadline"
	"flowtrack/internal/memstore"
	"flowtrack/internal/metrics"
	"flowtrack/internal/model"
	"flowtrack/internal/schema"
	"flowtrack/internal/service"

	"github.com/hibiken/asynq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	facts []model.Fact
}

func (d *recordingDispatcher) Dispatch(_ context.Context, facts []model.Fact) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.facts = append(d.facts, facts...)
	return nil
}

type fixture struct {
	handlers    *Handlers
	dispatcher  *recordingDispatcher
	snapshots   *service.SnapshotService
	assignments *service.AssignmentCoordinator
	assignment  *model.Assignment
	flowID      string
}

var start = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	logger := zap.NewNop()
	store := memstore.New()
	validator := schema.NewValidator(schema.NewCompilerWithCache(16, time.Hour))
	clock := func() time.Time { return start }

	editor := service.NewEditorService(store, validator, logger)
	editor.SetClock(clock)
	snapshots := service.NewSnapshotService(store, validator, metrics.NewNop(), logger)
	snapshots.SetClock(clock)
	assignments := service.NewAssignmentCoordinator(store, snapshots, deadline.DefaultCalendar(),
		service.AssignmentDefaults{DeadlineWorkingDays: 5, WarningDays: 2}, metrics.NewNop(), logger)
	assignments.SetClock(clock)

	flow, err := editor.CreateFlow(ctx, service.CreateFlowInput{
		Title: "Onboarding",
		Steps: []service.StepInput{{Title: "One", IsRequired: true, Components: []service.ComponentInput{{
			Title: "Welcome", Variant: model.VariantArticle, Content: json.RawMessage(`{"body":"hi"}`), IsRequired: true,
		}}}},
	})
	require.NoError(t, err)
	_, err = editor.PublishFlow(ctx, flow.ID)
	require.NoError(t, err)
	res, err := assignments.AssignFlow(ctx, service.AssignFlowInput{UserID: "u1", FlowID: flow.ID, AssignedBy: "admin"})
	require.NoError(t, err)

	dispatcher := &recordingDispatcher{}
	handlers := NewHandlers(snapshots, assignments, dispatcher, metrics.NewNop(),
		Config{RetentionDays: 365, KeepMinimum: 1}, logger)
	return &fixture{
		handlers:    handlers,
		dispatcher:  dispatcher,
		snapshots:   snapshots,
		assignments: assignments,
		assignment:  res.Assignment,
		flowID:      flow.ID,
	}
}

func TestHandleOverdueCheck(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := asynq.NewTask(TypeOverdueCheck, []byte(f.assignment.ID))

	f.handlers.SetClock(func() time.Time { return f.assignment.Deadline.Add(time.Hour) })
	require.NoError(t, f.handlers.handleOverdueCheck(ctx, task))
	assert.Empty(t, f.dispatcher.facts)

	f.handlers.SetClock(func() time.Time { return OverdueCheckTime(f.assignment.Deadline) })
	require.NoError(t, f.handlers.handleOverdueCheck(ctx, task))
	require.Len(t, f.dispatcher.facts, 1)
	assert.Equal(t, model.FactAssignmentOverdue, f.dispatcher.facts[0].Type)

	a, err := f.assignments.GetAssignment(ctx, f.assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, model.AssignmentStatusOverdue, a.Status)

	require.NoError(t, f.handlers.handleOverdueCheck(ctx, asynq.NewTask(TypeOverdueCheck, []byte("missing"))))
}

func TestHandleOverdueSweep(t *testing.T) {
	f := newFixture(t)
	f.handlers.SetClock(func() time.Time { return f.assignment.Deadline.AddDate(0, 0, 3) })

	require.NoError(t, f.handlers.handleOverdueSweep(context.Background(), asynq.NewTask(TypeOverdueSweep, nil)))
	require.Len(t, f.dispatcher.facts, 1)
	assert.Equal(t, f.assignment.ID, f.dispatcher.facts[0].AssignmentID)
}

func TestHandleDeadlineWarning(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	task := asynq.NewTask(TypeDeadlineWarning, []byte(f.assignment.ID))

	f.handlers.SetClock(func() time.Time { return WarningTime(f.assignment.Deadline, 2) })
	require.NoError(t, f.handlers.handleDeadlineWarning(ctx, task))
	require.Len(t, f.dispatcher.facts, 1)
	fact := f.dispatcher.facts[0]
	assert.Equal(t, model.FactDeadlineApproaching, fact.Type)
	require.NotNil(t, fact.DaysUntilDue)
	assert.Equal(t, 2, *fact.DaysUntilDue)
}

func TestHandleSnapshotCleanup(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	extra, err := f.snapshots.CreateSnapshot(ctx, f.flowID)
	require.NoError(t, err)
	_, err = f.snapshots.CreateSnapshot(ctx, f.flowID)
	require.NoError(t, err)

	// all snapshots were created at the fixture clock; move retention past them
	payload, err := json.Marshal(CleanupPayload{OlderThanDays: -1, KeepMinimum: 1})
	require.NoError(t, err)
	err = f.handlers.handleSnapshotCleanup(ctx, asynq.NewTask(TypeSnapshotCleanup, payload))
	require.Error(t, err)
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	require.NoError(t, f.handlers.handleSnapshotCleanup(ctx, asynq.NewTask(TypeSnapshotCleanup, nil)))
	_, err = f.snapshots.GetSnapshot(ctx, extra.ID)
	assert.NoError(t, err, "snapshots younger than the retention window stay")

	err = f.handlers.handleSnapshotCleanup(ctx, asynq.NewTask(TypeSnapshotCleanup, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestScheduleTimes(t *testing.T) {
	due := time.Date(2026, time.March, 6, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Date(2026, time.March, 7, 0, 0, 0, 0, time.UTC), OverdueCheckTime(due))
	assert.Equal(t, time.Date(2026, time.March, 4, 0, 0, 0, 0, time.UTC), WarningTime(due, 2))
}
