package db

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"flowtrack/internal/apperr"
	"flowtrack/internal/model"
	"flowtrack/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestPool(t *testing.T) *Pool {
	t.Helper()
	databaseURL := os.Getenv("TEST_DATABASE_URL")
	if databaseURL == "" {
		t.Skip("Skipping test: TEST_DATABASE_URL not set")
	}
	if err := Migrate(databaseURL); err != nil {
		t.Skipf("Skipping test: database not available: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool, err := NewPool(ctx, databaseURL, zap.NewNop())
	require.NoError(t, err)

	_, err = pool.Exec(ctx, `TRUNCATE flows, flow_snapshots, assignments CASCADE`)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool
}

func testFlow(now time.Time) *model.Flow {
	return &model.Flow{
		ID:        "flow-db",
		Title:     "Onboarding",
		Status:    model.FlowStatusPublished,
		Settings:  model.FlowSettings{RequireSequentialCompletionComponents: true, DaysPerStep: 2},
		CreatedAt: now,
		UpdatedAt: now,
		Steps: []model.Step{
			{ID: "st-2", Title: "Second", OrderKey: "r", IsRequired: true, Components: []model.Component{
				{ID: "c-3", Title: "Quiz", Variant: model.VariantQuiz, Content: model.Quiz{}, OrderKey: "i", IsRequired: true, MinimumScore: 50},
			}},
			{ID: "st-1", Title: "First", OrderKey: "i", IsRequired: true, Components: []model.Component{
				{ID: "c-2", Title: "Task", Variant: model.VariantTask, Content: model.Task{Instructions: "do", CodeWord: "x"}, OrderKey: "r", IsRequired: true},
				{ID: "c-1", Title: "Read", Variant: model.VariantArticle, Content: model.Article{Body: "b"}, OrderKey: "i", IsRequired: true},
			}},
		},
	}
}

func TestPool_FlowRoundTripOrdered(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, pool.InsertFlow(ctx, testFlow(now)))

	f, err := pool.GetFlow(ctx, "flow-db")
	require.NoError(t, err)
	require.Len(t, f.Steps, 2)
	assert.Equal(t, "st-1", f.Steps[0].ID)
	assert.Equal(t, "c-1", f.Steps[0].Components[0].ID)
	assert.Equal(t, 2, f.Settings.DaysPerStep)
	assert.Equal(t, model.Task{Instructions: "do", CodeWord: "x"}, f.Steps[0].Components[1].Content)

	flowID, stepID, err := pool.LocateComponent(ctx, "c-3")
	require.NoError(t, err)
	assert.Equal(t, "flow-db", flowID)
	assert.Equal(t, "st-2", stepID)

	assert.True(t, apperr.IsConflict(pool.UpdateStepOrderKey(ctx, "st-2", "i")))
	_, err = pool.GetFlow(ctx, "nope")
	assert.True(t, apperr.IsNotFound(err))
}

func TestPool_SnapshotVersionsAndAssignmentUniqueness(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	require.NoError(t, pool.InsertFlow(ctx, testFlow(now)))

	snap := &model.FlowSnapshot{
		ID: "snap-1", OriginalFlowID: "flow-db", Version: 1, Title: "Onboarding", CreatedAt: now,
		Steps: []model.StepSnapshot{{ID: "ss-1", OriginalStepID: "st-1", Title: "First", OrderKey: "i", IsRequired: true, CreatedAt: now,
			Components: []model.ComponentSnapshot{{ID: "cs-1", OriginalComponentID: "c-1", Title: "Read", Variant: model.VariantArticle,
				Content: []byte(`{"body":"b","readingTimeMinutes":0}`), OrderKey: "i", IsRequired: true, CreatedAt: now}}}},
	}
	require.NoError(t, pool.WithinTx(ctx, func(tx repo.Tx) error {
		if err := tx.LockFlowSnapshots(ctx, "flow-db"); err != nil {
			return err
		}
		return tx.InsertSnapshot(ctx, snap)
	}))

	dup := *snap
	dup.ID = "snap-dup"
	dup.Steps = nil
	assert.True(t, apperr.IsConflict(pool.InsertSnapshot(ctx, &dup)))

	v, err := pool.MaxSnapshotVersion(ctx, "flow-db")
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	loaded, err := pool.GetSnapshot(ctx, "snap-1")
	require.NoError(t, err)
	require.Len(t, loaded.Steps, 1)
	assert.Equal(t, "cs-1", loaded.Steps[0].Components[0].ID)

	a := &model.Assignment{ID: "as-1", UserID: "u", FlowID: "flow-db", FlowSnapshotID: "snap-1",
		Status: model.AssignmentStatusAssigned, AssignedAt: now, Deadline: now.AddDate(0, 0, 5), AssignedBy: "admin", UpdatedAt: now}
	require.NoError(t, pool.InsertAssignment(ctx, a))

	second := *a
	second.ID = "as-2"
	assert.True(t, apperr.IsConflict(pool.InsertAssignment(ctx, &second)))

	assert.True(t, apperr.IsConflict(pool.DeleteSnapshot(ctx, "snap-1")))

	byAssignment, err := pool.GetSnapshotByAssignment(ctx, "as-1")
	require.NoError(t, err)
	assert.Equal(t, "snap-1", byAssignment.ID)
}

func TestPool_TxRollback(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()
	now := time.Now().UTC()
	require.NoError(t, pool.InsertFlow(ctx, testFlow(now)))

	err := pool.WithinTx(ctx, func(tx repo.Tx) error {
		if err := tx.UpdateFlowStatus(ctx, "flow-db", model.FlowStatusArchived, now); err != nil {
			return err
		}
		return apperr.PreconditionFailed("abort")
	})
	assert.True(t, apperr.IsPreconditionFailed(err))

	f, err := pool.GetFlow(ctx, "flow-db")
	require.NoError(t, err)
	assert.Equal(t, model.FlowStatusPublished, f.Status)
}

func TestPool_LockFlowSerializesStatusChange(t *testing.T) {
	pool := setupTestPool(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	flow := testFlow(now)
	flow.Status = model.FlowStatusDraft
	require.NoError(t, pool.InsertFlow(ctx, flow))

	locked := make(chan struct{})
	published := make(chan error, 1)
	go func() {
		<-locked
		published <- pool.WithinTx(ctx, func(tx repo.Tx) error {
			if err := tx.LockFlow(ctx, "flow-db"); err != nil {
				return err
			}
			return tx.UpdateFlowStatus(ctx, "flow-db", model.FlowStatusPublished, now.Add(time.Minute))
		})
	}()

	err := pool.WithinTx(ctx, func(tx repo.Tx) error {
		if err := tx.LockFlow(ctx, "flow-db"); err != nil {
			return err
		}
		close(locked)
		select {
		case err := <-published:
			return fmt.Errorf("status changed while the flow was locked: %v", err)
		case <-time.After(200 * time.Millisecond):
		}
		return tx.TouchFlow(ctx, "flow-db", now.Add(time.Second))
	})
	require.NoError(t, err)
	require.NoError(t, <-published)

	f, err := pool.GetFlow(ctx, "flow-db")
	require.NoError(t, err)
	assert.Equal(t, model.FlowStatusPublished, f.Status, "touch must not rewrite the status")
	assert.True(t, f.UpdatedAt.Equal(now.Add(time.Minute)))

	assert.True(t, apperr.IsNotFound(pool.TouchFlow(ctx, "nope", now)))
	assert.True(t, apperr.IsNotFound(pool.WithinTx(ctx, func(tx repo.Tx) error {
		return tx.LockAssignment(ctx, "nope")
	})))
}
