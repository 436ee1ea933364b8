package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"flowtrack/internal/apperr"
	"flowtrack/internal/model"
	"flowtrack/internal/repo"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func seedFlow() *model.Flow {
	return &model.Flow{
		ID:     "flow-1",
		Title:  "Onboarding",
		Status: model.FlowStatusDraft,
		Steps: []model.Step{
			{ID: "step-b", FlowID: "flow-1", Title: "B", OrderKey: "r", Components: []model.Component{
				{ID: "comp-2", StepID: "step-b", Variant: model.VariantArticle, Content: model.Article{Body: "x"}, OrderKey: "i"},
			}},
			{ID: "step-a", FlowID: "flow-1", Title: "A", OrderKey: "i", Components: []model.Component{
				{ID: "comp-1b", StepID: "step-a", Variant: model.VariantArticle, Content: model.Article{Body: "y"}, OrderKey: "r"},
				{ID: "comp-1a", StepID: "step-a", Variant: model.VariantArticle, Content: model.Article{Body: "z"}, OrderKey: "i"},
			}},
		},
	}
}

func TestGetFlow_OrdersByKeyAndCopies(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertFlow(ctx, seedFlow()))

	f, err := s.GetFlow(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "step-a", f.Steps[0].ID)
	assert.Equal(t, "comp-1a", f.Steps[0].Components[0].ID)

	f.Steps[0].Title = "mutated"
	again, err := s.GetFlow(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "A", again.Steps[0].Title)

	_, err = s.GetFlow(ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestWithinTx_RollsBackOnError(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertFlow(ctx, seedFlow()))

	boom := errors.New("boom")
	err := s.WithinTx(ctx, func(tx repo.Tx) error {
		require.NoError(t, tx.UpdateFlowStatus(ctx, "flow-1", model.FlowStatusPublished, time.Now()))
		return boom
	})
	assert.ErrorIs(t, err, boom)

	f, err := s.GetFlow(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, model.FlowStatusDraft, f.Status)
}

func TestWithinTx_RollsBackOnCancel(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, s.InsertFlow(ctx, seedFlow()))

	err := s.WithinTx(ctx, func(tx repo.Tx) error {
		require.NoError(t, tx.InsertSnapshot(ctx, &model.FlowSnapshot{ID: "snap-1", OriginalFlowID: "flow-1", Version: 1}))
		cancel()
		return nil
	})
	assert.ErrorIs(t, err, context.Canceled)

	_, err = s.GetSnapshot(context.Background(), "snap-1")
	assert.True(t, apperr.IsNotFound(err))
}

func TestInsertSnapshot_DuplicateVersion(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertSnapshot(ctx, &model.FlowSnapshot{ID: "a", OriginalFlowID: "f", Version: 1}))
	err := s.InsertSnapshot(ctx, &model.FlowSnapshot{ID: "b", OriginalFlowID: "f", Version: 1})
	assert.True(t, apperr.IsConflict(err))

	v, err := s.MaxSnapshotVersion(ctx, "f")
	require.NoError(t, err)
	assert.Equal(t, 1, v)
}

func TestInsertAssignment_OneActivePerPair(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertSnapshot(ctx, &model.FlowSnapshot{ID: "snap", OriginalFlowID: "f", Version: 1}))

	first := &model.Assignment{ID: "a1", UserID: "u", FlowID: "f", FlowSnapshotID: "snap", Status: model.AssignmentStatusAssigned}
	require.NoError(t, s.InsertAssignment(ctx, first))

	err := s.InsertAssignment(ctx, &model.Assignment{ID: "a2", UserID: "u", FlowID: "f", FlowSnapshotID: "snap", Status: model.AssignmentStatusAssigned})
	assert.True(t, apperr.IsConflict(err))

	first.Status = model.AssignmentStatusCancelled
	require.NoError(t, s.UpdateAssignment(ctx, first))
	require.NoError(t, s.InsertAssignment(ctx, &model.Assignment{ID: "a2", UserID: "u", FlowID: "f", FlowSnapshotID: "snap", Status: model.AssignmentStatusAssigned}))

	active, err := s.GetActiveAssignment(ctx, "u", "f")
	require.NoError(t, err)
	assert.Equal(t, "a2", active.ID)
}

func TestDeleteSnapshot_Referenced(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertSnapshot(ctx, &model.FlowSnapshot{ID: "snap", OriginalFlowID: "f", Version: 1}))
	require.NoError(t, s.InsertAssignment(ctx, &model.Assignment{ID: "a1", UserID: "u", FlowID: "f", FlowSnapshotID: "snap", Status: model.AssignmentStatusCompleted}))

	ref, err := s.SnapshotReferenced(ctx, "snap")
	require.NoError(t, err)
	assert.True(t, ref)
	assert.True(t, apperr.IsConflict(s.DeleteSnapshot(ctx, "snap")))
}

func TestUpdateStepOrderKey_Collision(t *testing.T) {
	ctx := context.Background()
	s := New()
	require.NoError(t, s.InsertFlow(ctx, seedFlow()))

	assert.True(t, apperr.IsConflict(s.UpdateStepOrderKey(ctx, "step-b", "i")))
	require.NoError(t, s.UpdateStepOrderKey(ctx, "step-b", "a"))

	f, err := s.GetFlow(ctx, "flow-1")
	require.NoError(t, err)
	assert.Equal(t, "step-b", f.Steps[0].ID)

	flowID, stepID, err := s.LocateComponent(ctx, "comp-1b")
	require.NoError(t, err)
	assert.Equal(t, "flow-1", flowID)
	assert.Equal(t, "step-a", stepID)
}

func TestUpsertStepProgress_ByNaturalKey(t *testing.T) {
	ctx := context.Background()
	s := New()
	now := time.Now()

	require.NoError(t, s.UpsertStepProgress(ctx, &model.StepProgress{ID: "sp1", AssignmentID: "a", StepSnapshotID: "s", Status: model.ProgressStatusInProgress, UnlockedAt: now}))
	require.NoError(t, s.UpsertStepProgress(ctx, &model.StepProgress{ID: "sp2", AssignmentID: "a", StepSnapshotID: "s", Status: model.ProgressStatusCompleted, UnlockedAt: now}))

	rows, err := s.ListStepProgress(ctx, "a")
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "sp1", rows[0].ID)
	assert.Equal(t, model.ProgressStatusCompleted, rows[0].Status)
}
