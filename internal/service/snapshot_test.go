package service

import (
	"context"
	"sort"
	"sync"
	"testing"

	"flowtrack/internal/apperr"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateSnapshot_UnaffectedByLaterEdits(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	flow := env.createFlow(t, twoByTwo(true))

	snap, err := env.snapshots.CreateSnapshot(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, snap.Steps, 2)
	assert.Equal(t, 1, snap.Version)
	assert.Equal(t, flow.Steps[0].OrderKey, snap.Steps[0].OrderKey)

	_, err = env.editor.AddStep(ctx, flow.ID, StepInput{Title: "Week three", Components: []ComponentInput{article("Extra", true)}})
	require.NoError(t, err)
	_, err = env.editor.ReorderStep(ctx, flow.Steps[1].ID, 0)
	require.NoError(t, err)

	again, err := env.store.GetSnapshot(ctx, snap.ID)
	require.NoError(t, err)
	require.Len(t, again.Steps, 2)
	assert.Equal(t, "Week one", again.Steps[0].Title)
	assert.Equal(t, "Week two", again.Steps[1].Title)
	assert.Equal(t, snap.Steps[0].OrderKey, again.Steps[0].OrderKey)
	assert.Equal(t, snap.Steps[1].OrderKey, again.Steps[1].OrderKey)

	edited, err := env.editor.GetFlow(ctx, flow.ID)
	require.NoError(t, err)
	assert.Len(t, edited.Steps, 3)
	assert.Equal(t, "Week two", edited.Steps[0].Title)
}

func TestCreateSnapshot_OrderKeyOrder(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	flow := env.createFlow(t, twoByTwo(true))

	_, err := env.editor.ReorderComponent(ctx, flow.Steps[0].Components[1].ID, 0)
	require.NoError(t, err)

	snap, err := env.snapshots.CreateSnapshot(ctx, flow.ID)
	require.NoError(t, err)
	comps := snap.Steps[0].Components
	require.Len(t, comps, 2)
	assert.Equal(t, "Tools", comps[0].Title)
	assert.Equal(t, "Welcome", comps[1].Title)
	assert.Less(t, comps[0].OrderKey, comps[1].OrderKey)
}

func TestCreateSnapshot_ConcurrentVersionsAreDistinct(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	flow := env.createFlow(t, twoByTwo(false))

	const n = 8
	versions := make([]int, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			snap, err := env.snapshots.CreateSnapshot(ctx, flow.ID)
			if assert.NoError(t, err) {
				versions[i] = snap.Version
			}
		}(i)
	}
	wg.Wait()

	sort.Ints(versions)
	for i, v := range versions {
		assert.Equal(t, i+1, v)
	}

	infos, err := env.snapshots.ListVersions(ctx, flow.ID)
	require.NoError(t, err)
	assert.Len(t, infos, n)
}

func TestCreateSnapshot_Errors(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()

	_, err := env.snapshots.CreateSnapshot(ctx, "")
	assert.True(t, apperr.IsInvalidArgument(err))

	_, err = env.snapshots.CreateSnapshot(ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestValidateIntegrity(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	flow := env.createFlow(t, twoByTwo(true))
	snap, err := env.snapshots.CreateSnapshot(ctx, flow.ID)
	require.NoError(t, err)

	report, err := env.snapshots.ValidateIntegrity(ctx, snap.ID)
	require.NoError(t, err)
	assert.True(t, report.Valid)
	assert.Empty(t, report.Reasons)

	report, err = env.snapshots.ValidateIntegrity(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, report.Valid)
	assert.Contains(t, report.Reasons, "snapshot not found")
}

func TestGetSnapshot_ByAssignmentAndCache(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	flow := env.publishedFlow(t, twoByTwo(true))
	res := env.assign(t, "user-1", flow.ID)

	byAssignment, err := env.snapshots.GetSnapshotByAssignment(ctx, res.Assignment.ID)
	require.NoError(t, err)
	assert.Equal(t, res.Snapshot.ID, byAssignment.ID)

	cached, err := env.snapshots.GetSnapshot(ctx, res.Snapshot.ID)
	require.NoError(t, err)
	assert.Same(t, byAssignment, cached)

	_, err = env.snapshots.GetSnapshot(ctx, "missing")
	assert.True(t, apperr.IsNotFound(err))
}

func TestCleanupOldSnapshots_KeepsReferencedAndMinimum(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	flow := env.publishedFlow(t, twoByTwo(true))

	env.setNow(monday.AddDate(-2, 0, 0))
	res := env.assign(t, "user-1", flow.ID)
	require.Equal(t, 1, res.Snapshot.Version)
	v2, err := env.snapshots.CreateSnapshot(ctx, flow.ID)
	require.NoError(t, err)
	v3, err := env.snapshots.CreateSnapshot(ctx, flow.ID)
	require.NoError(t, err)

	env.setNow(monday)
	result, err := env.snapshots.CleanupOldSnapshots(ctx, 365, 1)
	require.NoError(t, err)
	assert.Equal(t, []string{v2.ID}, result.Deleted)

	infos, err := env.snapshots.ListVersions(ctx, flow.ID)
	require.NoError(t, err)
	require.Len(t, infos, 2)
	assert.Equal(t, res.Snapshot.ID, infos[0].ID)
	assert.Equal(t, v3.ID, infos[1].ID)

	_, err = env.snapshots.GetSnapshot(ctx, v2.ID)
	assert.True(t, apperr.IsNotFound(err))

	again, err := env.snapshots.CleanupOldSnapshots(ctx, 365, 1)
	require.NoError(t, err)
	assert.Empty(t, again.Deleted)
}

func TestCleanupOldSnapshots_RespectsCutoffAndArguments(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	flow := env.createFlow(t, twoByTwo(true))

	for i := 0; i < 3; i++ {
		_, err := env.snapshots.CreateSnapshot(ctx, flow.ID)
		require.NoError(t, err)
	}

	result, err := env.snapshots.CleanupOldSnapshots(ctx, 30, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Deleted)

	result, err = env.snapshots.CleanupOldSnapshots(ctx, 0, 0)
	require.NoError(t, err)
	assert.Empty(t, result.Deleted, "snapshots created at the cutoff instant are not older than it")

	_, err = env.snapshots.CleanupOldSnapshots(ctx, -1, 1)
	assert.True(t, apperr.IsInvalidArgument(err))
	_, err = env.snapshots.CleanupOldSnapshots(ctx, 1, -1)
	assert.True(t, apperr.IsInvalidArgument(err))
}
