package progress

import (
	"encoding/json"
	"testing"

	"flowtrack/internal/apperr"
	"flowtrack/internal/model"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func article() json.RawMessage {
	raw, _ := model.EncodeContent(model.Article{Body: "read me", ReadingTimeMinutes: 3})
	return raw
}

func comp(id, key string, required bool) model.ComponentSnapshot {
	return model.ComponentSnapshot{
		ID:         id,
		Title:      "component " + id,
		Variant:    model.VariantArticle,
		Content:    article(),
		OrderKey:   key,
		IsRequired: required,
	}
}

// twoByTwo builds a snapshot with two required steps of two required components each.
// Keys are deliberately listed out of order to check sorting.
func twoByTwo(sequential bool) *model.FlowSnapshot {
	return &model.FlowSnapshot{
		ID:       "snap",
		Title:    "Onboarding",
		Settings: model.FlowSettings{RequireSequentialCompletionComponents: sequential},
		Steps: []model.StepSnapshot{
			{ID: "s2", Title: "Second", OrderKey: "r", IsRequired: true, Components: []model.ComponentSnapshot{
				comp("c3", "i", true), comp("c4", "r", true),
			}},
			{ID: "s1", Title: "First", OrderKey: "i", IsRequired: true, Components: []model.ComponentSnapshot{
				comp("c2", "r", true), comp("c1", "i", true),
			}},
		},
	}
}

func done(ids ...string) []model.ComponentProgress {
	rows := make([]model.ComponentProgress, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, model.ComponentProgress{ComponentSnapshotID: id, Status: model.ProgressStatusCompleted})
	}
	return rows
}

func TestTracker_SequentialUnlocksAfterStepCompleted(t *testing.T) {
	snap := twoByTwo(true)

	// Only one component of step 1 completed: nothing to unlock.
	tr := NewTracker(snap, done("c1"))
	next, reason := tr.NextStep("s1")
	assert.Nil(t, next)
	assert.Equal(t, ReasonCurrentIncomplete, reason)
	ok, blocker := tr.CanStart("c3")
	assert.False(t, ok)
	require.NotNil(t, blocker)
	assert.Equal(t, "s1", blocker.StepSnapshotID)

	// Both components of step 1 completed: step 2 unlocks.
	tr = NewTracker(snap, done("c1", "c2"))
	next, reason = tr.NextStep("s1")
	require.NotNil(t, next)
	assert.Equal(t, "s2", next.ID)
	assert.Equal(t, ReasonUnlocked, reason)
	ok, _ = tr.CanStart("c3")
	assert.True(t, ok)
}

func TestTracker_SequentialComponentsWithinStep(t *testing.T) {
	tr := NewTracker(twoByTwo(true), nil)

	ok, _ := tr.CanStart("c1")
	assert.True(t, ok)

	ok, blocker := tr.CanStart("c2")
	assert.False(t, ok)
	require.NotNil(t, blocker)
	assert.Equal(t, "c1", blocker.ComponentSnapshotID)
	assert.Equal(t, "component c1", blocker.ComponentTitle)
}

func TestTracker_NonSequentialEverythingReachable(t *testing.T) {
	tr := NewTracker(twoByTwo(false), nil)
	for _, id := range []string{"c1", "c2", "c3", "c4"} {
		ok, blocker := tr.CanStart(id)
		assert.True(t, ok, id)
		assert.Nil(t, blocker)
	}
}

func TestTracker_OptionalComponentDoesNotBlock(t *testing.T) {
	snap := &model.FlowSnapshot{
		Settings: model.FlowSettings{RequireSequentialCompletionComponents: true},
		Steps: []model.StepSnapshot{
			{ID: "s1", OrderKey: "i", IsRequired: true, Components: []model.ComponentSnapshot{
				comp("opt", "9", false), comp("req", "i", true),
			}},
		},
	}
	tr := NewTracker(snap, nil)

	ok, _ := tr.CanStart("req")
	assert.True(t, ok)
	assert.False(t, tr.StepCompleted("s1"))

	tr = NewTracker(snap, done("req"))
	assert.True(t, tr.StepCompleted("s1"))
	assert.Equal(t, 100.0, tr.Summary().Percentage)
}

func TestTracker_FirstUnlockAndFinish(t *testing.T) {
	snap := twoByTwo(true)

	tr := NewTracker(snap, nil)
	next, reason := tr.NextStep("")
	require.NotNil(t, next)
	assert.Equal(t, "s1", next.ID)
	assert.Equal(t, ReasonUnlocked, reason)

	tr = NewTracker(snap, done("c1", "c2", "c3", "c4"))
	next, reason = tr.NextStep("s2")
	assert.Nil(t, next)
	assert.Equal(t, ReasonFlowFinished, reason)
	assert.True(t, tr.IsFinished())
}

func TestTracker_SummaryBounds(t *testing.T) {
	snap := twoByTwo(false)
	sequences := [][]string{{}, {"c1"}, {"c1", "c3"}, {"c1", "c2", "c3"}, {"c1", "c2", "c3", "c4"}}
	for _, seq := range sequences {
		s := NewTracker(snap, done(seq...)).Summary()
		assert.GreaterOrEqual(t, s.Percentage, 0.0)
		assert.LessOrEqual(t, s.Percentage, 100.0)
		assert.Equal(t, 4, s.TotalRequired)
		assert.Equal(t, len(seq), s.CompletedRequired)
	}
	assert.Equal(t, 50.0, NewTracker(snap, done("c1", "c4")).Summary().Percentage)
}

func TestTracker_NoRequiredComponents(t *testing.T) {
	snap := &model.FlowSnapshot{Steps: []model.StepSnapshot{
		{ID: "s1", OrderKey: "i", Components: []model.ComponentSnapshot{comp("c1", "i", false)}},
	}}
	s := NewTracker(snap, done("c1")).Summary()
	assert.Equal(t, 0.0, s.Percentage)
	assert.Equal(t, 0, s.TotalRequired)
}

func TestTracker_EmptySnapshot(t *testing.T) {
	tr := NewTracker(&model.FlowSnapshot{}, nil)
	next, reason := tr.NextStep("")
	assert.Nil(t, next)
	assert.Equal(t, ReasonFlowFinished, reason)
	assert.Equal(t, 0.0, tr.Summary().Percentage)
}

func TestTracker_FailedComponentBlocksStep(t *testing.T) {
	rows := []model.ComponentProgress{
		{ComponentSnapshotID: "c1", Status: model.ProgressStatusCompleted},
		{ComponentSnapshotID: "c2", Status: model.ProgressStatusFailed},
	}
	tr := NewTracker(twoByTwo(true), rows)
	assert.False(t, tr.StepCompleted("s1"))
	_, reason := tr.NextStep("s1")
	assert.Equal(t, ReasonCurrentIncomplete, reason)
}

func TestTracker_Steps(t *testing.T) {
	rows := append(done("c1", "c2"), model.ComponentProgress{ComponentSnapshotID: "c3", Status: model.ProgressStatusInProgress})
	states := NewTracker(twoByTwo(true), rows).Steps()
	require.Len(t, states, 2)

	assert.Equal(t, "s1", states[0].StepSnapshotID)
	assert.Equal(t, model.ProgressStatusCompleted, states[0].Status)
	assert.Equal(t, 2, states[0].CompletedRequired)

	assert.Equal(t, "s2", states[1].StepSnapshotID)
	assert.Equal(t, model.ProgressStatusInProgress, states[1].Status)
	assert.True(t, states[1].Reachable)
}

func TestPercentage(t *testing.T) {
	assert.Equal(t, 0.0, Percentage(0, 0))
	assert.Equal(t, 0.0, Percentage(3, 0))
	assert.Equal(t, 100.0, Percentage(5, 4))
	assert.InDelta(t, 33.33, Percentage(1, 3), 0.01)
}

func TestEvaluate_MinimumScore(t *testing.T) {
	quiz, _ := model.EncodeContent(model.Quiz{})
	c := &model.ComponentSnapshot{ID: "q", Variant: model.VariantQuiz, Content: quiz, MinimumScore: 70, MaxAttempts: 2}

	low, high := 50, 80

	out, err := Evaluate(c, 1, Attempt{Score: &low})
	require.NoError(t, err)
	assert.Equal(t, model.ProgressStatusInProgress, out.Status)
	assert.False(t, out.Passed)

	out, err = Evaluate(c, 2, Attempt{Score: &low})
	require.NoError(t, err)
	assert.Equal(t, model.ProgressStatusFailed, out.Status)

	out, err = Evaluate(c, 2, Attempt{Score: &high})
	require.NoError(t, err)
	assert.Equal(t, model.ProgressStatusCompleted, out.Status)

	_, err = Evaluate(c, 1, Attempt{})
	assert.True(t, apperr.IsInvalidArgument(err))
}

func TestEvaluate_UnlimitedAttempts(t *testing.T) {
	quiz, _ := model.EncodeContent(model.Quiz{})
	c := &model.ComponentSnapshot{ID: "q", Variant: model.VariantQuiz, Content: quiz, MinimumScore: 70}
	low := 10

	out, err := Evaluate(c, 1000, Attempt{Score: &low})
	require.NoError(t, err)
	assert.Equal(t, model.ProgressStatusInProgress, out.Status)
}

func TestEvaluate_TaskCodeWord(t *testing.T) {
	task, _ := model.EncodeContent(model.Task{Instructions: "find the word", CodeWord: "Kestrel"})
	c := &model.ComponentSnapshot{ID: "t", Variant: model.VariantTask, Content: task, MaxAttempts: 3}

	out, err := Evaluate(c, 1, Attempt{Payload: json.RawMessage(`{"codeWord":" kestrel "}`)})
	require.NoError(t, err)
	assert.Equal(t, model.ProgressStatusCompleted, out.Status)

	out, err = Evaluate(c, 1, Attempt{Payload: json.RawMessage(`{"codeWord":"falcon"}`)})
	require.NoError(t, err)
	assert.Equal(t, model.ProgressStatusInProgress, out.Status)
	assert.Equal(t, "code word mismatch", out.Reason)

	_, err = Evaluate(c, 1, Attempt{Payload: json.RawMessage(`[1,2`)})
	assert.True(t, apperr.IsInvalidArgument(err))
}

func TestEvaluate_ArticleAlwaysPasses(t *testing.T) {
	c := comp("a", "i", true)
	out, err := Evaluate(&c, 1, Attempt{})
	require.NoError(t, err)
	assert.Equal(t, model.ProgressStatusCompleted, out.Status)
}
