package service

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"flowtrack/internal/deadline"
	"flowtrack/internal/memstore"
	"flowtrack/internal/metrics"
	"flowtrack/internal/model"
	"flowtrack/internal/repo"
	"flowtrack/internal/schema"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const (
	articleContent = `{"body":"Read this first","readingTimeMinutes":5}`
	quizContent    = `{"questions":[{"text":"Pick one","options":[{"text":"a","isCorrect":true},{"text":"b","isCorrect":false}]}]}`
	taskContent    = `{"instructions":"Find the code word","codeWord":"Kestrel"}`
)

// recordingJobClient records scheduled follow-ups
type recordingJobClient struct {
	mu       sync.Mutex
	overdue  map[string]time.Time
	warnings map[string]int
}

func newRecordingJobClient() *recordingJobClient {
	return &recordingJobClient{overdue: map[string]time.Time{}, warnings: map[string]int{}}
}

func (r *recordingJobClient) ScheduleOverdueCheck(assignmentID string, deadline time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.overdue[assignmentID] = deadline
	return nil
}

func (r *recordingJobClient) ScheduleDeadlineWarning(assignmentID string, _ time.Time, warningDays int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.warnings[assignmentID] = warningDays
	return nil
}

type testEnv struct {
	store       repo.Store
	editor      *EditorService
	snapshots   *SnapshotService
	assignments *AssignmentCoordinator
	engine      *ProgressEngine
	jobs        *recordingJobClient

	mu  sync.Mutex
	now time.Time
}

// monday is 2026-03-02 09:00 UTC
var monday = time.Date(2026, time.March, 2, 9, 0, 0, 0, time.UTC)

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	return newTestEnvOn(t, memstore.New())
}

func newTestEnvOn(t *testing.T, store repo.Store) *testEnv {
	t.Helper()
	logger := zap.NewNop()
	validator := schema.NewValidator(schema.NewCompilerWithCache(64, time.Hour))
	collector := metrics.NewNop()

	env := &testEnv{store: store, now: monday, jobs: newRecordingJobClient()}
	clock := func() time.Time {
		env.mu.Lock()
		defer env.mu.Unlock()
		return env.now
	}

	env.editor = NewEditorService(store, validator, logger)
	env.editor.SetClock(clock)
	env.snapshots = NewSnapshotService(store, validator, collector, logger)
	env.snapshots.SetClock(clock)
	env.assignments = NewAssignmentCoordinator(store, env.snapshots, deadline.DefaultCalendar(),
		AssignmentDefaults{DeadlineWorkingDays: 10, WarningDays: 2}, collector, logger)
	env.assignments.SetClock(clock)
	env.assignments.SetJobClient(env.jobs)
	env.engine = NewProgressEngine(store, env.snapshots, validator, collector, logger)
	env.engine.SetClock(clock)
	return env
}

func (e *testEnv) setNow(t time.Time) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.now = t
}

func article(title string, required bool) ComponentInput {
	return ComponentInput{Title: title, Variant: model.VariantArticle, Content: json.RawMessage(articleContent), IsRequired: required}
}

// twoByTwo is a flow of two steps with two required articles each.
func twoByTwo(sequential bool) CreateFlowInput {
	return CreateFlowInput{
		Title:    "Onboarding",
		Settings: model.FlowSettings{RequireSequentialCompletionComponents: sequential, DaysPerStep: 2},
		Steps: []StepInput{
			{Title: "Week one", IsRequired: true, Components: []ComponentInput{article("Welcome", true), article("Tools", true)}},
			{Title: "Week two", IsRequired: true, Components: []ComponentInput{article("Team", true), article("Process", true)}},
		},
	}
}

func (e *testEnv) createFlow(t *testing.T, input CreateFlowInput) *model.Flow {
	t.Helper()
	flow, err := e.editor.CreateFlow(context.Background(), input)
	require.NoError(t, err)
	return flow
}

func (e *testEnv) publishedFlow(t *testing.T, input CreateFlowInput) *model.Flow {
	t.Helper()
	flow := e.createFlow(t, input)
	published, err := e.editor.PublishFlow(context.Background(), flow.ID)
	require.NoError(t, err)
	return published
}

func (e *testEnv) assign(t *testing.T, userID, flowID string) *AssignFlowResult {
	t.Helper()
	res, err := e.assignments.AssignFlow(context.Background(), AssignFlowInput{UserID: userID, FlowID: flowID, AssignedBy: "admin"})
	require.NoError(t, err)
	return res
}

func factTypes(facts []model.Fact) []model.FactType {
	out := make([]model.FactType, 0, len(facts))
	for _, f := range facts {
		out = append(out, f.Type)
	}
	return out
}
