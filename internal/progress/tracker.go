// Package progress evaluates learner progress against a frozen flow snapshot.
//
// Everything here is pure: a Tracker is built from one snapshot and the
// component progress rows of one assignment, and answers reachability and
// aggregation questions without touching storage.
package progress

import (
	"sort"

	"flowtrack/internal/model"
)

// Blocker names the item that prevents a component or step from being reached
type Blocker struct {
	StepSnapshotID      string `json:"stepSnapshotId"`
	StepTitle           string `json:"stepTitle"`
	ComponentSnapshotID string `json:"componentSnapshotId,omitempty"`
	ComponentTitle      string `json:"componentTitle,omitempty"`
}

// Summary is the flow-level aggregate
type Summary struct {
	CompletedRequired int
	TotalRequired     int
	Percentage        float64
}

// StepState is the derived state of one step
type StepState struct {
	StepSnapshotID    string               `json:"stepSnapshotId"`
	Title             string               `json:"title"`
	OrderKey          string               `json:"orderKey"`
	Status            model.ProgressStatus `json:"status"`
	Reachable         bool                 `json:"reachable"`
	CompletedRequired int                  `json:"completedRequired"`
	TotalRequired     int                  `json:"totalRequired"`
}

// NextReason explains why NextStep returned no step
type NextReason string

const (
	ReasonUnlocked          NextReason = "UNLOCKED"
	ReasonFlowFinished      NextReason = "FLOW_FINISHED"
	ReasonCurrentIncomplete NextReason = "CURRENT_STEP_INCOMPLETE"
	ReasonNoReachableStep   NextReason = "NO_REACHABLE_STEP"
)

// Tracker answers progress questions for one assignment
type Tracker struct {
	snapshot   *model.FlowSnapshot
	steps      []*model.StepSnapshot
	components map[string][]*model.ComponentSnapshot
	rows       map[string]*model.ComponentProgress
	sequential bool
}

// NewTracker indexes the snapshot and the assignment's component rows.
func NewTracker(snapshot *model.FlowSnapshot, rows []model.ComponentProgress) *Tracker {
	t := &Tracker{
		snapshot:   snapshot,
		components: make(map[string][]*model.ComponentSnapshot, len(snapshot.Steps)),
		rows:       make(map[string]*model.ComponentProgress, len(rows)),
		sequential: snapshot.Settings.RequireSequentialCompletionComponents,
	}
	for i := range snapshot.Steps {
		step := &snapshot.Steps[i]
		t.steps = append(t.steps, step)
		comps := make([]*model.ComponentSnapshot, 0, len(step.Components))
		for j := range step.Components {
			comps = append(comps, &step.Components[j])
		}
		sort.SliceStable(comps, func(a, b int) bool { return comps[a].OrderKey < comps[b].OrderKey })
		t.components[step.ID] = comps
	}
	sort.SliceStable(t.steps, func(a, b int) bool { return t.steps[a].OrderKey < t.steps[b].OrderKey })
	for i := range rows {
		t.rows[rows[i].ComponentSnapshotID] = &rows[i]
	}
	return t
}

// Row returns the progress row of a component, if one exists.
func (t *Tracker) Row(componentSnapshotID string) (*model.ComponentProgress, bool) {
	row, ok := t.rows[componentSnapshotID]
	return row, ok
}

// ComponentCompleted reports whether the component's row is Completed.
func (t *Tracker) ComponentCompleted(componentSnapshotID string) bool {
	row, ok := t.rows[componentSnapshotID]
	return ok && row.Status == model.ProgressStatusCompleted
}

// StepCompleted reports whether every required component of the step is Completed.
func (t *Tracker) StepCompleted(stepSnapshotID string) bool {
	for _, c := range t.components[stepSnapshotID] {
		if c.IsRequired && !t.ComponentCompleted(c.ID) {
			return false
		}
	}
	return true
}

// StepReachable reports whether the step is unlocked. In sequential mode every
// earlier required step must be complete; the first incomplete one is returned.
func (t *Tracker) StepReachable(stepSnapshotID string) (bool, *Blocker) {
	if !t.sequential {
		_, ok := t.components[stepSnapshotID]
		return ok, nil
	}
	for _, s := range t.steps {
		if s.ID == stepSnapshotID {
			return true, nil
		}
		if s.IsRequired && !t.StepCompleted(s.ID) {
			return false, &Blocker{StepSnapshotID: s.ID, StepTitle: s.Title}
		}
	}
	return false, nil
}

// CanStart reports whether attempts on the component are permitted, naming the
// blocking predecessor when they are not.
func (t *Tracker) CanStart(componentSnapshotID string) (bool, *Blocker) {
	step, _, ok := t.snapshot.FindComponent(componentSnapshotID)
	if !ok {
		return false, nil
	}
	if reachable, blocker := t.StepReachable(step.ID); !reachable {
		return false, blocker
	}
	if !t.sequential {
		return true, nil
	}
	for _, c := range t.components[step.ID] {
		if c.ID == componentSnapshotID {
			return true, nil
		}
		if c.IsRequired && !t.ComponentCompleted(c.ID) {
			return false, &Blocker{
				StepSnapshotID:      step.ID,
				StepTitle:           step.Title,
				ComponentSnapshotID: c.ID,
				ComponentTitle:      c.Title,
			}
		}
	}
	return true, nil
}

// Summary computes the required-component completion percentage, clamped to [0,100].
// A snapshot without required components reports 0.
func (t *Tracker) Summary() Summary {
	var s Summary
	for _, step := range t.steps {
		for _, c := range t.components[step.ID] {
			if !c.IsRequired {
				continue
			}
			s.TotalRequired++
			if t.ComponentCompleted(c.ID) {
				s.CompletedRequired++
			}
		}
	}
	s.Percentage = Percentage(s.CompletedRequired, s.TotalRequired)
	return s
}

// Percentage returns 100*completed/total clamped to [0,100], or 0 when total is 0.
func Percentage(completed, total int) float64 {
	if total <= 0 {
		return 0
	}
	p := 100 * float64(completed) / float64(total)
	if p < 0 {
		return 0
	}
	if p > 100 {
		return 100
	}
	return p
}

// IsFinished reports whether the flow reached 100%.
func (t *Tracker) IsFinished() bool {
	return t.Summary().Percentage >= 100
}

// NextStep picks the step to unlock after currentStepSnapshotID (or the first
// step when current is empty).
func (t *Tracker) NextStep(currentStepSnapshotID string) (*model.StepSnapshot, NextReason) {
	if len(t.steps) == 0 {
		return nil, ReasonFlowFinished
	}
	if currentStepSnapshotID == "" {
		return t.steps[0], ReasonUnlocked
	}

	idx := t.stepIndex(currentStepSnapshotID)
	if idx < 0 {
		return nil, ReasonNoReachableStep
	}
	if !t.StepCompleted(currentStepSnapshotID) {
		return nil, ReasonCurrentIncomplete
	}

	for _, s := range t.steps[idx+1:] {
		if ok, _ := t.StepReachable(s.ID); ok {
			return s, ReasonUnlocked
		}
		if t.sequential {
			break
		}
	}
	if t.allStepsCompleted() {
		return nil, ReasonFlowFinished
	}
	return nil, ReasonNoReachableStep
}

// Steps returns the derived state of every step in order.
func (t *Tracker) Steps() []StepState {
	out := make([]StepState, 0, len(t.steps))
	for _, s := range t.steps {
		st := StepState{
			StepSnapshotID: s.ID,
			Title:          s.Title,
			OrderKey:       s.OrderKey,
			Status:         model.ProgressStatusNotStarted,
		}
		st.Reachable, _ = t.StepReachable(s.ID)
		touched := false
		for _, c := range t.components[s.ID] {
			if _, ok := t.rows[c.ID]; ok {
				touched = true
			}
			if c.IsRequired {
				st.TotalRequired++
				if t.ComponentCompleted(c.ID) {
					st.CompletedRequired++
				}
			}
		}
		switch {
		case t.StepCompleted(s.ID) && (touched || st.TotalRequired == 0) && st.Reachable:
			st.Status = model.ProgressStatusCompleted
		case touched:
			st.Status = model.ProgressStatusInProgress
		}
		out = append(out, st)
	}
	return out
}

// OrderedSteps returns the step snapshots sorted by order key.
func (t *Tracker) OrderedSteps() []*model.StepSnapshot {
	return t.steps
}

func (t *Tracker) allStepsCompleted() bool {
	for _, s := range t.steps {
		if !t.StepCompleted(s.ID) {
			return false
		}
	}
	return true
}

func (t *Tracker) stepIndex(id string) int {
	for i, s := range t.steps {
		if s.ID == id {
			return i
		}
	}
	return -1
}
