package model

import (
	"sort"
	"time"
)

// FlowSettings holds per-flow behavior switches
type FlowSettings struct {
	RequireSequentialCompletionComponents bool `json:"requireSequentialCompletionComponents"`
	DaysPerStep                           int  `json:"daysPerStep,omitempty"`
	DeadlineWarningDays                   int  `json:"deadlineWarningDays,omitempty"`
}

// Flow is the mutable template edited while in draft
type Flow struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description,omitempty"`
	Status      FlowStatus   `json:"status"`
	Priority    int          `json:"priority"`
	IsRequired  bool         `json:"isRequired"`
	Settings    FlowSettings `json:"settings"`
	Steps       []Step       `json:"steps"`
	CreatedAt   time.Time    `json:"createdAt"`
	UpdatedAt   time.Time    `json:"updatedAt"`
}

// Step belongs to exactly one flow
type Step struct {
	ID               string      `json:"id"`
	FlowID           string      `json:"flowId"`
	Title            string      `json:"title"`
	Description      string      `json:"description,omitempty"`
	OrderKey         string      `json:"orderKey"`
	IsRequired       bool        `json:"isRequired"`
	EstimatedMinutes int         `json:"estimatedMinutes"`
	Components       []Component `json:"components"`
}

// Component belongs to exactly one step.
// MaxAttempts of zero means unlimited; MinimumScore of zero means no score gate.
type Component struct {
	ID           string           `json:"id"`
	StepID       string           `json:"stepId"`
	Title        string           `json:"title"`
	Variant      ComponentVariant `json:"variant"`
	Content      Content          `json:"content"`
	OrderKey     string           `json:"orderKey"`
	IsRequired   bool             `json:"isRequired"`
	MaxAttempts  int              `json:"maxAttempts"`
	MinimumScore int              `json:"minimumScore"`
}

// SetOrderKey moves the step within its flow.
func (s *Step) SetOrderKey(key string) { s.OrderKey = key }

// SetOrderKey moves the component within its step.
func (c *Component) SetOrderKey(key string) { c.OrderKey = key }

// IsDraft reports whether structural edits are allowed.
func (f *Flow) IsDraft() bool { return f.Status == FlowStatusDraft }

// OrderedSteps returns the steps sorted by order key without touching f.
func (f *Flow) OrderedSteps() []Step {
	steps := make([]Step, len(f.Steps))
	copy(steps, f.Steps)
	sort.SliceStable(steps, func(i, j int) bool { return steps[i].OrderKey < steps[j].OrderKey })
	return steps
}

// OrderedComponents returns the components sorted by order key without touching s.
func (s *Step) OrderedComponents() []Component {
	comps := make([]Component, len(s.Components))
	copy(comps, s.Components)
	sort.SliceStable(comps, func(i, j int) bool { return comps[i].OrderKey < comps[j].OrderKey })
	return comps
}

// FindStep returns the step with the given id.
func (f *Flow) FindStep(id string) (*Step, bool) {
	for i := range f.Steps {
		if f.Steps[i].ID == id {
			return &f.Steps[i], true
		}
	}
	return nil, false
}

// FindComponent returns the component with the given id together with its step.
func (f *Flow) FindComponent(id string) (*Step, *Component, bool) {
	for i := range f.Steps {
		for j := range f.Steps[i].Components {
			if f.Steps[i].Components[j].ID == id {
				return &f.Steps[i], &f.Steps[i].Components[j], true
			}
		}
	}
	return nil, nil, false
}

// Clone returns a deep copy of the flow graph.
func (f *Flow) Clone() *Flow {
	out := *f
	out.Steps = make([]Step, len(f.Steps))
	for i, s := range f.Steps {
		s.Components = append([]Component(nil), s.Components...)
		out.Steps[i] = s
	}
	return &out
}
