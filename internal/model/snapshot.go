package model

import (
	"encoding/json"
	"time"
)

// FlowSnapshot is the immutable copy of a flow taken at assignment time.
// Steps are kept in order-key order.
type FlowSnapshot struct {
	ID             string         `json:"id"`
	OriginalFlowID string         `json:"originalFlowId"`
	Version        int            `json:"version"`
	Title          string         `json:"title"`
	Description    string         `json:"description,omitempty"`
	Priority       int            `json:"priority"`
	IsRequired     bool           `json:"isRequired"`
	Settings       FlowSettings   `json:"settings"`
	Steps          []StepSnapshot `json:"steps"`
	CreatedAt      time.Time      `json:"createdAt"`
}

// StepSnapshot is the frozen copy of a step
type StepSnapshot struct {
	ID               string              `json:"id"`
	FlowSnapshotID   string              `json:"flowSnapshotId"`
	OriginalStepID   string              `json:"originalStepId"`
	Title            string              `json:"title"`
	Description      string              `json:"description,omitempty"`
	OrderKey         string              `json:"orderKey"`
	IsRequired       bool                `json:"isRequired"`
	EstimatedMinutes int                 `json:"estimatedMinutes"`
	Components       []ComponentSnapshot `json:"components"`
	CreatedAt        time.Time           `json:"createdAt"`
}

// ComponentSnapshot is the frozen copy of a component with its content serialized
type ComponentSnapshot struct {
	ID                  string           `json:"id"`
	StepSnapshotID      string           `json:"stepSnapshotId"`
	OriginalComponentID string           `json:"originalComponentId"`
	Title               string           `json:"title"`
	Variant             ComponentVariant `json:"variant"`
	Content             json.RawMessage  `json:"content"`
	OrderKey            string           `json:"orderKey"`
	IsRequired          bool             `json:"isRequired"`
	MaxAttempts         int              `json:"maxAttempts"`
	MinimumScore        int              `json:"minimumScore"`
	CreatedAt           time.Time        `json:"createdAt"`
}

// SnapshotInfo is the header of a snapshot without its graph
type SnapshotInfo struct {
	ID             string    `json:"id"`
	OriginalFlowID string    `json:"originalFlowId"`
	Version        int       `json:"version"`
	CreatedAt      time.Time `json:"createdAt"`
}

// Info returns the header of the snapshot.
func (s *FlowSnapshot) Info() SnapshotInfo {
	return SnapshotInfo{ID: s.ID, OriginalFlowID: s.OriginalFlowID, Version: s.Version, CreatedAt: s.CreatedAt}
}

// FindStep returns the step snapshot with the given id.
func (s *FlowSnapshot) FindStep(id string) (*StepSnapshot, bool) {
	for i := range s.Steps {
		if s.Steps[i].ID == id {
			return &s.Steps[i], true
		}
	}
	return nil, false
}

// FindComponent returns the component snapshot with the given id together with its step.
func (s *FlowSnapshot) FindComponent(id string) (*StepSnapshot, *ComponentSnapshot, bool) {
	for i := range s.Steps {
		for j := range s.Steps[i].Components {
			if s.Steps[i].Components[j].ID == id {
				return &s.Steps[i], &s.Steps[i].Components[j], true
			}
		}
	}
	return nil, nil, false
}

// DecodedContent decodes the serialized variant payload.
func (c *ComponentSnapshot) DecodedContent() (Content, error) {
	return DecodeContent(c.Variant, c.Content)
}

// Clone returns a deep copy of the snapshot graph.
func (s *FlowSnapshot) Clone() *FlowSnapshot {
	out := *s
	out.Steps = make([]StepSnapshot, len(s.Steps))
	for i, st := range s.Steps {
		st.Components = append([]ComponentSnapshot(nil), st.Components...)
		out.Steps[i] = st
	}
	return &out
}
