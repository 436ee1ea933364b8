package model

import (
	"encoding/json"
	"time"
)

// Assignment binds a user to one frozen snapshot of a flow
type Assignment struct {
	ID             string           `json:"id"`
	UserID         string           `json:"userId"`
	FlowID         string           `json:"flowId"`
	FlowSnapshotID string           `json:"flowSnapshotId"`
	Status         AssignmentStatus `json:"status"`
	AssignedAt     time.Time        `json:"assignedAt"`
	Deadline       time.Time        `json:"deadline"`
	AssignedBy     string           `json:"assignedBy"`
	MentorID       *string          `json:"mentorId,omitempty"`
	CompletedAt    *time.Time       `json:"completedAt,omitempty"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

// ComponentProgress is created lazily the first time a learner reaches a component
type ComponentProgress struct {
	ID                  string          `json:"id"`
	AssignmentID        string          `json:"assignmentId"`
	StepSnapshotID      string          `json:"stepSnapshotId"`
	ComponentSnapshotID string          `json:"componentSnapshotId"`
	Status              ProgressStatus  `json:"status"`
	AttemptCount        int             `json:"attemptCount"`
	Score               *int            `json:"score,omitempty"`
	Payload             json.RawMessage `json:"payload,omitempty"`
	TimeSpentMinutes    int             `json:"timeSpentMinutes"`
	StartedAt           time.Time       `json:"startedAt"`
	CompletedAt         *time.Time      `json:"completedAt,omitempty"`
	UpdatedAt           time.Time       `json:"updatedAt"`
}

// StepProgress records when a step was unlocked and completed
type StepProgress struct {
	ID             string         `json:"id"`
	AssignmentID   string         `json:"assignmentId"`
	StepSnapshotID string         `json:"stepSnapshotId"`
	Status         ProgressStatus `json:"status"`
	UnlockedAt     time.Time      `json:"unlockedAt"`
	CompletedAt    *time.Time     `json:"completedAt,omitempty"`
	UpdatedAt      time.Time      `json:"updatedAt"`
}

// FlowProgress is the aggregate view of an assignment
type FlowProgress struct {
	ID                    string         `json:"id"`
	AssignmentID          string         `json:"assignmentId"`
	FlowSnapshotID        string         `json:"flowSnapshotId"`
	UserID                string         `json:"userId"`
	Status                ProgressStatus `json:"status"`
	OverallProgress       float64        `json:"overallProgress"`
	CompletedRequired     int            `json:"completedRequired"`
	TotalRequired         int            `json:"totalRequired"`
	CurrentStepSnapshotID *string        `json:"currentStepSnapshotId,omitempty"`
	StartedAt             *time.Time     `json:"startedAt,omitempty"`
	CompletedAt           *time.Time     `json:"completedAt,omitempty"`
	UpdatedAt             time.Time      `json:"updatedAt"`
}

// CanAttempt reports whether another completion attempt is permitted.
func (p *ComponentProgress) CanAttempt(maxAttempts int) bool {
	if p.Status == ProgressStatusCompleted || p.Status == ProgressStatusFailed {
		return false
	}
	return maxAttempts <= 0 || p.AttemptCount < maxAttempts
}

// Touch advances UpdatedAt to now, or just past the previous value when the clock lags.
func Touch(prev, now time.Time) time.Time {
	if now.After(prev) {
		return now
	}
	return prev.Add(time.Microsecond)
}
