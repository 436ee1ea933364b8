// Package repo declares the storage contracts the engine consumes.
//
// Lookups of a single row return an *apperr.Error of kind NotFound when the
// row is missing. Inserts that violate a uniqueness rule return Conflict.
package repo

import (
	"context"
	"time"

	"flowtrack/internal/model"
)

// FlowRepository reads and edits mutable flow templates
type FlowRepository interface {
	// GetFlow loads the flow with its steps and components ordered by order key.
	GetFlow(ctx context.Context, id string) (*model.Flow, error)
	InsertFlow(ctx context.Context, flow *model.Flow) error
	InsertStep(ctx context.Context, step *model.Step) error
	InsertComponent(ctx context.Context, component *model.Component) error
	UpdateFlowStatus(ctx context.Context, id string, status model.FlowStatus, updatedAt time.Time) error
	// TouchFlow bumps updated_at without rewriting the status.
	TouchFlow(ctx context.Context, id string, updatedAt time.Time) error
	// LocateStep returns the flow owning the step.
	LocateStep(ctx context.Context, stepID string) (flowID string, err error)
	// LocateComponent returns the flow and step owning the component.
	LocateComponent(ctx context.Context, componentID string) (flowID, stepID string, err error)
	UpdateStepOrderKey(ctx context.Context, stepID, key string) error
	UpdateComponentOrderKey(ctx context.Context, componentID, key string) error
}

// SnapshotRepository stores immutable snapshot graphs
type SnapshotRepository interface {
	// MaxSnapshotVersion returns 0 when the flow has no snapshot yet.
	MaxSnapshotVersion(ctx context.Context, originalFlowID string) (int, error)
	InsertSnapshot(ctx context.Context, snapshot *model.FlowSnapshot) error
	GetSnapshot(ctx context.Context, id string) (*model.FlowSnapshot, error)
	GetSnapshotByAssignment(ctx context.Context, assignmentID string) (*model.FlowSnapshot, error)
	// ListSnapshotVersions returns headers ordered by version ascending.
	ListSnapshotVersions(ctx context.Context, originalFlowID string) ([]model.SnapshotInfo, error)
	// ListSnapshotsCreatedBefore returns headers ordered by creation time ascending.
	ListSnapshotsCreatedBefore(ctx context.Context, cutoff time.Time) ([]model.SnapshotInfo, error)
	SnapshotReferenced(ctx context.Context, snapshotID string) (bool, error)
	DeleteSnapshot(ctx context.Context, id string) error
}

// AssignmentRepository stores assignments
type AssignmentRepository interface {
	// GetActiveAssignment returns the non-completed, non-cancelled assignment of the pair.
	GetActiveAssignment(ctx context.Context, userID, flowID string) (*model.Assignment, error)
	GetAssignment(ctx context.Context, id string) (*model.Assignment, error)
	ListAssignmentsByUser(ctx context.Context, userID string) ([]model.Assignment, error)
	// ListActiveAssignmentsDueBefore returns active assignments whose deadline is before t.
	ListActiveAssignmentsDueBefore(ctx context.Context, t time.Time) ([]model.Assignment, error)
	InsertAssignment(ctx context.Context, a *model.Assignment) error
	UpdateAssignment(ctx context.Context, a *model.Assignment) error
}

// ProgressRepository stores component, step and flow progress rows
type ProgressRepository interface {
	GetComponentProgress(ctx context.Context, id string) (*model.ComponentProgress, error)
	FindComponentProgress(ctx context.Context, assignmentID, componentSnapshotID string) (*model.ComponentProgress, error)
	ListComponentProgress(ctx context.Context, assignmentID string) ([]model.ComponentProgress, error)
	UpsertComponentProgress(ctx context.Context, p *model.ComponentProgress) error

	ListStepProgress(ctx context.Context, assignmentID string) ([]model.StepProgress, error)
	UpsertStepProgress(ctx context.Context, p *model.StepProgress) error

	GetFlowProgress(ctx context.Context, id string) (*model.FlowProgress, error)
	GetFlowProgressByAssignment(ctx context.Context, assignmentID string) (*model.FlowProgress, error)
	InsertFlowProgress(ctx context.Context, p *model.FlowProgress) error
	UpdateFlowProgress(ctx context.Context, p *model.FlowProgress) error
}

// Repositories groups every repository
type Repositories interface {
	FlowRepository
	SnapshotRepository
	AssignmentRepository
	ProgressRepository
}

// Tx is a unit of work. Lock methods serialize writers on a key until the
// transaction ends.
type Tx interface {
	Repositories
	LockFlowSnapshots(ctx context.Context, originalFlowID string) error
	LockAssignmentPair(ctx context.Context, userID, flowID string) error
	LockSiblings(ctx context.Context, parentID string) error
	LockFlowProgress(ctx context.Context, flowProgressID string) error
	// LockFlow serializes status checks and edits of one flow.
	LockFlow(ctx context.Context, flowID string) error
	// LockAssignment serializes status changes of one assignment.
	LockAssignment(ctx context.Context, assignmentID string) error
}

// Store is the entry point to persistence. WithinTx commits when fn returns
// nil and rolls back otherwise, including on context cancellation.
type Store interface {
	Repositories
	WithinTx(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}
