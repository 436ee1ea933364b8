package model

// FlowStatus represents the lifecycle of a flow template
type FlowStatus string

const (
	FlowStatusDraft     FlowStatus = "DRAFT"
	FlowStatusPublished FlowStatus = "PUBLISHED"
	FlowStatusArchived  FlowStatus = "ARCHIVED"
)

// AssignmentStatus represents the lifecycle of an assignment
type AssignmentStatus string

const (
	AssignmentStatusAssigned   AssignmentStatus = "ASSIGNED"
	AssignmentStatusInProgress AssignmentStatus = "IN_PROGRESS"
	AssignmentStatusPaused     AssignmentStatus = "PAUSED"
	AssignmentStatusCompleted  AssignmentStatus = "COMPLETED"
	AssignmentStatusCancelled  AssignmentStatus = "CANCELLED"
	AssignmentStatusOverdue    AssignmentStatus = "OVERDUE"
)

// IsActive reports whether the status still blocks a new assignment of the same flow.
func (s AssignmentStatus) IsActive() bool {
	return s != AssignmentStatusCompleted && s != AssignmentStatusCancelled
}

// AcceptsProgress reports whether learners may record progress in this status.
func (s AssignmentStatus) AcceptsProgress() bool {
	switch s {
	case AssignmentStatusAssigned, AssignmentStatusInProgress, AssignmentStatusOverdue:
		return true
	}
	return false
}

// ProgressStatus is shared by component, step and flow progress rows
type ProgressStatus string

const (
	ProgressStatusNotStarted ProgressStatus = "NOT_STARTED"
	ProgressStatusInProgress ProgressStatus = "IN_PROGRESS"
	ProgressStatusCompleted  ProgressStatus = "COMPLETED"
	ProgressStatusFailed     ProgressStatus = "FAILED"
)

// ComponentVariant discriminates component content
type ComponentVariant string

const (
	VariantArticle ComponentVariant = "article"
	VariantQuiz    ComponentVariant = "quiz"
	VariantTask    ComponentVariant = "task"
)

// Valid reports whether v is one of the known variants.
func (v ComponentVariant) Valid() bool {
	switch v {
	case VariantArticle, VariantQuiz, VariantTask:
		return true
	}
	return false
}
