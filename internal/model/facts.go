package model

import "time"

// FactType names something that happened to an assignment
type FactType string

const (
	FactFlowAssigned        FactType = "flow.assigned"
	FactStepUnlocked        FactType = "step.unlocked"
	FactComponentCompleted  FactType = "component.completed"
	FactFlowCompleted       FactType = "flow.completed"
	FactDeadlineApproaching FactType = "deadline.approaching"
	FactAssignmentOverdue   FactType = "assignment.overdue"
)

// Fact carries enough data for a notification to be rendered without re-querying.
type Fact struct {
	Type            FactType   `json:"type"`
	OccurredAt      time.Time  `json:"occurredAt"`
	UserID          string     `json:"userId"`
	AssignmentID    string     `json:"assignmentId"`
	FlowID          string     `json:"flowId"`
	FlowSnapshotID  string     `json:"flowSnapshotId"`
	FlowTitle       string     `json:"flowTitle"`
	StepID          string     `json:"stepId,omitempty"`
	StepTitle       string     `json:"stepTitle,omitempty"`
	ComponentID     string     `json:"componentId,omitempty"`
	ComponentTitle  string     `json:"componentTitle,omitempty"`
	AssignedBy      string     `json:"assignedBy,omitempty"`
	Deadline        *time.Time `json:"deadline,omitempty"`
	DaysUntilDue    *int       `json:"daysUntilDue,omitempty"`
	OverallProgress float64    `json:"overallProgress"`
}

// ToEvent flattens the fact into the map form used on the event bus.
func (f Fact) ToEvent() map[string]interface{} {
	event := map[string]interface{}{
		"type":            string(f.Type),
		"occurredAt":      f.OccurredAt.Format(time.RFC3339),
		"userId":          f.UserID,
		"assignmentId":    f.AssignmentID,
		"flowId":          f.FlowID,
		"flowSnapshotId":  f.FlowSnapshotID,
		"flowTitle":       f.FlowTitle,
		"overallProgress": f.OverallProgress,
	}
	if f.StepID != "" {
		event["stepId"] = f.StepID
		event["stepTitle"] = f.StepTitle
	}
	if f.ComponentID != "" {
		event["componentId"] = f.ComponentID
		event["componentTitle"] = f.ComponentTitle
	}
	if f.AssignedBy != "" {
		event["assignedBy"] = f.AssignedBy
	}
	if f.Deadline != nil {
		event["deadline"] = f.Deadline.Format(time.RFC3339)
	}
	if f.DaysUntilDue != nil {
		event["daysUntilDue"] = *f.DaysUntilDue
	}
	return event
}
