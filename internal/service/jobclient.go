package service

import (
	"context"
	"time"

	"flowtrack/internal/model"
)

// JobClient schedules deadline follow-ups for an assignment
type JobClient interface {
	ScheduleOverdueCheck(assignmentID string, deadline time.Time) error
	ScheduleDeadlineWarning(assignmentID string, deadline time.Time, warningDays int) error
}

// Dispatcher delivers facts returned by engine operations
type Dispatcher interface {
	Dispatch(ctx context.Context, facts []model.Fact) error
}
