// Package deadline computes working-day deadlines.
//
// All comparisons are date-only: the time of day of every input is dropped
// before any arithmetic, in the location of the start date.
package deadline

import (
	"time"

	"flowtrack/internal/apperr"
)

// maxCalendarDays bounds the forward walk when holidays swallow most working days.
const maxCalendarDays = 20 * 366

// DefaultWorkWeek is Monday through Friday.
var DefaultWorkWeek = []time.Weekday{time.Monday, time.Tuesday, time.Wednesday, time.Thursday, time.Friday}

// Calculator holds a computed deadline
type Calculator struct {
	workingDays int
	start       time.Time
	workWeek    map[time.Weekday]bool
	holidays    map[civilDate]bool
	deadline    time.Time
}

// Option customizes a Calculator
type Option func(*Calculator)

// WithWorkWeek replaces the default Monday-Friday work week.
func WithWorkWeek(days ...time.Weekday) Option {
	return func(c *Calculator) {
		c.workWeek = make(map[time.Weekday]bool, len(days))
		for _, d := range days {
			c.workWeek[d] = true
		}
	}
}

// WithHolidays marks dates that never count as working days.
func WithHolidays(dates ...time.Time) Option {
	return func(c *Calculator) {
		for _, d := range dates {
			c.holidays[dateOf(d)] = true
		}
	}
}

// New walks forward from start and fixes the deadline.
// The start date itself never counts; the day the count reaches zero is the deadline.
func New(workingDays int, start time.Time, opts ...Option) (*Calculator, error) {
	if workingDays <= 0 {
		return nil, apperr.InvalidArgument("working days count must be positive, got %d", workingDays)
	}
	if start.IsZero() {
		return nil, apperr.InvalidArgument("start date is required")
	}

	c := &Calculator{
		workingDays: workingDays,
		start:       truncate(start),
		holidays:    make(map[civilDate]bool),
	}
	WithWorkWeek(DefaultWorkWeek...)(c)
	for _, opt := range opts {
		opt(c)
	}
	if len(c.workWeek) == 0 {
		return nil, apperr.InvalidArgument("work week has no working days")
	}

	day := c.start
	remaining := workingDays
	for i := 0; remaining > 0; i++ {
		if i >= maxCalendarDays {
			return nil, apperr.InvalidArgument("no deadline within %d calendar days", maxCalendarDays)
		}
		day = day.AddDate(0, 0, 1)
		if c.isWorkingDay(day) {
			remaining--
		}
	}
	c.deadline = day
	return c, nil
}

func (c *Calculator) isWorkingDay(day time.Time) bool {
	return c.workWeek[day.Weekday()] && !c.holidays[dateOf(day)]
}

// Deadline returns the deadline date at midnight in the start date's location.
func (c *Calculator) Deadline() time.Time { return c.deadline }

// Start returns the start date at midnight.
func (c *Calculator) Start() time.Time { return c.start }

// WorkingDays returns the requested working-day count.
func (c *Calculator) WorkingDays() int { return c.workingDays }

// IsOverdue reports whether now is past the deadline date.
func (c *Calculator) IsOverdue(now time.Time) bool { return IsOverdue(c.deadline, now) }

// DaysUntilDeadline returns calendar days from now to the deadline; negative once overdue.
func (c *Calculator) DaysUntilDeadline(now time.Time) int { return DaysUntil(c.deadline, now) }

// IsApproaching reports whether 0 < DaysUntilDeadline(now) <= warningDays.
func (c *Calculator) IsApproaching(now time.Time, warningDays int) bool {
	return IsApproaching(c.deadline, now, warningDays)
}

// IsOverdue reports whether now falls on a date after deadline.
func IsOverdue(deadline, now time.Time) bool {
	return DaysUntil(deadline, now) < 0
}

// DaysUntil returns the number of calendar days from now to deadline, ignoring time of day.
func DaysUntil(deadline, now time.Time) int {
	return dateOf(deadline).daysSinceEpoch() - dateOf(now.In(deadline.Location())).daysSinceEpoch()
}

// IsApproaching reports whether 0 < DaysUntil(deadline, now) <= warningDays.
func IsApproaching(deadline, now time.Time, warningDays int) bool {
	d := DaysUntil(deadline, now)
	return d > 0 && d <= warningDays
}

type civilDate struct {
	year  int
	month time.Month
	day   int
}

func dateOf(t time.Time) civilDate {
	y, m, d := t.Date()
	return civilDate{year: y, month: m, day: d}
}

func (d civilDate) daysSinceEpoch() int {
	// UTC midnight has no DST gaps, so the division is exact.
	return int(time.Date(d.year, d.month, d.day, 0, 0, 0, 0, time.UTC).Unix() / 86400)
}

func truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
