package deadline

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Calendar is the working-time configuration shared by all deadline computations.
//
//	workWeek: [monday, tuesday, wednesday, thursday, friday]
//	holidays: ["2026-01-01", "2026-05-01"]
type Calendar struct {
	WorkWeek []string `yaml:"workWeek"`
	Holidays []string `yaml:"holidays"`

	workWeek []time.Weekday
	holidays []time.Time
}

var weekdays = map[string]time.Weekday{
	"sunday":    time.Sunday,
	"monday":    time.Monday,
	"tuesday":   time.Tuesday,
	"wednesday": time.Wednesday,
	"thursday":  time.Thursday,
	"friday":    time.Friday,
	"saturday":  time.Saturday,
}

// DefaultCalendar is a Monday-Friday week without holidays.
func DefaultCalendar() *Calendar {
	return &Calendar{workWeek: DefaultWorkWeek}
}

// LoadCalendar reads a YAML calendar file. An empty path yields the default calendar.
func LoadCalendar(path string) (*Calendar, error) {
	if path == "" {
		return DefaultCalendar(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read calendar: %w", err)
	}
	return ParseCalendar(data)
}

// ParseCalendar parses YAML calendar content.
func ParseCalendar(data []byte) (*Calendar, error) {
	cal := &Calendar{}
	if err := yaml.Unmarshal(data, cal); err != nil {
		return nil, fmt.Errorf("failed to parse calendar: %w", err)
	}
	if err := cal.resolve(); err != nil {
		return nil, err
	}
	return cal, nil
}

func (c *Calendar) resolve() error {
	c.workWeek = nil
	for _, name := range c.WorkWeek {
		wd, ok := weekdays[strings.ToLower(strings.TrimSpace(name))]
		if !ok {
			return fmt.Errorf("unknown weekday %q", name)
		}
		c.workWeek = append(c.workWeek, wd)
	}
	if len(c.WorkWeek) == 0 {
		c.workWeek = DefaultWorkWeek
	}

	c.holidays = nil
	for _, s := range c.Holidays {
		d, err := time.Parse(time.DateOnly, strings.TrimSpace(s))
		if err != nil {
			return fmt.Errorf("invalid holiday %q: %w", s, err)
		}
		c.holidays = append(c.holidays, d)
	}
	return nil
}

// Options turns the calendar into Calculator options.
func (c *Calendar) Options() []Option {
	if c == nil {
		return nil
	}
	week := c.workWeek
	if len(week) == 0 {
		week = DefaultWorkWeek
	}
	return []Option{WithWorkWeek(week...), WithHolidays(c.holidays...)}
}

// Compute builds a Calculator that uses this calendar.
func (c *Calendar) Compute(workingDays int, start time.Time) (*Calculator, error) {
	return New(workingDays, start, c.Options()...)
}
