package models

import (
	"errors"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrInvalidSchedule is returned when schedule validation fails.
var ErrInvalidSchedule = errors.New("invalid schedule configuration")

// Schedule is a persisted scheduled-task entry. It carries the cron
// expression plus precomputed next-due and last-run bookkeeping so a single
// poller can drive all tasks without individual timers.
type Schedule struct {
	// ID uniquely identifies this schedule entry
	ID string `json:"id" validate:"required"`

	// TaskName is the registered task this schedule drives
	TaskName string `json:"task_name" validate:"required"`

	// CronExpression defines when this schedule is due,
	// standard 5-field format (minute hour day month weekday)
	CronExpression string `json:"cron_expression" validate:"required"`

	// NextDueAt is the precomputed next execution time
	NextDueAt time.Time `json:"next_due_at"`

	// LastRunAt is when the task last started; zero if it never ran
	LastRunAt time.Time `json:"last_run_at"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Active schedules are the only ones the poller considers
	Active bool `json:"active"`
}

// NewSchedule creates a schedule with the first due time computed from now.
func NewSchedule(id, taskName, cronExpression string) (*Schedule, error) {
	now := time.Now().UTC()
	schedule := &Schedule{
		ID:             id,
		TaskName:       taskName,
		CronExpression: cronExpression,
		CreatedAt:      now,
		UpdatedAt:      now,
		Active:         true,
	}

	if err := schedule.Reschedule(now); err != nil {
		return nil, err
	}

	return schedule, nil
}

// Reschedule computes the next due time following referenceTime.
func (s *Schedule) Reschedule(referenceTime time.Time) error {
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

	cronSchedule, err := parser.Parse(s.CronExpression)
	if err != nil {
		return err
	}

	s.NextDueAt = cronSchedule.Next(referenceTime)
	s.UpdatedAt = time.Now().UTC()

	return nil
}

// RunImmediately moves the next due time to now so the poller picks the task
// up on its next tick. The last-run timestamp is left untouched, and if it
// sits in the future (clock skew between hosts) the due time is not moved
// backward past it.
func (s *Schedule) RunImmediately(now time.Time) {
	if s.LastRunAt.After(now) {
		return
	}

	s.NextDueAt = now
	s.UpdatedAt = now
}

// IsDue checks whether the schedule should run at the given time.
func (s *Schedule) IsDue(now time.Time) bool {
	return s.Active && !s.NextDueAt.After(now)
}

// Validate performs validation on the schedule fields.
func (s *Schedule) Validate() error {
	if s.ID == "" || s.TaskName == "" || s.CronExpression == "" {
		return ErrInvalidSchedule
	}

	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)
	_, err := parser.Parse(s.CronExpression)

	return err
}
