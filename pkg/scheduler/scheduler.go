// Package scheduler polls persisted schedules and runs the registered task
// behind each one. All scheduled work in the system, dispatching due
// notifications, rebuilding role maps, purging aged logs, goes through this
// single poller.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
)

// Task is one unit of scheduled work, registered under a stable name.
type Task interface {
	Name() string
	Run(ctx context.Context) error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc struct {
	TaskName string
	Fn       func(ctx context.Context) error
}

func (t TaskFunc) Name() string {
	return t.TaskName
}

func (t TaskFunc) Run(ctx context.Context) error {
	return t.Fn(ctx)
}

// Registry maps task names to tasks.
type Registry struct {
	tasks map[string]Task
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]Task)}
}

func (r *Registry) Register(task Task) {
	r.tasks[task.Name()] = task
}

func (r *Registry) Task(name string) (Task, bool) {
	task, ok := r.tasks[name]

	return task, ok
}

func (r *Registry) TaskNames() []string {
	names := make([]string, 0, len(r.tasks))
	for name := range r.tasks {
		names = append(names, name)
	}

	sort.Strings(names)

	return names
}

// Runner drives the schedule poller. A single cron entry ticks at the poll
// interval; each tick loads due schedules and runs their tasks in sequence.
type Runner struct {
	persistence  persistence.Persistence
	registry     *Registry
	logger       *slog.Logger
	cron         *cron.Cron
	pollInterval time.Duration
}

const defaultPollInterval = 30 * time.Second

func NewRunner(store persistence.Persistence, registry *Registry, pollInterval time.Duration, logger *slog.Logger) *Runner {
	if pollInterval <= 0 {
		pollInterval = defaultPollInterval
	}

	return &Runner{
		persistence:  store,
		registry:     registry,
		logger:       logger.With("module", "scheduler"),
		pollInterval: pollInterval,
	}
}

// EnsureSchedule creates the schedule for taskName if none exists yet.
// Existing schedules, including operator-edited cron expressions, are left
// alone.
func (r *Runner) EnsureSchedule(ctx context.Context, taskName, cronExpression string) error {
	_, err := r.persistence.Schedules().GetByTask(ctx, taskName)
	if err == nil {
		return nil
	}

	if !persistence.IsScheduleNotFound(err) {
		return err
	}

	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate schedule id: %w", err)
	}

	schedule, err := models.NewSchedule(id.String(), taskName, cronExpression)
	if err != nil {
		return fmt.Errorf("failed to create schedule for %s: %w", taskName, err)
	}

	if err := r.persistence.Schedules().Save(ctx, schedule); err != nil {
		return fmt.Errorf("failed to save schedule for %s: %w", taskName, err)
	}

	r.logger.InfoContext(ctx, "Created schedule",
		"task", taskName,
		"cron", cronExpression,
		"next_due_at", schedule.NextDueAt)

	return nil
}

// Start begins polling. It blocks until ctx is cancelled.
func (r *Runner) Start(ctx context.Context) error {
	r.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	spec := fmt.Sprintf("@every %s", r.pollInterval)

	_, err := r.cron.AddFunc(spec, func() {
		r.Tick(ctx, time.Now().UTC())
	})
	if err != nil {
		return fmt.Errorf("failed to schedule poller: %w", err)
	}

	r.logger.InfoContext(ctx, "Scheduler started",
		"poll_interval", r.pollInterval,
		"tasks", r.registry.TaskNames())

	r.cron.Start()

	<-ctx.Done()

	stopCtx := r.cron.Stop()
	<-stopCtx.Done()

	r.logger.Info("Scheduler stopped")

	return nil
}

// Tick runs every schedule due at now. Task failures are logged and the
// schedule still advances, a broken task must not pile up an unbounded
// backlog of due runs.
func (r *Runner) Tick(ctx context.Context, now time.Time) {
	schedules, err := r.persistence.Schedules().Due(ctx, now)
	if err != nil {
		r.logger.ErrorContext(ctx, "Failed to load due schedules", "error", err)

		return
	}

	for _, schedule := range schedules {
		r.runSchedule(ctx, schedule, now)
	}
}

func (r *Runner) runSchedule(ctx context.Context, schedule *models.Schedule, now time.Time) {
	logger := r.logger.With("task", schedule.TaskName)

	task, ok := r.registry.Task(schedule.TaskName)
	if !ok {
		logger.Warn("No task registered for schedule, skipping")

		return
	}

	schedule.LastRunAt = now
	if err := schedule.Reschedule(now); err != nil {
		logger.Error("Failed to compute next due time", "error", err)

		return
	}

	if err := r.persistence.Schedules().Save(ctx, schedule); err != nil {
		logger.Error("Failed to save rescheduled entry", "error", err)

		return
	}

	started := time.Now()

	if err := task.Run(ctx); err != nil {
		logger.ErrorContext(ctx, "Scheduled task failed",
			"error", err,
			"duration", time.Since(started))

		return
	}

	logger.DebugContext(ctx, "Scheduled task completed",
		"duration", time.Since(started),
		"next_due_at", schedule.NextDueAt)
}
