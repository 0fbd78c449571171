package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
)

// ScheduleRepository handles persisted scheduled-task entries.
type ScheduleRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(db *sql.DB, logger *slog.Logger) *ScheduleRepository {
	return &ScheduleRepository{db: db, logger: logger}
}

const scheduleColumns = `
			id
		  , task_name
		  , cron_expression
		  , next_due_at
		  , last_run_at
		  , active
		  , created_at
		  , updated_at
`

func (r *ScheduleRepository) List(ctx context.Context) ([]*models.Schedule, error) {
	query := `SELECT` + scheduleColumns + `FROM schedules ORDER BY task_name ASC`

	return r.querySchedules(ctx, query)
}

func (r *ScheduleRepository) GetByTask(ctx context.Context, taskName string) (*models.Schedule, error) {
	query := `SELECT` + scheduleColumns + `FROM schedules WHERE task_name = $1`

	schedule, err := scanSchedule(r.db.QueryRowContext(ctx, query, taskName))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, fmt.Errorf("failed to scan schedule: %w", err)
	}

	return schedule, nil
}

func (r *ScheduleRepository) Save(ctx context.Context, schedule *models.Schedule) error {
	query := `
		INSERT INTO schedules (id, task_name, cron_expression, next_due_at, last_run_at, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (task_name) DO UPDATE SET
			cron_expression = EXCLUDED.cron_expression
		  , next_due_at = EXCLUDED.next_due_at
		  , last_run_at = EXCLUDED.last_run_at
		  , active = EXCLUDED.active
		  , updated_at = EXCLUDED.updated_at
	`

	var lastRunAt sql.NullTime
	if !schedule.LastRunAt.IsZero() {
		lastRunAt = sql.NullTime{Time: schedule.LastRunAt, Valid: true}
	}

	_, err := r.db.ExecContext(ctx, query,
		schedule.ID,
		schedule.TaskName,
		schedule.CronExpression,
		schedule.NextDueAt,
		lastRunAt,
		schedule.Active,
		schedule.CreatedAt,
		schedule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save schedule %s: %w", schedule.TaskName, err)
	}

	return nil
}

func (r *ScheduleRepository) Due(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	query := `SELECT` + scheduleColumns + `FROM schedules WHERE active AND next_due_at <= $1 ORDER BY next_due_at ASC`

	return r.querySchedules(ctx, query, now)
}

func (r *ScheduleRepository) querySchedules(ctx context.Context, query string, args ...any) ([]*models.Schedule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query schedules: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	schedules := make([]*models.Schedule, 0)

	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan schedule: %w", err)
		}

		schedules = append(schedules, schedule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating schedules: %w", err)
	}

	return schedules, nil
}

func scanSchedule(row rowScanner) (*models.Schedule, error) {
	var (
		schedule  models.Schedule
		lastRunAt sql.NullTime
	)

	err := row.Scan(
		&schedule.ID,
		&schedule.TaskName,
		&schedule.CronExpression,
		&schedule.NextDueAt,
		&lastRunAt,
		&schedule.Active,
		&schedule.CreatedAt,
		&schedule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if lastRunAt.Valid {
		schedule.LastRunAt = lastRunAt.Time
	}

	return &schedule, nil
}
