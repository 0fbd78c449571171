package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
)

// NotificationRepository handles notification rules, the delivery job queue
// and the event/notification/delivery log trail.
type NotificationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(db *sql.DB, logger *slog.Logger) *NotificationRepository {
	return &NotificationRepository{db: db, logger: logger}
}

const ruleColumns = `
			id
		  , name
		  , event_type
		  , recipient
		  , subject
		  , body
		  , schedule
		  , channels
		  , enabled
		  , created_at
		  , updated_at
`

func (r *NotificationRepository) Rules(ctx context.Context) ([]*models.NotificationRule, error) {
	query := `SELECT` + ruleColumns + `FROM notification_rules ORDER BY created_at DESC`

	return r.queryRules(ctx, query)
}

func (r *NotificationRepository) RulesByEventType(ctx context.Context, eventType string) ([]*models.NotificationRule, error) {
	query := `SELECT` + ruleColumns + `FROM notification_rules WHERE event_type = $1 ORDER BY created_at ASC`

	return r.queryRules(ctx, query, eventType)
}

func (r *NotificationRepository) queryRules(ctx context.Context, query string, args ...any) ([]*models.NotificationRule, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification rules: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	rules := make([]*models.NotificationRule, 0)

	for rows.Next() {
		rule, err := scanRule(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification rule: %w", err)
		}

		rules = append(rules, rule)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating notification rules: %w", err)
	}

	return rules, nil
}

func (r *NotificationRepository) GetRule(ctx context.Context, id string) (*models.NotificationRule, error) {
	query := `SELECT` + ruleColumns + `FROM notification_rules WHERE id = $1`

	rule, err := scanRule(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, persistence.ErrRuleNotFound
		}

		return nil, fmt.Errorf("failed to scan notification rule: %w", err)
	}

	return rule, nil
}

func (r *NotificationRepository) SaveRule(ctx context.Context, rule *models.NotificationRule) error {
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	rule.UpdatedAt = now

	schedule, err := json.Marshal(rule.Schedule)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}

	channels, err := json.Marshal(rule.Channels)
	if err != nil {
		return fmt.Errorf("failed to marshal channels: %w", err)
	}

	query := `
		INSERT INTO notification_rules (id, name, event_type, recipient, subject, body, schedule, channels, enabled, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name
		  , event_type = EXCLUDED.event_type
		  , recipient = EXCLUDED.recipient
		  , subject = EXCLUDED.subject
		  , body = EXCLUDED.body
		  , schedule = EXCLUDED.schedule
		  , channels = EXCLUDED.channels
		  , enabled = EXCLUDED.enabled
		  , updated_at = EXCLUDED.updated_at
	`

	_, err = r.db.ExecContext(ctx, query,
		rule.ID,
		rule.Name,
		rule.EventType,
		rule.Recipient,
		rule.Subject,
		rule.Body,
		schedule,
		channels,
		rule.Enabled,
		rule.CreatedAt,
		rule.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save notification rule %s: %w", rule.ID, err)
	}

	return nil
}

func (r *NotificationRepository) DeleteRule(ctx context.Context, id string) error {
	result, err := r.db.ExecContext(ctx, "DELETE FROM notification_rules WHERE id = $1", id)
	if err != nil {
		return fmt.Errorf("failed to delete notification rule %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check delete result: %w", err)
	}

	if affected == 0 {
		return persistence.ErrRuleNotFound
	}

	return nil
}

func (r *NotificationRepository) EnqueueJob(ctx context.Context, job *models.DeliveryJob) error {
	payload, err := json.Marshal(job.Payload)
	if err != nil {
		return fmt.Errorf("failed to marshal payload: %w", err)
	}

	query := `
		INSERT INTO delivery_jobs (id, rule_id, event_log_id, event_type, application_id, subject_id, payload, fire_at, status, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err = r.db.ExecContext(ctx, query,
		job.ID,
		job.RuleID,
		job.EventLogID,
		job.EventType,
		nullString(job.ApplicationID),
		nullString(job.SubjectID),
		payload,
		job.FireAt,
		string(job.Status),
		job.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery job %s: %w", job.ID, err)
	}

	return nil
}

func (r *NotificationRepository) DueJobs(ctx context.Context, now time.Time) ([]*models.DeliveryJob, error) {
	query := `
		SELECT
			id
		  , rule_id
		  , event_log_id
		  , event_type
		  , application_id
		  , subject_id
		  , payload
		  , fire_at
		  , status
		  , created_at
		FROM delivery_jobs
		WHERE status = 'pending' AND fire_at <= $1
		ORDER BY fire_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due jobs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	jobs := make([]*models.DeliveryJob, 0)

	for rows.Next() {
		var (
			job           models.DeliveryJob
			applicationID sql.NullString
			subjectID     sql.NullString
			payload       []byte
			status        string
		)

		err := rows.Scan(
			&job.ID,
			&job.RuleID,
			&job.EventLogID,
			&job.EventType,
			&applicationID,
			&subjectID,
			&payload,
			&job.FireAt,
			&status,
			&job.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery job: %w", err)
		}

		job.ApplicationID = applicationID.String
		job.SubjectID = subjectID.String
		job.Status = models.DeliveryJobStatus(status)

		if len(payload) > 0 {
			if err := json.Unmarshal(payload, &job.Payload); err != nil {
				return nil, fmt.Errorf("failed to unmarshal payload: %w", err)
			}
		}

		jobs = append(jobs, &job)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating due jobs: %w", err)
	}

	return jobs, nil
}

// MarkJobSent claims a pending job. The WHERE clause makes the transition
// atomic; a second caller sees zero rows affected.
func (r *NotificationRepository) MarkJobSent(ctx context.Context, jobID string) (bool, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE delivery_jobs SET status = 'sent' WHERE id = $1 AND status = 'pending'", jobID)
	if err != nil {
		return false, fmt.Errorf("failed to mark job %s sent: %w", jobID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to check update result: %w", err)
	}

	return affected == 1, nil
}

func (r *NotificationRepository) CancelJobsForApplication(ctx context.Context, applicationID string) (int, error) {
	result, err := r.db.ExecContext(ctx,
		"UPDATE delivery_jobs SET status = 'cancelled' WHERE application_id = $1 AND status = 'pending'", applicationID)
	if err != nil {
		return 0, fmt.Errorf("failed to cancel jobs for application %s: %w", applicationID, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to check update result: %w", err)
	}

	return int(affected), nil
}

func (r *NotificationRepository) CreateEventLog(ctx context.Context, entry *models.NotificationEventLog) error {
	query := `
		INSERT INTO notification_event_logs (id, rule_id, event_id, event_type, application_id, fired_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.RuleID,
		entry.EventID,
		entry.EventType,
		nullString(entry.ApplicationID),
		entry.FiredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create event log: %w", err)
	}

	return nil
}

func (r *NotificationRepository) CreateNotificationLog(ctx context.Context, entry *models.NotificationLog) error {
	query := `
		INSERT INTO notification_logs (id, event_log_id, recipient_id, created_at)
		VALUES ($1, $2, $3, $4)
	`

	_, err := r.db.ExecContext(ctx, query, entry.ID, entry.EventLogID, entry.RecipientID, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create notification log: %w", err)
	}

	return nil
}

func (r *NotificationRepository) CreateDeliveryLog(ctx context.Context, entry *models.DeliveryLog) error {
	query := `
		INSERT INTO delivery_logs (id, notification_log_id, channel, status, reason, attempted_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.NotificationLogID,
		entry.Channel,
		string(entry.Status),
		nullString(entry.Reason),
		entry.AttemptedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create delivery log: %w", err)
	}

	return nil
}

func (r *NotificationRepository) EventLogs(ctx context.Context) ([]*models.NotificationEventLog, error) {
	query := `
		SELECT id, rule_id, event_id, event_type, application_id, fired_at
		FROM notification_event_logs
		ORDER BY fired_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query event logs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.NotificationEventLog, 0)

	for rows.Next() {
		var (
			entry         models.NotificationEventLog
			applicationID sql.NullString
		)

		err := rows.Scan(&entry.ID, &entry.RuleID, &entry.EventID, &entry.EventType, &applicationID, &entry.FiredAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan event log: %w", err)
		}

		entry.ApplicationID = applicationID.String

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating event logs: %w", err)
	}

	return entries, nil
}

func (r *NotificationRepository) NotificationLogs(ctx context.Context, eventLogID string) ([]*models.NotificationLog, error) {
	query := `
		SELECT id, event_log_id, recipient_id, created_at
		FROM notification_logs
		WHERE event_log_id = $1
		ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, eventLogID)
	if err != nil {
		return nil, fmt.Errorf("failed to query notification logs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.NotificationLog, 0)

	for rows.Next() {
		var entry models.NotificationLog

		err := rows.Scan(&entry.ID, &entry.EventLogID, &entry.RecipientID, &entry.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification log: %w", err)
		}

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating notification logs: %w", err)
	}

	return entries, nil
}

func (r *NotificationRepository) DeliveryLogs(ctx context.Context, notificationLogID string) ([]*models.DeliveryLog, error) {
	query := `
		SELECT id, notification_log_id, channel, status, reason, attempted_at
		FROM delivery_logs
		WHERE notification_log_id = $1
		ORDER BY attempted_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, notificationLogID)
	if err != nil {
		return nil, fmt.Errorf("failed to query delivery logs: %w", err)
	}

	defer func() {
		if err := rows.Close(); err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	entries := make([]*models.DeliveryLog, 0)

	for rows.Next() {
		var (
			entry  models.DeliveryLog
			status string
			reason sql.NullString
		)

		err := rows.Scan(&entry.ID, &entry.NotificationLogID, &entry.Channel, &status, &reason, &entry.AttemptedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan delivery log: %w", err)
		}

		entry.Status = models.DeliveryStatus(status)
		entry.Reason = reason.String

		entries = append(entries, &entry)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating delivery logs: %w", err)
	}

	return entries, nil
}

// PurgeOlderThan deletes aged log chains, children first, in one
// transaction. Delivery jobs referencing purged event logs go with them.
func (r *NotificationRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	transaction, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = transaction.ExecContext(ctx, `
		DELETE FROM delivery_logs
		WHERE notification_log_id IN (
			SELECT nl.id FROM notification_logs nl
			JOIN notification_event_logs el ON el.id = nl.event_log_id
			WHERE el.fired_at < $1
		)
	`, cutoff)
	if err != nil {
		_ = transaction.Rollback()

		return 0, fmt.Errorf("failed to purge delivery logs: %w", err)
	}

	_, err = transaction.ExecContext(ctx, `
		DELETE FROM notification_logs
		WHERE event_log_id IN (
			SELECT id FROM notification_event_logs WHERE fired_at < $1
		)
	`, cutoff)
	if err != nil {
		_ = transaction.Rollback()

		return 0, fmt.Errorf("failed to purge notification logs: %w", err)
	}

	_, err = transaction.ExecContext(ctx, `
		DELETE FROM delivery_jobs
		WHERE event_log_id IN (
			SELECT id FROM notification_event_logs WHERE fired_at < $1
		)
	`, cutoff)
	if err != nil {
		_ = transaction.Rollback()

		return 0, fmt.Errorf("failed to purge delivery jobs: %w", err)
	}

	result, err := transaction.ExecContext(ctx,
		"DELETE FROM notification_event_logs WHERE fired_at < $1", cutoff)
	if err != nil {
		_ = transaction.Rollback()

		return 0, fmt.Errorf("failed to purge event logs: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		_ = transaction.Rollback()

		return 0, fmt.Errorf("failed to check purge result: %w", err)
	}

	err = transaction.Commit()
	if err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}

	return int(affected), nil
}

func scanRule(row rowScanner) (*models.NotificationRule, error) {
	var (
		rule     models.NotificationRule
		schedule []byte
		channels []byte
	)

	err := row.Scan(
		&rule.ID,
		&rule.Name,
		&rule.EventType,
		&rule.Recipient,
		&rule.Subject,
		&rule.Body,
		&schedule,
		&channels,
		&rule.Enabled,
		&rule.CreatedAt,
		&rule.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(schedule, &rule.Schedule); err != nil {
		return nil, fmt.Errorf("failed to unmarshal schedule: %w", err)
	}

	if err := json.Unmarshal(channels, &rule.Channels); err != nil {
		return nil, fmt.Errorf("failed to unmarshal channels: %w", err)
	}

	return &rule, nil
}
