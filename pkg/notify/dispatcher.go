package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/approvio/approvio/pkg/metrics"
	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/notify/recipient"
	"github.com/approvio/approvio/pkg/persistence"
)

// Dispatcher sends due delivery jobs. Each job is claimed with an atomic
// pending-to-sent transition before anything goes out, so overlapping
// dispatch ticks never double-deliver.
type Dispatcher struct {
	persistence persistence.Persistence
	recipients  *recipient.Registry
	channels    Channels
	logger      *slog.Logger
}

func NewDispatcher(store persistence.Persistence, recipients *recipient.Registry, channels Channels, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{
		persistence: store,
		recipients:  recipients,
		channels:    channels,
		logger:      logger.With("module", "notify"),
	}
}

// DispatchDue processes every job due at now. Jobs whose rule has been
// deleted, whose application is cancelled, or that lost the claim race are
// skipped. A
// delivery failure on one channel is logged against that channel and does
// not block the others. The returned count is the number of jobs this call
// actually dispatched.
func (d *Dispatcher) DispatchDue(ctx context.Context, now time.Time) (int, error) {
	jobs, err := d.persistence.Notifications().DueJobs(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("failed to load due jobs: %w", err)
	}

	dispatched := 0

	for _, job := range jobs {
		if err := ctx.Err(); err != nil {
			return dispatched, err
		}

		ok, err := d.dispatch(ctx, job)
		if err != nil {
			d.logger.ErrorContext(ctx, "Failed to dispatch delivery job",
				"job_id", job.ID,
				"rule_id", job.RuleID,
				"error", err)
			metrics.DispatchesTotal.WithLabelValues("error").Inc()

			continue
		}

		if ok {
			dispatched++
		}
	}

	return dispatched, nil
}

func (d *Dispatcher) dispatch(ctx context.Context, job *models.DeliveryJob) (bool, error) {
	started := time.Now()

	rule, err := d.persistence.Notifications().GetRule(ctx, job.RuleID)
	if err != nil {
		if persistence.IsRuleNotFound(err) {
			// Rule deleted after the job was queued. Claim the job so it is
			// not retried forever, deliver nothing.
			_, claimErr := d.persistence.Notifications().MarkJobSent(ctx, job.ID)
			if claimErr != nil {
				return false, claimErr
			}

			metrics.DispatchesTotal.WithLabelValues("orphaned").Inc()

			return false, nil
		}

		return false, err
	}

	if job.ApplicationID != "" {
		application, err := d.persistence.Applications().GetByID(ctx, job.ApplicationID)
		if err != nil && !persistence.IsApplicationNotFound(err) {
			return false, err
		}

		if err == nil && application.State == models.ApplicationStateCancelled {
			// Cancellation is checked here rather than trusted to queue
			// cleanup: a cancel event that never reached the worker must not
			// turn into a delivery. Claim the job, deliver nothing.
			_, claimErr := d.persistence.Notifications().MarkJobSent(ctx, job.ID)
			if claimErr != nil {
				return false, claimErr
			}

			metrics.DispatchesTotal.WithLabelValues("application_cancelled").Inc()

			return false, nil
		}
	}

	claimed, err := d.persistence.Notifications().MarkJobSent(ctx, job.ID)
	if err != nil {
		return false, fmt.Errorf("failed to claim job %s: %w", job.ID, err)
	}

	if !claimed {
		metrics.DispatchesTotal.WithLabelValues("already_claimed").Inc()

		return false, nil
	}

	ref := recipient.Reference{
		ApplicationID: job.ApplicationID,
		WorkflowID:    workflowIDFromPayload(job.Payload),
		SubjectID:     job.SubjectID,
	}

	recipients, err := d.recipients.Resolve(ctx, rule.Recipient, ref)
	if err != nil {
		return false, fmt.Errorf("failed to resolve recipients for job %s: %w", job.ID, err)
	}

	if len(recipients) == 0 {
		d.logger.DebugContext(ctx, "No recipients resolved",
			"job_id", job.ID,
			"selector", rule.Recipient)
		metrics.DispatchesTotal.WithLabelValues("no_recipients").Inc()

		return true, nil
	}

	for _, recipientID := range recipients {
		if err := d.deliverTo(ctx, job, rule, ref, recipientID); err != nil {
			return false, err
		}
	}

	metrics.DispatchesTotal.WithLabelValues("sent").Inc()
	metrics.DispatchDuration.Observe(time.Since(started).Seconds())

	return true, nil
}

func (d *Dispatcher) deliverTo(ctx context.Context, job *models.DeliveryJob, rule *models.NotificationRule, ref recipient.Reference, recipientID string) error {
	notificationLog := &models.NotificationLog{
		ID:          uuid.New().String(),
		EventLogID:  job.EventLogID,
		RecipientID: recipientID,
		CreatedAt:   time.Now().UTC(),
	}

	err := d.persistence.Notifications().CreateNotificationLog(ctx, notificationLog)
	if err != nil {
		return fmt.Errorf("failed to create notification log: %w", err)
	}

	data := TemplateData(job.EventType, job.ApplicationID, ref.WorkflowID, job.SubjectID, recipientID, job.Payload)

	subject, err := RenderTemplate(rule.Subject, data)
	if err != nil {
		return fmt.Errorf("failed to render subject of rule %s: %w", rule.ID, err)
	}

	body, err := RenderTemplate(rule.Body, data)
	if err != nil {
		return fmt.Errorf("failed to render body of rule %s: %w", rule.ID, err)
	}

	message := Message{
		RecipientID:   recipientID,
		Subject:       subject,
		Body:          body,
		EventType:     job.EventType,
		ApplicationID: job.ApplicationID,
	}

	for _, channelName := range rule.Channels {
		entry := &models.DeliveryLog{
			ID:                uuid.New().String(),
			NotificationLogID: notificationLog.ID,
			Channel:           channelName,
			Status:            models.DeliverySent,
			AttemptedAt:       time.Now().UTC(),
		}

		channel, err := d.channels.Get(channelName)
		if err != nil {
			entry.Status = models.DeliveryFailed
			entry.Reason = err.Error()
		} else if err := channel.Deliver(ctx, message); err != nil {
			entry.Status = models.DeliveryFailed
			entry.Reason = err.Error()
		}

		if err := d.persistence.Notifications().CreateDeliveryLog(ctx, entry); err != nil {
			return fmt.Errorf("failed to create delivery log: %w", err)
		}

		if entry.Status == models.DeliveryFailed {
			d.logger.WarnContext(ctx, "Delivery failed",
				"job_id", job.ID,
				"channel", channelName,
				"recipient_id", recipientID,
				"reason", entry.Reason)
		}
	}

	return nil
}

func workflowIDFromPayload(payload map[string]any) string {
	id, _ := payload["workflow_id"].(string)

	return id
}
