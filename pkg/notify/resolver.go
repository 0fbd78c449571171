// Package notify matches domain events against notification rules, queues
// delivery jobs and dispatches them through delivery channels, keeping a
// full log trail of what was sent to whom.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/approvio/approvio/pkg/eventbus"
	"github.com/approvio/approvio/pkg/events"
	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
)

// baseCarrier is satisfied by every domain event through the embedded
// BaseEvent.
type baseCarrier interface {
	Base() events.BaseEvent
}

// Resolver matches incoming events against enabled notification rules and
// enqueues one delivery job per match. Recipient expansion happens later,
// at dispatch time.
type Resolver struct {
	persistence persistence.Persistence
	logger      *slog.Logger
}

func NewResolver(store persistence.Persistence, logger *slog.Logger) *Resolver {
	return &Resolver{
		persistence: store,
		logger:      logger.With("module", "notify"),
	}
}

// OnEvent handles one published domain event. Disabled rules never match.
// A rule with an on-event schedule still goes through the job queue; the
// dispatcher picks it up on the next tick.
func (r *Resolver) OnEvent(ctx context.Context, event any) error {
	carrier, ok := event.(baseCarrier)
	if !ok {
		return fmt.Errorf("event does not carry base event data: %T", event)
	}

	typed, ok := event.(eventbus.Event)
	if !ok {
		return fmt.Errorf("event does not report its type: %T", event)
	}

	base := carrier.Base()
	eventType := string(typed.GetType())

	rules, err := r.persistence.Notifications().RulesByEventType(ctx, eventType)
	if err != nil {
		return fmt.Errorf("failed to load rules for %s: %w", eventType, err)
	}

	for _, rule := range rules {
		if !rule.Enabled {
			continue
		}

		if err := r.enqueue(ctx, rule, base, eventType, event); err != nil {
			return err
		}
	}

	return nil
}

func (r *Resolver) enqueue(ctx context.Context, rule *models.NotificationRule, base events.BaseEvent, eventType string, event any) error {
	now := time.Now().UTC()

	eventLog := &models.NotificationEventLog{
		ID:            uuid.New().String(),
		RuleID:        rule.ID,
		EventID:       base.ID,
		EventType:     eventType,
		ApplicationID: base.ApplicationID,
		FiredAt:       now,
	}

	err := r.persistence.Notifications().CreateEventLog(ctx, eventLog)
	if err != nil {
		return fmt.Errorf("failed to create event log for rule %s: %w", rule.ID, err)
	}

	jobID, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("failed to generate job id: %w", err)
	}

	job := &models.DeliveryJob{
		ID:            jobID.String(),
		RuleID:        rule.ID,
		EventLogID:    eventLog.ID,
		EventType:     eventType,
		ApplicationID: base.ApplicationID,
		SubjectID:     base.SubjectID,
		Payload:       eventPayload(event),
		FireAt:        rule.Schedule.FireTime(base.Timestamp),
		Status:        models.DeliveryJobPending,
		CreatedAt:     now,
	}

	err = r.persistence.Notifications().EnqueueJob(ctx, job)
	if err != nil {
		return fmt.Errorf("failed to enqueue delivery job for rule %s: %w", rule.ID, err)
	}

	r.logger.DebugContext(ctx, "Delivery job enqueued",
		"rule_id", rule.ID,
		"job_id", job.ID,
		"event_type", eventType,
		"fire_at", job.FireAt)

	return nil
}

// eventPayload flattens the event into a map for template rendering. The
// event structs are all JSON-serializable, so a marshal round trip is the
// simplest faithful flattening.
func eventPayload(event any) map[string]any {
	raw, err := json.Marshal(event)
	if err != nil {
		return map[string]any{}
	}

	payload := make(map[string]any)
	if err := json.Unmarshal(raw, &payload); err != nil {
		return map[string]any{}
	}

	return payload
}
