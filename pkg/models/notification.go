package models

import "time"

// NotificationSchedule controls when a matched rule fires relative to the
// triggering event. OnEvent schedules an immediate delivery; otherwise the
// fire time is event time plus OffsetSeconds.
type NotificationSchedule struct {
	OnEvent       bool  `json:"on_event"`
	OffsetSeconds int64 `json:"offset_seconds,omitempty" validate:"min=0"`
}

// FireTime computes when a delivery for an event observed at eventTime is due.
func (s NotificationSchedule) FireTime(eventTime time.Time) time.Time {
	if s.OnEvent {
		return eventTime
	}

	return eventTime.Add(time.Duration(s.OffsetSeconds) * time.Second)
}

// NotificationRule binds an event type to a recipient selector, a template
// and a schedule. Recipients are expanded at dispatch time, not at rule
// authoring time, so directory changes are reflected.
type NotificationRule struct {
	ID        string               `json:"id"`
	Name      string               `json:"name"       validate:"required,min=3"`
	EventType string               `json:"event_type" validate:"required"`
	Recipient string               `json:"recipient"  validate:"required"` // selector id, e.g. "subject", "manager"
	Subject   string               `json:"subject"    validate:"required"`
	Body      string               `json:"body"       validate:"required"`
	Schedule  NotificationSchedule `json:"schedule"`
	Channels  []string             `json:"channels"   validate:"required,min=1"`
	Enabled   bool                 `json:"enabled"`
	CreatedAt time.Time            `json:"created_at"`
	UpdatedAt time.Time            `json:"updated_at"`
}

// DeliveryJobStatus tracks a scheduled delivery through dispatch.
type DeliveryJobStatus string

const (
	DeliveryJobPending   DeliveryJobStatus = "pending"
	DeliveryJobSent      DeliveryJobStatus = "sent"
	DeliveryJobCancelled DeliveryJobStatus = "cancelled"
)

// DeliveryJob is one deferred or immediate notification delivery. Jobs move
// from pending to sent exactly once; duplicate dispatch ticks observe the
// sent state and do nothing.
type DeliveryJob struct {
	ID            string            `json:"id"`
	RuleID        string            `json:"rule_id"`
	EventLogID    string            `json:"event_log_id"`
	EventType     string            `json:"event_type"`
	ApplicationID string            `json:"application_id,omitempty"`
	SubjectID     string            `json:"subject_id,omitempty"`
	Payload       map[string]any    `json:"payload,omitempty"`
	FireAt        time.Time         `json:"fire_at"`
	Status        DeliveryJobStatus `json:"status"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NotificationEventLog records one fired rule/event pairing. It is the root
// of the notification log chain and the last to be purged.
type NotificationEventLog struct {
	ID            string    `json:"id"`
	RuleID        string    `json:"rule_id"`
	EventID       string    `json:"event_id"`
	EventType     string    `json:"event_type"`
	ApplicationID string    `json:"application_id,omitempty"`
	FiredAt       time.Time `json:"fired_at"`
}

// NotificationLog records one recipient resolved for an event log entry.
type NotificationLog struct {
	ID          string    `json:"id"`
	EventLogID  string    `json:"event_log_id"`
	RecipientID string    `json:"recipient_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// DeliveryStatus is the outcome of one delivery attempt.
type DeliveryStatus string

const (
	DeliverySent   DeliveryStatus = "sent"
	DeliveryFailed DeliveryStatus = "failed"
)

// DeliveryLog records one per-channel delivery attempt against a
// notification log entry. Failures are recorded, not thrown.
type DeliveryLog struct {
	ID                string         `json:"id"`
	NotificationLogID string         `json:"notification_log_id"`
	Channel           string         `json:"channel"`
	Status            DeliveryStatus `json:"status"`
	Reason            string         `json:"reason,omitempty"`
	AttemptedAt       time.Time      `json:"attempted_at"`
}
