// Package persistence provides the data storage abstraction for workflows,
// applications, role maps, notifications and schedules.
package persistence

import (
	"context"
	"time"

	"github.com/approvio/approvio/pkg/models"
)

type Persistence interface {
	Workflows() WorkflowRepository
	Applications() ApplicationRepository
	RoleMaps() RoleMapRepository
	Notifications() NotificationRepository
	Schedules() ScheduleRepository

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

type WorkflowRepository interface {
	List(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)

	// GetVersion returns the snapshot of the workflow as it was at the given
	// version. Applications route against the version they were created
	// under, not the current document.
	GetVersion(ctx context.Context, id string, version int) (*models.Workflow, error)

	// Save persists the workflow and snapshots it under its current version.
	Save(ctx context.Context, workflow *models.Workflow) error

	Delete(ctx context.Context, id string) error
}

type ApplicationRepository interface {
	List(ctx context.Context) ([]*models.Application, error)
	GetByID(ctx context.Context, id string) (*models.Application, error)

	// Save persists the application only if its stored Version still equals
	// expectedVersion, bumping Version on success. A stale expectedVersion
	// fails with ErrConcurrentModification.
	Save(ctx context.Context, application *models.Application, expectedVersion int64) error

	AppendAction(ctx context.Context, action *models.ApplicationAction) error
	Actions(ctx context.Context, applicationID string) ([]*models.ApplicationAction, error)
}

type RoleMapRepository interface {
	Get(ctx context.Context, role, mapType string) (*models.RoleMap, error)
	ListByType(ctx context.Context, mapType string) ([]*models.RoleMap, error)

	// ReplaceAll swaps in a freshly rebuilt snapshot set and marks the maps
	// clean in one atomic batch. Readers never observe a partial rebuild.
	ReplaceAll(ctx context.Context, mapType string, maps []*models.RoleMap) error

	MarkAllDirty(ctx context.Context) error
}

type NotificationRepository interface {
	Rules(ctx context.Context) ([]*models.NotificationRule, error)
	RulesByEventType(ctx context.Context, eventType string) ([]*models.NotificationRule, error)
	GetRule(ctx context.Context, id string) (*models.NotificationRule, error)
	SaveRule(ctx context.Context, rule *models.NotificationRule) error
	DeleteRule(ctx context.Context, id string) error

	EnqueueJob(ctx context.Context, job *models.DeliveryJob) error
	DueJobs(ctx context.Context, now time.Time) ([]*models.DeliveryJob, error)

	// MarkJobSent atomically transitions the job from pending to sent and
	// reports whether this call performed the transition. A job already
	// sent or cancelled yields false.
	MarkJobSent(ctx context.Context, jobID string) (bool, error)

	// CancelJobsForApplication moves still-pending jobs tied to the
	// application to cancelled.
	CancelJobsForApplication(ctx context.Context, applicationID string) (int, error)

	CreateEventLog(ctx context.Context, entry *models.NotificationEventLog) error
	CreateNotificationLog(ctx context.Context, entry *models.NotificationLog) error
	CreateDeliveryLog(ctx context.Context, entry *models.DeliveryLog) error
	DeliveryLogs(ctx context.Context, notificationLogID string) ([]*models.DeliveryLog, error)
	EventLogs(ctx context.Context) ([]*models.NotificationEventLog, error)
	NotificationLogs(ctx context.Context, eventLogID string) ([]*models.NotificationLog, error)

	// PurgeOlderThan deletes delivery logs, then notification logs, then
	// event logs older than cutoff, in that dependency order, in one
	// transaction. It returns the number of event log rows removed.
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

type ScheduleRepository interface {
	List(ctx context.Context) ([]*models.Schedule, error)
	GetByTask(ctx context.Context, taskName string) (*models.Schedule, error)
	Save(ctx context.Context, schedule *models.Schedule) error
	Due(ctx context.Context, now time.Time) ([]*models.Schedule, error)
}
