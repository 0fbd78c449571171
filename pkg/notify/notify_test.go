package notify_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvio/approvio/pkg/directory"
	"github.com/approvio/approvio/pkg/events"
	"github.com/approvio/approvio/pkg/log"
	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/notify"
	"github.com/approvio/approvio/pkg/notify/recipient"
	"github.com/approvio/approvio/pkg/persistence/file"
)

// failingChannel always reports a delivery failure.
type failingChannel struct{}

func (failingChannel) Name() string { return "smtp" }

func (failingChannel) Deliver(context.Context, notify.Message) error {
	return errors.New("connection refused")
}

func submittedEvent() *events.ApplicationSubmitted {
	base := events.NewBaseEvent(events.ApplicationSubmittedEvent, "app-1")
	base.WorkflowID = "wf-1"
	base.SubjectID = "subject-1"
	base.ActorID = "subject-1"

	return &events.ApplicationSubmitted{
		BaseEvent: base,
		StageID:   "stage-1",
		LevelID:   "level-1",
	}
}

func saveRule(t *testing.T, store *file.Persistence, rule *models.NotificationRule) {
	t.Helper()
	require.NoError(t, store.Notifications().SaveRule(t.Context(), rule))
}

func newDispatcher(t *testing.T, store *file.Persistence, channels ...notify.Channel) *notify.Dispatcher {
	t.Helper()

	dir := directory.NewMemoryDirectory()
	dir.SetManager("subject-1", "manager-1")

	registry := recipient.NewRegistry(log.WithModule("test"))
	registry.Register(recipient.NewSubjectResolver())
	registry.Register(recipient.NewManagerResolver(dir))

	if len(channels) == 0 {
		channels = []notify.Channel{notify.NewLogChannel(log.WithModule("test"))}
	}

	return notify.NewDispatcher(store, registry, notify.NewChannels(channels...), log.WithModule("test"))
}

func TestResolverEnqueuesMatchingRules(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	saveRule(t, store, &models.NotificationRule{
		ID: "rule-now", Name: "Submitted now",
		EventType: string(events.ApplicationSubmittedEvent),
		Recipient: "subject",
		Subject:   "Submitted", Body: "Your application was submitted",
		Schedule: models.NotificationSchedule{OnEvent: true},
		Channels: []string{"log"},
		Enabled:  true,
	})
	saveRule(t, store, &models.NotificationRule{
		ID: "rule-later", Name: "Submitted reminder",
		EventType: string(events.ApplicationSubmittedEvent),
		Recipient: "manager",
		Subject:   "Reminder", Body: "Still waiting",
		Schedule: models.NotificationSchedule{OffsetSeconds: 3600},
		Channels: []string{"log"},
		Enabled:  true,
	})
	saveRule(t, store, &models.NotificationRule{
		ID: "rule-off", Name: "Disabled",
		EventType: string(events.ApplicationSubmittedEvent),
		Recipient: "subject",
		Subject:   "x", Body: "x",
		Channels: []string{"log"},
		Enabled:  false,
	})
	saveRule(t, store, &models.NotificationRule{
		ID: "rule-other", Name: "Other event",
		EventType: string(events.ApplicationApprovedEvent),
		Recipient: "subject",
		Subject:   "x", Body: "x",
		Channels: []string{"log"},
		Enabled:  true,
	})

	resolver := notify.NewResolver(store, log.WithModule("test"))
	event := submittedEvent()
	require.NoError(t, resolver.OnEvent(t.Context(), event))

	jobs, err := store.Notifications().DueJobs(t.Context(), event.Timestamp.Add(2*time.Hour))
	require.NoError(t, err)
	require.Len(t, jobs, 2)

	byRule := make(map[string]*models.DeliveryJob)
	for _, job := range jobs {
		byRule[job.RuleID] = job
	}

	// An on-event rule fires at event time, an offset rule an hour later.
	require.Contains(t, byRule, "rule-now")
	assert.True(t, byRule["rule-now"].FireAt.Equal(event.Timestamp))
	require.Contains(t, byRule, "rule-later")
	assert.True(t, byRule["rule-later"].FireAt.Equal(event.Timestamp.Add(time.Hour)))

	for _, job := range jobs {
		assert.Equal(t, models.DeliveryJobPending, job.Status)
		assert.Equal(t, "app-1", job.ApplicationID)
		assert.Equal(t, "subject-1", job.SubjectID)
		assert.Equal(t, "wf-1", job.Payload["workflow_id"])
	}

	eventLogs, err := store.Notifications().EventLogs(t.Context())
	require.NoError(t, err)
	assert.Len(t, eventLogs, 2)
}

func TestDispatchDeliversAndLogs(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	saveRule(t, store, &models.NotificationRule{
		ID: "rule-1", Name: "Submitted",
		EventType: string(events.ApplicationSubmittedEvent),
		Recipient: "subject",
		Subject:   "Application {{.application_id}} submitted",
		Body:      "Hello {{.recipient_id}}, stage {{.payload.stage_id}} reached",
		Schedule:  models.NotificationSchedule{OnEvent: true},
		Channels:  []string{"log"},
		Enabled:   true,
	})

	resolver := notify.NewResolver(store, log.WithModule("test"))
	require.NoError(t, resolver.OnEvent(t.Context(), submittedEvent()))

	dispatcher := newDispatcher(t, store)

	dispatched, err := dispatcher.DispatchDue(t.Context(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)

	// The job left the pending queue.
	jobs, err := store.Notifications().DueJobs(t.Context(), time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, jobs)

	// One recipient row under the event log, one sent attempt under it.
	eventLogs, err := store.Notifications().EventLogs(t.Context())
	require.NoError(t, err)
	require.Len(t, eventLogs, 1)

	notificationLogs, err := store.Notifications().NotificationLogs(t.Context(), eventLogs[0].ID)
	require.NoError(t, err)
	require.Len(t, notificationLogs, 1)
	assert.Equal(t, "subject-1", notificationLogs[0].RecipientID)

	deliveryLogs, err := store.Notifications().DeliveryLogs(t.Context(), notificationLogs[0].ID)
	require.NoError(t, err)
	require.Len(t, deliveryLogs, 1)
	assert.Equal(t, "log", deliveryLogs[0].Channel)
	assert.Equal(t, models.DeliverySent, deliveryLogs[0].Status)
	assert.Empty(t, deliveryLogs[0].Reason)
}

func TestDispatchIsIdempotent(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	saveRule(t, store, &models.NotificationRule{
		ID: "rule-1", Name: "Submitted",
		EventType: string(events.ApplicationSubmittedEvent),
		Recipient: "subject",
		Subject:   "s", Body: "b",
		Schedule: models.NotificationSchedule{OnEvent: true},
		Channels: []string{"log"},
		Enabled:  true,
	})

	resolver := notify.NewResolver(store, log.WithModule("test"))
	require.NoError(t, resolver.OnEvent(t.Context(), submittedEvent()))

	dispatcher := newDispatcher(t, store)

	dispatched, err := dispatcher.DispatchDue(t.Context(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)

	dispatched, err = dispatcher.DispatchDue(t.Context(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, dispatched)
}

func TestDispatchFailedChannelIsRecorded(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	saveRule(t, store, &models.NotificationRule{
		ID: "rule-1", Name: "Submitted",
		EventType: string(events.ApplicationSubmittedEvent),
		Recipient: "subject",
		Subject:   "s", Body: "b",
		Schedule: models.NotificationSchedule{OnEvent: true},
		Channels: []string{"log", "smtp"},
		Enabled:  true,
	})

	resolver := notify.NewResolver(store, log.WithModule("test"))
	require.NoError(t, resolver.OnEvent(t.Context(), submittedEvent()))

	dispatcher := newDispatcher(t, store,
		notify.NewLogChannel(log.WithModule("test")), failingChannel{})

	dispatched, err := dispatcher.DispatchDue(t.Context(), time.Now().UTC())
	require.NoError(t, err)
	assert.Equal(t, 1, dispatched)

	eventLogs, err := store.Notifications().EventLogs(t.Context())
	require.NoError(t, err)
	require.Len(t, eventLogs, 1)

	notificationLogs, err := store.Notifications().NotificationLogs(t.Context(), eventLogs[0].ID)
	require.NoError(t, err)
	require.Len(t, notificationLogs, 1)

	deliveryLogs, err := store.Notifications().DeliveryLogs(t.Context(), notificationLogs[0].ID)
	require.NoError(t, err)
	require.Len(t, deliveryLogs, 2)

	byChannel := make(map[string]*models.DeliveryLog)
	for _, entry := range deliveryLogs {
		byChannel[entry.Channel] = entry
	}

	assert.Equal(t, models.DeliverySent, byChannel["log"].Status)
	assert.Equal(t, models.DeliveryFailed, byChannel["smtp"].Status)
	assert.Equal(t, "connection refused", byChannel["smtp"].Reason)
}

func TestDispatchOrphanedJobIsClaimed(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	saveRule(t, store, &models.NotificationRule{
		ID: "rule-1", Name: "Submitted",
		EventType: string(events.ApplicationSubmittedEvent),
		Recipient: "subject",
		Subject:   "s", Body: "b",
		Schedule: models.NotificationSchedule{OnEvent: true},
		Channels: []string{"log"},
		Enabled:  true,
	})

	resolver := notify.NewResolver(store, log.WithModule("test"))
	require.NoError(t, resolver.OnEvent(t.Context(), submittedEvent()))

	// The rule disappears before the dispatch tick.
	require.NoError(t, store.Notifications().DeleteRule(t.Context(), "rule-1"))

	dispatcher := newDispatcher(t, store)

	dispatched, err := dispatcher.DispatchDue(t.Context(), time.Now().UTC())
	require.NoError(t, err)
	assert.Zero(t, dispatched)

	// The orphaned job was claimed, not left to retry forever.
	jobs, err := store.Notifications().DueJobs(t.Context(), time.Now().UTC())
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestDispatchSkipsCancelledJobs(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	saveRule(t, store, &models.NotificationRule{
		ID: "rule-1", Name: "Reminder",
		EventType: string(events.ApplicationSubmittedEvent),
		Recipient: "subject",
		Subject:   "s", Body: "b",
		Schedule: models.NotificationSchedule{OffsetSeconds: 60},
		Channels: []string{"log"},
		Enabled:  true,
	})

	resolver := notify.NewResolver(store, log.WithModule("test"))
	require.NoError(t, resolver.OnEvent(t.Context(), submittedEvent()))

	cancelled, err := store.Notifications().CancelJobsForApplication(t.Context(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, 1, cancelled)

	dispatcher := newDispatcher(t, store)

	dispatched, err := dispatcher.DispatchDue(t.Context(), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, dispatched)
}

func TestDispatchSkipsJobsForCancelledApplications(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	saveRule(t, store, &models.NotificationRule{
		ID: "rule-1", Name: "Reminder",
		EventType: string(events.ApplicationSubmittedEvent),
		Recipient: "subject",
		Subject:   "s", Body: "b",
		Schedule: models.NotificationSchedule{OffsetSeconds: 60},
		Channels: []string{"log"},
		Enabled:  true,
	})

	resolver := notify.NewResolver(store, log.WithModule("test"))
	require.NoError(t, resolver.OnEvent(t.Context(), submittedEvent()))

	// The application is cancelled in the store but no queue cleanup ran,
	// as when the cancel event never reached the worker.
	require.NoError(t, store.Applications().Save(t.Context(), &models.Application{
		ID: "app-1", Title: "Laptop", WorkflowID: "wf-1", SubjectID: "subject-1",
		State: models.ApplicationStateCancelled,
	}, 0))

	dispatcher := newDispatcher(t, store)

	dispatched, err := dispatcher.DispatchDue(t.Context(), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Zero(t, dispatched)

	// The job was claimed, nothing went out.
	jobs, err := store.Notifications().DueJobs(t.Context(), time.Now().UTC().Add(time.Hour))
	require.NoError(t, err)
	assert.Empty(t, jobs)

	eventLogs, err := store.Notifications().EventLogs(t.Context())
	require.NoError(t, err)
	require.Len(t, eventLogs, 1)

	notificationLogs, err := store.Notifications().NotificationLogs(t.Context(), eventLogs[0].ID)
	require.NoError(t, err)
	assert.Empty(t, notificationLogs)
}

func TestRetentionPurgesAgedChains(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	now := time.Now().UTC()

	seedChain := func(id string, firedAt time.Time) {
		require.NoError(t, store.Notifications().CreateEventLog(t.Context(), &models.NotificationEventLog{
			ID: "event-" + id, RuleID: "rule-1", EventID: "evt-" + id,
			EventType: string(events.ApplicationSubmittedEvent),
			FiredAt:   firedAt,
		}))
		require.NoError(t, store.Notifications().CreateNotificationLog(t.Context(), &models.NotificationLog{
			ID: "notif-" + id, EventLogID: "event-" + id, RecipientID: "subject-1", CreatedAt: firedAt,
		}))
		require.NoError(t, store.Notifications().CreateDeliveryLog(t.Context(), &models.DeliveryLog{
			ID: "delivery-" + id, NotificationLogID: "notif-" + id,
			Channel: "log", Status: models.DeliverySent, AttemptedAt: firedAt,
		}))
	}

	seedChain("old", now.Add(-100*24*time.Hour))
	seedChain("recent", now.Add(-24*time.Hour))

	retention := notify.NewRetention(store, notify.DefaultRetention, log.WithModule("test"))

	removed, err := retention.Purge(t.Context(), now)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	eventLogs, err := store.Notifications().EventLogs(t.Context())
	require.NoError(t, err)
	require.Len(t, eventLogs, 1)
	assert.Equal(t, "event-recent", eventLogs[0].ID)

	// The whole old chain is gone, the recent one intact.
	oldNotifications, err := store.Notifications().NotificationLogs(t.Context(), "event-old")
	require.NoError(t, err)
	assert.Empty(t, oldNotifications)

	recentNotifications, err := store.Notifications().NotificationLogs(t.Context(), "event-recent")
	require.NoError(t, err)
	require.Len(t, recentNotifications, 1)

	recentDeliveries, err := store.Notifications().DeliveryLogs(t.Context(), "notif-recent")
	require.NoError(t, err)
	assert.Len(t, recentDeliveries, 1)
}

func TestRenderTemplate(t *testing.T) {
	data := notify.TemplateData(
		string(events.ApplicationSubmittedEvent),
		"app-1", "wf-1", "subject-1", "manager-1",
		map[string]any{"stage_id": "stage-1"})

	out, err := notify.RenderTemplate(
		"{{.recipient_id}}: application {{.application_id}} reached {{.payload.stage_id}}", data)
	require.NoError(t, err)
	assert.Equal(t, "manager-1: application app-1 reached stage-1", out)

	_, err = notify.RenderTemplate("{{.broken", data)
	assert.Error(t, err)
}
