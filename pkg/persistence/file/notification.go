package file

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
)

const (
	rulesDir            = "notification_rules"
	jobsDir             = "delivery_jobs"
	eventLogsDir        = "event_logs"
	notificationLogsDir = "notification_logs"
	deliveryLogsDir     = "delivery_logs"
)

// NotificationRepository stores rules, delivery jobs and the three-level
// notification log chain on the file system. The mutex serializes job state
// transitions so MarkJobSent stays a real compare-and-swap in one process.
type NotificationRepository struct {
	root string
	mu   sync.Mutex
}

// NewNotificationRepository creates a new notification repository.
func NewNotificationRepository(root string) *NotificationRepository {
	return &NotificationRepository{root: root}
}

// Rules returns all notification rules.
func (nr *NotificationRepository) Rules(_ context.Context) ([]*models.NotificationRule, error) {
	return readDocuments[models.NotificationRule](nr.root, rulesDir)
}

// RulesByEventType returns enabled rules whose event type matches.
func (nr *NotificationRepository) RulesByEventType(ctx context.Context, eventType string) ([]*models.NotificationRule, error) {
	rules, err := nr.Rules(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.NotificationRule, 0)

	for _, rule := range rules {
		if rule.Enabled && rule.EventType == eventType {
			matched = append(matched, rule)
		}
	}

	return matched, nil
}

// GetRule retrieves a notification rule by its ID.
func (nr *NotificationRepository) GetRule(_ context.Context, id string) (*models.NotificationRule, error) {
	rule, err := readDocument[models.NotificationRule](nr.root, rulesDir, id)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrRuleNotFound
		}

		return nil, err
	}

	return rule, nil
}

// SaveRule saves a notification rule.
func (nr *NotificationRepository) SaveRule(_ context.Context, rule *models.NotificationRule) error {
	now := time.Now().UTC()
	if rule.CreatedAt.IsZero() {
		rule.CreatedAt = now
	}

	rule.UpdatedAt = now

	return writeDocument(nr.root, rulesDir, rule.ID, rule)
}

// DeleteRule removes a notification rule by its ID.
func (nr *NotificationRepository) DeleteRule(_ context.Context, id string) error {
	err := os.Remove(path.Join(nr.root, rulesDir, id+".json"))
	if err != nil && os.IsNotExist(err) {
		return nil
	}

	if err != nil {
		return fmt.Errorf("failed to delete rule %s: %w", id, err)
	}

	return nil
}

// EnqueueJob stores a pending delivery job.
func (nr *NotificationRepository) EnqueueJob(_ context.Context, job *models.DeliveryJob) error {
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}

	if job.Status == "" {
		job.Status = models.DeliveryJobPending
	}

	return writeDocument(nr.root, jobsDir, job.ID, job)
}

// DueJobs returns pending jobs whose fire time has passed, oldest first.
func (nr *NotificationRepository) DueJobs(_ context.Context, now time.Time) ([]*models.DeliveryJob, error) {
	jobs, err := readDocuments[models.DeliveryJob](nr.root, jobsDir)
	if err != nil {
		return nil, err
	}

	due := make([]*models.DeliveryJob, 0)

	for _, job := range jobs {
		if job.Status == models.DeliveryJobPending && !job.FireAt.After(now) {
			due = append(due, job)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].FireAt.Before(due[j].FireAt)
	})

	return due, nil
}

// MarkJobSent transitions a job from pending to sent, reporting whether this
// call made the transition.
func (nr *NotificationRepository) MarkJobSent(_ context.Context, jobID string) (bool, error) {
	nr.mu.Lock()
	defer nr.mu.Unlock()

	job, err := readDocument[models.DeliveryJob](nr.root, jobsDir, jobID)
	if err != nil {
		return false, fmt.Errorf("failed to read job %s: %w", jobID, err)
	}

	if job.Status != models.DeliveryJobPending {
		return false, nil
	}

	job.Status = models.DeliveryJobSent

	err = writeDocument(nr.root, jobsDir, job.ID, job)
	if err != nil {
		return false, err
	}

	return true, nil
}

// CancelJobsForApplication cancels still-pending jobs tied to the application.
func (nr *NotificationRepository) CancelJobsForApplication(_ context.Context, applicationID string) (int, error) {
	nr.mu.Lock()
	defer nr.mu.Unlock()

	jobs, err := readDocuments[models.DeliveryJob](nr.root, jobsDir)
	if err != nil {
		return 0, err
	}

	cancelled := 0

	for _, job := range jobs {
		if job.ApplicationID != applicationID || job.Status != models.DeliveryJobPending {
			continue
		}

		job.Status = models.DeliveryJobCancelled

		err = writeDocument(nr.root, jobsDir, job.ID, job)
		if err != nil {
			return cancelled, err
		}

		cancelled++
	}

	return cancelled, nil
}

// CreateEventLog records one fired rule/event pairing.
func (nr *NotificationRepository) CreateEventLog(_ context.Context, entry *models.NotificationEventLog) error {
	return writeDocument(nr.root, eventLogsDir, entry.ID, entry)
}

// CreateNotificationLog records one resolved recipient.
func (nr *NotificationRepository) CreateNotificationLog(_ context.Context, entry *models.NotificationLog) error {
	return writeDocument(nr.root, notificationLogsDir, entry.ID, entry)
}

// CreateDeliveryLog records one delivery attempt.
func (nr *NotificationRepository) CreateDeliveryLog(_ context.Context, entry *models.DeliveryLog) error {
	return writeDocument(nr.root, deliveryLogsDir, entry.ID, entry)
}

// EventLogs returns all event log entries.
func (nr *NotificationRepository) EventLogs(_ context.Context) ([]*models.NotificationEventLog, error) {
	return readDocuments[models.NotificationEventLog](nr.root, eventLogsDir)
}

// NotificationLogs returns the recipient rows of one event log entry.
func (nr *NotificationRepository) NotificationLogs(_ context.Context, eventLogID string) ([]*models.NotificationLog, error) {
	entries, err := readDocuments[models.NotificationLog](nr.root, notificationLogsDir)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.NotificationLog, 0)

	for _, entry := range entries {
		if entry.EventLogID == eventLogID {
			matched = append(matched, entry)
		}
	}

	return matched, nil
}

// DeliveryLogs returns the delivery attempts of one notification log entry.
func (nr *NotificationRepository) DeliveryLogs(_ context.Context, notificationLogID string) ([]*models.DeliveryLog, error) {
	entries, err := readDocuments[models.DeliveryLog](nr.root, deliveryLogsDir)
	if err != nil {
		return nil, err
	}

	matched := make([]*models.DeliveryLog, 0)

	for _, entry := range entries {
		if entry.NotificationLogID == notificationLogID {
			matched = append(matched, entry)
		}
	}

	return matched, nil
}

// PurgeOlderThan removes aged log rows, deepest first so an interruption
// never leaves delivery or notification rows pointing at a purged event log.
func (nr *NotificationRepository) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	nr.mu.Lock()
	defer nr.mu.Unlock()

	eventLogs, err := readDocuments[models.NotificationEventLog](nr.root, eventLogsDir)
	if err != nil {
		return 0, err
	}

	purged := 0

	for _, eventLog := range eventLogs {
		if !eventLog.FiredAt.Before(cutoff) {
			continue
		}

		notificationLogs, err := nr.NotificationLogs(ctx, eventLog.ID)
		if err != nil {
			return purged, err
		}

		for _, notificationLog := range notificationLogs {
			deliveryLogs, err := nr.DeliveryLogs(ctx, notificationLog.ID)
			if err != nil {
				return purged, err
			}

			for _, deliveryLog := range deliveryLogs {
				err = removeDocument(nr.root, deliveryLogsDir, deliveryLog.ID)
				if err != nil {
					return purged, err
				}
			}

			err = removeDocument(nr.root, notificationLogsDir, notificationLog.ID)
			if err != nil {
				return purged, err
			}
		}

		err = removeDocument(nr.root, eventLogsDir, eventLog.ID)
		if err != nil {
			return purged, err
		}

		purged++
	}

	return purged, nil
}

// readDocument loads one JSON document from <root>/<dir>/<id>.json. Missing
// files surface the raw os error so callers can map it to a domain error.
func readDocument[T any](root, dir, id string) (*T, error) {
	filePath := filepath.Clean(path.Join(root, dir, id+".json"))

	body, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}

	var doc T

	err = json.Unmarshal(body, &doc)
	if err != nil {
		return nil, fmt.Errorf("failed to unmarshal %s/%s: %w", dir, id, err)
	}

	return &doc, nil
}

func readDocuments[T any](root, dir string) ([]*T, error) {
	fullDir := path.Join(root, dir)
	if _, err := os.Stat(fullDir); os.IsNotExist(err) {
		return make([]*T, 0), nil
	}

	jsonFiles, err := fs.Glob(os.DirFS(fullDir), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list %s files: %w", dir, err)
	}

	docs := make([]*T, 0, len(jsonFiles))

	for _, file := range jsonFiles {
		doc, err := readDocument[T](root, dir, file[:len(file)-5])
		if err != nil {
			return nil, err
		}

		docs = append(docs, doc)
	}

	return docs, nil
}

func writeDocument(root, dir, id string, doc any) error {
	err := os.MkdirAll(path.Join(root, dir), 0750)
	if err != nil {
		return fmt.Errorf("failed to create %s directory: %w", dir, err)
	}

	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal %s/%s: %w", dir, id, err)
	}

	return os.WriteFile(path.Join(root, dir, id+".json"), data, 0600)
}

func removeDocument(root, dir, id string) error {
	err := os.Remove(path.Join(root, dir, id+".json"))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove %s/%s: %w", dir, id, err)
	}

	return nil
}
