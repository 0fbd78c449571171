package file

import (
	"context"
	"os"
	"sort"
	"time"

	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
)

const schedulesDir = "schedules"

// ScheduleRepository stores scheduled-task entries keyed by task name.
type ScheduleRepository struct {
	root string
}

// NewScheduleRepository creates a new schedule repository.
func NewScheduleRepository(root string) *ScheduleRepository {
	return &ScheduleRepository{root: root}
}

// List returns all schedules sorted by task name.
func (sr *ScheduleRepository) List(_ context.Context) ([]*models.Schedule, error) {
	schedules, err := readDocuments[models.Schedule](sr.root, schedulesDir)
	if err != nil {
		return nil, err
	}

	sort.Slice(schedules, func(i, j int) bool {
		return schedules[i].TaskName < schedules[j].TaskName
	})

	return schedules, nil
}

// GetByTask retrieves the schedule driving one registered task.
func (sr *ScheduleRepository) GetByTask(_ context.Context, taskName string) (*models.Schedule, error) {
	schedule, err := readDocument[models.Schedule](sr.root, schedulesDir, taskName)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, persistence.ErrScheduleNotFound
		}

		return nil, err
	}

	return schedule, nil
}

// Save persists a schedule entry.
func (sr *ScheduleRepository) Save(_ context.Context, schedule *models.Schedule) error {
	return writeDocument(sr.root, schedulesDir, schedule.TaskName, schedule)
}

// Due returns active schedules whose next due time has passed.
func (sr *ScheduleRepository) Due(ctx context.Context, now time.Time) ([]*models.Schedule, error) {
	schedules, err := sr.List(ctx)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Schedule, 0)

	for _, schedule := range schedules {
		if schedule.IsDue(now) {
			due = append(due, schedule)
		}
	}

	return due, nil
}
