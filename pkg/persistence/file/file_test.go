package file_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
	"github.com/approvio/approvio/pkg/persistence/file"
)

func newApplication(id string) *models.Application {
	return &models.Application{
		ID:         id,
		Title:      "Laptop request",
		WorkflowID: "wf-1",
		SubjectID:  "subject-1",
		State:      models.ApplicationStateDraft,
	}
}

func TestApplicationSaveVersioning(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	application := newApplication("app-1")

	require.NoError(t, store.Applications().Save(t.Context(), application, 0))
	assert.Equal(t, int64(1), application.Version)

	require.NoError(t, store.Applications().Save(t.Context(), application, 1))
	assert.Equal(t, int64(2), application.Version)

	stored, err := store.Applications().GetByID(t.Context(), "app-1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), stored.Version)
}

func TestApplicationSaveRejectsStaleVersion(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	application := newApplication("app-1")

	require.NoError(t, store.Applications().Save(t.Context(), application, 0))
	require.NoError(t, store.Applications().Save(t.Context(), application, 1))

	err := store.Applications().Save(t.Context(), application, 1)
	assert.True(t, persistence.IsConcurrentModification(err))
}

func TestApplicationSaveRejectsNonZeroVersionForNew(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	err := store.Applications().Save(t.Context(), newApplication("app-new"), 3)
	assert.True(t, persistence.IsConcurrentModification(err))
}

func TestApplicationGetByIDNotFound(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	_, err := store.Applications().GetByID(t.Context(), "missing")
	assert.True(t, persistence.IsApplicationNotFound(err))
}

func TestApplicationActionsAppendInOrder(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	for _, actionType := range []models.ActionType{models.ActionSubmitted, models.ActionApproved} {
		require.NoError(t, store.Applications().AppendAction(t.Context(), &models.ApplicationAction{
			ID:            string(actionType),
			ApplicationID: "app-1",
			Type:          actionType,
		}))
	}

	actions, err := store.Applications().Actions(t.Context(), "app-1")
	require.NoError(t, err)
	require.Len(t, actions, 2)
	assert.Equal(t, models.ActionSubmitted, actions[0].Type)
	assert.Equal(t, models.ActionApproved, actions[1].Type)
}

func TestWorkflowCRUD(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	workflow := &models.Workflow{
		ID:     "wf-1",
		Name:   "Expenses",
		Status: models.WorkflowStatusDraft,
		Stages: []*models.Stage{{ID: "stage-1", Name: "Review", Ordinal: 1}},
	}
	require.NoError(t, store.Workflows().Save(t.Context(), workflow))

	stored, err := store.Workflows().GetByID(t.Context(), "wf-1")
	require.NoError(t, err)
	assert.Equal(t, "Expenses", stored.Name)
	require.Len(t, stored.Stages, 1)

	stored.Status = models.WorkflowStatusActive
	require.NoError(t, store.Workflows().Save(t.Context(), stored))

	workflows, err := store.Workflows().List(t.Context())
	require.NoError(t, err)
	require.Len(t, workflows, 1)
	assert.Equal(t, models.WorkflowStatusActive, workflows[0].Status)

	require.NoError(t, store.Workflows().Delete(t.Context(), "wf-1"))

	_, err = store.Workflows().GetByID(t.Context(), "wf-1")
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestWorkflowVersionSnapshots(t *testing.T) {
	store := file.NewPersistence(t.TempDir())

	workflow := &models.Workflow{
		ID:      "wf-1",
		Name:    "Expenses",
		Status:  models.WorkflowStatusActive,
		Version: 1,
		Stages:  []*models.Stage{{ID: "stage-review", Name: "Review", Ordinal: 1}},
	}
	require.NoError(t, store.Workflows().Save(t.Context(), workflow))

	// A stage edit bumps the version and snapshots the new definition.
	workflow.Stages = []*models.Stage{{ID: "stage-intake", Name: "Intake", Ordinal: 1}}
	workflow.Version = 2
	require.NoError(t, store.Workflows().Save(t.Context(), workflow))

	pinned, err := store.Workflows().GetVersion(t.Context(), "wf-1", 1)
	require.NoError(t, err)
	require.Len(t, pinned.Stages, 1)
	assert.Equal(t, "stage-review", pinned.Stages[0].ID)

	current, err := store.Workflows().GetVersion(t.Context(), "wf-1", 2)
	require.NoError(t, err)
	assert.Equal(t, "stage-intake", current.Stages[0].ID)

	_, err = store.Workflows().GetVersion(t.Context(), "wf-1", 3)
	assert.True(t, persistence.IsWorkflowNotFound(err))

	// Deleting the workflow removes its snapshots too.
	require.NoError(t, store.Workflows().Delete(t.Context(), "wf-1"))

	_, err = store.Workflows().GetVersion(t.Context(), "wf-1", 1)
	assert.True(t, persistence.IsWorkflowNotFound(err))
}

func TestScheduleRepository(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	now := time.Now().UTC()

	due, err := models.NewSchedule("sched-due", "dispatch", "* * * * *")
	require.NoError(t, err)
	due.NextDueAt = now.Add(-time.Minute)
	require.NoError(t, store.Schedules().Save(t.Context(), due))

	later, err := models.NewSchedule("sched-later", "cleanup", "0 4 * * *")
	require.NoError(t, err)
	later.NextDueAt = now.Add(time.Hour)
	require.NoError(t, store.Schedules().Save(t.Context(), later))

	inactive, err := models.NewSchedule("sched-off", "disabled", "* * * * *")
	require.NoError(t, err)
	inactive.NextDueAt = now.Add(-time.Minute)
	inactive.Active = false
	require.NoError(t, store.Schedules().Save(t.Context(), inactive))

	dueNow, err := store.Schedules().Due(t.Context(), now)
	require.NoError(t, err)
	require.Len(t, dueNow, 1)
	assert.Equal(t, "dispatch", dueNow[0].TaskName)

	_, err = store.Schedules().GetByTask(t.Context(), "missing")
	assert.True(t, persistence.IsScheduleNotFound(err))
}
