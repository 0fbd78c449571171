package rolemap_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvio/approvio/pkg/cache"
	"github.com/approvio/approvio/pkg/directory"
	"github.com/approvio/approvio/pkg/eventbus"
	"github.com/approvio/approvio/pkg/log"
	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence/file"
	"github.com/approvio/approvio/pkg/rolemap"
)

type nopPublisher struct{}

func (nopPublisher) Publish(context.Context, string, eventbus.Event) error { return nil }

func seedWorkflow(t *testing.T, store *file.Persistence) {
	t.Helper()

	require.NoError(t, store.Workflows().Save(t.Context(), &models.Workflow{
		ID:      "wf-1",
		Name:    "Expenses",
		Status:  models.WorkflowStatusActive,
		Version: 1,
		Stages: []*models.Stage{
			{
				ID: "stage-1", Name: "Review", Ordinal: 1,
				Features: []models.StageFeature{models.StageFeatureApprovalLevels},
				Levels: []*models.ApprovalLevel{
					{
						ID: "level-1", Name: "First", Ordinal: 1, Active: true,
						Approvers: []*models.Approver{
							{Type: models.ApproverTypeUser, Identifier: "alice"},
							{Type: models.ApproverTypeRelationshipGroup, Identifier: "auditors"},
							{Type: models.ApproverTypeRelationship, Identifier: directory.RelationshipManager},
						},
					},
					{
						ID: "level-off", Name: "Disabled", Ordinal: 2, Active: false,
						Approvers: []*models.Approver{
							{Type: models.ApproverTypeUser, Identifier: "mallory"},
						},
					},
				},
			},
		},
	}))

	// Archived workflows never contribute grants.
	require.NoError(t, store.Workflows().Save(t.Context(), &models.Workflow{
		ID:     "wf-old",
		Name:   "Retired",
		Status: models.WorkflowStatusArchived,
		Stages: []*models.Stage{
			{
				ID: "stage-x", Name: "X", Ordinal: 1,
				Features: []models.StageFeature{models.StageFeatureApprovalLevels},
				Levels: []*models.ApprovalLevel{
					{
						ID: "level-x", Name: "X", Ordinal: 1, Active: true,
						Approvers: []*models.Approver{
							{Type: models.ApproverTypeUser, Identifier: "mallory"},
						},
					},
				},
			},
		},
	}))
}

func newRecalculator(t *testing.T) (*rolemap.Recalculator, *file.Persistence, cache.Cache) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	seedWorkflow(t, store)

	dir := directory.NewMemoryDirectory()
	dir.SetGroup("auditors", []string{"bob", "carol"})

	registry := rolemap.NewRegistry(log.WithModule("test"))
	registry.Register(rolemap.NewApproverMapBuilder(store, dir))

	sharedCache := cache.NewMemoryCache()
	recalculator := rolemap.NewRecalculator(sharedCache, store, registry, nopPublisher{}, log.WithModule("test"))

	return recalculator, store, sharedCache
}

func TestTriggerFullRecalculation(t *testing.T) {
	recalculator, store, _ := newRecalculator(t)

	result, err := recalculator.TriggerFullRecalculation(t.Context())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
	assert.Equal(t, 3, result.Rebuilt)
	assert.Equal(t, []string{rolemap.ApproverMapType}, result.MapTypes)

	// User and flattened group approvers got snapshots.
	for _, user := range []string{"alice", "bob", "carol"} {
		roleMap, err := store.RoleMaps().Get(t.Context(), user, rolemap.ApproverMapType)
		require.NoError(t, err, user)

		capabilities, err := roleMap.Capabilities()
		require.NoError(t, err)
		assert.Equal(t, []string{"wf-1/stage-1/level-1"}, capabilities[rolemap.CapabilityApprove])
		assert.True(t, roleMap.Clean)
	}

	// Inactive levels and archived workflows contribute nothing.
	maps, err := store.RoleMaps().ListByType(t.Context(), rolemap.ApproverMapType)
	require.NoError(t, err)
	assert.Len(t, maps, 3)
}

func TestRecalculationSkippedWhileLeaseHeld(t *testing.T) {
	recalculator, _, sharedCache := newRecalculator(t)

	acquired, err := sharedCache.SetNX(t.Context(), rolemap.LeaseKey, "other-process", time.Minute)
	require.NoError(t, err)
	require.True(t, acquired)

	result, err := recalculator.TriggerFullRecalculation(t.Context())
	require.NoError(t, err)
	assert.True(t, result.Skipped)
	assert.Zero(t, result.Rebuilt)

	// The foreign lease survives the skipped attempt.
	value, err := sharedCache.Get(t.Context(), rolemap.LeaseKey)
	require.NoError(t, err)
	assert.Equal(t, "other-process", value)
}

func TestLeaseReleasedAfterRun(t *testing.T) {
	recalculator, _, sharedCache := newRecalculator(t)

	_, err := recalculator.TriggerFullRecalculation(t.Context())
	require.NoError(t, err)

	_, err = sharedCache.Get(t.Context(), rolemap.LeaseKey)
	assert.ErrorIs(t, err, cache.ErrKeyNotFound)

	// A second run acquires the lease again.
	result, err := recalculator.TriggerFullRecalculation(t.Context())
	require.NoError(t, err)
	assert.False(t, result.Skipped)
}

func TestReplaceAllDropsStaleEntries(t *testing.T) {
	recalculator, store, _ := newRecalculator(t)

	require.NoError(t, store.RoleMaps().ReplaceAll(t.Context(), rolemap.ApproverMapType, []*models.RoleMap{
		{Role: "ghost", MapType: rolemap.ApproverMapType, Version: 1, GeneratedAt: time.Now().UTC()},
	}))

	_, err := recalculator.TriggerFullRecalculation(t.Context())
	require.NoError(t, err)

	// The stale entry for a user no longer granted anything is gone.
	_, err = store.RoleMaps().Get(t.Context(), "ghost", rolemap.ApproverMapType)
	assert.Error(t, err)
}

func TestQueueImmediateRerun(t *testing.T) {
	recalculator, store, _ := newRecalculator(t)

	schedule, err := models.NewSchedule("sched-1", rolemap.TaskName, "0 3 * * *")
	require.NoError(t, err)

	now := time.Now().UTC()
	schedule.NextDueAt = now.Add(24 * time.Hour)
	require.NoError(t, store.Schedules().Save(t.Context(), schedule))
	require.False(t, schedule.IsDue(now))

	require.NoError(t, recalculator.QueueImmediateRerun(t.Context()))

	updated, err := store.Schedules().GetByTask(t.Context(), rolemap.TaskName)
	require.NoError(t, err)
	assert.True(t, updated.IsDue(time.Now().UTC()))
}
