package recipient_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvio/approvio/pkg/directory"
	"github.com/approvio/approvio/pkg/log"
	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/notify/recipient"
	"github.com/approvio/approvio/pkg/persistence/file"
)

func TestSubjectResolver(t *testing.T) {
	resolver := recipient.NewSubjectResolver()

	users, err := resolver.Resolve(t.Context(), recipient.Reference{SubjectID: "subject-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"subject-1"}, users)

	users, err = resolver.Resolve(t.Context(), recipient.Reference{})
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestManagerResolver(t *testing.T) {
	dir := directory.NewMemoryDirectory()
	dir.SetManager("subject-1", "manager-1")

	resolver := recipient.NewManagerResolver(dir)

	users, err := resolver.Resolve(t.Context(), recipient.Reference{SubjectID: "subject-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"manager-1"}, users)

	// A subject without a manager is silently skipped.
	users, err = resolver.Resolve(t.Context(), recipient.Reference{SubjectID: "orphan"})
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestWorkflowOwnerResolver(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.Workflows().Save(t.Context(), &models.Workflow{
		ID: "wf-1", Name: "Expenses", Status: models.WorkflowStatusActive, Owner: "owner-1",
	}))

	resolver := recipient.NewWorkflowOwnerResolver(store)

	users, err := resolver.Resolve(t.Context(), recipient.Reference{WorkflowID: "wf-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"owner-1"}, users)

	// A deleted workflow is not a dispatch failure.
	users, err = resolver.Resolve(t.Context(), recipient.Reference{WorkflowID: "wf-gone"})
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestOwnerResolver(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	require.NoError(t, store.Applications().Save(t.Context(), &models.Application{
		ID: "app-1", Title: "Laptop", WorkflowID: "wf-1", SubjectID: "subject-1", Owner: "owner-1",
		State: models.ApplicationStateDraft,
	}, 0))

	resolver := recipient.NewOwnerResolver(store)

	users, err := resolver.Resolve(t.Context(), recipient.Reference{ApplicationID: "app-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"owner-1"}, users)

	users, err = resolver.Resolve(t.Context(), recipient.Reference{ApplicationID: "app-gone"})
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestStageApproversResolver(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	dir := directory.NewMemoryDirectory()
	dir.SetManager("subject-1", "manager-1")
	dir.SetGroup("finance-team", []string{"finance-1", "manager-1"})

	require.NoError(t, store.Workflows().Save(t.Context(), &models.Workflow{
		ID: "wf-1", Name: "Expenses", Status: models.WorkflowStatusActive, Version: 1,
		Stages: []*models.Stage{{
			ID: "stage-1", Name: "Review", Ordinal: 1,
			Features: []models.StageFeature{models.StageFeatureApprovalLevels},
			Levels: []*models.ApprovalLevel{{
				ID: "level-1", Name: "Review", Ordinal: 1, Active: true,
				Approvers: []*models.Approver{
					{Type: models.ApproverTypeRelationship, Identifier: directory.RelationshipManager},
					{Type: models.ApproverTypeRelationshipGroup, Identifier: "finance-team"},
				},
			}},
		}},
	}))
	require.NoError(t, store.Applications().Save(t.Context(), &models.Application{
		ID: "app-1", Title: "Laptop", WorkflowID: "wf-1", WorkflowVersion: 1, SubjectID: "subject-1",
		State: models.ApplicationStateInProgress, CurrentStageID: "stage-1", CurrentLevelID: "level-1",
	}, 0))

	resolver := recipient.NewStageApproversResolver(store, dir)

	// The manager holds decision rights twice, once through the relationship
	// and once through the group, but is notified once.
	users, err := resolver.Resolve(t.Context(), recipient.Reference{ApplicationID: "app-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"manager-1", "finance-1"}, users)

	// A draft application has no current level to notify.
	require.NoError(t, store.Applications().Save(t.Context(), &models.Application{
		ID: "app-2", Title: "Desk", WorkflowID: "wf-1", WorkflowVersion: 1, SubjectID: "subject-1",
		State: models.ApplicationStateDraft,
	}, 0))

	users, err = resolver.Resolve(t.Context(), recipient.Reference{ApplicationID: "app-2"})
	require.NoError(t, err)
	assert.Empty(t, users)

	users, err = resolver.Resolve(t.Context(), recipient.Reference{ApplicationID: "app-gone"})
	require.NoError(t, err)
	assert.Empty(t, users)
}

func TestRegistryUnknownSelector(t *testing.T) {
	registry := recipient.NewRegistry(log.WithModule("test"))
	registry.Register(recipient.NewSubjectResolver())

	users, err := registry.Resolve(t.Context(), "board_of_directors", recipient.Reference{SubjectID: "subject-1"})
	require.NoError(t, err)
	assert.Empty(t, users)

	users, err = registry.Resolve(t.Context(), recipient.SelectorSubject, recipient.Reference{SubjectID: "subject-1"})
	require.NoError(t, err)
	assert.Equal(t, []string{"subject-1"}, users)
}
