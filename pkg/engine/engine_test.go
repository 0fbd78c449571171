package engine_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/approvio/approvio/pkg/directory"
	"github.com/approvio/approvio/pkg/engine"
	"github.com/approvio/approvio/pkg/eventbus"
	"github.com/approvio/approvio/pkg/events"
	"github.com/approvio/approvio/pkg/log"
	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
	"github.com/approvio/approvio/pkg/persistence/file"
)

// capturePublisher records published events in order.
type capturePublisher struct {
	mu     sync.Mutex
	events []eventbus.Event
}

func (p *capturePublisher) Publish(_ context.Context, _ string, event eventbus.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.events = append(p.events, event)

	return nil
}

func (p *capturePublisher) eventTypes() []events.EventType {
	p.mu.Lock()
	defer p.mu.Unlock()

	types := make([]events.EventType, 0, len(p.events))
	for _, event := range p.events {
		types = append(types, event.GetType())
	}

	return types
}

// twoStageWorkflow builds the reference routing setup: a review stage with
// two approval levels followed by a sign-off stage with one, and a back
// transition allowed from sign-off to review.
func twoStageWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:      "wf-1",
		Name:    "Purchase approval",
		Status:  models.WorkflowStatusActive,
		Version: 1,
		Owner:   "owner-1",
		Stages: []*models.Stage{
			{
				ID:       "stage-review",
				Name:     "Review",
				Ordinal:  1,
				Features: []models.StageFeature{models.StageFeatureApprovalLevels},
				Levels: []*models.ApprovalLevel{
					{
						ID: "level-manager", Name: "Manager", Ordinal: 1, Active: true,
						Approvers: []*models.Approver{
							{Type: models.ApproverTypeRelationship, Identifier: directory.RelationshipManager},
						},
					},
					{
						ID: "level-finance", Name: "Finance", Ordinal: 2, Active: true,
						Approvers: []*models.Approver{
							{Type: models.ApproverTypeRelationshipGroup, Identifier: "finance-team"},
						},
					},
				},
			},
			{
				ID:        "stage-signoff",
				Name:      "Sign-off",
				Ordinal:   2,
				Features:  []models.StageFeature{models.StageFeatureApprovalLevels},
				AllowBack: true,
				Levels: []*models.ApprovalLevel{
					{
						ID: "level-director", Name: "Director", Ordinal: 1, Active: true,
						Approvers: []*models.Approver{
							{Type: models.ApproverTypeUser, Identifier: "director-1"},
						},
					},
				},
			},
		},
	}
}

func newTestEngine(t *testing.T) (*engine.Engine, persistence.Persistence, *capturePublisher, *directory.MemoryDirectory) {
	t.Helper()

	store := file.NewPersistence(t.TempDir())
	publisher := &capturePublisher{}
	dir := directory.NewMemoryDirectory()
	dir.SetManager("subject-1", "manager-1")
	dir.SetGroup("finance-team", []string{"finance-1", "finance-2"})

	routingEngine := engine.NewEngine(store, publisher, dir, log.WithModule("test"))

	require.NoError(t, store.Workflows().Save(t.Context(), twoStageWorkflow()))

	return routingEngine, store, publisher, dir
}

func createAndSubmit(t *testing.T, routingEngine *engine.Engine) *models.Application {
	t.Helper()

	application, err := routingEngine.CreateApplication(t.Context(), &models.Application{
		Title:      "New laptop",
		WorkflowID: "wf-1",
		SubjectID:  "subject-1",
		Owner:      "subject-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStateDraft, application.State)
	assert.Equal(t, 1, application.WorkflowVersion)

	application, err = routingEngine.Submit(t.Context(), application.ID, "subject-1")
	require.NoError(t, err)

	return application
}

func TestSubmitEntersFirstStageAndLevel(t *testing.T) {
	routingEngine, _, publisher, _ := newTestEngine(t)

	application := createAndSubmit(t, routingEngine)

	assert.Equal(t, models.ApplicationStateInProgress, application.State)
	assert.Equal(t, "stage-review", application.CurrentStageID)
	assert.Equal(t, "level-manager", application.CurrentLevelID)
	assert.Equal(t, []events.EventType{events.ApplicationSubmittedEvent}, publisher.eventTypes())
}

func TestCreateApplicationRequiresActiveWorkflow(t *testing.T) {
	routingEngine, store, _, _ := newTestEngine(t)

	workflow := twoStageWorkflow()
	workflow.ID = "wf-draft"
	workflow.Status = models.WorkflowStatusDraft
	require.NoError(t, store.Workflows().Save(t.Context(), workflow))

	_, err := routingEngine.CreateApplication(t.Context(), &models.Application{
		Title:      "Too early",
		WorkflowID: "wf-draft",
		SubjectID:  "subject-1",
	})
	assert.True(t, engine.IsInvalidTransition(err))
}

func TestFullApprovalPath(t *testing.T) {
	routingEngine, store, publisher, _ := newTestEngine(t)

	application := createAndSubmit(t, routingEngine)

	// Manager approves the first level.
	application, err := routingEngine.RecordApproval(
		t.Context(), application.ID, "level-manager", "manager-1", models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, "stage-review", application.CurrentStageID)
	assert.Equal(t, "level-finance", application.CurrentLevelID)

	// Finance group member approves the second level, moving to sign-off.
	application, err = routingEngine.RecordApproval(
		t.Context(), application.ID, "level-finance", "finance-2", models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, "stage-signoff", application.CurrentStageID)
	assert.Equal(t, "level-director", application.CurrentLevelID)

	// Director approves the last level, completing the application.
	application, err = routingEngine.RecordApproval(
		t.Context(), application.ID, "level-director", "director-1", models.DecisionApproved, "looks good")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStateApproved, application.State)
	assert.Empty(t, application.CurrentLevelID)

	assert.Equal(t, []events.EventType{
		events.ApplicationSubmittedEvent,
		events.LevelApprovedEvent,
		events.LevelAdvancedEvent,
		events.LevelApprovedEvent,
		events.StageEnteredEvent,
		events.LevelApprovedEvent,
		events.ApplicationApprovedEvent,
	}, publisher.eventTypes())

	// The transition log mirrors the path.
	actions, err := store.Applications().Actions(t.Context(), application.ID)
	require.NoError(t, err)

	actionTypes := make([]models.ActionType, 0, len(actions))
	for _, action := range actions {
		actionTypes = append(actionTypes, action.Type)
	}

	assert.Equal(t, []models.ActionType{
		models.ActionSubmitted,
		models.ActionApproved,
		models.ActionLevelAdvanced,
		models.ActionApproved,
		models.ActionStageEntered,
		models.ActionApproved,
		models.ActionCompleted,
	}, actionTypes)
}

func TestRejectionIsTerminal(t *testing.T) {
	routingEngine, _, _, _ := newTestEngine(t)

	application := createAndSubmit(t, routingEngine)

	application, err := routingEngine.RecordApproval(
		t.Context(), application.ID, "level-manager", "manager-1", models.DecisionRejected, "over budget")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStateRejected, application.State)

	// No further decisions are accepted.
	_, err = routingEngine.RecordApproval(
		t.Context(), application.ID, "level-manager", "manager-1", models.DecisionApproved, "")
	assert.True(t, engine.IsInvalidTransition(err))
}

func TestDecidedLevelRejectsSecondDecision(t *testing.T) {
	routingEngine, _, _, _ := newTestEngine(t)

	application := createAndSubmit(t, routingEngine)

	_, err := routingEngine.RecordApproval(
		t.Context(), application.ID, "level-manager", "manager-1", models.DecisionApproved, "")
	require.NoError(t, err)

	// A decided level always reports already-decided, even though the
	// application has moved on.
	_, err = routingEngine.RecordApproval(
		t.Context(), application.ID, "level-manager", "manager-1", models.DecisionApproved, "")
	assert.True(t, engine.IsAlreadyDecided(err))
}

func TestUnauthorizedApprover(t *testing.T) {
	routingEngine, _, _, _ := newTestEngine(t)

	application := createAndSubmit(t, routingEngine)

	_, err := routingEngine.RecordApproval(
		t.Context(), application.ID, "level-manager", "stranger-1", models.DecisionApproved, "")
	assert.True(t, engine.IsUnauthorizedApprover(err))
}

func TestDecisionOnNonCurrentLevel(t *testing.T) {
	routingEngine, _, _, _ := newTestEngine(t)

	application := createAndSubmit(t, routingEngine)

	// Director's level exists but the application has not reached it.
	_, err := routingEngine.RecordApproval(
		t.Context(), application.ID, "level-director", "director-1", models.DecisionApproved, "")
	assert.True(t, engine.IsInvalidTransition(err))
}

func TestBackTransitionClearsStageDecisions(t *testing.T) {
	routingEngine, store, publisher, _ := newTestEngine(t)

	application := createAndSubmit(t, routingEngine)

	_, err := routingEngine.RecordApproval(
		t.Context(), application.ID, "level-manager", "manager-1", models.DecisionApproved, "")
	require.NoError(t, err)
	_, err = routingEngine.RecordApproval(
		t.Context(), application.ID, "level-finance", "finance-1", models.DecisionApproved, "")
	require.NoError(t, err)

	// Sign-off allows going back to review; review itself does not go back.
	application, err = routingEngine.EnterStage(t.Context(), application.ID, "stage-review", "director-1")
	require.NoError(t, err)
	assert.Equal(t, "stage-review", application.CurrentStageID)
	assert.Equal(t, "level-manager", application.CurrentLevelID)

	// Review decisions were cleared, the manager decides afresh.
	stored, err := store.Applications().GetByID(t.Context(), application.ID)
	require.NoError(t, err)
	assert.Nil(t, stored.DecisionFor("level-manager"))
	assert.Nil(t, stored.DecisionFor("level-finance"))

	_, err = routingEngine.RecordApproval(
		t.Context(), application.ID, "level-manager", "manager-1", models.DecisionApproved, "second pass")
	require.NoError(t, err)

	assert.Contains(t, publisher.eventTypes(), events.StageReturnedEvent)
}

func TestBackTransitionRequiresAllowBack(t *testing.T) {
	routingEngine, _, _, _ := newTestEngine(t)

	application := createAndSubmit(t, routingEngine)

	// Review is the first stage and does not allow back anyway; forward
	// skipping ahead is fine, but re-entering the same stage is not.
	_, err := routingEngine.EnterStage(t.Context(), application.ID, "stage-review", "subject-1")
	assert.True(t, engine.IsInvalidTransition(err))
}

func TestCancelSkipsTerminalStates(t *testing.T) {
	routingEngine, _, publisher, _ := newTestEngine(t)

	application := createAndSubmit(t, routingEngine)

	application, err := routingEngine.Cancel(t.Context(), application.ID, "subject-1", "no longer needed")
	require.NoError(t, err)
	assert.Equal(t, models.ApplicationStateCancelled, application.State)
	assert.Contains(t, publisher.eventTypes(), events.ApplicationCancelledEvent)

	_, err = routingEngine.Cancel(t.Context(), application.ID, "subject-1", "again")
	assert.True(t, engine.IsInvalidTransition(err))
}

func TestConcurrentModificationDetected(t *testing.T) {
	routingEngine, store, _, _ := newTestEngine(t)

	application := createAndSubmit(t, routingEngine)

	// A stale copy loses the race against a concurrent save.
	stale, err := store.Applications().GetByID(t.Context(), application.ID)
	require.NoError(t, err)

	fresh, err := store.Applications().GetByID(t.Context(), application.ID)
	require.NoError(t, err)
	require.NoError(t, store.Applications().Save(t.Context(), fresh, fresh.Version))

	err = store.Applications().Save(t.Context(), stale, stale.Version)
	assert.True(t, persistence.IsConcurrentModification(err))
}

func TestInFlightApplicationRoutesAgainstPinnedVersion(t *testing.T) {
	routingEngine, store, _, _ := newTestEngine(t)

	application := createAndSubmit(t, routingEngine)

	// A later stage edit replaces every stage and bumps the version.
	edited := twoStageWorkflow()
	edited.Version = 2
	edited.Stages = []*models.Stage{{
		ID:       "stage-intake",
		Name:     "Intake",
		Ordinal:  1,
		Features: []models.StageFeature{models.StageFeatureApprovalLevels},
		Levels: []*models.ApprovalLevel{{
			ID: "level-intake", Name: "Intake", Ordinal: 1, Active: true,
			Approvers: []*models.Approver{
				{Type: models.ApproverTypeUser, Identifier: "intake-1"},
			},
		}},
	}}
	require.NoError(t, store.Workflows().Save(t.Context(), edited))

	// The in-flight application still routes against the stages it started on.
	application, err := routingEngine.RecordApproval(
		t.Context(), application.ID, "level-manager", "manager-1", models.DecisionApproved, "")
	require.NoError(t, err)
	assert.Equal(t, "stage-review", application.CurrentStageID)
	assert.Equal(t, "level-finance", application.CurrentLevelID)

	// A fresh application pins the edited version.
	fresh, err := routingEngine.CreateApplication(t.Context(), &models.Application{
		Title:      "After the edit",
		WorkflowID: "wf-1",
		SubjectID:  "subject-1",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, fresh.WorkflowVersion)

	fresh, err = routingEngine.Submit(t.Context(), fresh.ID, "subject-1")
	require.NoError(t, err)
	assert.Equal(t, "stage-intake", fresh.CurrentStageID)
	assert.Equal(t, "level-intake", fresh.CurrentLevelID)
}

func TestInactiveLevelsAreSkipped(t *testing.T) {
	store := file.NewPersistence(t.TempDir())
	publisher := &capturePublisher{}
	dir := directory.NewMemoryDirectory()

	workflow := twoStageWorkflow()
	workflow.ID = "wf-inactive"
	workflow.Stages[0].Levels[0].Active = false
	require.NoError(t, store.Workflows().Save(t.Context(), workflow))

	routingEngine := engine.NewEngine(store, publisher, dir, log.WithModule("test"))

	application, err := routingEngine.CreateApplication(t.Context(), &models.Application{
		Title:      "Skip inactive",
		WorkflowID: "wf-inactive",
		SubjectID:  "subject-1",
	})
	require.NoError(t, err)

	application, err = routingEngine.Submit(t.Context(), application.ID, "subject-1")
	require.NoError(t, err)

	// The inactive manager level is skipped, finance is first.
	assert.Equal(t, "level-finance", application.CurrentLevelID)
}
