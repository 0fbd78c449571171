package models_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/approvio/approvio/pkg/models"
)

func routingWorkflow() *models.Workflow {
	return &models.Workflow{
		ID: "wf-1",
		Stages: []*models.Stage{
			{ID: "stage-3", Ordinal: 3},
			{
				ID: "stage-1", Ordinal: 1,
				Features: []models.StageFeature{models.StageFeatureApprovalLevels},
				Levels: []*models.ApprovalLevel{
					{ID: "level-2", Ordinal: 2, Active: true},
					{ID: "level-1", Ordinal: 1, Active: false},
					{ID: "level-3", Ordinal: 3, Active: true},
				},
			},
			{ID: "stage-2", Ordinal: 2},
		},
	}
}

func TestStageOrderingHelpers(t *testing.T) {
	workflow := routingWorkflow()

	// Ordering follows ordinals, not slice position.
	assert.Equal(t, "stage-1", workflow.FirstStage().ID)
	assert.Equal(t, "stage-2", workflow.NextStage(workflow.StageByID("stage-1")).ID)
	assert.Nil(t, workflow.NextStage(workflow.StageByID("stage-3")))
	assert.Equal(t, "stage-2", workflow.PreviousStage(workflow.StageByID("stage-3")).ID)
	assert.Nil(t, workflow.PreviousStage(workflow.StageByID("stage-1")))
	assert.Nil(t, workflow.StageByID("stage-x"))
}

func TestLevelHelpers(t *testing.T) {
	stage := routingWorkflow().StageByID("stage-1")

	// The inactive level-1 is skipped.
	assert.Equal(t, "level-2", stage.FirstActiveLevel().ID)
	assert.Equal(t, "level-3", stage.NextActiveLevel(stage.LevelByID("level-2")).ID)
	assert.Nil(t, stage.NextActiveLevel(stage.LevelByID("level-3")))
}

func TestFirstActiveLevelRequiresFeature(t *testing.T) {
	stage := &models.Stage{
		ID: "stage-plain", Ordinal: 1,
		Levels: []*models.ApprovalLevel{{ID: "level-1", Ordinal: 1, Active: true}},
	}

	// Levels without the approval_levels feature are inert.
	assert.Nil(t, stage.FirstActiveLevel())
}

func TestApplicationStateIsTerminal(t *testing.T) {
	terminal := []models.ApplicationState{
		models.ApplicationStateApproved,
		models.ApplicationStateRejected,
		models.ApplicationStateCancelled,
	}
	for _, state := range terminal {
		assert.True(t, state.IsTerminal(), state)
	}

	assert.False(t, models.ApplicationStateDraft.IsTerminal())
	assert.False(t, models.ApplicationStateInProgress.IsTerminal())
}

func TestClearStageDecisions(t *testing.T) {
	application := &models.Application{}
	application.RecordDecision(&models.ApprovalDecision{LevelID: "level-1", Decision: models.DecisionApproved})
	application.RecordDecision(&models.ApprovalDecision{LevelID: "level-other", Decision: models.DecisionApproved})

	application.ClearStageDecisions(&models.Stage{
		Levels: []*models.ApprovalLevel{{ID: "level-1"}},
	})

	assert.Nil(t, application.DecisionFor("level-1"))
	assert.NotNil(t, application.DecisionFor("level-other"))
}

func TestNotificationScheduleFireTime(t *testing.T) {
	eventTime := time.Date(2026, 3, 5, 10, 0, 0, 0, time.UTC)

	onEvent := models.NotificationSchedule{OnEvent: true, OffsetSeconds: 3600}
	assert.Equal(t, eventTime, onEvent.FireTime(eventTime))

	deferred := models.NotificationSchedule{OffsetSeconds: 3600}
	assert.Equal(t, eventTime.Add(time.Hour), deferred.FireTime(eventTime))
}

func TestValidateWorkflowDefinition(t *testing.T) {
	valid := map[string]any{
		"name": "Purchase approval",
		"stages": []any{
			map[string]any{
				"name":     "Review",
				"ordinal":  1,
				"features": []any{"approval_levels"},
				"levels": []any{
					map[string]any{
						"name":    "Manager",
						"ordinal": 1,
						"active":  true,
						"approvers": []any{
							map[string]any{"type": "relationship", "identifier": "manager"},
						},
					},
				},
			},
		},
	}
	assert.NoError(t, models.ValidateWorkflowDefinition(valid))

	assert.Error(t, models.ValidateWorkflowDefinition(map[string]any{"name": "No stages"}))

	invalidApprover := map[string]any{
		"name": "Bad approver type",
		"stages": []any{
			map[string]any{
				"name":    "Review",
				"ordinal": 1,
				"levels": []any{
					map[string]any{
						"name":    "Manager",
						"ordinal": 1,
						"approvers": []any{
							map[string]any{"type": "committee", "identifier": "board"},
						},
					},
				},
			},
		},
	}
	assert.Error(t, models.ValidateWorkflowDefinition(invalidApprover))
}

func TestValidateNotificationRuleDefinition(t *testing.T) {
	valid := map[string]any{
		"name":       "Submitted notice",
		"event_type": "application.submitted",
		"recipient":  "subject",
		"subject":    "Submitted",
		"body":       "Your application was submitted",
		"channels":   []any{"log"},
		"schedule":   map[string]any{"on_event": true},
	}
	assert.NoError(t, models.ValidateNotificationRuleDefinition(valid))

	missingChannels := map[string]any{
		"name":       "No channels",
		"event_type": "application.submitted",
		"recipient":  "subject",
		"subject":    "s",
		"body":       "b",
		"channels":   []any{},
	}
	assert.Error(t, models.ValidateNotificationRuleDefinition(missingChannels))
}
