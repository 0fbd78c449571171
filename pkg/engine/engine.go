package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/approvio/approvio/pkg/directory"
	"github.com/approvio/approvio/pkg/eventbus"
	"github.com/approvio/approvio/pkg/events"
	"github.com/approvio/approvio/pkg/metrics"
	"github.com/approvio/approvio/pkg/models"
	"github.com/approvio/approvio/pkg/persistence"
	"github.com/google/uuid"
)

// Engine is the approval workflow state machine. All mutations load the
// application, apply the transition in memory, then persist with an
// optimistic version check; concurrent transition attempts on the same
// application lose with persistence.ErrConcurrentModification.
type Engine struct {
	persistence persistence.Persistence
	publisher   eventbus.EventPublisher
	directory   directory.Directory
	logger      *slog.Logger
}

func NewEngine(
	store persistence.Persistence,
	publisher eventbus.EventPublisher,
	dir directory.Directory,
	logger *slog.Logger,
) *Engine {
	return &Engine{
		persistence: store,
		publisher:   publisher,
		directory:   dir,
		logger:      logger.With("module", "engine"),
	}
}

// transition accumulates log entries and events while a state change is
// applied in memory, so persistence and publishing happen once, in order.
type transition struct {
	actions []*models.ApplicationAction
	events  []eventbus.Event
}

func (t *transition) logAction(action *models.ApplicationAction) {
	action.ID = uuid.New().String()
	action.CreatedAt = time.Now().UTC()
	t.actions = append(t.actions, action)
}

func (t *transition) emit(event eventbus.Event) {
	t.events = append(t.events, event)
}

// CreateApplication creates a draft application pinned to the workflow's
// current version.
func (e *Engine) CreateApplication(ctx context.Context, application *models.Application) (*models.Application, error) {
	workflow, err := e.persistence.Workflows().GetByID(ctx, application.WorkflowID)
	if err != nil {
		return nil, err
	}

	if workflow.Status != models.WorkflowStatusActive {
		return nil, newTransitionError("CreateApplication", application.ID,
			fmt.Errorf("%w: workflow %s is %s", ErrInvalidTransition, workflow.ID, workflow.Status))
	}

	if application.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return nil, fmt.Errorf("failed to generate application ID: %w", err)
		}

		application.ID = id.String()
	}

	application.WorkflowVersion = workflow.Version
	application.State = models.ApplicationStateDraft
	application.CurrentStageID = ""
	application.CurrentLevelID = ""

	err = e.persistence.Applications().Save(ctx, application, 0)
	if err != nil {
		return nil, err
	}

	e.logger.InfoContext(ctx, "Created application",
		"application_id", application.ID, "workflow_id", workflow.ID)

	return application, nil
}

// Submit moves a draft application into the workflow's first stage.
func (e *Engine) Submit(ctx context.Context, applicationID, actorID string) (*models.Application, error) {
	application, workflow, err := e.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	if application.State != models.ApplicationStateDraft {
		return nil, newTransitionError("Submit", applicationID,
			fmt.Errorf("%w: cannot submit from state %s", ErrInvalidTransition, application.State))
	}

	first := workflow.FirstStage()
	if first == nil {
		return nil, newTransitionError("Submit", applicationID,
			fmt.Errorf("%w: workflow %s has no stages", ErrInvalidTransition, workflow.ID))
	}

	tr := &transition{}

	application.State = models.ApplicationStateInProgress
	application.CurrentStageID = first.ID
	application.CurrentLevelID = levelID(first.FirstActiveLevel())

	tr.logAction(&models.ApplicationAction{
		ApplicationID: applicationID,
		Type:          models.ActionSubmitted,
		ToStageID:     first.ID,
		LevelID:       application.CurrentLevelID,
		ActorID:       actorID,
	})

	event := events.ApplicationSubmitted{
		BaseEvent: e.baseEvent(events.ApplicationSubmittedEvent, application, actorID),
		StageID:   first.ID,
		LevelID:   application.CurrentLevelID,
	}
	tr.emit(event)

	err = e.commit(ctx, application, tr)
	if err != nil {
		return nil, err
	}

	metrics.TransitionsTotal.WithLabelValues(string(models.ActionSubmitted)).Inc()

	return application, nil
}

// EnterStage moves the application to the given stage. Backward movement is
// only legal when the current stage allows it and the target is the
// immediately preceding stage.
func (e *Engine) EnterStage(ctx context.Context, applicationID, stageID, actorID string) (*models.Application, error) {
	application, workflow, err := e.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	tr := &transition{}

	err = e.enterStage(application, workflow, stageID, actorID, tr)
	if err != nil {
		return nil, newTransitionError("EnterStage", applicationID, err)
	}

	err = e.commit(ctx, application, tr)
	if err != nil {
		return nil, err
	}

	return application, nil
}

// enterStage applies the stage transition in memory. Callers wrap errors.
func (e *Engine) enterStage(
	application *models.Application,
	workflow *models.Workflow,
	stageID, actorID string,
	tr *transition,
) error {
	if application.State != models.ApplicationStateInProgress {
		return fmt.Errorf("%w: cannot enter a stage from state %s", ErrInvalidTransition, application.State)
	}

	target := workflow.StageByID(stageID)
	if target == nil {
		return fmt.Errorf("%w: stage %s does not belong to workflow %s", ErrInvalidTransition, stageID, workflow.ID)
	}

	current := workflow.StageByID(application.CurrentStageID)
	if current == nil {
		return fmt.Errorf("%w: current stage %s missing from workflow %s",
			ErrInvalidTransition, application.CurrentStageID, workflow.ID)
	}

	back := false

	if target.Ordinal <= current.Ordinal {
		previous := workflow.PreviousStage(current)
		if !current.AllowBack || previous == nil || previous.ID != target.ID {
			return fmt.Errorf("%w: stage %s (ordinal %d) is not ahead of %s (ordinal %d)",
				ErrInvalidTransition, target.ID, target.Ordinal, current.ID, current.Ordinal)
		}

		back = true
	}

	application.CurrentStageID = target.ID
	application.CurrentLevelID = levelID(target.FirstActiveLevel())

	if back {
		// A re-entered stage is decided afresh.
		application.ClearStageDecisions(target)

		tr.logAction(&models.ApplicationAction{
			ApplicationID: application.ID,
			Type:          models.ActionStageReturned,
			FromStageID:   current.ID,
			ToStageID:     target.ID,
			LevelID:       application.CurrentLevelID,
			ActorID:       actorID,
		})
		tr.emit(events.StageReturned{
			BaseEvent:   e.baseEvent(events.StageReturnedEvent, application, actorID),
			FromStageID: current.ID,
			StageID:     target.ID,
			LevelID:     application.CurrentLevelID,
		})
		metrics.TransitionsTotal.WithLabelValues(string(models.ActionStageReturned)).Inc()

		return nil
	}

	tr.logAction(&models.ApplicationAction{
		ApplicationID: application.ID,
		Type:          models.ActionStageEntered,
		FromStageID:   current.ID,
		ToStageID:     target.ID,
		LevelID:       application.CurrentLevelID,
		ActorID:       actorID,
	})
	tr.emit(events.StageEntered{
		BaseEvent:   e.baseEvent(events.StageEnteredEvent, application, actorID),
		FromStageID: current.ID,
		StageID:     target.ID,
		LevelID:     application.CurrentLevelID,
	})
	metrics.TransitionsTotal.WithLabelValues(string(models.ActionStageEntered)).Inc()

	return nil
}

// AdvanceApprovalLevel moves to the next active level of the current stage,
// or into the next stage when the current one is exhausted, or to the
// terminal approved state when no further stage exists.
func (e *Engine) AdvanceApprovalLevel(ctx context.Context, applicationID, actorID string) (*models.Application, error) {
	application, workflow, err := e.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	tr := &transition{}

	err = e.advanceLevel(application, workflow, actorID, tr)
	if err != nil {
		return nil, newTransitionError("AdvanceApprovalLevel", applicationID, err)
	}

	err = e.commit(ctx, application, tr)
	if err != nil {
		return nil, err
	}

	return application, nil
}

func (e *Engine) advanceLevel(
	application *models.Application,
	workflow *models.Workflow,
	actorID string,
	tr *transition,
) error {
	if application.State != models.ApplicationStateInProgress {
		return fmt.Errorf("%w: cannot advance from state %s", ErrInvalidTransition, application.State)
	}

	stage := workflow.StageByID(application.CurrentStageID)
	if stage == nil {
		return fmt.Errorf("%w: current stage %s missing from workflow %s",
			ErrInvalidTransition, application.CurrentStageID, workflow.ID)
	}

	if application.CurrentLevelID != "" {
		current := stage.LevelByID(application.CurrentLevelID)
		if current == nil {
			return fmt.Errorf("%w: current level %s missing from stage %s",
				ErrInvalidTransition, application.CurrentLevelID, stage.ID)
		}

		next := stage.NextActiveLevel(current)
		if next != nil {
			application.CurrentLevelID = next.ID

			tr.logAction(&models.ApplicationAction{
				ApplicationID: application.ID,
				Type:          models.ActionLevelAdvanced,
				ToStageID:     stage.ID,
				LevelID:       next.ID,
				ActorID:       actorID,
			})
			tr.emit(events.LevelAdvanced{
				BaseEvent:   e.baseEvent(events.LevelAdvancedEvent, application, actorID),
				StageID:     stage.ID,
				FromLevelID: current.ID,
				LevelID:     next.ID,
			})
			metrics.TransitionsTotal.WithLabelValues(string(models.ActionLevelAdvanced)).Inc()

			return nil
		}
	}

	next := workflow.NextStage(stage)
	if next != nil {
		return e.enterStage(application, workflow, next.ID, actorID, tr)
	}

	// Last stage exhausted, the application is approved.
	application.State = models.ApplicationStateApproved
	application.CurrentLevelID = ""

	tr.logAction(&models.ApplicationAction{
		ApplicationID: application.ID,
		Type:          models.ActionCompleted,
		FromStageID:   stage.ID,
		ActorID:       actorID,
	})
	tr.emit(events.ApplicationApproved{
		BaseEvent:    e.baseEvent(events.ApplicationApprovedEvent, application, actorID),
		FinalStageID: stage.ID,
	})
	metrics.TransitionsTotal.WithLabelValues(string(models.ActionCompleted)).Inc()

	return nil
}

// RecordApproval applies an approver's decision to the given level. Approval
// advances the application; rejection moves it to the terminal rejected state.
func (e *Engine) RecordApproval(
	ctx context.Context,
	applicationID, stageLevelID, approverID string,
	decision models.Decision,
	notes string,
) (*models.Application, error) {
	application, workflow, err := e.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	if application.State != models.ApplicationStateInProgress {
		return nil, newTransitionError("RecordApproval", applicationID,
			fmt.Errorf("%w: cannot record a decision in state %s", ErrInvalidTransition, application.State))
	}

	if decided := application.DecisionFor(stageLevelID); decided != nil {
		return nil, newTransitionError("RecordApproval", applicationID, ErrAlreadyDecided)
	}

	if application.CurrentLevelID == "" || application.CurrentLevelID != stageLevelID {
		return nil, newTransitionError("RecordApproval", applicationID,
			fmt.Errorf("%w: level %s is not the application's current level", ErrInvalidTransition, stageLevelID))
	}

	stage := workflow.StageByID(application.CurrentStageID)
	if stage == nil {
		return nil, newTransitionError("RecordApproval", applicationID,
			fmt.Errorf("%w: current stage %s missing from workflow %s",
				ErrInvalidTransition, application.CurrentStageID, workflow.ID))
	}

	level := stage.LevelByID(stageLevelID)
	if level == nil {
		return nil, newTransitionError("RecordApproval", applicationID,
			fmt.Errorf("%w: level %s does not belong to stage %s", ErrInvalidTransition, stageLevelID, stage.ID))
	}

	member, err := e.isApprover(ctx, level, approverID, application.SubjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve approver membership: %w", err)
	}

	if !member {
		return nil, newTransitionError("RecordApproval", applicationID, ErrUnauthorizedApprover)
	}

	tr := &transition{}

	application.RecordDecision(&models.ApprovalDecision{
		LevelID:    level.ID,
		ApproverID: approverID,
		Decision:   decision,
		DecidedAt:  time.Now().UTC(),
	})

	if decision == models.DecisionRejected {
		application.State = models.ApplicationStateRejected

		tr.logAction(&models.ApplicationAction{
			ApplicationID: applicationID,
			Type:          models.ActionRejected,
			FromStageID:   stage.ID,
			LevelID:       level.ID,
			ActorID:       approverID,
			Decision:      models.DecisionRejected,
			Notes:         notes,
		})
		tr.emit(events.ApplicationRejected{
			BaseEvent:  e.baseEvent(events.ApplicationRejectedEvent, application, approverID),
			StageID:    stage.ID,
			LevelID:    level.ID,
			ApproverID: approverID,
			Notes:      notes,
		})
		metrics.TransitionsTotal.WithLabelValues(string(models.ActionRejected)).Inc()
	} else {
		tr.logAction(&models.ApplicationAction{
			ApplicationID: applicationID,
			Type:          models.ActionApproved,
			FromStageID:   stage.ID,
			LevelID:       level.ID,
			ActorID:       approverID,
			Decision:      models.DecisionApproved,
			Notes:         notes,
		})
		tr.emit(events.LevelApproved{
			BaseEvent:  e.baseEvent(events.LevelApprovedEvent, application, approverID),
			StageID:    stage.ID,
			LevelID:    level.ID,
			ApproverID: approverID,
		})
		metrics.TransitionsTotal.WithLabelValues(string(models.ActionApproved)).Inc()

		err = e.advanceLevel(application, workflow, approverID, tr)
		if err != nil {
			return nil, newTransitionError("RecordApproval", applicationID, err)
		}
	}

	err = e.commit(ctx, application, tr)
	if err != nil {
		return nil, err
	}

	return application, nil
}

// Cancel moves the application to the terminal cancelled state. Deferred
// notification jobs tied to it are skipped at dispatch time, not removed here.
func (e *Engine) Cancel(ctx context.Context, applicationID, actorID, reason string) (*models.Application, error) {
	application, _, err := e.load(ctx, applicationID)
	if err != nil {
		return nil, err
	}

	if application.State.IsTerminal() {
		return nil, newTransitionError("Cancel", applicationID,
			fmt.Errorf("%w: application is already %s", ErrInvalidTransition, application.State))
	}

	tr := &transition{}

	application.State = models.ApplicationStateCancelled

	tr.logAction(&models.ApplicationAction{
		ApplicationID: applicationID,
		Type:          models.ActionCancelled,
		FromStageID:   application.CurrentStageID,
		ActorID:       actorID,
		Notes:         reason,
	})
	tr.emit(events.ApplicationCancelled{
		BaseEvent: e.baseEvent(events.ApplicationCancelledEvent, application, actorID),
		Reason:    reason,
	})
	metrics.TransitionsTotal.WithLabelValues(string(models.ActionCancelled)).Inc()

	err = e.commit(ctx, application, tr)
	if err != nil {
		return nil, err
	}

	return application, nil
}

// load fetches the application and the workflow version it is pinned to.
// Stage edits bump the workflow version; an in-flight application keeps
// routing against the snapshot it was created under.
func (e *Engine) load(ctx context.Context, applicationID string) (*models.Application, *models.Workflow, error) {
	application, err := e.persistence.Applications().GetByID(ctx, applicationID)
	if err != nil {
		return nil, nil, err
	}

	workflow, err := e.persistence.Workflows().GetByID(ctx, application.WorkflowID)
	if err != nil {
		return nil, nil, err
	}

	if application.WorkflowVersion != 0 && workflow.Version != application.WorkflowVersion {
		workflow, err = e.persistence.Workflows().GetVersion(ctx, application.WorkflowID, application.WorkflowVersion)
		if err != nil {
			return nil, nil, err
		}
	}

	return application, workflow, nil
}

// commit persists the mutated application with its optimistic version check,
// appends the accumulated log entries, then publishes the events in order.
func (e *Engine) commit(ctx context.Context, application *models.Application, tr *transition) error {
	err := e.persistence.Applications().Save(ctx, application, application.Version)
	if err != nil {
		return err
	}

	for _, action := range tr.actions {
		err = e.persistence.Applications().AppendAction(ctx, action)
		if err != nil {
			return fmt.Errorf("failed to append action %s: %w", action.Type, err)
		}
	}

	for _, event := range tr.events {
		err = e.publisher.Publish(ctx, application.ID, event)
		if err != nil {
			e.logger.ErrorContext(ctx, "Failed to publish event",
				"event_type", event.GetType(), "application_id", application.ID, "error", err)
		}
	}

	return nil
}

func (e *Engine) isApprover(ctx context.Context, level *models.ApprovalLevel, approverID, subjectID string) (bool, error) {
	for _, approver := range level.Approvers {
		switch approver.Type {
		case models.ApproverTypeUser:
			if approver.Identifier == approverID {
				return true, nil
			}
		case models.ApproverTypeRelationship:
			users, err := e.directory.Relationship(ctx, approver.Identifier, subjectID)
			if err != nil {
				return false, err
			}

			if contains(users, approverID) {
				return true, nil
			}
		case models.ApproverTypeRelationshipGroup:
			members, err := e.directory.GroupMembers(ctx, approver.Identifier)
			if err != nil {
				return false, err
			}

			if contains(members, approverID) {
				return true, nil
			}
		}
	}

	return false, nil
}

func (e *Engine) baseEvent(eventType events.EventType, application *models.Application, actorID string) events.BaseEvent {
	base := events.NewBaseEvent(eventType, application.ID)
	base.WorkflowID = application.WorkflowID
	base.SubjectID = application.SubjectID
	base.ActorID = actorID

	return base
}

func levelID(level *models.ApprovalLevel) string {
	if level == nil {
		return ""
	}

	return level.ID
}

func contains(ids []string, id string) bool {
	for _, candidate := range ids {
		if candidate == id {
			return true
		}
	}

	return false
}
