package models

import "time"

// ApplicationState represents where an application sits in its workflow.
// Draft is the initial state; approved, rejected and cancelled are terminal.
type ApplicationState string

const (
	ApplicationStateDraft      ApplicationState = "draft"
	ApplicationStateInProgress ApplicationState = "in_progress" // in a stage, current stage/level on the application
	ApplicationStateApproved   ApplicationState = "approved"
	ApplicationStateRejected   ApplicationState = "rejected"
	ApplicationStateCancelled  ApplicationState = "cancelled"
)

// IsTerminal reports whether no further transitions are possible.
func (s ApplicationState) IsTerminal() bool {
	return s == ApplicationStateApproved || s == ApplicationStateRejected || s == ApplicationStateCancelled
}

// Decision is an approver's verdict on an approval level.
type Decision string

const (
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
)

// ApprovalDecision records the terminal verdict on one approval level.
type ApprovalDecision struct {
	LevelID    string    `json:"level_id"`
	ApproverID string    `json:"approver_id"`
	Decision   Decision  `json:"decision"`
	DecidedAt  time.Time `json:"decided_at"`
}

// Application is an instance being routed through a workflow. It pins the
// workflow version it was created against; current stage and level always
// belong to that version. Version is an optimistic-concurrency counter
// bumped on every persisted change.
type Application struct {
	ID              string           `json:"id"`
	Title           string           `json:"title"    validate:"required,min=3"`
	WorkflowID      string           `json:"workflow_id" validate:"required"`
	WorkflowVersion int              `json:"workflow_version"`
	SubjectID       string           `json:"subject_id" validate:"required"` // user the application is about
	Owner           string           `json:"owner"`
	State           ApplicationState `json:"state"`
	CurrentStageID  string           `json:"current_stage_id,omitempty"`
	CurrentLevelID  string           `json:"current_level_id,omitempty"`
	// Decisions holds the terminal verdict per approval level id. Entries
	// for a stage are cleared when the stage is re-entered through a back
	// transition.
	Decisions map[string]*ApprovalDecision `json:"decisions,omitempty"`
	Version   int64                        `json:"version"`
	CreatedAt time.Time                    `json:"created_at"`
	UpdatedAt time.Time                    `json:"updated_at"`
}

// ActionType classifies entries in the application's append-only log.
type ActionType string

const (
	ActionSubmitted     ActionType = "submitted"
	ActionStageEntered  ActionType = "stage_entered"
	ActionStageReturned ActionType = "stage_returned" // explicit back transition
	ActionLevelAdvanced ActionType = "level_advanced"
	ActionApproved      ActionType = "approved"
	ActionRejected      ActionType = "rejected"
	ActionCancelled     ActionType = "cancelled"
	ActionCompleted     ActionType = "completed"
)

// ApplicationAction is one entry in an application's transition log. The log
// is append-only; rows are never updated or deleted while the application
// exists.
type ApplicationAction struct {
	ID            string     `json:"id"`
	ApplicationID string     `json:"application_id"`
	Type          ActionType `json:"type"`
	FromStageID   string     `json:"from_stage_id,omitempty"`
	ToStageID     string     `json:"to_stage_id,omitempty"`
	LevelID       string     `json:"level_id,omitempty"`
	ActorID       string     `json:"actor_id,omitempty"`
	Decision      Decision   `json:"decision,omitempty"`
	Notes         string     `json:"notes,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
}

// DecisionFor returns the recorded decision for a level, or nil.
func (a *Application) DecisionFor(levelID string) *ApprovalDecision {
	if a.Decisions == nil {
		return nil
	}

	return a.Decisions[levelID]
}

// RecordDecision stores a terminal verdict for a level.
func (a *Application) RecordDecision(decision *ApprovalDecision) {
	if a.Decisions == nil {
		a.Decisions = make(map[string]*ApprovalDecision)
	}

	a.Decisions[decision.LevelID] = decision
}

// ClearStageDecisions drops recorded verdicts for every level of the given
// stage so a re-entered stage is decided afresh.
func (a *Application) ClearStageDecisions(stage *Stage) {
	for _, level := range stage.Levels {
		delete(a.Decisions, level.ID)
	}
}
