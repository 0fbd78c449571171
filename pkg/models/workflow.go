// Package models defines the core domain models for approval workflow routing.
package models

import "time"

// WorkflowStatus represents the lifecycle state of a workflow.
type WorkflowStatus string

const (
	WorkflowStatusDraft    WorkflowStatus = "draft"    // Editable, not accepting applications
	WorkflowStatusActive   WorkflowStatus = "active"   // Current version, accepting applications
	WorkflowStatusArchived WorkflowStatus = "archived" // Historical, existing applications only
)

// StageFeature enables optional behaviour on a stage.
type StageFeature string

const (
	StageFeatureApprovalLevels StageFeature = "approval_levels"
	StageFeatureFormViews      StageFeature = "formviews"
)

// Workflow is an ordered collection of stages that applications are routed
// through. Editing a workflow that applications reference bumps Version;
// applications stay pinned to the version they were created against.
type Workflow struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"        validate:"required,min=3"`
	Description string         `json:"description"`
	Status      WorkflowStatus `json:"status"      validate:"required"`
	Version     int            `json:"version"`
	Stages      []*Stage       `json:"stages"`
	Owner       string         `json:"owner"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
	ArchivedAt  *time.Time     `json:"archived_at,omitempty"`
}

// Stage is a named phase of a workflow, ordered by an explicit ordinal.
type Stage struct {
	ID       string         `json:"id"`
	Name     string         `json:"name"    validate:"required"`
	Ordinal  int            `json:"ordinal" validate:"required,min=1"`
	Features []StageFeature `json:"features,omitempty"`
	// AllowBack permits a transition from this stage to the immediately
	// preceding stage.
	AllowBack bool             `json:"allow_back,omitempty"`
	Levels    []*ApprovalLevel `json:"levels,omitempty"`
}

// ApprovalLevel is an ordered checkpoint within a stage requiring a decision
// from one of its configured approvers.
type ApprovalLevel struct {
	ID        string      `json:"id"`
	Name      string      `json:"name"    validate:"required"`
	Ordinal   int         `json:"ordinal" validate:"required,min=1"`
	Active    bool        `json:"active"`
	Approvers []*Approver `json:"approvers,omitempty"`
}

// ApproverType distinguishes how an approver entry resolves to users.
type ApproverType string

const (
	ApproverTypeUser              ApproverType = "user"
	ApproverTypeRelationship      ApproverType = "relationship"
	ApproverTypeRelationshipGroup ApproverType = "relationship_group"
)

// Approver grants decision rights on an approval level. User approvers name a
// user id directly; relationship approvers name a directory relationship
// (e.g. "manager") resolved against the application subject at decision time.
type Approver struct {
	Type       ApproverType `json:"type"       validate:"required,oneof=user relationship relationship_group"`
	Identifier string       `json:"identifier" validate:"required"`
}

// HasFeature reports whether the stage enables the given feature.
func (s *Stage) HasFeature(feature StageFeature) bool {
	for _, f := range s.Features {
		if f == feature {
			return true
		}
	}

	return false
}

// FirstActiveLevel returns the lowest-ordinal active approval level, or nil
// if the stage has none or does not carry the approval_levels feature.
func (s *Stage) FirstActiveLevel() *ApprovalLevel {
	if !s.HasFeature(StageFeatureApprovalLevels) {
		return nil
	}

	var first *ApprovalLevel

	for _, level := range s.Levels {
		if !level.Active {
			continue
		}

		if first == nil || level.Ordinal < first.Ordinal {
			first = level
		}
	}

	return first
}

// NextActiveLevel returns the active level with the lowest ordinal strictly
// greater than after, or nil if none remain.
func (s *Stage) NextActiveLevel(after *ApprovalLevel) *ApprovalLevel {
	var next *ApprovalLevel

	for _, level := range s.Levels {
		if !level.Active || level.Ordinal <= after.Ordinal {
			continue
		}

		if next == nil || level.Ordinal < next.Ordinal {
			next = level
		}
	}

	return next
}

// LevelByID finds an approval level within the stage.
func (s *Stage) LevelByID(id string) *ApprovalLevel {
	for _, level := range s.Levels {
		if level.ID == id {
			return level
		}
	}

	return nil
}

// StageByID finds a stage within the workflow.
func (w *Workflow) StageByID(id string) *Stage {
	for _, stage := range w.Stages {
		if stage.ID == id {
			return stage
		}
	}

	return nil
}

// FirstStage returns the lowest-ordinal stage, or nil for an empty workflow.
func (w *Workflow) FirstStage() *Stage {
	var first *Stage

	for _, stage := range w.Stages {
		if first == nil || stage.Ordinal < first.Ordinal {
			first = stage
		}
	}

	return first
}

// NextStage returns the stage with the lowest ordinal strictly greater than
// the given stage's, or nil if the given stage is the last one.
func (w *Workflow) NextStage(after *Stage) *Stage {
	var next *Stage

	for _, stage := range w.Stages {
		if stage.Ordinal <= after.Ordinal {
			continue
		}

		if next == nil || stage.Ordinal < next.Ordinal {
			next = stage
		}
	}

	return next
}

// PreviousStage returns the stage with the highest ordinal strictly lower
// than the given stage's, or nil if the given stage is the first one.
func (w *Workflow) PreviousStage(before *Stage) *Stage {
	var prev *Stage

	for _, stage := range w.Stages {
		if stage.Ordinal >= before.Ordinal {
			continue
		}

		if prev == nil || stage.Ordinal > prev.Ordinal {
			prev = stage
		}
	}

	return prev
}
