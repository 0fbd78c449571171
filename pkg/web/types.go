// Package web provides HTTP request and response types for the approval API.
package web

import "github.com/approvio/approvio/pkg/models"

// CreateWorkflowRequest represents the request body for creating a workflow.
type CreateWorkflowRequest struct {
	Name        string          `json:"name"        validate:"required,min=3"`
	Description string          `json:"description"`
	Stages      []*models.Stage `json:"stages"      validate:"required,min=1"`
	Owner       string          `json:"owner"       validate:"required"`
}

// UpdateWorkflowRequest represents the request body for updating a workflow.
// A non-nil field replaces the stored value; editing stages bumps the
// workflow version.
type UpdateWorkflowRequest struct {
	Name        *string               `json:"name,omitempty"        validate:"omitempty,min=3"`
	Description *string               `json:"description,omitempty"`
	Status      *models.WorkflowStatus `json:"status,omitempty"`
	Stages      []*models.Stage       `json:"stages,omitempty"`
}

// CreateApplicationRequest represents the request body for creating an
// application in a workflow.
type CreateApplicationRequest struct {
	Title     string `json:"title"      validate:"required,min=3"`
	SubjectID string `json:"subject_id" validate:"required"`
	Owner     string `json:"owner"`
}

// DecisionRequest represents an approver's verdict on the application's
// current approval level.
type DecisionRequest struct {
	LevelID    string `json:"level_id"    validate:"required"`
	ApproverID string `json:"approver_id" validate:"required"`
	Decision   string `json:"decision"    validate:"required,oneof=approved rejected"`
	Notes      string `json:"notes"`
}

// SubmitRequest represents the request body for submitting a draft
// application into its first stage.
type SubmitRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
}

// EnterStageRequest represents an explicit stage transition request.
type EnterStageRequest struct {
	StageID string `json:"stage_id" validate:"required"`
	ActorID string `json:"actor_id" validate:"required"`
}

// CancelRequest represents the request body for cancelling an application.
type CancelRequest struct {
	ActorID string `json:"actor_id" validate:"required"`
	Reason  string `json:"reason"`
}

// CreateNotificationRuleRequest represents the request body for creating a
// notification rule.
type CreateNotificationRuleRequest struct {
	Name      string                      `json:"name"       validate:"required,min=3"`
	EventType string                      `json:"event_type" validate:"required"`
	Recipient string                      `json:"recipient"  validate:"required"`
	Subject   string                      `json:"subject"    validate:"required"`
	Body      string                      `json:"body"       validate:"required"`
	Schedule  models.NotificationSchedule `json:"schedule"`
	Channels  []string                    `json:"channels"   validate:"required,min=1"`
	Enabled   bool                        `json:"enabled"`
}
