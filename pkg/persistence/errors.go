// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrWorkflowNotFound indicates a workflow was not found by the given identifier.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrApplicationNotFound indicates an application was not found by the given identifier.
	ErrApplicationNotFound = errors.New("application not found")

	// ErrRuleNotFound indicates a notification rule was not found by the given identifier.
	ErrRuleNotFound = errors.New("notification rule not found")

	// ErrScheduleNotFound indicates no schedule exists for the given task.
	ErrScheduleNotFound = errors.New("schedule not found")

	// ErrRoleMapNotFound indicates no snapshot exists for the given role and map type.
	ErrRoleMapNotFound = errors.New("role map not found")

	// ErrConcurrentModification indicates a save with a stale optimistic version.
	ErrConcurrentModification = errors.New("concurrent modification")
)

// ApplicationError wraps application-related errors with additional context.
type ApplicationError struct {
	Op            string // Operation being performed (e.g., "GetByID", "Save")
	ApplicationID string
	Err           error
}

func (e *ApplicationError) Error() string {
	return fmt.Sprintf("%s operation failed for application %s: %v", e.Op, e.ApplicationID, e.Err)
}

func (e *ApplicationError) Unwrap() error {
	return e.Err
}

func (e *ApplicationError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewApplicationError creates a new application error with context.
func NewApplicationError(op, applicationID string, err error) *ApplicationError {
	return &ApplicationError{
		Op:            op,
		ApplicationID: applicationID,
		Err:           err,
	}
}

// WorkflowError wraps workflow-related errors with additional context.
type WorkflowError struct {
	Op         string
	WorkflowID string
	Err        error
}

func (e *WorkflowError) Error() string {
	return fmt.Sprintf("%s operation failed for workflow %s: %v", e.Op, e.WorkflowID, e.Err)
}

func (e *WorkflowError) Unwrap() error {
	return e.Err
}

func (e *WorkflowError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewWorkflowError creates a new workflow error with context.
func NewWorkflowError(op, workflowID string, err error) *WorkflowError {
	return &WorkflowError{
		Op:         op,
		WorkflowID: workflowID,
		Err:        err,
	}
}

// IsWorkflowNotFound checks if an error indicates a workflow was not found.
func IsWorkflowNotFound(err error) bool {
	return errors.Is(err, ErrWorkflowNotFound)
}

// IsApplicationNotFound checks if an error indicates an application was not found.
func IsApplicationNotFound(err error) bool {
	return errors.Is(err, ErrApplicationNotFound)
}

// IsConcurrentModification checks if an error indicates a stale-version save.
func IsConcurrentModification(err error) bool {
	return errors.Is(err, ErrConcurrentModification)
}

// IsRuleNotFound checks if an error indicates a notification rule was not found.
func IsRuleNotFound(err error) bool {
	return errors.Is(err, ErrRuleNotFound)
}

// IsScheduleNotFound checks if an error indicates no schedule exists for a task.
func IsScheduleNotFound(err error) bool {
	return errors.Is(err, ErrScheduleNotFound)
}

// IsRoleMapNotFound checks if an error indicates no role map snapshot exists.
func IsRoleMapNotFound(err error) bool {
	return errors.Is(err, ErrRoleMapNotFound)
}
