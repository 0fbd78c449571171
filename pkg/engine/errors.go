// Package engine drives applications through their workflow's stages and
// approval levels, recording every transition and emitting domain events.
package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition indicates the requested move is not legal from
	// the application's current state.
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrUnauthorizedApprover indicates the actor is not in the approval
	// level's configured approver set.
	ErrUnauthorizedApprover = errors.New("unauthorized approver")

	// ErrAlreadyDecided indicates the approval level already holds a
	// terminal decision.
	ErrAlreadyDecided = errors.New("approval level already decided")
)

// TransitionError wraps state-machine errors with the operation and
// application they occurred on.
type TransitionError struct {
	Op            string
	ApplicationID string
	Err           error
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("%s failed for application %s: %v", e.Op, e.ApplicationID, e.Err)
}

func (e *TransitionError) Unwrap() error {
	return e.Err
}

func (e *TransitionError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func newTransitionError(op, applicationID string, err error) *TransitionError {
	return &TransitionError{
		Op:            op,
		ApplicationID: applicationID,
		Err:           err,
	}
}

// IsInvalidTransition checks if an error indicates an illegal state move.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrInvalidTransition)
}

// IsUnauthorizedApprover checks if an error indicates a non-member approver.
func IsUnauthorizedApprover(err error) bool {
	return errors.Is(err, ErrUnauthorizedApprover)
}

// IsAlreadyDecided checks if an error indicates a duplicate decision.
func IsAlreadyDecided(err error) bool {
	return errors.Is(err, ErrAlreadyDecided)
}
