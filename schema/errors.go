package schema

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidRequest indicates a malformed request payload.
	ErrInvalidRequest = errors.New("invalid request")
	// ErrInvalidTab indicates an unknown tab identifier.
	ErrInvalidTab = errors.New("invalid tab")
	// ErrInvalidDestination indicates a destination without a kind.
	ErrInvalidDestination = errors.New("invalid destination")
	// ErrInvalidTransition indicates a capture action the current state does not permit.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrUnbalancedLock indicates an orientation lock released out of order or twice.
	ErrUnbalancedLock = errors.New("unbalanced orientation lock")
	// ErrInvalidImage indicates an empty or malformed photo.
	ErrInvalidImage = errors.New("invalid image")
	// ErrInvalidSubject indicates identification metadata missing required fields.
	ErrInvalidSubject = errors.New("invalid subject")
	// ErrSessionNotFound indicates a requested capture session could not be found.
	ErrSessionNotFound = errors.New("capture session not found")
	// ErrCardNotFound indicates a requested card could not be found.
	ErrCardNotFound = errors.New("card not found")
	// ErrTooManySessions indicates the live capture session limit was reached.
	ErrTooManySessions = errors.New("too many capture sessions")
	// ErrIdentifierUnavailable indicates no identification backend is configured.
	ErrIdentifierUnavailable = errors.New("identifier not configured")
	// ErrServiceClosed indicates the service no longer accepts work.
	ErrServiceClosed = errors.New("service closed")
)

// TransitionError reports a capture action attempted from a state that forbids it.
type TransitionError struct {
	State  CaptureState
	Action CaptureAction
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("invalid transition: %s from %s: %s", e.Action, e.State, e.Reason)
	}
	return fmt.Sprintf("invalid transition: %s from %s", e.Action, e.State)
}

// Is lets errors.Is match ErrInvalidTransition.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
