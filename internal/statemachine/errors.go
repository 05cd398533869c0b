package statemachine

import "errors"

var (
	// ErrAlreadyInState is returned for a transition to the current status.
	// Nothing is written and no event is emitted.
	ErrAlreadyInState = errors.New("already in this state")

	// ErrInvalidTransition is returned when the target status is not reachable
	ErrInvalidTransition = errors.New("invalid transition")

	// ErrUnknownStatus is returned for statuses outside the entity's enum
	ErrUnknownStatus = errors.New("unknown status")
)
