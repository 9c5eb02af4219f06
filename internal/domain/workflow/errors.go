package workflow

import "errors"

var (
	// ErrInvalidTransition means the trigger is not defined for the current state
	ErrInvalidTransition = errors.New("invalid state transition")

	ErrInvalidState = errors.New("invalid state")
)
