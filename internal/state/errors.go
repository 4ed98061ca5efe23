package state

import "fmt"

var (
	// ErrSessionNotFound is returned when an operation names a session
	// that has no directory under the sessions root.
	ErrSessionNotFound = fmt.Errorf("state: session not found")
	// ErrAgentNotFound is returned when an agent id is not present in
	// any of pending/active/completed.
	ErrAgentNotFound = fmt.Errorf("state: agent not found")
	// ErrInvalidRole is returned when a role string fails validation.
	ErrInvalidRole = fmt.Errorf("state: invalid role")
	// ErrCounterExhausted is returned when agent id allocation could not
	// find a free counter within the retry bound.
	ErrCounterExhausted = fmt.Errorf("state: exhausted agent id counter retries")
	// ErrBackwardTransition is returned for a forbidden phase transition,
	// e.g. activating an already-completed agent.
	ErrBackwardTransition = fmt.Errorf("state: backward phase transition forbidden")
)
