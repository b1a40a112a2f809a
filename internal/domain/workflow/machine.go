package workflow

import "context"

// Transition records one state change
type Transition struct {
	From    State
	Trigger Trigger
	To      State
}

// StateMachine tracks the current state of one workflow execution and
// validates transitions. A machine is owned by a single execution and is not
// safe for concurrent use.
type StateMachine interface {
	// State returns the current state
	State() State

	// CanFire returns true if the trigger is permitted in the current state
	CanFire(trigger Trigger) bool

	// Fire attempts to execute the trigger, transitioning to the new state if allowed
	Fire(ctx context.Context, trigger Trigger) error

	// PermittedTriggers returns all triggers that can be fired in the current state
	PermittedTriggers() []Trigger

	// History returns the transitions taken so far, oldest first
	History() []Transition
}
