// Package finitestate wraps go-fsm with the state sets envbridge uses: the
// environment provisioning lifecycle and the standard runnable lifecycle.
package finitestate

import (
	"context"
	"log/slog"

	"github.com/robbyt/go-fsm"
)

const (
	StatusNew      = fsm.StatusNew
	StatusBooting  = fsm.StatusBooting
	StatusRunning  = fsm.StatusRunning
	StatusStopping = fsm.StatusStopping
	StatusStopped  = fsm.StatusStopped
	StatusError    = fsm.StatusError
	StatusUnknown  = fsm.StatusUnknown
)

// TypicalTransitions is the runnable lifecycle used by long-lived components.
var TypicalTransitions = fsm.TypicalTransitions

// Machine is the subset of the go-fsm machine envbridge relies on.
type Machine interface {
	// Transition moves to state, failing if the transition is not allowed.
	Transition(state string) error

	// TransitionBool is Transition reporting success as a bool.
	TransitionBool(state string) bool

	// TransitionIfCurrentState transitions only when currently in currentState.
	TransitionIfCurrentState(currentState, newState string) error

	// SetState forces the state without checking the transition table.
	SetState(state string) error

	// GetState returns the current state.
	GetState() string

	// GetStateChan emits the state on every change until ctx is canceled.
	GetStateChan(ctx context.Context) <-chan string
}

// New creates a machine with the runnable lifecycle, starting in StatusNew.
func New(handler slog.Handler) (Machine, error) {
	return fsm.New(handler, StatusNew, TypicalTransitions)
}
