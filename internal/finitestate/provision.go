package finitestate

import (
	"log/slog"

	"github.com/robbyt/go-fsm"
)

// Environment provisioning states, in the order a fresh environment passes
// through them.
const (
	StateUninitialized         = "UNINITIALIZED"
	StateVenvCreated           = "VENV_CREATED"
	StateDependenciesInstalled = "DEPENDENCIES_INSTALLED"
	StateAssetReady            = "ASSET_READY"
	StateReady                 = "READY"
)

// ProvisionStates lists the provisioning states in lifecycle order.
var ProvisionStates = []string{
	StateUninitialized,
	StateVenvCreated,
	StateDependenciesInstalled,
	StateAssetReady,
	StateReady,
}

// ProvisionTransitions only moves forward one stage at a time, except for
// the jump straight to READY when a recorded environment is reused and the
// reset back to UNINITIALIZED when its marker files are gone.
var ProvisionTransitions = map[string][]string{
	StateUninitialized:         {StateVenvCreated, StateReady},
	StateVenvCreated:           {StateDependenciesInstalled, StateUninitialized},
	StateDependenciesInstalled: {StateAssetReady, StateUninitialized},
	StateAssetReady:            {StateReady, StateUninitialized},
	StateReady:                 {StateUninitialized},
}

// NewProvisionMachine creates a provisioning machine in StateUninitialized.
func NewProvisionMachine(handler slog.Handler) (Machine, error) {
	return fsm.New(handler, StateUninitialized, ProvisionTransitions)
}

// StageIndex returns the position of state in ProvisionStates, or -1.
func StageIndex(state string) int {
	for i, s := range ProvisionStates {
		if s == state {
			return i
		}
	}
	return -1
}

// Reached reports whether current is at or past target in the lifecycle.
func Reached(current, target string) bool {
	ci, ti := StageIndex(current), StageIndex(target)
	return ci >= 0 && ti >= 0 && ci >= ti
}
