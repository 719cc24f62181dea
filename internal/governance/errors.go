package governance

import "github.com/rotisserie/eris"

var (
	// ErrNotSatisfied is returned when Apply is called with an unsatisfied resolution.
	ErrNotSatisfied = eris.New("rule not satisfied")
	// ErrConfigWriteFailure wraps a failed or timed out ConfigStore write.
	ErrConfigWriteFailure = eris.New("config write failed")
	// ErrNotFound is returned for an unknown adjustment log.
	ErrNotFound = eris.New("adjustment log not found")
	// ErrAlreadyReverted is returned when a log has already been reverted.
	ErrAlreadyReverted = eris.New("already reverted")
	// ErrPassInProgress is returned when a pass is already running.
	ErrPassInProgress = eris.New("policy pass already in progress")
)
