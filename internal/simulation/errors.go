package simulation

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfig    = errors.New("invalid simulation config")
	ErrInvalidPipeData  = errors.New("invalid pipe data")
	ErrSimulationActive = errors.New("a simulation is already running")
)

// InvalidConfigError rejects a Start call. The simulation does not begin.
type InvalidConfigError struct {
	Reason string
}

func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid simulation config: %s", e.Reason)
}

func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// InvalidPipeDataError is recorded when a pipe has non-finite geometry at
// tick time. The pipe keeps its previous stress for that tick.
type InvalidPipeDataError struct {
	PipeID string
	Step   int
}

func (e *InvalidPipeDataError) Error() string {
	return fmt.Sprintf("pipe %s has non-numeric geometry at step %d", e.PipeID, e.Step)
}

func (e *InvalidPipeDataError) Unwrap() error { return ErrInvalidPipeData }
