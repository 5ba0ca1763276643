package run

import (
	"errors"
	"fmt"
)

// ErrUnknownAgent means the trigger named an agent that does not exist.
// No run is persisted in this case.
var ErrUnknownAgent = errors.New("unknown agent")

// ErrRunStopped means the cooperative stop flag was observed at a
// checkpoint. The run terminates with status cancelled.
var ErrRunStopped = errors.New("run stopped")

// ErrMaxSteps means the step budget ran out before the loop reached a
// natural terminal. The run terminates with status cancelled.
var ErrMaxSteps = errors.New("max step budget exhausted")

// RunError wraps a loop failure with where it happened. Loop failures
// are never retried; the run terminates with status failed.
type RunError struct {
	Phase string
	Step  int
	Cause error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("%s failed at step %d: %v", e.Phase, e.Step, e.Cause)
}

func (e *RunError) Unwrap() error {
	return e.Cause
}
