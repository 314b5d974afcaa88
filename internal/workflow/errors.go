package workflow

import (
	"errors"
	"fmt"
)

// Engine errors
var (
	ErrNotFound      = errors.New("workflow run not found")
	ErrAlreadyExists = errors.New("workflow id already submitted")
	ErrNotRegistered = errors.New("workflow type not registered")

	// errSuspend is the internal sentinel a run function propagates when it
	// reaches a step whose result is not yet in the history. It is not a
	// failure: the engine persists the pending commands and parks the run.
	errSuspend = errors.New("workflow suspended")

	// ErrCancelled is returned from suspension points once cancellation has
	// been requested; the engine records the run as cancelled.
	ErrCancelled = errors.New("workflow cancelled")
)

// IsControl reports whether err is engine control flow (suspension or
// cancellation) that run-function helpers must propagate unchanged instead
// of treating as a step outcome.
func IsControl(err error) bool {
	return errors.Is(err, errSuspend) || errors.Is(err, ErrCancelled)
}

// ActivityError is the terminal failure of one activity after its retry
// budget is exhausted. Run functions may treat it as a data-level failure
// (count it, continue) instead of letting it abort the whole run.
type ActivityError struct {
	Activity string
	Attempts int
	Message  string
}

func (e *ActivityError) Error() string {
	return fmt.Sprintf("activity %s failed after %d attempts: %s", e.Activity, e.Attempts, e.Message)
}
