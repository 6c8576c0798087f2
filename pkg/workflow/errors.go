package workflow

import (
	"errors"
	"fmt"

	"github.com/echelonflow/echelon/pkg/models"
)

// Standard engine error types.
var (
	// ErrInvalidStateTransition indicates an operation that requires a Running
	// instance was applied to a terminal or unknown one.
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrUnknownTaskType indicates a task whose type has no dispatch entry.
	// Every retry attempt fails identically since dispatch is deterministic.
	ErrUnknownTaskType = errors.New("unknown task type")
)

// TaskExecutionError wraps a capability-provider failure once a task's retry
// budget is exhausted.
type TaskExecutionError struct {
	TaskID   string
	Type     models.TaskType
	Attempts int
	Err      error
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("task %s (%s) failed after %d attempts: %v", e.TaskID, e.Type, e.Attempts, e.Err)
}

func (e *TaskExecutionError) Unwrap() error {
	return e.Err
}

// IsInvalidStateTransition checks if an error indicates a disallowed status change.
func IsInvalidStateTransition(err error) bool {
	return errors.Is(err, ErrInvalidStateTransition)
}

// IsUnknownTaskType checks if an error indicates an unrecognized task type.
func IsUnknownTaskType(err error) bool {
	return errors.Is(err, ErrUnknownTaskType)
}
