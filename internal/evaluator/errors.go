package evaluator

import (
	"errors"
	"fmt"
)

var (
	// ErrBatchExecution is matched by every BatchExecutionError
	ErrBatchExecution    = errors.New("batch execution failed")
	ErrEnsembleFailed    = errors.New("ensemble failed")
	ErrEnsembleCancelled = errors.New("ensemble cancelled")
)

// BatchExecutionError wraps a failure of the execution or storage service.
// It is fatal to the run.
type BatchExecutionError struct {
	BatchID int
	Op      string
	Err     error
}

func (e *BatchExecutionError) Error() string {
	return fmt.Sprintf("batch %d: %s: %v", e.BatchID, e.Op, e.Err)
}

func (e *BatchExecutionError) Unwrap() error {
	return e.Err
}

// Is makes errors.Is(err, ErrBatchExecution) hold
func (e *BatchExecutionError) Is(target error) bool {
	return target == ErrBatchExecution
}
