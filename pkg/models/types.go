package models

import (
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// StepStatus is the state of one forward-model step, and by aggregation of a
// simulation or a whole batch ensemble.
type StepStatus string

const (
	StepStatusUnknown  StepStatus = "Unknown"
	StepStatusPending  StepStatus = "Pending"
	StepStatusRunning  StepStatus = "Running"
	StepStatusFinished StepStatus = "Finished"
	StepStatusFailed   StepStatus = "Failed"
)

// IsTerminal reports whether no further transition is expected
func (s StepStatus) IsTerminal() bool {
	return s == StepStatusFinished || s == StepStatusFailed
}

// Valid reports whether s is one of the known states
func (s StepStatus) Valid() bool {
	switch s {
	case StepStatusUnknown, StepStatusPending, StepStatusRunning, StepStatusFinished, StepStatusFailed:
		return true
	}
	return false
}

// AggregateStatus folds a set of states into the worst case:
// any failure wins, then any activity, and only an all-finished set is finished.
func AggregateStatus(statuses []StepStatus) StepStatus {
	if len(statuses) == 0 {
		return StepStatusUnknown
	}
	var finished, running, pending int
	for _, s := range statuses {
		switch s {
		case StepStatusFailed:
			return StepStatusFailed
		case StepStatusFinished:
			finished++
		case StepStatusRunning:
			running++
		case StepStatusPending:
			pending++
		}
	}
	switch {
	case finished == len(statuses):
		return StepStatusFinished
	case running > 0 || finished > 0:
		return StepStatusRunning
	case pending > 0:
		return StepStatusPending
	default:
		return StepStatusUnknown
	}
}

// EventType distinguishes step-level from ensemble-level status events
type EventType string

const (
	EventForwardModelStep  EventType = "forward_model_step"
	EventEnsembleSucceeded EventType = "ensemble_succeeded"
	EventEnsembleFailed    EventType = "ensemble_failed"
	EventEnsembleCancelled EventType = "ensemble_cancelled"
)

// StatusEvent is one status transition reported by the execution service.
// Simulation is the index of the run inside the batch ensemble, Realization
// the model realization it was assigned.
type StatusEvent struct {
	Type        EventType  `json:"type"`
	Ensemble    string     `json:"ensemble"`
	Simulation  int        `json:"simulation"`
	Realization int        `json:"realization"`
	Step        int        `json:"step"`
	StepName    string     `json:"step_name,omitempty"`
	Status      StepStatus `json:"status,omitempty"`
	Error       string     `json:"error,omitempty"`
	StderrPath  string     `json:"stderr_path,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
}

// JobProgress is the read-only view of one forward-model step
type JobProgress struct {
	Name        string     `json:"name"`
	Status      StepStatus `json:"status"`
	Error       string     `json:"error,omitempty"`
	StartTime   *time.Time `json:"start_time,omitempty"`
	EndTime     *time.Time `json:"end_time,omitempty"`
	Realization int        `json:"realization"`
	Simulation  int        `json:"simulation"`
	Step        int        `json:"step"`
}

// SimulationStatus is the snapshot handed to status callbacks
type SimulationStatus struct {
	// Status counts simulations per aggregated state
	Status         map[StepStatus]int `json:"status"`
	EnsembleStatus StepStatus         `json:"ensemble_status"`
	Progress       [][]JobProgress    `json:"progress"`
	BatchNumber    int                `json:"batch_number"`
}

// RunRequest asks the execution service for one simulation
type RunRequest struct {
	Simulation  int
	Realization int
	RunPath     string
	// Parameters holds one dataset per control name
	Parameters map[string]*structpb.Struct
}

// ExitCode classifies how an optimization run ended
type ExitCode int

const (
	ExitCompleted           ExitCode = 1
	ExitTooFewRealizations  ExitCode = 2
	ExitMaxFunctionsReached ExitCode = 3
	ExitMaxBatchNumReached  ExitCode = 4
	ExitUserAbort           ExitCode = 5
	ExitException           ExitCode = 6
)

func (c ExitCode) String() string {
	switch c {
	case ExitCompleted:
		return "completed"
	case ExitTooFewRealizations:
		return "too_few_realizations"
	case ExitMaxFunctionsReached:
		return "max_functions_reached"
	case ExitMaxBatchNumReached:
		return "max_batch_num_reached"
	case ExitUserAbort:
		return "user_abort"
	case ExitException:
		return "exception"
	default:
		return "unknown"
	}
}

// OptimizerExitCode is the optimizer's own terminal classification
type OptimizerExitCode string

const (
	OptimizerSuccess              OptimizerExitCode = "success"
	OptimizerConverged            OptimizerExitCode = "converged"
	OptimizerMaxIterationsReached OptimizerExitCode = "max_iterations_reached"
	OptimizerMaxFunctionsReached  OptimizerExitCode = "max_functions_reached"
	OptimizerUserAbort            OptimizerExitCode = "user_abort"
	OptimizerTooFewRealizations   OptimizerExitCode = "too_few_realizations"
)
