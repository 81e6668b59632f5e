package policy

import (
	"time"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/config"
)

// Policy represents a generic policy interface
type Policy interface {
	// Enabled returns whether the policy is enabled
	Enabled() bool
	// Name returns the policy name for identification
	Name() string
}

// RetryPolicy handles retry logic for failed status callback deliveries
type RetryPolicy interface {
	Policy
	// ShouldRetry determines if a request should be retried
	ShouldRetry(attempt int, err error) bool
	// GetBackoffDuration calculates the backoff duration for a retry attempt
	GetBackoffDuration(attempt int) time.Duration
	// GetMaxRetries returns the maximum number of retries allowed
	GetMaxRetries() int
}

// Aborter is the part of the optimizer the exit policy can stop
type Aborter interface {
	AbortOptimization()
}

// OptimizationCallback is polled before every batch. Returning
// StopOptimization requests a user abort.
type OptimizationCallback func() string

// StopOptimization is the callback result that requests a user abort
const StopOptimization = "stop_optimization"

// Manager manages all active policies
type Manager struct {
	exit  *ExitPolicy
	retry RetryPolicy
}

// NewPolicyManager creates a new policy manager from configuration
func NewPolicyManager(cfg *config.Config, callback OptimizationCallback) *Manager {
	pm := &Manager{}
	if cfg == nil {
		pm.exit = NewExitPolicy(0, false, callback)
		return pm
	}

	maxBatchNum, hasMax := cfg.MaxBatchNum()
	pm.exit = NewExitPolicy(maxBatchNum, hasMax, callback)
	if cfg.StatusCallback != nil {
		pm.retry = NewRetryPolicyFromConfig(cfg.StatusCallback)
	}
	return pm
}

// GetExit returns the exit policy
func (pm *Manager) GetExit() *ExitPolicy {
	return pm.exit
}

// GetRetry returns the retry policy if a status callback is configured
func (pm *Manager) GetRetry() RetryPolicy {
	return pm.retry
}
