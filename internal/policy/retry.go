package policy

import (
	"time"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/config"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/utils"
)

// retryPolicy implements RetryPolicy
type retryPolicy struct {
	enabled    bool
	maxRetries int
	backoff    string // exponential, linear, constant
	strategy   utils.BackoffStrategy
}

// NewRetryPolicyFromConfig creates a retry policy for status callback delivery
func NewRetryPolicyFromConfig(cfg *config.StatusCallback) RetryPolicy {
	return NewRetryPolicy(cfg.URL != "", cfg.MaxRetries, cfg.Backoff, cfg.BaseMs)
}

// NewRetryPolicy creates a retry policy with explicit parameters
func NewRetryPolicy(enabled bool, maxRetries int, backoff string, baseMs int) RetryPolicy {
	base := time.Duration(baseMs) * time.Millisecond
	var strategy utils.BackoffStrategy
	switch backoff {
	case "linear":
		strategy = &utils.LinearBackoff{Step: base}
	case "constant":
		strategy = &utils.ConstantBackoff{Delay: base}
	default:
		strategy = utils.NewExponentialBackoff(base, 0, 2)
	}
	return &retryPolicy{
		enabled:    enabled,
		maxRetries: maxRetries,
		backoff:    backoff,
		strategy:   strategy,
	}
}

func (p *retryPolicy) Enabled() bool {
	return p.enabled
}

func (p *retryPolicy) Name() string {
	return "retry"
}

func (p *retryPolicy) ShouldRetry(attempt int, err error) bool {
	if !p.enabled {
		return false
	}
	if attempt >= p.maxRetries {
		return false
	}
	return err != nil
}

// GetBackoffDuration returns the delay before the given 1-based retry
func (p *retryPolicy) GetBackoffDuration(attempt int) time.Duration {
	if !p.enabled || attempt <= 0 {
		return 0
	}
	return p.strategy.NextDelay(attempt - 1)
}

func (p *retryPolicy) GetMaxRetries() int {
	return p.maxRetries
}
