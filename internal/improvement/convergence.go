package improvement

import (
	"fmt"
	"math"
)

// ConvergenceStrategy defines how to detect convergence
type ConvergenceStrategy interface {
	// CheckConvergence checks if optimization has converged based on history
	CheckConvergence(history []OptimizationStep) (bool, string)
	// Name returns the name of the convergence strategy
	Name() string
}

// ConvergenceConfig holds configuration for convergence detection
type ConvergenceConfig struct {
	// NoImprovementIterations is the number of iterations without improvement before stopping
	NoImprovementIterations int
	// ScoreTolerance is the smallest score change that counts as an improvement
	ScoreTolerance float64
	// MinIterations is the minimum history length before convergence can be detected
	MinIterations int
	// PlateauIterations is the window of similar scores that counts as a plateau
	PlateauIterations int
}

// DefaultConvergenceConfig returns a default convergence configuration
func DefaultConvergenceConfig() *ConvergenceConfig {
	return &ConvergenceConfig{
		NoImprovementIterations: 3,
		ScoreTolerance:          1e-6,
		MinIterations:           3,
		PlateauIterations:       4,
	}
}

// NoImprovementStrategy converges when the best score has not improved by
// more than the tolerance for N iterations.
type NoImprovementStrategy struct {
	config *ConvergenceConfig
}

func NewNoImprovementStrategy(config *ConvergenceConfig) *NoImprovementStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &NoImprovementStrategy{config: config}
}

func (s *NoImprovementStrategy) Name() string {
	return "no_improvement"
}

func (s *NoImprovementStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	if len(history) < s.config.MinIterations || len(history) == 0 {
		return false, ""
	}

	best := math.Inf(1)
	bestIteration := -1
	for i, step := range history {
		if step.Score < best-s.config.ScoreTolerance {
			best = step.Score
			bestIteration = i
		}
	}
	if bestIteration < 0 {
		return false, ""
	}

	since := len(history) - 1 - bestIteration
	if since >= s.config.NoImprovementIterations {
		return true, fmt.Sprintf("no improvement for %d iterations (best at iteration %d)", since, history[bestIteration].Iteration)
	}
	return false, ""
}

// PlateauStrategy converges when the last N scores lie within the tolerance
type PlateauStrategy struct {
	config *ConvergenceConfig
}

func NewPlateauStrategy(config *ConvergenceConfig) *PlateauStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &PlateauStrategy{config: config}
}

func (s *PlateauStrategy) Name() string {
	return "plateau"
}

func (s *PlateauStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	window := s.config.PlateauIterations
	if window <= 1 || len(history) < s.config.MinIterations || len(history) < window {
		return false, ""
	}

	recent := history[len(history)-window:]
	lo, hi := recent[0].Score, recent[0].Score
	for _, step := range recent[1:] {
		lo = math.Min(lo, step.Score)
		hi = math.Max(hi, step.Score)
	}
	if math.IsInf(lo, 0) || math.IsInf(hi, 0) {
		return false, ""
	}
	if spread := hi - lo; spread <= s.config.ScoreTolerance {
		return true, fmt.Sprintf("score plateaued for %d iterations (range: %.6g)", window, spread)
	}
	return false, ""
}

// CombinedStrategy converges as soon as any of its strategies does
type CombinedStrategy struct {
	strategies []ConvergenceStrategy
}

// NewCombinedStrategy combines the no-improvement and plateau strategies
func NewCombinedStrategy(config *ConvergenceConfig) *CombinedStrategy {
	if config == nil {
		config = DefaultConvergenceConfig()
	}
	return &CombinedStrategy{
		strategies: []ConvergenceStrategy{
			NewNoImprovementStrategy(config),
			NewPlateauStrategy(config),
		},
	}
}

func (s *CombinedStrategy) Name() string {
	return "combined"
}

func (s *CombinedStrategy) CheckConvergence(history []OptimizationStep) (bool, string) {
	for _, strategy := range s.strategies {
		if converged, reason := strategy.CheckConvergence(history); converged {
			return true, fmt.Sprintf("%s: %s", strategy.Name(), reason)
		}
	}
	return false, ""
}

// AddStrategy adds a custom strategy to the combined strategy
func (s *CombinedStrategy) AddStrategy(strategy ConvergenceStrategy) {
	s.strategies = append(s.strategies, strategy)
}
