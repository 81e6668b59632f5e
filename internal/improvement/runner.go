package improvement

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/batch"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/evaluator"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/metrics"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/policy"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/snapshot"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/config"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/logger"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/utils"
)

// ExperimentResult contains the results of an optimization experiment
type ExperimentResult struct {
	Name string `json:"name"`
	// BestControls maps flattened control names to the best values found
	BestControls map[string]float64 `json:"best_controls"`
	// BestObjective is the best total objective (higher is better); nil
	// when no candidate could be evaluated
	BestObjective *float64                 `json:"best_objective,omitempty"`
	ExitCode      models.ExitCode          `json:"exit_code"`
	ExitReason    string                   `json:"exit_reason"`
	OptimizerExit models.OptimizerExitCode `json:"optimizer_exit,omitempty"`
	Batches       int                      `json:"batches"`
	Iterations    int                      `json:"iterations"`
	Evaluations   int                      `json:"evaluations"`
	Errors        []snapshot.ErrorEntry    `json:"errors"`
	Metrics       *metrics.Summary         `json:"metrics"`
	Duration      time.Duration            `json:"duration"`
}

// Runner wires the configuration, the optimizer, the evaluator and the exit
// policy into one experiment.
type Runner struct {
	name      string
	cfg       *config.Config
	evaluator *evaluator.Evaluator
	exit      *policy.ExitPolicy
	collector *metrics.Collector
	explorer  ParameterExplorer
	objective ObjectiveFunction
}

// NewRunner creates a runner whose batches go to exec and storage
func NewRunner(cfg *config.Config, exec evaluator.ExecutionService, storage evaluator.Storage) *Runner {
	r := &Runner{
		name:      utils.ExperimentName(time.Now()),
		cfg:       cfg,
		evaluator: evaluator.NewEvaluator(cfg, exec, storage),
		collector: metrics.NewCollector(),
		objective: NewWeightedObjective(cfg),
	}
	r.evaluator.SetCollector(r.collector)
	return r.WithOptimizationCallback(nil)
}

// WithOptimizationCallback sets the callback polled before every batch
func (r *Runner) WithOptimizationCallback(cb policy.OptimizationCallback) *Runner {
	r.exit = policy.NewPolicyManager(r.cfg, cb).GetExit()
	r.evaluator.SetExitPolicy(r.exit)
	return r
}

// WithStatusCallback forwards batch status changes to cb
func (r *Runner) WithStatusCallback(cb evaluator.StatusCallback) *Runner {
	r.evaluator.SetStatusCallback(cb)
	return r
}

// WithExplorer replaces the bounded explorer derived from the controls
func (r *Runner) WithExplorer(explorer ParameterExplorer) *Runner {
	r.explorer = explorer
	return r
}

// Name returns the experiment name
func (r *Runner) Name() string {
	return r.name
}

// Evaluator exposes the batch evaluator, e.g. as an HTTP status source
func (r *Runner) Evaluator() *evaluator.Evaluator {
	return r.evaluator
}

// Run executes a full optimization experiment. When a batch fails the
// partial result is returned with ExitException together with the error.
func (r *Runner) Run(ctx context.Context) (*ExperimentResult, error) {
	start := time.Now()
	name := r.name
	flat := batch.Flatten(r.cfg.Controls)

	explorer := r.explorer
	if explorer == nil {
		explorer = NewBoundedExplorer(flat.LowerBounds, flat.UpperBounds)
	}

	opt := r.newOptimizer(explorer)
	opt.AddObserver(EventStartEvaluation, func(EventData) {
		r.evaluator.BeforeEvaluation(opt)
	})
	opt.AddObserver(EventFinishedEvaluation, func(d EventData) {
		for _, s := range d.Scores {
			if !math.IsInf(s, 0) {
				metrics.RecordScore(r.collector, d.Iteration, s, s <= d.BestScore)
			}
		}
	})

	logger.Info("experiment started",
		"experiment", name,
		"controls", flat.Len(),
		"realizations", len(r.cfg.Model.Realizations))

	r.collector.Start()
	optResult, err := opt.Optimize(ctx, flat.InitialGuesses, r.evaluator)
	r.collector.Stop()

	result := &ExperimentResult{
		Name:       name,
		Batches:    r.evaluator.BatchID(),
		Iterations: opt.GetIteration(),
		Errors:     r.evaluator.ErrorLedger().Entries(),
		Metrics:    r.collector.Summary(),
		Duration:   time.Since(start),
	}
	best := opt.GetBestConfig()
	bestScore := opt.GetBestScore()

	if err != nil {
		r.exit.Record(models.ExitException)
		result.ExitCode = r.exit.ExitCode()
		result.ExitReason = err.Error()
		result.BestControls = flat.Named(best)
		result.BestObjective = objectiveValue(bestScore)
		logger.Error("experiment failed", "experiment", name, "error", err)
		return result, fmt.Errorf("experiment %s: %w", name, err)
	}

	result.ExitCode = r.exit.Resolve(optResult.ExitCode)
	result.ExitReason = optResult.Reason
	result.OptimizerExit = optResult.ExitCode
	result.Evaluations = optResult.Evaluations
	result.Iterations = optResult.Iterations
	result.BestControls = flat.Named(optResult.BestControls)
	result.BestObjective = objectiveValue(optResult.BestScore)

	logger.Info("experiment finished",
		"experiment", name,
		"exit_code", result.ExitCode.String(),
		"reason", result.ExitReason,
		"batches", result.Batches,
		"errors", len(result.Errors),
		"duration", result.Duration)
	return result, nil
}

func (r *Runner) newOptimizer(explorer ParameterExplorer) *Optimizer {
	opts := r.cfg.Optimization
	if opts == nil {
		opts = &config.Optimization{}
	}
	conv := DefaultConvergenceConfig()
	if opts.ConvergenceTolerance > 0 {
		conv.ScoreTolerance = opts.ConvergenceTolerance
	}
	return NewOptimizer(r.objective, explorer, len(r.cfg.Model.Realizations), opts.MaxIterations, opts.StepSize).
		WithConvergence(NewCombinedStrategy(conv)).
		WithMaxEvaluations(opts.MaxFunctionEvaluations)
}

// objectiveValue converts a minimized score back into the total objective
func objectiveValue(score float64) *float64 {
	if math.IsInf(score, 0) || math.IsNaN(score) {
		return nil
	}
	v := -score
	return &v
}
