package improvement

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/evaluator"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/logger"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/utils"
)

// BatchEvaluator evaluates a control matrix, one row per (candidate, realization)
type BatchEvaluator interface {
	Evaluate(ctx context.Context, controls [][]float64, ectx evaluator.EvaluatorContext) (*evaluator.EvaluatorResult, error)
}

// Event is an optimizer lifecycle event
type Event string

const (
	EventStartEvaluation    Event = "start_evaluation"
	EventFinishedEvaluation Event = "finished_evaluation"
)

// EventData is handed to observers. Scores and BatchID are only set for
// finished evaluations.
type EventData struct {
	Iteration  int
	Candidates int
	BatchID    int
	Scores     []float64
	BestScore  float64
}

// Observer is called synchronously for every event it subscribed to
type Observer func(EventData)

// OptimizationStep represents a single optimization step
type OptimizationStep struct {
	Iteration int
	Score     float64
	Controls  []float64
	StepSize  float64
}

// OptimizationResult contains the final optimization result
type OptimizationResult struct {
	BestControls []float64
	BestScore    float64
	Iterations   int
	Evaluations  int
	History      []OptimizationStep
	ExitCode     models.OptimizerExitCode
	Reason       string
}

// errStop ends the search with the carried exit code
type errStop struct {
	code   models.OptimizerExitCode
	reason string
}

func (e *errStop) Error() string {
	return fmt.Sprintf("%s: %s", e.code, e.reason)
}

// Optimizer implements a bounded hill-climbing search. Every iteration
// evaluates the ±step neighbours of the current point on all realizations as
// one batch, moves to the best improving neighbour and halves the step
// otherwise.
type Optimizer struct {
	objective      ObjectiveFunction
	explorer       ParameterExplorer
	convergence    ConvergenceStrategy
	realizations   int
	maxIterations  int
	maxEvaluations int
	stepSize       float64
	minStepSize    float64

	observers map[Event][]Observer

	mu          sync.RWMutex
	aborted     bool
	bestScore   float64
	bestConfig  []float64
	iteration   int
	evaluations int
	history     []OptimizationStep
}

// NewOptimizer creates a hill-climbing optimizer over the given number of
// model realizations.
func NewOptimizer(objective ObjectiveFunction, explorer ParameterExplorer, realizations, maxIterations int, stepSize float64) *Optimizer {
	if stepSize <= 0 {
		stepSize = 0.1
	}
	return &Optimizer{
		objective:     objective,
		explorer:      explorer,
		realizations:  realizations,
		maxIterations: maxIterations,
		stepSize:      stepSize,
		minStepSize:   stepSize / 1024,
		observers:     make(map[Event][]Observer),
		bestScore:     math.Inf(1),
	}
}

// WithConvergence sets the convergence strategy
func (o *Optimizer) WithConvergence(strategy ConvergenceStrategy) *Optimizer {
	o.convergence = strategy
	return o
}

// WithMaxEvaluations limits the number of candidate evaluations; 0 means no limit
func (o *Optimizer) WithMaxEvaluations(n int) *Optimizer {
	o.maxEvaluations = n
	return o
}

// WithMinStepSize sets the step size below which the search has converged
func (o *Optimizer) WithMinStepSize(step float64) *Optimizer {
	o.minStepSize = step
	return o
}

// AddObserver subscribes fn to event
func (o *Optimizer) AddObserver(event Event, fn Observer) {
	o.observers[event] = append(o.observers[event], fn)
}

// AbortOptimization makes the next evaluation end the search with a user abort
func (o *Optimizer) AbortOptimization() {
	o.mu.Lock()
	o.aborted = true
	o.mu.Unlock()
}

func (o *Optimizer) isAborted() bool {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.aborted
}

// Optimize runs the search from initial
func (o *Optimizer) Optimize(ctx context.Context, initial []float64, eval BatchEvaluator) (*OptimizationResult, error) {
	if len(initial) == 0 {
		return nil, fmt.Errorf("initial control vector is required")
	}
	if eval == nil {
		return nil, fmt.Errorf("evaluator is required")
	}
	if o.realizations <= 0 {
		return nil, fmt.Errorf("at least one realization is required")
	}

	o.mu.Lock()
	o.aborted = false
	o.bestScore = math.Inf(1)
	o.bestConfig = o.explorer.Clamp(initial)
	o.iteration = 0
	o.evaluations = 0
	o.history = nil
	current := utils.CloneFloat64s(o.bestConfig)
	o.mu.Unlock()

	scores, err := o.evaluate(ctx, eval, [][]float64{current})
	if err != nil {
		return o.finish(err)
	}
	currentScore := scores[0]
	if math.IsInf(currentScore, 1) {
		return o.finish(&errStop{code: models.OptimizerTooFewRealizations, reason: "initial point could not be evaluated"})
	}
	step := o.stepSize
	o.record(0, currentScore, current, step)

	for iteration := 1; iteration <= o.maxIterations; iteration++ {
		o.mu.Lock()
		o.iteration = iteration
		o.mu.Unlock()

		neighbors := o.explorer.GenerateNeighbors(current, step)
		if len(neighbors) == 0 {
			return o.finish(&errStop{code: models.OptimizerConverged, reason: "no valid neighbors"})
		}

		scores, err := o.evaluate(ctx, eval, neighbors)
		if err != nil {
			return o.finish(err)
		}

		bestIdx := -1
		for i, s := range scores {
			if bestIdx < 0 || s < scores[bestIdx] {
				bestIdx = i
			}
		}
		if scores[bestIdx] < currentScore {
			current = neighbors[bestIdx]
			currentScore = scores[bestIdx]
		} else {
			step /= 2
		}
		o.record(iteration, currentScore, current, step)

		logger.Debug("optimizer iteration",
			"iteration", iteration,
			"score", currentScore,
			"step_size", step)

		if step < o.minStepSize {
			return o.finish(&errStop{code: models.OptimizerConverged, reason: "step size below minimum"})
		}
		if o.convergence != nil {
			if converged, reason := o.convergence.CheckConvergence(o.History()); converged {
				return o.finish(&errStop{code: models.OptimizerConverged, reason: reason})
			}
		}
	}

	return o.finish(&errStop{code: models.OptimizerMaxIterationsReached, reason: "max iterations reached"})
}

// evaluate scores candidates on every realization in one batch. Invalid
// candidates score +Inf; a batch without any valid candidate stops the search.
func (o *Optimizer) evaluate(ctx context.Context, eval BatchEvaluator, candidates [][]float64) ([]float64, error) {
	o.mu.RLock()
	iteration, evaluations := o.iteration, o.evaluations
	o.mu.RUnlock()

	if o.maxEvaluations > 0 && evaluations+len(candidates) > o.maxEvaluations {
		return nil, &errStop{code: models.OptimizerMaxFunctionsReached,
			reason: fmt.Sprintf("%d evaluations used of %d", evaluations, o.maxEvaluations)}
	}

	o.emit(EventStartEvaluation, EventData{Iteration: iteration, Candidates: len(candidates), BestScore: o.GetBestScore()})
	if o.isAborted() {
		return nil, &errStop{code: models.OptimizerUserAbort, reason: "optimization aborted"}
	}

	rows := make([][]float64, 0, len(candidates)*o.realizations)
	ectx := evaluator.EvaluatorContext{Realizations: make([]int, 0, cap(rows))}
	for _, c := range candidates {
		for r := 0; r < o.realizations; r++ {
			rows = append(rows, c)
			ectx.Realizations = append(ectx.Realizations, r)
		}
	}

	res, err := eval.Evaluate(ctx, rows, ectx)
	if err != nil {
		return nil, err
	}

	scores := make([]float64, len(candidates))
	valid := 0
	for i, c := range candidates {
		lo, hi := i*o.realizations, (i+1)*o.realizations
		var constraints [][]float64
		if res.Constraints != nil {
			constraints = res.Constraints[lo:hi]
		}
		score, ok := o.objective.Evaluate(res.Objectives[lo:hi], constraints, ectx.Realizations[lo:hi])
		scores[i] = score
		if ok {
			valid++
			o.offerBest(score, c)
		}
	}

	o.mu.Lock()
	o.evaluations += len(candidates)
	o.mu.Unlock()

	o.emit(EventFinishedEvaluation, EventData{
		Iteration:  iteration,
		Candidates: len(candidates),
		BatchID:    res.BatchID,
		Scores:     utils.CloneFloat64s(scores),
		BestScore:  o.GetBestScore(),
	})

	if valid == 0 {
		return nil, &errStop{code: models.OptimizerTooFewRealizations, reason: "no candidate had enough successful realizations"}
	}
	return scores, nil
}

func (o *Optimizer) offerBest(score float64, x []float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if score < o.bestScore {
		o.bestScore = score
		o.bestConfig = utils.CloneFloat64s(x)
	}
}

func (o *Optimizer) record(iteration int, score float64, x []float64, step float64) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.history = append(o.history, OptimizationStep{
		Iteration: iteration,
		Score:     score,
		Controls:  utils.CloneFloat64s(x),
		StepSize:  step,
	})
}

func (o *Optimizer) emit(event Event, data EventData) {
	for _, fn := range o.observers[event] {
		fn(data)
	}
}

// finish turns a stop reason into a result; other errors are returned as is
func (o *Optimizer) finish(err error) (*OptimizationResult, error) {
	var stop *errStop
	if !errors.As(err, &stop) {
		return nil, err
	}

	logger.Info("optimization finished",
		"exit_code", stop.code,
		"reason", stop.reason)

	o.mu.RLock()
	defer o.mu.RUnlock()
	return &OptimizationResult{
		BestControls: utils.CloneFloat64s(o.bestConfig),
		BestScore:    o.bestScore,
		Iterations:   o.iteration,
		Evaluations:  o.evaluations,
		History:      append([]OptimizationStep(nil), o.history...),
		ExitCode:     stop.code,
		Reason:       stop.reason,
	}, nil
}

// History returns a copy of the steps taken so far
func (o *Optimizer) History() []OptimizationStep {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return append([]OptimizationStep(nil), o.history...)
}

// GetBestConfig returns the best control vector found so far
func (o *Optimizer) GetBestConfig() []float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return utils.CloneFloat64s(o.bestConfig)
}

// GetBestScore returns the best score found so far
func (o *Optimizer) GetBestScore() float64 {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.bestScore
}

// GetIteration returns the current iteration number
func (o *Optimizer) GetIteration() int {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.iteration
}
