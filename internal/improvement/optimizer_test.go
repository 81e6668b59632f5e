package improvement

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/evaluator"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/config"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
)

// quadratic answers (x-1)^2 for every row; batches counts Evaluate calls
type quadratic struct {
	batches int
	rows    int
	fail    bool
	err     error
}

func (q *quadratic) Evaluate(_ context.Context, controls [][]float64, ectx evaluator.EvaluatorContext) (*evaluator.EvaluatorResult, error) {
	if q.err != nil {
		return nil, q.err
	}
	if len(ectx.Realizations) != len(controls) {
		return nil, errors.New("context does not match controls")
	}
	res := &evaluator.EvaluatorResult{BatchID: q.batches}
	for _, row := range controls {
		v := (row[0] - 1) * (row[0] - 1)
		if q.fail {
			v = math.NaN()
		}
		res.Objectives = append(res.Objectives, []float64{v})
	}
	q.batches++
	q.rows += len(controls)
	return res, nil
}

func newTestOptimizer(maxIterations int) *Optimizer {
	cfg := &config.Config{
		Model:              config.Model{Realizations: []int{0, 1}},
		ObjectiveFunctions: []config.ObjectiveFunction{{Name: "f"}},
	}
	explorer := NewBoundedExplorer([]float64{math.Inf(-1)}, []float64{math.Inf(1)})
	return NewOptimizer(NewWeightedObjective(cfg), explorer, 2, maxIterations, 0.5)
}

func TestOptimizerConverges(t *testing.T) {
	q := &quadratic{}
	res, err := newTestOptimizer(50).Optimize(context.Background(), []float64{0}, q)
	if err != nil {
		t.Fatalf("Optimize: %v", err)
	}
	if res.ExitCode != models.OptimizerConverged {
		t.Errorf("exit code = %s, want converged (%s)", res.ExitCode, res.Reason)
	}
	if res.BestScore != 0 || res.BestControls[0] != 1 {
		t.Errorf("best = %v at %v, want 0 at [1]", res.BestScore, res.BestControls)
	}
	// every candidate is evaluated on both realizations
	if q.rows != 2*res.Evaluations {
		t.Errorf("rows = %d for %d evaluations", q.rows, res.Evaluations)
	}
	if len(res.History) != res.Iterations+1 {
		t.Errorf("history has %d steps for %d iterations", len(res.History), res.Iterations)
	}
}

func TestOptimizerMaxIterations(t *testing.T) {
	res, err := newTestOptimizer(1).Optimize(context.Background(), []float64{0}, &quadratic{})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != models.OptimizerMaxIterationsReached || res.Iterations != 1 {
		t.Errorf("got %s after %d iterations", res.ExitCode, res.Iterations)
	}
}

func TestOptimizerMaxEvaluations(t *testing.T) {
	q := &quadratic{}
	res, err := newTestOptimizer(50).WithMaxEvaluations(3).Optimize(context.Background(), []float64{0}, q)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != models.OptimizerMaxFunctionsReached {
		t.Errorf("exit code = %s, want max_functions_reached", res.ExitCode)
	}
	if res.Evaluations != 3 || q.batches != 2 {
		t.Errorf("evaluations = %d in %d batches, want 3 in 2", res.Evaluations, q.batches)
	}
}

func TestOptimizerAbort(t *testing.T) {
	opt := newTestOptimizer(50)
	starts := 0
	opt.AddObserver(EventStartEvaluation, func(EventData) {
		starts++
		if starts == 2 {
			opt.AbortOptimization()
		}
	})
	var finished []EventData
	opt.AddObserver(EventFinishedEvaluation, func(d EventData) {
		finished = append(finished, d)
	})

	q := &quadratic{}
	res, err := opt.Optimize(context.Background(), []float64{0}, q)
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != models.OptimizerUserAbort {
		t.Errorf("exit code = %s, want user_abort", res.ExitCode)
	}
	if q.batches != 1 || len(finished) != 1 {
		t.Fatalf("batches = %d, finished events = %d, want 1 and 1", q.batches, len(finished))
	}
	if finished[0].BatchID != 0 || finished[0].Candidates != 1 || finished[0].Scores[0] != 1 {
		t.Errorf("unexpected finished event %+v", finished[0])
	}
}

func TestOptimizerTooFewRealizations(t *testing.T) {
	res, err := newTestOptimizer(50).Optimize(context.Background(), []float64{0}, &quadratic{fail: true})
	if err != nil {
		t.Fatal(err)
	}
	if res.ExitCode != models.OptimizerTooFewRealizations {
		t.Errorf("exit code = %s, want too_few_realizations", res.ExitCode)
	}
	if !math.IsInf(res.BestScore, 1) {
		t.Errorf("best score = %v, want +Inf", res.BestScore)
	}
}

func TestOptimizerEvaluatorError(t *testing.T) {
	boom := errors.New("ensemble failed")
	_, err := newTestOptimizer(50).Optimize(context.Background(), []float64{0}, &quadratic{err: boom})
	if !errors.Is(err, boom) {
		t.Errorf("expected evaluator error, got %v", err)
	}
}

func TestOptimizerInputValidation(t *testing.T) {
	if _, err := newTestOptimizer(1).Optimize(context.Background(), nil, &quadratic{}); err == nil {
		t.Error("expected error for empty initial vector")
	}
	if _, err := newTestOptimizer(1).Optimize(context.Background(), []float64{0}, nil); err == nil {
		t.Error("expected error for nil evaluator")
	}
}
