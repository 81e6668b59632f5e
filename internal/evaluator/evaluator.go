// Package evaluator runs optimizer batches: it serves cache hits, dispatches
// the remaining control vectors as one ensemble, follows its status events and
// assembles the objective and constraint matrices.
package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/batch"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/cache"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/metrics"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/policy"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/snapshot"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/config"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/logger"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/utils"
	"github.com/google/go-cmp/cmp"
)

// BatchResult is the outcome of one EvaluateBatch call. Rows that were not
// evaluated and not cached are zero; failed rows are NaN.
type BatchResult struct {
	Objectives       [][]float64
	Constraints      [][]float64 // nil without output constraints
	EvaluatedIndices []int
	BatchID          int
}

// EvaluatorContext is the optimizer's description of a control matrix.
// Realizations holds, per row, an index into model.realizations; Active,
// when non-nil, is indexed the same way.
type EvaluatorContext struct {
	Realizations []int
	Active       []bool
}

// EvaluatorResult is returned to the optimizer. EvaluationIDs holds the
// simulation id of every evaluated row and -1 for all other rows.
type EvaluatorResult struct {
	Objectives    [][]float64
	Constraints   [][]float64
	BatchID       int
	EvaluationIDs []int
}

// Evaluator is the batch orchestrator. Batches are evaluated one at a time.
type Evaluator struct {
	cfg      *config.Config
	exec     ExecutionService
	storage  Storage
	builder  *batch.Builder
	schema   batch.ParameterSchema
	runPaths *batch.RunPaths
	cache    *cache.ToleranceCache
	ledger   *snapshot.ErrorLedger

	exit      *policy.ExitPolicy
	collector *metrics.Collector
	onStatus  StatusCallback

	run sync.Mutex

	mu         sync.RWMutex
	batchID    int
	lastStatus *models.SimulationStatus // change-detection baseline, reset per batch
	status     *models.SimulationStatus // last emitted snapshot, kept across batches
}

// NewEvaluator creates an evaluator for cfg. The tolerance cache is created
// only when simulator.enable_cache is set.
func NewEvaluator(cfg *config.Config, exec ExecutionService, storage Storage) *Evaluator {
	simDir, format := "simulations", config.DefaultRunpathFormat
	if cfg.Simulator != nil {
		if cfg.Simulator.SimulationDir != "" {
			simDir = cfg.Simulator.SimulationDir
		}
		if cfg.Simulator.RunpathFormat != "" {
			format = cfg.Simulator.RunpathFormat
		}
	}

	e := &Evaluator{
		cfg:      cfg,
		exec:     exec,
		storage:  storage,
		builder:  batch.NewBuilder(cfg.Controls),
		schema:   batch.SchemaFromControls(cfg.Controls),
		runPaths: batch.NewRunPaths(simDir, format),
		ledger:   snapshot.NewErrorLedger(nil),
	}
	if cfg.CacheEnabled() {
		e.cache = cache.NewToleranceCache()
	}
	return e
}

// SetStatusCallback registers the status callback
func (e *Evaluator) SetStatusCallback(cb StatusCallback) {
	e.onStatus = cb
}

// SetExitPolicy sets the policy consulted by BeforeEvaluation
func (e *Evaluator) SetExitPolicy(p *policy.ExitPolicy) {
	e.exit = p
}

// SetCollector records per-batch statistics into c
func (e *Evaluator) SetCollector(c *metrics.Collector) {
	e.collector = c
}

// SetErrorLedger replaces the run's error ledger
func (e *Evaluator) SetErrorLedger(l *snapshot.ErrorLedger) {
	e.ledger = l
}

// ErrorLedger returns the run's error ledger
func (e *Evaluator) ErrorLedger() *snapshot.ErrorLedger {
	return e.ledger
}

// BatchID returns the id the next batch will get
func (e *Evaluator) BatchID() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.batchID
}

// Status returns the last emitted status snapshot, or nil
func (e *Evaluator) Status() *models.SimulationStatus {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.status
}

// BeforeEvaluation runs the exit checks for the next batch and reports
// whether the optimizer was asked to abort.
func (e *Evaluator) BeforeEvaluation(optimizer policy.Aborter) bool {
	if e.exit == nil {
		return false
	}
	return e.exit.BeforeEvaluation(e.BatchID(), optimizer)
}

// Evaluate maps the optimizer's context onto EvaluateBatch
func (e *Evaluator) Evaluate(ctx context.Context, controls [][]float64, ectx EvaluatorContext) (*EvaluatorResult, error) {
	if len(ectx.Realizations) != len(controls) {
		return nil, fmt.Errorf("evaluator context has %d realizations for %d control vectors",
			len(ectx.Realizations), len(controls))
	}

	model := e.cfg.Model.Realizations
	if ectx.Active != nil && len(ectx.Active) != len(model) {
		return nil, fmt.Errorf("evaluator context has %d active flags for %d realizations",
			len(ectx.Active), len(model))
	}
	realizations := make([]int, len(controls))
	active := make([]bool, len(controls))
	for i, r := range ectx.Realizations {
		if r < 0 || r >= len(model) {
			return nil, fmt.Errorf("row %d: realization index %d out of range", i, r)
		}
		realizations[i] = model[r]
		active[i] = ectx.Active == nil || ectx.Active[r]
	}

	res, err := e.EvaluateBatch(ctx, controls, realizations, active)
	if err != nil {
		return nil, err
	}

	ids := make([]int, len(controls))
	for i := range ids {
		ids[i] = -1
	}
	for sim, idx := range res.EvaluatedIndices {
		ids[idx] = sim
	}
	return &EvaluatorResult{
		Objectives:    res.Objectives,
		Constraints:   res.Constraints,
		BatchID:       res.BatchID,
		EvaluationIDs: ids,
	}, nil
}

// EvaluateBatch evaluates one control matrix. realizations assigns a model
// realization to every row; active may be nil.
func (e *Evaluator) EvaluateBatch(ctx context.Context, controls [][]float64, realizations []int, active []bool) (*BatchResult, error) {
	if len(realizations) != len(controls) {
		return nil, fmt.Errorf("got %d realizations for %d control vectors", len(realizations), len(controls))
	}
	if active != nil && len(active) != len(controls) {
		return nil, fmt.Errorf("got %d active flags for %d control vectors", len(active), len(controls))
	}

	e.run.Lock()
	defer e.run.Unlock()

	start := time.Now()
	e.mu.Lock()
	batchID := e.batchID
	e.lastStatus = nil
	e.mu.Unlock()

	cached := e.cachedResults(controls, realizations)

	evaluated := make([]int, 0, len(controls))
	for idx := range controls {
		if _, hit := cached[idx]; hit {
			continue
		}
		if active != nil && !active[idx] {
			continue
		}
		evaluated = append(evaluated, idx)
	}

	assignments, err := e.builder.Build(controls, evaluated)
	if err != nil {
		return nil, err
	}
	for _, idx := range evaluated {
		if err := e.schema.Validate(assignments[idx]); err != nil {
			return nil, fmt.Errorf("row %d: %w", idx, err)
		}
	}

	results := make([]map[string][]float64, len(evaluated))
	failed := 0
	if len(evaluated) > 0 {
		results, failed, err = e.runBatch(ctx, batchID, evaluated, assignments, realizations)
		if err != nil {
			var bErr *BatchExecutionError
			if errors.As(err, &bErr) {
				metrics.BatchErrors.WithLabelValues(bErr.Op).Inc()
			}
			return nil, err
		}
	}

	objectives, constraints := e.assemble(len(controls), evaluated, results, cached)
	e.addToCache(controls, realizations, evaluated, objectives, constraints)

	e.mu.Lock()
	e.batchID++
	e.mu.Unlock()

	elapsed := time.Since(start)
	metrics.RecordBatch(e.collector, metrics.BatchStats{
		BatchID:     batchID,
		Duration:    elapsed,
		Simulations: len(evaluated),
		CacheHits:   len(cached),
		FailedRows:  failed,
	})
	metrics.ForwardModelErrors.Set(float64(e.ledger.Len()))
	logger.Info("batch evaluated",
		"batch_id", batchID,
		"control_vectors", len(controls),
		"simulations", len(evaluated),
		"cache_hits", len(cached),
		"failed", failed,
		"duration", elapsed)

	return &BatchResult{
		Objectives:       objectives,
		Constraints:      constraints,
		EvaluatedIndices: evaluated,
		BatchID:          batchID,
	}, nil
}

// runBatch dispatches the working set as one ensemble and gathers its
// responses. It returns one result map per simulation (nil when the
// simulation failed) and the number of failed simulations.
func (e *Evaluator) runBatch(ctx context.Context, batchID int, evaluated []int,
	assignments map[int]batch.Assignment, realizations []int) ([]map[string][]float64, int, error) {
	batchName := utils.BatchName(batchID)
	ensembleID, err := e.exec.CreateEnsemble(ctx, batchName, len(evaluated))
	if err != nil {
		return nil, 0, &BatchExecutionError{BatchID: batchID, Op: "create_ensemble", Err: err}
	}

	runs := make([]models.RunRequest, len(evaluated))
	for sim, idx := range evaluated {
		a := assignments[idx]
		params, err := a.Datasets()
		if err != nil {
			return nil, 0, &BatchExecutionError{BatchID: batchID, Op: "save_parameters", Err: err}
		}
		for _, control := range a.ControlNames() {
			if err := e.storage.SaveParameters(ctx, ensembleID, control, sim, params[control]); err != nil {
				return nil, 0, &BatchExecutionError{BatchID: batchID, Op: "save_parameters", Err: err}
			}
		}
		runs[sim] = models.RunRequest{
			Simulation:  sim,
			Realization: realizations[idx],
			RunPath:     e.runPaths.Path(batchName, realizations[idx], sim),
			Parameters:  params,
		}
	}

	logger.Debug("dispatching batch",
		"batch_id", batchID,
		"ensemble", ensembleID,
		"simulations", len(runs))

	events, err := e.exec.Dispatch(ctx, ensembleID, runs)
	if err != nil {
		return nil, 0, &BatchExecutionError{BatchID: batchID, Op: "dispatch", Err: err}
	}

	agg := snapshot.NewAggregator(batchID, e.ledger)
	if err := e.consume(ctx, agg, events); err != nil {
		return nil, 0, &BatchExecutionError{BatchID: batchID, Op: "dispatch", Err: err}
	}

	if e.cfg.DeleteRunPath() {
		deleteRunPaths(agg, runs)
	}

	results, failed, err := e.gather(ctx, agg, ensembleID, len(runs))
	if err != nil {
		return nil, 0, &BatchExecutionError{BatchID: batchID, Op: "load_response", Err: err}
	}
	return results, failed, nil
}

// consume is the single ingestion point for the ensemble's events
func (e *Evaluator) consume(ctx context.Context, agg *snapshot.Aggregator, events <-chan models.StatusEvent) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				switch agg.EnsembleEvent() {
				case models.EventEnsembleFailed:
					return ErrEnsembleFailed
				case models.EventEnsembleCancelled:
					return ErrEnsembleCancelled
				}
				return nil
			}
			if agg.Merge(ev) {
				e.notify(agg.Snapshot())
			}
		}
	}
}

// notify forwards status to the callback when it differs from the last one
func (e *Evaluator) notify(status *models.SimulationStatus) {
	e.mu.Lock()
	if e.lastStatus != nil && cmp.Equal(e.lastStatus, status) {
		e.mu.Unlock()
		return
	}
	e.lastStatus = status
	e.status = status
	cb := e.onStatus
	e.mu.Unlock()

	if cb != nil {
		cb(status)
	}
}

func (e *Evaluator) gather(ctx context.Context, agg *snapshot.Aggregator, ensembleID string, size int) ([]map[string][]float64, int, error) {
	names := e.cfg.ResultNames()
	aliases := e.cfg.FunctionAliases()

	results := make([]map[string][]float64, size)
	failed := 0
	for sim := 0; sim < size; sim++ {
		if !agg.Succeeded(sim) {
			logger.Error("simulation failed", "batch_id", agg.BatchID(), "simulation", sim)
			failed++
			continue
		}
		values := make(map[string][]float64, len(names)+len(aliases))
		for _, name := range names {
			data, err := e.storage.LoadResponse(ctx, ensembleID, name, sim)
			if err != nil {
				return nil, 0, fmt.Errorf("simulation %d, response %s: %w", sim, name, err)
			}
			values[name] = data
		}
		for name, alias := range aliases {
			values[name] = values[alias]
		}
		results[sim] = values
	}
	return results, failed, nil
}
