package simd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/metrics"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/logger"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/utils"
	"golang.org/x/sync/errgroup"
	"google.golang.org/protobuf/encoding/protojson"
)

var (
	ErrNoForwardModel  = errors.New("forward model has no steps")
	ErrEnsembleRunning = errors.New("ensemble is already running")
)

// LocalExecutor runs the forward model of every simulation in-process.
// At most maxRunning simulations run at the same time.
type LocalExecutor struct {
	store      *EnsembleStore
	steps      []Step
	maxRunning int
	rng        *utils.RandSource

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewLocalExecutor parses the forward model and creates an executor that
// stores responses in store. maxRunning <= 0 means no limit.
func NewLocalExecutor(store *EnsembleStore, forwardModel []string, maxRunning int, rng *utils.RandSource) (*LocalExecutor, error) {
	if len(forwardModel) == 0 {
		return nil, ErrNoForwardModel
	}
	steps, err := ParseForwardModel(forwardModel)
	if err != nil {
		return nil, err
	}
	if rng == nil {
		rng = utils.NewRandSource(0)
	}
	return &LocalExecutor{
		store:      store,
		steps:      steps,
		maxRunning: maxRunning,
		rng:        rng,
		cancels:    make(map[string]context.CancelFunc),
	}, nil
}

// CreateEnsemble registers a new ensemble in the store
func (e *LocalExecutor) CreateEnsemble(ctx context.Context, name string, size int) (string, error) {
	return e.store.CreateEnsemble(ctx, name, size)
}

// Dispatch starts every run of the ensemble and returns the channel that
// carries their status events. The channel is closed after the ensemble-level
// event has been sent.
func (e *LocalExecutor) Dispatch(ctx context.Context, ensembleID string, runs []models.RunRequest) (<-chan models.StatusEvent, error) {
	summary, ok := e.store.Summary(ensembleID)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrEnsembleNotFound, ensembleID)
	}
	for _, run := range runs {
		if run.Simulation < 0 || run.Simulation >= summary.Size {
			return nil, fmt.Errorf("%w: %d (size %d)", ErrSimulationIndex, run.Simulation, summary.Size)
		}
	}

	runCtx, cancel := context.WithCancel(ctx)
	e.mu.Lock()
	if _, running := e.cancels[ensembleID]; running {
		e.mu.Unlock()
		cancel()
		return nil, fmt.Errorf("%w: %s", ErrEnsembleRunning, ensembleID)
	}
	e.cancels[ensembleID] = cancel
	e.mu.Unlock()

	// One pending event per run, a start and an end event per step, and the
	// ensemble event: sends never block even if the consumer stops reading.
	events := make(chan models.StatusEvent, len(runs)*(1+2*len(e.steps))+1)
	go e.execute(runCtx, ensembleID, runs, events)
	return events, nil
}

// Stop cancels a running ensemble
func (e *LocalExecutor) Stop(ensembleID string) bool {
	e.mu.Lock()
	cancel, ok := e.cancels[ensembleID]
	e.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

func (e *LocalExecutor) cleanup(ensembleID string) {
	e.mu.Lock()
	if cancel, ok := e.cancels[ensembleID]; ok {
		cancel()
		delete(e.cancels, ensembleID)
	}
	e.mu.Unlock()
}

func (e *LocalExecutor) execute(ctx context.Context, ensembleID string, runs []models.RunRequest, events chan<- models.StatusEvent) {
	defer close(events)
	defer e.cleanup(ensembleID)

	for _, run := range runs {
		events <- models.StatusEvent{
			Type:        models.EventForwardModelStep,
			Ensemble:    ensembleID,
			Simulation:  run.Simulation,
			Realization: run.Realization,
			Step:        0,
			StepName:    e.steps[0].Name(),
			Status:      models.StepStatusPending,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	if e.maxRunning > 0 {
		g.SetLimit(e.maxRunning)
	}
	for _, run := range runs {
		g.Go(func() error {
			return e.runSimulation(gctx, ensembleID, run, events)
		})
	}
	err := g.Wait()

	final := models.StatusEvent{Ensemble: ensembleID, Type: models.EventEnsembleSucceeded}
	switch {
	case ctx.Err() != nil && !errors.Is(err, errRunInfrastructure):
		final.Type = models.EventEnsembleCancelled
		final.Error = ctx.Err().Error()
	case err != nil:
		final.Type = models.EventEnsembleFailed
		final.Error = err.Error()
	}
	if final.Type != models.EventEnsembleSucceeded {
		logger.Warn("ensemble did not succeed",
			"ensemble", ensembleID,
			"event", final.Type,
			"error", final.Error)
	}
	events <- final
}

var errRunInfrastructure = errors.New("run infrastructure error")

// runSimulation runs the steps of one simulation in order and stops at the
// first failed step. Step failures are reported as events; only errors that
// prevent the run from executing at all are returned.
func (e *LocalExecutor) runSimulation(ctx context.Context, ensembleID string, run models.RunRequest, events chan<- models.StatusEvent) error {
	if ctx.Err() != nil {
		return nil
	}
	if err := writeParameters(run); err != nil {
		return fmt.Errorf("%w: simulation %d: %v", errRunInfrastructure, run.Simulation, err)
	}

	sim := &Simulation{
		Ensemble:    ensembleID,
		Simulation:  run.Simulation,
		Realization: run.Realization,
		RunPath:     run.RunPath,
		Parameters:  run.Parameters,
		Rand:        e.rng.Derive(int64(run.Realization)),
	}

	for idx, step := range e.steps {
		if ctx.Err() != nil {
			return nil
		}
		base := models.StatusEvent{
			Type:        models.EventForwardModelStep,
			Ensemble:    ensembleID,
			Simulation:  run.Simulation,
			Realization: run.Realization,
			Step:        idx,
			StepName:    step.Name(),
		}

		start := time.Now().UTC()
		running := base
		running.Status = models.StepStatusRunning
		running.StartTime = &start
		events <- running

		responses, err := step.Run(ctx, sim)
		end := time.Now().UTC()
		metrics.StepDuration.WithLabelValues(step.Name()).Observe(end.Sub(start).Seconds())

		done := base
		done.StartTime = &start
		done.EndTime = &end
		if err != nil {
			done.Status = models.StepStatusFailed
			done.Error = err.Error()
			done.StderrPath = writeStderr(run.RunPath, step.Name(), err)
			events <- done
			return nil
		}

		if err := e.saveResponses(ensembleID, run.Simulation, responses); err != nil {
			return fmt.Errorf("%w: simulation %d: %v", errRunInfrastructure, run.Simulation, err)
		}
		done.Status = models.StepStatusFinished
		events <- done
	}
	return nil
}

func (e *LocalExecutor) saveResponses(ensembleID string, simulation int, responses map[string][]float64) error {
	names := make([]string, 0, len(responses))
	for name := range responses {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if err := e.store.SaveResponse(ensembleID, name, simulation, responses[name]); err != nil {
			return err
		}
	}
	return nil
}

// writeParameters writes every control dataset as <runpath>/<control>.json
func writeParameters(run models.RunRequest) error {
	if run.RunPath == "" {
		return nil
	}
	if err := os.MkdirAll(run.RunPath, 0o755); err != nil {
		return err
	}
	marshal := protojson.MarshalOptions{Multiline: true, Indent: "  "}
	for control, ds := range run.Parameters {
		data, err := marshal.Marshal(ds)
		if err != nil {
			return fmt.Errorf("control %s: %w", control, err)
		}
		if err := os.WriteFile(filepath.Join(run.RunPath, control+".json"), data, 0o644); err != nil {
			return err
		}
	}
	return nil
}

// writeStderr records a step failure as <runpath>/<step>.stderr and returns
// the path, or "" when the file could not be written.
func writeStderr(runPath, step string, stepErr error) string {
	if runPath == "" {
		return ""
	}
	path := filepath.Join(runPath, step+".stderr")
	if err := os.WriteFile(path, []byte(stepErr.Error()+"\n"), 0o644); err != nil {
		logger.Debug("could not write stderr file", "path", path, "error", err)
		return ""
	}
	return path
}
