package evaluator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/config"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
	"google.golang.org/protobuf/types/known/structpb"
)

// fakeBackend implements ExecutionService and Storage in memory. Every run
// executes all steps synchronously inside Dispatch.
type fakeBackend struct {
	mu         sync.Mutex
	ensembles  []string
	dispatched [][]models.RunRequest
	params     map[string]*structpb.Struct
	responses  map[string][]float64

	steps         []string
	fail          func(run models.RunRequest) bool
	duplicate     bool
	ensembleEvent models.EventType
	loadErr       error
	beforeClose   func(runs []models.RunRequest)
}

func newFakeBackend() *fakeBackend {
	return &fakeBackend{
		params:        make(map[string]*structpb.Struct),
		responses:     make(map[string][]float64),
		steps:         []string{"prepare", "distance"},
		ensembleEvent: models.EventEnsembleSucceeded,
	}
}

func (f *fakeBackend) CreateEnsemble(_ context.Context, name string, size int) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := fmt.Sprintf("%s-%d", name, len(f.ensembles))
	f.ensembles = append(f.ensembles, id)
	return id, nil
}

func (f *fakeBackend) Dispatch(_ context.Context, ensembleID string, runs []models.RunRequest) (<-chan models.StatusEvent, error) {
	f.mu.Lock()
	f.dispatched = append(f.dispatched, runs)
	f.mu.Unlock()

	var events []models.StatusEvent
	for _, run := range runs {
		failed := f.fail != nil && f.fail(run)
		for step, name := range f.steps {
			now := time.Date(2024, 1, 1, 0, 0, step, 0, time.UTC)
			base := models.StatusEvent{
				Type:        models.EventForwardModelStep,
				Ensemble:    ensembleID,
				Simulation:  run.Simulation,
				Realization: run.Realization,
				Step:        step,
				StepName:    name,
			}
			running := base
			running.Status = models.StepStatusRunning
			running.StartTime = &now
			done := base
			done.Status = models.StepStatusFinished
			if failed && step == len(f.steps)-1 {
				done.Status = models.StepStatusFailed
				done.Error = "simulation diverged"
			}
			events = append(events, running, done)
			if f.duplicate {
				events = append(events, done)
			}
		}
		if !failed {
			f.store(ensembleID, "distance", run.Simulation, respond(run))
			f.store(ensembleID, "rate", run.Simulation, float64(run.Realization))
		}
	}
	events = append(events, models.StatusEvent{Type: f.ensembleEvent, Ensemble: ensembleID})

	if f.beforeClose != nil {
		f.beforeClose(runs)
	}

	ch := make(chan models.StatusEvent, len(events))
	for _, ev := range events {
		ch <- ev
	}
	close(ch)
	return ch, nil
}

func (f *fakeBackend) store(ensembleID, name string, sim int, value float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.responses[fmt.Sprintf("%s/%s/%d", ensembleID, name, sim)] = []float64{value}
}

func (f *fakeBackend) SaveParameters(_ context.Context, ensembleID, control string, sim int, ds *structpb.Struct) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.params[fmt.Sprintf("%s/%s/%d", ensembleID, control, sim)] = ds
	return nil
}

func (f *fakeBackend) LoadResponse(_ context.Context, ensembleID, name string, sim int) ([]float64, error) {
	if f.loadErr != nil {
		return nil, f.loadErr
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	v, ok := f.responses[fmt.Sprintf("%s/%s/%d", ensembleID, name, sim)]
	if !ok {
		return nil, errors.New("no such response")
	}
	return v, nil
}

func (f *fakeBackend) ensembleCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.ensembles)
}

// respond computes distance = x + 10*y + 100*realization
func respond(run models.RunRequest) float64 {
	point := run.Parameters["point"].AsMap()
	return point["x"].(float64) + 10*point["y"].(float64) + 100*float64(run.Realization)
}

func testConfig(t *testing.T, cacheOn bool) *config.Config {
	t.Helper()
	guess := config.GuessValue{Values: []float64{0}}
	return &config.Config{
		Model: config.Model{Realizations: []int{0, 1}},
		Controls: []config.Control{{
			Name: "point",
			Type: "generic_control",
			Variables: []config.ControlVariable{
				{Name: "x", InitialGuess: guess},
				{Name: "y", InitialGuess: guess},
			},
		}},
		ObjectiveFunctions: []config.ObjectiveFunction{
			{Name: "distance"},
			{Name: "distance_copy", Alias: "distance"},
		},
		ForwardModel: []string{"prepare", "distance"},
		Simulator: &config.Simulator{
			EnableCache:   cacheOn,
			SimulationDir: t.TempDir(),
			RunpathFormat: config.DefaultRunpathFormat,
		},
		Optimization: &config.Optimization{},
	}
}
