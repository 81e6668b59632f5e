// Package snapshot folds the asynchronous status events of one batch into a
// consistent progress view.
package snapshot

import (
	"sort"
	"sync"
	"time"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
)

type stepKey struct {
	simulation int
	step       int
}

type stepRecord struct {
	progress models.JobProgress
	stderr   string
	reported bool
}

// Aggregator merges status events of a single batch. Events for a
// (simulation, step) pair may arrive in any order and more than once; terminal
// states are never overwritten by later events.
type Aggregator struct {
	mu       sync.RWMutex
	batchID  int
	ledger   *ErrorLedger
	steps    map[stepKey]*stepRecord
	order    map[int][]int
	ensemble models.EventType
}

// NewAggregator creates an aggregator for batchID. Failed steps that carry
// error content are reported to ledger when it is non-nil.
func NewAggregator(batchID int, ledger *ErrorLedger) *Aggregator {
	return &Aggregator{
		batchID: batchID,
		ledger:  ledger,
		steps:   make(map[stepKey]*stepRecord),
		order:   make(map[int][]int),
	}
}

// BatchID returns the batch this aggregator tracks
func (a *Aggregator) BatchID() int {
	return a.batchID
}

// Merge applies one event and reports whether the view changed
func (a *Aggregator) Merge(ev models.StatusEvent) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	if ev.Type != "" && ev.Type != models.EventForwardModelStep {
		if a.ensemble == ev.Type {
			return false
		}
		a.ensemble = ev.Type
		return true
	}

	key := stepKey{simulation: ev.Simulation, step: ev.Step}
	rec, ok := a.steps[key]
	if !ok {
		rec = &stepRecord{progress: models.JobProgress{
			Name:        ev.StepName,
			Status:      models.StepStatusUnknown,
			Realization: ev.Realization,
			Simulation:  ev.Simulation,
			Step:        ev.Step,
		}}
		if rec.progress.Name == "" {
			rec.progress.Name = "Unknown"
		}
		a.steps[key] = rec
		a.order[ev.Simulation] = append(a.order[ev.Simulation], ev.Step)
	}

	changed := !ok
	cur := rec.progress.Status
	next := ev.Status
	if !next.Valid() || next == "" {
		next = models.StepStatusUnknown
	}

	switch {
	case cur.IsTerminal():
		if next != cur {
			return changed
		}
	case rank(next) < rank(cur):
		next = cur
	}

	if rec.progress.Status != next {
		rec.progress.Status = next
		changed = true
	}
	if rec.progress.StartTime == nil && ev.StartTime != nil {
		rec.progress.StartTime = cloneTime(ev.StartTime)
		changed = true
	}
	if rec.progress.EndTime == nil && ev.EndTime != nil && next.IsTerminal() {
		rec.progress.EndTime = cloneTime(ev.EndTime)
		changed = true
	}
	if rec.progress.Error == "" && ev.Error != "" && next == models.StepStatusFailed {
		rec.progress.Error = ev.Error
		changed = true
	}
	if rec.stderr == "" && ev.StderrPath != "" {
		rec.stderr = ev.StderrPath
	}

	// A failed step is reported once, as soon as it carries error text or a
	// stderr file, which may come with a re-delivered event.
	if next == models.StepStatusFailed && !rec.reported && a.ledger != nil &&
		(rec.progress.Error != "" || rec.stderr != "") {
		id, _ := a.ledger.Report(Occurrence{
			Batch:       a.batchID,
			Realization: rec.progress.Realization,
			Simulation:  rec.progress.Simulation,
			StepName:    rec.progress.Name,
			Error:       rec.progress.Error,
			StderrPath:  rec.stderr,
		})
		rec.reported = id >= 0
	}
	return changed
}

// Snapshot returns the current progress view. Progress is grouped by
// simulation in ascending order, with steps in first-seen order.
func (a *Aggregator) Snapshot() *models.SimulationStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()

	sims := a.simulations()
	status := &models.SimulationStatus{
		Status:      make(map[models.StepStatus]int),
		Progress:    make([][]models.JobProgress, 0, len(sims)),
		BatchNumber: a.batchID,
	}

	simStatuses := make([]models.StepStatus, 0, len(sims))
	for _, sim := range sims {
		jobs := make([]models.JobProgress, 0, len(a.order[sim]))
		for _, step := range a.order[sim] {
			p := a.steps[stepKey{simulation: sim, step: step}].progress
			p.StartTime = cloneTime(p.StartTime)
			p.EndTime = cloneTime(p.EndTime)
			jobs = append(jobs, p)
		}
		status.Progress = append(status.Progress, jobs)

		s := a.simulationStatus(sim)
		status.Status[s]++
		simStatuses = append(simStatuses, s)
	}

	switch a.ensemble {
	case models.EventEnsembleFailed, models.EventEnsembleCancelled:
		status.EnsembleStatus = models.StepStatusFailed
	default:
		status.EnsembleStatus = models.AggregateStatus(simStatuses)
	}
	return status
}

// SimulationStatus returns the aggregated state of one simulation
func (a *Aggregator) SimulationStatus(sim int) models.StepStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.simulationStatus(sim)
}

// Succeeded reports whether every step of sim finished
func (a *Aggregator) Succeeded(sim int) bool {
	return a.SimulationStatus(sim) == models.StepStatusFinished
}

// StepStatus returns the state of one step
func (a *Aggregator) StepStatus(sim, step int) models.StepStatus {
	a.mu.RLock()
	defer a.mu.RUnlock()
	rec, ok := a.steps[stepKey{simulation: sim, step: step}]
	if !ok {
		return models.StepStatusUnknown
	}
	return rec.progress.Status
}

// EnsembleEvent returns the last ensemble-level event, or "" if none arrived
func (a *Aggregator) EnsembleEvent() models.EventType {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.ensemble
}

func (a *Aggregator) simulationStatus(sim int) models.StepStatus {
	steps := a.order[sim]
	statuses := make([]models.StepStatus, 0, len(steps))
	for _, step := range steps {
		statuses = append(statuses, a.steps[stepKey{simulation: sim, step: step}].progress.Status)
	}
	return models.AggregateStatus(statuses)
}

func (a *Aggregator) simulations() []int {
	sims := make([]int, 0, len(a.order))
	for sim := range a.order {
		sims = append(sims, sim)
	}
	sort.Ints(sims)
	return sims
}

func rank(s models.StepStatus) int {
	switch s {
	case models.StepStatusPending:
		return 1
	case models.StepStatusRunning:
		return 2
	case models.StepStatusFinished, models.StepStatusFailed:
		return 3
	default:
		return 0
	}
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	c := *t
	return &c
}
