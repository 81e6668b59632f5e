package evaluator

import (
	"math"
	"os"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/internal/snapshot"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/logger"
	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/models"
)

type cachedRow struct {
	objectives  []float64
	constraints []float64
}

func (e *Evaluator) cachedResults(controls [][]float64, realizations []int) map[int]cachedRow {
	hits := make(map[int]cachedRow)
	if e.cache == nil {
		return hits
	}
	for idx, row := range controls {
		if objectives, constraints, ok := e.cache.Get(realizations[idx], row); ok {
			hits[idx] = cachedRow{objectives: objectives, constraints: constraints}
		}
	}
	return hits
}

// assemble builds the result matrices. Objectives are negated so the
// optimizer can minimize; cached rows are copied in unchanged.
func (e *Evaluator) assemble(rows int, evaluated []int, results []map[string][]float64, cached map[int]cachedRow) ([][]float64, [][]float64) {
	objectives := e.valueMatrix(rows, e.cfg.ObjectiveNames(), evaluated, results)
	for _, idx := range evaluated {
		for j := range objectives[idx] {
			objectives[idx][j] = -objectives[idx][j]
		}
	}

	var constraints [][]float64
	if len(e.cfg.OutputConstraints) > 0 {
		constraints = e.valueMatrix(rows, e.cfg.ConstraintNames(), evaluated, results)
	}

	for idx, hit := range cached {
		copy(objectives[idx], hit.objectives)
		if constraints != nil && hit.constraints != nil {
			copy(constraints[idx], hit.constraints)
		}
	}
	return objectives, constraints
}

// valueMatrix takes the first value of every named response; rows of failed
// simulations and missing responses are NaN.
func (e *Evaluator) valueMatrix(rows int, names []string, evaluated []int, results []map[string][]float64) [][]float64 {
	m := make([][]float64, rows)
	for i := range m {
		m[i] = make([]float64, len(names))
	}
	for sim, idx := range evaluated {
		result := results[sim]
		for j, name := range names {
			values := result[name]
			if len(values) == 0 {
				m[idx][j] = math.NaN()
				continue
			}
			m[idx][j] = values[0]
		}
	}
	return m
}

func (e *Evaluator) addToCache(controls [][]float64, realizations, evaluated []int, objectives, constraints [][]float64) {
	if e.cache == nil {
		return
	}
	for _, idx := range evaluated {
		var con []float64
		if constraints != nil {
			con = constraints[idx]
		}
		e.cache.Add(realizations[idx], controls[idx], objectives[idx], con)
	}
}

// deleteRunPaths removes the run paths of finished simulations. Failures are
// logged and otherwise ignored.
func deleteRunPaths(agg *snapshot.Aggregator, runs []models.RunRequest) {
	for _, run := range runs {
		if agg.SimulationStatus(run.Simulation) != models.StepStatusFinished {
			continue
		}
		info, err := os.Stat(run.RunPath)
		if err != nil || !info.IsDir() {
			continue
		}
		if err := os.RemoveAll(run.RunPath); err != nil {
			logger.Debug("failed to remove run path", "path", run.RunPath, "error", err)
		}
	}
}
