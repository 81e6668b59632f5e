package improvement

import (
	"math"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/utils"
)

// ParameterExplorer defines strategies for exploring the control space
type ParameterExplorer interface {
	// GenerateNeighbors creates neighbouring control vectors of base
	GenerateNeighbors(base []float64, stepSize float64) [][]float64
	// Clamp moves a vector into the feasible region
	Clamp(x []float64) []float64
	// Name returns the name of the exploration strategy
	Name() string
}

// BoundedExplorer moves one control at a time by ±step. With finite bounds
// the step is relative to the control's range, otherwise it is absolute.
type BoundedExplorer struct {
	lower []float64
	upper []float64
}

// NewBoundedExplorer creates an explorer for the given bounds; use ±Inf for
// unbounded controls.
func NewBoundedExplorer(lower, upper []float64) *BoundedExplorer {
	return &BoundedExplorer{
		lower: utils.CloneFloat64s(lower),
		upper: utils.CloneFloat64s(upper),
	}
}

func (e *BoundedExplorer) Name() string {
	return "bounded"
}

func (e *BoundedExplorer) GenerateNeighbors(base []float64, stepSize float64) [][]float64 {
	neighbors := make([][]float64, 0, 2*len(base))
	for i := range base {
		delta := stepSize * e.span(i)
		for _, sign := range []float64{1, -1} {
			candidate := utils.CloneFloat64s(base)
			candidate[i] = e.clampAt(i, base[i]+sign*delta)
			if candidate[i] == base[i] {
				continue
			}
			neighbors = append(neighbors, candidate)
		}
	}
	return neighbors
}

func (e *BoundedExplorer) Clamp(x []float64) []float64 {
	out := utils.CloneFloat64s(x)
	for i := range out {
		out[i] = e.clampAt(i, out[i])
	}
	return out
}

func (e *BoundedExplorer) span(i int) float64 {
	if i >= len(e.lower) || i >= len(e.upper) {
		return 1
	}
	width := e.upper[i] - e.lower[i]
	if math.IsInf(width, 0) || math.IsNaN(width) || width <= 0 {
		return 1
	}
	return width
}

func (e *BoundedExplorer) clampAt(i int, v float64) float64 {
	lo, hi := math.Inf(-1), math.Inf(1)
	if i < len(e.lower) {
		lo = e.lower[i]
	}
	if i < len(e.upper) {
		hi = e.upper[i]
	}
	return utils.ClampFloat64(v, lo, hi)
}
