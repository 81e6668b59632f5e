package batch

import (
	"math"
	"strconv"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/config"
)

// FlattenedControls lists every scalar decision variable in the order the
// control matrix columns are laid out.
type FlattenedControls struct {
	Names          []string
	InitialGuesses []float64
	LowerBounds    []float64
	UpperBounds    []float64
}

// Flatten walks the controls in declaration order. Guess-list variables expand
// to sub-indices 1..N, indexed variables contribute one column each.
func Flatten(controls []config.Control) *FlattenedControls {
	fc := &FlattenedControls{}
	for _, ctrl := range controls {
		for _, v := range ctrl.Variables {
			lower, upper := bounds(ctrl, v)
			switch {
			case v.IsGuessList():
				for i, guess := range v.InitialGuess.Values {
					fc.add(ctrl.Name+"."+v.Name+"."+strconv.Itoa(i+1), guess, lower, upper)
				}
			case v.Index != nil:
				fc.add(ctrl.Name+"."+v.Name+"."+strconv.Itoa(*v.Index), v.InitialGuess.Values[0], lower, upper)
			default:
				fc.add(ctrl.Name+"."+v.Name, v.InitialGuess.Values[0], lower, upper)
			}
		}
	}
	return fc
}

// Len returns the number of columns
func (fc *FlattenedControls) Len() int {
	return len(fc.Names)
}

// Named maps a flattened vector back to column names
func (fc *FlattenedControls) Named(values []float64) map[string]float64 {
	out := make(map[string]float64, len(fc.Names))
	for i, name := range fc.Names {
		if i < len(values) {
			out[name] = values[i]
		}
	}
	return out
}

func (fc *FlattenedControls) add(name string, guess, lower, upper float64) {
	fc.Names = append(fc.Names, name)
	fc.InitialGuesses = append(fc.InitialGuesses, guess)
	fc.LowerBounds = append(fc.LowerBounds, lower)
	fc.UpperBounds = append(fc.UpperBounds, upper)
}

func bounds(ctrl config.Control, v config.ControlVariable) (float64, float64) {
	lower, upper := math.Inf(-1), math.Inf(1)
	if ctrl.Min != nil {
		lower = *ctrl.Min
	}
	if ctrl.Max != nil {
		upper = *ctrl.Max
	}
	if v.Min != nil {
		lower = *v.Min
	}
	if v.Max != nil {
		upper = *v.Max
	}
	return lower, upper
}
