// Package batch turns rows of the optimizer's control matrix into structured
// per-simulation parameter assignments.
package batch

import (
	"fmt"
	"sort"
	"strconv"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/config"
	"google.golang.org/protobuf/types/known/structpb"
)

// Value is the assignment of one variable. Plain variables carry a scalar;
// indexed and guess-list variables carry a suffix -> value map.
type Value struct {
	Scalar   float64
	Suffixes map[string]float64
}

// HasSuffixes reports whether the value is suffixed
func (v Value) HasSuffixes() bool {
	return v.Suffixes != nil
}

// ControlAssignment maps variable name to value
type ControlAssignment map[string]Value

// Assignment maps control name to its variables for one simulation
type Assignment map[string]ControlAssignment

// Dataset converts the variables of one control to a protobuf struct, the
// form the storage service and the run path parameter files use.
func (a Assignment) Dataset(control string) (*structpb.Struct, error) {
	ca, ok := a[control]
	if !ok {
		return nil, fmt.Errorf("no assignment for control %s", control)
	}
	fields := make(map[string]any, len(ca))
	for name, v := range ca {
		if !v.HasSuffixes() {
			fields[name] = v.Scalar
			continue
		}
		sub := make(map[string]any, len(v.Suffixes))
		for suffix, x := range v.Suffixes {
			sub[suffix] = x
		}
		fields[name] = sub
	}
	ds, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, fmt.Errorf("control %s: %w", control, err)
	}
	return ds, nil
}

// Datasets converts every control of the assignment
func (a Assignment) Datasets() (map[string]*structpb.Struct, error) {
	out := make(map[string]*structpb.Struct, len(a))
	for _, control := range a.ControlNames() {
		ds, err := a.Dataset(control)
		if err != nil {
			return nil, err
		}
		out[control] = ds
	}
	return out, nil
}

// ControlNames returns the assigned control names, sorted
func (a Assignment) ControlNames() []string {
	names := make([]string, 0, len(a))
	for name := range a {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Builder maps control matrix rows onto the declared control schema
type Builder struct {
	controls []config.Control
	width    int
}

// NewBuilder creates a builder for the given control declarations
func NewBuilder(controls []config.Control) *Builder {
	return &Builder{
		controls: controls,
		width:    Flatten(controls).Len(),
	}
}

// Width returns the expected number of columns per row
func (b *Builder) Width() int {
	return b.width
}

// Build returns one assignment per requested row index. Values are consumed
// from each row in the order the controls and variables are declared, which
// must be the order the matrix was flattened in.
func (b *Builder) Build(matrix [][]float64, rows []int) (map[int]Assignment, error) {
	out := make(map[int]Assignment, len(rows))
	for _, idx := range rows {
		if idx < 0 || idx >= len(matrix) {
			return nil, mismatch("", "", "row %d outside control matrix of %d rows", idx, len(matrix))
		}
		a, err := b.BuildRow(matrix[idx])
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", idx, err)
		}
		out[idx] = a
	}
	return out, nil
}

// BuildRow builds the assignment for a single flattened row
func (b *Builder) BuildRow(row []float64) (Assignment, error) {
	if len(row) != b.width {
		return nil, mismatch("", "", "control vector has %d values, schema expects %d", len(row), b.width)
	}

	pos := 0
	next := func() float64 {
		v := row[pos]
		pos++
		return v
	}

	a := make(Assignment, len(b.controls))
	for _, ctrl := range b.controls {
		ca, ok := a[ctrl.Name]
		if !ok {
			ca = make(ControlAssignment, len(ctrl.Variables))
		}
		for _, v := range ctrl.Variables {
			value := ca[v.Name]
			switch {
			case v.IsGuessList():
				if value.Suffixes == nil {
					value.Suffixes = make(map[string]float64, len(v.InitialGuess.Values))
				}
				for i := 1; i <= len(v.InitialGuess.Values); i++ {
					value.Suffixes[strconv.Itoa(i)] = next()
				}
			case v.Index != nil:
				if value.Suffixes == nil {
					value.Suffixes = make(map[string]float64)
				}
				value.Suffixes[strconv.Itoa(*v.Index)] = next()
			default:
				value = Value{Scalar: next()}
			}
			ca[v.Name] = value
		}
		a[ctrl.Name] = ca
	}
	return a, nil
}
