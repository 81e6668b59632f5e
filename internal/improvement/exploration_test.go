package improvement

import (
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func TestBoundedExplorerNeighbors(t *testing.T) {
	e := NewBoundedExplorer([]float64{0, math.Inf(-1)}, []float64{2, math.Inf(1)})

	got := e.GenerateNeighbors([]float64{0, 5}, 0.1)
	want := [][]float64{
		{0.2, 5},
		{0, 5.1},
		{0, 4.9},
	}
	if diff := cmp.Diff(want, got, cmpopts.EquateApprox(0, 1e-12)); diff != "" {
		t.Errorf("neighbors mismatch (-want +got):\n%s", diff)
	}
}

func TestBoundedExplorerClamp(t *testing.T) {
	e := NewBoundedExplorer([]float64{0, -1}, []float64{1, 1})
	if diff := cmp.Diff([]float64{1, -1}, e.Clamp([]float64{3, -4})); diff != "" {
		t.Errorf("clamp mismatch (-want +got):\n%s", diff)
	}
	if e.Name() != "bounded" {
		t.Errorf("Name() = %q", e.Name())
	}
}
