package utils

import (
	"math"
	"testing"
)

func TestFloat32Epsilon(t *testing.T) {
	if Float32Epsilon != math.Pow(2, -23) {
		t.Fatalf("expected 2^-23, got %g", Float32Epsilon)
	}
}

func TestAllClose(t *testing.T) {
	eps := Float32Epsilon
	tests := []struct {
		name string
		a, b []float64
		want bool
	}{
		{"identical", []float64{1, 2, 3}, []float64{1, 2, 3}, true},
		{"within tolerance", []float64{1, 2}, []float64{1 + eps/2, 2 - eps/2}, true},
		{"outside tolerance", []float64{1, 2}, []float64{1, 2 + 4*eps}, false},
		{"length mismatch", []float64{1, 2}, []float64{1}, false},
		{"nan never matches", []float64{math.NaN()}, []float64{math.NaN()}, false},
		{"empty", nil, []float64{}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AllClose(tt.a, tt.b, eps); got != tt.want {
				t.Errorf("AllClose(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestCloneFloat64s(t *testing.T) {
	if CloneFloat64s(nil) != nil {
		t.Fatalf("expected nil clone of nil")
	}
	src := []float64{1, 2}
	dst := CloneFloat64s(src)
	dst[0] = 5
	if src[0] != 1 {
		t.Fatalf("clone shares storage with source")
	}
}

func TestNaNsAndHasNaN(t *testing.T) {
	v := NaNs(3)
	if len(v) != 3 || !HasNaN(v) {
		t.Fatalf("expected 3 NaNs, got %v", v)
	}
	if HasNaN([]float64{1, 2}) {
		t.Fatalf("unexpected NaN")
	}
}

func TestWeightedMean(t *testing.T) {
	if got := WeightedMean([]float64{1, 3}, []float64{1, 1}); got != 2 {
		t.Errorf("expected 2, got %g", got)
	}
	if got := WeightedMean([]float64{1, 3}, []float64{3, 1}); got != 1.5 {
		t.Errorf("expected 1.5, got %g", got)
	}
	if got := WeightedMean([]float64{4}, nil); got != 4 {
		t.Errorf("expected default weight 1, got %g", got)
	}
	if got := WeightedMean(nil, nil); !math.IsNaN(got) {
		t.Errorf("expected NaN for empty input, got %g", got)
	}
}

func TestClampAndMean(t *testing.T) {
	if ClampFloat64(5, 0, 1) != 1 || ClampFloat64(-5, 0, 1) != 0 || ClampFloat64(0.5, 0, 1) != 0.5 {
		t.Fatalf("ClampFloat64 misbehaves")
	}
	if Mean([]float64{1, 2, 3}) != 2 || Mean(nil) != 0 {
		t.Fatalf("Mean misbehaves")
	}
}
