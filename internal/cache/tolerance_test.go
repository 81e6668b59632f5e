package cache

import (
	"math"
	"sync"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestAddThenGetRoundTrip(t *testing.T) {
	c := NewToleranceCache()
	controls := []float64{0.1, 0.2, 0.3}
	objectives := []float64{-1.5}
	constraints := []float64{0.7, 0.8}

	c.Add(2, controls, objectives, constraints)

	gotObj, gotCon, ok := c.Get(2, controls)
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if diff := cmp.Diff(objectives, gotObj); diff != "" {
		t.Errorf("objectives mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(constraints, gotCon); diff != "" {
		t.Errorf("constraints mismatch (-want +got):\n%s", diff)
	}
}

func TestGetWithoutConstraints(t *testing.T) {
	c := NewToleranceCache()
	c.Add(0, []float64{1}, []float64{2}, nil)

	_, con, ok := c.Get(0, []float64{1})
	if !ok {
		t.Fatalf("expected cache hit")
	}
	if con != nil {
		t.Fatalf("expected nil constraints, got %v", con)
	}
}

func TestGetIsPerRealization(t *testing.T) {
	c := NewToleranceCache()
	c.Add(0, []float64{1, 2}, []float64{3}, nil)

	if _, _, ok := c.Get(1, []float64{1, 2}); ok {
		t.Fatalf("entries must not leak across realizations")
	}
	if c.Len(0) != 1 || c.Len(1) != 0 {
		t.Fatalf("unexpected lengths %d/%d", c.Len(0), c.Len(1))
	}
}

func TestToleranceBoundary(t *testing.T) {
	c := NewToleranceCache()
	base := []float64{0.5, -2.0, 10.0}
	c.Add(0, base, []float64{1}, nil)

	for i := range base {
		inside := append([]float64(nil), base...)
		inside[i] += Epsilon / 2
		if _, _, ok := c.Get(0, inside); !ok {
			t.Errorf("component %d: expected match within epsilon", i)
		}

		outside := append([]float64(nil), base...)
		outside[i] += Epsilon * 4
		if _, _, ok := c.Get(0, outside); ok {
			t.Errorf("component %d: expected no match beyond epsilon", i)
		}
	}
}

func TestFirstMatchWins(t *testing.T) {
	c := NewToleranceCache()
	c.Add(0, []float64{1}, []float64{10}, nil)
	c.Add(0, []float64{1}, []float64{20}, nil)

	obj, _, ok := c.Get(0, []float64{1})
	if !ok || obj[0] != 10 {
		t.Fatalf("expected earliest entry, got %v (ok=%v)", obj, ok)
	}
	if c.Len(0) != 2 {
		t.Fatalf("expected duplicates to accumulate, got %d entries", c.Len(0))
	}
}

func TestEntriesAreCopied(t *testing.T) {
	c := NewToleranceCache()
	controls := []float64{1}
	objectives := []float64{5}
	c.Add(0, controls, objectives, nil)

	controls[0] = 99
	objectives[0] = 99
	got, _, ok := c.Get(0, []float64{1})
	if !ok || got[0] != 5 {
		t.Fatalf("cache must not alias caller slices, got %v (ok=%v)", got, ok)
	}

	got[0] = 42
	again, _, _ := c.Get(0, []float64{1})
	if again[0] != 5 {
		t.Fatalf("returned slices must not alias cache storage")
	}
}

func TestNaNResultsAreCached(t *testing.T) {
	c := NewToleranceCache()
	c.Add(0, []float64{1}, []float64{math.NaN()}, nil)
	obj, _, ok := c.Get(0, []float64{1})
	if !ok || !math.IsNaN(obj[0]) {
		t.Fatalf("expected cached NaN, got %v (ok=%v)", obj, ok)
	}
}

func TestConcurrentAccess(t *testing.T) {
	c := NewToleranceCache()
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			c.Add(i%3, []float64{float64(i)}, []float64{float64(i)}, nil)
			c.Get(i%3, []float64{float64(i)})
		}(i)
	}
	wg.Wait()
	if c.Len(0)+c.Len(1)+c.Len(2) != 20 {
		t.Fatalf("expected 20 entries in total")
	}
}
