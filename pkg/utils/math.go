package utils

import (
	"math"
)

// Float32Epsilon is the machine epsilon of a 32-bit float (2^-23)
var Float32Epsilon = float64(math.Nextafter32(1, 2) - 1)

// AllClose reports whether a and b have the same length and every component
// differs by at most atol. There is no relative tolerance term.
func AllClose(a, b []float64, atol float64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !(math.Abs(a[i]-b[i]) <= atol) {
			return false
		}
	}
	return true
}

// CloneFloat64s returns a copy of values, preserving nil
func CloneFloat64s(values []float64) []float64 {
	if values == nil {
		return nil
	}
	out := make([]float64, len(values))
	copy(out, values)
	return out
}

// NaNs returns a slice of length n filled with NaN
func NaNs(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

// HasNaN reports whether any value is NaN
func HasNaN(values []float64) bool {
	for _, v := range values {
		if math.IsNaN(v) {
			return true
		}
	}
	return false
}

// ClampFloat64 clamps a float64 value between min and max
func ClampFloat64(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}

// Mean calculates the mean of a slice of float64 values
func Mean(values []float64) float64 {
	if len(values) == 0 {
		return 0
	}
	return Sum(values) / float64(len(values))
}

// WeightedMean averages values with the given weights, renormalising over the
// weights that are actually used. Returns NaN when the total weight is zero.
func WeightedMean(values, weights []float64) float64 {
	total := 0.0
	weightSum := 0.0
	for i, v := range values {
		w := 1.0
		if i < len(weights) {
			w = weights[i]
		}
		total += w * v
		weightSum += w
	}
	if weightSum == 0 {
		return math.NaN()
	}
	return total / weightSum
}

// Sum calculates the sum of a slice of float64 values
func Sum(values []float64) float64 {
	sum := 0.0
	for _, v := range values {
		sum += v
	}
	return sum
}
