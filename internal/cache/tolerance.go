// Package cache holds simulation results keyed by realization and an
// approximately equal control vector.
package cache

import (
	"sync"

	"github.com/GoSim-25-26J-441/ensemble-evaluator/pkg/utils"
)

// Entry is one cached evaluation
type Entry struct {
	Controls    []float64
	Objectives  []float64
	Constraints []float64 // nil when no output constraints are configured
}

// ToleranceCache stores, per realization, every evaluated control vector in
// insertion order. Lookups return the first entry whose controls match within
// Epsilon on every component. Entries are never evicted; the per-realization
// scan is linear in the number of batches that touched that realization.
type ToleranceCache struct {
	mu      sync.RWMutex
	epsilon float64
	data    map[int][]Entry
}

// Epsilon is the absolute tolerance used for control vector matching
var Epsilon = utils.Float32Epsilon

// NewToleranceCache creates an empty cache
func NewToleranceCache() *ToleranceCache {
	return &ToleranceCache{
		epsilon: Epsilon,
		data:    make(map[int][]Entry),
	}
}

// Add appends an entry for the realization. Existing entries are never
// replaced, even if they match the same controls.
func (c *ToleranceCache) Add(realization int, controls, objectives, constraints []float64) {
	entry := Entry{
		Controls:    utils.CloneFloat64s(controls),
		Objectives:  utils.CloneFloat64s(objectives),
		Constraints: utils.CloneFloat64s(constraints),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.data[realization] = append(c.data[realization], entry)
}

// Get returns copies of the objectives and constraints of the earliest entry
// matching controls for the realization.
func (c *ToleranceCache) Get(realization int, controls []float64) (objectives, constraints []float64, ok bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for _, entry := range c.data[realization] {
		if utils.AllClose(controls, entry.Controls, c.epsilon) {
			return utils.CloneFloat64s(entry.Objectives), utils.CloneFloat64s(entry.Constraints), true
		}
	}
	return nil, nil, false
}

// Len returns the number of entries held for a realization
func (c *ToleranceCache) Len(realization int) int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.data[realization])
}
