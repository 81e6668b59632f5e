package metrics

import (
	"sort"
	"sync"
	"time"
)

// Point is a single recorded value
type Point struct {
	Timestamp time.Time         `json:"timestamp"`
	Name      string            `json:"name"`
	Value     float64           `json:"value"`
	Labels    map[string]string `json:"labels,omitempty"`
}

// Aggregation holds summary statistics of a series
type Aggregation struct {
	Count int64   `json:"count"`
	Sum   float64 `json:"sum"`
	Min   float64 `json:"min"`
	Max   float64 `json:"max"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// Summary is the per-run report attached to an experiment result
type Summary struct {
	StartTime    time.Time               `json:"start_time"`
	EndTime      time.Time               `json:"end_time"`
	Duration     time.Duration           `json:"duration"`
	Aggregations map[string]*Aggregation `json:"aggregations"`
}

// Collector keeps an in-memory trace of one optimization run (batch
// durations, cache hits, candidate scores) for the final report.
type Collector struct {
	mu sync.RWMutex

	startTime time.Time
	endTime   time.Time

	// metric name -> label key -> points
	series map[string]map[string][]*Point
}

// NewCollector creates a new metrics collector
func NewCollector() *Collector {
	return &Collector{
		startTime: time.Now(),
		series:    make(map[string]map[string][]*Point),
	}
}

// Start marks the start of metric collection
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startTime = time.Now()
}

// Stop marks the end of metric collection
func (c *Collector) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endTime = time.Now()
}

// Record records a metric value at a specific timestamp
func (c *Collector) Record(name string, value float64, timestamp time.Time, labels map[string]string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	key := labelKey(labels)
	if c.series[name] == nil {
		c.series[name] = make(map[string][]*Point)
	}
	c.series[name][key] = append(c.series[name][key], &Point{
		Timestamp: timestamp,
		Name:      name,
		Value:     value,
		Labels:    copyLabels(labels),
	})
}

// RecordNow records a metric value at the current time
func (c *Collector) RecordNow(name string, value float64, labels map[string]string) {
	c.Record(name, value, time.Now(), labels)
}

// Series returns a copy of the points recorded for name and labels
func (c *Collector) Series(name string, labels map[string]string) []Point {
	c.mu.RLock()
	defer c.mu.RUnlock()

	points := c.series[name][labelKey(labels)]
	out := make([]Point, 0, len(points))
	for _, p := range points {
		out = append(out, Point{
			Timestamp: p.Timestamp,
			Name:      p.Name,
			Value:     p.Value,
			Labels:    copyLabels(p.Labels),
		})
	}
	return out
}

// Aggregate calculates statistics for one series, or nil when it is empty
func (c *Collector) Aggregate(name string, labels map[string]string) *Aggregation {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return calculateAggregation(c.series[name][labelKey(labels)])
}

// Summary aggregates every metric across all label sets
func (c *Collector) Summary() *Summary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	end := c.endTime
	if end.IsZero() {
		end = time.Now()
	}
	summary := &Summary{
		StartTime:    c.startTime,
		EndTime:      end,
		Duration:     end.Sub(c.startTime),
		Aggregations: make(map[string]*Aggregation, len(c.series)),
	}
	for name, byLabel := range c.series {
		var all []*Point
		for _, points := range byLabel {
			all = append(all, points...)
		}
		if agg := calculateAggregation(all); agg != nil {
			summary.Aggregations[name] = agg
		}
	}
	return summary
}

// Names returns all recorded metric names, sorted
func (c *Collector) Names() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	names := make([]string, 0, len(c.series))
	for name := range c.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// labelKey creates a key from labels for map lookup
func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return ""
	}

	keys := make([]string, 0, len(labels))
	for k := range labels {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	key := ""
	for _, k := range keys {
		key += k + "=" + labels[k] + ","
	}
	return key
}

func copyLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return nil
	}
	out := make(map[string]string, len(labels))
	for k, v := range labels {
		out[k] = v
	}
	return out
}

func calculateAggregation(points []*Point) *Aggregation {
	if len(points) == 0 {
		return nil
	}

	values := make([]float64, len(points))
	for i, p := range points {
		values[i] = p.Value
	}
	sort.Float64s(values)

	sum := 0.0
	for _, v := range values {
		sum += v
	}
	count := int64(len(values))

	return &Aggregation{
		Count: count,
		Sum:   sum,
		Min:   values[0],
		Max:   values[len(values)-1],
		Mean:  sum / float64(count),
		P50:   calculatePercentile(values, 0.50),
		P95:   calculatePercentile(values, 0.95),
		P99:   calculatePercentile(values, 0.99),
	}
}

// calculatePercentile interpolates linearly within a sorted slice
func calculatePercentile(sortedValues []float64, p float64) float64 {
	if len(sortedValues) == 0 {
		return 0.0
	}
	if len(sortedValues) == 1 {
		return sortedValues[0]
	}

	index := p * float64(len(sortedValues)-1)
	lower := int(index)
	upper := lower + 1
	if upper >= len(sortedValues) {
		return sortedValues[len(sortedValues)-1]
	}

	weight := index - float64(lower)
	return sortedValues[lower]*(1-weight) + sortedValues[upper]*weight
}
