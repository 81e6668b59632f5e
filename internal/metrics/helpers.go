package metrics

import (
	"strconv"
	"time"
)

// Run trace metric names
const (
	MetricBatchDuration  = "batch_duration_ms"
	MetricBatchSize      = "batch_simulations"
	MetricCacheHits      = "batch_cache_hits"
	MetricFailedRows     = "batch_failed_rows"
	MetricCandidateScore = "candidate_score"
	MetricBestScore      = "best_score"
)

// BatchStats describes one evaluated batch
type BatchStats struct {
	BatchID     int
	Duration    time.Duration
	Simulations int
	CacheHits   int
	FailedRows  int
}

// RecordBatch updates the prometheus counters and, when collector is
// non-nil, the run trace.
func RecordBatch(collector *Collector, stats BatchStats) {
	BatchesTotal.Inc()
	BatchDuration.Observe(stats.Duration.Seconds())
	CacheHits.Add(float64(stats.CacheHits))
	CacheMisses.Add(float64(stats.Simulations))
	SimulationsDispatched.Add(float64(stats.Simulations))
	SimulationsFailed.Add(float64(stats.FailedRows))

	if collector == nil {
		return
	}
	now := time.Now()
	labels := map[string]string{"batch": strconv.Itoa(stats.BatchID)}
	collector.Record(MetricBatchDuration, float64(stats.Duration.Milliseconds()), now, nil)
	collector.Record(MetricBatchSize, float64(stats.Simulations), now, nil)
	collector.Record(MetricCacheHits, float64(stats.CacheHits), now, nil)
	collector.Record(MetricFailedRows, float64(stats.FailedRows), now, labels)
}

// RecordScore records an optimizer candidate score for an iteration
func RecordScore(collector *Collector, iteration int, score float64, best bool) {
	if collector == nil {
		return
	}
	labels := map[string]string{"iteration": strconv.Itoa(iteration)}
	collector.RecordNow(MetricCandidateScore, score, labels)
	if best {
		collector.RecordNow(MetricBestScore, score, nil)
	}
}
