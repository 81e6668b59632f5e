package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Batch pipeline counters and histograms, exposed on /metrics.

var (
	BatchesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evaluator",
		Subsystem: "batch",
		Name:      "evaluated_total",
		Help:      "Total batches evaluated",
	})

	BatchErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "evaluator",
		Subsystem: "batch",
		Name:      "errors_total",
		Help:      "Total batches that ended with an error",
	}, []string{"op"})

	BatchDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "evaluator",
		Subsystem: "batch",
		Name:      "duration_seconds",
		Help:      "Batch evaluation duration",
		Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 300},
	})

	CacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evaluator",
		Subsystem: "cache",
		Name:      "hits_total",
		Help:      "Control vectors answered from the tolerance cache",
	})

	CacheMisses = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evaluator",
		Subsystem: "cache",
		Name:      "misses_total",
		Help:      "Control vectors that needed a simulation",
	})

	SimulationsDispatched = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evaluator",
		Subsystem: "simulation",
		Name:      "dispatched_total",
		Help:      "Total simulations dispatched to the execution service",
	})

	SimulationsFailed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "evaluator",
		Subsystem: "simulation",
		Name:      "failed_total",
		Help:      "Total simulations that did not finish successfully",
	})

	ForwardModelErrors = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "evaluator",
		Subsystem: "forward_model",
		Name:      "distinct_errors",
		Help:      "Distinct forward-model error messages seen during the run",
	})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "evaluator",
		Subsystem: "forward_model",
		Name:      "step_duration_seconds",
		Help:      "Forward-model step duration",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 30},
	}, []string{"step"})
)
