package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics contains Prometheus metrics for the scoring engine.
type EngineMetrics struct {
	ReadingsTotal        *prometheus.CounterVec
	RejectsTotal         *prometheus.CounterVec
	ScoreObserved        *prometheus.HistogramVec
	RecommendationsTotal *prometheus.CounterVec
	DoseClampsTotal      prometheus.Counter
	DepletionFlagsTotal  prometheus.Counter
	IngestDuration       prometheus.Histogram
}

// NewEngineMetrics creates and registers engine metrics.
func NewEngineMetrics(namespace string) *EngineMetrics {
	m := &EngineMetrics{
		ReadingsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "readings_total",
				Help:      "Total number of readings processed",
			},
			[]string{"outcome"}, // outcome: scored, rejected
		),
		RejectsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "rejects_total",
				Help:      "Total number of rejected readings by reason",
			},
			[]string{"reason"},
		),
		ScoreObserved: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "health_score",
				Help:      "Distribution of computed soil health scores",
				Buckets:   prometheus.LinearBuckets(0, 10, 11),
			},
			[]string{"stage"},
		),
		RecommendationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "recommendations_total",
				Help:      "Total number of fertilizer recommendations by fertilizer",
			},
			[]string{"fertilizer"},
		),
		DoseClampsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "dose_clamps_total",
				Help:      "Total number of doses clamped to the maximum safe dose",
			},
		),
		DepletionFlagsTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "depletion_flags_total",
				Help:      "Total number of recommendations flagged with post-growth depletion",
			},
		),
		IngestDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "engine",
				Name:      "ingest_duration_seconds",
				Help:      "Duration of end-to-end reading ingestion",
				Buckets:   prometheus.DefBuckets,
			},
		),
	}

	MustRegister(
		m.ReadingsTotal,
		m.RejectsTotal,
		m.ScoreObserved,
		m.RecommendationsTotal,
		m.DoseClampsTotal,
		m.DepletionFlagsTotal,
		m.IngestDuration,
	)

	return m
}
