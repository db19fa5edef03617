package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// SimulatorMetrics contains Prometheus metrics for the soil data
// simulator.
type SimulatorMetrics struct {
	ReadingsPublished  *prometheus.CounterVec
	PublishFailures    *prometheus.CounterVec
	GenerationDuration *prometheus.HistogramVec
	FieldsSimulated    prometheus.Gauge
}

// NewSimulatorMetrics creates and registers simulator metrics.
func NewSimulatorMetrics(namespace string) *SimulatorMetrics {
	m := &SimulatorMetrics{
		ReadingsPublished: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "readings_published_total",
				Help:      "Total number of synthetic readings published",
			},
			[]string{"queue"},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "publish_failures_total",
				Help:      "Total number of failed reading publishes",
			},
			[]string{"queue", "reason"},
		),
		GenerationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "generation_duration_seconds",
				Help:      "Duration of reading generation and publish",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"queue"},
		),
		FieldsSimulated: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "simulator",
				Name:      "fields_simulated",
				Help:      "Number of pepper fields currently simulated",
			},
		),
	}

	MustRegister(
		m.ReadingsPublished,
		m.PublishFailures,
		m.GenerationDuration,
		m.FieldsSimulated,
	)

	return m
}
