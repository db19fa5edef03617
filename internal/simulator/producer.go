// Package simulator generates synthetic pepper field soil readings and
// publishes them to a message queue for the scoring engine to consume.
package simulator

import (
	"context"
	"encoding/json"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"pepperfield.dev/soilguard/pkg/generator"
	"pepperfield.dev/soilguard/pkg/metrics"
	"pepperfield.dev/soilguard/pkg/mq"
	"pepperfield.dev/soilguard/pkg/wire"
)

// FieldProducer drives one simulated field and publishes its readings.
type FieldProducer struct {
	MQClient  mq.ClientInterface
	Simulator *generator.SoilSimulator
	queueName string
	metrics   *metrics.SimulatorMetrics // optional
}

// NewFieldProducer creates a producer around a freshly generated field.
func NewFieldProducer(mqClient mq.ClientInterface, queueName string) *FieldProducer {
	return &FieldProducer{
		MQClient:  mqClient,
		Simulator: generator.NewSoilSimulator(generator.NewField()),
		queueName: queueName,
	}
}

// SetMetrics sets the metrics collector for this producer.
func (p *FieldProducer) SetMetrics(m *metrics.SimulatorMetrics) {
	p.metrics = m
}

// PublishReading generates the next reading for the field and publishes
// it as JSON to the readings queue.
func (p *FieldProducer) PublishReading(ctx context.Context, t time.Time) error {
	var timer *prometheus.Timer
	if p.metrics != nil {
		timer = prometheus.NewTimer(p.metrics.GenerationDuration.WithLabelValues(p.queueName))
		defer timer.ObserveDuration()
	}

	reading := p.Simulator.Next(t)

	message, err := json.Marshal(wire.FromReading(reading))
	if err != nil {
		if p.metrics != nil {
			p.metrics.PublishFailures.WithLabelValues(p.queueName, "marshal_error").Inc()
		}
		return err
	}

	if err := p.MQClient.Push(ctx, message); err != nil {
		if p.metrics != nil {
			p.metrics.PublishFailures.WithLabelValues(p.queueName, "push_error").Inc()
		}
		return err
	}

	if p.metrics != nil {
		p.metrics.ReadingsPublished.WithLabelValues(p.queueName).Inc()
	}

	return nil
}

// AdvanceStage moves the simulated field to its next growth stage.
func (p *FieldProducer) AdvanceStage() {
	p.Simulator.Advance()
}
