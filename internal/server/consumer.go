package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	amqp "github.com/rabbitmq/amqp091-go"

	"pepperfield.dev/soilguard/internal/engine"
	"pepperfield.dev/soilguard/pkg/metrics"
	"pepperfield.dev/soilguard/pkg/mq"
	"pepperfield.dev/soilguard/pkg/wire"
)

// Consumer consumes soil readings from RabbitMQ and feeds them
// through the engine, which persists each accepted reading before
// recording it.
type Consumer struct {
	logger   *slog.Logger
	engine   *engine.Engine
	mqClient *mq.Client
	queue    string
	metrics  *metrics.ServerMetrics // optional
	done     chan struct{}
}

// ConsumerConfig holds the configuration for the Consumer.
type ConsumerConfig struct {
	Logger      *slog.Logger
	Engine      *engine.Engine
	RabbitMQURL string
	QueueName   string
	Metrics     *metrics.ServerMetrics
	MQMetrics   *metrics.MQMetrics
}

// NewConsumer creates a new Consumer instance.
func NewConsumer(cfg *ConsumerConfig) (*Consumer, error) {
	if cfg == nil {
		return nil, errors.New("consumer config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	if cfg.Engine == nil {
		return nil, errors.New("engine cannot be nil")
	}
	if cfg.RabbitMQURL == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}
	if cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	mqClient := mq.New(cfg.QueueName, cfg.RabbitMQURL, cfg.Logger.With(slog.String("component", "mq-client")))
	if cfg.MQMetrics != nil {
		mqClient.SetMetrics(cfg.MQMetrics)
	}

	return &Consumer{
		logger:   cfg.Logger,
		engine:   cfg.Engine,
		mqClient: mqClient,
		queue:    cfg.QueueName,
		metrics:  cfg.Metrics,
		done:     make(chan struct{}),
	}, nil
}

// Start begins consuming messages from RabbitMQ.
func (c *Consumer) Start(ctx context.Context) error {
	c.logger.Info("starting consumer")

	// Wait for MQ client to be ready
	time.Sleep(2 * time.Second)

	deliveries, err := c.mqClient.Consume()
	if err != nil {
		return fmt.Errorf("failed to start consuming: %w", err)
	}

	c.logger.Info("consumer started, waiting for readings")

	go c.processMessages(ctx, deliveries)

	return nil
}

func (c *Consumer) processMessages(ctx context.Context, deliveries <-chan amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			c.logger.Info("context canceled, stopping message processing")
			close(c.done)
			return

		case delivery, ok := <-deliveries:
			if !ok {
				c.logger.Warn("deliveries channel closed")
				close(c.done)
				return
			}

			c.handleDelivery(ctx, delivery)
		}
	}
}

// handleDelivery processes a single reading delivery. Unparseable and
// invalid readings are acked so the queue never wedges on a bad
// sample; only persistence failures are requeued.
func (c *Consumer) handleDelivery(ctx context.Context, delivery amqp.Delivery) {
	var timer *prometheus.Timer
	if c.metrics != nil {
		timer = prometheus.NewTimer(c.metrics.ProcessingDuration.WithLabelValues(c.queue))
		defer timer.ObserveDuration()
	}

	var payload wire.ReadingPayload
	if err := json.Unmarshal(delivery.Body, &payload); err != nil {
		c.logger.Error("failed to unmarshal reading", "error", err)
		c.count("error", "unmarshal_error")
		c.ack(delivery)
		return
	}

	record, rec, err := c.engine.Ingest(ctx, payload.Reading())
	if err != nil {
		if engine.IsInputError(err) {
			// The gateway is told nothing on this path; rejection
			// bookkeeping is the metrics' and logs' job.
			c.logger.Warn("reading rejected",
				"field_id", payload.FieldID,
				"reason", engine.RejectReason(err),
			)
			c.count("rejected", engine.RejectReason(err))
			c.ack(delivery)
			return
		}
		// Persistence failed before the reading reached the history,
		// so a redelivery reprocesses it from scratch.
		c.logger.Error("failed to persist assessment", "field_id", payload.FieldID, "error", err)
		c.count("error", "db_error")
		if nackErr := delivery.Nack(false, true); nackErr != nil {
			c.logger.Error("failed to nack message", "error", nackErr)
		}
		return
	}

	c.count("success", "")
	c.ack(delivery)

	c.logger.Debug("reading processed",
		"field_id", record.FieldID,
		"score", record.Score,
		"fertilizer", rec.Fertilizer,
	)
}

func (c *Consumer) ack(delivery amqp.Delivery) {
	if err := delivery.Ack(false); err != nil {
		c.logger.Error("failed to ack message", "error", err)
	}
}

func (c *Consumer) count(status, errorType string) {
	if c.metrics == nil {
		return
	}
	c.metrics.ConsumerMessagesTotal.WithLabelValues(c.queue, status).Inc()
	if errorType != "" && status != "success" {
		c.metrics.ConsumerErrors.WithLabelValues(c.queue, errorType).Inc()
	}
}

// Stop stops the consumer and closes the MQ client.
func (c *Consumer) Stop() error {
	c.logger.Info("stopping consumer")

	if err := c.mqClient.Close(); err != nil {
		return fmt.Errorf("failed to close mq client: %w", err)
	}

	// Wait for message processing to complete
	<-c.done

	c.logger.Info("consumer stopped")
	return nil
}
