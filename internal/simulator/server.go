package simulator

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"pepperfield.dev/soilguard/pkg/metrics"
	"pepperfield.dev/soilguard/pkg/mq"
)

// ServerConfig holds the configuration for the simulator server.
type ServerConfig struct {
	// Logger is the structured logger
	Logger *slog.Logger
	// RabbitMQURL is the connection string for RabbitMQ
	RabbitMQURL string
	// QueueName is the name of the queue to publish readings to
	QueueName string
	// Interval is the time between readings per field
	Interval time.Duration
	// FieldCount is the number of concurrently simulated fields
	FieldCount int
	// ReadingsPerStage is how many readings a field emits before its
	// growth stage advances; 0 keeps fields in their initial stage
	ReadingsPerStage int
	// Metrics is the optional Prometheus metrics collector
	Metrics *metrics.SimulatorMetrics
	// MQMetrics is the optional Prometheus metrics collector for MQ operations
	MQMetrics *metrics.MQMetrics
}

// Server manages a pool of field producers.
type Server struct {
	logger    *slog.Logger
	config    *ServerConfig
	producers []*FieldProducer
	clients   []*mq.Client
	wg        sync.WaitGroup
	metrics   *metrics.SimulatorMetrics
}

var (
	errInvalidFieldCount = errors.New("field count must be greater than 0")
	errInvalidInterval   = errors.New("interval must be greater than 0")
	errLoggerRequired    = errors.New("logger is required")
)

// NewServer creates a new simulator server with the given configuration.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg.FieldCount <= 0 {
		return nil, errInvalidFieldCount
	}

	if cfg.Interval <= 0 {
		return nil, errInvalidInterval
	}

	if cfg.Logger == nil {
		return nil, errLoggerRequired
	}

	s := &Server{
		config:    cfg,
		producers: make([]*FieldProducer, 0, cfg.FieldCount),
		clients:   make([]*mq.Client, 0, cfg.FieldCount),
		logger:    cfg.Logger,
		metrics:   cfg.Metrics,
	}

	// Each field gets its own MQ client so a stalled connection only
	// affects one field's stream.
	for i := 0; i < cfg.FieldCount; i++ {
		client := mq.New(cfg.QueueName, cfg.RabbitMQURL, cfg.Logger.With(
			slog.String("component", "mq-client"),
			slog.Int("field_index", i),
		))

		if cfg.MQMetrics != nil {
			client.SetMetrics(cfg.MQMetrics)
		}

		producer := NewFieldProducer(client, cfg.QueueName)

		if cfg.Metrics != nil {
			producer.SetMetrics(cfg.Metrics)
		}

		s.clients = append(s.clients, client)
		s.producers = append(s.producers, producer)

		s.logger.Info("created field producer",
			"field_index", i,
			"field_id", producer.Simulator.Field().FieldID,
			"queue", cfg.QueueName,
		)
	}

	return s, nil
}

// Run starts all field producers and blocks until shutdown signal is received.
func (s *Server) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	for i, producer := range s.producers {
		s.wg.Add(1)
		go s.runProducer(ctx, i, producer)
	}

	s.logger.Info("simulator server started",
		"field_count", len(s.producers),
		"interval", s.config.Interval,
	)

	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled, shutting down")
	}

	s.logger.Info("waiting for field producers to shut down...")
	s.wg.Wait()

	s.logger.Info("closing MQ clients...")
	s.closeClients()

	s.logger.Info("simulator server stopped")
	return nil
}

// runProducer runs a single field producer, emitting readings at the
// configured interval and advancing the growth stage as the field ages.
func (s *Server) runProducer(ctx context.Context, id int, producer *FieldProducer) {
	defer s.wg.Done()

	if s.metrics != nil {
		s.metrics.FieldsSimulated.Inc()
		defer s.metrics.FieldsSimulated.Dec()
	}

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	producerLogger := s.logger.With(
		slog.Int("field_index", id),
		slog.String("field_id", producer.Simulator.Field().FieldID),
	)
	producerLogger.Info("field producer started")

	published := 0
	for {
		select {
		case <-ctx.Done():
			producerLogger.Info("field producer shutting down")
			return

		case t := <-ticker.C:
			if err := producer.PublishReading(ctx, t); err != nil {
				producerLogger.Error("failed to publish reading",
					"error", err,
				)
				// Continue on error - don't stop the producer
				continue
			}

			published++
			if s.config.ReadingsPerStage > 0 && published%s.config.ReadingsPerStage == 0 {
				producer.AdvanceStage()
				producerLogger.Info("field advanced to next growth stage",
					"stage", producer.Simulator.Stage(),
				)
			}

			producerLogger.Debug("reading published")
		}
	}
}

// closeClients closes all MQ clients gracefully.
func (s *Server) closeClients() {
	var wg sync.WaitGroup

	for i, client := range s.clients {
		wg.Add(1)
		go func(id int, c *mq.Client) {
			defer wg.Done()

			if err := c.Close(); err != nil {
				s.logger.Error("failed to close MQ client",
					"field_index", id,
					"error", err,
				)
				return
			}

			s.logger.Info("MQ client closed", "field_index", id)
		}(i, client)
	}

	wg.Wait()
}

// Shutdown initiates a graceful shutdown of the server.
// This is an alternative to sending OS signals.
func (s *Server) Shutdown() error {
	s.logger.Info("shutdown requested")

	s.closeClients()

	return nil
}
