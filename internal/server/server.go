package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gorm.io/gorm"

	"pepperfield.dev/soilguard/internal/engine"
	"pepperfield.dev/soilguard/pkg/metrics"
)

const (
	// warmupDepth bounds how many persisted score rows per field are
	// replayed into the engine on startup. It only needs to cover the
	// depletion comparison window plus a little trend context.
	warmupDepth = 10

	httpShutdownTimeout = 10 * time.Second
)

// Server runs the scoring engine service: queue consumer, optional
// MQTT source, persistence, and the HTTP API.
type Server struct {
	logger     *slog.Logger
	db         *gorm.DB
	store      *Store
	engine     *engine.Engine
	consumer   *Consumer
	mqttSource *MQTTSource
	httpServer *http.Server
	config     *ServerConfig
}

// ServerConfig holds the configuration for the Server.
type ServerConfig struct {
	Logger *slog.Logger

	// Engine configuration (nil tables fall back to defaults)
	Engine *engine.Config

	// Database configuration
	DBHost     string
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string
	DBPort     int

	// RabbitMQ configuration
	RabbitMQURL string
	QueueName   string

	// MQTT configuration; empty broker URL disables the MQTT source
	MQTTBrokerURL string
	MQTTTopic     string
	MQTTClientID  string
	MQTTUsername  string
	MQTTPassword  string

	// HTTP API configuration
	HTTPPort int
}

// NewServer creates a new Server instance.
func NewServer(cfg *ServerConfig) (*Server, error) {
	if cfg == nil {
		return nil, errors.New("server config cannot be nil")
	}

	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	if cfg.RabbitMQURL == "" {
		return nil, errors.New("rabbitmq URL cannot be empty")
	}

	if cfg.QueueName == "" {
		return nil, errors.New("queue name cannot be empty")
	}

	if cfg.DBHost == "" {
		return nil, errors.New("database host cannot be empty")
	}

	if cfg.DBPort <= 0 {
		return nil, errors.New("database port must be positive")
	}

	if cfg.DBUser == "" {
		return nil, errors.New("database user cannot be empty")
	}

	if cfg.DBName == "" {
		return nil, errors.New("database name cannot be empty")
	}

	if cfg.HTTPPort <= 0 {
		return nil, errors.New("HTTP port must be positive")
	}

	return &Server{
		logger: cfg.Logger,
		config: cfg,
	}, nil
}

// Run starts the engine server and blocks until shutdown.
func (s *Server) Run(ctx context.Context) error {
	s.logger.Info("starting engine server")

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM, syscall.SIGINT)

	serverMetrics := metrics.NewServerMetrics("soilguard")
	engineMetrics := metrics.NewEngineMetrics("soilguard")
	mqMetrics := metrics.NewMQMetrics("soilguard")

	// Initialize database
	dbCfg := &DBConfig{
		Host:     s.config.DBHost,
		Port:     s.config.DBPort,
		User:     s.config.DBUser,
		Password: s.config.DBPassword,
		DBName:   s.config.DBName,
		SSLMode:  s.config.DBSSLMode,
		Logger:   s.logger,
	}

	db, err := NewDB(dbCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.db = db

	s.logger.Info("database initialized successfully")

	store, err := NewStore(s.db, s.logger, serverMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}
	s.store = store

	// Initialize scoring engine
	engineCfg := s.config.Engine
	if engineCfg == nil {
		engineCfg = &engine.Config{}
	}
	engineCfg.Logger = s.logger
	engineCfg.Metrics = engineMetrics
	engineCfg.Saver = store.SaveAssessment

	eng, err := engine.New(engineCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize scoring engine: %w", err)
	}
	s.engine = eng

	// Warm the engine from persisted history so depletion and trend
	// detection survive restarts.
	warmRecords, err := s.store.WarmupRecords(ctx, warmupDepth)
	if err != nil {
		return fmt.Errorf("failed to load warmup records: %w", err)
	}
	if err := s.engine.Warm(warmRecords); err != nil {
		return fmt.Errorf("failed to warm engine: %w", err)
	}
	s.logger.Info("engine warmed from history", "records", len(warmRecords))

	// Initialize consumer
	consumerCfg := &ConsumerConfig{
		Logger:      s.logger,
		Engine:      s.engine,
		RabbitMQURL: s.config.RabbitMQURL,
		QueueName:   s.config.QueueName,
		Metrics:     serverMetrics,
		MQMetrics:   mqMetrics,
	}

	consumer, err := NewConsumer(consumerCfg)
	if err != nil {
		return fmt.Errorf("failed to initialize consumer: %w", err)
	}
	s.consumer = consumer

	if err := s.consumer.Start(ctx); err != nil {
		return fmt.Errorf("failed to start consumer: %w", err)
	}

	// Optional MQTT source for gateways that publish directly
	if s.config.MQTTBrokerURL != "" {
		mqttCfg := &MQTTConfig{
			Logger:    s.logger,
			Engine:    s.engine,
			BrokerURL: s.config.MQTTBrokerURL,
			Topic:     s.config.MQTTTopic,
			ClientID:  s.config.MQTTClientID,
			Username:  s.config.MQTTUsername,
			Password:  s.config.MQTTPassword,
		}

		source, err := NewMQTTSource(mqttCfg)
		if err != nil {
			return fmt.Errorf("failed to initialize MQTT source: %w", err)
		}
		s.mqttSource = source

		if err := s.mqttSource.Start(); err != nil {
			return fmt.Errorf("failed to start MQTT source: %w", err)
		}
	}

	// Initialize HTTP API
	handler, err := NewHandler(s.logger, s.engine, serverMetrics)
	if err != nil {
		return fmt.Errorf("failed to initialize HTTP handler: %w", err)
	}

	httpAddr := fmt.Sprintf(":%d", s.config.HTTPPort)
	s.httpServer = &http.Server{
		Addr:              httpAddr,
		Handler:           handler.Routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	s.logger.Info("starting HTTP server", "address", httpAddr)

	httpErr := make(chan error, 1)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- fmt.Errorf("HTTP server error: %w", err)
		}
		close(httpErr)
	}()

	s.logger.Info("engine server started successfully")

	// Wait for shutdown signal or HTTP error
	select {
	case sig := <-sigChan:
		s.logger.Info("received shutdown signal", "signal", sig.String())
		cancel()
	case <-ctx.Done():
		s.logger.Info("context canceled")
	case err := <-httpErr:
		if err != nil {
			s.logger.Error("HTTP server error", "error", err)
			cancel()
			return err
		}
	}

	return s.Shutdown()
}

// Shutdown gracefully shuts down the server.
func (s *Server) Shutdown() error {
	s.logger.Info("shutting down engine server")

	var shutdownErr error

	// Stop HTTP server
	if s.httpServer != nil {
		s.logger.Info("stopping HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), httpShutdownTimeout)
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("failed to stop HTTP server", "error", err)
			shutdownErr = fmt.Errorf("HTTP server shutdown error: %w", err)
		}
		cancel()
		s.logger.Info("HTTP server stopped")
	}

	// Stop MQTT source
	if s.mqttSource != nil {
		s.logger.Info("stopping MQTT source")
		s.mqttSource.Stop()
		s.logger.Info("MQTT source stopped")
	}

	// Stop consumer
	if s.consumer != nil {
		s.logger.Info("stopping consumer")
		if err := s.consumer.Stop(); err != nil {
			s.logger.Error("failed to stop consumer", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; consumer shutdown error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("consumer shutdown error: %w", err)
			}
		}
	}

	// Close database
	if s.db != nil {
		s.logger.Info("closing database connection")
		if err := CloseDB(s.db, s.logger); err != nil {
			s.logger.Error("failed to close database", "error", err)
			if shutdownErr != nil {
				shutdownErr = fmt.Errorf("%w; database close error: %w", shutdownErr, err)
			} else {
				shutdownErr = fmt.Errorf("database close error: %w", err)
			}
		}
	}

	if shutdownErr != nil {
		s.logger.Error("engine server shutdown completed with errors", "error", shutdownErr)
		return shutdownErr
	}

	s.logger.Info("engine server shutdown completed")
	return nil
}
