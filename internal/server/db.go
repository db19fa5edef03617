package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"pepperfield.dev/soilguard/internal/engine"
	"pepperfield.dev/soilguard/pkg/metrics"
)

// DBConfig holds the database configuration.
type DBConfig struct {
	Logger   *slog.Logger
	Host     string
	User     string
	Password string
	DBName   string
	SSLMode  string
	Port     int
}

// NewDB creates a new database connection and runs migrations.
func NewDB(cfg *DBConfig) (*gorm.DB, error) {
	if cfg == nil {
		return nil, errors.New("database config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)

	cfg.Logger.Info("connecting to database",
		"host", cfg.Host,
		"port", cfg.Port,
		"dbname", cfg.DBName,
	)

	gormConfig := &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent), // Use slog instead of GORM's logger
		NowFunc: func() time.Time {
			return time.Now().UTC()
		},
	}

	db, err := gorm.Open(postgres.Open(dsn), gormConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get database instance: %w", err)
	}

	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(100)
	sqlDB.SetConnMaxLifetime(time.Hour)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	cfg.Logger.Info("database connection established")

	if err := runMigrations(db, cfg.Logger); err != nil {
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return db, nil
}

// runMigrations runs database migrations for all models.
func runMigrations(db *gorm.DB, logger *slog.Logger) error {
	logger.Info("running database migrations")

	if err := db.AutoMigrate(
		&HealthScoreRow{},
		&RecommendationRow{},
	); err != nil {
		return fmt.Errorf("auto-migration failed: %w", err)
	}

	logger.Info("database migrations completed successfully")
	return nil
}

// CloseDB closes the database connection.
func CloseDB(db *gorm.DB, logger *slog.Logger) error {
	if db == nil {
		return nil
	}

	sqlDB, err := db.DB()
	if err != nil {
		return fmt.Errorf("failed to get database instance: %w", err)
	}

	logger.Info("closing database connection")
	if err := sqlDB.Close(); err != nil {
		return fmt.Errorf("failed to close database: %w", err)
	}

	logger.Info("database connection closed")
	return nil
}

// Store persists scoring events and recommendations.
type Store struct {
	db      *gorm.DB
	logger  *slog.Logger
	metrics *metrics.ServerMetrics // optional
}

// NewStore creates a Store instance.
func NewStore(db *gorm.DB, logger *slog.Logger, m *metrics.ServerMetrics) (*Store, error) {
	if db == nil {
		return nil, errors.New("database cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}
	return &Store{db: db, logger: logger, metrics: m}, nil
}

// SaveAssessment stores the score record and its recommendation in a
// single transaction, so the audit trail never holds half a result.
func (s *Store) SaveAssessment(ctx context.Context, record *engine.HealthScoreRecord, rec *engine.Recommendation) error {
	var timer *prometheus.Timer
	if s.metrics != nil {
		timer = prometheus.NewTimer(s.metrics.DBOperationDuration.WithLabelValues("insert", "health_scores"))
		defer timer.ObserveDuration()
	}

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(newHealthScoreRow(record)).Error; err != nil {
			return fmt.Errorf("failed to create health score row: %w", err)
		}
		if err := tx.Create(newRecommendationRow(rec)).Error; err != nil {
			return fmt.Errorf("failed to create recommendation row: %w", err)
		}
		return nil
	})

	if s.metrics != nil {
		status := "success"
		if err != nil {
			status = "error"
		}
		s.metrics.DBOperationsTotal.WithLabelValues("insert", "health_scores", status).Inc()
	}
	return err
}

// WarmupRecords loads the most recent depth score rows per field,
// oldest first within each field, for replay into the engine's
// in-memory history.
func (s *Store) WarmupRecords(ctx context.Context, depth int) ([]engine.HealthScoreRecord, error) {
	if depth <= 0 {
		return nil, nil
	}

	var fieldIDs []string
	if err := s.db.WithContext(ctx).Model(&HealthScoreRow{}).Distinct().Pluck("field_id", &fieldIDs).Error; err != nil {
		return nil, fmt.Errorf("failed to list fields: %w", err)
	}
	sort.Strings(fieldIDs)

	var records []engine.HealthScoreRecord
	for _, fieldID := range fieldIDs {
		var rows []HealthScoreRow
		if err := s.db.WithContext(ctx).
			Where("field_id = ?", fieldID).
			Order("timestamp DESC, id DESC").
			Limit(depth).
			Find(&rows).Error; err != nil {
			return nil, fmt.Errorf("failed to load history for field %s: %w", fieldID, err)
		}
		// Reverse into chronological order.
		for i := len(rows) - 1; i >= 0; i-- {
			records = append(records, rows[i].record())
		}
	}
	return records, nil
}
