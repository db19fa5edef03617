// Package server wires the scoring engine into its runtime: RabbitMQ
// and MQTT ingestion, PostgreSQL persistence and the HTTP API.
package server

import (
	"time"

	"pepperfield.dev/soilguard/internal/engine"
)

// HealthScoreRow is the persisted form of a scoring event. The
// database is the durable audit copy; ordering and trends stay with
// the engine's in-memory history.
type HealthScoreRow struct {
	ID           uint                      `gorm:"primaryKey"`
	FieldID      string                    `gorm:"index:idx_field_timestamp;not null"`
	Timestamp    time.Time                 `gorm:"index:idx_field_timestamp;not null"`
	Stage        string                    `gorm:"not null"`
	Score        float64                   `gorm:"not null"`
	Deficiencies []engine.DeficiencyResult `gorm:"serializer:json"`
	CreatedAt    time.Time                 `gorm:"autoCreateTime"`
}

// TableName specifies the table name for HealthScoreRow.
func (HealthScoreRow) TableName() string {
	return "health_scores"
}

// RecommendationRow is the persisted form of a fertilizer
// recommendation.
type RecommendationRow struct {
	ID         uint      `gorm:"primaryKey"`
	RecID      string    `gorm:"uniqueIndex;not null"`
	FieldID    string    `gorm:"index;not null"`
	Timestamp  time.Time `gorm:"not null"`
	Stage      string    `gorm:"not null"`
	Fertilizer string
	Quantity   float64
	Unit       string
	Maintain   bool
	Rationale  []string  `gorm:"serializer:json"`
	Warnings   []string  `gorm:"serializer:json"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for RecommendationRow.
func (RecommendationRow) TableName() string {
	return "recommendations"
}

func newHealthScoreRow(rec *engine.HealthScoreRecord) *HealthScoreRow {
	return &HealthScoreRow{
		FieldID:      rec.FieldID,
		Timestamp:    rec.Timestamp,
		Stage:        string(rec.Stage),
		Score:        rec.Score,
		Deficiencies: rec.Deficiencies,
	}
}

func newRecommendationRow(rec *engine.Recommendation) *RecommendationRow {
	warnings := make([]string, 0, len(rec.Warnings))
	for _, w := range rec.Warnings {
		warnings = append(warnings, string(w))
	}
	return &RecommendationRow{
		RecID:      rec.ID,
		FieldID:    rec.FieldID,
		Timestamp:  rec.Timestamp,
		Stage:      string(rec.Stage),
		Fertilizer: rec.Fertilizer,
		Quantity:   rec.Quantity,
		Unit:       rec.Unit,
		Maintain:   rec.Maintain,
		Rationale:  rec.Rationale,
		Warnings:   warnings,
	}
}

// record converts a persisted row back into an engine record, used to
// warm the in-memory history at startup.
func (r *HealthScoreRow) record() engine.HealthScoreRecord {
	return engine.HealthScoreRecord{
		FieldID:      r.FieldID,
		Timestamp:    r.Timestamp,
		Score:        r.Score,
		Stage:        engine.GrowthStage(r.Stage),
		Deficiencies: r.Deficiencies,
	}
}
