package engine

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"pepperfield.dev/soilguard/pkg/metrics"
)

// depletionWindow is how many prior records Ingest hands to the
// recommender for the depletion check.
const depletionWindow = 3

// Saver durably stores a scoring event and its recommendation. Ingest
// calls it before committing the record to the in-memory history, so a
// failed save leaves no trace and the same reading can be redelivered.
type Saver func(ctx context.Context, record *HealthScoreRecord, rec *Recommendation) error

// Config holds the configuration for the Engine. The rule tables are
// external configuration; nil slices and maps select the built-in
// black pepper defaults.
type Config struct {
	Logger          *slog.Logger
	Ranges          []NutrientRange
	Weights         Weights
	FertilizerRules []FertilizerRule
	DoseBounds      DoseBounds
	Saver           Saver                  // optional
	Metrics         *metrics.EngineMetrics // optional
}

// Engine is the end-to-end scoring pipeline. It is safe for
// concurrent use: readings for distinct fields process independently,
// while readings for the same field serialize on a per-field lock.
type Engine struct {
	logger  *slog.Logger
	table   *RangeTable
	scorer  *Scorer
	rec     *Recommender
	history *HistoryTracker
	saver   Saver
	metrics *metrics.EngineMetrics

	mu     sync.Mutex
	stages map[string]GrowthStage
	locks  map[string]*sync.Mutex
}

// New creates an Engine, validating all rule tables up front. A
// malformed range table, weight vector or fertilizer table is a fatal
// configuration error; the engine refuses to operate rather than
// produce misleading scores.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("engine config cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	rows := cfg.Ranges
	if rows == nil {
		rows = DefaultRanges()
	}
	table, err := NewRangeTable(rows)
	if err != nil {
		return nil, err
	}

	scorer, err := NewScorer(cfg.Weights)
	if err != nil {
		return nil, err
	}

	rules := cfg.FertilizerRules
	if rules == nil {
		rules = DefaultFertilizerRules()
	}
	bounds := cfg.DoseBounds
	if bounds == (DoseBounds{}) {
		bounds = DefaultDoseBounds()
	}
	rec, err := NewRecommender(rules, bounds)
	if err != nil {
		return nil, err
	}

	return &Engine{
		logger:  cfg.Logger,
		table:   table,
		scorer:  scorer,
		rec:     rec,
		history: NewHistoryTracker(),
		saver:   cfg.Saver,
		metrics: cfg.Metrics,
		stages:  make(map[string]GrowthStage),
		locks:   make(map[string]*sync.Mutex),
	}, nil
}

// lockField serializes ingestion per field so same-field readings
// append in arrival order while other fields proceed unblocked.
func (e *Engine) lockField(fieldID string) func() {
	e.mu.Lock()
	l, ok := e.locks[fieldID]
	if !ok {
		l = &sync.Mutex{}
		e.locks[fieldID] = l
	}
	e.mu.Unlock()
	l.Lock()
	return l.Unlock
}

// Ingest runs one raw sample through the full pipeline and appends the
// scoring event to the field's history. On any validation error the
// reading is rejected whole: no history is mutated and no partial
// result is returned. When a Saver is configured it runs before the
// history append, so a failed save also leaves the history untouched
// and a redelivery of the same reading cannot duplicate it.
func (e *Engine) Ingest(ctx context.Context, raw RawReading) (*HealthScoreRecord, *Recommendation, error) {
	var timer *prometheus.Timer
	if e.metrics != nil {
		timer = prometheus.NewTimer(e.metrics.IngestDuration)
		defer timer.ObserveDuration()
	}

	reading, err := Normalize(raw)
	if err != nil {
		e.reject(raw.FieldID, err)
		return nil, nil, err
	}

	unlock := e.lockField(reading.FieldID)
	defer unlock()

	stage := e.Stage(reading.FieldID)

	results, err := Classify(reading, stage, e.table)
	if err != nil {
		e.reject(reading.FieldID, err)
		return nil, nil, err
	}

	score := e.scorer.Score(results)
	prior := e.history.Recent(reading.FieldID, depletionWindow)
	rec := e.rec.Recommend(reading.FieldID, reading.Timestamp, results, stage, prior, score)

	record := HealthScoreRecord{
		FieldID:      reading.FieldID,
		Timestamp:    reading.Timestamp,
		Score:        score,
		Stage:        stage,
		Deficiencies: results,
	}
	var commit func() error
	if e.saver != nil {
		commit = func() error { return e.saver(ctx, &record, &rec) }
	}
	if err := e.history.RecordWith(record, commit); err != nil {
		if IsInputError(err) {
			e.reject(reading.FieldID, err)
		} else {
			e.logger.Error("failed to persist scoring event", "field_id", reading.FieldID, "error", err)
		}
		return nil, nil, err
	}

	e.observe(&record, &rec)
	e.logger.Debug("reading scored",
		"field_id", reading.FieldID,
		"stage", stage,
		"score", score,
		"fertilizer", rec.Fertilizer,
		"maintain", rec.Maintain,
	)
	return &record, &rec, nil
}

func (e *Engine) reject(fieldID string, err error) {
	if e.metrics != nil {
		e.metrics.ReadingsTotal.WithLabelValues("rejected").Inc()
		e.metrics.RejectsTotal.WithLabelValues(RejectReason(err)).Inc()
	}
	e.logger.Warn("reading rejected", "field_id", fieldID, "reason", RejectReason(err), "error", err)
}

func (e *Engine) observe(record *HealthScoreRecord, rec *Recommendation) {
	if e.metrics == nil {
		return
	}
	e.metrics.ReadingsTotal.WithLabelValues("scored").Inc()
	e.metrics.ScoreObserved.WithLabelValues(string(record.Stage)).Observe(record.Score)
	if !rec.Maintain {
		e.metrics.RecommendationsTotal.WithLabelValues(rec.Fertilizer).Inc()
	}
	for _, w := range rec.Warnings {
		if w == WarningOverdoseClamped {
			e.metrics.DoseClampsTotal.Inc()
		}
	}
	for _, r := range rec.Rationale {
		if r == RationaleDepletion {
			e.metrics.DepletionFlagsTotal.Inc()
		}
	}
}

// SetStage records an externally driven growth stage transition for a
// field. Transitions are monotonic forward; a regressing transition is
// rejected. Fields without a recorded stage default to PrePlanting.
func (e *Engine) SetStage(fieldID string, stage GrowthStage) error {
	if fieldID == "" {
		return &MissingFieldError{Field: "field_id"}
	}
	if !stage.Valid() {
		return &MissingFieldError{Field: "stage"}
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if current, ok := e.stages[fieldID]; ok && stage.ordinal() < current.ordinal() {
		return &StageRegressionError{FieldID: fieldID, From: current, To: stage}
	}
	e.stages[fieldID] = stage
	return nil
}

// Stage returns the field's current growth stage.
func (e *Engine) Stage(fieldID string) GrowthStage {
	e.mu.Lock()
	defer e.mu.Unlock()
	if s, ok := e.stages[fieldID]; ok {
		return s
	}
	return PrePlanting
}

// History returns the last n score records for the field in
// chronological order.
func (e *Engine) History(fieldID string, n int) []HealthScoreRecord {
	return e.history.Recent(fieldID, n)
}

// Trend returns the signed slope of the field's score history, or
// ok=false when fewer than two records exist.
func (e *Engine) Trend(fieldID string) (float64, bool) {
	return e.history.Trend(fieldID)
}

// Warm replays previously persisted records into the in-memory
// history, oldest first per field, so trends survive a restart. Stage
// registrations advance to each record's stage.
func (e *Engine) Warm(records []HealthScoreRecord) error {
	for _, rec := range records {
		if err := e.history.Record(rec); err != nil {
			return err
		}
		if rec.Stage.Valid() {
			if err := e.SetStage(rec.FieldID, rec.Stage); err != nil {
				// A stage regression inside archived data is a data
				// problem, not a reason to refuse startup.
				e.logger.Warn("skipping archived stage transition", "field_id", rec.FieldID, "error", err)
			}
		}
	}
	return nil
}
