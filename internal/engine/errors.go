package engine

import (
	"errors"
	"fmt"
	"time"
)

// InvalidReadingError reports a parameter value outside its physical
// plausibility range. The reading is rejected, never clamped.
type InvalidReadingError struct {
	Parameter Parameter
	Value     float64
	Min       float64
	Max       float64
}

func (e *InvalidReadingError) Error() string {
	return fmt.Sprintf("invalid reading: %s value %.2f outside physical range [%.2f, %.2f]",
		e.Parameter, e.Value, e.Min, e.Max)
}

// MissingFieldError reports a required part of a raw sample that the
// gateway did not deliver.
type MissingFieldError struct {
	Field string
}

func (e *MissingFieldError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// OutOfOrderReadingError reports a reading timestamped earlier than
// the last record stored for the same field. Trend computation depends
// on insertion order reflecting time order, so the reading is rejected
// rather than silently reordered.
type OutOfOrderReadingError struct {
	FieldID   string
	Timestamp time.Time
	Last      time.Time
}

func (e *OutOfOrderReadingError) Error() string {
	return fmt.Sprintf("out-of-order reading for field %s: %s is earlier than last recorded %s",
		e.FieldID, e.Timestamp.Format(time.RFC3339), e.Last.Format(time.RFC3339))
}

// MissingRangeError reports a (parameter, stage) pair the range table
// does not cover. This is a configuration error: the engine refuses to
// operate rather than produce a misleading score.
type MissingRangeError struct {
	Parameter Parameter
	Stage     GrowthStage
}

func (e *MissingRangeError) Error() string {
	return fmt.Sprintf("no nutrient range configured for %s at stage %s", e.Parameter, e.Stage)
}

// StageRegressionError reports an attempted backwards growth stage
// transition. Stages only move forward.
type StageRegressionError struct {
	FieldID string
	From    GrowthStage
	To      GrowthStage
}

func (e *StageRegressionError) Error() string {
	return fmt.Sprintf("growth stage for field %s cannot regress from %s to %s", e.FieldID, e.From, e.To)
}

// IsInputError reports whether err is a per-reading validation error,
// recovered by rejecting the single reading. Configuration errors and
// anything else are not input errors.
func IsInputError(err error) bool {
	var invalid *InvalidReadingError
	var missing *MissingFieldError
	var outOfOrder *OutOfOrderReadingError
	return errors.As(err, &invalid) || errors.As(err, &missing) || errors.As(err, &outOfOrder)
}

// RejectReason maps an ingest error to a short stable label, used for
// metrics and API responses.
func RejectReason(err error) string {
	var invalid *InvalidReadingError
	var missing *MissingFieldError
	var outOfOrder *OutOfOrderReadingError
	var noRange *MissingRangeError
	switch {
	case errors.As(err, &invalid):
		return "invalid_reading"
	case errors.As(err, &missing):
		return "missing_field"
	case errors.As(err, &outOfOrder):
		return "out_of_order"
	case errors.As(err, &noRange):
		return "missing_range"
	default:
		return "internal"
	}
}
