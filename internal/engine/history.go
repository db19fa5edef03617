package engine

import "sync"

// HistoryTracker exclusively owns the per-field, append-only sequence
// of health score records. Appends for one field are serialized by a
// per-field lock; distinct fields never contend.
type HistoryTracker struct {
	mu     sync.Mutex
	fields map[string]*fieldLog
}

type fieldLog struct {
	mu      sync.Mutex
	records []HealthScoreRecord
}

// NewHistoryTracker creates an empty tracker.
func NewHistoryTracker() *HistoryTracker {
	return &HistoryTracker{fields: make(map[string]*fieldLog)}
}

func (t *HistoryTracker) field(id string) *fieldLog {
	t.mu.Lock()
	defer t.mu.Unlock()
	fl, ok := t.fields[id]
	if !ok {
		fl = &fieldLog{}
		t.fields[id] = fl
	}
	return fl
}

// lookup returns the field's log without creating one, so queries for
// unknown field IDs do not grow the map.
func (t *HistoryTracker) lookup(id string) *fieldLog {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.fields[id]
}

// Record appends rec to its field's history. A record timestamped
// strictly earlier than the last stored record for the field is
// rejected with OutOfOrderReadingError; equal timestamps are accepted.
func (t *HistoryTracker) Record(rec HealthScoreRecord) error {
	return t.RecordWith(rec, nil)
}

// RecordWith appends rec like Record, but first runs commit while
// holding the field's lock. A commit error leaves the history
// untouched, so the same record can be retried later without being
// duplicated. A nil commit always appends.
func (t *HistoryTracker) RecordWith(rec HealthScoreRecord, commit func() error) error {
	fl := t.field(rec.FieldID)
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if n := len(fl.records); n > 0 {
		last := fl.records[n-1].Timestamp
		if rec.Timestamp.Before(last) {
			return &OutOfOrderReadingError{FieldID: rec.FieldID, Timestamp: rec.Timestamp, Last: last}
		}
	}
	if commit != nil {
		if err := commit(); err != nil {
			return err
		}
	}
	fl.records = append(fl.records, rec)
	return nil
}

// Recent returns the last n records for the field in chronological
// order, or fewer when the history is shorter. A short history is not
// an error.
func (t *HistoryTracker) Recent(fieldID string, n int) []HealthScoreRecord {
	fl := t.lookup(fieldID)
	if fl == nil {
		return nil
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()

	if n <= 0 || len(fl.records) == 0 {
		return nil
	}
	start := len(fl.records) - n
	if start < 0 {
		start = 0
	}
	out := make([]HealthScoreRecord, len(fl.records)-start)
	copy(out, fl.records[start:])
	return out
}

// Trend computes the least-squares slope of score against record
// index, in score units per record. ok is false when fewer than two
// records exist, since a trend needs at least two points.
func (t *HistoryTracker) Trend(fieldID string) (slope float64, ok bool) {
	fl := t.lookup(fieldID)
	if fl == nil {
		return 0, false
	}
	fl.mu.Lock()
	defer fl.mu.Unlock()

	n := len(fl.records)
	if n < 2 {
		return 0, false
	}

	// Closed-form least squares with x = 0..n-1.
	meanX := float64(n-1) / 2
	var meanY float64
	for _, r := range fl.records {
		meanY += r.Score
	}
	meanY /= float64(n)

	var num, den float64
	for i, r := range fl.records {
		dx := float64(i) - meanX
		num += dx * (r.Score - meanY)
		den += dx * dx
	}
	return num / den, true
}
