// Package wire defines the JSON payloads exchanged between sensor
// gateways, the simulator and the engine service over RabbitMQ, MQTT
// and the HTTP API.
package wire

import (
	"math"
	"time"

	"pepperfield.dev/soilguard/internal/engine"
)

// ReadingPayload is the JSON body a sensor gateway publishes for one
// sample. Pointer fields distinguish an absent parameter from a
// legitimate zero. Timestamp is Unix seconds UTC.
type ReadingPayload struct {
	FieldID     string   `json:"field_id"`
	Timestamp   int64    `json:"timestamp"`
	Nitrogen    *float64 `json:"nitrogen"`
	Phosphorus  *float64 `json:"phosphorus"`
	Potassium   *float64 `json:"potassium"`
	PH          *float64 `json:"ph"`
	Moisture    *float64 `json:"moisture"`
	Temperature *float64 `json:"temperature"`
}

// Reading converts the payload into the engine's raw reading form,
// marking absent parameters as NaN.
func (p ReadingPayload) Reading() engine.RawReading {
	var ts time.Time
	if p.Timestamp != 0 {
		ts = time.Unix(p.Timestamp, 0).UTC()
	}
	return engine.RawReading{
		FieldID:     p.FieldID,
		Timestamp:   ts,
		Nitrogen:    deref(p.Nitrogen),
		Phosphorus:  deref(p.Phosphorus),
		Potassium:   deref(p.Potassium),
		PH:          deref(p.PH),
		Moisture:    deref(p.Moisture),
		Temperature: deref(p.Temperature),
	}
}

// FromReading builds the wire payload for a complete raw reading.
func FromReading(r engine.RawReading) ReadingPayload {
	return ReadingPayload{
		FieldID:     r.FieldID,
		Timestamp:   r.Timestamp.Unix(),
		Nitrogen:    ref(r.Nitrogen),
		Phosphorus:  ref(r.Phosphorus),
		Potassium:   ref(r.Potassium),
		PH:          ref(r.PH),
		Moisture:    ref(r.Moisture),
		Temperature: ref(r.Temperature),
	}
}

func deref(v *float64) float64 {
	if v == nil {
		return math.NaN()
	}
	return *v
}

func ref(v float64) *float64 {
	if math.IsNaN(v) {
		return nil
	}
	return &v
}
