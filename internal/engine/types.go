// Package engine implements the soil health scoring and fertilizer
// recommendation pipeline for black pepper cultivation. A raw sensor
// sample flows through normalization, deficiency classification,
// composite scoring and recommendation, and the resulting record is
// appended to the field's history for trend analysis.
package engine

import "time"

// Parameter identifies one of the six measured soil parameters.
type Parameter string

const (
	Nitrogen    Parameter = "nitrogen"
	Phosphorus  Parameter = "phosphorus"
	Potassium   Parameter = "potassium"
	PH          Parameter = "ph"
	Moisture    Parameter = "moisture"
	Temperature Parameter = "temperature"
)

// Parameters lists the soil parameters in canonical processing order.
// The order doubles as the tie-break priority when two deficiencies
// carry equal severity.
var Parameters = []Parameter{Nitrogen, Phosphorus, Potassium, PH, Moisture, Temperature}

func (p Parameter) valid() bool {
	return p.priority() >= 0
}

// priority returns the position of p in the canonical order, or -1.
func (p Parameter) priority() int {
	for i, known := range Parameters {
		if p == known {
			return i
		}
	}
	return -1
}

// GrowthStage is a phase of the black pepper lifecycle. It determines
// which nutrient ranges apply. Stage transitions are externally driven
// and only move forward.
type GrowthStage string

const (
	PrePlanting GrowthStage = "pre_planting"
	Vegetative  GrowthStage = "vegetative"
	Flowering   GrowthStage = "flowering"
	Maturity    GrowthStage = "maturity"
)

// Stages lists the growth stages in lifecycle order.
var Stages = []GrowthStage{PrePlanting, Vegetative, Flowering, Maturity}

// Valid reports whether s is a known growth stage.
func (s GrowthStage) Valid() bool {
	return s.ordinal() >= 0
}

func (s GrowthStage) ordinal() int {
	for i, known := range Stages {
		if s == known {
			return i
		}
	}
	return -1
}

// RawReading is a sensor sample as delivered by a sensor gateway,
// before validation. A NaN value marks a parameter the gateway did
// not deliver.
type RawReading struct {
	FieldID     string
	Timestamp   time.Time
	Nitrogen    float64
	Phosphorus  float64
	Potassium   float64
	PH          float64
	Moisture    float64
	Temperature float64
}

// SensorReading is a reading that passed physical-bounds validation.
type SensorReading struct {
	FieldID     string    `json:"field_id"`
	Timestamp   time.Time `json:"timestamp"`
	Nitrogen    float64   `json:"nitrogen"`
	Phosphorus  float64   `json:"phosphorus"`
	Potassium   float64   `json:"potassium"`
	PH          float64   `json:"ph"`
	Moisture    float64   `json:"moisture"`
	Temperature float64   `json:"temperature"`
}

// Value returns the measurement for the given parameter.
func (r SensorReading) Value(p Parameter) float64 {
	switch p {
	case Nitrogen:
		return r.Nitrogen
	case Phosphorus:
		return r.Phosphorus
	case Potassium:
		return r.Potassium
	case PH:
		return r.PH
	case Moisture:
		return r.Moisture
	case Temperature:
		return r.Temperature
	}
	return 0
}

// Status classifies a parameter relative to its optimal band.
type Status string

const (
	StatusDeficient Status = "deficient"
	StatusOptimal   Status = "optimal"
	StatusExcess    Status = "excess"
)

// DeficiencyResult is the classification of one parameter. Severity is
// the normalized distance from the optimal band: 0 at the band
// boundary, 1 at or beyond the critical boundary.
type DeficiencyResult struct {
	Parameter Parameter `json:"parameter"`
	Status    Status    `json:"status"`
	Severity  float64   `json:"severity"`
}

// HealthScoreRecord is one scoring event. Records are immutable once
// created; the engine only ever appends new ones.
type HealthScoreRecord struct {
	FieldID      string             `json:"field_id"`
	Timestamp    time.Time          `json:"timestamp"`
	Score        float64            `json:"score"`
	Stage        GrowthStage        `json:"stage"`
	Deficiencies []DeficiencyResult `json:"deficiencies"`
}

// Warning is a soft signal attached to an otherwise successful
// recommendation.
type Warning string

// WarningOverdoseClamped marks a dose that was cut back to the maximum
// safe dose instead of being applied as computed.
const WarningOverdoseClamped Warning = "overdose_clamped"

// RationaleDepletion flags a replenishment need caused by a declining
// post-planting score, as opposed to a pre-planting baseline fix.
const RationaleDepletion = "post-growth nutrient depletion"

// Recommendation is the fertilizer advice derived from one reading.
// When Maintain is set no amendment is needed and Fertilizer,
// Quantity and Rationale are empty.
type Recommendation struct {
	ID         string      `json:"id"`
	FieldID    string      `json:"field_id"`
	Timestamp  time.Time   `json:"timestamp"`
	Fertilizer string      `json:"fertilizer,omitempty"`
	Quantity   float64     `json:"quantity"`
	Unit       string      `json:"unit,omitempty"`
	Maintain   bool        `json:"maintain"`
	Rationale  []string    `json:"rationale,omitempty"`
	Warnings   []Warning   `json:"warnings,omitempty"`
	Stage      GrowthStage `json:"stage"`
}
