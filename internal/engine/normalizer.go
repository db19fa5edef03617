package engine

import "math"

// physicalBound is the plausibility window for one sensor parameter.
// Values outside it indicate a broken probe or a garbled frame.
type physicalBound struct {
	min float64
	max float64
}

// physicalBounds holds the per-parameter plausibility windows. NPK is
// expected in mg/kg, moisture in percent, temperature in degrees
// Celsius.
var physicalBounds = map[Parameter]physicalBound{
	Nitrogen:    {min: 0, max: 2000},
	Phosphorus:  {min: 0, max: 1000},
	Potassium:   {min: 0, max: 2000},
	PH:          {min: 0, max: 14},
	Moisture:    {min: 0, max: 100},
	Temperature: {min: -20, max: 60},
}

// Normalize validates a raw sensor sample and returns the canonical
// reading. No unit conversion is applied: gateways deliver the units
// listed on physicalBounds. An out-of-bounds value yields an
// InvalidReadingError naming the parameter; an absent value (NaN,
// empty field id, zero timestamp) yields a MissingFieldError.
func Normalize(raw RawReading) (SensorReading, error) {
	if raw.FieldID == "" {
		return SensorReading{}, &MissingFieldError{Field: "field_id"}
	}
	if raw.Timestamp.IsZero() {
		return SensorReading{}, &MissingFieldError{Field: "timestamp"}
	}

	reading := SensorReading{
		FieldID:     raw.FieldID,
		Timestamp:   raw.Timestamp.UTC(),
		Nitrogen:    raw.Nitrogen,
		Phosphorus:  raw.Phosphorus,
		Potassium:   raw.Potassium,
		PH:          raw.PH,
		Moisture:    raw.Moisture,
		Temperature: raw.Temperature,
	}

	for _, p := range Parameters {
		v := reading.Value(p)
		if math.IsNaN(v) {
			return SensorReading{}, &MissingFieldError{Field: string(p)}
		}
		b := physicalBounds[p]
		if v < b.min || v > b.max {
			return SensorReading{}, &InvalidReadingError{Parameter: p, Value: v, Min: b.min, Max: b.max}
		}
	}

	return reading, nil
}
