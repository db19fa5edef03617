// Package generator produces synthetic black pepper soil data for the
// simulator service.
package generator

import (
	"math"
	"math/rand"
	"time"

	"github.com/brianvoe/gofakeit/v7"

	"pepperfield.dev/soilguard/internal/engine"
)

// Field is a simulated pepper plot identity.
type Field struct {
	FieldID   string  `fake:"{uuid}"`
	Estate    string  `fake:"{city}"`
	Latitude  float64 `fake:"{latitude}"`
	Longitude float64 `fake:"{longitude}"`
}

// NewField generates a random field identity.
func NewField() *Field {
	var field Field
	if err := gofakeit.Struct(&field); err != nil {
		return nil
	}
	return &field
}

// SoilSimulator generates a plausible reading series for one field:
// baselines inside the healthy bands, slow nutrient depletion as the
// crop feeds, and occasional sensor anomalies.
// Note: math/rand is acceptable for simulation data.
type SoilSimulator struct {
	field     *Field
	stage     engine.GrowthStage
	baseline  map[engine.Parameter]float64
	depletion map[engine.Parameter]float64
	noise     float64
	readings  int
}

// NewSoilSimulator creates a simulator for the given field starting at
// pre-planting.
func NewSoilSimulator(field *Field) *SoilSimulator {
	return &SoilSimulator{
		field: field,
		stage: engine.PrePlanting,
		baseline: map[engine.Parameter]float64{
			engine.Nitrogen:    100 + rand.Float64()*150, // #nosec G404 - simulation data
			engine.Phosphorus:  10 + rand.Float64()*50,
			engine.Potassium:   150 + rand.Float64()*150,
			engine.PH:          5.5 + rand.Float64()*2,
			engine.Moisture:    40 + rand.Float64()*40,
			engine.Temperature: 22 + rand.Float64()*13,
		},
		// Post-planting the vines draw down N and K fastest.
		depletion: map[engine.Parameter]float64{
			engine.Nitrogen:   0.8 + rand.Float64()*0.8,
			engine.Potassium:  0.6 + rand.Float64()*0.6,
			engine.Phosphorus: 0.1 + rand.Float64()*0.2,
		},
		noise: rand.Float64()*2 + 0.5,
	}
}

// Field returns the simulated field identity.
func (s *SoilSimulator) Field() *Field {
	return s.field
}

// Stage returns the simulated growth stage.
func (s *SoilSimulator) Stage() engine.GrowthStage {
	return s.stage
}

// Advance moves the simulated crop one stage forward. Past maturity it
// is a no-op.
func (s *SoilSimulator) Advance() {
	for i, known := range engine.Stages {
		if known == s.stage && i+1 < len(engine.Stages) {
			s.stage = engine.Stages[i+1]
			return
		}
	}
}

// Next generates the reading for time t. Depletion only applies once
// the crop is in the ground.
func (s *SoilSimulator) Next(t time.Time) engine.RawReading {
	s.readings++

	reading := engine.RawReading{
		FieldID:   s.field.FieldID,
		Timestamp: t.UTC(),
	}

	deplete := s.stage != engine.PrePlanting
	value := func(p engine.Parameter, scale float64) float64 {
		v := s.baseline[p]
		if deplete {
			v -= s.depletion[p] * float64(s.readings)
		}
		v += (rand.Float64() - 0.5) * s.noise * scale // #nosec G404 - simulation data
		// Occasional probe glitch (2% chance).
		if rand.Float64() < 0.02 {
			v += (rand.Float64() - 0.5) * 10 * scale
		}
		return v
	}

	reading.Nitrogen = clamp(value(engine.Nitrogen, 5), 0, 2000)
	reading.Phosphorus = clamp(value(engine.Phosphorus, 2), 0, 1000)
	reading.Potassium = clamp(value(engine.Potassium, 5), 0, 2000)
	reading.PH = clamp(value(engine.PH, 0.1), 0, 14)
	reading.Moisture = clamp(value(engine.Moisture, 1), 0, 100)
	reading.Temperature = clamp(value(engine.Temperature, 0.5)+dailyCycle(t), -20, 60)

	return reading
}

// dailyCycle peaks in the early afternoon.
func dailyCycle(t time.Time) float64 {
	hour := float64(t.Hour())
	return 2 * math.Sin((hour-6)*math.Pi/12)
}

func clamp(v, min, max float64) float64 {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}
