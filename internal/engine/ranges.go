package engine

import "fmt"

// NutrientRange is one row of the reference table: the optimal and
// critical boundaries for a parameter at a growth stage. Rows are
// immutable data so agronomists can adjust them in configuration
// without touching decision code.
type NutrientRange struct {
	Parameter    Parameter   `json:"parameter" mapstructure:"parameter"`
	Stage        GrowthStage `json:"stage" mapstructure:"stage"`
	MinOptimal   float64     `json:"min_optimal" mapstructure:"min_optimal"`
	MaxOptimal   float64     `json:"max_optimal" mapstructure:"max_optimal"`
	CriticalLow  float64     `json:"critical_low" mapstructure:"critical_low"`
	CriticalHigh float64     `json:"critical_high" mapstructure:"critical_high"`
}

type rangeKey struct {
	parameter Parameter
	stage     GrowthStage
}

// RangeTable resolves a (parameter, stage) pair to exactly one
// nutrient range. Construction enforces totality over all parameters
// and stages, so a missing row surfaces at startup rather than while
// scoring.
type RangeTable struct {
	ranges map[rangeKey]NutrientRange
}

// NewRangeTable builds a range table from rows, validating ordering,
// duplicates and coverage.
func NewRangeTable(rows []NutrientRange) (*RangeTable, error) {
	ranges := make(map[rangeKey]NutrientRange, len(rows))

	for _, r := range rows {
		if !r.Parameter.valid() {
			return nil, fmt.Errorf("range table references unknown parameter %q", r.Parameter)
		}
		if !r.Stage.Valid() {
			return nil, fmt.Errorf("range table references unknown growth stage %q", r.Stage)
		}
		if !(r.CriticalLow <= r.MinOptimal && r.MinOptimal < r.MaxOptimal && r.MaxOptimal <= r.CriticalHigh) {
			return nil, fmt.Errorf("range for %s at stage %s is not ordered: critical_low=%.2f min=%.2f max=%.2f critical_high=%.2f",
				r.Parameter, r.Stage, r.CriticalLow, r.MinOptimal, r.MaxOptimal, r.CriticalHigh)
		}
		key := rangeKey{parameter: r.Parameter, stage: r.Stage}
		if _, dup := ranges[key]; dup {
			return nil, fmt.Errorf("duplicate range for %s at stage %s", r.Parameter, r.Stage)
		}
		ranges[key] = r
	}

	// Lookup must be total.
	for _, s := range Stages {
		for _, p := range Parameters {
			if _, ok := ranges[rangeKey{parameter: p, stage: s}]; !ok {
				return nil, &MissingRangeError{Parameter: p, Stage: s}
			}
		}
	}

	return &RangeTable{ranges: ranges}, nil
}

// Lookup returns the range for the given parameter and stage.
func (t *RangeTable) Lookup(p Parameter, s GrowthStage) (NutrientRange, error) {
	r, ok := t.ranges[rangeKey{parameter: p, stage: s}]
	if !ok {
		return NutrientRange{}, &MissingRangeError{Parameter: p, Stage: s}
	}
	return r, nil
}

// DefaultRanges returns the built-in black pepper reference table.
// Optimal bands derive from the ranges a healthy pepper plot shows
// (N 100-250 mg/kg, P 10-60, K 150-300, pH 5.5-7.5, moisture 40-80%,
// temperature 22-35C), shifted per stage: more nitrogen while vines
// build foliage, more phosphorus and potassium around spike and berry
// formation.
func DefaultRanges() []NutrientRange {
	return []NutrientRange{
		// Pre-planting baseline.
		{Parameter: Nitrogen, Stage: PrePlanting, MinOptimal: 100, MaxOptimal: 250, CriticalLow: 50, CriticalHigh: 400},
		{Parameter: Phosphorus, Stage: PrePlanting, MinOptimal: 10, MaxOptimal: 60, CriticalLow: 5, CriticalHigh: 120},
		{Parameter: Potassium, Stage: PrePlanting, MinOptimal: 150, MaxOptimal: 300, CriticalLow: 75, CriticalHigh: 450},
		{Parameter: PH, Stage: PrePlanting, MinOptimal: 5.5, MaxOptimal: 7.5, CriticalLow: 4.5, CriticalHigh: 8.5},
		{Parameter: Moisture, Stage: PrePlanting, MinOptimal: 40, MaxOptimal: 80, CriticalLow: 20, CriticalHigh: 95},
		{Parameter: Temperature, Stage: PrePlanting, MinOptimal: 22, MaxOptimal: 35, CriticalLow: 15, CriticalHigh: 40},

		// Vegetative: vine and foliage growth.
		{Parameter: Nitrogen, Stage: Vegetative, MinOptimal: 150, MaxOptimal: 280, CriticalLow: 75, CriticalHigh: 420},
		{Parameter: Phosphorus, Stage: Vegetative, MinOptimal: 15, MaxOptimal: 60, CriticalLow: 5, CriticalHigh: 120},
		{Parameter: Potassium, Stage: Vegetative, MinOptimal: 150, MaxOptimal: 300, CriticalLow: 75, CriticalHigh: 450},
		{Parameter: PH, Stage: Vegetative, MinOptimal: 5.5, MaxOptimal: 7.0, CriticalLow: 4.5, CriticalHigh: 8.5},
		{Parameter: Moisture, Stage: Vegetative, MinOptimal: 50, MaxOptimal: 80, CriticalLow: 25, CriticalHigh: 95},
		{Parameter: Temperature, Stage: Vegetative, MinOptimal: 23, MaxOptimal: 32, CriticalLow: 15, CriticalHigh: 40},

		// Flowering: spike formation.
		{Parameter: Nitrogen, Stage: Flowering, MinOptimal: 120, MaxOptimal: 250, CriticalLow: 60, CriticalHigh: 400},
		{Parameter: Phosphorus, Stage: Flowering, MinOptimal: 25, MaxOptimal: 80, CriticalLow: 10, CriticalHigh: 150},
		{Parameter: Potassium, Stage: Flowering, MinOptimal: 180, MaxOptimal: 350, CriticalLow: 90, CriticalHigh: 500},
		{Parameter: PH, Stage: Flowering, MinOptimal: 5.5, MaxOptimal: 7.0, CriticalLow: 4.5, CriticalHigh: 8.5},
		{Parameter: Moisture, Stage: Flowering, MinOptimal: 50, MaxOptimal: 85, CriticalLow: 25, CriticalHigh: 95},
		{Parameter: Temperature, Stage: Flowering, MinOptimal: 23, MaxOptimal: 32, CriticalLow: 15, CriticalHigh: 40},

		// Maturity: berry fill and ripening.
		{Parameter: Nitrogen, Stage: Maturity, MinOptimal: 80, MaxOptimal: 200, CriticalLow: 40, CriticalHigh: 350},
		{Parameter: Phosphorus, Stage: Maturity, MinOptimal: 15, MaxOptimal: 60, CriticalLow: 5, CriticalHigh: 120},
		{Parameter: Potassium, Stage: Maturity, MinOptimal: 200, MaxOptimal: 350, CriticalLow: 100, CriticalHigh: 500},
		{Parameter: PH, Stage: Maturity, MinOptimal: 5.5, MaxOptimal: 7.5, CriticalLow: 4.5, CriticalHigh: 8.5},
		{Parameter: Moisture, Stage: Maturity, MinOptimal: 45, MaxOptimal: 80, CriticalLow: 20, CriticalHigh: 95},
		{Parameter: Temperature, Stage: Maturity, MinOptimal: 22, MaxOptimal: 35, CriticalLow: 15, CriticalHigh: 40},
	}
}
