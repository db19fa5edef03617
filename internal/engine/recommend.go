package engine

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/google/uuid"
)

// FertilizerRule maps a set of deficient parameters to an amendment.
// An empty Stages slice applies the rule at every growth stage. A rule
// whose Nutrients set covers several parameters is a compound
// fertilizer and is preferred over single-nutrient amendments when
// multiple deficiencies occur together.
type FertilizerRule struct {
	Name            string        `json:"name" mapstructure:"name"`
	Nutrients       []Parameter   `json:"nutrients" mapstructure:"nutrients"`
	Stages          []GrowthStage `json:"stages,omitempty" mapstructure:"stages"`
	DosePerSeverity float64       `json:"dose_per_severity" mapstructure:"dose_per_severity"`
	Unit            string        `json:"unit" mapstructure:"unit"`
}

func (r FertilizerRule) appliesAt(stage GrowthStage) bool {
	if len(r.Stages) == 0 {
		return true
	}
	for _, s := range r.Stages {
		if s == stage {
			return true
		}
	}
	return false
}

func (r FertilizerRule) covers(p Parameter) bool {
	for _, n := range r.Nutrients {
		if n == p {
			return true
		}
	}
	return false
}

// DoseBounds constrain the computed quantity. A dose below Min is
// raised to the minimum effective dose; a dose above Max is clamped
// and flagged with WarningOverdoseClamped. Quantities are rounded to
// the nearest Step.
type DoseBounds struct {
	Min  float64 `json:"min" mapstructure:"min"`
	Max  float64 `json:"max" mapstructure:"max"`
	Step float64 `json:"step" mapstructure:"step"`
}

// DefaultDoseBounds returns the built-in kg/hectare application limits.
func DefaultDoseBounds() DoseBounds {
	return DoseBounds{Min: 5, Max: 120, Step: 0.5}
}

// DefaultFertilizerRules returns the built-in amendment table for
// black pepper. Compound fertilizers come first only for readability;
// selection is by coverage, not list order.
func DefaultFertilizerRules() []FertilizerRule {
	return []FertilizerRule{
		{Name: "npk-12-12-17", Nutrients: []Parameter{Nitrogen, Phosphorus, Potassium}, DosePerSeverity: 90, Unit: "kg/ha"},
		{Name: "dap-18-46", Nutrients: []Parameter{Nitrogen, Phosphorus}, DosePerSeverity: 75, Unit: "kg/ha"},
		{Name: "farmyard-manure", Nutrients: []Parameter{Nitrogen}, Stages: []GrowthStage{PrePlanting}, DosePerSeverity: 100, Unit: "kg/ha"},
		{Name: "urea", Nutrients: []Parameter{Nitrogen}, DosePerSeverity: 80, Unit: "kg/ha"},
		{Name: "single-super-phosphate", Nutrients: []Parameter{Phosphorus}, DosePerSeverity: 60, Unit: "kg/ha"},
		{Name: "muriate-of-potash", Nutrients: []Parameter{Potassium}, DosePerSeverity: 70, Unit: "kg/ha"},
		{Name: "dolomite-lime", Nutrients: []Parameter{PH}, DosePerSeverity: 100, Unit: "kg/ha"},
		{Name: "organic-mulch", Nutrients: []Parameter{Moisture, Temperature}, DosePerSeverity: 50, Unit: "kg/ha"},
	}
}

// Recommender turns classified deficiencies into fertilizer advice via
// a configurable rule table. The table and dose bounds are validated
// at construction.
type Recommender struct {
	rules  []FertilizerRule
	bounds DoseBounds
}

// NewRecommender creates a Recommender. Every parameter must be
// reachable by at least one rule at every stage, so an uncoverable
// deficiency surfaces at startup rather than at scoring time.
func NewRecommender(rules []FertilizerRule, bounds DoseBounds) (*Recommender, error) {
	if len(rules) == 0 {
		return nil, errors.New("fertilizer rule table cannot be empty")
	}
	for _, r := range rules {
		if r.Name == "" {
			return nil, errors.New("fertilizer rule name cannot be empty")
		}
		if len(r.Nutrients) == 0 {
			return nil, fmt.Errorf("fertilizer rule %s covers no nutrients", r.Name)
		}
		for _, n := range r.Nutrients {
			if !n.valid() {
				return nil, fmt.Errorf("fertilizer rule %s references unknown parameter %q", r.Name, n)
			}
		}
		for _, s := range r.Stages {
			if !s.Valid() {
				return nil, fmt.Errorf("fertilizer rule %s references unknown stage %q", r.Name, s)
			}
		}
		if r.DosePerSeverity <= 0 {
			return nil, fmt.Errorf("fertilizer rule %s needs a positive dose per severity unit", r.Name)
		}
		if r.Unit == "" {
			return nil, fmt.Errorf("fertilizer rule %s needs an application unit", r.Name)
		}
	}
	if bounds.Min <= 0 || bounds.Max < bounds.Min {
		return nil, fmt.Errorf("dose bounds must satisfy 0 < min <= max, got min=%.2f max=%.2f", bounds.Min, bounds.Max)
	}
	if bounds.Step <= 0 {
		return nil, fmt.Errorf("dose step must be positive, got %.2f", bounds.Step)
	}
	for _, s := range Stages {
		for _, p := range Parameters {
			covered := false
			for _, r := range rules {
				if r.appliesAt(s) && r.covers(p) {
					covered = true
					break
				}
			}
			if !covered {
				return nil, fmt.Errorf("no fertilizer rule covers %s at stage %s", p, s)
			}
		}
	}
	return &Recommender{rules: rules, bounds: bounds}, nil
}

// Recommend builds the fertilizer advice for one classified reading.
// prior holds the field's recent score history in chronological order
// (newest last, current reading excluded); score is the composite for
// the current reading. Identical inputs always yield identical output
// apart from the generated ID.
func (r *Recommender) Recommend(fieldID string, ts time.Time, results []DeficiencyResult, stage GrowthStage, prior []HealthScoreRecord, score float64) Recommendation {
	rec := Recommendation{
		ID:        uuid.NewString(),
		FieldID:   fieldID,
		Timestamp: ts,
		Stage:     stage,
	}

	deficient := make([]DeficiencyResult, 0, len(results))
	for _, res := range results {
		if res.Status == StatusDeficient {
			deficient = append(deficient, res)
		}
	}
	if len(deficient) == 0 {
		rec.Maintain = true
		return rec
	}

	// Order by descending severity; equal severities fall back to the
	// fixed priority N > P > K > pH > moisture > temperature. The input
	// already arrives in priority order, so a stable sort suffices.
	sort.SliceStable(deficient, func(i, j int) bool {
		return deficient[i].Severity > deficient[j].Severity
	})

	rule, covered := r.selectRule(deficient, stage)

	// The overdose signal is decided on the raw dose, so a demand just
	// above the cap still warns even when rounding lands it on Max.
	quantity := covered[0].Severity * rule.DosePerSeverity
	if quantity > r.bounds.Max {
		rec.Warnings = append(rec.Warnings, WarningOverdoseClamped)
	}
	quantity = math.Round(quantity/r.bounds.Step) * r.bounds.Step
	if quantity < r.bounds.Min {
		quantity = r.bounds.Min
	}
	if quantity > r.bounds.Max {
		quantity = r.bounds.Max
	}

	rec.Fertilizer = rule.Name
	rec.Quantity = quantity
	rec.Unit = rule.Unit
	for _, d := range covered {
		rec.Rationale = append(rec.Rationale, string(d.Parameter))
	}
	if depleting(stage, prior, score) {
		rec.Rationale = append(rec.Rationale, RationaleDepletion)
	}
	return rec
}

// selectRule picks the rule covering the largest highest-severity
// prefix of the deficiency list. Ties prefer stage-specific rules,
// then smaller nutrient sets, then lexical name, keeping selection
// deterministic.
func (r *Recommender) selectRule(deficient []DeficiencyResult, stage GrowthStage) (FertilizerRule, []DeficiencyResult) {
	for k := len(deficient); k >= 1; k-- {
		var best *FertilizerRule
		for i := range r.rules {
			rule := &r.rules[i]
			if !rule.appliesAt(stage) || !coversAll(*rule, deficient[:k]) {
				continue
			}
			if best == nil || preferRule(*rule, *best) {
				best = rule
			}
		}
		if best != nil {
			return *best, deficient[:k]
		}
	}
	// Unreachable: NewRecommender guarantees single-parameter coverage.
	return FertilizerRule{}, nil
}

func coversAll(rule FertilizerRule, deficient []DeficiencyResult) bool {
	for _, d := range deficient {
		if !rule.covers(d.Parameter) {
			return false
		}
	}
	return true
}

func preferRule(a, b FertilizerRule) bool {
	aStaged, bStaged := len(a.Stages) > 0, len(b.Stages) > 0
	if aStaged != bStaged {
		return aStaged
	}
	if len(a.Nutrients) != len(b.Nutrients) {
		return len(a.Nutrients) < len(b.Nutrients)
	}
	return a.Name < b.Name
}

// depleting reports whether the field shows a post-planting score
// decline across consecutive records including the current one. A
// first reading never depletes.
func depleting(stage GrowthStage, prior []HealthScoreRecord, score float64) bool {
	if stage == PrePlanting || len(prior) == 0 {
		return false
	}
	return prior[len(prior)-1].Score > score
}
