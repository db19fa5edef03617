package engine

import (
	"errors"
	"fmt"
	"math"
)

// weightTolerance is the permitted deviation of the weight sum from 1.
const weightTolerance = 1e-6

// Weights assigns each parameter its share of the composite score.
// NPK balance matters differently than temperature for black pepper,
// so deployments override the default equal weighting.
type Weights map[Parameter]float64

// DefaultWeights returns equal weighting across the six parameters.
func DefaultWeights() Weights {
	w := make(Weights, len(Parameters))
	for _, p := range Parameters {
		w[p] = 1.0 / float64(len(Parameters))
	}
	return w
}

// Validate checks that every parameter has a non-negative weight and
// that the weights sum to 1.
func (w Weights) Validate() error {
	if len(w) == 0 {
		return errors.New("score weights cannot be empty")
	}
	for p := range w {
		if !p.valid() {
			return fmt.Errorf("score weight references unknown parameter %q", p)
		}
	}
	var sum float64
	for _, p := range Parameters {
		wt, ok := w[p]
		if !ok {
			return fmt.Errorf("score weight missing for %s", p)
		}
		if wt < 0 {
			return fmt.Errorf("score weight for %s cannot be negative", p)
		}
		sum += wt
	}
	if math.Abs(sum-1) > weightTolerance {
		return fmt.Errorf("score weights sum to %v, want 1", sum)
	}
	return nil
}

// Scorer folds per-parameter severities into a composite soil health
// score. Weight validation happens at construction, not per call.
type Scorer struct {
	weights Weights
}

// NewScorer creates a Scorer. A nil weights map selects the default
// equal weighting.
func NewScorer(w Weights) (*Scorer, error) {
	if w == nil {
		w = DefaultWeights()
	}
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

// Score returns 100*(1 - weighted mean severity), clamped to [0, 100].
// An all-optimal assessment scores 100; an all-critical one 0.
func (s *Scorer) Score(results []DeficiencyResult) float64 {
	var weighted float64
	for _, r := range results {
		weighted += s.weights[r.Parameter] * r.Severity
	}
	score := 100 * (1 - weighted)
	if score < 0 {
		return 0
	}
	if score > 100 {
		return 100
	}
	return score
}
