package engine

// Classify evaluates a normalized reading against the range table for
// the given growth stage. Results come back in the canonical parameter
// order so downstream processing is deterministic.
func Classify(reading SensorReading, stage GrowthStage, table *RangeTable) ([]DeficiencyResult, error) {
	results := make([]DeficiencyResult, 0, len(Parameters))
	for _, p := range Parameters {
		nr, err := table.Lookup(p, stage)
		if err != nil {
			return nil, err
		}
		results = append(results, classifyValue(p, reading.Value(p), nr))
	}
	return results, nil
}

func classifyValue(p Parameter, value float64, nr NutrientRange) DeficiencyResult {
	switch {
	case value < nr.MinOptimal:
		return DeficiencyResult{
			Parameter: p,
			Status:    StatusDeficient,
			Severity:  bandSeverity(nr.MinOptimal-value, nr.MinOptimal-nr.CriticalLow),
		}
	case value > nr.MaxOptimal:
		return DeficiencyResult{
			Parameter: p,
			Status:    StatusExcess,
			Severity:  bandSeverity(value-nr.MaxOptimal, nr.CriticalHigh-nr.MaxOptimal),
		}
	default:
		return DeficiencyResult{Parameter: p, Status: StatusOptimal}
	}
}

// bandSeverity maps a distance outside the optimal band to [0, 1],
// reaching 1 at the critical boundary. A zero-width band (optimal
// boundary equal to the critical boundary) is treated as maximal.
func bandSeverity(distance, bandwidth float64) float64 {
	if bandwidth <= 0 {
		return 1
	}
	s := distance / bandwidth
	if s > 1 {
		return 1
	}
	if s < 0 {
		return 0
	}
	return s
}
