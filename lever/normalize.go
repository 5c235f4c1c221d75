package lever

// Normalize scales a weight map so the values sum to 1.0. A zero or
// negative sum falls back to equal weights; an empty map stays empty.
func Normalize(weights map[string]float64) map[string]float64 {
	if len(weights) == 0 {
		return map[string]float64{}
	}

	var sum float64
	for _, w := range weights {
		sum += w
	}

	out := make(map[string]float64, len(weights))
	if sum <= 0 {
		equal := 1.0 / float64(len(weights))
		for k := range weights {
			out[k] = equal
		}
		return out
	}
	for k, w := range weights {
		out[k] = w / sum
	}
	return out
}

// SplitBudget allocates total across keys proportionally to their weights.
func SplitBudget(total float64, weights map[string]float64) map[string]float64 {
	shares := Normalize(weights)
	out := make(map[string]float64, len(shares))
	for k, share := range shares {
		out[k] = total * share
	}
	return out
}
