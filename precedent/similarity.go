// Package precedent retrieves historical outcome context for a pattern
// group: exact matches by signature and near matches scored by attribute
// similarity. It answers "have we seen this shape before, and how close".
package precedent

import (
	"fmt"
	"sort"

	"github.com/tradeloop/flywheel/store"
)

// Similarity component weights. Pattern-type overlap dominates, timeframe
// overlap second, cycle-count closeness last.
const (
	patternTypeWeight = 0.5
	timeframeWeight   = 0.3
	cycleWeight       = 0.2
)

// jaccard computes |intersection| / |union| over two string sets. Two empty
// sets are identical, scoring 1.
func jaccard(a, b []string) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1.0
	}
	set := make(map[string]uint8, len(a)+len(b))
	for _, s := range a {
		set[s] |= 1
	}
	for _, s := range b {
		set[s] |= 2
	}
	var both int
	for _, bits := range set {
		if bits == 3 {
			both++
		}
	}
	return float64(both) / float64(len(set))
}

// cycleProximity maps two distinct-cycle counts to [0,1]; equal counts score
// 1 and the score decays as the counts diverge.
func cycleProximity(a, b int) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	if a > b {
		a, b = b, a
	}
	return float64(a) / float64(b)
}

// Score rates one stored outcome against candidate attributes. The braid
// refinement pass reuses it to compare outcome records pairwise.
func Score(types, timeframes []string, cycles int, rec store.PredictionReview) float64 {
	return patternTypeWeight*jaccard(types, rec.PatternTypes) +
		timeframeWeight*jaccard(timeframes, rec.Timeframes) +
		cycleWeight*cycleProximity(cycles, rec.CycleCount)
}

// differences renders the specific attribute deltas between the candidate
// and a near match, so the prediction can state explicitly that it is not
// an exact precedent.
func differences(types, timeframes []string, cycles int, rec store.PredictionReview) []string {
	var out []string
	if d := setDelta("pattern types", types, rec.PatternTypes); d != "" {
		out = append(out, d)
	}
	if d := setDelta("timeframes", timeframes, rec.Timeframes); d != "" {
		out = append(out, d)
	}
	if cycles != rec.CycleCount {
		out = append(out, fmt.Sprintf("cycle count differs: %d vs %d", cycles, rec.CycleCount))
	}
	return out
}

func setDelta(label string, a, b []string) string {
	as := append([]string(nil), a...)
	bs := append([]string(nil), b...)
	sort.Strings(as)
	sort.Strings(bs)
	if equalStrings(as, bs) {
		return ""
	}
	return fmt.Sprintf("%s differ: %v vs %v", label, as, bs)
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
