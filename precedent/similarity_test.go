package precedent

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tradeloop/flywheel/store"
)

func TestJaccard(t *testing.T) {
	tests := []struct {
		name string
		a, b []string
		want float64
	}{
		{"identical", []string{"x", "y"}, []string{"y", "x"}, 1.0},
		{"disjoint", []string{"x"}, []string{"y"}, 0.0},
		{"half overlap", []string{"x", "y"}, []string{"y", "z"}, 1.0 / 3.0},
		{"subset", []string{"x"}, []string{"x", "y"}, 0.5},
		{"both empty", nil, nil, 1.0},
		{"one empty", []string{"x"}, nil, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, jaccard(tt.a, tt.b), 1e-9)
		})
	}
}

func TestCycleProximity(t *testing.T) {
	assert.InDelta(t, 1.0, cycleProximity(3, 3), 1e-9)
	assert.InDelta(t, 0.5, cycleProximity(1, 2), 1e-9)
	assert.InDelta(t, 0.5, cycleProximity(2, 1), 1e-9, "order must not matter")
	assert.InDelta(t, 0.25, cycleProximity(1, 4), 1e-9)
	assert.Zero(t, cycleProximity(0, 3), "unseen cycle count carries no closeness")
}

func TestScore_WeightedComposition(t *testing.T) {
	rec := store.PredictionReview{
		PatternTypes: []string{"volume_spike"},
		Timeframes:   []string{"4h"},
		CycleCount:   1,
	}

	// Types identical (0.5), timeframes disjoint (0.0), cycles equal (0.2).
	got := Score([]string{"volume_spike"}, []string{"1h"}, 1, rec)
	assert.InDelta(t, 0.7, got, 1e-9)

	// Everything identical scores the full 1.0.
	got = Score([]string{"volume_spike"}, []string{"4h"}, 1, rec)
	assert.InDelta(t, 1.0, got, 1e-9)
}

func TestDifferences_RendersAttributeDeltas(t *testing.T) {
	rec := store.PredictionReview{
		PatternTypes: []string{"volume_spike", "breakout"},
		Timeframes:   []string{"4h"},
		CycleCount:   2,
	}

	got := differences([]string{"volume_spike"}, []string{"1h"}, 1, rec)
	assert.Equal(t, []string{
		"pattern types differ: [volume_spike] vs [breakout volume_spike]",
		"timeframes differ: [1h] vs [4h]",
		"cycle count differs: 1 vs 2",
	}, got)
}

func TestDifferences_EmptyWhenIdentical(t *testing.T) {
	rec := store.PredictionReview{
		PatternTypes: []string{"volume_spike"},
		Timeframes:   []string{"1h"},
		CycleCount:   1,
	}
	assert.Empty(t, differences([]string{"volume_spike"}, []string{"1h"}, 1, rec))
}
