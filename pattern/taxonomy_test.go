package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func mk(ptype string, tf Timeframe, cycle time.Time, id string) Pattern {
	return Pattern{PatternType: ptype, Asset: "BTC", Timeframe: tf, CycleTime: cycle, SourceID: id}
}

func byKind(groups []Group) map[Kind][]Group {
	out := make(map[Kind][]Group)
	for _, g := range groups {
		out[g.Kind] = append(out[g.Kind], g)
	}
	return out
}

// Three same-cycle detections: volume_spike on 1h and 4h plus divergence on
// 1h. The 1h slot carries two patterns, volume_spike spans two timeframes,
// and the cycle as a whole mixes both, so every same-cycle shape except the
// singleton-filtered ones appears exactly once. Nothing recurs across
// cycles, so the two multi-cycle shapes stay empty.
func TestGroupAll_SameCycleScenario(t *testing.T) {
	t0 := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	patterns := []Pattern{
		mk("volume_spike", TF1h, t0, "p1"),
		mk("divergence", TF1h, t0, "p2"),
		mk("volume_spike", TF4h, t0, "p3"),
	}

	groups, err := GroupAll("BTC", patterns)
	require.NoError(t, err)

	kinds := byKind(groups)

	singles := kinds[KindSingleSingle]
	require.Len(t, singles, 3, "every (type, timeframe, cycle) key yields a group")
	for _, g := range singles {
		assert.Len(t, g.Patterns, 1)
		assert.Equal(t, t0, g.CycleTime)
	}

	multiSingle := kinds[KindMultiSingle]
	require.Len(t, multiSingle, 1, "only the 1h slot holds more than one pattern")
	assert.Equal(t, TF1h, multiSingle[0].Timeframe)
	assert.Equal(t, []string{"p1", "p2"}, multiSingle[0].PatternIDs())

	singleMulti := kinds[KindSingleMulti]
	require.Len(t, singleMulti, 1, "volume_spike spans 1h and 4h within the cycle")
	assert.Equal(t, []string{"volume_spike"}, singleMulti[0].PatternTypes())
	assert.Equal(t, []Timeframe{TF1h, TF4h}, singleMulti[0].Timeframes())

	multiMulti := kinds[KindMultiMulti]
	require.Len(t, multiMulti, 1, "the cycle mixes two types across two timeframes")
	assert.Len(t, multiMulti[0].Patterns, 3)

	assert.Empty(t, kinds[KindSingleSingleMultiCycle], "single cycle only")
	assert.Empty(t, kinds[KindMultiMultiCycle], "single cycle only")
}

// A lone pattern must land in the single/single shape and nowhere else:
// every other shape requires more than one pattern, timeframe, or cycle.
func TestGroupAll_SingletonPopulatesOneShape(t *testing.T) {
	t0 := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	groups, err := GroupAll("BTC", []Pattern{mk("breakout", TF1d, t0, "solo")})
	require.NoError(t, err)

	require.Len(t, groups, 1)
	g := groups[0]
	assert.Equal(t, KindSingleSingle, g.Kind)
	assert.Equal(t, TF1d, g.Timeframe)
	assert.Equal(t, []string{"solo"}, g.PatternIDs())
}

func TestGroupAll_MultiCycleShapes(t *testing.T) {
	t0 := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(4 * time.Hour)
	patterns := []Pattern{
		mk("volume_spike", TF1h, t0, "p1"),
		mk("volume_spike", TF1h, t1, "p2"),
		mk("divergence", TF4h, t1, "p3"),
	}

	groups, err := GroupAll("BTC", patterns)
	require.NoError(t, err)
	kinds := byKind(groups)

	recurring := kinds[KindSingleSingleMultiCycle]
	require.Len(t, recurring, 1, "only volume_spike@1h recurs across cycles")
	assert.Equal(t, []string{"p1", "p2"}, recurring[0].PatternIDs())
	assert.Equal(t, 2, recurring[0].CycleCount())
	assert.Equal(t, TF1h, recurring[0].Timeframe)

	assetWide := kinds[KindMultiMultiCycle]
	require.Len(t, assetWide, 1)
	assert.Len(t, assetWide[0].Patterns, 3)
	assert.Equal(t, 2, assetWide[0].CycleCount())
}

func TestGroupAll_RejectsMalformedInput(t *testing.T) {
	t0 := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	t.Run("missing asset", func(t *testing.T) {
		groups, err := GroupAll("", []Pattern{mk("breakout", TF1h, t0, "x")})
		assert.ErrorIs(t, err, ErrMissingAsset)
		assert.Nil(t, groups)
	})

	t.Run("mixed assets", func(t *testing.T) {
		eth := mk("breakout", TF1h, t0, "y")
		eth.Asset = "ETH"
		groups, err := GroupAll("BTC", []Pattern{mk("breakout", TF1h, t0, "x"), eth})
		assert.ErrorIs(t, err, ErrMixedAssets)
		assert.Nil(t, groups)
	})

	t.Run("invalid pattern", func(t *testing.T) {
		bad := mk("", TF1h, t0, "z")
		groups, err := GroupAll("BTC", []Pattern{bad})
		assert.Error(t, err)
		assert.Nil(t, groups)
	})

	t.Run("empty input", func(t *testing.T) {
		groups, err := GroupAll("BTC", nil)
		assert.NoError(t, err)
		assert.Empty(t, groups)
	})
}

func TestGroupAll_DeterministicOrder(t *testing.T) {
	t0 := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(time.Hour)
	patterns := []Pattern{
		mk("volume_spike", TF1h, t0, "p1"),
		mk("divergence", TF4h, t0, "p2"),
		mk("volume_spike", TF1h, t1, "p3"),
		mk("breakout", TF1d, t1, "p4"),
	}

	first, err := GroupAll("BTC", patterns)
	require.NoError(t, err)

	for i := 0; i < 10; i++ {
		again, err := GroupAll("BTC", patterns)
		require.NoError(t, err)
		require.Equal(t, first, again, "grouping must not depend on map iteration order")
	}
}
