package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTimeframe_Hours(t *testing.T) {
	tests := []struct {
		tf    Timeframe
		hours float64
	}{
		{TF1m, 1.0 / 60.0},
		{TF5m, 5.0 / 60.0},
		{TF15m, 0.25},
		{TF30m, 0.5},
		{TF1h, 1},
		{TF4h, 4},
		{TF1d, 24},
		{TF1w, 168},
	}

	for _, tt := range tests {
		t.Run(string(tt.tf), func(t *testing.T) {
			assert.InDelta(t, tt.hours, tt.tf.Hours(), 1e-9)
		})
	}

	assert.Zero(t, Timeframe("3h").Hours(), "unknown timeframe should carry no duration")
}

func TestTimeframe_IsValid(t *testing.T) {
	assert.True(t, TF1h.IsValid())
	assert.True(t, TF1w.IsValid())
	assert.False(t, Timeframe("").IsValid())
	assert.False(t, Timeframe("2h").IsValid())
}

func TestPattern_Validate(t *testing.T) {
	cycle := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	valid := Pattern{
		PatternType: "volume_spike",
		Asset:       "BTC",
		Timeframe:   TF1h,
		CycleTime:   cycle,
		SourceID:    "det-001",
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Pattern)
	}{
		{"missing pattern type", func(p *Pattern) { p.PatternType = "" }},
		{"missing asset", func(p *Pattern) { p.Asset = "" }},
		{"unknown timeframe", func(p *Pattern) { p.Timeframe = "2h" }},
		{"zero cycle time", func(p *Pattern) { p.CycleTime = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := valid
			tt.mutate(&p)
			assert.Error(t, p.Validate())
		})
	}
}

func TestGroup_Validate(t *testing.T) {
	cycle := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	p := Pattern{PatternType: "breakout", Asset: "ETH", Timeframe: TF4h, CycleTime: cycle, SourceID: "det-002"}

	t.Run("valid", func(t *testing.T) {
		g := Group{Kind: KindSingleSingle, Asset: "ETH", Timeframe: TF4h, CycleTime: cycle, Patterns: []Pattern{p}}
		assert.NoError(t, g.Validate())
	})

	t.Run("empty pattern list", func(t *testing.T) {
		g := Group{Kind: KindSingleSingle, Asset: "ETH"}
		assert.ErrorIs(t, g.Validate(), ErrEmptyGroup)
	})

	t.Run("missing asset", func(t *testing.T) {
		g := Group{Kind: KindSingleSingle, Patterns: []Pattern{p}}
		assert.ErrorIs(t, g.Validate(), ErrMissingAsset)
	})

	t.Run("mixed assets", func(t *testing.T) {
		other := p
		other.Asset = "BTC"
		g := Group{Kind: KindMultiSingle, Asset: "ETH", Patterns: []Pattern{p, other}}
		assert.ErrorIs(t, g.Validate(), ErrMixedAssets)
	})

	t.Run("unknown kind", func(t *testing.T) {
		g := Group{Kind: "triple_nested", Asset: "ETH", Patterns: []Pattern{p}}
		assert.Error(t, g.Validate())
	})
}

func TestGroup_DerivedSets(t *testing.T) {
	cycle1 := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	cycle2 := cycle1.Add(4 * time.Hour)

	g := Group{
		Kind:  KindMultiMultiCycle,
		Asset: "BTC",
		Patterns: []Pattern{
			{PatternType: "volume_spike", Asset: "BTC", Timeframe: TF4h, CycleTime: cycle1, SourceID: "a"},
			{PatternType: "divergence", Asset: "BTC", Timeframe: TF1h, CycleTime: cycle1, SourceID: "b"},
			{PatternType: "volume_spike", Asset: "BTC", Timeframe: TF1h, CycleTime: cycle2, SourceID: "c"},
		},
	}

	assert.Equal(t, []string{"divergence", "volume_spike"}, g.PatternTypes(), "types deduplicated and sorted")
	assert.Equal(t, []Timeframe{TF1h, TF4h}, g.Timeframes(), "timeframes sorted short to long")
	assert.Equal(t, 2, g.CycleCount())
	assert.Equal(t, TF4h, g.LongestTimeframe())
	assert.Equal(t, []string{"a", "b", "c"}, g.PatternIDs())
}

func TestKind_CycleSensitive(t *testing.T) {
	sensitive := map[Kind]bool{
		KindSingleSingle:           false,
		KindMultiSingle:            false,
		KindSingleMulti:            false,
		KindMultiMulti:             false,
		KindSingleSingleMultiCycle: true,
		KindMultiMultiCycle:        true,
	}

	for _, k := range Kinds() {
		assert.Equal(t, sensitive[k], k.CycleSensitive(), "kind %s", k)
	}
}
