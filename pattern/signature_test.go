package pattern

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSignature_Format(t *testing.T) {
	t0 := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	t1 := t0.Add(24 * time.Hour)

	tests := []struct {
		name  string
		group Group
		want  string
	}{
		{
			name: "single single",
			group: Group{
				Kind: KindSingleSingle, Asset: "BTC", Timeframe: TF1h, CycleTime: t0,
				Patterns: []Pattern{mk("volume_spike", TF1h, t0, "a")},
			},
			want: "single_single|volume_spike|1h",
		},
		{
			name: "multi single sorts types",
			group: Group{
				Kind: KindMultiSingle, Asset: "BTC", Timeframe: TF1h, CycleTime: t0,
				Patterns: []Pattern{
					mk("volume_spike", TF1h, t0, "a"),
					mk("divergence", TF1h, t0, "b"),
				},
			},
			want: "multi_single|divergence+volume_spike|1h",
		},
		{
			name: "single multi sorts timeframes by duration",
			group: Group{
				Kind: KindSingleMulti, Asset: "BTC", CycleTime: t0,
				Patterns: []Pattern{
					mk("breakout", TF4h, t0, "a"),
					mk("breakout", TF1h, t0, "b"),
				},
			},
			want: "single_multi|breakout|1h+4h",
		},
		{
			name: "multi cycle kinds embed distinct cycle count",
			group: Group{
				Kind: KindSingleSingleMultiCycle, Asset: "BTC", Timeframe: TF1h,
				Patterns: []Pattern{
					mk("volume_spike", TF1h, t0, "a"),
					mk("volume_spike", TF1h, t1, "b"),
				},
			},
			want: "single_single_multi_cycle|volume_spike|1h|c2",
		},
		{
			name: "asset wide",
			group: Group{
				Kind: KindMultiMultiCycle, Asset: "BTC",
				Patterns: []Pattern{
					mk("volume_spike", TF1h, t0, "a"),
					mk("divergence", TF4h, t1, "b"),
				},
			},
			want: "multi_multi_cycle|divergence+volume_spike|1h+4h|c2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.group.Signature())
		})
	}
}

// Structurally identical groups observed at different times share one
// signature; lookups must span cycles. Only the distinct-cycle count, never
// a timestamp, may enter the string.
func TestSignature_StableAcrossCycles(t *testing.T) {
	t0 := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	t1 := time.Date(2025, 3, 2, 8, 0, 0, 0, time.UTC)

	build := func(cycle time.Time) Group {
		return Group{
			Kind: KindMultiSingle, Asset: "BTC", Timeframe: TF1h, CycleTime: cycle,
			Patterns: []Pattern{
				mk("divergence", TF1h, cycle, "x"),
				mk("volume_spike", TF1h, cycle, "y"),
			},
		}
	}

	assert.Equal(t, build(t0).Signature(), build(t1).Signature())
}

func TestSignature_IndependentOfPatternOrder(t *testing.T) {
	t0 := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)
	a := mk("volume_spike", TF1h, t0, "a")
	b := mk("divergence", TF4h, t0, "b")

	g1 := Group{Kind: KindMultiMulti, Asset: "BTC", CycleTime: t0, Patterns: []Pattern{a, b}}
	g2 := Group{Kind: KindMultiMulti, Asset: "BTC", CycleTime: t0, Patterns: []Pattern{b, a}}

	assert.Equal(t, g1.Signature(), g2.Signature())
}

func TestSignature_ExcludesAsset(t *testing.T) {
	t0 := time.Date(2025, 1, 15, 12, 0, 0, 0, time.UTC)

	btc := Group{Kind: KindSingleSingle, Asset: "BTC", Timeframe: TF1h, CycleTime: t0,
		Patterns: []Pattern{mk("breakout", TF1h, t0, "a")}}
	eth := btc
	eth.Asset = "ETH"
	ethp := mk("breakout", TF1h, t0, "b")
	ethp.Asset = "ETH"
	eth.Patterns = []Pattern{ethp}

	assert.Equal(t, btc.Signature(), eth.Signature(),
		"asset scoping belongs to the store query, not the signature")
}
