// Package predict synthesizes forward-looking predictions for pattern
// groups from retrieved historical context. Two estimators run on the same
// evidence, a deterministic statistical one and an external completion one,
// and both land on the stored prediction side by side.
package predict

import (
	"fmt"
	"math"

	"github.com/tradeloop/flywheel/pattern"
	"github.com/tradeloop/flywheel/store"
)

// Statistical estimator shape parameters.
const (
	targetReturnFactor = 0.8  // fraction of avg historical return priced into the target
	stopDrawdownFactor = 1.2  // drawdown multiple priced into the stop
	durationBars       = 20.0 // expected holding period in bars of the anchor timeframe

	baseConfidence       = 0.3
	sampleConfidenceStep = 0.1
	successConfidenceMax = 0.4
	confidenceCeiling    = 0.9

	conservativeMovePct = 0.01
)

// Conservative returns the fixed low-confidence estimate used whenever no
// historical evidence is available or an estimator failed: one percent
// target and stop around the current price, confidence 0.3.
func Conservative(g pattern.Group, currentPrice float64, rationale string) store.Estimate {
	return store.Estimate{
		Source:        "conservative",
		Direction:     "neutral",
		TargetPrice:   currentPrice * (1 + conservativeMovePct),
		StopPrice:     currentPrice * (1 - conservativeMovePct),
		Confidence:    baseConfidence,
		DurationHours: durationBars * anchorHours(g),
		Rationale:     rationale,
		Fallback:      true,
	}
}

// Statistical derives an estimate and its historical basis from the
// combined exact and similar outcomes. With no outcomes it falls back to
// the conservative default and an empty basis.
func Statistical(g pattern.Group, currentPrice float64, outcomes []store.PredictionReview) (store.Estimate, store.HistoricalBasis) {
	if len(outcomes) == 0 {
		return Conservative(g, currentPrice, "no historical data"), store.HistoricalBasis{}
	}

	var wins int
	var sum float64
	minReturn := math.Inf(1)
	for _, o := range outcomes {
		if o.ReturnPct > 0 {
			wins++
		}
		sum += o.ReturnPct
		if o.ReturnPct < minReturn {
			minReturn = o.ReturnPct
		}
	}

	n := len(outcomes)
	successRate := float64(wins) / float64(n)
	avgReturn := sum / float64(n)

	basis := store.HistoricalBasis{
		SampleSize:  n,
		SuccessRate: successRate,
		AvgReturn:   avgReturn,
		MaxDrawdown: minReturn,
	}

	direction := "short"
	if avgReturn > 0 {
		direction = "long"
	}

	confidence := baseConfidence + sampleConfidenceStep*float64(n) + successConfidenceMax*successRate
	if confidence > confidenceCeiling {
		confidence = confidenceCeiling
	}
	if confidence < 0 {
		confidence = 0
	}

	est := store.Estimate{
		Source:        "statistical",
		Direction:     direction,
		TargetPrice:   currentPrice * (1 + targetReturnFactor*avgReturn),
		StopPrice:     currentPrice * (1 - stopDrawdownFactor*math.Abs(minReturn)),
		Confidence:    confidence,
		DurationHours: durationBars * anchorHours(g),
		Rationale: fmt.Sprintf("%d outcomes, %.0f%% success, avg return %.2f%%",
			n, successRate*100, avgReturn*100),
	}
	return est, basis
}

// anchorHours picks the duration anchor for a group: its own timeframe when
// the shape has one, otherwise the longest timeframe among its patterns.
func anchorHours(g pattern.Group) float64 {
	if h := g.Timeframe.Hours(); h > 0 {
		return h
	}
	if h := g.LongestTimeframe().Hours(); h > 0 {
		return h
	}
	return 1
}
