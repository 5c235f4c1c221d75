package predict

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/tradeloop/flywheel/completion"
	"github.com/tradeloop/flywheel/pattern"
	"github.com/tradeloop/flywheel/precedent"
	"github.com/tradeloop/flywheel/store"
)

// Completer is the slice of the completion client the advisor needs.
type Completer interface {
	Complete(ctx context.Context, req completion.Request) (string, error)
}

// Advisor runs the external-estimator path. Any failure, transport or
// parse, degrades to the conservative default; Estimate never returns an
// error and never blocks past the client's timeout.
type Advisor struct {
	client Completer
}

func NewAdvisor(client Completer) *Advisor {
	return &Advisor{client: client}
}

// Estimate asks the completion service for a numeric estimate over the
// same context the statistical estimator saw.
func (a *Advisor) Estimate(ctx context.Context, g pattern.Group, currentPrice float64, pctx *precedent.Context, basis store.HistoricalBasis) store.Estimate {
	if a == nil || a.client == nil {
		return Conservative(g, currentPrice, "completion disabled")
	}

	raw, err := a.client.Complete(ctx, completion.Request{
		Prompt: buildPrompt(g, currentPrice, pctx, basis),
	})
	if err != nil {
		log.Warn().Err(err).
			Str("asset", g.Asset).
			Str("signature", pctx.Signature).
			Msg("Completion request failed, using conservative estimate")
		return Conservative(g, currentPrice, fmt.Sprintf("completion failed: %v", err))
	}

	parsed, err := completion.ParseEstimate(raw)
	if err != nil {
		log.Warn().Err(err).
			Str("asset", g.Asset).
			Str("signature", pctx.Signature).
			Msg("Completion response unparseable, using conservative estimate")
		return Conservative(g, currentPrice, fmt.Sprintf("unparseable completion: %v", err))
	}

	return store.Estimate{
		Source:        "completion",
		Direction:     parsed.Direction,
		TargetPrice:   parsed.TargetPrice,
		StopPrice:     parsed.StopPrice,
		Confidence:    parsed.Confidence,
		DurationHours: parsed.DurationHours,
		Rationale:     parsed.Rationale,
	}
}

// buildPrompt serializes the group and its retrieved context into the
// structured request. The instruction pins the response to the JSON schema
// ParseEstimate expects.
func buildPrompt(g pattern.Group, currentPrice float64, pctx *precedent.Context, basis store.HistoricalBasis) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "Asset: %s\n", g.Asset)
	fmt.Fprintf(&sb, "Group: %s (signature %s)\n", g.Kind, pctx.Signature)
	fmt.Fprintf(&sb, "Pattern types: %s\n", strings.Join(g.PatternTypes(), ", "))
	fmt.Fprintf(&sb, "Timeframes: %s\n", joinTimeframes(g.Timeframes()))
	fmt.Fprintf(&sb, "Current price: %.8g\n\n", currentPrice)

	switch pctx.MatchQuality {
	case store.MatchExact:
		fmt.Fprintf(&sb, "Historical context: %d exact precedents.\n", len(pctx.Exact))
	case store.MatchSimilar:
		fmt.Fprintf(&sb, "Historical context: %d similar precedents (avg similarity %.2f), no exact match.\n",
			len(pctx.Similar), pctx.Confidence)
		for _, m := range pctx.Similar {
			fmt.Fprintf(&sb, "- similarity %.2f: return %.2f%%, drawdown %.2f%%",
				m.Similarity, m.Review.ReturnPct*100, m.Review.MaxDrawdown*100)
			if len(m.Differences) > 0 {
				fmt.Fprintf(&sb, " (%s)", strings.Join(m.Differences, "; "))
			}
			sb.WriteByte('\n')
		}
	default:
		sb.WriteString("Historical context: none, first observation of this group.\n")
	}

	if basis.SampleSize > 0 {
		fmt.Fprintf(&sb, "Aggregate: sample %d, success rate %.2f, avg return %.4f, max drawdown %.4f\n",
			basis.SampleSize, basis.SuccessRate, basis.AvgReturn, basis.MaxDrawdown)
	}

	sb.WriteString("\nRespond with a single JSON object:\n")
	sb.WriteString(`{"direction":"long|short|neutral","target_price":0.0,"stop_price":0.0,"confidence":0.0,"duration_hours":0.0,"rationale":"..."}`)
	sb.WriteByte('\n')

	return sb.String()
}

func joinTimeframes(tfs []pattern.Timeframe) string {
	parts := make([]string, len(tfs))
	for i, tf := range tfs {
		parts[i] = string(tf)
	}
	return strings.Join(parts, ", ")
}
