package predict

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/tradeloop/flywheel/pattern"
	"github.com/tradeloop/flywheel/precedent"
	"github.com/tradeloop/flywheel/store"
)

// Engine turns one pattern group into one stored prediction: retrieve
// context, run both estimators, label the match quality and persist.
type Engine struct {
	retriever   *precedent.Retriever
	advisor     *Advisor
	predictions store.PredictionRepo
}

// NewEngine wires the prediction pipeline. predictions may be nil to skip
// persistence (dry runs); advisor may be nil to disable the completion path.
func NewEngine(retriever *precedent.Retriever, advisor *Advisor, predictions store.PredictionRepo) *Engine {
	return &Engine{retriever: retriever, advisor: advisor, predictions: predictions}
}

// Predict synthesizes and persists a prediction for the group. A malformed
// group returns a nil prediction and the validation error, with nothing
// written. Estimator and retrieval failures degrade instead of propagating:
// the prediction that comes back is always usable, at worst conservative.
// A persistence failure is reported in err while the prediction itself is
// still returned.
func (e *Engine) Predict(ctx context.Context, g pattern.Group, currentPrice float64) (*store.Prediction, error) {
	pctx, err := e.retriever.Retrieve(ctx, g)
	if err != nil {
		if isMalformed(err) {
			return nil, err
		}
		// Store trouble must not kill the analysis cycle. Proceed as a
		// first observation; the label stays honest because no context
		// was obtainable.
		log.Warn().Err(err).
			Str("asset", g.Asset).
			Msg("Context retrieval failed, treating group as first observation")
		pctx = &precedent.Context{
			Asset:        g.Asset,
			GroupKind:    g.Kind,
			Signature:    g.Signature(),
			MatchQuality: store.MatchFirstTime,
		}
	}

	outcomes := pctx.Outcomes()
	codeEst, basis := Statistical(g, currentPrice, outcomes)
	llmEst := e.advisor.Estimate(ctx, g, currentPrice, pctx, basis)

	pred := &store.Prediction{
		ID:           uuid.New().String(),
		Asset:        g.Asset,
		GroupKind:    g.Kind,
		Signature:    pctx.Signature,
		Timeframe:    g.Timeframe,
		CycleTime:    g.CycleTime,
		PatternTypes: g.PatternTypes(),
		Timeframes:   timeframeStrings(g.Timeframes()),
		CycleCount:   g.CycleCount(),
		PatternIDs:   g.PatternIDs(),
		CurrentPrice: currentPrice,
		MatchQuality: pctx.MatchQuality,
		Confidence:   pctx.Confidence,
		Note:         contextNote(pctx),
		CodeEstimate: codeEst,
		LLMEstimate:  llmEst,
		Basis:        basis,
		Differences:  pctx.Differences(),
		CreatedAt:    time.Now().UTC(),
	}

	if e.predictions != nil {
		if err := e.predictions.Insert(ctx, *pred); err != nil {
			return pred, fmt.Errorf("failed to persist prediction: %w", err)
		}
	}

	log.Info().
		Str("asset", pred.Asset).
		Str("signature", pred.Signature).
		Str("match_quality", string(pred.MatchQuality)).
		Float64("confidence", pred.Confidence).
		Int("sample_size", basis.SampleSize).
		Msg("Prediction created")

	return pred, nil
}

// contextNote renders the load-bearing provenance note. Downstream trust
// calibration reads it; the three cases must stay textually distinct.
func contextNote(pctx *precedent.Context) string {
	switch pctx.MatchQuality {
	case store.MatchExact:
		return fmt.Sprintf("Based on %d exact matches", len(pctx.Exact))
	case store.MatchSimilar:
		return fmt.Sprintf("Based on %d similar matches (avg similarity %.2f) - NOT EXACT MATCH",
			len(pctx.Similar), pctx.Confidence)
	default:
		return "First prediction for this group"
	}
}

func isMalformed(err error) bool {
	for _, sentinel := range []error{
		pattern.ErrEmptyGroup,
		pattern.ErrMissingAsset,
		pattern.ErrMixedAssets,
		pattern.ErrUnknownKind,
	} {
		if errors.Is(err, sentinel) {
			return true
		}
	}
	return false
}

func timeframeStrings(tfs []pattern.Timeframe) []string {
	out := make([]string, len(tfs))
	for i, tf := range tfs {
		out[i] = string(tf)
	}
	return out
}
