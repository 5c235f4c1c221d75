// Package lever implements the coefficient learning loop: every closed
// trade folds its reward/risk into decayed short and long horizon averages
// per lever key, normalized against a global baseline into a bounded
// allocation weight.
package lever

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradeloop/flywheel/store"
)

// Decay horizons in days and the hard weight bounds.
const (
	TauShortDays = 14.0
	TauLongDays  = 90.0

	MinWeight     = 0.5
	MaxWeight     = 2.0
	DefaultWeight = 1.0
)

// Scope values used in coefficient keys.
const (
	ScopeLever    = "lever"
	scopeBaseline = "baseline"
)

// ErrNoRR marks an outcome that closed without a reward/risk value. The
// update is skipped entirely, baseline included; callers treat it as a
// skip, not a failure.
var ErrNoRR = errors.New("lever: outcome has no reward/risk value")

// BaselineKey returns the identity of the module's global baseline record.
func BaselineKey(module string) store.CoefficientKey {
	return store.CoefficientKey{Module: module, Scope: scopeBaseline, Name: "global", Key: "all"}
}

// LeverKey returns the identity of one lever coefficient.
func LeverKey(module, name, key string) store.CoefficientKey {
	return store.CoefficientKey{Module: module, Scope: ScopeLever, Name: name, Key: key}
}

// Updater applies closed-trade outcomes to lever coefficients. A single
// writer mutex serializes the whole read-modify-write cycle across the
// baseline and every lever key; the EWMA state is not idempotent, so the
// caller must deliver each outcome at most once.
type Updater struct {
	repo   store.CoefficientRepo
	module string

	mu  sync.Mutex
	now func() time.Time
}

// NewUpdater creates an updater writing coefficients under module.
func NewUpdater(repo store.CoefficientRepo, module string) *Updater {
	return &Updater{repo: repo, module: module, now: time.Now}
}

// Apply folds one outcome into the global baseline and the given levers
// (name -> observed key, e.g. "timeframe" -> "1h"). An outcome without an
// R/R value skips the update entirely, baseline included, and returns
// ErrNoRR. The baseline is updated first so lever weights always normalize
// against a baseline that has seen the same trade.
func (u *Updater) Apply(ctx context.Context, rev store.PredictionReview, levers map[string]string) error {
	if rev.RR == nil {
		log.Debug().
			Str("prediction_id", rev.PredictionID).
			Msg("Outcome carries no R/R, skipping coefficient update")
		return ErrNoRR
	}
	rr := *rev.RR

	u.mu.Lock()
	defer u.mu.Unlock()

	deltaDays := u.now().Sub(rev.ClosedAt).Hours() / 24
	if deltaDays < 0 {
		deltaDays = 0
	}
	alphaShort := decayAlpha(deltaDays, TauShortDays)
	alphaLong := decayAlpha(deltaDays, TauLongDays)

	baseline, err := u.load(ctx, BaselineKey(u.module))
	if err != nil {
		return fmt.Errorf("failed to load baseline: %w", err)
	}
	baseline.RRShort = blend(baseline.RRShort, rr, alphaShort)
	baseline.RRLong = blend(baseline.RRLong, rr, alphaLong)
	baseline.SampleCount++
	baseline.Weight = DefaultWeight
	baseline.UpdatedAt = u.now().UTC()
	if err := u.repo.Upsert(ctx, baseline); err != nil {
		return fmt.Errorf("failed to persist baseline: %w", err)
	}

	for _, name := range sortedNames(levers) {
		key := levers[name]
		if key == "" {
			continue
		}
		coeff, err := u.load(ctx, LeverKey(u.module, name, key))
		if err != nil {
			return fmt.Errorf("failed to load lever %s/%s: %w", name, key, err)
		}
		coeff.RRShort = blend(coeff.RRShort, rr, alphaShort)
		coeff.RRLong = blend(coeff.RRLong, rr, alphaLong)
		coeff.SampleCount++
		coeff.Weight = normalizedWeight(coeff.RRShort, baseline.RRShort)
		coeff.UpdatedAt = u.now().UTC()
		if err := u.repo.Upsert(ctx, coeff); err != nil {
			return fmt.Errorf("failed to persist lever %s/%s: %w", name, key, err)
		}

		log.Debug().
			Str("lever", name).
			Str("key", key).
			Float64("rr", rr).
			Float64("weight", coeff.Weight).
			Int64("samples", coeff.SampleCount).
			Msg("Lever coefficient updated")
	}

	return nil
}

// load fetches a coefficient or returns its uninitialized state.
func (u *Updater) load(ctx context.Context, key store.CoefficientKey) (store.Coefficient, error) {
	c, err := u.repo.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Coefficient{CoefficientKey: key, Weight: DefaultWeight}, nil
		}
		return store.Coefficient{}, err
	}
	return *c, nil
}

// decayAlpha converts elapsed days into the EWMA blend factor for one
// horizon: w = exp(-dt/tau), alpha = w/(w+1). Fresh trades blend at 1/2
// and the factor decays toward 0 with age.
func decayAlpha(deltaDays, tauDays float64) float64 {
	w := math.Exp(-deltaDays / tauDays)
	return w / (w + 1)
}

func blend(prev, rr, alpha float64) float64 {
	return (1-alpha)*prev + alpha*rr
}

// normalizedWeight divides the lever's short-horizon average by the
// baseline's and clamps into the hard [MinWeight, MaxWeight] range. A zero
// baseline yields the neutral default.
func normalizedWeight(rrShort, baselineRRShort float64) float64 {
	if baselineRRShort == 0 {
		return DefaultWeight
	}
	return Clamp(rrShort/baselineRRShort, MinWeight, MaxWeight)
}

// Clamp bounds v into [lo, hi].
func Clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sortedNames(levers map[string]string) []string {
	names := make([]string, 0, len(levers))
	for name := range levers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
