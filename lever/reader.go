package lever

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradeloop/flywheel/store"
	"github.com/tradeloop/flywheel/store/storecache"
)

// Reader serves lever weights to allocation logic through an advisory
// read-through cache. Untracked keys read as the neutral default weight;
// correctness never depends on a cache hit.
type Reader struct {
	repo   store.CoefficientRepo
	cache  storecache.Cache
	module string
	ttl    time.Duration
}

// NewReader creates a reader for one module's coefficients. cache may be
// nil to read straight through to the repository.
func NewReader(repo store.CoefficientRepo, cache storecache.Cache, module string, ttl time.Duration) *Reader {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Reader{repo: repo, cache: cache, module: module, ttl: ttl}
}

// Weight returns the learned weight for one lever key. Keys that have
// never seen a trade return DefaultWeight.
func (r *Reader) Weight(ctx context.Context, name, key string) (float64, error) {
	ck := LeverKey(r.module, name, key)
	cacheKey := "lever:" + ck.String()

	if w, ok := r.cachedFloat(cacheKey); ok {
		return w, nil
	}

	coeff, err := r.repo.Get(ctx, ck)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return DefaultWeight, nil
		}
		return DefaultWeight, fmt.Errorf("failed to read lever %s/%s: %w", name, key, err)
	}

	r.cacheFloat(cacheKey, coeff.Weight)
	return coeff.Weight, nil
}

// RefreshWeight reads one lever key straight from the repository and
// overwrites its cache entry, so a just-applied outcome is visible before
// the TTL expires. Untracked keys refresh to DefaultWeight.
func (r *Reader) RefreshWeight(ctx context.Context, name, key string) (float64, error) {
	ck := LeverKey(r.module, name, key)
	cacheKey := "lever:" + ck.String()

	coeff, err := r.repo.Get(ctx, ck)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			r.cacheFloat(cacheKey, DefaultWeight)
			return DefaultWeight, nil
		}
		return DefaultWeight, fmt.Errorf("failed to refresh lever %s/%s: %w", name, key, err)
	}

	r.cacheFloat(cacheKey, coeff.Weight)
	return coeff.Weight, nil
}

// Weights returns every tracked key's weight for one lever name.
func (r *Reader) Weights(ctx context.Context, name string) (map[string]float64, error) {
	cacheKey := "lever:" + r.module + ":" + name + ":*"

	if r.cache != nil {
		if raw, ok := r.cache.Get(cacheKey); ok {
			var weights map[string]float64
			if err := json.Unmarshal(raw, &weights); err == nil {
				return weights, nil
			}
			log.Warn().Str("key", cacheKey).Msg("Discarding undecodable cached weights")
		}
	}

	coeffs, err := r.repo.ListByName(ctx, r.module, ScopeLever, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list lever %s: %w", name, err)
	}

	weights := make(map[string]float64, len(coeffs))
	for _, c := range coeffs {
		weights[c.Key] = c.Weight
	}

	if r.cache != nil && len(weights) > 0 {
		if raw, err := json.Marshal(weights); err == nil {
			r.cache.Set(cacheKey, raw, r.ttl)
		}
	}
	return weights, nil
}

// NormalizedWeights returns the lever's weights scaled to sum to 1.0, for
// splitting an allocation budget across keys.
func (r *Reader) NormalizedWeights(ctx context.Context, name string) (map[string]float64, error) {
	weights, err := r.Weights(ctx, name)
	if err != nil {
		return nil, err
	}
	return Normalize(weights), nil
}

// SplitBudget divides total across a lever's tracked keys in proportion to
// their learned weights. A lever with no tracked keys returns an empty map;
// the caller decides what an unsplit budget means.
func (r *Reader) SplitBudget(ctx context.Context, name string, total float64) (map[string]float64, error) {
	weights, err := r.Weights(ctx, name)
	if err != nil {
		return nil, err
	}
	return SplitBudget(total, weights), nil
}

func (r *Reader) cachedFloat(key string) (float64, bool) {
	if r.cache == nil {
		return 0, false
	}
	raw, ok := r.cache.Get(key)
	if !ok {
		return 0, false
	}
	var w float64
	if err := json.Unmarshal(raw, &w); err != nil {
		return 0, false
	}
	return w, true
}

func (r *Reader) cacheFloat(key string, w float64) {
	if r.cache == nil {
		return
	}
	raw, err := json.Marshal(w)
	if err != nil {
		return
	}
	r.cache.Set(key, raw, r.ttl)
}
