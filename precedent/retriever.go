package precedent

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tradeloop/flywheel/pattern"
	"github.com/tradeloop/flywheel/store"
	"github.com/tradeloop/flywheel/store/storecache"
)

// Config bounds context retrieval.
type Config struct {
	// ExactLimit caps exact-signature results, newest first.
	ExactLimit int `yaml:"exact_limit" default:"20" validate:"gt=0"`

	// SimilarPoolLimit caps the candidate pool scored for similarity.
	SimilarPoolLimit int `yaml:"similar_pool_limit" default:"50" validate:"gt=0"`

	// SimilarThreshold is the minimum similarity a near match must score.
	SimilarThreshold float64 `yaml:"similar_threshold" default:"0.7" validate:"gte=0,lte=1"`

	// CacheTTL bounds staleness of the advisory per-signature cache.
	CacheTTL time.Duration `yaml:"cache_ttl" default:"60s"`
}

// DefaultConfig returns the retrieval bounds used in production.
func DefaultConfig() Config {
	return Config{
		ExactLimit:       20,
		SimilarPoolLimit: 50,
		SimilarThreshold: 0.7,
		CacheTTL:         time.Minute,
	}
}

// Match is one near match with its similarity score and the attribute
// deltas separating it from the candidate group.
type Match struct {
	Review      store.PredictionReview `json:"review"`
	Similarity  float64                `json:"similarity"`
	Differences []string               `json:"differences,omitempty"`
}

// Context is the historical evidence retrieved for one candidate group.
type Context struct {
	Asset        string                   `json:"asset"`
	GroupKind    pattern.Kind             `json:"group_kind"`
	Signature    string                   `json:"signature"`
	Exact        []store.PredictionReview `json:"exact,omitempty"`
	Similar      []Match                  `json:"similar,omitempty"`
	MatchQuality store.MatchQuality       `json:"match_quality"`
	Confidence   float64                  `json:"confidence"`
}

// Outcomes returns the combined exact and similar outcome records, exact
// first, for the estimators.
func (c *Context) Outcomes() []store.PredictionReview {
	out := make([]store.PredictionReview, 0, len(c.Exact)+len(c.Similar))
	out = append(out, c.Exact...)
	for _, m := range c.Similar {
		out = append(out, m.Review)
	}
	return out
}

// SampleSize returns the number of outcome records backing the context.
func (c *Context) SampleSize() int {
	return len(c.Exact) + len(c.Similar)
}

// Differences flattens the attribute deltas across all near matches.
func (c *Context) Differences() []string {
	var out []string
	for _, m := range c.Similar {
		out = append(out, m.Differences...)
	}
	return out
}

// Retriever answers context queries against the review store, with an
// advisory read-through cache keyed by (asset, signature).
type Retriever struct {
	reviews store.ReviewRepo
	cache   storecache.Cache
	cfg     Config
}

// NewRetriever creates a retriever. cache may be nil to disable caching.
func NewRetriever(reviews store.ReviewRepo, cache storecache.Cache, cfg Config) *Retriever {
	if cfg.ExactLimit <= 0 {
		cfg.ExactLimit = DefaultConfig().ExactLimit
	}
	if cfg.SimilarPoolLimit <= 0 {
		cfg.SimilarPoolLimit = DefaultConfig().SimilarPoolLimit
	}
	if cfg.SimilarThreshold <= 0 {
		cfg.SimilarThreshold = DefaultConfig().SimilarThreshold
	}
	return &Retriever{reviews: reviews, cache: cache, cfg: cfg}
}

// Retrieve computes the group's signature and gathers exact and similar
// historical outcomes. Malformed groups are rejected before signature
// computation and produce no partial result. Confidence is 1.0 with any
// exact match, the mean similarity of near matches otherwise, and 0.0 with
// no context at all.
func (r *Retriever) Retrieve(ctx context.Context, g pattern.Group) (*Context, error) {
	if err := g.Validate(); err != nil {
		return nil, fmt.Errorf("malformed group: %w", err)
	}
	sig := g.Signature()
	cacheKey := "ctx:" + g.Asset + ":" + sig

	if cached := r.fromCache(cacheKey); cached != nil {
		return cached, nil
	}

	pctx := &Context{
		Asset:     g.Asset,
		GroupKind: g.Kind,
		Signature: sig,
	}

	exact, err := r.reviews.ListBySignature(ctx, g.Asset, sig, r.cfg.ExactLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query exact matches: %w", err)
	}
	pctx.Exact = exact

	pool, err := r.reviews.ListByGroupKind(ctx, g.Asset, g.Kind, r.cfg.SimilarPoolLimit)
	if err != nil {
		return nil, fmt.Errorf("failed to query similarity pool: %w", err)
	}

	types := g.PatternTypes()
	timeframes := timeframeStrings(g.Timeframes())
	cycles := g.CycleCount()

	for _, rec := range pool {
		if rec.Signature == sig {
			continue
		}
		s := Score(types, timeframes, cycles, rec)
		if s < r.cfg.SimilarThreshold {
			continue
		}
		pctx.Similar = append(pctx.Similar, Match{
			Review:      rec,
			Similarity:  s,
			Differences: differences(types, timeframes, cycles, rec),
		})
	}
	sort.SliceStable(pctx.Similar, func(i, j int) bool {
		return pctx.Similar[i].Similarity > pctx.Similar[j].Similarity
	})

	switch {
	case len(pctx.Exact) > 0:
		pctx.MatchQuality = store.MatchExact
		pctx.Confidence = 1.0
	case len(pctx.Similar) > 0:
		pctx.MatchQuality = store.MatchSimilar
		var sum float64
		for _, m := range pctx.Similar {
			sum += m.Similarity
		}
		pctx.Confidence = sum / float64(len(pctx.Similar))
	default:
		pctx.MatchQuality = store.MatchFirstTime
		pctx.Confidence = 0.0
	}

	r.toCache(cacheKey, pctx)

	log.Debug().
		Str("asset", g.Asset).
		Str("signature", sig).
		Int("exact", len(pctx.Exact)).
		Int("similar", len(pctx.Similar)).
		Str("match_quality", string(pctx.MatchQuality)).
		Msg("Context retrieved")

	return pctx, nil
}

func (r *Retriever) fromCache(key string) *Context {
	if r.cache == nil {
		return nil
	}
	raw, ok := r.cache.Get(key)
	if !ok {
		return nil
	}
	var pctx Context
	if err := json.Unmarshal(raw, &pctx); err != nil {
		log.Warn().Err(err).Str("key", key).Msg("Discarding undecodable cached context")
		return nil
	}
	return &pctx
}

func (r *Retriever) toCache(key string, pctx *Context) {
	if r.cache == nil || r.cfg.CacheTTL <= 0 {
		return
	}
	raw, err := json.Marshal(pctx)
	if err != nil {
		return
	}
	r.cache.Set(key, raw, r.cfg.CacheTTL)
}

func timeframeStrings(tfs []pattern.Timeframe) []string {
	out := make([]string, len(tfs))
	for i, tf := range tfs {
		out[i] = string(tf)
	}
	return out
}
