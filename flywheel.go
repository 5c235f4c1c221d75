// Package flywheel is a market-pattern learning core. Each market cycle it
// groups detected patterns into a six-way taxonomy, retrieves how the same
// and similar groupings played out before, synthesizes a statistical and an
// advisory estimate into a persisted prediction, and, when outcomes close,
// feeds realized risk/reward back into decayed per-lever coefficients and
// braids recurring outcome clusters into higher-level aggregates.
package flywheel

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/tradeloop/flywheel/braid"
	"github.com/tradeloop/flywheel/completion"
	"github.com/tradeloop/flywheel/config"
	"github.com/tradeloop/flywheel/lever"
	"github.com/tradeloop/flywheel/metrics"
	"github.com/tradeloop/flywheel/pattern"
	"github.com/tradeloop/flywheel/precedent"
	"github.com/tradeloop/flywheel/predict"
	"github.com/tradeloop/flywheel/store"
	"github.com/tradeloop/flywheel/store/postgres"
	"github.com/tradeloop/flywheel/store/storecache"
)

// Engine is the facade over the full learning loop. One Engine serves one
// module deployment; all methods are safe for concurrent use.
type Engine struct {
	cfg       *config.Config
	store     store.Store
	cache     storecache.Cache
	retriever *precedent.Retriever
	predictor *predict.Engine
	updater   *lever.Updater
	reader    *lever.Reader
	promoter  *braid.Promoter
	metrics   *metrics.MetricsRegistry

	redisClient *redis.Client
	health      store.Health
}

// New wires an Engine over the given repositories. Metrics land on an
// isolated registry; use NewWithMetrics to share one.
func New(cfg *config.Config, st store.Store) *Engine {
	return NewWithMetrics(cfg, st, metrics.NewMetricsRegistryOn(prometheus.NewRegistry()))
}

// NewWithMetrics wires an Engine that records into the caller's registry.
func NewWithMetrics(cfg *config.Config, st store.Store, reg *metrics.MetricsRegistry) *Engine {
	if cfg == nil {
		cfg = config.Default()
	}

	e := &Engine{cfg: cfg, store: st, metrics: reg}

	if cfg.Redis.Addr != "" {
		e.redisClient = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		e.cache = storecache.NewRedis(e.redisClient)
	} else {
		e.cache = storecache.NewMemory(cfg.Cache.MaxEntries)
	}

	e.retriever = precedent.NewRetriever(st.Reviews,
		&instrumentedCache{inner: e.cache, metrics: reg, label: "context"}, cfg.Retrieval)

	var completer predict.Completer
	if cfg.Completion.Enabled {
		completer = &timedCompleter{client: completion.NewClient(cfg.Completion.Config), metrics: reg}
	}
	e.predictor = predict.NewEngine(e.retriever, predict.NewAdvisor(completer), st.Predictions)

	e.updater = lever.NewUpdater(st.Coefficients, cfg.Module.Name)
	e.reader = lever.NewReader(st.Coefficients,
		&instrumentedCache{inner: e.cache, metrics: reg, label: "lever"}, cfg.Module.Name, cfg.Lever.ReaderCacheTTL)
	e.promoter = braid.NewPromoter(braid.NewTwoTier(cfg.Braid), st.Reviews, st.Braids)

	log.Info().
		Str("module", cfg.Module.Name).
		Bool("completion", cfg.Completion.Enabled).
		Bool("redis", cfg.Redis.Addr != "").
		Msg("Flywheel engine initialized")
	return e
}

// OpenPostgres connects to the configured PostgreSQL instance and wires an
// Engine over it. The Engine owns the connection; Close releases it.
func OpenPostgres(cfg *config.Config) (*Engine, error) {
	if cfg == nil {
		return nil, errors.New("config is required")
	}
	if !cfg.Postgres.Enabled {
		return nil, errors.New("postgres is not enabled in config")
	}

	db, err := postgres.Open(cfg.Postgres.DSN, cfg.Postgres.MaxOpenConns, cfg.Postgres.MaxIdleConns)
	if err != nil {
		return nil, err
	}

	e := New(cfg, postgres.New(db, cfg.Postgres.QueryTimeout))
	e.health = postgres.NewDBHealth(db, cfg.Postgres.QueryTimeout)
	return e, nil
}

// AnalyzeCycle groups one cycle's patterns for an asset and produces one
// prediction per retained group. Malformed groups are skipped with a log
// line and no stored record. Other per-group failures do not stop the
// pass; the returned error joins whatever failed while the slice carries
// every prediction that was produced.
func (e *Engine) AnalyzeCycle(ctx context.Context, asset string, patterns []pattern.Pattern, currentPrice float64) ([]store.Prediction, error) {
	e.metrics.IncrementActiveAnalyses()
	defer e.metrics.DecrementActiveAnalyses()
	timer := e.metrics.StartStepTimer("analyze")

	if currentPrice <= 0 {
		timer.Stop("error")
		return nil, fmt.Errorf("current price must be positive, got %v", currentPrice)
	}

	groups, err := pattern.GroupAll(asset, patterns)
	if err != nil {
		timer.Stop("error")
		return nil, fmt.Errorf("failed to group patterns: %w", err)
	}

	var (
		preds []store.Prediction
		errs  []error
	)
	for _, g := range groups {
		e.metrics.RecordGroup(string(g.Kind))

		pred, err := e.predictor.Predict(ctx, g, currentPrice)
		if err != nil {
			if pred == nil {
				// Group failed validation; nothing was written for it.
				log.Warn().Err(err).
					Str("asset", asset).
					Str("kind", string(g.Kind)).
					Msg("Skipping malformed group")
				continue
			}
			// Persistence failed after synthesis; the prediction is
			// still usable for this cycle.
			errs = append(errs, fmt.Errorf("group %s: %w", g.Signature(), err))
		}
		e.metrics.RecordPrediction(string(pred.MatchQuality))
		preds = append(preds, *pred)
	}

	if len(errs) > 0 {
		timer.Stop("partial")
	} else {
		timer.Stop("success")
	}
	log.Info().
		Str("asset", asset).
		Int("patterns", len(patterns)).
		Int("groups", len(groups)).
		Int("predictions", len(preds)).
		Msg("Analysis cycle completed")
	return preds, errors.Join(errs...)
}

// RecordOutcome persists one closed outcome and feeds it into the
// coefficient updater. Delivery is idempotent: an outcome already recorded
// for its prediction is skipped without touching any coefficient and
// without error.
func (e *Engine) RecordOutcome(ctx context.Context, rev store.PredictionReview) error {
	timer := e.metrics.StartStepTimer("outcome")

	if rev.PredictionID == "" {
		timer.Stop("error")
		return errors.New("prediction id is required")
	}
	if rev.Asset == "" {
		timer.Stop("error")
		return errors.New("asset is required")
	}

	if rev.ID == "" {
		rev.ID = uuid.New().String()
	}
	if rev.AgentID == "" {
		rev.AgentID = e.cfg.Module.AgentID
	}
	if rev.ClosedAt.IsZero() {
		rev.ClosedAt = time.Now().UTC()
	}
	if rev.CreatedAt.IsZero() {
		rev.CreatedAt = time.Now().UTC()
	}
	if len(rev.ClusterKeys) == 0 {
		rev.ClusterKeys = store.ClusterKeysFor(rev)
	}

	if err := e.store.Reviews.Insert(ctx, rev); err != nil {
		if errors.Is(err, store.ErrDuplicateReview) {
			e.metrics.RecordOutcomeSkipped("duplicate")
			log.Warn().
				Str("prediction_id", rev.PredictionID).
				Msg("Outcome already recorded, skipping coefficient update")
			timer.Stop("duplicate")
			return nil
		}
		timer.Stop("error")
		return fmt.Errorf("failed to record outcome: %w", err)
	}
	e.metrics.RecordOutcome("recorded")

	levers := leversFor(rev)
	if err := e.updater.Apply(ctx, rev, levers); err != nil {
		if errors.Is(err, lever.ErrNoRR) {
			e.metrics.RecordOutcomeSkipped("missing_rr")
			timer.Stop("skipped")
			return nil
		}
		timer.Stop("error")
		return fmt.Errorf("failed to update coefficients: %w", err)
	}

	for name, key := range levers {
		if w, werr := e.reader.RefreshWeight(ctx, name, key); werr == nil {
			e.metrics.RecordLeverWeight(name, key, w)
		}
	}
	timer.Stop("success")
	return nil
}

// PromoteBraids clusters the outcomes at braidLevel and persists one braid
// per cluster that meets the promotion gate.
func (e *Engine) PromoteBraids(ctx context.Context, braidLevel int) ([]store.Braid, error) {
	timer := e.metrics.StartStepTimer("braid")

	promoted, err := e.promoter.Promote(ctx, braidLevel)
	if err != nil {
		timer.Stop("error")
		return nil, err
	}

	e.metrics.RecordBraidPromotion(strconv.Itoa(braidLevel+1), len(promoted))
	timer.Stop("success")
	return promoted, nil
}

// Levers exposes cached read access to the learned coefficients.
func (e *Engine) Levers() *lever.Reader {
	return e.reader
}

// Metrics exposes the engine's metric registry, for scraping or embedding.
func (e *Engine) Metrics() *metrics.MetricsRegistry {
	return e.metrics
}

// Health reports storage health when the Engine owns its backend.
func (e *Engine) Health(ctx context.Context) store.HealthCheck {
	if e.health == nil {
		return store.HealthCheck{
			Healthy:   true,
			Errors:    []string{"no owned backend to check"},
			LastCheck: time.Now().UTC(),
		}
	}
	return e.health.Health(ctx)
}

// Close releases resources the Engine owns. Repositories injected by the
// caller stay open.
func (e *Engine) Close() error {
	if mem, ok := e.cache.(*storecache.Memory); ok {
		mem.Close()
	}
	if e.redisClient != nil {
		return e.redisClient.Close()
	}
	return nil
}

// instrumentedCache counts hits and misses per consumer while delegating
// to the shared cache tier.
type instrumentedCache struct {
	inner   storecache.Cache
	metrics *metrics.MetricsRegistry
	label   string
}

func (c *instrumentedCache) Get(key string) ([]byte, bool) {
	val, ok := c.inner.Get(key)
	if ok {
		c.metrics.RecordCacheHit(c.label)
	} else {
		c.metrics.RecordCacheMiss(c.label)
	}
	return val, ok
}

func (c *instrumentedCache) Set(key string, val []byte, ttl time.Duration) {
	c.inner.Set(key, val, ttl)
}

// timedCompleter records outcome and latency for every completion call.
type timedCompleter struct {
	client  *completion.Client
	metrics *metrics.MetricsRegistry
}

func (t *timedCompleter) Complete(ctx context.Context, req completion.Request) (string, error) {
	start := time.Now()
	text, err := t.client.Complete(ctx, req)
	status := "success"
	if err != nil {
		status = "error"
	}
	t.metrics.RecordCompletion(status, time.Since(start))
	return text, err
}

// leversFor names the coefficient levers one outcome votes on. Empty
// attributes are not tracked.
func leversFor(rev store.PredictionReview) map[string]string {
	levers := make(map[string]string, 3)
	if rev.GroupKind != "" {
		levers["group_kind"] = string(rev.GroupKind)
	}
	if rev.Timeframe != "" {
		levers["timeframe"] = string(rev.Timeframe)
	}
	if rev.Regime != "" {
		levers["regime"] = rev.Regime
	}
	return levers
}
