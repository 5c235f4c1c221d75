package flywheel_test

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	flywheel "github.com/tradeloop/flywheel"
	"github.com/tradeloop/flywheel/config"
	"github.com/tradeloop/flywheel/pattern"
	"github.com/tradeloop/flywheel/store"
)

type memPredictions struct {
	mu   sync.Mutex
	byID map[string]store.Prediction
}

func (m *memPredictions) Insert(ctx context.Context, p store.Prediction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byID[p.ID] = p
	return nil
}

func (m *memPredictions) GetByID(ctx context.Context, id string) (*store.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p, ok := m.byID[id]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &p, nil
}

func (m *memPredictions) ListByAsset(ctx context.Context, asset string, limit int) ([]store.Prediction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Prediction
	for _, p := range m.byID {
		if p.Asset == asset {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memReviews struct {
	mu      sync.Mutex
	records []store.PredictionReview
}

func (m *memReviews) Insert(ctx context.Context, rev store.PredictionReview) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.records {
		if existing.PredictionID == rev.PredictionID {
			return store.ErrDuplicateReview
		}
	}
	m.records = append(m.records, rev)
	return nil
}

func (m *memReviews) ListBySignature(ctx context.Context, asset, signature string, limit int) ([]store.PredictionReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterReviews(m.records, limit, func(r store.PredictionReview) bool {
		return r.Asset == asset && r.Signature == signature
	}), nil
}

func (m *memReviews) ListByGroupKind(ctx context.Context, asset string, kind pattern.Kind, limit int) ([]store.PredictionReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterReviews(m.records, limit, func(r store.PredictionReview) bool {
		return r.Asset == asset && r.GroupKind == kind
	}), nil
}

func (m *memReviews) ListByBraidLevel(ctx context.Context, level int, limit int) ([]store.PredictionReview, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return filterReviews(m.records, limit, func(r store.PredictionReview) bool {
		return r.BraidLevel == level
	}), nil
}

func filterReviews(records []store.PredictionReview, limit int, keep func(store.PredictionReview) bool) []store.PredictionReview {
	var out []store.PredictionReview
	for _, r := range records {
		if keep(r) {
			out = append(out, r)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

type memCoeffs struct {
	mu    sync.Mutex
	byKey map[string]store.Coefficient
}

func (m *memCoeffs) Get(ctx context.Context, key store.CoefficientKey) (*store.Coefficient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.byKey[key.String()]
	if !ok {
		return nil, store.ErrNotFound
	}
	return &c, nil
}

func (m *memCoeffs) Upsert(ctx context.Context, c store.Coefficient) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.byKey[c.CoefficientKey.String()] = c
	return nil
}

func (m *memCoeffs) ListByName(ctx context.Context, module, scope, name string) ([]store.Coefficient, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Coefficient
	for _, c := range m.byKey {
		if c.Module == module && c.Scope == scope && c.Name == name {
			out = append(out, c)
		}
	}
	return out, nil
}

type memBraids struct {
	mu      sync.Mutex
	records []store.Braid
}

func (m *memBraids) Insert(ctx context.Context, b store.Braid) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, b)
	return nil
}

func (m *memBraids) ListByLevel(ctx context.Context, level int, limit int) ([]store.Braid, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []store.Braid
	for _, b := range m.records {
		if b.Level == level {
			out = append(out, b)
		}
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

type memStore struct {
	predictions *memPredictions
	reviews     *memReviews
	coeffs      *memCoeffs
	braids      *memBraids
}

func newMemStore() *memStore {
	return &memStore{
		predictions: &memPredictions{byID: make(map[string]store.Prediction)},
		reviews:     &memReviews{},
		coeffs:      &memCoeffs{byKey: make(map[string]store.Coefficient)},
		braids:      &memBraids{},
	}
}

func (m *memStore) asStore() store.Store {
	return store.Store{
		Predictions:  m.predictions,
		Reviews:      m.reviews,
		Coefficients: m.coeffs,
		Braids:       m.braids,
	}
}

func newEngine(t *testing.T) (*flywheel.Engine, *memStore) {
	t.Helper()
	ms := newMemStore()
	e := flywheel.New(config.Default(), ms.asStore())
	t.Cleanup(func() { e.Close() })
	return e, ms
}

func counterValue(t *testing.T, c interface{ Write(*dto.Metric) error }) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.Write(&m))
	return m.GetCounter().GetValue()
}

func cyclePatterns(cycle time.Time) []pattern.Pattern {
	return []pattern.Pattern{
		{PatternType: "volume_spike", Asset: "BTC", Timeframe: pattern.TF1h, CycleTime: cycle, SourceID: "p1"},
		{PatternType: "divergence", Asset: "BTC", Timeframe: pattern.TF1h, CycleTime: cycle, SourceID: "p2"},
		{PatternType: "volume_spike", Asset: "BTC", Timeframe: pattern.TF4h, CycleTime: cycle, SourceID: "p3"},
	}
}

func TestAnalyzeCycle_OnePredictionPerRetainedGroup(t *testing.T) {
	e, ms := newEngine(t)
	cycle := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	preds, err := e.AnalyzeCycle(context.Background(), "BTC", cyclePatterns(cycle), 50000)
	require.NoError(t, err)
	require.Len(t, preds, 6, "three singles, one multi/single, one single/multi, one multi/multi")

	kinds := map[pattern.Kind]int{}
	for _, p := range preds {
		kinds[p.GroupKind]++
		assert.Equal(t, store.MatchFirstTime, p.MatchQuality, "empty history means first observation")
		assert.Equal(t, "First prediction for this group", p.Note)
		assert.True(t, p.CodeEstimate.Fallback, "no samples leaves only the conservative estimate")
		assert.NotEmpty(t, p.ID)
	}
	assert.Equal(t, 3, kinds[pattern.KindSingleSingle])
	assert.Equal(t, 1, kinds[pattern.KindMultiSingle])
	assert.Equal(t, 1, kinds[pattern.KindSingleMulti])
	assert.Equal(t, 1, kinds[pattern.KindMultiMulti])

	assert.Len(t, ms.predictions.byID, 6, "every prediction must be persisted")
	assert.Equal(t, 6.0, counterValue(t, e.Metrics().PredictionsTotal.WithLabelValues("first_time")))
}

func TestAnalyzeCycle_RejectsBadInput(t *testing.T) {
	e, _ := newEngine(t)
	cycle := time.Now().UTC()

	_, err := e.AnalyzeCycle(context.Background(), "BTC", cyclePatterns(cycle), 0)
	assert.ErrorContains(t, err, "current price must be positive")

	mixed := cyclePatterns(cycle)
	mixed[1].Asset = "ETH"
	_, err = e.AnalyzeCycle(context.Background(), "BTC", mixed, 50000)
	assert.ErrorIs(t, err, pattern.ErrMixedAssets)
}

func TestAnalyzeCycle_EmptyInputProducesNothing(t *testing.T) {
	e, ms := newEngine(t)

	preds, err := e.AnalyzeCycle(context.Background(), "BTC", nil, 50000)
	require.NoError(t, err)
	assert.Empty(t, preds)
	assert.Empty(t, ms.predictions.byID)
}

func TestAnalyzeCycle_ContextCacheServesRepeatCycles(t *testing.T) {
	e, _ := newEngine(t)
	cycle := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

	_, err := e.AnalyzeCycle(context.Background(), "BTC", cyclePatterns(cycle), 50000)
	require.NoError(t, err)
	assert.Equal(t, 6.0, counterValue(t, e.Metrics().CacheMisses.WithLabelValues("context")),
		"a cold cache misses once per group")
	assert.Zero(t, counterValue(t, e.Metrics().CacheHits.WithLabelValues("context")))

	_, err = e.AnalyzeCycle(context.Background(), "BTC", cyclePatterns(cycle), 50000)
	require.NoError(t, err)
	assert.Equal(t, 6.0, counterValue(t, e.Metrics().CacheHits.WithLabelValues("context")),
		"an identical cycle reads every context from cache")
}

func rrPtr(v float64) *float64 { return &v }

func closedOutcome(predictionID string) store.PredictionReview {
	return store.PredictionReview{
		PredictionID: predictionID,
		Asset:        "BTC",
		GroupKind:    pattern.KindMultiSingle,
		Signature:    "multi_single|divergence+volume_spike|1h",
		Timeframe:    pattern.TF1h,
		Regime:       "trending",
		PatternTypes: []string{"divergence", "volume_spike"},
		Timeframes:   []string{"1h"},
		CycleCount:   1,
		Success:      true,
		ReturnPct:    0.04,
		RR:           rrPtr(2.0),
		ClosedAt:     time.Now().UTC(),
	}
}

func TestRecordOutcome_UpdatesCoefficients(t *testing.T) {
	e, ms := newEngine(t)

	require.NoError(t, e.RecordOutcome(context.Background(), closedOutcome("pred-1")))

	require.Len(t, ms.reviews.records, 1)
	stored := ms.reviews.records[0]
	assert.NotEmpty(t, stored.ID, "facade assigns an id when the caller omits one")
	assert.NotEmpty(t, stored.ClusterKeys, "cluster keys are derived before persisting")

	baseline, ok := ms.coeffs.byKey["flywheel:baseline:global:all"]
	require.True(t, ok, "baseline must absorb every applied outcome")
	assert.Equal(t, int64(1), baseline.SampleCount)

	tf, ok := ms.coeffs.byKey["flywheel:lever:timeframe:1h"]
	require.True(t, ok)
	assert.Equal(t, 1.0, tf.Weight, "a lone outcome cannot move a lever off neutral")

	_, ok = ms.coeffs.byKey["flywheel:lever:group_kind:multi_single"]
	assert.True(t, ok)
	_, ok = ms.coeffs.byKey["flywheel:lever:regime:trending"]
	assert.True(t, ok)
}

func TestRecordOutcome_DuplicateIsIdempotent(t *testing.T) {
	e, ms := newEngine(t)

	require.NoError(t, e.RecordOutcome(context.Background(), closedOutcome("pred-1")))
	require.NoError(t, e.RecordOutcome(context.Background(), closedOutcome("pred-1")),
		"second delivery must succeed without effect")

	assert.Len(t, ms.reviews.records, 1)
	baseline := ms.coeffs.byKey["flywheel:baseline:global:all"]
	assert.Equal(t, int64(1), baseline.SampleCount, "duplicate must not reach the updater")
	assert.Equal(t, 1.0, counterValue(t, e.Metrics().OutcomesSkipped.WithLabelValues("duplicate")))
}

func TestRecordOutcome_MissingRRSkipsUpdater(t *testing.T) {
	e, ms := newEngine(t)

	rev := closedOutcome("pred-1")
	rev.RR = nil
	require.NoError(t, e.RecordOutcome(context.Background(), rev))

	assert.Len(t, ms.reviews.records, 1, "the outcome itself is still recorded")
	assert.Empty(t, ms.coeffs.byKey, "no coefficient may move without realized risk/reward")
	assert.Equal(t, 1.0, counterValue(t, e.Metrics().OutcomesSkipped.WithLabelValues("missing_rr")))
}

func TestRecordOutcome_Validation(t *testing.T) {
	e, _ := newEngine(t)

	err := e.RecordOutcome(context.Background(), closedOutcome(""))
	assert.ErrorContains(t, err, "prediction id is required")

	rev := closedOutcome("pred-1")
	rev.Asset = ""
	err = e.RecordOutcome(context.Background(), rev)
	assert.ErrorContains(t, err, "asset is required")
}

func TestPromoteBraids_PromotesQualifyingCluster(t *testing.T) {
	e, ms := newEngine(t)

	for i, id := range []string{"pred-1", "pred-2", "pred-3"} {
		rev := closedOutcome(id)
		rev.Persistence = 0.6
		rev.Novelty = 0.3
		rev.Surprise = float64(i) * 0.1
		require.NoError(t, e.RecordOutcome(context.Background(), rev))
	}

	promoted, err := e.PromoteBraids(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, promoted, 1, "three matching outcomes form one qualifying cluster")

	b := promoted[0]
	assert.Equal(t, 1, b.Level)
	assert.Equal(t, 3, b.Size)
	assert.InDelta(t, 0.1, b.Surprise, 1e-9, "braid scores are member means")
	assert.Len(t, ms.braids.records, 1, "promoted braid must be persisted")
	assert.Equal(t, 1.0, counterValue(t, e.Metrics().BraidsPromoted.WithLabelValues("1")))
}

func TestPromoteBraids_NothingBelowGate(t *testing.T) {
	e, ms := newEngine(t)

	require.NoError(t, e.RecordOutcome(context.Background(), closedOutcome("pred-1")))
	require.NoError(t, e.RecordOutcome(context.Background(), closedOutcome("pred-2")))

	promoted, err := e.PromoteBraids(context.Background(), 0)
	require.NoError(t, err)
	assert.Empty(t, promoted, "two members miss the minimum cluster size")
	assert.Empty(t, ms.braids.records)
}

func TestHealth_WithoutOwnedBackend(t *testing.T) {
	e, _ := newEngine(t)

	check := e.Health(context.Background())
	assert.True(t, check.Healthy)
	require.Len(t, check.Errors, 1)
	assert.Contains(t, check.Errors[0], "no owned backend")
}
