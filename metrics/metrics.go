// Package metrics exposes Prometheus instrumentation for the learning
// loop: analysis throughput, completion budgets, cache behavior, lever
// updates and braid promotions.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// MetricsRegistry holds all Prometheus metrics for the flywheel module.
type MetricsRegistry struct {
	// Step duration metrics
	StepDuration *prometheus.HistogramVec
	StepsTotal   *prometheus.CounterVec

	// Prediction pipeline metrics
	GroupsTotal      *prometheus.CounterVec
	PredictionsTotal *prometheus.CounterVec
	ActiveAnalyses   prometheus.Gauge
	AnalysesTotal    prometheus.Counter

	// Completion client metrics
	CompletionRequests *prometheus.CounterVec
	CompletionLatency  prometheus.Histogram

	// Cache performance metrics
	CacheHits   *prometheus.CounterVec
	CacheMisses *prometheus.CounterVec

	// Outcome and lever metrics
	OutcomesTotal   *prometheus.CounterVec
	OutcomesSkipped *prometheus.CounterVec
	LeverUpdates    prometheus.Counter
	LeverWeight     *prometheus.GaugeVec

	// Braid promotion metrics
	BraidsPromoted *prometheus.CounterVec

	gatherer prometheus.Gatherer
}

// NewMetricsRegistry creates the registry and registers every metric with
// the default Prometheus registerer.
func NewMetricsRegistry() *MetricsRegistry {
	return NewMetricsRegistryOn(prometheus.DefaultRegisterer)
}

// NewMetricsRegistryOn registers the metrics on reg; used by embedders that
// keep an isolated registry.
func NewMetricsRegistryOn(reg prometheus.Registerer) *MetricsRegistry {
	registry := &MetricsRegistry{
		StepDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "flywheel_step_duration_seconds",
				Help:    "Duration of each learning-loop step in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"step", "result"},
		),

		StepsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flywheel_steps_total",
				Help: "Total number of learning-loop steps executed",
			},
			[]string{"step", "status"},
		),

		GroupsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flywheel_groups_total",
				Help: "Total number of pattern groups formed by kind",
			},
			[]string{"kind"},
		),

		PredictionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flywheel_predictions_total",
				Help: "Total number of predictions created by match quality",
			},
			[]string{"match_quality"},
		),

		ActiveAnalyses: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Name: "flywheel_active_analyses",
				Help: "Number of currently running analysis passes",
			},
		),

		AnalysesTotal: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flywheel_analyses_total",
				Help: "Total number of analysis passes initiated",
			},
		),

		CompletionRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flywheel_completion_requests_total",
				Help: "Total number of completion calls by outcome",
			},
			[]string{"status"},
		),

		CompletionLatency: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "flywheel_completion_latency_ms",
				Help:    "Completion round-trip latency in milliseconds",
				Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 20000},
			},
		),

		CacheHits: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flywheel_cache_hits_total",
				Help: "Total number of cache hits by cache type",
			},
			[]string{"cache_type"},
		),

		CacheMisses: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flywheel_cache_misses_total",
				Help: "Total number of cache misses by cache type",
			},
			[]string{"cache_type"},
		),

		OutcomesTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flywheel_outcomes_total",
				Help: "Total number of outcome records processed by result",
			},
			[]string{"result"},
		),

		OutcomesSkipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flywheel_outcomes_skipped_total",
				Help: "Total number of outcomes that did not reach the updater",
			},
			[]string{"reason"},
		),

		LeverUpdates: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "flywheel_lever_updates_total",
				Help: "Total number of coefficient updates applied",
			},
		),

		LeverWeight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "flywheel_lever_weight",
				Help: "Current normalized weight per lever key",
			},
			[]string{"name", "key"},
		),

		BraidsPromoted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "flywheel_braids_promoted_total",
				Help: "Total number of braids promoted by target level",
			},
			[]string{"level"},
		),
	}

	reg.MustRegister(
		registry.StepDuration,
		registry.StepsTotal,
		registry.GroupsTotal,
		registry.PredictionsTotal,
		registry.ActiveAnalyses,
		registry.AnalysesTotal,
		registry.CompletionRequests,
		registry.CompletionLatency,
		registry.CacheHits,
		registry.CacheMisses,
		registry.OutcomesTotal,
		registry.OutcomesSkipped,
		registry.LeverUpdates,
		registry.LeverWeight,
		registry.BraidsPromoted,
	)

	registry.gatherer = prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		registry.gatherer = g
	}
	return registry
}

// Handler serves the registered metrics in Prometheus exposition format.
func (m *MetricsRegistry) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}

// StepTimer tracks execution time for learning-loop steps.
type StepTimer struct {
	metrics *MetricsRegistry
	step    string
	start   time.Time
}

// StartStepTimer begins timing a learning-loop step.
func (m *MetricsRegistry) StartStepTimer(step string) *StepTimer {
	return &StepTimer{metrics: m, step: step, start: time.Now()}
}

// Stop completes the step timing and records the metric.
func (st *StepTimer) Stop(result string) {
	duration := time.Since(st.start)
	st.metrics.StepDuration.WithLabelValues(st.step, result).Observe(duration.Seconds())
	st.metrics.StepsTotal.WithLabelValues(st.step, result).Inc()

	log.Debug().
		Str("step", st.step).
		Str("result", result).
		Dur("duration", duration).
		Msg("Learning step completed")
}

// RecordGroup records one formed pattern group.
func (m *MetricsRegistry) RecordGroup(kind string) {
	m.GroupsTotal.WithLabelValues(kind).Inc()
}

// RecordPrediction records one created prediction.
func (m *MetricsRegistry) RecordPrediction(matchQuality string) {
	m.PredictionsTotal.WithLabelValues(matchQuality).Inc()
}

// RecordCompletion records one completion call and its latency.
func (m *MetricsRegistry) RecordCompletion(status string, latency time.Duration) {
	m.CompletionRequests.WithLabelValues(status).Inc()
	m.CompletionLatency.Observe(float64(latency.Milliseconds()))
}

// RecordCacheHit records a cache hit for the specified cache type.
func (m *MetricsRegistry) RecordCacheHit(cacheType string) {
	m.CacheHits.WithLabelValues(cacheType).Inc()
}

// RecordCacheMiss records a cache miss for the specified cache type.
func (m *MetricsRegistry) RecordCacheMiss(cacheType string) {
	m.CacheMisses.WithLabelValues(cacheType).Inc()
}

// RecordOutcome records one processed outcome.
func (m *MetricsRegistry) RecordOutcome(result string) {
	m.OutcomesTotal.WithLabelValues(result).Inc()
}

// RecordOutcomeSkipped records an outcome that never reached the updater.
func (m *MetricsRegistry) RecordOutcomeSkipped(reason string) {
	m.OutcomesSkipped.WithLabelValues(reason).Inc()
	log.Debug().
		Str("reason", reason).
		Msg("Outcome skipped")
}

// RecordLeverWeight records one applied coefficient update.
func (m *MetricsRegistry) RecordLeverWeight(name, key string, weight float64) {
	m.LeverUpdates.Inc()
	m.LeverWeight.WithLabelValues(name, key).Set(weight)
}

// RecordBraidPromotion records braids promoted into a level.
func (m *MetricsRegistry) RecordBraidPromotion(level string, count int) {
	m.BraidsPromoted.WithLabelValues(level).Add(float64(count))
}

// IncrementActiveAnalyses marks the start of an analysis pass.
func (m *MetricsRegistry) IncrementActiveAnalyses() {
	m.ActiveAnalyses.Inc()
	m.AnalysesTotal.Inc()
}

// DecrementActiveAnalyses marks the end of an analysis pass.
func (m *MetricsRegistry) DecrementActiveAnalyses() {
	m.ActiveAnalyses.Dec()
}
