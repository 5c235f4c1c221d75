// Package store defines the durable records emitted by the learning core
// and the repository interfaces they travel through. The core never owns
// schema migrations or connection management; implementations only run
// typed query/insert calls.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/tradeloop/flywheel/pattern"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("store: record not found")

// ErrDuplicateReview is returned when an outcome for a prediction has
// already been recorded. Callers use it to guarantee at-most-once delivery
// into the coefficient updater.
var ErrDuplicateReview = errors.New("store: review already recorded for prediction")

// MatchQuality labels how a prediction's historical context was found.
// It is a closed three-state enumeration; downstream trust calibration
// depends on the distinction and it must never collapse to a boolean.
type MatchQuality string

const (
	MatchExact     MatchQuality = "exact"
	MatchSimilar   MatchQuality = "similar"
	MatchFirstTime MatchQuality = "first_time"
)

// IsValid reports whether q is one of the three defined labels.
func (q MatchQuality) IsValid() bool {
	switch q {
	case MatchExact, MatchSimilar, MatchFirstTime:
		return true
	}
	return false
}

// Estimate is one estimator's view of where a group's trade should go.
// The statistical and LLM estimates are stored side by side and never
// merged. Source records which estimator produced the numbers:
// "statistical", "completion", or "conservative" for the zero-history
// fallback.
type Estimate struct {
	Source        string  `json:"source" db:"source"`
	Direction     string  `json:"direction" db:"direction"`
	TargetPrice   float64 `json:"target_price" db:"target_price"`
	StopPrice     float64 `json:"stop_price" db:"stop_price"`
	Confidence    float64 `json:"confidence" db:"confidence"`
	DurationHours float64 `json:"duration_hours" db:"duration_hours"`
	Rationale     string  `json:"rationale,omitempty" db:"rationale"`
	Fallback      bool    `json:"fallback" db:"fallback"`
}

// HistoricalBasis summarizes the outcome records a prediction was built on.
type HistoricalBasis struct {
	SampleSize  int     `json:"sample_size" db:"sample_size"`
	SuccessRate float64 `json:"success_rate" db:"success_rate"`
	AvgReturn   float64 `json:"avg_return" db:"avg_return"`
	MaxDrawdown float64 `json:"max_drawdown" db:"max_drawdown"`
}

// Prediction is the durable output of one analysis pass over one group.
// Created once, immutable after creation; an outcome later references it
// through a PredictionReview.
type Prediction struct {
	ID           string            `json:"id" db:"id"`
	Asset        string            `json:"asset" db:"asset"`
	GroupKind    pattern.Kind      `json:"group_kind" db:"group_kind"`
	Signature    string            `json:"signature" db:"signature"`
	Timeframe    pattern.Timeframe `json:"timeframe,omitempty" db:"timeframe"`
	CycleTime    time.Time         `json:"cycle_time" db:"cycle_time"`
	PatternTypes []string          `json:"pattern_types" db:"pattern_types"`
	Timeframes   []string          `json:"timeframes" db:"timeframes"`
	CycleCount   int               `json:"cycle_count" db:"cycle_count"`
	PatternIDs   []string          `json:"pattern_ids" db:"pattern_ids"`
	CurrentPrice float64           `json:"current_price" db:"current_price"`
	MatchQuality MatchQuality      `json:"match_quality" db:"match_quality"`
	Confidence   float64           `json:"confidence" db:"confidence"`
	Note         string            `json:"note" db:"note"`
	CodeEstimate Estimate          `json:"code_estimate" db:"code_estimate"`
	LLMEstimate  Estimate          `json:"llm_estimate" db:"llm_estimate"`
	Basis        HistoricalBasis   `json:"historical_basis" db:"historical_basis"`
	Differences  []string          `json:"differences,omitempty" db:"differences"`
	CreatedAt    time.Time         `json:"created_at" db:"created_at"`
}

// PredictionReview records the realized outcome of a prediction's tracked
// position. Created exactly once when the position closes; it is the unit
// both context retrieval and the coefficient updater consume.
type PredictionReview struct {
	ID            string            `json:"id" db:"id"`
	PredictionID  string            `json:"prediction_id" db:"prediction_id"`
	AgentID       string            `json:"agent_id" db:"agent_id"`
	Asset         string            `json:"asset" db:"asset"`
	GroupKind     pattern.Kind      `json:"group_kind" db:"group_kind"`
	Signature     string            `json:"signature" db:"signature"`
	Timeframe     pattern.Timeframe `json:"timeframe,omitempty" db:"timeframe"`
	Regime        string            `json:"regime,omitempty" db:"regime"`
	PatternTypes  []string          `json:"pattern_types" db:"pattern_types"`
	Timeframes    []string          `json:"timeframes" db:"timeframes"`
	CycleCount    int               `json:"cycle_count" db:"cycle_count"`
	Success       bool              `json:"success" db:"success"`
	ReturnPct     float64           `json:"return_pct" db:"return_pct"`
	MaxDrawdown   float64           `json:"max_drawdown" db:"max_drawdown"`
	DurationHours float64           `json:"duration_hours" db:"duration_hours"`
	RR            *float64          `json:"rr,omitempty" db:"rr"`
	Persistence   float64           `json:"persistence" db:"persistence"`
	Novelty       float64           `json:"novelty" db:"novelty"`
	Surprise      float64           `json:"surprise" db:"surprise"`
	BraidLevel    int               `json:"braid_level" db:"braid_level"`
	ClusterKeys   []string          `json:"cluster_keys" db:"cluster_keys"`
	PatternIDs    []string          `json:"original_pattern_ids" db:"original_pattern_ids"`
	ClosedAt      time.Time         `json:"closed_at" db:"closed_at"`
	CreatedAt     time.Time         `json:"created_at" db:"created_at"`
}

// ClusterKeysFor derives the ordered set of categorical keys a review is
// clustered under: agent, asset, group kind, timeframe, regime, dominant
// pattern type, braid level.
func ClusterKeysFor(r PredictionReview) []string {
	dominant := ""
	if len(r.PatternTypes) > 0 {
		dominant = strings.Join(r.PatternTypes, "+")
	}
	return []string{
		r.AgentID,
		r.Asset,
		string(r.GroupKind),
		string(r.Timeframe),
		r.Regime,
		dominant,
		strconv.Itoa(r.BraidLevel),
	}
}

// CoefficientKey identifies one learned coefficient.
type CoefficientKey struct {
	Module string `json:"module" db:"module"`
	Scope  string `json:"scope" db:"scope"`
	Name   string `json:"name" db:"name"`
	Key    string `json:"key" db:"key"`
}

// String renders the key in its canonical module:scope:name:key form.
func (k CoefficientKey) String() string {
	return fmt.Sprintf("%s:%s:%s:%s", k.Module, k.Scope, k.Name, k.Key)
}

// Coefficient is one decayed, bounded learning weight. Mutated only by the
// coefficient updater; read by downstream allocation logic. Never deleted.
type Coefficient struct {
	CoefficientKey
	Weight      float64   `json:"weight" db:"weight"`
	RRShort     float64   `json:"rr_short" db:"rr_short"`
	RRLong      float64   `json:"rr_long" db:"rr_long"`
	SampleCount int64     `json:"sample_count" db:"sample_count"`
	UpdatedAt   time.Time `json:"updated_at" db:"updated_at"`
}

// Braid is an aggregate over a promoted cluster of outcome records. Its
// scores are the arithmetic mean of the members' scores.
type Braid struct {
	ID          string    `json:"id" db:"id"`
	Level       int       `json:"level" db:"level"`
	ClusterKey  string    `json:"cluster_key" db:"cluster_key"`
	MemberIDs   []string  `json:"member_ids" db:"member_ids"`
	Size        int       `json:"size" db:"size"`
	Persistence float64   `json:"persistence" db:"persistence"`
	Novelty     float64   `json:"novelty" db:"novelty"`
	Surprise    float64   `json:"surprise" db:"surprise"`
	CreatedAt   time.Time `json:"created_at" db:"created_at"`
}

// PredictionRepo persists prediction records.
type PredictionRepo interface {
	// Insert adds a new prediction record
	Insert(ctx context.Context, p Prediction) error

	// GetByID retrieves one prediction, ErrNotFound when absent
	GetByID(ctx context.Context, id string) (*Prediction, error)

	// ListByAsset retrieves recent predictions for an asset, newest first
	ListByAsset(ctx context.Context, asset string, limit int) ([]Prediction, error)
}

// ReviewRepo persists outcome records and serves context retrieval.
type ReviewRepo interface {
	// Insert adds an outcome record exactly once per prediction;
	// a second insert for the same prediction returns ErrDuplicateReview
	Insert(ctx context.Context, r PredictionReview) error

	// ListBySignature retrieves outcomes matching signature and asset,
	// newest first
	ListBySignature(ctx context.Context, asset, signature string, limit int) ([]PredictionReview, error)

	// ListByGroupKind retrieves the similarity candidate pool sharing
	// asset and group kind, newest first
	ListByGroupKind(ctx context.Context, asset string, kind pattern.Kind, limit int) ([]PredictionReview, error)

	// ListByBraidLevel retrieves outcomes at a promotion level for
	// clustering, newest first
	ListByBraidLevel(ctx context.Context, level int, limit int) ([]PredictionReview, error)
}

// CoefficientRepo persists lever weights and the global baseline.
type CoefficientRepo interface {
	// Get retrieves one coefficient, ErrNotFound when the key has never
	// been tracked
	Get(ctx context.Context, key CoefficientKey) (*Coefficient, error)

	// Upsert inserts or replaces the coefficient at its key
	Upsert(ctx context.Context, c Coefficient) error

	// ListByName retrieves every tracked key of one lever
	ListByName(ctx context.Context, module, scope, name string) ([]Coefficient, error)
}

// BraidRepo persists promoted cluster aggregates.
type BraidRepo interface {
	// Insert adds a promoted braid record
	Insert(ctx context.Context, b Braid) error

	// ListByLevel retrieves braids at a promotion level, newest first
	ListByLevel(ctx context.Context, level int, limit int) ([]Braid, error)
}

// Store aggregates the repository interfaces the core depends on.
type Store struct {
	Predictions  PredictionRepo
	Reviews      ReviewRepo
	Coefficients CoefficientRepo
	Braids       BraidRepo
}

// HealthCheck reports storage health for operational monitoring.
type HealthCheck struct {
	Healthy        bool      `json:"healthy"`
	Errors         []string  `json:"errors,omitempty"`
	LastCheck      time.Time `json:"last_check"`
	ResponseTimeMS int64     `json:"response_time_ms"`
}

// Health is implemented by backends that can report connectivity.
type Health interface {
	// Health returns current storage health status
	Health(ctx context.Context) HealthCheck

	// Ping tests basic connectivity
	Ping(ctx context.Context) error
}
