// Package postgres implements the store repositories over PostgreSQL via
// sqlx. The package owns typed queries only; schema lifecycle stays with
// the operator. Reference DDL:
//
//	CREATE TABLE predictions (
//	    id                UUID PRIMARY KEY,
//	    asset             TEXT NOT NULL,
//	    group_kind        TEXT NOT NULL,
//	    signature         TEXT NOT NULL,
//	    timeframe         TEXT NOT NULL DEFAULT '',
//	    cycle_time        TIMESTAMPTZ,
//	    pattern_types     TEXT[] NOT NULL DEFAULT '{}',
//	    timeframes        TEXT[] NOT NULL DEFAULT '{}',
//	    cycle_count       INT NOT NULL DEFAULT 1,
//	    pattern_ids       TEXT[] NOT NULL DEFAULT '{}',
//	    current_price     DOUBLE PRECISION NOT NULL,
//	    match_quality     TEXT NOT NULL,
//	    confidence        DOUBLE PRECISION NOT NULL,
//	    note              TEXT NOT NULL DEFAULT '',
//	    code_estimate     JSONB NOT NULL,
//	    llm_estimate      JSONB NOT NULL,
//	    historical_basis  JSONB NOT NULL,
//	    differences       TEXT[] NOT NULL DEFAULT '{}',
//	    created_at        TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE INDEX idx_predictions_asset ON predictions (asset, created_at DESC);
//
//	CREATE TABLE prediction_reviews (
//	    id                   UUID PRIMARY KEY,
//	    prediction_id        UUID NOT NULL UNIQUE,
//	    agent_id             TEXT NOT NULL DEFAULT '',
//	    asset                TEXT NOT NULL,
//	    group_kind           TEXT NOT NULL,
//	    signature            TEXT NOT NULL,
//	    timeframe            TEXT NOT NULL DEFAULT '',
//	    regime               TEXT NOT NULL DEFAULT '',
//	    pattern_types        TEXT[] NOT NULL DEFAULT '{}',
//	    timeframes           TEXT[] NOT NULL DEFAULT '{}',
//	    cycle_count          INT NOT NULL DEFAULT 1,
//	    success              BOOLEAN NOT NULL,
//	    return_pct           DOUBLE PRECISION NOT NULL,
//	    max_drawdown         DOUBLE PRECISION NOT NULL,
//	    duration_hours       DOUBLE PRECISION NOT NULL,
//	    rr                   DOUBLE PRECISION,
//	    persistence          DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    novelty              DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    surprise             DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    braid_level          INT NOT NULL DEFAULT 0,
//	    cluster_keys         TEXT[] NOT NULL DEFAULT '{}',
//	    original_pattern_ids TEXT[] NOT NULL DEFAULT '{}',
//	    closed_at            TIMESTAMPTZ NOT NULL,
//	    created_at           TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE INDEX idx_reviews_signature ON prediction_reviews (asset, signature, created_at DESC);
//	CREATE INDEX idx_reviews_kind ON prediction_reviews (asset, group_kind, created_at DESC);
//	CREATE INDEX idx_reviews_braid ON prediction_reviews (braid_level, created_at DESC);
//
//	CREATE TABLE coefficients (
//	    module       TEXT NOT NULL,
//	    scope        TEXT NOT NULL,
//	    name         TEXT NOT NULL,
//	    key          TEXT NOT NULL,
//	    weight       DOUBLE PRECISION NOT NULL DEFAULT 1.0,
//	    rr_short     DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    rr_long      DOUBLE PRECISION NOT NULL DEFAULT 0,
//	    sample_count BIGINT NOT NULL DEFAULT 0,
//	    updated_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
//	    PRIMARY KEY (module, scope, name, key)
//	);
//
//	CREATE TABLE braids (
//	    id          UUID PRIMARY KEY,
//	    level       INT NOT NULL,
//	    cluster_key TEXT NOT NULL,
//	    member_ids  TEXT[] NOT NULL DEFAULT '{}',
//	    size        INT NOT NULL,
//	    persistence DOUBLE PRECISION NOT NULL,
//	    novelty     DOUBLE PRECISION NOT NULL,
//	    surprise    DOUBLE PRECISION NOT NULL,
//	    created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
//	);
//	CREATE INDEX idx_braids_level ON braids (level, created_at DESC);
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/tradeloop/flywheel/store"
)

const defaultTimeout = 5 * time.Second

// Open connects to PostgreSQL and configures the pool.
func Open(dsn string, maxOpen, maxIdle int) (*sqlx.DB, error) {
	db, err := sqlx.Connect("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if maxOpen > 0 {
		db.SetMaxOpenConns(maxOpen)
	}
	if maxIdle > 0 {
		db.SetMaxIdleConns(maxIdle)
	}
	db.SetConnMaxLifetime(30 * time.Minute)
	return db, nil
}

// New builds the full repository set over one connection pool.
func New(db *sqlx.DB, timeout time.Duration) store.Store {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return store.Store{
		Predictions:  NewPredictionRepo(db, timeout),
		Reviews:      NewReviewRepo(db, timeout),
		Coefficients: NewCoefficientRepo(db, timeout),
		Braids:       NewBraidRepo(db, timeout),
	}
}

// DBHealth reports connectivity for the pool behind the repositories.
type DBHealth struct {
	db      *sqlx.DB
	timeout time.Duration
}

func NewDBHealth(db *sqlx.DB, timeout time.Duration) *DBHealth {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &DBHealth{db: db, timeout: timeout}
}

// Ping tests basic connectivity.
func (h *DBHealth) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, h.timeout)
	defer cancel()
	return h.db.PingContext(ctx)
}

// Health returns the current health snapshot.
func (h *DBHealth) Health(ctx context.Context) store.HealthCheck {
	start := time.Now()
	check := store.HealthCheck{LastCheck: start.UTC()}

	if err := h.Ping(ctx); err != nil {
		check.Errors = append(check.Errors, err.Error())
	} else {
		check.Healthy = true
	}
	check.ResponseTimeMS = time.Since(start).Milliseconds()
	return check
}
