package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tradeloop/flywheel/pattern"
	"github.com/tradeloop/flywheel/store"
)

type reviewRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewReviewRepo creates a PostgreSQL-backed outcome repository.
func NewReviewRepo(db *sqlx.DB, timeout time.Duration) store.ReviewRepo {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &reviewRepo{db: db, timeout: timeout}
}

func (r *reviewRepo) Insert(ctx context.Context, rev store.PredictionReview) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO prediction_reviews (
			id, prediction_id, agent_id, asset, group_kind, signature,
			timeframe, regime, pattern_types, timeframes, cycle_count,
			success, return_pct, max_drawdown, duration_hours, rr,
			persistence, novelty, surprise, braid_level, cluster_keys,
			original_pattern_ids, closed_at, created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21,
			$22, $23, $24
		)`

	_, err := r.db.ExecContext(ctx, query,
		rev.ID, rev.PredictionID, rev.AgentID, rev.Asset, rev.GroupKind, rev.Signature,
		rev.Timeframe, rev.Regime, pq.Array(rev.PatternTypes), pq.Array(rev.Timeframes), rev.CycleCount,
		rev.Success, rev.ReturnPct, rev.MaxDrawdown, rev.DurationHours, rev.RR,
		rev.Persistence, rev.Novelty, rev.Surprise, rev.BraidLevel, pq.Array(rev.ClusterKeys),
		pq.Array(rev.PatternIDs), rev.ClosedAt, rev.CreatedAt,
	)
	if err != nil {
		// Unique violation on prediction_id carries at-most-once delivery.
		if pqErr, ok := err.(*pq.Error); ok && pqErr.Code == "23505" {
			return store.ErrDuplicateReview
		}
		return fmt.Errorf("failed to insert review: %w", err)
	}
	return nil
}

func (r *reviewRepo) ListBySignature(ctx context.Context, asset, signature string, limit int) ([]store.PredictionReview, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := reviewSelect + `
		WHERE asset = $1 AND signature = $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := r.db.QueryxContext(ctx, query, asset, signature, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews by signature: %w", err)
	}
	defer rows.Close()
	return scanReviews(rows)
}

func (r *reviewRepo) ListByGroupKind(ctx context.Context, asset string, kind pattern.Kind, limit int) ([]store.PredictionReview, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := reviewSelect + `
		WHERE asset = $1 AND group_kind = $2
		ORDER BY created_at DESC
		LIMIT $3`

	rows, err := r.db.QueryxContext(ctx, query, asset, kind, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews by group kind: %w", err)
	}
	defer rows.Close()
	return scanReviews(rows)
}

func (r *reviewRepo) ListByBraidLevel(ctx context.Context, level int, limit int) ([]store.PredictionReview, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := reviewSelect + `
		WHERE braid_level = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, level, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews by braid level: %w", err)
	}
	defer rows.Close()
	return scanReviews(rows)
}

const reviewSelect = `
		SELECT id, prediction_id, agent_id, asset, group_kind, signature,
		       timeframe, regime, pattern_types, timeframes, cycle_count,
		       success, return_pct, max_drawdown, duration_hours, rr,
		       persistence, novelty, surprise, braid_level, cluster_keys,
		       original_pattern_ids, closed_at, created_at
		FROM prediction_reviews`

func scanReviews(rows *sqlx.Rows) ([]store.PredictionReview, error) {
	var out []store.PredictionReview
	for rows.Next() {
		var rev store.PredictionReview
		err := rows.Scan(
			&rev.ID, &rev.PredictionID, &rev.AgentID, &rev.Asset, &rev.GroupKind, &rev.Signature,
			&rev.Timeframe, &rev.Regime, pq.Array(&rev.PatternTypes), pq.Array(&rev.Timeframes), &rev.CycleCount,
			&rev.Success, &rev.ReturnPct, &rev.MaxDrawdown, &rev.DurationHours, &rev.RR,
			&rev.Persistence, &rev.Novelty, &rev.Surprise, &rev.BraidLevel, pq.Array(&rev.ClusterKeys),
			pq.Array(&rev.PatternIDs), &rev.ClosedAt, &rev.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		out = append(out, rev)
	}
	return out, rows.Err()
}
