package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tradeloop/flywheel/store"
)

type predictionRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewPredictionRepo creates a PostgreSQL-backed prediction repository.
func NewPredictionRepo(db *sqlx.DB, timeout time.Duration) store.PredictionRepo {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &predictionRepo{db: db, timeout: timeout}
}

func (r *predictionRepo) Insert(ctx context.Context, p store.Prediction) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	codeEst, err := json.Marshal(p.CodeEstimate)
	if err != nil {
		return fmt.Errorf("failed to marshal code estimate: %w", err)
	}
	llmEst, err := json.Marshal(p.LLMEstimate)
	if err != nil {
		return fmt.Errorf("failed to marshal llm estimate: %w", err)
	}
	basis, err := json.Marshal(p.Basis)
	if err != nil {
		return fmt.Errorf("failed to marshal historical basis: %w", err)
	}

	query := `
		INSERT INTO predictions (
			id, asset, group_kind, signature, timeframe, cycle_time,
			pattern_types, timeframes, cycle_count, pattern_ids,
			current_price, match_quality, confidence, note,
			code_estimate, llm_estimate, historical_basis, differences,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10,
			$11, $12, $13, $14, $15, $16, $17, $18, $19
		)`

	_, err = r.db.ExecContext(ctx, query,
		p.ID, p.Asset, p.GroupKind, p.Signature, p.Timeframe, p.CycleTime,
		pq.Array(p.PatternTypes), pq.Array(p.Timeframes), p.CycleCount, pq.Array(p.PatternIDs),
		p.CurrentPrice, p.MatchQuality, p.Confidence, p.Note,
		codeEst, llmEst, basis, pq.Array(p.Differences),
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert prediction: %w", err)
	}
	return nil
}

func (r *predictionRepo) GetByID(ctx context.Context, id string) (*store.Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, asset, group_kind, signature, timeframe, cycle_time,
		       pattern_types, timeframes, cycle_count, pattern_ids,
		       current_price, match_quality, confidence, note,
		       code_estimate, llm_estimate, historical_basis, differences,
		       created_at
		FROM predictions
		WHERE id = $1`

	p, err := scanPrediction(r.db.QueryRowxContext(ctx, query, id))
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get prediction: %w", err)
	}
	return p, nil
}

func (r *predictionRepo) ListByAsset(ctx context.Context, asset string, limit int) ([]store.Prediction, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, asset, group_kind, signature, timeframe, cycle_time,
		       pattern_types, timeframes, cycle_count, pattern_ids,
		       current_price, match_quality, confidence, note,
		       code_estimate, llm_estimate, historical_basis, differences,
		       created_at
		FROM predictions
		WHERE asset = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, asset, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list predictions: %w", err)
	}
	defer rows.Close()

	var out []store.Prediction
	for rows.Next() {
		p, err := scanPrediction(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction: %w", err)
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

// rowScanner covers both QueryRowx and rows iteration.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPrediction(row rowScanner) (*store.Prediction, error) {
	var p store.Prediction
	var codeEst, llmEst, basis []byte

	err := row.Scan(
		&p.ID, &p.Asset, &p.GroupKind, &p.Signature, &p.Timeframe, &p.CycleTime,
		pq.Array(&p.PatternTypes), pq.Array(&p.Timeframes), &p.CycleCount, pq.Array(&p.PatternIDs),
		&p.CurrentPrice, &p.MatchQuality, &p.Confidence, &p.Note,
		&codeEst, &llmEst, &basis, pq.Array(&p.Differences),
		&p.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(codeEst, &p.CodeEstimate); err != nil {
		return nil, fmt.Errorf("failed to unmarshal code estimate: %w", err)
	}
	if err := json.Unmarshal(llmEst, &p.LLMEstimate); err != nil {
		return nil, fmt.Errorf("failed to unmarshal llm estimate: %w", err)
	}
	if err := json.Unmarshal(basis, &p.Basis); err != nil {
		return nil, fmt.Errorf("failed to unmarshal historical basis: %w", err)
	}
	return &p, nil
}
