package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/tradeloop/flywheel/store"
)

type coefficientRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewCoefficientRepo creates a PostgreSQL-backed coefficient repository.
func NewCoefficientRepo(db *sqlx.DB, timeout time.Duration) store.CoefficientRepo {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &coefficientRepo{db: db, timeout: timeout}
}

func (r *coefficientRepo) Get(ctx context.Context, key store.CoefficientKey) (*store.Coefficient, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT module, scope, name, key, weight, rr_short, rr_long,
		       sample_count, updated_at
		FROM coefficients
		WHERE module = $1 AND scope = $2 AND name = $3 AND key = $4`

	var c store.Coefficient
	err := r.db.QueryRowxContext(ctx, query, key.Module, key.Scope, key.Name, key.Key).Scan(
		&c.Module, &c.Scope, &c.Name, &c.Key,
		&c.Weight, &c.RRShort, &c.RRLong, &c.SampleCount, &c.UpdatedAt,
	)
	if err == sql.ErrNoRows {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get coefficient %s: %w", key, err)
	}
	return &c, nil
}

func (r *coefficientRepo) Upsert(ctx context.Context, c store.Coefficient) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO coefficients
		(module, scope, name, key, weight, rr_short, rr_long, sample_count, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (module, scope, name, key) DO UPDATE SET
			weight = EXCLUDED.weight,
			rr_short = EXCLUDED.rr_short,
			rr_long = EXCLUDED.rr_long,
			sample_count = EXCLUDED.sample_count,
			updated_at = EXCLUDED.updated_at`

	_, err := r.db.ExecContext(ctx, query,
		c.Module, c.Scope, c.Name, c.Key,
		c.Weight, c.RRShort, c.RRLong, c.SampleCount, c.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert coefficient %s: %w", c.CoefficientKey, err)
	}
	return nil
}

func (r *coefficientRepo) ListByName(ctx context.Context, module, scope, name string) ([]store.Coefficient, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT module, scope, name, key, weight, rr_short, rr_long,
		       sample_count, updated_at
		FROM coefficients
		WHERE module = $1 AND scope = $2 AND name = $3
		ORDER BY key`

	rows, err := r.db.QueryxContext(ctx, query, module, scope, name)
	if err != nil {
		return nil, fmt.Errorf("failed to list coefficients: %w", err)
	}
	defer rows.Close()

	var out []store.Coefficient
	for rows.Next() {
		var c store.Coefficient
		err := rows.Scan(
			&c.Module, &c.Scope, &c.Name, &c.Key,
			&c.Weight, &c.RRShort, &c.RRLong, &c.SampleCount, &c.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan coefficient: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}
