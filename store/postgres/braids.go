package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/tradeloop/flywheel/store"
)

type braidRepo struct {
	db      *sqlx.DB
	timeout time.Duration
}

// NewBraidRepo creates a PostgreSQL-backed braid repository.
func NewBraidRepo(db *sqlx.DB, timeout time.Duration) store.BraidRepo {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &braidRepo{db: db, timeout: timeout}
}

func (r *braidRepo) Insert(ctx context.Context, b store.Braid) error {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		INSERT INTO braids
		(id, level, cluster_key, member_ids, size, persistence, novelty, surprise, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err := r.db.ExecContext(ctx, query,
		b.ID, b.Level, b.ClusterKey, pq.Array(b.MemberIDs), b.Size,
		b.Persistence, b.Novelty, b.Surprise, b.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert braid: %w", err)
	}
	return nil
}

func (r *braidRepo) ListByLevel(ctx context.Context, level int, limit int) ([]store.Braid, error) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	query := `
		SELECT id, level, cluster_key, member_ids, size,
		       persistence, novelty, surprise, created_at
		FROM braids
		WHERE level = $1
		ORDER BY created_at DESC
		LIMIT $2`

	rows, err := r.db.QueryxContext(ctx, query, level, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list braids: %w", err)
	}
	defer rows.Close()

	var out []store.Braid
	for rows.Next() {
		var b store.Braid
		err := rows.Scan(
			&b.ID, &b.Level, &b.ClusterKey, pq.Array(&b.MemberIDs), &b.Size,
			&b.Persistence, &b.Novelty, &b.Surprise, &b.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan braid: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}
