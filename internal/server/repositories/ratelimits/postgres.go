// Package ratelimits is the Postgres implementation of ratelimit.Store.
package ratelimits

import (
	"context"
	"fmt"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// Hit is a single upsert so concurrent callers on the same key serialize on
// the row lock; no read-then-write window exists.
func (r *PostgresRepository) Hit(ctx context.Context, identifier, purpose string, limit int, window time.Duration, now time.Time) (*models.RateLimitEntry, error) {
	query := `
		INSERT INTO rate_limits AS rl (identifier, purpose, count, reset_at)
		VALUES ($1, $2, 1, $4)
		ON CONFLICT (identifier, purpose) DO UPDATE SET
			count = CASE WHEN rl.reset_at <= $3 THEN 1 ELSE LEAST(rl.count + 1, $5) END,
			reset_at = CASE WHEN rl.reset_at <= $3 THEN $4 ELSE rl.reset_at END
		RETURNING count, reset_at
	`
	e := &models.RateLimitEntry{Identifier: identifier, Purpose: purpose}
	err := r.db.QueryRowContext(ctx, query, identifier, purpose, now, now.Add(window), limit+1).
		Scan(&e.Count, &e.ResetAt)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return e, nil
}

func (r *PostgresRepository) Reset(ctx context.Context, identifier, purpose string) error {
	_, err := r.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE identifier = $1 AND purpose = $2`, identifier, purpose)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Sweep(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM rate_limits WHERE reset_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
