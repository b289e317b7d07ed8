package ceremonies

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, s *models.CeremonySession) error {
	query := `
		INSERT INTO webauthn_sessions (id, kind, user_id, session_json, expires_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	var userID sql.NullString
	if s.UserID != "" {
		userID = sql.NullString{String: s.UserID, Valid: true}
	}
	if _, err := r.db.ExecContext(ctx, query, s.ID, s.Kind, userID, s.SessionJSON, s.ExpiresAt); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) Consume(ctx context.Context, id string) (*models.CeremonySession, error) {
	query := `
		DELETE FROM webauthn_sessions
		WHERE id = $1
		RETURNING kind, user_id, session_json, expires_at, created_at
	`
	s := &models.CeremonySession{ID: id}
	var userID sql.NullString
	err := r.db.QueryRowContext(ctx, query, id).Scan(&s.Kind, &userID, &s.SessionJSON, &s.ExpiresAt, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	s.UserID = userID.String
	return s, nil
}

func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `DELETE FROM webauthn_sessions WHERE expires_at <= $1`, now)
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("db error: %w", err)
	}
	return n, nil
}
