package mfa

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

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

func (r *PostgresRepository) UpsertSecret(ctx context.Context, userID, encryptedSecret string) error {
	query := `
		INSERT INTO mfa_secrets (user_id, encrypted_secret, enabled)
		VALUES ($1, $2, FALSE)
		ON CONFLICT (user_id) DO UPDATE SET
			encrypted_secret = EXCLUDED.encrypted_secret,
			enabled = FALSE,
			last_used_step = 0,
			created_at = now()
	`
	if _, err := r.db.ExecContext(ctx, query, userID, encryptedSecret); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetSecret(ctx context.Context, userID string) (*models.MFASecret, error) {
	query := `SELECT user_id, encrypted_secret, enabled, last_used_step, created_at FROM mfa_secrets WHERE user_id = $1`

	s := &models.MFASecret{}
	err := r.db.QueryRowContext(ctx, query, userID).Scan(&s.UserID, &s.EncryptedSecret, &s.Enabled, &s.LastUsedStep, &s.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return s, nil
}

func (r *PostgresRepository) Enable(ctx context.Context, userID string) error {
	return r.execOne(ctx, `UPDATE mfa_secrets SET enabled = TRUE WHERE user_id = $1`, userID)
}

func (r *PostgresRepository) AdvanceStep(ctx context.Context, userID string, step int64) (bool, error) {
	query := `UPDATE mfa_secrets SET last_used_step = $2 WHERE user_id = $1 AND last_used_step < $2`
	res, err := r.db.ExecContext(ctx, query, userID, step)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	return r.execOne(ctx, `DELETE FROM mfa_secrets WHERE user_id = $1`, userID)
}

func (r *PostgresRepository) ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM mfa_backup_codes WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	for _, h := range codeHashes {
		_, err := r.db.ExecContext(ctx, `INSERT INTO mfa_backup_codes (user_id, code_hash) VALUES ($1, $2)`, userID, h)
		if err != nil {
			return fmt.Errorf("db error: %w", err)
		}
	}
	return nil
}

func (r *PostgresRepository) ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error) {
	query := `
		UPDATE mfa_backup_codes SET used_at = now()
		WHERE user_id = $1 AND code_hash = $2 AND used_at IS NULL
	`
	res, err := r.db.ExecContext(ctx, query, userID, codeHash)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) execOne(ctx context.Context, query string, args ...any) error {
	res, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("db error: %w", err)
	}
	if n == 0 {
		return common.ErrorNotFound
	}
	return nil
}
