package credentials

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

const columns = `credential_id, user_id, public_key, sign_count, credential_json, created_at, last_used_at`

type PostgresRepository struct {
	db dbx.DBTX
}

func NewPostgresRepository(db dbx.DBTX) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, c *models.Credential) error {
	query := `
		INSERT INTO webauthn_credentials (credential_id, user_id, public_key, sign_count, credential_json)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query, c.ID, c.UserID, c.PublicKey, c.SignCount, c.CredentialJSON)
	if err != nil {
		if dbx.IsUniqueViolation(err) {
			return common.ErrorAlreadyExists
		}
		return fmt.Errorf("db error: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, credentialID []byte) (*models.Credential, error) {
	query := `SELECT ` + columns + ` FROM webauthn_credentials WHERE credential_id = $1`

	c := &models.Credential{}
	err := r.db.QueryRowContext(ctx, query, credentialID).Scan(
		&c.ID, &c.UserID, &c.PublicKey, &c.SignCount, &c.CredentialJSON, &c.CreatedAt, &c.LastUsedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, common.ErrorNotFound
		}
		return nil, fmt.Errorf("db error: %w", err)
	}
	return c, nil
}

func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]models.Credential, error) {
	query := `SELECT ` + columns + ` FROM webauthn_credentials WHERE user_id = $1 ORDER BY created_at`

	rows, err := r.db.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	defer rows.Close()

	var result []models.Credential
	for rows.Next() {
		var c models.Credential
		if err := rows.Scan(&c.ID, &c.UserID, &c.PublicKey, &c.SignCount, &c.CredentialJSON, &c.CreatedAt, &c.LastUsedAt); err != nil {
			return nil, fmt.Errorf("db error: %w", err)
		}
		result = append(result, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("db error: %w", err)
	}
	return result, nil
}

func (r *PostgresRepository) UpdateSignCount(ctx context.Context, credentialID []byte, count uint32, credentialJSON []byte, allowEqual bool) (bool, error) {
	query := `
		UPDATE webauthn_credentials
		SET sign_count = $2, credential_json = $3, last_used_at = now()
		WHERE credential_id = $1 AND (sign_count < $2 OR ($4 AND sign_count = $2))
	`
	res, err := r.db.ExecContext(ctx, query, credentialID, count, credentialJSON, allowEqual)
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("db error: %w", err)
	}
	return n == 1, nil
}

func (r *PostgresRepository) Delete(ctx context.Context, userID string, credentialID []byte) error {
	query := `DELETE FROM webauthn_credentials WHERE user_id = $1 AND credential_id = $2`
	res, err := r.db.ExecContext(ctx, query, userID, credentialID)
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
