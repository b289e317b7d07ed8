// Package passwordresets stores pending password reset grants. Only a bcrypt
// hash of the secret half of a reset token is persisted.
package passwordresets

import (
	"context"

	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, pr *models.PasswordReset) error
	Get(ctx context.Context, id string) (*models.PasswordReset, error)
	// MarkUsed flips an unused grant to used. A second call returns
	// common.ErrorNotFound.
	MarkUsed(ctx context.Context, id string) error
	DeleteForUser(ctx context.Context, userID string) error
}
