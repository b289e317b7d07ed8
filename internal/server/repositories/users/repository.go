// Package users declares the server-side repository contract for user
// accounts.
package users

import (
	"context"

	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

// Repository stores user accounts. Profile fields are passed through as
// already-encrypted strings.
type Repository interface {
	// Create inserts a user and fills ID and CreatedAt. A duplicate email
	// yields common.ErrorAlreadyExists.
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	GetByID(ctx context.Context, id string) (*models.User, error)
	UpdatePassword(ctx context.Context, id string, passwordHash string) error
	SetMFAEnabled(ctx context.Context, id string, enabled bool) error
}
