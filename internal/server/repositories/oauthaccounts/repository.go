// Package oauthaccounts stores linked external provider accounts. Token
// columns hold ciphertext produced by the field codec.
package oauthaccounts

import (
	"context"

	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

type Repository interface {
	Upsert(ctx context.Context, a *models.OAuthAccount) error
	Get(ctx context.Context, userID, provider string) (*models.OAuthAccount, error)
	ListByUser(ctx context.Context, userID string) ([]models.OAuthAccount, error)
	Delete(ctx context.Context, userID, provider string) error
}
