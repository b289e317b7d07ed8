// Package refreshtokens declares the repository for server-stored refresh
// tokens. Only the sha256 digest of a token is persisted.
package refreshtokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

// Repository issues, consumes and revokes refresh tokens.
type Repository interface {
	// Create stores token for userID, valid until now+validity.
	Create(ctx context.Context, userID string, token string, validity time.Duration) error

	// Consume deletes the token and returns what it was bound to, in one
	// statement, so a token can be rotated at most once.
	// A missing token yields common.ErrorNotFound.
	Consume(ctx context.Context, token string) (*models.RefreshToken, error)

	// DeleteForUser revokes every refresh token of userID.
	DeleteForUser(ctx context.Context, userID string) error
}
