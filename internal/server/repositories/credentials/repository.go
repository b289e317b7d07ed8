// Package credentials stores registered WebAuthn authenticators.
package credentials

import (
	"context"

	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

type Repository interface {
	// Create stores a new credential. A credential ID that is already
	// registered yields common.ErrorAlreadyExists.
	Create(ctx context.Context, c *models.Credential) error
	GetByID(ctx context.Context, credentialID []byte) (*models.Credential, error)
	ListByUser(ctx context.Context, userID string) ([]models.Credential, error)

	// UpdateSignCount stores a new counter only if it is greater than the
	// stored one (or equal, when allowEqual is set). It reports whether the
	// row was updated; false means another request got there first.
	UpdateSignCount(ctx context.Context, credentialID []byte, count uint32, credentialJSON []byte, allowEqual bool) (bool, error)

	// Delete removes the credential if it belongs to userID.
	Delete(ctx context.Context, userID string, credentialID []byte) error
}
