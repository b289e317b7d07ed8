// Package ceremonies stores pending WebAuthn challenges between the
// options call and the verification call of a ceremony.
package ceremonies

import (
	"context"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

type Repository interface {
	Create(ctx context.Context, s *models.CeremonySession) error

	// Consume deletes the session and returns it. A session can be consumed
	// once; later calls get common.ErrorNotFound. Expiry is not checked here.
	Consume(ctx context.Context, id string) (*models.CeremonySession, error)

	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
