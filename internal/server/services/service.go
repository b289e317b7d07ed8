// Package services contains the server-side business logic: accounts and
// tokens, passkeys, MFA, password resets and linked OAuth accounts.
package services

import (
	"context"
	"database/sql"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/cryptox"
	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/ratelimit"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/config"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/obs"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/repomanager"
)

// Deps is what the services are built from. Metrics may be nil.
type Deps struct {
	DB       *sql.DB
	Repos    repomanager.RepositoryManager
	Config   *config.Config
	Cipher   *cryptox.FieldCipher
	Hasher   *cryptox.PasswordHasher
	Limiter  *ratelimit.Limiter
	Notifier Notifier
	Logger   logging.Logger
	Metrics  *obs.Metrics
}

// TokenPair bundles a short-lived access token and a long-lived refresh token.
type TokenPair struct {
	AccessToken  string
	RefreshToken string
}

// backend runs repository calls under the store timeout.
type backend struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	timeout     time.Duration
}

func newBackend(d Deps) backend {
	return backend{db: d.DB, repomanager: d.Repos, timeout: d.Config.StoreTimeout}
}

func (b backend) call(ctx context.Context, fn func(ctx context.Context) error) error {
	return dbx.WithTimeout(ctx, b.timeout, fn)
}

func (b backend) tx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) error {
	return dbx.WithTimeout(ctx, b.timeout, func(ctx context.Context) error {
		return dbx.WithTx(ctx, b.db, nil, fn)
	})
}

func (b backend) user(ctx context.Context, id string) (*models.User, error) {
	var u *models.User
	err := b.call(ctx, func(ctx context.Context) error {
		var err error
		u, err = b.repomanager.Users(b.db).GetByID(ctx, id)
		return err
	})
	return u, err
}

// tokenIssuer mints access tokens and stores refresh tokens.
type tokenIssuer struct {
	repomanager repomanager.RepositoryManager
	jwtSecret   []byte
	accessTTL   time.Duration
	refreshTTL  time.Duration
	mfaTTL      time.Duration
}

func newTokenIssuer(d Deps) *tokenIssuer {
	return &tokenIssuer{
		repomanager: d.Repos,
		jwtSecret:   []byte(d.Config.SecretKey),
		accessTTL:   d.Config.AccessTokenValidityDuration,
		refreshTTL:  d.Config.RefreshTokenValidityDuration,
		mfaTTL:      d.Config.MFATokenValidityDuration,
	}
}

// issue stores a new refresh token through db, which may be a transaction.
func (t *tokenIssuer) issue(ctx context.Context, db dbx.DBTX, u *models.User) (*TokenPair, error) {
	accessToken, err := auth.GenerateToken(u, t.jwtSecret, t.accessTTL)
	if err != nil {
		return nil, common.ErrorInternal
	}

	refreshToken, err := common.MakeRandHexString(32)
	if err != nil {
		return nil, common.ErrorInternal
	}

	if err := t.repomanager.RefreshTokens(db).Create(ctx, u.ID, refreshToken, t.refreshTTL); err != nil {
		return nil, err
	}

	return &TokenPair{AccessToken: accessToken, RefreshToken: refreshToken}, nil
}

func (t *tokenIssuer) mfaToken(userID string) (string, error) {
	return auth.GenerateMFAToken(userID, t.jwtSecret, t.mfaTTL)
}
