package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/cryptox"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/obs"
)

// oauthTokenAAD is the associated data of every stored provider token.
var oauthTokenAAD = []byte("oauth-token")

var oauthProviders = map[string]bool{"google": true, "facebook": true}

// LinkOAuthInput carries plaintext provider tokens.
type LinkOAuthInput struct {
	Provider          string
	ProviderAccountID string
	AccessToken       string
	RefreshToken      string
	ExpiresAt         *time.Time
}

// LinkedAccount is the client view of a linked provider. Tokens are never
// returned.
type LinkedAccount struct {
	Provider          string
	ProviderAccountID string
	ExpiresAt         *time.Time
	UpdatedAt         time.Time
}

// OAuthTokenService keeps provider tokens encrypted at rest.
type OAuthTokenService struct {
	backend
	cipher  *cryptox.FieldCipher
	logger  logging.Logger
	metrics *obs.Metrics
}

func NewOAuthTokenService(d Deps) *OAuthTokenService {
	return &OAuthTokenService{
		backend: newBackend(d),
		cipher:  d.Cipher,
		logger:  d.Logger.With("module", "oauth_service"),
		metrics: d.Metrics,
	}
}

func normalizeProvider(p string) (string, error) {
	p = strings.ToLower(strings.TrimSpace(p))
	if !oauthProviders[p] {
		return "", fmt.Errorf("%w: unsupported provider %q", common.ErrInvalidInput, p)
	}
	return p, nil
}

func (s *OAuthTokenService) Link(ctx context.Context, userID string, in LinkOAuthInput) error {
	provider, err := normalizeProvider(in.Provider)
	if err != nil {
		return err
	}
	if in.ProviderAccountID == "" || in.AccessToken == "" {
		return fmt.Errorf("%w: provider account and access token required", common.ErrInvalidInput)
	}

	access, err := s.cipher.EncryptWithAAD(in.AccessToken, oauthTokenAAD)
	if err != nil {
		return fmt.Errorf("error encrypting token: %w", err)
	}
	refresh, err := s.cipher.EncryptWithAAD(in.RefreshToken, oauthTokenAAD)
	if err != nil {
		return fmt.Errorf("error encrypting token: %w", err)
	}

	err = s.call(ctx, func(ctx context.Context) error {
		return s.repomanager.OAuthAccounts(s.db).Upsert(ctx, &models.OAuthAccount{
			UserID:            userID,
			Provider:          provider,
			ProviderAccountID: in.ProviderAccountID,
			AccessToken:       access,
			RefreshToken:      refresh,
			ExpiresAt:         in.ExpiresAt,
		})
	})
	if err != nil {
		return fmt.Errorf("error linking account: %w", err)
	}
	s.logger.Info(ctx, "oauth account linked", "user_id", userID, "provider", provider)
	return nil
}

// Tokens returns the decrypted access and refresh tokens for a provider.
func (s *OAuthTokenService) Tokens(ctx context.Context, userID, provider string) (accessToken, refreshToken string, err error) {
	provider, err = normalizeProvider(provider)
	if err != nil {
		return "", "", err
	}

	var acc *models.OAuthAccount
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		acc, err = s.repomanager.OAuthAccounts(s.db).Get(ctx, userID, provider)
		return err
	})
	if err != nil {
		return "", "", err
	}

	if accessToken, err = s.cipher.DecryptWithAAD(acc.AccessToken, oauthTokenAAD); err != nil {
		s.metrics.DecryptFailure()
		return "", "", fmt.Errorf("error decrypting access token: %w", err)
	}
	if refreshToken, err = s.cipher.DecryptWithAAD(acc.RefreshToken, oauthTokenAAD); err != nil {
		s.metrics.DecryptFailure()
		return "", "", fmt.Errorf("error decrypting refresh token: %w", err)
	}
	return accessToken, refreshToken, nil
}

func (s *OAuthTokenService) List(ctx context.Context, userID string) ([]LinkedAccount, error) {
	var accs []models.OAuthAccount
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		accs, err = s.repomanager.OAuthAccounts(s.db).ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}
	out := make([]LinkedAccount, 0, len(accs))
	for _, a := range accs {
		out = append(out, LinkedAccount{
			Provider:          a.Provider,
			ProviderAccountID: a.ProviderAccountID,
			ExpiresAt:         a.ExpiresAt,
			UpdatedAt:         a.UpdatedAt,
		})
	}
	return out, nil
}

// Revoke deletes the stored tokens for provider.
func (s *OAuthTokenService) Revoke(ctx context.Context, userID, provider string) error {
	provider, err := normalizeProvider(provider)
	if err != nil {
		return err
	}
	err = s.call(ctx, func(ctx context.Context) error {
		return s.repomanager.OAuthAccounts(s.db).Delete(ctx, userID, provider)
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "oauth account revoked", "user_id", userID, "provider", provider)
	return nil
}
