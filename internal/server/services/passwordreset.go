package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/cryptox"
	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/ratelimit"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/obs"
	"github.com/google/uuid"
)

// PasswordResetService issues and redeems reset tokens of the form
// "<id>.<secret>". Only a bcrypt hash of the secret is stored.
type PasswordResetService struct {
	backend
	hasher   *cryptox.PasswordHasher
	limiter  *ratelimit.Limiter
	notifier Notifier
	validity time.Duration
	logger   logging.Logger
	metrics  *obs.Metrics
	now      func() time.Time
}

func NewPasswordResetService(d Deps) *PasswordResetService {
	return &PasswordResetService{
		backend:  newBackend(d),
		hasher:   d.Hasher,
		limiter:  d.Limiter,
		notifier: d.Notifier,
		validity: d.Config.PasswordResetValidity,
		logger:   d.Logger.With("module", "password_reset_service"),
		metrics:  d.Metrics,
		now:      time.Now,
	}
}

// Forgot sends a reset token if the account exists. The result does not
// depend on that; only the rate limiter can make it fail.
func (s *PasswordResetService) Forgot(ctx context.Context, email string) (ratelimit.Decision, error) {
	email = common.NormalizeEmail(email)
	if email == "" {
		return ratelimit.Decision{}, fmt.Errorf("%w: email required", common.ErrInvalidInput)
	}

	d, err := s.limiter.CheckAndConsume(ctx, email, common.PurposePasswordReset)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		s.metrics.RateLimitDenied(common.PurposePasswordReset)
		s.logger.Warn(ctx, "password reset rate limited", "email", email)
		return d, common.ErrRateLimited
	}

	var user *models.User
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.repomanager.Users(s.db).GetByEmail(ctx, email)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return d, nil
		}
		return d, fmt.Errorf("error loading user: %w", err)
	}

	secret, err := common.MakeRandHexString(32)
	if err != nil {
		return d, common.ErrorInternal
	}
	hash, err := s.hasher.Hash(secret)
	if err != nil {
		return d, fmt.Errorf("error hashing reset secret: %w", err)
	}

	pr := &models.PasswordReset{
		ID:         uuid.NewString(),
		UserID:     user.ID,
		SecretHash: hash,
		ExpiresAt:  s.now().Add(s.validity),
	}
	err = s.call(ctx, func(ctx context.Context) error {
		return s.repomanager.PasswordResets(s.db).Create(ctx, pr)
	})
	if err != nil {
		return d, fmt.Errorf("error storing reset: %w", err)
	}

	if err := s.notifier.SendPasswordReset(ctx, email, pr.ID+"."+secret); err != nil {
		s.logger.Error(ctx, "password reset delivery failed", "user_id", user.ID, "error", err)
	}
	return d, nil
}

// Reset redeems token and sets newPassword. Every refresh token of the user
// is revoked. Any invalid, used or expired token is common.ErrInvalidToken.
func (s *PasswordResetService) Reset(ctx context.Context, token, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	id, secret, ok := strings.Cut(token, ".")
	if !ok || secret == "" || uuid.Validate(id) != nil {
		return common.ErrInvalidToken
	}

	var pr *models.PasswordReset
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		pr, err = s.repomanager.PasswordResets(s.db).Get(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrInvalidToken
		}
		return fmt.Errorf("error loading reset: %w", err)
	}
	if pr.UsedAt != nil || !s.now().Before(pr.ExpiresAt) || !s.hasher.Verify(secret, pr.SecretHash) {
		return common.ErrInvalidToken
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}

	err = s.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.PasswordResets(tx).MarkUsed(ctx, id); err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidToken
			}
			return err
		}
		if err := s.repomanager.Users(tx).UpdatePassword(ctx, pr.UserID, hash); err != nil {
			return err
		}
		return s.repomanager.RefreshTokens(tx).DeleteForUser(ctx, pr.UserID)
	})
	if err != nil {
		if errors.Is(err, common.ErrInvalidToken) {
			return err
		}
		return fmt.Errorf("error resetting password: %w", err)
	}

	s.logger.Info(ctx, "password reset", "user_id", pr.UserID)
	return nil
}
