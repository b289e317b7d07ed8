package services

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base32"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/cryptox"
	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/ratelimit"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/obs"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"github.com/skip2/go-qrcode"
)

const backupCodeCount = 10

var totpOpts = totp.ValidateOpts{
	Period:    30,
	Skew:      1,
	Digits:    otp.DigitsSix,
	Algorithm: otp.AlgorithmSHA1,
}

// MFASetup is returned once, at enrolment. The backup codes are not
// recoverable afterwards.
type MFASetup struct {
	Secret      string
	OTPAuthURL  string
	QRCodePNG   []byte
	BackupCodes []string
}

// MFAService manages TOTP enrolment, second-factor verification and code
// resends.
type MFAService struct {
	backend
	tokens   *tokenIssuer
	cipher   *cryptox.FieldCipher
	limiter  *ratelimit.Limiter
	notifier Notifier
	issuer   string
	logger   logging.Logger
	metrics  *obs.Metrics
	now      func() time.Time
}

func NewMFAService(d Deps) *MFAService {
	return &MFAService{
		backend:  newBackend(d),
		tokens:   newTokenIssuer(d),
		cipher:   d.Cipher,
		limiter:  d.Limiter,
		notifier: d.Notifier,
		issuer:   d.Config.WebAuthnRPDisplayName,
		logger:   d.Logger.With("module", "mfa_service"),
		metrics:  d.Metrics,
		now:      time.Now,
	}
}

func generateBackupCodes(n int) ([]string, error) {
	enc := base32.StdEncoding.WithPadding(base32.NoPadding)
	codes := make([]string, n)
	for i := range codes {
		b := make([]byte, 5)
		if _, err := rand.Read(b); err != nil {
			return nil, err
		}
		c := strings.ToLower(enc.EncodeToString(b))
		codes[i] = c[:4] + "-" + c[4:8]
	}
	return codes, nil
}

// hashBackupCode accepts the code with or without the dash and in any case.
func hashBackupCode(code string) string {
	c := strings.ToLower(strings.NewReplacer("-", "", " ", "").Replace(code))
	sum := sha256.Sum256([]byte(c))
	return hex.EncodeToString(sum[:])
}

// Setup creates a new, not yet enabled TOTP secret and backup codes for
// userID. Calling it again before Enable replaces both.
func (s *MFAService) Setup(ctx context.Context, userID string) (*MFASetup, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	if user.MFAEnabled {
		return nil, fmt.Errorf("%w: mfa already enabled", common.ErrorAlreadyExists)
	}

	key, err := totp.Generate(totp.GenerateOpts{Issuer: s.issuer, AccountName: user.Email})
	if err != nil {
		return nil, fmt.Errorf("failed to generate TOTP key: %w", err)
	}
	png, err := qrcode.Encode(key.URL(), qrcode.Medium, 256)
	if err != nil {
		return nil, fmt.Errorf("failed to generate QR code: %w", err)
	}
	encrypted, err := s.cipher.Encrypt(key.Secret())
	if err != nil {
		return nil, fmt.Errorf("error encrypting secret: %w", err)
	}

	codes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return nil, fmt.Errorf("failed to generate backup codes: %w", err)
	}
	hashes := make([]string, len(codes))
	for i, c := range codes {
		hashes[i] = hashBackupCode(c)
	}

	err = s.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.MFA(tx)
		if err := repo.UpsertSecret(ctx, userID, encrypted); err != nil {
			return err
		}
		return repo.ReplaceBackupCodes(ctx, userID, hashes)
	})
	if err != nil {
		return nil, fmt.Errorf("error storing mfa secret: %w", err)
	}

	return &MFASetup{Secret: key.Secret(), OTPAuthURL: key.URL(), QRCodePNG: png, BackupCodes: codes}, nil
}

func (s *MFAService) secret(ctx context.Context, userID string) (*models.MFASecret, string, error) {
	var rec *models.MFASecret
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		rec, err = s.repomanager.MFA(s.db).GetSecret(ctx, userID)
		return err
	})
	if err != nil {
		return nil, "", err
	}
	plain, err := s.cipher.Decrypt(rec.EncryptedSecret)
	if err != nil {
		s.metrics.DecryptFailure()
		s.logger.Error(ctx, "mfa secret decryption failed", "user_id", userID, "error", err)
		return nil, "", err
	}
	return rec, plain, nil
}

// matchStep returns the TOTP time step code belongs to, looking at the
// current step and one on either side.
func (s *MFAService) matchStep(code, secret string) (int64, bool) {
	code = strings.TrimSpace(code)
	period := int64(totpOpts.Period)
	now := s.now().UTC()
	for _, skew := range []int64{0, -1, 1} {
		at := now.Add(time.Duration(skew*period) * time.Second)
		want, err := totp.GenerateCodeCustom(secret, at, totpOpts)
		if err != nil {
			return 0, false
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return at.Unix() / period, true
		}
	}
	return 0, false
}

// Enable confirms enrolment with a current TOTP code. The code's step is
// recorded so it cannot be replayed at login.
func (s *MFAService) Enable(ctx context.Context, userID, code string) error {
	_, secret, err := s.secret(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fmt.Errorf("%w: mfa not set up", common.ErrInvalidInput)
		}
		return err
	}
	step, ok := s.matchStep(code, secret)
	if !ok {
		return common.ErrorUnauthorized
	}

	err = s.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.MFA(tx)
		if err := repo.Enable(ctx, userID); err != nil {
			return err
		}
		advanced, err := repo.AdvanceStep(ctx, userID, step)
		if err != nil {
			return err
		}
		if !advanced {
			return common.ErrorUnauthorized
		}
		return s.repomanager.Users(tx).SetMFAEnabled(ctx, userID, true)
	})
	if err != nil {
		return fmt.Errorf("error enabling mfa: %w", err)
	}
	s.logger.Info(ctx, "mfa enabled", "user_id", userID)
	return nil
}

// Verify completes a login that stopped at the MFA step. code is a TOTP code
// or an unused backup code. Attempts are limited per user; the Decision is
// returned so callers can set rate-limit headers.
func (s *MFAService) Verify(ctx context.Context, mfaToken, code string) (*TokenPair, ratelimit.Decision, error) {
	claims, err := auth.ParseToken(mfaToken, s.tokens.jwtSecret, auth.PurposeMFA)
	if err != nil {
		return nil, ratelimit.Decision{}, err
	}

	d, err := s.limiter.CheckAndConsume(ctx, claims.UserID, common.PurposeMFAVerify)
	if err != nil {
		return nil, d, err
	}
	if !d.Allowed {
		s.metrics.RateLimitDenied(common.PurposeMFAVerify)
		s.logger.Warn(ctx, "mfa verify rate limited", "user_id", claims.UserID, "reset_at", d.ResetAt)
		return nil, d, common.ErrRateLimited
	}

	pair, err := s.verify(ctx, claims.UserID, code)
	if err != nil {
		return nil, d, err
	}
	if err := s.limiter.Reset(ctx, claims.UserID, common.PurposeMFAVerify); err != nil {
		s.logger.Warn(ctx, "mfa verify limit reset failed", "user_id", claims.UserID, "error", err)
	}
	return pair, d, nil
}

func (s *MFAService) verify(ctx context.Context, userID, code string) (*TokenPair, error) {
	rec, secret, err := s.secret(ctx, userID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrorUnauthorized
		}
		return nil, err
	}
	if !rec.Enabled {
		return nil, common.ErrorUnauthorized
	}

	if step, ok := s.matchStep(code, secret); ok {
		var advanced bool
		err := s.call(ctx, func(ctx context.Context) error {
			var err error
			advanced, err = s.repomanager.MFA(s.db).AdvanceStep(ctx, userID, step)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("error recording totp step: %w", err)
		}
		if !advanced {
			s.logger.Warn(ctx, "totp code reused", "user_id", userID, "step", step)
			return nil, common.ErrorUnauthorized
		}
	} else {
		var used bool
		err := s.call(ctx, func(ctx context.Context) error {
			var err error
			used, err = s.repomanager.MFA(s.db).ConsumeBackupCode(ctx, userID, hashBackupCode(code))
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("error checking backup code: %w", err)
		}
		if !used {
			return nil, common.ErrorUnauthorized
		}
		s.logger.Info(ctx, "backup code used", "user_id", userID)
	}

	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading user: %w", err)
	}
	if user.Status != models.StatusActive {
		return nil, common.ErrForbidden
	}

	var pair *TokenPair
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		pair, err = s.tokens.issue(ctx, s.db, user)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error issuing tokens: %w", err)
	}
	return pair, nil
}

// Resend emails the current TOTP code, at most MFAResendLimit times per
// window per email. Whether the account exists or has MFA enabled does not
// change the outcome; only the limiter can deny. The Decision is returned
// in every case so callers can set rate-limit headers.
func (s *MFAService) Resend(ctx context.Context, email string) (ratelimit.Decision, error) {
	email = common.NormalizeEmail(email)
	if email == "" {
		return ratelimit.Decision{}, fmt.Errorf("%w: email required", common.ErrInvalidInput)
	}

	d, err := s.limiter.CheckAndConsume(ctx, email, common.PurposeMFAResend)
	if err != nil {
		return d, err
	}
	if !d.Allowed {
		s.metrics.RateLimitDenied(common.PurposeMFAResend)
		s.logger.Warn(ctx, "mfa resend rate limited", "email", email, "reset_at", d.ResetAt)
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
	if !user.MFAEnabled {
		return d, nil
	}

	_, secret, err := s.secret(ctx, user.ID)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return d, nil
		}
		return d, err
	}
	code, err := totp.GenerateCodeCustom(secret, s.now().UTC(), totpOpts)
	if err != nil {
		return d, fmt.Errorf("error generating code: %w", err)
	}
	if err := s.notifier.SendMFACode(ctx, email, code); err != nil {
		s.logger.Error(ctx, "mfa code delivery failed", "user_id", user.ID, "error", err)
	}
	s.logger.Info(ctx, "mfa code resent", "email", email, "remaining", d.Remaining)
	return d, nil
}
