package services

import (
	"context"
	"errors"
	"fmt"
	"net/mail"
	"sync"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/cryptox"
	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/obs"
)

const (
	minPasswordLength = 8
	maxPasswordLength = 72
)

// Profile is the decrypted view of a user's sensitive fields.
type Profile struct {
	ID         string
	Email      string
	Role       models.Role
	Status     models.Status
	NationalID string
	BirthDate  string
	Phone      string
	Address    string
	MFAEnabled bool
	CreatedAt  time.Time
}

// RegisterInput is the plaintext sign-up request.
type RegisterInput struct {
	Email      string
	Password   string
	NationalID string
	BirthDate  string
	Phone      string
	Address    string
}

// LoginResult holds either tokens or, for MFA-enabled accounts, the token
// that must be presented to MFAService.Verify.
type LoginResult struct {
	Tokens      *TokenPair
	MFARequired bool
	MFAToken    string
}

// UserService handles registration, password login, token refresh and the
// encrypted profile.
type UserService struct {
	backend
	tokens  *tokenIssuer
	cipher  *cryptox.FieldCipher
	hasher  *cryptox.PasswordHasher
	logger  logging.Logger
	metrics *obs.Metrics

	dummyOnce sync.Once
	dummyHash string
}

func NewUserService(d Deps) *UserService {
	return &UserService{
		backend: newBackend(d),
		tokens:  newTokenIssuer(d),
		cipher:  d.Cipher,
		hasher:  d.Hasher,
		logger:  d.Logger.With("module", "user_service"),
		metrics: d.Metrics,
	}
}

func validatePassword(p string) error {
	if len(p) < minPasswordLength || len(p) > maxPasswordLength {
		return fmt.Errorf("%w: password must be %d to %d bytes", common.ErrInvalidInput, minPasswordLength, maxPasswordLength)
	}
	return nil
}

func validateEmail(email string) (string, error) {
	email = common.NormalizeEmail(email)
	if _, err := mail.ParseAddress(email); err != nil || email == "" {
		return "", fmt.Errorf("%w: invalid email", common.ErrInvalidInput)
	}
	return email, nil
}

// Register creates an active user with role user. Profile fields are
// encrypted before they reach the repository.
func (s *UserService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	email, err := validateEmail(in.Email)
	if err != nil {
		return nil, err
	}
	if err := validatePassword(in.Password); err != nil {
		return nil, err
	}

	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, fmt.Errorf("error hashing password: %w", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		Status:       models.StatusActive,
	}
	for _, f := range []struct {
		dst *string
		src string
	}{
		{&user.NationalID, in.NationalID},
		{&user.BirthDate, in.BirthDate},
		{&user.Phone, in.Phone},
		{&user.Address, in.Address},
	} {
		if *f.dst, err = s.cipher.Encrypt(f.src); err != nil {
			return nil, fmt.Errorf("error encrypting profile: %w", err)
		}
	}

	err = s.call(ctx, func(ctx context.Context) error {
		user, err = s.repomanager.Users(s.db).Create(ctx, user)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return nil, err
		}
		return nil, fmt.Errorf("error creating user: %w", err)
	}

	s.logger.Info(ctx, "user registered", "user_id", user.ID)
	return user, nil
}

// fallbackDummyHash is a well-formed cost-12 bcrypt hash. Rejecting any
// password against it costs a full bcrypt run.
const fallbackDummyHash = "$2a$12$hk.MjeKHxjpqQKor3BtSiu.pI180c18LG3fGSsAr6s3RJceHkMd7s"

// verifyDummy spends the same bcrypt work as a real check so a missing
// account is not distinguishable by timing.
func (s *UserService) verifyDummy(ctx context.Context, password string) {
	s.dummyOnce.Do(func() {
		h, err := s.hasher.Hash("credkeeper-placeholder")
		if err != nil {
			s.logger.Error(ctx, "dummy password hash failed, using fallback", "error", err)
			h = fallbackDummyHash
		}
		s.dummyHash = h
	})
	s.hasher.Verify(password, s.dummyHash)
}

// Login checks the password. Unknown email and wrong password both return
// common.ErrorUnauthorized.
func (s *UserService) Login(ctx context.Context, email, password string) (*LoginResult, error) {
	email = common.NormalizeEmail(email)

	var user *models.User
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		user, err = s.repomanager.Users(s.db).GetByEmail(ctx, email)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			s.verifyDummy(ctx, password)
			return nil, common.ErrorUnauthorized
		}
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	if !s.hasher.Verify(password, user.PasswordHash) {
		return nil, common.ErrorUnauthorized
	}
	if user.Status != models.StatusActive {
		return nil, fmt.Errorf("%w: account is %s", common.ErrForbidden, user.Status)
	}

	if user.MFAEnabled {
		token, err := s.tokens.mfaToken(user.ID)
		if err != nil {
			return nil, common.ErrorInternal
		}
		return &LoginResult{MFARequired: true, MFAToken: token}, nil
	}

	var pair *TokenPair
	err = s.call(ctx, func(ctx context.Context) error {
		pair, err = s.tokens.issue(ctx, s.db, user)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("error issuing tokens: %w", err)
	}
	return &LoginResult{Tokens: pair}, nil
}

// RefreshToken consumes refreshToken and issues a new pair in one
// transaction. A token can be rotated once; replaying it gives
// common.ErrInvalidToken.
func (s *UserService) RefreshToken(ctx context.Context, refreshToken string) (*TokenPair, error) {
	var pair *TokenPair
	err := s.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		token, err := s.repomanager.RefreshTokens(tx).Consume(ctx, refreshToken)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return common.ErrInvalidToken
			}
			return fmt.Errorf("error consuming refresh token: %w", err)
		}
		if token.Expired(time.Now()) {
			return common.ErrRefreshTokenExpired
		}

		user, err := s.repomanager.Users(tx).GetByID(ctx, token.UserID)
		if err != nil {
			return fmt.Errorf("error loading user: %w", err)
		}
		if user.Status != models.StatusActive {
			return common.ErrForbidden
		}

		pair, err = s.tokens.issue(ctx, tx, user)
		if err != nil {
			return fmt.Errorf("error generating token pair: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return pair, nil
}

// ChangePassword replaces the password and revokes every refresh token.
func (s *UserService) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if err := validatePassword(newPassword); err != nil {
		return err
	}

	user, err := s.user(ctx, userID)
	if err != nil {
		return fmt.Errorf("error loading user: %w", err)
	}
	if !s.hasher.Verify(oldPassword, user.PasswordHash) {
		return common.ErrorUnauthorized
	}

	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return fmt.Errorf("error hashing password: %w", err)
	}

	err = s.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		if err := s.repomanager.Users(tx).UpdatePassword(ctx, userID, hash); err != nil {
			return err
		}
		return s.repomanager.RefreshTokens(tx).DeleteForUser(ctx, userID)
	})
	if err != nil {
		return fmt.Errorf("error updating password: %w", err)
	}

	s.logger.Info(ctx, "password changed", "user_id", userID)
	return nil
}

// Profile returns the user with decrypted fields. Any field that fails to
// decrypt fails the whole call with common.ErrDecryptionFailed.
func (s *UserService) Profile(ctx context.Context, userID string) (*Profile, error) {
	user, err := s.user(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("error loading user: %w", err)
	}

	p := &Profile{
		ID:         user.ID,
		Email:      user.Email,
		Role:       user.Role,
		Status:     user.Status,
		MFAEnabled: user.MFAEnabled,
		CreatedAt:  user.CreatedAt,
	}
	for _, f := range []struct {
		name string
		dst  *string
		src  string
	}{
		{"national_id", &p.NationalID, user.NationalID},
		{"birth_date", &p.BirthDate, user.BirthDate},
		{"phone", &p.Phone, user.Phone},
		{"address", &p.Address, user.Address},
	} {
		if *f.dst, err = s.cipher.Decrypt(f.src); err != nil {
			s.metrics.DecryptFailure()
			s.logger.Error(ctx, "profile field decryption failed", "user_id", userID, "field", f.name, "error", err)
			return nil, fmt.Errorf("error decrypting %s: %w", f.name, err)
		}
	}
	return p, nil
}
