package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/obs"
	"github.com/go-webauthn/webauthn/protocol"
	"github.com/go-webauthn/webauthn/webauthn"
	"github.com/oklog/ulid/v2"
)

// passkeyProvider is the part of *webauthn.WebAuthn the service uses.
type passkeyProvider interface {
	BeginRegistration(user webauthn.User, opts ...webauthn.RegistrationOption) (*protocol.CredentialCreation, *webauthn.SessionData, error)
	CreateCredential(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialCreationData) (*webauthn.Credential, error)
	BeginLogin(user webauthn.User, opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	BeginDiscoverableLogin(opts ...webauthn.LoginOption) (*protocol.CredentialAssertion, *webauthn.SessionData, error)
	ValidateLogin(user webauthn.User, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (*webauthn.Credential, error)
	ValidatePasskeyLogin(handler webauthn.DiscoverableUserHandler, session webauthn.SessionData, response *protocol.ParsedCredentialAssertionData) (webauthn.User, *webauthn.Credential, error)
}

type passkeyParser interface {
	ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error)
	ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error)
}

type defaultPasskeyParser struct{}

func (defaultPasskeyParser) ParseCredentialCreationResponseBytes(data []byte) (*protocol.ParsedCredentialCreationData, error) {
	return protocol.ParseCredentialCreationResponseBytes(data)
}

func (defaultPasskeyParser) ParseCredentialRequestResponseBytes(data []byte) (*protocol.ParsedCredentialAssertionData, error) {
	return protocol.ParseCredentialRequestResponseBytes(data)
}

type RegistrationOptions struct {
	SessionID string
	Options   *protocol.CredentialCreation
}

type LoginOptions struct {
	SessionID string
	Options   *protocol.CredentialAssertion
}

// VerificationResult is the outcome of a registration ceremony. A failed
// ceremony is a result with Verified false, not an error; Failure is
// common.ErrCeremony.
type VerificationResult struct {
	Verified     bool
	CredentialID []byte
	Failure      error
}

// AuthenticationResult is the outcome of a login ceremony. Failure is
// common.ErrCeremony or common.ErrCloneSuspected.
type AuthenticationResult struct {
	Verified bool
	UserID   string
	Tokens   *TokenPair
	Failure  error
}

// PasskeyService runs WebAuthn registration and login ceremonies. Pending
// challenges live in the ceremonies repository and are consumed exactly
// once.
type PasskeyService struct {
	backend
	webauthn         passkeyProvider
	parser           passkeyParser
	tokens           *tokenIssuer
	sessionTTL       time.Duration
	allowCounterless bool
	logger           logging.Logger
	metrics          *obs.Metrics
	now              func() time.Time
}

func NewPasskeyService(d Deps) (*PasskeyService, error) {
	w, err := webauthn.New(&webauthn.Config{
		RPID:          d.Config.WebAuthnRPID,
		RPDisplayName: d.Config.WebAuthnRPDisplayName,
		RPOrigins:     d.Config.WebAuthnRPOrigins,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: webauthn: %w", common.ErrConfiguration, err)
	}
	return newPasskeyService(d, w, defaultPasskeyParser{}), nil
}

func newPasskeyService(d Deps, provider passkeyProvider, parser passkeyParser) *PasskeyService {
	return &PasskeyService{
		backend:          newBackend(d),
		webauthn:         provider,
		parser:           parser,
		tokens:           newTokenIssuer(d),
		sessionTTL:       d.Config.WebAuthnSessionTTL,
		allowCounterless: d.Config.AllowCounterlessAuthenticators,
		logger:           d.Logger.With("module", "passkey_service"),
		metrics:          d.Metrics,
		now:              time.Now,
	}
}

type passkeyUser struct {
	user        *models.User
	credentials []webauthn.Credential
}

func (u *passkeyUser) WebAuthnID() []byte                         { return []byte(u.user.ID) }
func (u *passkeyUser) WebAuthnName() string                       { return u.user.Email }
func (u *passkeyUser) WebAuthnDisplayName() string                { return u.user.Email }
func (u *passkeyUser) WebAuthnCredentials() []webauthn.Credential { return u.credentials }

func (s *PasskeyService) loadPasskeyUser(ctx context.Context, userID string) (*passkeyUser, error) {
	var (
		user  *models.User
		creds []models.Credential
	)
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		if user, err = s.repomanager.Users(s.db).GetByID(ctx, userID); err != nil {
			return err
		}
		creds, err = s.repomanager.Credentials(s.db).ListByUser(ctx, userID)
		return err
	})
	if err != nil {
		return nil, err
	}

	decoded := make([]webauthn.Credential, 0, len(creds))
	for _, c := range creds {
		var wc webauthn.Credential
		if err := json.Unmarshal(c.CredentialJSON, &wc); err != nil {
			return nil, fmt.Errorf("decode credential: %w", err)
		}
		decoded = append(decoded, wc)
	}
	return &passkeyUser{user: user, credentials: decoded}, nil
}

func (s *PasskeyService) storeSession(ctx context.Context, kind models.CeremonyKind, userID string, data *webauthn.SessionData) (string, error) {
	payload, err := json.Marshal(data)
	if err != nil {
		return "", fmt.Errorf("encode session: %w", err)
	}
	sess := &models.CeremonySession{
		ID:          ulid.Make().String(),
		Kind:        kind,
		UserID:      userID,
		SessionJSON: payload,
		ExpiresAt:   s.now().Add(s.sessionTTL),
	}
	err = s.call(ctx, func(ctx context.Context) error {
		return s.repomanager.Ceremonies(s.db).Create(ctx, sess)
	})
	if err != nil {
		return "", fmt.Errorf("store ceremony session: %w", err)
	}
	return sess.ID, nil
}

// consumeSession removes the session whatever its state, so a challenge can
// never be answered twice. Missing, expired or wrong-kind sessions are
// common.ErrCeremony.
func (s *PasskeyService) consumeSession(ctx context.Context, id string, kind models.CeremonyKind) (*models.CeremonySession, *webauthn.SessionData, error) {
	var sess *models.CeremonySession
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		sess, err = s.repomanager.Ceremonies(s.db).Consume(ctx, id)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, nil, fmt.Errorf("%w: unknown session", common.ErrCeremony)
		}
		return nil, nil, err
	}
	if sess.Kind != kind {
		return nil, nil, fmt.Errorf("%w: session kind %s", common.ErrCeremony, sess.Kind)
	}
	if !s.now().Before(sess.ExpiresAt) {
		return nil, nil, fmt.Errorf("%w: session expired", common.ErrCeremony)
	}

	var data webauthn.SessionData
	if err := json.Unmarshal(sess.SessionJSON, &data); err != nil {
		return nil, nil, fmt.Errorf("decode session: %w", err)
	}
	return sess, &data, nil
}

// BeginRegistration starts adding a passkey for userID. Already registered
// credentials are excluded so an authenticator is not enrolled twice.
func (s *PasskeyService) BeginRegistration(ctx context.Context, userID string) (*RegistrationOptions, error) {
	pu, err := s.loadPasskeyUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	opts := []webauthn.RegistrationOption{
		webauthn.WithResidentKeyRequirement(protocol.ResidentKeyRequirementPreferred),
	}
	if len(pu.credentials) > 0 {
		opts = append(opts, webauthn.WithExclusions(webauthn.Credentials(pu.credentials).CredentialDescriptors()))
	}

	creation, data, err := s.webauthn.BeginRegistration(pu, opts...)
	if err != nil {
		return nil, fmt.Errorf("begin registration: %w", err)
	}

	id, err := s.storeSession(ctx, models.CeremonyRegistration, userID, data)
	if err != nil {
		return nil, err
	}
	return &RegistrationOptions{SessionID: id, Options: creation}, nil
}

// FinishRegistration verifies the attestation in body and stores the new
// credential. Only a structurally invalid body or a store failure is an
// error; a rejected ceremony is a result with Verified false.
func (s *PasskeyService) FinishRegistration(ctx context.Context, userID, sessionID string, body []byte) (*VerificationResult, error) {
	parsed, err := s.parser.ParseCredentialCreationResponseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidInput, err)
	}

	fail := func(reason error) (*VerificationResult, error) {
		s.metrics.Ceremony(string(models.CeremonyRegistration), "failed")
		s.logger.Warn(ctx, "passkey registration rejected", "user_id", userID, "reason", reason.Error())
		return &VerificationResult{Failure: common.ErrCeremony}, nil
	}

	sess, data, err := s.consumeSession(ctx, sessionID, models.CeremonyRegistration)
	if err != nil {
		if errors.Is(err, common.ErrCeremony) {
			return fail(err)
		}
		return nil, err
	}
	if sess.UserID != userID {
		return fail(errors.New("session bound to another user"))
	}

	pu, err := s.loadPasskeyUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	cred, err := s.webauthn.CreateCredential(pu, *data, parsed)
	if err != nil {
		return fail(err)
	}

	payload, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}
	err = s.call(ctx, func(ctx context.Context) error {
		return s.repomanager.Credentials(s.db).Create(ctx, &models.Credential{
			ID:             cred.ID,
			UserID:         userID,
			PublicKey:      cred.PublicKey,
			SignCount:      cred.Authenticator.SignCount,
			CredentialJSON: payload,
		})
	})
	if err != nil {
		if errors.Is(err, common.ErrorAlreadyExists) {
			return fail(err)
		}
		return nil, fmt.Errorf("store credential: %w", err)
	}

	s.metrics.Ceremony(string(models.CeremonyRegistration), "ok")
	s.logger.Info(ctx, "passkey registered", "user_id", userID)
	return &VerificationResult{Verified: true, CredentialID: cred.ID}, nil
}

// BeginLogin issues a login challenge. With a userID the allow-list is that
// user's credentials; without one it is a discoverable (usernameless) login.
func (s *PasskeyService) BeginLogin(ctx context.Context, userID string) (*LoginOptions, error) {
	var (
		assertion *protocol.CredentialAssertion
		data      *webauthn.SessionData
		err       error
	)

	if userID == "" {
		assertion, data, err = s.webauthn.BeginDiscoverableLogin()
		if err != nil {
			return nil, fmt.Errorf("begin login: %w", err)
		}
	} else {
		pu, lerr := s.loadPasskeyUser(ctx, userID)
		if lerr != nil {
			if errors.Is(lerr, common.ErrorNotFound) {
				return nil, fmt.Errorf("%w: no credentials", common.ErrCeremony)
			}
			return nil, fmt.Errorf("load user: %w", lerr)
		}
		if len(pu.credentials) == 0 {
			return nil, fmt.Errorf("%w: no credentials", common.ErrCeremony)
		}
		assertion, data, err = s.webauthn.BeginLogin(pu)
		if err != nil {
			return nil, fmt.Errorf("begin login: %w", err)
		}
	}

	id, err := s.storeSession(ctx, models.CeremonyLogin, userID, data)
	if err != nil {
		return nil, err
	}
	return &LoginOptions{SessionID: id, Options: assertion}, nil
}

// counterAdvances reports whether an asserted signature counter is
// acceptable against the stored one.
func (s *PasskeyService) counterAdvances(asserted, stored uint32) bool {
	if asserted > stored {
		return true
	}
	return s.allowCounterless && asserted == 0 && stored == 0
}

// FinishLogin verifies an assertion. The signature counter is compared with
// the stored one before the signature is checked, and persisted with a
// compare-and-set, so a replayed or cloned authenticator never gets a token.
func (s *PasskeyService) FinishLogin(ctx context.Context, sessionID string, body []byte) (*AuthenticationResult, error) {
	parsed, err := s.parser.ParseCredentialRequestResponseBytes(body)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidInput, err)
	}

	fail := func(reason error) (*AuthenticationResult, error) {
		s.metrics.Ceremony(string(models.CeremonyLogin), "failed")
		s.logger.Warn(ctx, "passkey login rejected", "reason", reason.Error())
		return &AuthenticationResult{Failure: common.ErrCeremony}, nil
	}
	clone := func(stored *models.Credential, asserted uint32) (*AuthenticationResult, error) {
		s.metrics.Ceremony(string(models.CeremonyLogin), "clone_suspected")
		s.metrics.CloneSuspected()
		s.logger.Warn(ctx, "signature counter did not increase",
			"event", "webauthn_clone_suspected",
			"user_id", stored.UserID,
			"stored_count", stored.SignCount,
			"asserted_count", asserted)
		return &AuthenticationResult{Failure: common.ErrCloneSuspected}, nil
	}

	sess, data, err := s.consumeSession(ctx, sessionID, models.CeremonyLogin)
	if err != nil {
		if errors.Is(err, common.ErrCeremony) {
			return fail(err)
		}
		return nil, err
	}

	var stored *models.Credential
	err = s.call(ctx, func(ctx context.Context) error {
		var err error
		stored, err = s.repomanager.Credentials(s.db).GetByID(ctx, parsed.RawID)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return fail(errors.New("unknown credential"))
		}
		return nil, fmt.Errorf("load credential: %w", err)
	}
	if sess.UserID != "" && sess.UserID != stored.UserID {
		return fail(errors.New("credential belongs to another user"))
	}

	asserted := parsed.Response.AuthenticatorData.Counter
	if !s.counterAdvances(asserted, stored.SignCount) {
		return clone(stored, asserted)
	}

	pu, err := s.loadPasskeyUser(ctx, stored.UserID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}

	var cred *webauthn.Credential
	if sess.UserID != "" {
		cred, err = s.webauthn.ValidateLogin(pu, *data, parsed)
	} else {
		handler := func(_, userHandle []byte) (webauthn.User, error) {
			if !bytes.Equal(userHandle, pu.WebAuthnID()) {
				return nil, errors.New("user handle does not match credential owner")
			}
			return pu, nil
		}
		_, cred, err = s.webauthn.ValidatePasskeyLogin(handler, *data, parsed)
	}
	if err != nil {
		return fail(err)
	}
	if pu.user.Status != models.StatusActive {
		return fail(fmt.Errorf("account is %s", pu.user.Status))
	}

	cred.Authenticator.SignCount = asserted
	payload, err := json.Marshal(cred)
	if err != nil {
		return nil, fmt.Errorf("encode credential: %w", err)
	}

	var pair *TokenPair
	err = s.tx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		ok, err := s.repomanager.Credentials(tx).UpdateSignCount(ctx, stored.ID, asserted, payload, asserted == 0)
		if err != nil {
			return err
		}
		if !ok {
			return common.ErrCloneSuspected
		}
		pair, err = s.tokens.issue(ctx, tx, pu.user)
		return err
	})
	if err != nil {
		if errors.Is(err, common.ErrCloneSuspected) {
			return clone(stored, asserted)
		}
		return nil, fmt.Errorf("finish login: %w", err)
	}

	s.metrics.Ceremony(string(models.CeremonyLogin), "ok")
	s.logger.Info(ctx, "passkey login", "user_id", pu.user.ID)
	return &AuthenticationResult{Verified: true, UserID: pu.user.ID, Tokens: pair}, nil
}

func (s *PasskeyService) ListCredentials(ctx context.Context, userID string) ([]models.Credential, error) {
	var creds []models.Credential
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		creds, err = s.repomanager.Credentials(s.db).ListByUser(ctx, userID)
		return err
	})
	return creds, err
}

func (s *PasskeyService) DeleteCredential(ctx context.Context, userID string, credentialID []byte) error {
	err := s.call(ctx, func(ctx context.Context) error {
		return s.repomanager.Credentials(s.db).Delete(ctx, userID, credentialID)
	})
	if err != nil {
		return err
	}
	s.logger.Info(ctx, "passkey deleted", "user_id", userID)
	return nil
}

// SweepExpired deletes ceremony sessions whose challenge was never answered
// before it expired.
func (s *PasskeyService) SweepExpired(ctx context.Context) (int64, error) {
	var n int64
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		n, err = s.repomanager.Ceremonies(s.db).DeleteExpired(ctx, s.now())
		return err
	})
	return n, err
}

// RunSweeper calls SweepExpired every interval until ctx is done.
func (s *PasskeyService) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.SweepExpired(ctx)
			if err != nil {
				if ctx.Err() == nil {
					s.logger.Warn(ctx, "ceremony sweep failed", "error", err)
				}
				continue
			}
			if n > 0 {
				s.logger.Info(ctx, "expired ceremony sessions swept", "count", n)
			}
		}
	}
}
