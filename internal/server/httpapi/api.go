// Package httpapi is the JSON HTTP surface of the server.
package httpapi

import (
	"context"
	"database/sql"
	"net/http"
	"net/netip"

	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/ratelimit"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/obs"
	"github.com/dmitrijs2005/credkeeper/internal/server/services"
)

type UserService interface {
	Register(ctx context.Context, in services.RegisterInput) (*models.User, error)
	Login(ctx context.Context, email, password string) (*services.LoginResult, error)
	RefreshToken(ctx context.Context, refreshToken string) (*services.TokenPair, error)
	ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error
	Profile(ctx context.Context, userID string) (*services.Profile, error)
}

type PasskeyService interface {
	BeginRegistration(ctx context.Context, userID string) (*services.RegistrationOptions, error)
	FinishRegistration(ctx context.Context, userID, sessionID string, body []byte) (*services.VerificationResult, error)
	BeginLogin(ctx context.Context, userID string) (*services.LoginOptions, error)
	FinishLogin(ctx context.Context, sessionID string, body []byte) (*services.AuthenticationResult, error)
	ListCredentials(ctx context.Context, userID string) ([]models.Credential, error)
	DeleteCredential(ctx context.Context, userID string, credentialID []byte) error
}

type MFAService interface {
	Setup(ctx context.Context, userID string) (*services.MFASetup, error)
	Enable(ctx context.Context, userID, code string) error
	Verify(ctx context.Context, mfaToken, code string) (*services.TokenPair, ratelimit.Decision, error)
	Resend(ctx context.Context, email string) (ratelimit.Decision, error)
}

type PasswordResetService interface {
	Forgot(ctx context.Context, email string) (ratelimit.Decision, error)
	Reset(ctx context.Context, token, newPassword string) error
}

type OAuthService interface {
	Link(ctx context.Context, userID string, in services.LinkOAuthInput) error
	List(ctx context.Context, userID string) ([]services.LinkedAccount, error)
	Revoke(ctx context.Context, userID, provider string) error
}

// Options holds the HTTP-level settings.
type Options struct {
	RequestsPerSecond float64
	Burst             int
	MaxBodyBytes      int64
	AllowedOrigins    []string
	// TrustedProxies are the peers whose forwarding headers are believed
	// when keying rate limits.
	TrustedProxies []netip.Prefix
}

// API wires handlers to the services.
type API struct {
	mux       *http.ServeMux
	users     UserService
	passkeys  PasskeyService
	mfa       MFAService
	resets    PasswordResetService
	oauth     OAuthService
	limiter   *ratelimit.Limiter
	metrics   *obs.Metrics
	logger    logging.Logger
	jwtSecret []byte
	db        *sql.DB
	opts      Options
}

type Deps struct {
	Users     UserService
	Passkeys  PasskeyService
	MFA       MFAService
	Resets    PasswordResetService
	OAuth     OAuthService
	Limiter   *ratelimit.Limiter
	Metrics   *obs.Metrics
	Logger    logging.Logger
	JWTSecret string
	// DB is pinged by /readyz; nil means always ready.
	DB *sql.DB
}

func New(d Deps, opts Options) *API {
	a := &API{
		mux:       http.NewServeMux(),
		users:     d.Users,
		passkeys:  d.Passkeys,
		mfa:       d.MFA,
		resets:    d.Resets,
		oauth:     d.OAuth,
		limiter:   d.Limiter,
		metrics:   d.Metrics,
		logger:    d.Logger.With("module", "http_api"),
		jwtSecret: []byte(d.JWTSecret),
		db:        d.DB,
		opts:      opts,
	}
	a.routes()
	return a
}

func (a *API) routes() {
	a.mux.HandleFunc("GET /healthz", a.healthz)
	a.mux.HandleFunc("GET /readyz", a.readyz)
	if a.metrics != nil {
		a.mux.Handle("GET /metrics", a.metrics.Handler())
	}

	a.mux.HandleFunc("POST /api/auth/register", a.handleRegister)
	a.mux.HandleFunc("POST /api/auth/login", a.handleLogin)
	a.mux.HandleFunc("POST /api/auth/refresh", a.handleRefresh)
	a.mux.HandleFunc("POST /api/auth/password/change", a.requireUser(a.handleChangePassword))
	a.mux.HandleFunc("POST /api/auth/password/forgot", a.handleForgotPassword)
	a.mux.HandleFunc("POST /api/auth/password/reset", a.handleResetPassword)
	a.mux.HandleFunc("GET /api/me", a.requireUser(a.handleMe))

	a.mux.HandleFunc("POST /api/auth/biometric/register/options", a.requireUser(a.handlePasskeyRegisterOptions))
	a.mux.HandleFunc("POST /api/auth/biometric/register", a.requireUser(a.handlePasskeyRegister))
	a.mux.HandleFunc("POST /api/auth/biometric/challenge", a.handlePasskeyChallenge)
	a.mux.HandleFunc("POST /api/auth/biometric/verify", a.handlePasskeyVerify)
	a.mux.HandleFunc("GET /api/auth/biometric/credentials", a.requireUser(a.handlePasskeyList))
	a.mux.HandleFunc("DELETE /api/auth/biometric/credentials/{id}", a.requireUser(a.handlePasskeyDelete))

	a.mux.HandleFunc("POST /api/auth/mfa/setup", a.requireUser(a.handleMFASetup))
	a.mux.HandleFunc("POST /api/auth/mfa/enable", a.requireUser(a.handleMFAEnable))
	a.mux.HandleFunc("POST /api/auth/mfa/verify", a.handleMFAVerify)
	a.mux.HandleFunc("POST /api/auth/mfa/resend", a.handleMFAResend)

	a.mux.HandleFunc("POST /api/oauth/accounts", a.requireUser(a.handleOAuthLink))
	a.mux.HandleFunc("GET /api/oauth/accounts", a.requireUser(a.handleOAuthList))
	a.mux.HandleFunc("DELETE /api/oauth/accounts/{provider}", a.requireUser(a.handleOAuthRevoke))

	a.mux.HandleFunc("DELETE /api/admin/ratelimits", a.requireUser(a.handleAdminResetRateLimit, models.RoleAdmin))
}

// Handler returns the mux wrapped in the middleware chain, outermost first:
// request ID, access log, security headers, CORS, per-IP rate limit, body
// limit, session.
func (a *API) Handler() http.Handler {
	var h http.Handler = a.mux
	if a.metrics != nil {
		h = a.metrics.Instrument(h)
	}
	h = a.withSession(h)
	h = maxBodyBytes(h, a.opts.MaxBodyBytes)
	h = newIPRateLimiter(a.opts.RequestsPerSecond, a.opts.Burst, a.opts.TrustedProxies).middleware(h)
	h = cors(h, a.opts.AllowedOrigins)
	h = securityHeaders(h)
	h = a.accessLog(h)
	return requestID(h)
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (a *API) readyz(w http.ResponseWriter, r *http.Request) {
	if a.db != nil {
		if err := a.db.PingContext(r.Context()); err != nil {
			a.logger.Error(r.Context(), "readiness check failed", "error", err)
			writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
			return
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
