package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/ratelimit"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/obs"
	"github.com/dmitrijs2005/credkeeper/internal/server/services"
)

const testSecret = "test-secret"

type fakeUsers struct {
	loginRes   *services.LoginResult
	loginErr   error
	refreshErr error
	profile    *services.Profile
	profileErr error
	registered []services.RegisterInput
}

func (f *fakeUsers) Register(_ context.Context, in services.RegisterInput) (*models.User, error) {
	f.registered = append(f.registered, in)
	return &models.User{ID: "u-new", Email: in.Email}, nil
}

func (f *fakeUsers) Login(context.Context, string, string) (*services.LoginResult, error) {
	return f.loginRes, f.loginErr
}

func (f *fakeUsers) RefreshToken(context.Context, string) (*services.TokenPair, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &services.TokenPair{AccessToken: "a2", RefreshToken: "r2"}, nil
}

func (f *fakeUsers) ChangePassword(context.Context, string, string, string) error { return nil }

func (f *fakeUsers) Profile(context.Context, string) (*services.Profile, error) {
	return f.profile, f.profileErr
}

type fakePasskeys struct {
	finishLogin  *services.AuthenticationResult
	deletedID    []byte
	beginLoginID *string
}

func (f *fakePasskeys) BeginRegistration(context.Context, string) (*services.RegistrationOptions, error) {
	return &services.RegistrationOptions{SessionID: "reg-1"}, nil
}

func (f *fakePasskeys) FinishRegistration(context.Context, string, string, []byte) (*services.VerificationResult, error) {
	return &services.VerificationResult{Verified: true, CredentialID: []byte{0xfb, 0xff}}, nil
}

func (f *fakePasskeys) BeginLogin(_ context.Context, userID string) (*services.LoginOptions, error) {
	f.beginLoginID = &userID
	return &services.LoginOptions{SessionID: "login-1"}, nil
}

func (f *fakePasskeys) FinishLogin(context.Context, string, []byte) (*services.AuthenticationResult, error) {
	return f.finishLogin, nil
}

func (f *fakePasskeys) ListCredentials(context.Context, string) ([]models.Credential, error) {
	return []models.Credential{{ID: []byte("c1"), SignCount: 7}}, nil
}

func (f *fakePasskeys) DeleteCredential(_ context.Context, _ string, id []byte) error {
	f.deletedID = id
	return nil
}

type fakeMFA struct {
	resendDecision ratelimit.Decision
	resendErr      error
	verifyDecision ratelimit.Decision
	verifyErr      error
}

func (f *fakeMFA) Setup(context.Context, string) (*services.MFASetup, error) {
	return &services.MFASetup{Secret: "S", OTPAuthURL: "otpauth://totp/x", QRCodePNG: []byte{0x89, 'P'}, BackupCodes: []string{"aaaa-bbbb"}}, nil
}

func (f *fakeMFA) Enable(context.Context, string, string) error { return nil }

func (f *fakeMFA) Verify(context.Context, string, string) (*services.TokenPair, ratelimit.Decision, error) {
	if f.verifyErr != nil {
		return nil, f.verifyDecision, f.verifyErr
	}
	return &services.TokenPair{AccessToken: "a", RefreshToken: "r"}, f.verifyDecision, nil
}

func (f *fakeMFA) Resend(context.Context, string) (ratelimit.Decision, error) {
	return f.resendDecision, f.resendErr
}

type fakeResets struct {
	decision ratelimit.Decision
	err      error
}

func (f *fakeResets) Forgot(context.Context, string) (ratelimit.Decision, error) {
	return f.decision, f.err
}

func (f *fakeResets) Reset(context.Context, string, string) error { return nil }

type fakeOAuth struct {
	revoked string
}

func (f *fakeOAuth) Link(context.Context, string, services.LinkOAuthInput) error { return nil }

func (f *fakeOAuth) List(context.Context, string) ([]services.LinkedAccount, error) {
	return []services.LinkedAccount{{Provider: "google", ProviderAccountID: "g-1"}}, nil
}

func (f *fakeOAuth) Revoke(_ context.Context, _ string, provider string) error {
	f.revoked = provider
	return nil
}

type testAPI struct {
	api      *API
	handler  http.Handler
	users    *fakeUsers
	passkeys *fakePasskeys
	mfa      *fakeMFA
	resets   *fakeResets
	oauth    *fakeOAuth
	limiter  *ratelimit.Limiter
	metrics  *obs.Metrics
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	ta := &testAPI{
		users:    &fakeUsers{},
		passkeys: &fakePasskeys{},
		mfa:      &fakeMFA{},
		resets:   &fakeResets{},
		oauth:    &fakeOAuth{},
		limiter:  ratelimit.New(ratelimit.NewMemoryStore(), nil),
		metrics:  obs.NewMetrics(),
	}
	ta.api = New(Deps{
		Users:     ta.users,
		Passkeys:  ta.passkeys,
		MFA:       ta.mfa,
		Resets:    ta.resets,
		OAuth:     ta.oauth,
		Limiter:   ta.limiter,
		Metrics:   ta.metrics,
		Logger:    logging.Nop(),
		JWTSecret: testSecret,
	}, Options{RequestsPerSecond: 1000, Burst: 1000, MaxBodyBytes: 1 << 10, AllowedOrigins: []string{"http://localhost:3000"}})
	ta.handler = ta.api.Handler()
	return ta
}

func (ta *testAPI) do(t *testing.T, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	return ta.doFrom(t, "", method, path, body, headers)
}

// doFrom sends the request from remoteAddr; empty keeps the httptest
// default of 192.0.2.1:1234.
func (ta *testAPI) doFrom(t *testing.T, remoteAddr, method, path string, body any, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		if payload, err = json.Marshal(b); err != nil {
			t.Fatalf("marshal body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if remoteAddr != "" {
		req.RemoteAddr = remoteAddr
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	ta.handler.ServeHTTP(rec, req)
	return rec
}

func bearerFor(t *testing.T, role models.Role, st models.Status) map[string]string {
	t.Helper()
	tok, err := auth.GenerateToken(&models.User{ID: "u-1", Role: role, Status: st}, []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return map[string]string{"Authorization": "Bearer " + tok}
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode body %q: %v", rec.Body.String(), err)
	}
	return out
}
