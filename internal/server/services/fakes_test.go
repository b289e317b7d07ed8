package services

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/cryptox"
	"github.com/dmitrijs2005/credkeeper/internal/dbx"
	"github.com/dmitrijs2005/credkeeper/internal/logging"
	"github.com/dmitrijs2005/credkeeper/internal/ratelimit"
	"github.com/dmitrijs2005/credkeeper/internal/server/config"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/dmitrijs2005/credkeeper/internal/server/obs"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/ceremonies"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/credentials"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/mfa"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/oauthaccounts"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/passwordresets"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/refreshtokens"
	"github.com/dmitrijs2005/credkeeper/internal/server/repositories/users"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

// memStore backs every fake repository. Transactions are not simulated:
// sqlmock only checks that Begin and Commit/Rollback happen.
type memStore struct {
	mu sync.Mutex

	users    map[string]*models.User
	refresh  map[string]*models.RefreshToken
	creds    map[string]*models.Credential
	sessions map[string]*models.CeremonySession
	secrets  map[string]*models.MFASecret
	codes    map[string]map[string]bool
	resets   map[string]*models.PasswordReset
	oauth    map[string]*models.OAuthAccount

	seq      int
	usersErr error
	credsErr error
}

func newMemStore() *memStore {
	return &memStore{
		users:    map[string]*models.User{},
		refresh:  map[string]*models.RefreshToken{},
		creds:    map[string]*models.Credential{},
		sessions: map[string]*models.CeremonySession{},
		secrets:  map[string]*models.MFASecret{},
		codes:    map[string]map[string]bool{},
		resets:   map[string]*models.PasswordReset{},
		oauth:    map[string]*models.OAuthAccount{},
	}
}

// --- users ---

type fakeUsers struct{ *memStore }

func (f fakeUsers) Create(_ context.Context, u *models.User) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	for _, existing := range f.users {
		if existing.Email == u.Email {
			return nil, common.ErrorAlreadyExists
		}
	}
	f.seq++
	c := *u
	c.ID = fmt.Sprintf("u%d", f.seq)
	c.CreatedAt = time.Now()
	f.users[c.ID] = &c
	out := c
	return &out, nil
}

func (f fakeUsers) GetByEmail(_ context.Context, email string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	for _, u := range f.users {
		if u.Email == email {
			c := *u
			return &c, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (f fakeUsers) GetByID(_ context.Context, id string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.usersErr != nil {
		return nil, f.usersErr
	}
	u, ok := f.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	c := *u
	return &c, nil
}

func (f fakeUsers) UpdatePassword(_ context.Context, id, hash string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.PasswordHash = hash
	return nil
}

func (f fakeUsers) SetMFAEnabled(_ context.Context, id string, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	u, ok := f.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	u.MFAEnabled = enabled
	return nil
}

// --- refresh tokens ---

type fakeRefresh struct{ *memStore }

func (f fakeRefresh) Create(_ context.Context, userID, token string, validity time.Duration) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.refresh[token] = &models.RefreshToken{UserID: userID, ExpiresAt: time.Now().Add(validity)}
	return nil
}

func (f fakeRefresh) Consume(_ context.Context, token string) (*models.RefreshToken, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	rt, ok := f.refresh[token]
	if !ok {
		return nil, common.ErrorNotFound
	}
	delete(f.refresh, token)
	return rt, nil
}

func (f fakeRefresh) DeleteForUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for k, rt := range f.refresh {
		if rt.UserID == userID {
			delete(f.refresh, k)
		}
	}
	return nil
}

// --- credentials ---

type fakeCreds struct{ *memStore }

func (f fakeCreds) Create(_ context.Context, c *models.Credential) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.credsErr != nil {
		return f.credsErr
	}
	if _, ok := f.creds[string(c.ID)]; ok {
		return common.ErrorAlreadyExists
	}
	cp := *c
	cp.CreatedAt = time.Now()
	f.creds[string(c.ID)] = &cp
	return nil
}

func (f fakeCreds) GetByID(_ context.Context, id []byte) (*models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[string(id)]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *c
	return &cp, nil
}

func (f fakeCreds) ListByUser(_ context.Context, userID string) ([]models.Credential, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Credential
	for _, c := range f.creds {
		if c.UserID == userID {
			out = append(out, *c)
		}
	}
	return out, nil
}

func (f fakeCreds) UpdateSignCount(_ context.Context, id []byte, count uint32, js []byte, allowEqual bool) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[string(id)]
	if !ok {
		return false, nil
	}
	if !(c.SignCount < count || (allowEqual && c.SignCount == count)) {
		return false, nil
	}
	c.SignCount = count
	c.CredentialJSON = bytes.Clone(js)
	now := time.Now()
	c.LastUsedAt = &now
	return true, nil
}

func (f fakeCreds) Delete(_ context.Context, userID string, id []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.creds[string(id)]
	if !ok || c.UserID != userID {
		return common.ErrorNotFound
	}
	delete(f.creds, string(id))
	return nil
}

// --- ceremonies ---

type fakeCeremonies struct{ *memStore }

func (f fakeCeremonies) Create(_ context.Context, s *models.CeremonySession) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *s
	f.sessions[s.ID] = &cp
	return nil
}

func (f fakeCeremonies) Consume(_ context.Context, id string) (*models.CeremonySession, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.sessions[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	delete(f.sessions, id)
	return s, nil
}

func (f fakeCeremonies) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var n int64
	for id, s := range f.sessions {
		if !now.Before(s.ExpiresAt) {
			delete(f.sessions, id)
			n++
		}
	}
	return n, nil
}

// --- mfa ---

type fakeMFA struct{ *memStore }

func (f fakeMFA) UpsertSecret(_ context.Context, userID, enc string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.secrets[userID] = &models.MFASecret{UserID: userID, EncryptedSecret: enc}
	return nil
}

func (f fakeMFA) GetSecret(_ context.Context, userID string) (*models.MFASecret, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.secrets[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *s
	return &cp, nil
}

func (f fakeMFA) Enable(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.secrets[userID]
	if !ok {
		return common.ErrorNotFound
	}
	s.Enabled = true
	return nil
}

func (f fakeMFA) AdvanceStep(_ context.Context, userID string, step int64) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	s, ok := f.secrets[userID]
	if !ok || s.LastUsedStep >= step {
		return false, nil
	}
	s.LastUsedStep = step
	return true, nil
}

func (f fakeMFA) Delete(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.codes, userID)
	if _, ok := f.secrets[userID]; !ok {
		return common.ErrorNotFound
	}
	delete(f.secrets, userID)
	return nil
}

func (f fakeMFA) ReplaceBackupCodes(_ context.Context, userID string, hashes []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	m := map[string]bool{}
	for _, h := range hashes {
		m[h] = false
	}
	f.codes[userID] = m
	return nil
}

func (f fakeMFA) ConsumeBackupCode(_ context.Context, userID, hash string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	used, ok := f.codes[userID][hash]
	if !ok || used {
		return false, nil
	}
	f.codes[userID][hash] = true
	return true, nil
}

// --- password resets ---

type fakeResets struct{ *memStore }

func (f fakeResets) Create(_ context.Context, pr *models.PasswordReset) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *pr
	f.resets[pr.ID] = &cp
	return nil
}

func (f fakeResets) Get(_ context.Context, id string) (*models.PasswordReset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.resets[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *pr
	return &cp, nil
}

func (f fakeResets) MarkUsed(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	pr, ok := f.resets[id]
	if !ok || pr.UsedAt != nil {
		return common.ErrorNotFound
	}
	now := time.Now()
	pr.UsedAt = &now
	return nil
}

func (f fakeResets) DeleteForUser(_ context.Context, userID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, pr := range f.resets {
		if pr.UserID == userID {
			delete(f.resets, id)
		}
	}
	return nil
}

// --- oauth ---

type fakeOAuth struct{ *memStore }

func (f fakeOAuth) Upsert(_ context.Context, a *models.OAuthAccount) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	cp := *a
	cp.UpdatedAt = time.Now()
	f.oauth[a.UserID+"|"+a.Provider] = &cp
	return nil
}

func (f fakeOAuth) Get(_ context.Context, userID, provider string) (*models.OAuthAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.oauth[userID+"|"+provider]
	if !ok {
		return nil, common.ErrorNotFound
	}
	cp := *a
	return &cp, nil
}

func (f fakeOAuth) ListByUser(_ context.Context, userID string) ([]models.OAuthAccount, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.OAuthAccount
	for _, a := range f.oauth {
		if a.UserID == userID {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (f fakeOAuth) Delete(_ context.Context, userID, provider string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	k := userID + "|" + provider
	if _, ok := f.oauth[k]; !ok {
		return common.ErrorNotFound
	}
	delete(f.oauth, k)
	return nil
}

// --- manager ---

type fakeRepoManager struct {
	st *memStore
	rl ratelimit.Store
}

func (m *fakeRepoManager) RunMigrations(context.Context, *sql.DB) error      { return nil }
func (m *fakeRepoManager) Users(dbx.DBTX) users.Repository                   { return fakeUsers{m.st} }
func (m *fakeRepoManager) RefreshTokens(dbx.DBTX) refreshtokens.Repository   { return fakeRefresh{m.st} }
func (m *fakeRepoManager) Credentials(dbx.DBTX) credentials.Repository       { return fakeCreds{m.st} }
func (m *fakeRepoManager) Ceremonies(dbx.DBTX) ceremonies.Repository         { return fakeCeremonies{m.st} }
func (m *fakeRepoManager) RateLimits(dbx.DBTX) ratelimit.Store               { return m.rl }
func (m *fakeRepoManager) MFA(dbx.DBTX) mfa.Repository                       { return fakeMFA{m.st} }
func (m *fakeRepoManager) OAuthAccounts(dbx.DBTX) oauthaccounts.Repository   { return fakeOAuth{m.st} }
func (m *fakeRepoManager) PasswordResets(dbx.DBTX) passwordresets.Repository { return fakeResets{m.st} }

// --- notifier ---

type recordingNotifier struct {
	mu     sync.Mutex
	codes  map[string][]string
	resets map[string][]string
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{codes: map[string][]string{}, resets: map[string][]string{}}
}

func (n *recordingNotifier) SendMFACode(_ context.Context, email, code string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.codes[email] = append(n.codes[email], code)
	return nil
}

func (n *recordingNotifier) SendPasswordReset(_ context.Context, email, token string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resets[email] = append(n.resets[email], token)
	return nil
}

// --- harness ---

type harness struct {
	deps     Deps
	st       *memStore
	mock     sqlmock.Sqlmock
	notifier *recordingNotifier
	metrics  *obs.Metrics
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	cipher, err := cryptox.NewFieldCipher(bytes.Repeat([]byte("A"), cryptox.KeySize))
	require.NoError(t, err)

	cfg := &config.Config{}
	cfg.LoadDefaults()
	cfg.SecretKey = "k"
	cfg.StoreTimeout = time.Second
	cfg.BcryptCost = bcrypt.MinCost

	st := newMemStore()
	rl := ratelimit.NewMemoryStore()
	n := newRecordingNotifier()
	m := obs.NewMetrics()

	return &harness{
		deps: Deps{
			DB:       db,
			Repos:    &fakeRepoManager{st: st, rl: rl},
			Config:   cfg,
			Cipher:   cipher,
			Hasher:   cryptox.NewPasswordHasher(bcrypt.MinCost),
			Limiter:  ratelimit.New(rl, nil),
			Notifier: n,
			Logger:   logging.Nop(),
			Metrics:  m,
		},
		st:       st,
		mock:     mock,
		notifier: n,
		metrics:  m,
	}
}

func (h *harness) expectTx(commit bool) {
	h.mock.ExpectBegin()
	if commit {
		h.mock.ExpectCommit()
	} else {
		h.mock.ExpectRollback()
	}
}

// addUser stores an active user with the given password.
func (h *harness) addUser(t *testing.T, email, password string) *models.User {
	t.Helper()
	hash, err := h.deps.Hasher.Hash(password)
	require.NoError(t, err)
	u, err := fakeUsers{h.st}.Create(context.Background(), &models.User{
		Email: email, PasswordHash: hash, Role: models.RoleUser, Status: models.StatusActive,
	})
	require.NoError(t, err)
	return u
}

// flipCiphertext changes the first ciphertext nibble of a serialized field.
func flipCiphertext(field string) string {
	parts := strings.Split(field, ":")
	first := "0"
	if parts[2][0] == '0' {
		first = "1"
	}
	parts[2] = first + parts[2][1:]
	return strings.Join(parts, ":")
}

func scrape(t *testing.T, m *obs.Metrics) string {
	t.Helper()
	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Body.String()
}
