package services

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/cryptox"
	"github.com/dmitrijs2005/credkeeper/internal/server/auth"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

func TestRegister_EncryptsProfile(t *testing.T) {
	h := newHarness(t)
	s := NewUserService(h.deps)

	u, err := s.Register(context.Background(), RegisterInput{
		Email:      "  Ana@Example.COM ",
		Password:   "correct horse",
		NationalID: "12345678Z",
		Phone:      "+34 600 000 000",
	})
	require.NoError(t, err)
	assert.Equal(t, "ana@example.com", u.Email)
	assert.Equal(t, models.RoleUser, u.Role)
	assert.Equal(t, models.StatusActive, u.Status)

	stored := h.st.users[u.ID]
	assert.NotContains(t, stored.NationalID, "12345678Z")
	assert.Len(t, strings.Split(stored.NationalID, ":"), 3)
	assert.Empty(t, stored.Address)
	assert.NotEqual(t, "correct horse", stored.PasswordHash)
	assert.True(t, strings.HasPrefix(stored.PasswordHash, "$2"))
}

func TestRegister_Validation(t *testing.T) {
	h := newHarness(t)
	s := NewUserService(h.deps)

	cases := []struct {
		name string
		in   RegisterInput
	}{
		{"bad email", RegisterInput{Email: "not-an-email", Password: "longenough"}},
		{"empty email", RegisterInput{Email: "  ", Password: "longenough"}},
		{"short password", RegisterInput{Email: "a@b.co", Password: "short"}},
		{"long password", RegisterInput{Email: "a@b.co", Password: strings.Repeat("x", 73)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := s.Register(context.Background(), tc.in)
			assert.ErrorIs(t, err, common.ErrInvalidInput)
		})
	}
}

func TestRegister_Duplicate(t *testing.T) {
	h := newHarness(t)
	s := NewUserService(h.deps)
	in := RegisterInput{Email: "a@b.co", Password: "longenough"}

	_, err := s.Register(context.Background(), in)
	require.NoError(t, err)

	_, err = s.Register(context.Background(), in)
	assert.ErrorIs(t, err, common.ErrorAlreadyExists)
}

func TestRegister_StoreError(t *testing.T) {
	h := newHarness(t)
	h.st.usersErr = errBoom{}
	s := NewUserService(h.deps)

	_, err := s.Register(context.Background(), RegisterInput{Email: "a@b.co", Password: "longenough"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error creating user: boom")
}

func TestLogin(t *testing.T) {
	h := newHarness(t)
	s := NewUserService(h.deps)
	u := h.addUser(t, "a@b.co", "longenough")

	t.Run("ok", func(t *testing.T) {
		res, err := s.Login(context.Background(), "A@B.co", "longenough")
		require.NoError(t, err)
		require.NotNil(t, res.Tokens)
		assert.False(t, res.MFARequired)

		claims, err := auth.ParseToken(res.Tokens.AccessToken, []byte("k"), auth.PurposeAccess)
		require.NoError(t, err)
		assert.Equal(t, u.ID, claims.UserID)
		assert.Contains(t, h.st.refresh, res.Tokens.RefreshToken)
	})

	t.Run("wrong password", func(t *testing.T) {
		_, err := s.Login(context.Background(), "a@b.co", "wrongwrong")
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
	})

	t.Run("unknown email looks the same", func(t *testing.T) {
		_, err := s.Login(context.Background(), "nobody@b.co", "longenough")
		assert.ErrorIs(t, err, common.ErrorUnauthorized)
	})

	t.Run("suspended", func(t *testing.T) {
		h.st.users[u.ID].Status = models.StatusSuspended
		defer func() { h.st.users[u.ID].Status = models.StatusActive }()

		_, err := s.Login(context.Background(), "a@b.co", "longenough")
		assert.ErrorIs(t, err, common.ErrForbidden)
	})

	t.Run("mfa enabled", func(t *testing.T) {
		h.st.users[u.ID].MFAEnabled = true
		defer func() { h.st.users[u.ID].MFAEnabled = false }()

		res, err := s.Login(context.Background(), "a@b.co", "longenough")
		require.NoError(t, err)
		assert.True(t, res.MFARequired)
		assert.Nil(t, res.Tokens)

		claims, err := auth.ParseToken(res.MFAToken, []byte("k"), auth.PurposeMFA)
		require.NoError(t, err)
		assert.Equal(t, u.ID, claims.UserID)

		_, err = auth.ParseToken(res.MFAToken, []byte("k"), auth.PurposeAccess)
		assert.ErrorIs(t, err, common.ErrInvalidToken)
	})
}

func TestLogin_UnknownEmailWhenDummyHashFails(t *testing.T) {
	h := newHarness(t)
	s := NewUserService(h.deps)
	s.hasher = &cryptox.PasswordHasher{Cost: bcrypt.MaxCost + 1}

	_, err := s.Login(context.Background(), "ghost@b.co", "whatever")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)
	assert.Equal(t, fallbackDummyHash, s.dummyHash)

	cost, err := bcrypt.Cost([]byte(fallbackDummyHash))
	require.NoError(t, err)
	assert.Equal(t, cryptox.DefaultPasswordCost, cost)
	assert.ErrorIs(t, bcrypt.CompareHashAndPassword([]byte(fallbackDummyHash), []byte("whatever")), bcrypt.ErrMismatchedHashAndPassword)
}

func TestRefreshToken_Rotates(t *testing.T) {
	h := newHarness(t)
	s := NewUserService(h.deps)
	u := h.addUser(t, "a@b.co", "longenough")
	require.NoError(t, fakeRefresh{h.st}.Create(context.Background(), u.ID, "r1", time.Hour))

	h.expectTx(true)
	pair, err := s.RefreshToken(context.Background(), "r1")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.AccessToken)
	assert.NotContains(t, h.st.refresh, "r1")
	assert.Contains(t, h.st.refresh, pair.RefreshToken)

	h.expectTx(false)
	_, err = s.RefreshToken(context.Background(), "r1")
	assert.ErrorIs(t, err, common.ErrInvalidToken)

	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestRefreshToken_Expired(t *testing.T) {
	h := newHarness(t)
	s := NewUserService(h.deps)
	u := h.addUser(t, "a@b.co", "longenough")
	require.NoError(t, fakeRefresh{h.st}.Create(context.Background(), u.ID, "r1", -time.Minute))

	h.expectTx(false)
	_, err := s.RefreshToken(context.Background(), "r1")
	assert.ErrorIs(t, err, common.ErrRefreshTokenExpired)
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestChangePassword(t *testing.T) {
	h := newHarness(t)
	s := NewUserService(h.deps)
	u := h.addUser(t, "a@b.co", "longenough")
	require.NoError(t, fakeRefresh{h.st}.Create(context.Background(), u.ID, "r1", time.Hour))

	err := s.ChangePassword(context.Background(), u.ID, "wrongwrong", "newpassword")
	assert.ErrorIs(t, err, common.ErrorUnauthorized)

	err = s.ChangePassword(context.Background(), u.ID, "longenough", "short")
	assert.ErrorIs(t, err, common.ErrInvalidInput)

	h.expectTx(true)
	require.NoError(t, s.ChangePassword(context.Background(), u.ID, "longenough", "newpassword"))
	assert.Empty(t, h.st.refresh)
	assert.True(t, h.deps.Hasher.Verify("newpassword", h.st.users[u.ID].PasswordHash))
	require.NoError(t, h.mock.ExpectationsWereMet())
}

func TestProfile(t *testing.T) {
	h := newHarness(t)
	s := NewUserService(h.deps)

	u, err := s.Register(context.Background(), RegisterInput{
		Email: "a@b.co", Password: "longenough",
		NationalID: "X1", BirthDate: "1990-01-01", Phone: "600", Address: "Calle 1",
	})
	require.NoError(t, err)

	p, err := s.Profile(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, "X1", p.NationalID)
	assert.Equal(t, "1990-01-01", p.BirthDate)
	assert.Equal(t, "600", p.Phone)
	assert.Equal(t, "Calle 1", p.Address)
}

func TestProfile_TamperedField(t *testing.T) {
	h := newHarness(t)
	s := NewUserService(h.deps)

	u, err := s.Register(context.Background(), RegisterInput{Email: "a@b.co", Password: "longenough", Phone: "600"})
	require.NoError(t, err)

	h.st.users[u.ID].Phone = flipCiphertext(h.st.users[u.ID].Phone)

	_, err = s.Profile(context.Background(), u.ID)
	if !errors.Is(err, common.ErrDecryptionFailed) {
		t.Fatalf("want ErrDecryptionFailed, got %v", err)
	}
	assert.Contains(t, scrape(t, h.metrics), "field_decrypt_failures_total 1")
}

func TestProfile_NotFound(t *testing.T) {
	h := newHarness(t)
	s := NewUserService(h.deps)

	_, err := s.Profile(context.Background(), "missing")
	assert.ErrorIs(t, err, common.ErrorNotFound)
}
