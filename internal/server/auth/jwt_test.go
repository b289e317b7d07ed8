package auth

import (
	"testing"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testUser = &models.User{ID: "user-123", Role: models.RoleVendor, Status: models.StatusActive}

func TestGenerateAndParse_Success(t *testing.T) {
	t.Parallel()
	secret := []byte("super-secret")

	tok, err := GenerateToken(testUser, secret, time.Hour)
	require.NoError(t, err)

	c, err := ParseToken(tok, secret, PurposeAccess)
	require.NoError(t, err)
	assert.Equal(t, "user-123", c.UserID)
	assert.Equal(t, models.RoleVendor, c.Role)
	assert.Equal(t, models.StatusActive, c.Status)
}

func TestParseToken_Expired(t *testing.T) {
	t.Parallel()
	secret := []byte("secret")

	tok, err := GenerateToken(testUser, secret, -1*time.Second)
	require.NoError(t, err)

	_, err = ParseToken(tok, secret, PurposeAccess)
	require.ErrorIs(t, err, common.ErrTokenExpired)
}

func TestParseToken_WrongSecret(t *testing.T) {
	t.Parallel()
	tok, err := GenerateToken(testUser, []byte("right-secret"), time.Hour)
	require.NoError(t, err)

	_, err = ParseToken(tok, []byte("wrong-secret"), PurposeAccess)
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestParseToken_Malformed(t *testing.T) {
	t.Parallel()
	_, err := ParseToken("not.a.jwt", []byte("k"), PurposeAccess)
	require.ErrorIs(t, err, common.ErrInvalidToken)
}

func TestParseToken_MFATokenIsNotAccess(t *testing.T) {
	t.Parallel()
	secret := []byte("k")

	tok, err := GenerateMFAToken("u1", secret, time.Minute)
	require.NoError(t, err)

	_, err = ParseToken(tok, secret, PurposeAccess)
	require.ErrorIs(t, err, common.ErrInvalidToken)

	c, err := ParseToken(tok, secret, PurposeMFA)
	require.NoError(t, err)
	assert.Equal(t, "u1", c.UserID)
}

func TestParseToken_RejectsNoneAlg(t *testing.T) {
	t.Parallel()
	tok := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{UserID: "u1", Purpose: PurposeAccess,
		RegisteredClaims: jwt.RegisteredClaims{ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour))}})
	s, err := tok.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	_, err = ParseToken(s, []byte("k"), PurposeAccess)
	require.ErrorIs(t, err, common.ErrInvalidToken)
}
