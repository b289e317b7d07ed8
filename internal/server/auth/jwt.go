// Package auth issues and parses JWTs and turns them into Sessions.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/credkeeper/internal/common"
	"github.com/dmitrijs2005/credkeeper/internal/server/models"
	"github.com/golang-jwt/jwt/v5"
)

// Token purposes. An MFA token only proves the password step and cannot be
// used as an access token.
const (
	PurposeAccess = "access"
	PurposeMFA    = "mfa"
)

// Claims carries the standard claims plus the identity fields a Session is
// built from.
type Claims struct {
	jwt.RegisteredClaims
	UserID  string        `json:"uid"`
	Role    models.Role   `json:"role,omitempty"`
	Status  models.Status `json:"status,omitempty"`
	Purpose string        `json:"purpose"`
}

// GenerateToken signs an access token for u.
func GenerateToken(u *models.User, secretKey []byte, validityDuration time.Duration) (string, error) {
	return sign(Claims{UserID: u.ID, Role: u.Role, Status: u.Status, Purpose: PurposeAccess}, secretKey, validityDuration)
}

// GenerateMFAToken signs the short-lived token handed out between the
// password step and the second factor.
func GenerateMFAToken(userID string, secretKey []byte, validityDuration time.Duration) (string, error) {
	return sign(Claims{UserID: userID, Purpose: PurposeMFA}, secretKey, validityDuration)
}

func sign(c Claims, secretKey []byte, validity time.Duration) (string, error) {
	now := time.Now()
	c.RegisteredClaims = jwt.RegisteredClaims{
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(validity)),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, c)

	tokenString, err := token.SignedString(secretKey)
	if err != nil {
		return "", err
	}
	return tokenString, nil
}

// ParseToken validates tokenString and checks that it was issued for
// purpose. Expiry maps to common.ErrTokenExpired; everything else to
// common.ErrInvalidToken.
func ParseToken(tokenString string, secretKey []byte, purpose string) (*Claims, error) {
	claims := &Claims{}

	token, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return secretKey, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, common.ErrTokenExpired
		}
		return nil, fmt.Errorf("%w: %w", common.ErrInvalidToken, err)
	}

	if !token.Valid || claims.UserID == "" {
		return nil, common.ErrInvalidToken
	}
	if claims.Purpose != purpose {
		return nil, fmt.Errorf("%w: wrong purpose %q", common.ErrInvalidToken, claims.Purpose)
	}

	return claims, nil
}
