// Package common defines shared constants and sentinel errors used across
// the server, the rate limiter and the crypto layer. Callers should use
// errors.Is to match these values.
package common

import (
	"errors"
	"fmt"
)

var (
	// Repository-level errors.
	ErrorNotFound      = errors.New("not found")
	ErrorAlreadyExists = errors.New("already exists")

	// Service-level errors (generic/internal flow control).
	ErrorInternal     = errors.New("internal error")
	ErrorUnauthorized = errors.New("unauthorized")
	ErrForbidden      = errors.New("forbidden")
	ErrInvalidInput   = errors.New("invalid input")

	// Auth errors (invalid or malformed token).
	ErrInvalidToken = errors.New("invalid token")

	// Token lifecycle errors.
	ErrTokenExpired        = errors.New("token expired")
	ErrRefreshTokenExpired = errors.New("refresh token expired")

	// ErrConfiguration marks missing or unusable key material and settings.
	// It is fatal: nothing falls back to a default key.
	ErrConfiguration = errors.New("configuration error")

	// ErrDecryptionFailed is the only decryption failure callers need to
	// check. The narrower forms below wrap it and are meant for logs.
	ErrDecryptionFailed = errors.New("decryption failed")
	ErrMalformedField   = fmt.Errorf("%w: malformed field", ErrDecryptionFailed)
	ErrAuthentication   = fmt.Errorf("%w: authentication failed", ErrDecryptionFailed)

	// WebAuthn ceremony errors.
	ErrCeremony       = errors.New("ceremony verification failed")
	ErrCloneSuspected = errors.New("signature counter did not increase")

	ErrRateLimited = errors.New("rate limit exceeded")

	// ErrTimeout is returned when a store call does not finish in time.
	ErrTimeout = errors.New("store timeout")
)
