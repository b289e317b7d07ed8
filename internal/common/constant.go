// Package common contains shared constants and sentinel errors used across
// credkeeper components.
package common

// AccessTokenHeaderName is the gRPC metadata key used to carry the
// access token on inbound requests.
const AccessTokenHeaderName = "access_token"

// Rate limit purposes. The identifier is an email address for the
// account-scoped purposes, a user ID for MFA verification and a client IP
// for the rest.
const (
	PurposeMFAResend     = "totp"
	PurposeMFAVerify     = "mfa_verify"
	PurposePasswordReset = "password_reset"
	PurposeLogin         = "login"
	PurposeBiometric     = "biometric"
	PurposeRegistration  = "registration"
)
