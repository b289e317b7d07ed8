// Package ratelimit implements the rolling-window attempt limiter used in
// front of MFA resend, password reset, login, biometric verification and
// registration.
//
// A window opens on the first hit for an (identifier, purpose) key and
// lasts Policy.Window. Each hit is decided and recorded by one atomic
// Store.Hit call, so two concurrent requests can never both take the last
// remaining attempt.
package ratelimit
