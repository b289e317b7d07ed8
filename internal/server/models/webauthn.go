package models

import "time"

// CeremonyKind tells registration sessions from login sessions.
type CeremonyKind string

const (
	CeremonyRegistration CeremonyKind = "registration"
	CeremonyLogin        CeremonyKind = "login"
)

// CeremonySession is a pending WebAuthn challenge. SessionJSON is the
// serialized webauthn.SessionData; UserID is empty for discoverable login.
type CeremonySession struct {
	ID          string
	Kind        CeremonyKind
	UserID      string
	SessionJSON []byte
	ExpiresAt   time.Time
	CreatedAt   time.Time
}

// Credential is a registered authenticator. SignCount mirrors the counter
// inside CredentialJSON and is the column the clone check compares against.
type Credential struct {
	ID             []byte
	UserID         string
	PublicKey      []byte
	SignCount      uint32
	CredentialJSON []byte
	CreatedAt      time.Time
	LastUsedAt     *time.Time
}
