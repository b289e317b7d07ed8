package models

import "time"

// MFASecret holds the encrypted TOTP secret of a user.
type MFASecret struct {
	UserID          string
	EncryptedSecret string
	Enabled         bool
	// LastUsedStep is the TOTP time step of the last accepted code.
	LastUsedStep int64
	CreatedAt    time.Time
}

// BackupCode is a one-time recovery code, stored as a sha256 hex digest.
type BackupCode struct {
	ID       string
	UserID   string
	CodeHash string
	UsedAt   *time.Time
}
