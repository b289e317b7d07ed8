// Package mfa stores TOTP secrets and backup codes.
package mfa

import (
	"context"

	"github.com/dmitrijs2005/credkeeper/internal/server/models"
)

type Repository interface {
	// UpsertSecret stores a fresh, not yet enabled secret for the user.
	UpsertSecret(ctx context.Context, userID, encryptedSecret string) error
	GetSecret(ctx context.Context, userID string) (*models.MFASecret, error)
	Enable(ctx context.Context, userID string) error
	Delete(ctx context.Context, userID string) error

	// AdvanceStep records step as the last accepted TOTP step if it is newer
	// than the stored one. It reports false for a step already used.
	AdvanceStep(ctx context.Context, userID string, step int64) (bool, error)

	// ReplaceBackupCodes drops the previous codes. Callers run it inside a
	// transaction together with Enable.
	ReplaceBackupCodes(ctx context.Context, userID string, codeHashes []string) error
	// ConsumeBackupCode marks an unused code as used and reports whether one
	// matched.
	ConsumeBackupCode(ctx context.Context, userID, codeHash string) (bool, error)
}
