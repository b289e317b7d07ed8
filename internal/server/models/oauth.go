package models

import "time"

// OAuthAccount links a user to an external provider. The token fields are
// EncryptedField strings bound to the "oauth-token" associated data.
type OAuthAccount struct {
	UserID            string
	Provider          string
	ProviderAccountID string
	AccessToken       string
	RefreshToken      string
	ExpiresAt         *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
