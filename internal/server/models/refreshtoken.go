package models

import "time"

// RefreshToken is what a consumed refresh token was bound to. The token
// value itself is never read back from storage.
type RefreshToken struct {
	UserID    string
	ExpiresAt time.Time
}

func (t *RefreshToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
