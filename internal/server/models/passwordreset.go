package models

import "time"

type PasswordReset struct {
	ID         string
	UserID     string
	SecretHash string
	ExpiresAt  time.Time
	UsedAt     *time.Time
	CreatedAt  time.Time
}
