package models

import "time"

// Role is the authorization role stored with a user.
type Role string

const (
	RoleUser    Role = "user"
	RoleVendor  Role = "vendor"
	RoleAdmin   Role = "admin"
	RoleService Role = "service"
)

// Status is the account lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPending   Status = "pending"
	StatusSuspended Status = "suspended"
)

// User is a stored account. The profile fields hold EncryptedField strings,
// never plaintext.
type User struct {
	ID           string
	Email        string
	PasswordHash string
	Role         Role
	Status       Status
	NationalID   string
	BirthDate    string
	Phone        string
	Address      string
	MFAEnabled   bool
	CreatedAt    time.Time
}
