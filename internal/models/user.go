package models

import (
	"time"
)

// User roles
const (
	RoleAdmin   = "admin"
	RoleManager = "manager"
	RoleUser    = "user"
)

type User struct {
	ID               string
	Email            string
	PasswordHash     string // NULL until the user sets a password
	Role             string // "admin", "manager", "user"
	FailedLoginCount int
	LockedUntil      *time.Time // Temporary account lock expiration
	LastLoginAt      *time.Time
	EmailVerifiedAt  *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// IsLocked reports whether the account is under a temporary login lock.
func (u *User) IsLocked() bool {
	return u.LockedUntil != nil && time.Now().Before(*u.LockedUntil)
}

// EmailVerified reports whether the user completed email verification.
func (u *User) EmailVerified() bool {
	return u.EmailVerifiedAt != nil
}

// IsValidRole reports whether role is one of the closed role enum.
func IsValidRole(role string) bool {
	switch role {
	case RoleAdmin, RoleManager, RoleUser:
		return true
	}
	return false
}
