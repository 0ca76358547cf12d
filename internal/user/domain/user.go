package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	// ErrEmailTaken is returned when registering an email that already has an account.
	ErrEmailTaken = errors.New("email already registered")
	// ErrInvalidUser wraps every Validate failure.
	ErrInvalidUser = errors.New("invalid user")
)

// User is an account that can log in. PasswordHash is a bcrypt digest, never the raw password.
type User struct {
	ID           string
	FirstName    string
	LastName     string
	Email        string
	PasswordHash string
	Role         Role
	Status       UserStatus
	CreatedAt    time.Time
}

// Role is carried in the access token's role claim.
type Role string

const (
	RoleBuyer Role = "buyer"
	RoleAdmin Role = "admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleBuyer || r == RoleAdmin
}

// UserStatus gates login: only active (confirmed) accounts may authenticate.
type UserStatus string

const (
	UserStatusActive   UserStatus = "active"
	UserStatusInactive UserStatus = "inactive"
)

// NormalizeEmail lowercases and trims an email address for lookups and uniqueness.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// Validate validates the user for persistence and fills defaults. The first failure is returned
// wrapped in ErrInvalidUser.
func (u *User) Validate() error {
	u.Email = NormalizeEmail(u.Email)
	if u.Email == "" {
		return fmt.Errorf("%w: email is required", ErrInvalidUser)
	}
	if !strings.Contains(u.Email, "@") {
		return fmt.Errorf("%w: email is invalid", ErrInvalidUser)
	}
	if u.PasswordHash == "" {
		return fmt.Errorf("%w: password hash is required", ErrInvalidUser)
	}
	if u.Role == "" {
		u.Role = RoleBuyer
	}
	if !u.Role.Valid() {
		return fmt.Errorf("%w: role is invalid", ErrInvalidUser)
	}
	if u.Status == "" {
		u.Status = UserStatusInactive
	}
	return nil
}
