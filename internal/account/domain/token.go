package domain

import (
	"errors"
	"time"
)

// Purpose distinguishes confirmation codes from password-reset codes.
type Purpose string

const (
	PurposeConfirmAccount Purpose = "confirm_account"
	PurposeResetPassword  Purpose = "reset_password"
)

var (
	// ErrTokenUsed is returned when a confirmation or reset code has already been redeemed.
	ErrTokenUsed = errors.New("code already used")
	// ErrTokenExpired is returned when a code is past its expiry.
	ErrTokenExpired = errors.New("code expired")
	// ErrPasswordMismatch is returned when the password and its confirmation differ.
	ErrPasswordMismatch = errors.New("passwords do not match")
	// ErrWeakPassword is returned when a new password is too short or too long for bcrypt.
	ErrWeakPassword = errors.New("password must be 8 to 72 characters")
)

// Token is a single-use code mailed to the user to confirm an account or reset a password.
type Token struct {
	ID        string
	Code      string
	Purpose   Purpose
	UserID    string
	Used      bool
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Redeemable returns nil when t may be used at now, else ErrTokenUsed or ErrTokenExpired.
func (t *Token) Redeemable(now time.Time) error {
	if t.Used {
		return ErrTokenUsed
	}
	if t.ExpiresAt.Before(now) {
		return ErrTokenExpired
	}
	return nil
}
