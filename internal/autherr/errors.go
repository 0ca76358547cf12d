// Package autherr defines the failure taxonomy shared by the credential, session, and refresh-token
// components. Callers branch on the sentinels with errors.Is; the HTTP boundary maps them to statuses.
package autherr

import (
	"errors"
	"fmt"
)

var (
	// ErrBadCredentials is returned when the presented password does not match.
	ErrBadCredentials = errors.New("bad credentials")
	// ErrAccountNotConfirmed is returned when the account exists but is not in the active status.
	ErrAccountNotConfirmed = errors.New("account not confirmed")
	// ErrTokenExpired is returned for a credential whose signature or record is valid but whose expiry has passed.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenInvalid is returned for a malformed, tampered, or unknown credential.
	ErrTokenInvalid = errors.New("token invalid")
	// ErrTokenReused is returned when an already rotated or revoked refresh token is presented again.
	// It is a security event: callers must log and count it separately even though the response
	// is the same shape as ErrTokenInvalid.
	ErrTokenReused = errors.New("token reused")
	// ErrNotFound is returned when a user, session, or token row is missing.
	ErrNotFound = errors.New("not found")
	// ErrStoreFailure matches any StoreError.
	ErrStoreFailure = errors.New("store failure")
)

// StoreError wraps a transaction or persistence failure with the operation that produced it.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("store: %s: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

// Is reports true for ErrStoreFailure so callers can match without a type assertion.
func (e *StoreError) Is(target error) bool { return target == ErrStoreFailure }

// ReuseError is ErrTokenReused carrying the session the replayed token was issued for and that
// session's owner. UserID is empty when the session no longer exists.
type ReuseError struct {
	SessionID string
	UserID    string
}

func (e *ReuseError) Error() string {
	return fmt.Sprintf("%v: session %s", ErrTokenReused, e.SessionID)
}

// Is reports true for ErrTokenReused.
func (e *ReuseError) Is(target error) bool { return target == ErrTokenReused }

// Store wraps err as a StoreError for op. Returns nil when err is nil.
func Store(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsExpected reports whether err belongs to the expected (non-500) part of the taxonomy.
func IsExpected(err error) bool {
	switch {
	case errors.Is(err, ErrBadCredentials),
		errors.Is(err, ErrAccountNotConfirmed),
		errors.Is(err, ErrTokenExpired),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrTokenReused),
		errors.Is(err, ErrNotFound):
		return true
	}
	return false
}
