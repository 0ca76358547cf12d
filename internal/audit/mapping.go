package audit

import (
	"errors"

	"pharma/backend/internal/autherr"
)

// Resources.
const (
	ResourceAuth    = "auth"
	ResourceAccount = "account"
)

// Actions recorded by the auth and account flows.
const (
	ActionLogin              = "login"
	ActionLoginFailure       = "login_failure"
	ActionLogout             = "logout"
	ActionRefresh            = "refresh"
	ActionRefreshFailure     = "refresh_failure"
	ActionRefreshTokenReused = "refresh_token_reused"
	ActionRegister           = "register"
	ActionConfirmAccount     = "confirm_account"
	ActionPasswordReset      = "password_reset"
	ActionDeleteAccount      = "delete_account"
)

// Operations passed to ActionFor.
const (
	OpLogin   = "login"
	OpRefresh = "refresh"
	OpLogout  = "logout"
)

// ActionFor maps an auth operation and its outcome to the audit action recorded for it.
// Replayed refresh tokens get their own action so they can be alerted on.
func ActionFor(op string, err error) string {
	switch op {
	case OpLogin:
		if err != nil {
			return ActionLoginFailure
		}
		return ActionLogin
	case OpRefresh:
		switch {
		case err == nil:
			return ActionRefresh
		case errors.Is(err, autherr.ErrTokenReused):
			return ActionRefreshTokenReused
		default:
			return ActionRefreshFailure
		}
	case OpLogout:
		return ActionLogout
	}
	return op
}

// Outcome returns a short label for err used in audit metadata and metrics.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, autherr.ErrBadCredentials):
		return "bad_credentials"
	case errors.Is(err, autherr.ErrAccountNotConfirmed):
		return "account_not_confirmed"
	case errors.Is(err, autherr.ErrTokenExpired):
		return "expired"
	case errors.Is(err, autherr.ErrTokenReused):
		return "reused"
	case errors.Is(err, autherr.ErrTokenInvalid):
		return "invalid"
	case errors.Is(err, autherr.ErrNotFound):
		return "not_found"
	default:
		return "error"
	}
}
