package audit

import (
	"errors"
	"fmt"
	"testing"

	"pharma/backend/internal/autherr"
)

func TestActionFor(t *testing.T) {
	testCases := []struct {
		name string
		op   string
		err  error
		want string
	}{
		{"login ok", OpLogin, nil, ActionLogin},
		{"login bad password", OpLogin, autherr.ErrBadCredentials, ActionLoginFailure},
		{"refresh ok", OpRefresh, nil, ActionRefresh},
		{"refresh expired", OpRefresh, autherr.ErrTokenExpired, ActionRefreshFailure},
		{"refresh invalid", OpRefresh, autherr.ErrTokenInvalid, ActionRefreshFailure},
		{"refresh reused", OpRefresh, fmt.Errorf("rotate: %w", autherr.ErrTokenReused), ActionRefreshTokenReused},
		{"logout", OpLogout, nil, ActionLogout},
		{"unknown op", "sweep", nil, "sweep"},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ActionFor(tc.op, tc.err); got != tc.want {
				t.Errorf("ActionFor(%q, %v) = %q, want %q", tc.op, tc.err, got, tc.want)
			}
		})
	}
}

func TestOutcome(t *testing.T) {
	testCases := []struct {
		err  error
		want string
	}{
		{nil, "success"},
		{autherr.ErrBadCredentials, "bad_credentials"},
		{autherr.ErrAccountNotConfirmed, "account_not_confirmed"},
		{autherr.ErrTokenExpired, "expired"},
		{autherr.ErrTokenInvalid, "invalid"},
		{autherr.ErrTokenReused, "reused"},
		{autherr.ErrNotFound, "not_found"},
		{autherr.Store("commit", errors.New("boom")), "error"},
	}
	for _, tc := range testCases {
		if got := Outcome(tc.err); got != tc.want {
			t.Errorf("Outcome(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
