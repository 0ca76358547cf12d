package domain

import "time"

// RefreshToken is a live refresh credential. Only the SHA-256 hash of the raw secret is stored.
type RefreshToken struct {
	ID        string
	TokenHash string
	SessionID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token's expiry is strictly before now.
func (t *RefreshToken) Expired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// BlacklistToken records a refresh token hash that was rotated or revoked. Presenting that hash
// again is a replay.
type BlacklistToken struct {
	ID        string
	TokenHash string
	SessionID string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Mirror returns the blacklist entry for t.
func (t *RefreshToken) Mirror(id string, now time.Time) *BlacklistToken {
	return &BlacklistToken{
		ID:        id,
		TokenHash: t.TokenHash,
		SessionID: t.SessionID,
		ExpiresAt: t.ExpiresAt,
		CreatedAt: now,
	}
}

// Owner is the user a session belongs to, as needed to mint a new access token, and whether the
// session is still active.
type Owner struct {
	UserID string
	Role   string
	Active bool
}
