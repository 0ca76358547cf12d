package domain

import "time"

// Event types published for the auth flows.
const (
	EventLogin              = "login"
	EventLoginFailure       = "login_failure"
	EventLogout             = "logout"
	EventRefresh            = "refresh"
	EventRefreshFailure     = "refresh_failure"
	EventRefreshTokenReused = "refresh_token_reused"
)

// AuthEvent is one security event from the auth controller. It never carries credentials.
type AuthEvent struct {
	ID        string    `json:"id"`
	Type      string    `json:"event_type"`
	Outcome   string    `json:"outcome"`
	UserID    string    `json:"user_id,omitempty"`
	SessionID string    `json:"session_id,omitempty"`
	IP        string    `json:"ip,omitempty"`
	Source    string    `json:"source"`
	CreatedAt time.Time `json:"created_at"`
}
