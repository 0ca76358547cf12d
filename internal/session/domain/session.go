package domain

import "time"

// Session is one login on one device. At most one session per user is active; older ones are kept
// for history after deactivation.
type Session struct {
	ID             string
	UserID         string
	IPAddress      string    // empty when unknown
	UserAgent      string    // empty when unknown
	Location       *Location // nil when geolocation failed or was skipped
	CreatedAt      time.Time
	LastActivityAt time.Time
	Active         bool
}

// Location is the coarse geolocation resolved from the session's IP address.
type Location struct {
	Country string  `json:"country,omitempty"`
	Region  string  `json:"region,omitempty"`
	City    string  `json:"city,omitempty"`
	Lat     float64 `json:"lat,omitempty"`
	Lon     float64 `json:"lon,omitempty"`
}
