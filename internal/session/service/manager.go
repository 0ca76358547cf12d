// Package service manages login sessions: creation with geolocation, the single
// active session per user, and activity tracking.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pharma/backend/internal/autherr"
	"pharma/backend/internal/logger"
	"pharma/backend/internal/session/domain"
)

// Touch targets; they mirror config.TouchTargetLatest and config.TouchTargetActive.
const (
	TouchLatest = "latest"
	TouchActive = "active"
)

// Repo is the minimal session repository needed by the manager.
type Repo interface {
	Create(ctx context.Context, s *domain.Session) error
	GetActiveByUser(ctx context.Context, userID string) (*domain.Session, error)
	GetLatestByUser(ctx context.Context, userID string) (*domain.Session, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	Deactivate(ctx context.Context, id string) error
	UpdateLastActivity(ctx context.Context, id string, at time.Time) error
}

// Locator resolves an IP address to a location. (nil, nil) means unknown.
type Locator interface {
	Lookup(ctx context.Context, ip string) (*domain.Location, error)
}

// Manager creates, finds, touches, and deactivates per-device sessions.
// It does not enforce the single-active-session rule; the auth controller does.
type Manager struct {
	repo        Repo
	locator     Locator
	geoTimeout  time.Duration
	touchTarget string
	now         func() time.Time
}

// NewManager returns a Manager. locator may be nil to skip geolocation. touchTarget is TouchLatest
// (default for unknown values) or TouchActive.
func NewManager(repo Repo, locator Locator, geoTimeout time.Duration, touchTarget string) *Manager {
	if touchTarget != TouchActive {
		touchTarget = TouchLatest
	}
	if geoTimeout <= 0 {
		geoTimeout = 2 * time.Second
	}
	return &Manager{
		repo:        repo,
		locator:     locator,
		geoTimeout:  geoTimeout,
		touchTarget: touchTarget,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the manager's clock. Used by tests.
func (m *Manager) WithClock(now func() time.Time) *Manager {
	m.now = now
	return m
}

// TouchTarget returns the configured touch semantics.
func (m *Manager) TouchTarget() string { return m.touchTarget }

// Create stores a new active session for userID. The IP is geolocated best-effort within the
// configured timeout; lookup failure leaves Location nil and never fails the call.
func (m *Manager) Create(ctx context.Context, userID, ip, userAgent string) (*domain.Session, error) {
	now := m.now()
	s := &domain.Session{
		ID:             uuid.New().String(),
		UserID:         userID,
		IPAddress:      ip,
		UserAgent:      userAgent,
		Location:       m.locate(ctx, ip),
		CreatedAt:      now,
		LastActivityAt: now,
		Active:         true,
	}
	if err := m.repo.Create(ctx, s); err != nil {
		return nil, err
	}
	return s, nil
}

func (m *Manager) locate(ctx context.Context, ip string) *domain.Location {
	if m.locator == nil || ip == "" {
		return nil
	}
	lctx, cancel := context.WithTimeout(ctx, m.geoTimeout)
	defer cancel()
	loc, err := m.locator.Lookup(lctx, ip)
	if err != nil {
		logger.Debug().Err(err).Str("ip", ip).Msg("session geolocation failed")
		return nil
	}
	return loc
}

// GetActive returns the user's active session, or nil when there is none.
func (m *Manager) GetActive(ctx context.Context, userID string) (*domain.Session, error) {
	return m.repo.GetActiveByUser(ctx, userID)
}

// Touch records activity for userID now. With TouchLatest it updates the most recently created
// session even if inactive; with TouchActive only the active session. No matching session is not an error.
func (m *Manager) Touch(ctx context.Context, userID string) error {
	var (
		s   *domain.Session
		err error
	)
	if m.touchTarget == TouchActive {
		s, err = m.repo.GetActiveByUser(ctx, userID)
	} else {
		s, err = m.repo.GetLatestByUser(ctx, userID)
	}
	if err != nil {
		return err
	}
	if s == nil {
		return nil
	}
	return m.repo.UpdateLastActivity(ctx, s.ID, m.now())
}

// Deactivate clears the session's active flag. It does not touch refresh tokens.
// Returns autherr.ErrNotFound for an unknown id.
func (m *Manager) Deactivate(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return autherr.ErrNotFound
	}
	return m.repo.Deactivate(ctx, sessionID)
}

// List returns the user's sessions, newest first.
func (m *Manager) List(ctx context.Context, userID string) ([]*domain.Session, error) {
	return m.repo.ListByUser(ctx, userID)
}
