package repository

import (
	"context"
	"time"

	"pharma/backend/internal/session/domain"
)

// Repository defines persistence for sessions. Getters return nil, nil when no row matches.
type Repository interface {
	Create(ctx context.Context, s *domain.Session) error
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// GetActiveByUser returns the user's active session. When ctx carries a transaction the row is locked.
	GetActiveByUser(ctx context.Context, userID string) (*domain.Session, error)
	// GetLatestByUser returns the most recently created session regardless of its active flag.
	GetLatestByUser(ctx context.Context, userID string) (*domain.Session, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	// Deactivate clears the active flag. Returns autherr.ErrNotFound when id does not exist.
	Deactivate(ctx context.Context, id string) error
	UpdateLastActivity(ctx context.Context, id string, at time.Time) error
}
