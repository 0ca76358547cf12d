package repository

import (
	"context"
	"time"

	"pharma/backend/internal/refreshtoken/domain"
)

// Repository defines persistence for refresh and blacklist tokens. Getters return nil, nil when no row matches.
type Repository interface {
	Create(ctx context.Context, t *domain.RefreshToken) error
	// GetByHash returns the live token with hash without locking it.
	GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// GetByHashForUpdate returns the live token with hash and locks it for the caller's transaction.
	GetByHashForUpdate(ctx context.Context, hash string) (*domain.RefreshToken, error)
	// ListBySessionForUpdate returns and locks every live token on the session.
	ListBySessionForUpdate(ctx context.Context, sessionID string) ([]*domain.RefreshToken, error)
	Delete(ctx context.Context, id string) error
	// InsertBlacklist records b. A hash that is already blacklisted is left unchanged.
	InsertBlacklist(ctx context.Context, b *domain.BlacklistToken) error
	// GetBlacklisted returns the blacklist entry for hash.
	GetBlacklisted(ctx context.Context, hash string) (*domain.BlacklistToken, error)
	// SessionOwner locks the session row and returns its owner and active flag, or nil if the
	// session does not exist.
	SessionOwner(ctx context.Context, sessionID string) (*domain.Owner, error)
	// DeleteExpired removes refresh and blacklist rows whose expiry is before now.
	DeleteExpired(ctx context.Context, now time.Time) (refresh, blacklist int64, err error)
}
