package repository

import (
	"context"

	"pharma/backend/internal/user/domain"
)

// Repository defines persistence for users. Getters return nil, nil when the row does not exist.
type Repository interface {
	GetByID(ctx context.Context, id string) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	// GetByEmailForUpdate locks the user row for the life of the caller's transaction.
	// Concurrent logins for one user serialise on this lock.
	GetByEmailForUpdate(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, u *domain.User) error
	SetStatus(ctx context.Context, id string, status domain.UserStatus) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	// Delete removes the user together with its sessions, their refresh and blacklist tokens, and
	// its account codes.
	Delete(ctx context.Context, id string) error
}
