package repository

import (
	"context"

	"pharma/backend/internal/account/domain"
)

// Repository defines persistence for account tokens. GetByCode returns nil, nil when no row matches.
type Repository interface {
	Create(ctx context.Context, t *domain.Token) error
	// GetByCode returns the token for code and purpose, locking it inside a transaction.
	GetByCode(ctx context.Context, code string, purpose domain.Purpose) (*domain.Token, error)
	MarkUsed(ctx context.Context, id string) error
}
