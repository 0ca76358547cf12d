// Package service issues, rotates, and revokes opaque refresh tokens bound to sessions.
package service

import (
	"context"
	"time"

	"github.com/google/uuid"

	"pharma/backend/internal/autherr"
	"pharma/backend/internal/db"
	"pharma/backend/internal/refreshtoken/domain"
	"pharma/backend/internal/refreshtoken/repository"
	"pharma/backend/internal/security"
)

// Rotation is the result of a successful ValidateAndRotate.
type Rotation struct {
	// Secret is the new raw refresh secret. It exists only in this value and in transit.
	Secret    string
	ExpiresAt time.Time
	SessionID string
	UserID    string
	Role      string
}

// SweepResult counts rows removed by Sweep.
type SweepResult struct {
	RefreshTokens   int64
	BlacklistTokens int64
}

// Store manages refresh tokens. Every method runs as one transaction, or joins the caller's.
type Store struct {
	repo        repository.Repository
	tx          db.Transactor
	ttl         time.Duration
	secretBytes int
	now         func() time.Time
}

// NewStore returns a Store issuing tokens valid for ttl with secretBytes of entropy
// (raised to security.MinRefreshSecretBytes when smaller).
func NewStore(repo repository.Repository, tx db.Transactor, ttl time.Duration, secretBytes int) *Store {
	if secretBytes < security.MinRefreshSecretBytes {
		secretBytes = security.MinRefreshSecretBytes
	}
	return &Store{
		repo:        repo,
		tx:          tx,
		ttl:         ttl,
		secretBytes: secretBytes,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithClock replaces the store's clock. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// TTL returns the refresh token lifetime.
func (s *Store) TTL() time.Duration { return s.ttl }

// Issue creates a refresh token for sessionID and returns its raw secret. Only the hash is stored.
func (s *Store) Issue(ctx context.Context, sessionID string) (string, error) {
	var raw string
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		raw, _, err = s.issue(ctx, sessionID)
		return err
	})
	if err != nil {
		return "", err
	}
	return raw, nil
}

func (s *Store) issue(ctx context.Context, sessionID string) (string, time.Time, error) {
	raw, hash, err := security.NewRefreshSecret(s.secretBytes)
	if err != nil {
		return "", time.Time{}, err
	}
	now := s.now()
	t := &domain.RefreshToken{
		ID:        uuid.New().String(),
		TokenHash: hash,
		SessionID: sessionID,
		ExpiresAt: now.Add(s.ttl),
		CreatedAt: now,
	}
	if err := s.repo.Create(ctx, t); err != nil {
		return "", time.Time{}, err
	}
	return raw, t.ExpiresAt, nil
}

// ValidateAndRotate consumes raw and returns its replacement.
//
// An unknown secret is autherr.ErrTokenInvalid unless its hash is blacklisted, in which case it is
// an *autherr.ReuseError naming the session and its owner. A secret whose session is gone or no
// longer active is autherr.ErrTokenInvalid. A known but expired secret is autherr.ErrTokenExpired
// and nothing is changed. Otherwise the old token is blacklisted and deleted and a new one is
// issued for the same session, all in one transaction.
//
// The session row is locked before the token row, the order Login and Logout use, so a concurrent
// deactivation either completes first and is seen here or waits and then retires the new token.
func (s *Store) ValidateAndRotate(ctx context.Context, raw string) (*Rotation, error) {
	if raw == "" {
		return nil, autherr.ErrTokenInvalid
	}
	hash := security.HashRefreshToken(raw)

	var out *Rotation
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		seen, err := s.repo.GetByHash(ctx, hash)
		if err != nil {
			return err
		}
		if seen == nil {
			return s.replayed(ctx, hash)
		}
		owner, err := s.repo.SessionOwner(ctx, seen.SessionID)
		if err != nil {
			return err
		}
		if owner == nil || !owner.Active {
			return autherr.ErrTokenInvalid
		}
		current, err := s.repo.GetByHashForUpdate(ctx, hash)
		if err != nil {
			return err
		}
		if current == nil {
			// Rotated by a concurrent refresh while we waited for the session lock.
			return s.replayed(ctx, hash)
		}
		now := s.now()
		if current.Expired(now) {
			return autherr.ErrTokenExpired
		}

		if err := s.retire(ctx, current, now); err != nil {
			return err
		}
		secret, exp, err := s.issue(ctx, current.SessionID)
		if err != nil {
			return err
		}
		out = &Rotation{
			Secret:    secret,
			ExpiresAt: exp,
			SessionID: current.SessionID,
			UserID:    owner.UserID,
			Role:      owner.Role,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// replayed classifies a hash with no live token: a ReuseError when it was blacklisted, otherwise
// ErrTokenInvalid.
func (s *Store) replayed(ctx context.Context, hash string) error {
	b, err := s.repo.GetBlacklisted(ctx, hash)
	if err != nil {
		return err
	}
	if b == nil {
		return autherr.ErrTokenInvalid
	}
	reuse := &autherr.ReuseError{SessionID: b.SessionID}
	owner, err := s.repo.SessionOwner(ctx, b.SessionID)
	if err != nil {
		return err
	}
	if owner != nil {
		reuse.UserID = owner.UserID
	}
	return reuse
}

// BlacklistAll retires every live refresh token on sessionID and returns how many were retired.
func (s *Store) BlacklistAll(ctx context.Context, sessionID string) (int, error) {
	var n int
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		live, err := s.repo.ListBySessionForUpdate(ctx, sessionID)
		if err != nil {
			return err
		}
		now := s.now()
		for _, t := range live {
			if err := s.retire(ctx, t, now); err != nil {
				return err
			}
		}
		n = len(live)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return n, nil
}

func (s *Store) retire(ctx context.Context, t *domain.RefreshToken, now time.Time) error {
	if err := s.repo.InsertBlacklist(ctx, t.Mirror(uuid.New().String(), now)); err != nil {
		return err
	}
	return s.repo.Delete(ctx, t.ID)
}

// Sweep deletes refresh and blacklist rows that expired before now. Replaying a swept secret
// yields ErrTokenInvalid rather than ErrTokenReused.
func (s *Store) Sweep(ctx context.Context, now time.Time) (SweepResult, error) {
	var res SweepResult
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		var err error
		res.RefreshTokens, res.BlacklistTokens, err = s.repo.DeleteExpired(ctx, now)
		return err
	})
	return res, err
}
