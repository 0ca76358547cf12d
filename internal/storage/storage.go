// Package storage picks the persistence backend for the binaries: Postgres when a DSN is set, the
// in-memory store otherwise.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	accountrepo "pharma/backend/internal/account/repository"
	auditrepo "pharma/backend/internal/audit/repository"
	"pharma/backend/internal/db"
	"pharma/backend/internal/errortrack"
	"pharma/backend/internal/memstore"
	rtrepo "pharma/backend/internal/refreshtoken/repository"
	sessionrepo "pharma/backend/internal/session/repository"
	userrepo "pharma/backend/internal/user/repository"
)

// ErrNoDatabase is returned by Open when production config has no DSN.
var ErrNoDatabase = errors.New("storage: DATABASE_URL is required")

// Pinger reports store reachability. *sql.DB implements it.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Backend bundles the transaction manager and every repository over one store.
type Backend struct {
	Tx            db.Transactor
	Users         userrepo.Repository
	Sessions      sessionrepo.Repository
	RefreshTokens rtrepo.Repository
	AccountTokens accountrepo.Repository
	Audit         auditrepo.Repository
	Errors        errortrack.Recorder
	// Pinger is nil for the in-memory backend.
	Pinger Pinger
	// Kind is "postgres" or "memory".
	Kind string

	closeFn func() error
}

// Postgres returns a Backend over pool. Transactions are bounded by timeout.
func Postgres(pool *sql.DB, timeout time.Duration) *Backend {
	return &Backend{
		Tx:            db.NewTxManager(pool, timeout),
		Users:         userrepo.NewPostgresRepository(pool),
		Sessions:      sessionrepo.NewPostgresRepository(pool),
		RefreshTokens: rtrepo.NewPostgresRepository(pool),
		AccountTokens: accountrepo.NewPostgresRepository(pool),
		Audit:         auditrepo.NewPostgresRepository(pool),
		Errors:        errortrack.NewPostgresRecorder(pool),
		Pinger:        pool,
		Kind:          "postgres",
		closeFn:       pool.Close,
	}
}

// Memory returns a Backend over a fresh in-memory store. State is lost on exit.
func Memory() *Backend {
	mem := memstore.New()
	return &Backend{
		Tx:            mem,
		Users:         mem.Users(),
		Sessions:      mem.Sessions(),
		RefreshTokens: mem.RefreshTokens(),
		AccountTokens: mem.AccountTokens(),
		Audit:         mem.Audit(),
		Errors:        mem.Errors(),
		Kind:          "memory",
	}
}

// Open connects to dsn, or falls back to Memory when dsn is empty and production is false.
func Open(ctx context.Context, dsn string, timeout time.Duration, production bool) (*Backend, error) {
	if strings.TrimSpace(dsn) == "" {
		if production {
			return nil, ErrNoDatabase
		}
		return Memory(), nil
	}
	pool, err := db.Open(ctx, dsn)
	if err != nil {
		return nil, err
	}
	return Postgres(pool, timeout), nil
}

// Close releases the connection pool, if any.
func (b *Backend) Close() error {
	if b == nil || b.closeFn == nil {
		return nil
	}
	return b.closeFn()
}
