package db

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pharma/backend/internal/autherr"
)

// DBTX is the subset of *sql.DB and *sql.Tx used by repositories.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Transactor runs fn as one atomic unit of work. Nested calls join the outer unit.
type Transactor interface {
	InTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type txKey struct{}

// Conn returns the transaction carried by ctx, or fallback when there is none.
func Conn(ctx context.Context, fallback DBTX) DBTX {
	if tx, ok := ctx.Value(txKey{}).(*sql.Tx); ok && tx != nil {
		return tx
	}
	return fallback
}

// HasTx reports whether ctx carries a transaction started by TxManager.
func HasTx(ctx context.Context) bool {
	tx, ok := ctx.Value(txKey{}).(*sql.Tx)
	return ok && tx != nil
}

// TxManager runs units of work in read-committed transactions bounded by a timeout.
type TxManager struct {
	db      *sql.DB
	timeout time.Duration
}

// NewTxManager returns a TxManager for db. A non-positive timeout disables the bound.
func NewTxManager(db *sql.DB, timeout time.Duration) *TxManager {
	return &TxManager{db: db, timeout: timeout}
}

// InTx begins a transaction, stores it in the context passed to fn, and commits when fn returns nil.
// Any error from fn (or a panic) rolls back. If ctx already carries a transaction, fn runs inside it.
// Begin and commit failures are returned as *autherr.StoreError.
func (m *TxManager) InTx(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if HasTx(ctx) {
		return fn(ctx)
	}
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	tx, err := m.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return autherr.Store("begin", err)
	}
	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(context.WithValue(ctx, txKey{}, tx)); err != nil {
		return err
	}
	if cerr := tx.Commit(); cerr != nil {
		return autherr.Store("commit", cerr)
	}
	return nil
}

// Wrap converts a raw driver error from op into a StoreError. sql.ErrNoRows becomes autherr.ErrNotFound.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return autherr.ErrNotFound
	}
	return autherr.Store(op, err)
}
