package repository

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"pharma/backend/internal/db"
	"pharma/backend/internal/refreshtoken/domain"
)

// PostgresRepository persists refresh_tokens and blacklist_tokens.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a refresh token repository that uses the given db for persistence.
func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// Create inserts t. The token_hash unique index rejects duplicate secrets.
func (r *PostgresRepository) Create(ctx context.Context, t *domain.RefreshToken) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO refresh_tokens (id, token_hash, session_id, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)`,
		t.ID, t.TokenHash, t.SessionID, t.ExpiresAt, t.CreatedAt)
	return db.Wrap("create refresh token", err)
}

// GetByHash reads the live token with hash.
func (r *PostgresRepository) GetByHash(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	return r.getByHash(ctx, hash, "")
}

// GetByHashForUpdate locks the row so that two concurrent rotations of one secret serialise;
// the loser observes the row already deleted.
func (r *PostgresRepository) GetByHashForUpdate(ctx context.Context, hash string) (*domain.RefreshToken, error) {
	return r.getByHash(ctx, hash, " FOR UPDATE")
}

func (r *PostgresRepository) getByHash(ctx context.Context, hash, lock string) (*domain.RefreshToken, error) {
	var t domain.RefreshToken
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, token_hash, session_id, expires_at, created_at FROM refresh_tokens WHERE token_hash = $1`+lock, hash).
		Scan(&t.ID, &t.TokenHash, &t.SessionID, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Wrap("get refresh token", err)
	}
	return &t, nil
}

// ListBySessionForUpdate returns the session's live tokens, locked.
func (r *PostgresRepository) ListBySessionForUpdate(ctx context.Context, sessionID string) ([]*domain.RefreshToken, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, token_hash, session_id, expires_at, created_at FROM refresh_tokens WHERE session_id = $1 FOR UPDATE`, sessionID)
	if err != nil {
		return nil, db.Wrap("list refresh tokens", err)
	}
	defer rows.Close()

	var out []*domain.RefreshToken
	for rows.Next() {
		var t domain.RefreshToken
		if err := rows.Scan(&t.ID, &t.TokenHash, &t.SessionID, &t.ExpiresAt, &t.CreatedAt); err != nil {
			return nil, db.Wrap("list refresh tokens", err)
		}
		out = append(out, &t)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Wrap("list refresh tokens", err)
	}
	return out, nil
}

// Delete removes the refresh token row.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, id)
	return db.Wrap("delete refresh token", err)
}

// InsertBlacklist inserts b, ignoring a hash that is already present.
func (r *PostgresRepository) InsertBlacklist(ctx context.Context, b *domain.BlacklistToken) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO blacklist_tokens (id, token_hash, session_id, expires_at, created_at) VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (token_hash) DO NOTHING`,
		b.ID, b.TokenHash, b.SessionID, b.ExpiresAt, b.CreatedAt)
	return db.Wrap("blacklist refresh token", err)
}

// GetBlacklisted returns the blacklist row for a rotated or revoked hash.
func (r *PostgresRepository) GetBlacklisted(ctx context.Context, hash string) (*domain.BlacklistToken, error) {
	var b domain.BlacklistToken
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT id, token_hash, session_id, expires_at, created_at FROM blacklist_tokens WHERE token_hash = $1`, hash).
		Scan(&b.ID, &b.TokenHash, &b.SessionID, &b.ExpiresAt, &b.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Wrap("check blacklist", err)
	}
	return &b, nil
}

// SessionOwner joins the session to its user and locks the session row, the same row Login and
// Logout lock before retiring the session's tokens.
func (r *PostgresRepository) SessionOwner(ctx context.Context, sessionID string) (*domain.Owner, error) {
	var o domain.Owner
	err := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT u.id, u.role, s.is_active FROM sessions s JOIN users u ON u.id = s.user_id WHERE s.id = $1 FOR UPDATE OF s`, sessionID).
		Scan(&o.UserID, &o.Role, &o.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Wrap("get session owner", err)
	}
	return &o, nil
}

// DeleteExpired removes expired refresh and blacklist rows.
func (r *PostgresRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, int64, error) {
	conn := db.Conn(ctx, r.db)
	res, err := conn.ExecContext(ctx, `DELETE FROM refresh_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return 0, 0, db.Wrap("sweep refresh tokens", err)
	}
	refresh, _ := res.RowsAffected()
	res, err = conn.ExecContext(ctx, `DELETE FROM blacklist_tokens WHERE expires_at < $1`, now)
	if err != nil {
		return refresh, 0, db.Wrap("sweep blacklist tokens", err)
	}
	blacklist, _ := res.RowsAffected()
	return refresh, blacklist, nil
}
