package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"pharma/backend/internal/autherr"
	"pharma/backend/internal/db"
	"pharma/backend/internal/session/domain"
)

const sessionColumns = `id, user_id, ip_address, user_agent, location, created_at, last_activity_at, is_active`

// PostgresRepository persists sessions.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a session repository that uses the given db for persistence.
func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// Create inserts s. ID and timestamps must already be set.
func (r *PostgresRepository) Create(ctx context.Context, s *domain.Session) error {
	var loc any
	if s.Location != nil {
		b, err := json.Marshal(s.Location)
		if err != nil {
			return err
		}
		loc = string(b)
	}
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO sessions (`+sessionColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		s.ID, s.UserID, nullString(s.IPAddress), nullString(s.UserAgent), loc, s.CreatedAt, s.LastActivityAt, s.Active)
	return db.Wrap("create session", err)
}

// GetByID returns the session for id, or nil if not found.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.Session, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE id = $1`, id)
	return scanSession(row, "get session")
}

// GetActiveByUser returns the active session for userID, or nil. Inside a transaction the row is
// locked FOR UPDATE so deactivation cannot race another login or logout.
func (r *PostgresRepository) GetActiveByUser(ctx context.Context, userID string) (*domain.Session, error) {
	q := `SELECT ` + sessionColumns + ` FROM sessions WHERE user_id = $1 AND is_active ORDER BY created_at DESC LIMIT 1`
	if db.HasTx(ctx) {
		q += ` FOR UPDATE`
	}
	row := db.Conn(ctx, r.db).QueryRowContext(ctx, q, userID)
	return scanSession(row, "get active session")
}

// GetLatestByUser returns the most recently created session for userID, or nil.
func (r *PostgresRepository) GetLatestByUser(ctx context.Context, userID string) (*domain.Session, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC LIMIT 1`, userID)
	return scanSession(row, "get latest session")
}

// ListByUser returns every session for userID, newest first. Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string) ([]*domain.Session, error) {
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT `+sessionColumns+` FROM sessions WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, db.Wrap("list sessions", err)
	}
	defer rows.Close()

	var out []*domain.Session
	for rows.Next() {
		s, err := scanSession(rows, "list sessions")
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Wrap("list sessions", err)
	}
	return out, nil
}

// Deactivate sets is_active to false. Deactivating an inactive session is not an error.
func (r *PostgresRepository) Deactivate(ctx context.Context, id string) error {
	res, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE sessions SET is_active = false WHERE id = $1`, id)
	if err != nil {
		return db.Wrap("deactivate session", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return autherr.ErrNotFound
	}
	return nil
}

// UpdateLastActivity sets last_activity_at for the session.
func (r *PostgresRepository) UpdateLastActivity(ctx context.Context, id string, at time.Time) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE sessions SET last_activity_at = $2 WHERE id = $1`, id, at)
	return db.Wrap("update session activity", err)
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner, op string) (*domain.Session, error) {
	var (
		s         domain.Session
		ip, agent sql.NullString
		loc       []byte
	)
	err := row.Scan(&s.ID, &s.UserID, &ip, &agent, &loc, &s.CreatedAt, &s.LastActivityAt, &s.Active)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Wrap(op, err)
	}
	s.IPAddress = ip.String
	s.UserAgent = agent.String
	if len(loc) > 0 {
		var l domain.Location
		if json.Unmarshal(loc, &l) == nil {
			s.Location = &l
		}
	}
	return &s, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
