package repository

import (
	"context"
	"database/sql"

	"pharma/backend/internal/audit/domain"
	"pharma/backend/internal/db"
)

type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an audit log repository that uses the given db for persistence.
func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// Create persists the audit log. The audit log must have ID set.
func (r *PostgresRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	uid := sql.NullString{String: a.UserID, Valid: a.UserID != ""}
	meta := sql.NullString{String: a.Metadata, Valid: a.Metadata != ""}
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO audit_logs (id, user_id, action, resource, ip, metadata, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, uid, a.Action, a.Resource, a.IP, meta, a.CreatedAt)
	return db.Wrap("create audit log", err)
}

// ListByUser returns the most recent audit logs for userID, newest first.
// Returns (nil, error) only on database errors.
func (r *PostgresRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*domain.AuditLog, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := db.Conn(ctx, r.db).QueryContext(ctx,
		`SELECT id, user_id, action, resource, ip, metadata, created_at FROM audit_logs
		 WHERE user_id = $1 ORDER BY created_at DESC LIMIT $2`, userID, limit)
	if err != nil {
		return nil, db.Wrap("list audit logs", err)
	}
	defer rows.Close()

	var out []*domain.AuditLog
	for rows.Next() {
		var (
			a             domain.AuditLog
			uid, ip, meta sql.NullString
		)
		if err := rows.Scan(&a.ID, &uid, &a.Action, &a.Resource, &ip, &meta, &a.CreatedAt); err != nil {
			return nil, db.Wrap("list audit logs", err)
		}
		a.UserID, a.IP, a.Metadata = uid.String, ip.String, meta.String
		out = append(out, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Wrap("list audit logs", err)
	}
	return out, nil
}
