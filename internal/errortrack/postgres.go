package errortrack

import (
	"context"
	"database/sql"

	"pharma/backend/internal/db"
)

// PostgresRecorder writes entries to the errors table.
type PostgresRecorder struct {
	db *sql.DB
}

// NewPostgresRecorder returns a Recorder using pool.
func NewPostgresRecorder(pool *sql.DB) *PostgresRecorder {
	return &PostgresRecorder{db: pool}
}

// RecordError inserts e outside any request transaction.
func (r *PostgresRecorder) RecordError(ctx context.Context, e *Entry) error {
	uid := sql.NullString{String: e.UserID, Valid: e.UserID != ""}
	_, err := r.db.ExecContext(ctx,
		`INSERT INTO errors (id, user_id, text, created_at) VALUES ($1, $2, $3, $4)`,
		e.ID, uid, e.Text, e.CreatedAt)
	return db.Wrap("record error", err)
}
