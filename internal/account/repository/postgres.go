package repository

import (
	"context"
	"database/sql"
	"errors"

	"pharma/backend/internal/account/domain"
	"pharma/backend/internal/db"
)

// PostgresRepository persists account_tokens.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns an account token repository that uses the given db for persistence.
func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

func (r *PostgresRepository) Create(ctx context.Context, t *domain.Token) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO account_tokens (id, code, purpose, user_id, used, expires_at, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		t.ID, t.Code, string(t.Purpose), t.UserID, t.Used, t.ExpiresAt, t.CreatedAt)
	return db.Wrap("create account token", err)
}

func (r *PostgresRepository) GetByCode(ctx context.Context, code string, purpose domain.Purpose) (*domain.Token, error) {
	q := `SELECT id, code, purpose, user_id, used, expires_at, created_at FROM account_tokens WHERE code = $1 AND purpose = $2`
	if db.HasTx(ctx) {
		q += ` FOR UPDATE`
	}
	var (
		t  domain.Token
		pu string
	)
	err := db.Conn(ctx, r.db).QueryRowContext(ctx, q, code, string(purpose)).
		Scan(&t.ID, &t.Code, &pu, &t.UserID, &t.Used, &t.ExpiresAt, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Wrap("get account token", err)
	}
	t.Purpose = domain.Purpose(pu)
	return &t, nil
}

func (r *PostgresRepository) MarkUsed(ctx context.Context, id string) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, `UPDATE account_tokens SET used = true WHERE id = $1`, id)
	return db.Wrap("mark account token used", err)
}
