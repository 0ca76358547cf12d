package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"pharma/backend/internal/db"
	"pharma/backend/internal/user/domain"
)

const userColumns = `id, first_name, last_name, email, password_hash, role, status, created_at`

// PostgresRepository persists users. Methods run inside the transaction carried by ctx when there is one.
type PostgresRepository struct {
	db *sql.DB
}

// NewPostgresRepository returns a user repository that uses the given db for persistence.
func NewPostgresRepository(pool *sql.DB) *PostgresRepository {
	return &PostgresRepository{db: pool}
}

// GetByID returns the user for id, or nil if not found.
// It returns an error only for database failures, not for missing rows.
func (r *PostgresRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE id = $1`, id)
	return scanUser(row, "get user")
}

// GetByEmail returns the user with the given email, or nil if not found.
func (r *PostgresRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = $1`, domain.NormalizeEmail(email))
	return scanUser(row, "get user by email")
}

// GetByEmailForUpdate is GetByEmail with a row lock held until the caller's transaction ends.
func (r *PostgresRepository) GetByEmailForUpdate(ctx context.Context, email string) (*domain.User, error) {
	row := db.Conn(ctx, r.db).QueryRowContext(ctx,
		`SELECT `+userColumns+` FROM users WHERE lower(email) = $1 FOR UPDATE`, domain.NormalizeEmail(email))
	return scanUser(row, "lock user")
}

// Create persists the user. The user must have ID set; it is not assigned by this method.
// A duplicate email returns domain.ErrEmailTaken.
func (r *PostgresRepository) Create(ctx context.Context, u *domain.User) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`INSERT INTO users (`+userColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		u.ID, u.FirstName, u.LastName, u.Email, u.PasswordHash, string(u.Role), string(u.Status), u.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return domain.ErrEmailTaken
	}
	return db.Wrap("create user", err)
}

// SetStatus updates the account status. Missing users are a no-op.
func (r *PostgresRepository) SetStatus(ctx context.Context, id string, status domain.UserStatus) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE users SET status = $2 WHERE id = $1`, id, string(status))
	return db.Wrap("set user status", err)
}

// UpdatePassword replaces the stored password digest.
func (r *PostgresRepository) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx,
		`UPDATE users SET password_hash = $2 WHERE id = $1`, id, passwordHash)
	return db.Wrap("update user password", err)
}

// Delete removes the user. Sessions, refresh and blacklist tokens, and account codes go with it
// through ON DELETE CASCADE. Missing users are a no-op.
func (r *PostgresRepository) Delete(ctx context.Context, id string) error {
	_, err := db.Conn(ctx, r.db).ExecContext(ctx, `DELETE FROM users WHERE id = $1`, id)
	return db.Wrap("delete user", err)
}

func scanUser(row *sql.Row, op string) (*domain.User, error) {
	var (
		u            domain.User
		role, status string
	)
	err := row.Scan(&u.ID, &u.FirstName, &u.LastName, &u.Email, &u.PasswordHash, &role, &status, &u.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, db.Wrap(op, err)
	}
	u.Role = domain.Role(role)
	u.Status = domain.UserStatus(status)
	return &u, nil
}
