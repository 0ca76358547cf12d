package storage

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"

	accountservice "pharma/backend/internal/account/service"
	"pharma/backend/internal/db/migrate"
	"pharma/backend/internal/errortrack"
	"pharma/backend/internal/mail"
	rtdomain "pharma/backend/internal/refreshtoken/domain"
	"pharma/backend/internal/security"
	sessiondomain "pharma/backend/internal/session/domain"
	userdomain "pharma/backend/internal/user/domain"
)

func TestOpen_EmptyDSN(t *testing.T) {
	b, err := Open(context.Background(), "", time.Second, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if b.Kind != "memory" || b.Pinger != nil {
		t.Errorf("Kind = %q, Pinger = %v", b.Kind, b.Pinger)
	}
	if err := b.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}

	if _, err := Open(context.Background(), "  ", time.Second, true); !errors.Is(err, ErrNoDatabase) {
		t.Fatalf("production without DSN: err = %v", err)
	}
}

func TestMemory_RollbackDiscardsWrites(t *testing.T) {
	b := Memory()
	ctx := context.Background()
	boom := errors.New("boom")
	err := b.Tx.InTx(ctx, func(ctx context.Context) error {
		if err := b.Users.Create(ctx, &userdomain.User{ID: "u1", Email: "a@example.com", PasswordHash: "x", Role: userdomain.RoleBuyer, Status: userdomain.UserStatusActive}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v", err)
	}
	u, err := b.Users.GetByID(ctx, "u1")
	if err != nil || u != nil {
		t.Fatalf("GetByID after rollback = %v, %v", u, err)
	}
}

// openPostgres migrates and opens TEST_DATABASE_URL, skipping the test when it is not set.
func openPostgres(t *testing.T) *Backend {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set, skipping integration test")
	}
	if err := migrate.Run(dsn, "up"); err != nil {
		t.Fatalf("migrate up: %v", err)
	}
	b, err := Open(context.Background(), dsn, 5*time.Second, false)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = b.Close() })
	if b.Kind != "postgres" {
		t.Fatalf("Kind = %q", b.Kind)
	}
	return b
}

func newUser(now time.Time) *userdomain.User {
	return &userdomain.User{
		ID: uuid.New().String(), FirstName: "Int", LastName: "Test", Email: uuid.New().String() + "@example.com",
		PasswordHash: "$2a$04$placeholder", Role: userdomain.RoleBuyer, Status: userdomain.UserStatusActive, CreatedAt: now,
	}
}

// TestPostgres_SessionAndRefreshRoundTrip runs the repositories against a migrated database.
func TestPostgres_SessionAndRefreshRoundTrip(t *testing.T) {
	b := openPostgres(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	u := newUser(now)
	s := &sessiondomain.Session{
		ID: uuid.New().String(), UserID: u.ID, IPAddress: "198.51.100.7", UserAgent: "it",
		Location: &sessiondomain.Location{Country: "Sweden", City: "Stockholm"}, CreatedAt: now, LastActivityAt: now, Active: true,
	}
	raw := "integration-secret-" + uuid.New().String()
	rt := &rtdomain.RefreshToken{ID: uuid.New().String(), SessionID: s.ID, TokenHash: security.HashRefreshToken(raw), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}

	err := b.Tx.InTx(ctx, func(ctx context.Context) error {
		if err := b.Users.Create(ctx, u); err != nil {
			return err
		}
		if err := b.Sessions.Create(ctx, s); err != nil {
			return err
		}
		return b.RefreshTokens.Create(ctx, rt)
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	active, err := b.Sessions.GetActiveByUser(ctx, u.ID)
	if err != nil || active == nil || active.ID != s.ID {
		t.Fatalf("GetActiveByUser = %+v, %v", active, err)
	}
	if active.Location == nil || active.Location.City != "Stockholm" {
		t.Errorf("Location = %+v", active.Location)
	}
	got, err := b.RefreshTokens.GetByHashForUpdate(ctx, rt.TokenHash)
	if err != nil || got == nil || got.SessionID != s.ID {
		t.Fatalf("GetByHashForUpdate = %+v, %v", got, err)
	}
	if err := b.Pinger.PingContext(ctx); err != nil {
		t.Errorf("PingContext: %v", err)
	}
}

type refusingMailer struct{}

func (refusingMailer) Send(context.Context, mail.Message) error { return errors.New("relay refused") }

func TestPostgres_CaptureAfterRolledBackRegistration(t *testing.T) {
	b := openPostgres(t)
	ctx := context.Background()
	pool, ok := b.Pinger.(*sql.DB)
	if !ok {
		t.Fatalf("Pinger is %T, want *sql.DB", b.Pinger)
	}
	svc := accountservice.NewService(b.Tx, b.Users, b.AccountTokens, security.NewHasher(4), refusingMailer{}, time.Hour, "").
		WithErrorSink(errortrack.NewStoreSink(b.Errors))

	email := uuid.New().String() + "@example.com"
	_, err := svc.Register(ctx, accountservice.RegisterRequest{FirstName: "Int", LastName: "Test", Email: email, Password: "s3cret-pass", Role: userdomain.RoleBuyer})
	if !errors.Is(err, mail.ErrDelivery) {
		t.Fatalf("Register = %v, want ErrDelivery", err)
	}
	if u, err := b.Users.GetByEmail(ctx, email); err != nil || u != nil {
		t.Fatalf("user after rollback = %+v, %v", u, err)
	}

	var n int
	if err := pool.QueryRowContext(ctx,
		`SELECT count(*) FROM errors WHERE text LIKE 'register: %' AND user_id IS NOT NULL AND user_id NOT IN (SELECT id FROM users)`).
		Scan(&n); err != nil {
		t.Fatalf("count errors: %v", err)
	}
	if n == 0 {
		t.Error("the failed registration should be recorded against its unsaved user id")
	}
}

func TestPostgres_DeleteUserCascades(t *testing.T) {
	b := openPostgres(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Microsecond)
	u := newUser(now)
	s := &sessiondomain.Session{ID: uuid.New().String(), UserID: u.ID, CreatedAt: now, LastActivityAt: now, Active: true}
	rt := &rtdomain.RefreshToken{ID: uuid.New().String(), SessionID: s.ID, TokenHash: security.HashRefreshToken(uuid.New().String()), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}
	bl := &rtdomain.BlacklistToken{ID: uuid.New().String(), SessionID: s.ID, TokenHash: security.HashRefreshToken(uuid.New().String()), CreatedAt: now, ExpiresAt: now.Add(time.Hour)}

	err := b.Tx.InTx(ctx, func(ctx context.Context) error {
		if err := b.Users.Create(ctx, u); err != nil {
			return err
		}
		if err := b.Sessions.Create(ctx, s); err != nil {
			return err
		}
		if err := b.RefreshTokens.Create(ctx, rt); err != nil {
			return err
		}
		return b.RefreshTokens.InsertBlacklist(ctx, bl)
	})
	if err != nil {
		t.Fatalf("InTx: %v", err)
	}

	err = b.Tx.InTx(ctx, func(ctx context.Context) error {
		owner, err := b.RefreshTokens.SessionOwner(ctx, s.ID)
		if err != nil {
			return err
		}
		if owner == nil || owner.UserID != u.ID || !owner.Active {
			t.Errorf("SessionOwner = %+v", owner)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("SessionOwner: %v", err)
	}

	if err := b.Users.Delete(ctx, u.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if got, err := b.Sessions.GetByID(ctx, s.ID); err != nil || got != nil {
		t.Errorf("session after delete = %+v, %v", got, err)
	}
	if got, err := b.RefreshTokens.GetByHash(ctx, rt.TokenHash); err != nil || got != nil {
		t.Errorf("refresh token after delete = %+v, %v", got, err)
	}
	if got, err := b.RefreshTokens.GetBlacklisted(ctx, bl.TokenHash); err != nil || got != nil {
		t.Errorf("blacklist after delete = %+v, %v", got, err)
	}
}
