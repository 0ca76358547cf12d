package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	rtdomain "pharma/backend/internal/refreshtoken/domain"
	sessiondomain "pharma/backend/internal/session/domain"
	userdomain "pharma/backend/internal/user/domain"
)

func TestInTx_RollbackRestoresState(t *testing.T) {
	s := New()
	ctx := context.Background()
	boom := errors.New("boom")

	err := s.InTx(ctx, func(ctx context.Context) error {
		if err := s.Users().Create(ctx, &userdomain.User{ID: "u1", Email: "a@example.com"}); err != nil {
			return err
		}
		// Nested call joins the outer transaction and does not deadlock.
		return s.InTx(ctx, func(ctx context.Context) error {
			if err := s.Sessions().Create(ctx, &sessiondomain.Session{ID: "s1", UserID: "u1", Active: true}); err != nil {
				return err
			}
			return boom
		})
	})
	if !errors.Is(err, boom) {
		t.Fatalf("InTx err = %v, want boom", err)
	}
	if u, _ := s.Users().GetByID(ctx, "u1"); u != nil {
		t.Error("user should be rolled back")
	}
	if got := s.Inspect().Sessions; got != 0 {
		t.Errorf("sessions = %d, want 0", got)
	}
}

func TestInTx_Commit(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.InTx(ctx, func(ctx context.Context) error {
		return s.Users().Create(ctx, &userdomain.User{ID: "u1", Email: "a@example.com"})
	}); err != nil {
		t.Fatalf("InTx: %v", err)
	}
	u, err := s.Users().GetByEmail(ctx, "A@Example.com")
	if err != nil || u == nil || u.ID != "u1" {
		t.Fatalf("GetByEmail = %v, %v", u, err)
	}
}

func TestInTx_CancelledContext(t *testing.T) {
	s := New()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	called := false
	err := s.InTx(ctx, func(ctx context.Context) error { called = true; return nil })
	if err == nil || called {
		t.Fatalf("InTx on cancelled ctx = %v, called = %v", err, called)
	}
}

func TestFailNext_OneShot(t *testing.T) {
	s := New()
	ctx := context.Background()
	injected := errors.New("disk full")
	s.FailNext("refresh.Create", injected)

	tok := &rtdomain.RefreshToken{ID: "t1", TokenHash: "h1", SessionID: "s1"}
	if err := s.RefreshTokens().Create(ctx, tok); !errors.Is(err, injected) {
		t.Fatalf("first Create = %v, want injected", err)
	}
	if err := s.RefreshTokens().Create(ctx, tok); err != nil {
		t.Fatalf("second Create: %v", err)
	}
}

func TestRefreshTokens_UniqueHash(t *testing.T) {
	s := New()
	ctx := context.Background()
	if err := s.RefreshTokens().Create(ctx, &rtdomain.RefreshToken{ID: "t1", TokenHash: "h"}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.RefreshTokens().Create(ctx, &rtdomain.RefreshToken{ID: "t2", TokenHash: "h"}); err == nil {
		t.Fatal("duplicate hash should be rejected")
	}
}

func TestUsers_DuplicateEmail(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Users().Create(ctx, &userdomain.User{ID: "u1", Email: "a@example.com"})
	if err := s.Users().Create(ctx, &userdomain.User{ID: "u2", Email: "A@example.com"}); !errors.Is(err, userdomain.ErrEmailTaken) {
		t.Fatalf("Create duplicate = %v, want ErrEmailTaken", err)
	}
}

func TestSessions_LatestBreaksTiesByInsertion(t *testing.T) {
	s := New()
	ctx := context.Background()
	at := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	_ = s.Sessions().Create(ctx, &sessiondomain.Session{ID: "first", UserID: "u1", CreatedAt: at})
	_ = s.Sessions().Create(ctx, &sessiondomain.Session{ID: "second", UserID: "u1", CreatedAt: at})

	latest, err := s.Sessions().GetLatestByUser(ctx, "u1")
	if err != nil || latest == nil {
		t.Fatalf("GetLatestByUser = %v, %v", latest, err)
	}
	if latest.ID != "second" {
		t.Errorf("latest = %q, want second", latest.ID)
	}
}

func TestSessions_ReturnsCopies(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.Sessions().Create(ctx, &sessiondomain.Session{ID: "s1", UserID: "u1", Active: true, Location: &sessiondomain.Location{City: "Lyon"}})

	got, _ := s.Sessions().GetByID(ctx, "s1")
	got.Active = false
	got.Location.City = "Paris"

	again, _ := s.Sessions().GetByID(ctx, "s1")
	if !again.Active || again.Location.City != "Lyon" {
		t.Error("mutating a returned session should not change the store")
	}
}

func TestRefreshTokens_DeleteExpired(t *testing.T) {
	s := New()
	ctx := context.Background()
	now := time.Now()
	r := s.RefreshTokens()
	_ = r.Create(ctx, &rtdomain.RefreshToken{ID: "old", TokenHash: "h-old", ExpiresAt: now.Add(-time.Hour)})
	_ = r.Create(ctx, &rtdomain.RefreshToken{ID: "new", TokenHash: "h-new", ExpiresAt: now.Add(time.Hour)})
	_ = r.InsertBlacklist(ctx, &rtdomain.BlacklistToken{ID: "b", TokenHash: "h-b", ExpiresAt: now.Add(-time.Minute)})

	refresh, blacklist, err := r.DeleteExpired(ctx, now)
	if err != nil {
		t.Fatalf("DeleteExpired: %v", err)
	}
	if refresh != 1 || blacklist != 1 {
		t.Errorf("deleted refresh=%d blacklist=%d, want 1 and 1", refresh, blacklist)
	}
	if tok, _ := r.GetByHashForUpdate(ctx, "h-new"); tok == nil {
		t.Error("unexpired token should remain")
	}
}
