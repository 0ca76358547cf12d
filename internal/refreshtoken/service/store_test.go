package service

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"pharma/backend/internal/autherr"
	"pharma/backend/internal/memstore"
	"pharma/backend/internal/security"
	sessiondomain "pharma/backend/internal/session/domain"
	userdomain "pharma/backend/internal/user/domain"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

type fixture struct {
	mem     *memstore.Store
	store   *Store
	session string
	now     time.Time
}

func (f *fixture) clock() time.Time { return f.now }

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	mem := memstore.New()
	u := &userdomain.User{ID: "u1", Email: "a@example.com", PasswordHash: "x", Role: userdomain.RoleAdmin, Status: userdomain.UserStatusActive, CreatedAt: t0}
	if err := mem.Users().Create(ctx, u); err != nil {
		t.Fatalf("create user: %v", err)
	}
	s := &sessiondomain.Session{ID: "s1", UserID: "u1", CreatedAt: t0, LastActivityAt: t0, Active: true}
	if err := mem.Sessions().Create(ctx, s); err != nil {
		t.Fatalf("create session: %v", err)
	}
	f := &fixture{mem: mem, session: "s1", now: t0}
	f.store = NewStore(mem.RefreshTokens(), mem, time.Hour, 32).WithClock(f.clock)
	return f
}

func TestIssue_StoresOnlyHash(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	raw, err := f.store.Issue(ctx, f.session)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if len(raw) < 43 {
		t.Errorf("secret too short: %d chars", len(raw))
	}
	live, err := f.mem.RefreshTokens().ListBySessionForUpdate(ctx, f.session)
	if err != nil || len(live) != 1 {
		t.Fatalf("live tokens = %v, %v", live, err)
	}
	if live[0].TokenHash == raw {
		t.Fatal("raw secret must not be stored")
	}
	if live[0].TokenHash != security.HashRefreshToken(raw) {
		t.Error("stored hash does not match the secret")
	}
	if !live[0].ExpiresAt.Equal(t0.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v, want %v", live[0].ExpiresAt, t0.Add(time.Hour))
	}
}

func TestNewStore_RaisesSecretBytesToMinimum(t *testing.T) {
	s := NewStore(nil, nil, time.Minute, 8)
	if s.secretBytes != security.MinRefreshSecretBytes {
		t.Errorf("secretBytes = %d, want %d", s.secretBytes, security.MinRefreshSecretBytes)
	}
	if s.TTL() != time.Minute {
		t.Errorf("TTL = %v", s.TTL())
	}
}

func TestValidateAndRotate_RotatesOnceThenReused(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw, _ := f.store.Issue(ctx, f.session)

	f.now = t0.Add(10 * time.Minute)
	rot, err := f.store.ValidateAndRotate(ctx, raw)
	if err != nil {
		t.Fatalf("ValidateAndRotate: %v", err)
	}
	if rot.Secret == "" || rot.Secret == raw {
		t.Fatal("rotation should return a fresh secret")
	}
	if rot.SessionID != f.session || rot.UserID != "u1" || rot.Role != "admin" {
		t.Errorf("rotation = %+v", rot)
	}
	if !rot.ExpiresAt.Equal(f.now.Add(time.Hour)) {
		t.Errorf("ExpiresAt = %v", rot.ExpiresAt)
	}
	snap := f.mem.Inspect()
	if snap.LiveRefresh[f.session] != 1 || snap.Blacklisted[f.session] != 1 {
		t.Errorf("live=%d blacklisted=%d, want 1/1", snap.LiveRefresh[f.session], snap.Blacklisted[f.session])
	}

	if _, err := f.store.ValidateAndRotate(ctx, raw); !errors.Is(err, autherr.ErrTokenReused) {
		t.Fatalf("replay = %v, want ErrTokenReused", err)
	}
	// The replacement is unaffected by the replay attempt.
	if _, err := f.store.ValidateAndRotate(ctx, rot.Secret); err != nil {
		t.Fatalf("rotate replacement: %v", err)
	}
}

func TestValidateAndRotate_ReuseNamesSessionAndOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw, _ := f.store.Issue(ctx, f.session)
	if _, err := f.store.ValidateAndRotate(ctx, raw); err != nil {
		t.Fatalf("ValidateAndRotate: %v", err)
	}

	_, err := f.store.ValidateAndRotate(ctx, raw)
	var reuse *autherr.ReuseError
	if !errors.As(err, &reuse) {
		t.Fatalf("replay = %v, want *autherr.ReuseError", err)
	}
	if reuse.SessionID != f.session || reuse.UserID != "u1" {
		t.Errorf("reuse = %+v, want session %s owned by u1", reuse, f.session)
	}
}

func TestValidateAndRotate_InactiveSessionIsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw, _ := f.store.Issue(ctx, f.session)
	// A live token left on a deactivated session must not keep it alive.
	if err := f.mem.Sessions().Deactivate(ctx, f.session); err != nil {
		t.Fatalf("Deactivate: %v", err)
	}

	if _, err := f.store.ValidateAndRotate(ctx, raw); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Fatalf("ValidateAndRotate = %v, want ErrTokenInvalid", err)
	}
	snap := f.mem.Inspect()
	if snap.LiveRefresh[f.session] != 1 || snap.Blacklisted[f.session] != 0 {
		t.Errorf("rejected rotation mutated state: live=%d blacklisted=%d", snap.LiveRefresh[f.session], snap.Blacklisted[f.session])
	}
}

func TestValidateAndRotate_UnknownAndEmpty(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, raw := range []string{"", "never-issued"} {
		if _, err := f.store.ValidateAndRotate(ctx, raw); !errors.Is(err, autherr.ErrTokenInvalid) {
			t.Errorf("ValidateAndRotate(%q) = %v, want ErrTokenInvalid", raw, err)
		}
	}
}

func TestValidateAndRotate_ExpiredChangesNothing(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw, _ := f.store.Issue(ctx, f.session)

	// Expiry is strict: at exactly ExpiresAt the token is still valid, one tick later it is not.
	f.now = t0.Add(time.Hour + time.Nanosecond)
	if _, err := f.store.ValidateAndRotate(ctx, raw); !errors.Is(err, autherr.ErrTokenExpired) {
		t.Fatalf("ValidateAndRotate = %v, want ErrTokenExpired", err)
	}
	snap := f.mem.Inspect()
	if snap.LiveRefresh[f.session] != 1 || snap.Blacklisted[f.session] != 0 {
		t.Errorf("expired token mutated state: live=%d blacklisted=%d", snap.LiveRefresh[f.session], snap.Blacklisted[f.session])
	}
}

func TestValidateAndRotate_ValidAtExactExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw, _ := f.store.Issue(ctx, f.session)

	f.now = t0.Add(time.Hour)
	if _, err := f.store.ValidateAndRotate(ctx, raw); err != nil {
		t.Fatalf("ValidateAndRotate at expiry: %v", err)
	}
}

func TestValidateAndRotate_ConcurrentOnlyOneWins(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw, _ := f.store.Issue(ctx, f.session)

	const n = 8
	var (
		wg     sync.WaitGroup
		mu     sync.Mutex
		wins   int
		reused int
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.store.ValidateAndRotate(ctx, raw)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				wins++
			case errors.Is(err, autherr.ErrTokenReused):
				reused++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	if wins != 1 || reused != n-1 {
		t.Errorf("wins=%d reused=%d, want 1/%d", wins, reused, n-1)
	}
}

func TestValidateAndRotate_RollsBackOnStoreFailure(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw, _ := f.store.Issue(ctx, f.session)

	f.mem.FailNext("refresh.Create", autherr.Store("insert", errors.New("disk full")))
	if _, err := f.store.ValidateAndRotate(ctx, raw); !errors.Is(err, autherr.ErrStoreFailure) {
		t.Fatalf("ValidateAndRotate = %v, want ErrStoreFailure", err)
	}
	snap := f.mem.Inspect()
	if snap.LiveRefresh[f.session] != 1 || snap.Blacklisted[f.session] != 0 {
		t.Fatalf("failed rotation left partial state: live=%d blacklisted=%d", snap.LiveRefresh[f.session], snap.Blacklisted[f.session])
	}
	// The original secret is still usable after the rollback.
	if _, err := f.store.ValidateAndRotate(ctx, raw); err != nil {
		t.Fatalf("retry after rollback: %v", err)
	}
}

func TestValidateAndRotate_OrphanedTokenIsInvalid(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	raw, err := f.store.Issue(ctx, "no-such-session")
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}
	if _, err := f.store.ValidateAndRotate(ctx, raw); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Fatalf("ValidateAndRotate = %v, want ErrTokenInvalid", err)
	}
}

func TestBlacklistAll(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, _ := f.store.Issue(ctx, f.session)
	b, _ := f.store.Issue(ctx, f.session)

	n, err := f.store.BlacklistAll(ctx, f.session)
	if err != nil {
		t.Fatalf("BlacklistAll: %v", err)
	}
	if n != 2 {
		t.Errorf("BlacklistAll = %d, want 2", n)
	}
	for _, raw := range []string{a, b} {
		if _, err := f.store.ValidateAndRotate(ctx, raw); !errors.Is(err, autherr.ErrTokenReused) {
			t.Errorf("after BlacklistAll = %v, want ErrTokenReused", err)
		}
	}
	if n, err := f.store.BlacklistAll(ctx, f.session); err != nil || n != 0 {
		t.Errorf("second BlacklistAll = %d, %v; want 0, nil", n, err)
	}
}

func TestSweep_RemovesExpiredRows(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	rotated, _ := f.store.Issue(ctx, f.session)
	if _, err := f.store.ValidateAndRotate(ctx, rotated); err != nil {
		t.Fatalf("rotate: %v", err)
	}
	f.now = t0.Add(30 * time.Minute)
	fresh, _ := f.store.Issue(ctx, f.session)

	res, err := f.store.Sweep(ctx, t0.Add(time.Hour+time.Minute))
	if err != nil {
		t.Fatalf("Sweep: %v", err)
	}
	if res.RefreshTokens != 1 || res.BlacklistTokens != 1 {
		t.Errorf("Sweep = %+v, want 1 refresh and 1 blacklist", res)
	}
	// A swept blacklist entry can no longer be told apart from a never-issued secret.
	if _, err := f.store.ValidateAndRotate(ctx, rotated); !errors.Is(err, autherr.ErrTokenInvalid) {
		t.Errorf("swept replay = %v, want ErrTokenInvalid", err)
	}
	f.now = t0.Add(time.Hour + time.Minute)
	if _, err := f.store.ValidateAndRotate(ctx, fresh); err != nil {
		t.Errorf("unexpired token after sweep: %v", err)
	}
}
