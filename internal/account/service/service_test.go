package service

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"pharma/backend/internal/account/domain"
	"pharma/backend/internal/audit"
	"pharma/backend/internal/autherr"
	"pharma/backend/internal/errortrack"
	"pharma/backend/internal/mail"
	"pharma/backend/internal/memstore"
	rtdomain "pharma/backend/internal/refreshtoken/domain"
	"pharma/backend/internal/security"
	sessiondomain "pharma/backend/internal/session/domain"
	userdomain "pharma/backend/internal/user/domain"
)

type fakeMailer struct {
	mu   sync.Mutex
	sent []mail.Message
	err  error
}

func (f *fakeMailer) Send(ctx context.Context, m mail.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, m)
	return nil
}

func (f *fakeMailer) lastCode(t *testing.T) string {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		t.Fatal("no mail sent")
	}
	return f.sent[len(f.sent)-1].Data["Code"].(string)
}

type fixture struct {
	svc    *Service
	mem    *memstore.Store
	mailer *fakeMailer
	hasher *security.Hasher
	now    time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	mem := memstore.New()
	f := &fixture{mem: mem, mailer: &fakeMailer{}, hasher: security.NewHasher(4), now: time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)}
	f.svc = NewService(mem, mem.Users(), mem.AccountTokens(), f.hasher, f.mailer, 24*time.Hour, "https://shop.example/").
		WithAudit(audit.NewLogger(mem.Audit(), nil)).
		WithErrorSink(errortrack.NewStoreSink(mem.Errors())).
		WithClock(func() time.Time { return f.now })
	return f
}

func (f *fixture) register(t *testing.T) *userdomain.User {
	t.Helper()
	u, err := f.svc.Register(context.Background(), RegisterRequest{FirstName: "Ada", LastName: "Lovelace", Email: "Ada@Example.com", Password: "s3cret-pass"})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}
	return u
}

func TestRegister(t *testing.T) {
	f := newFixture(t)
	u := f.register(t)

	if u.Status != userdomain.UserStatusInactive || u.Role != userdomain.RoleBuyer || u.Email != "ada@example.com" {
		t.Errorf("user = %+v", u)
	}
	if u.PasswordHash == "s3cret-pass" || !f.hasher.Verify("s3cret-pass", u.PasswordHash) {
		t.Error("password should be stored as a bcrypt digest")
	}
	m := f.mailer.sent[0]
	if m.Template != mail.TemplateConfirmAccount || m.To[0] != "ada@example.com" || m.Data["Name"] != "Ada Lovelace" {
		t.Errorf("mail = %+v", m)
	}
	link, _ := m.Data["Link"].(string)
	if !strings.HasPrefix(link, "https://shop.example/confirm-account?code=") {
		t.Errorf("link = %q", link)
	}
}

func TestRegister_DuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	_, err := f.svc.Register(context.Background(), RegisterRequest{Email: "ada@example.com", Password: "another-pass"})
	if !errors.Is(err, userdomain.ErrEmailTaken) {
		t.Fatalf("Register = %v, want ErrEmailTaken", err)
	}
	if n := len(f.mem.ErrorEntries()); n != 0 {
		t.Errorf("duplicate email captured %d errors", n)
	}
}

func TestRegister_Validation(t *testing.T) {
	f := newFixture(t)
	testCases := []struct {
		name string
		req  RegisterRequest
		want error
	}{
		{"short password", RegisterRequest{Email: "a@example.com", Password: "short"}, domain.ErrWeakPassword},
		{"long password", RegisterRequest{Email: "a@example.com", Password: strings.Repeat("x", 73)}, domain.ErrWeakPassword},
		{"bad email", RegisterRequest{Email: "nope", Password: "long-enough"}, userdomain.ErrInvalidUser},
		{"bad role", RegisterRequest{Email: "a@example.com", Password: "long-enough", Role: "root"}, userdomain.ErrInvalidUser},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := f.svc.Register(context.Background(), tc.req); !errors.Is(err, tc.want) {
				t.Errorf("Register = %v, want %v", err, tc.want)
			}
		})
	}
}

func TestRegister_MailFailureRollsBack(t *testing.T) {
	f := newFixture(t)
	f.mailer.err = errors.New("relay refused")
	_, err := f.svc.Register(context.Background(), RegisterRequest{Email: "ada@example.com", Password: "s3cret-pass"})
	if !errors.Is(err, mail.ErrDelivery) {
		t.Fatalf("Register = %v, want ErrDelivery", err)
	}
	if u, _ := f.mem.Users().GetByEmail(context.Background(), "ada@example.com"); u != nil {
		t.Error("user should not persist when the confirmation mail fails")
	}
	if n := len(f.mem.ErrorEntries()); n != 1 {
		t.Errorf("captured errors = %d, want 1", n)
	}
}

func TestConfirm(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t)
	code := f.mailer.lastCode(t)

	if err := f.svc.Confirm(ctx, code); err != nil {
		t.Fatalf("Confirm: %v", err)
	}
	got, _ := f.svc.GetUser(ctx, u.ID)
	if got.Status != userdomain.UserStatusActive {
		t.Errorf("Status = %q, want active", got.Status)
	}
	if err := f.svc.Confirm(ctx, code); !errors.Is(err, domain.ErrTokenUsed) {
		t.Errorf("second Confirm = %v, want ErrTokenUsed", err)
	}
	if err := f.svc.Confirm(ctx, "unknown"); !errors.Is(err, autherr.ErrNotFound) {
		t.Errorf("Confirm(unknown) = %v, want ErrNotFound", err)
	}
}

func TestConfirm_Expired(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	code := f.mailer.lastCode(t)
	f.now = f.now.Add(25 * time.Hour)
	if err := f.svc.Confirm(context.Background(), code); !errors.Is(err, domain.ErrTokenExpired) {
		t.Errorf("Confirm = %v, want ErrTokenExpired", err)
	}
}

func TestConfirm_RejectsResetCode(t *testing.T) {
	f := newFixture(t)
	f.register(t)
	if err := f.svc.ForgotPassword(context.Background(), "ada@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	if err := f.svc.Confirm(context.Background(), f.mailer.lastCode(t)); !errors.Is(err, autherr.ErrNotFound) {
		t.Errorf("Confirm(reset code) = %v, want ErrNotFound", err)
	}
}

func TestForgotAndResetPassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t)

	if err := f.svc.ForgotPassword(ctx, "nobody@example.com"); !errors.Is(err, autherr.ErrNotFound) {
		t.Errorf("ForgotPassword(unknown) = %v, want ErrNotFound", err)
	}
	if err := f.svc.ForgotPassword(ctx, "ADA@example.com"); err != nil {
		t.Fatalf("ForgotPassword: %v", err)
	}
	code := f.mailer.lastCode(t)
	if tmpl := f.mailer.sent[len(f.mailer.sent)-1].Template; tmpl != mail.TemplateResetPassword {
		t.Errorf("template = %q", tmpl)
	}

	if err := f.svc.ResetPassword(ctx, code, "new-password", "other-password"); !errors.Is(err, domain.ErrPasswordMismatch) {
		t.Errorf("mismatch = %v, want ErrPasswordMismatch", err)
	}
	if err := f.svc.ResetPassword(ctx, code, "new-password", "new-password"); err != nil {
		t.Fatalf("ResetPassword: %v", err)
	}
	got, _ := f.svc.GetUser(ctx, u.ID)
	if !f.hasher.Verify("new-password", got.PasswordHash) {
		t.Error("password was not updated")
	}
	if err := f.svc.ResetPassword(ctx, code, "third-password", "third-password"); !errors.Is(err, domain.ErrTokenUsed) {
		t.Errorf("reuse = %v, want ErrTokenUsed", err)
	}
}

func TestGetUser_NotFound(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.GetUser(context.Background(), "missing"); !errors.Is(err, autherr.ErrNotFound) {
		t.Errorf("GetUser = %v, want ErrNotFound", err)
	}
}

func TestDeleteUser_CascadesToSessionsAndTokens(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.register(t)
	other := &userdomain.User{ID: "other-1", Email: "other@example.com", PasswordHash: "x", Role: userdomain.RoleBuyer, Status: userdomain.UserStatusActive, CreatedAt: f.now}
	if err := f.mem.Users().Create(ctx, other); err != nil {
		t.Fatalf("create other: %v", err)
	}
	for _, sess := range []*sessiondomain.Session{
		{ID: "s-old", UserID: u.ID, CreatedAt: f.now, LastActivityAt: f.now},
		{ID: "s-new", UserID: u.ID, CreatedAt: f.now, LastActivityAt: f.now, Active: true},
		{ID: "s-other", UserID: other.ID, CreatedAt: f.now, LastActivityAt: f.now, Active: true},
	} {
		if err := f.mem.Sessions().Create(ctx, sess); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}
	tokens := f.mem.RefreshTokens()
	live := &rtdomain.RefreshToken{ID: "rt-1", TokenHash: "h-live", SessionID: "s-new", ExpiresAt: f.now.Add(time.Hour), CreatedAt: f.now}
	kept := &rtdomain.RefreshToken{ID: "rt-2", TokenHash: "h-kept", SessionID: "s-other", ExpiresAt: f.now.Add(time.Hour), CreatedAt: f.now}
	for _, rt := range []*rtdomain.RefreshToken{live, kept} {
		if err := tokens.Create(ctx, rt); err != nil {
			t.Fatalf("create refresh token: %v", err)
		}
	}
	if err := tokens.InsertBlacklist(ctx, &rtdomain.BlacklistToken{ID: "bl-1", TokenHash: "h-old", SessionID: "s-old", ExpiresAt: f.now.Add(time.Hour), CreatedAt: f.now}); err != nil {
		t.Fatalf("blacklist: %v", err)
	}
	code := f.mailer.lastCode(t)

	if err := f.svc.DeleteUser(ctx, u.ID); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	if got, _ := f.mem.Users().GetByID(ctx, u.ID); got != nil {
		t.Error("user should be gone")
	}
	snap := f.mem.Inspect()
	if snap.Sessions != 1 || snap.LiveRefresh["s-new"] != 0 || snap.Blacklisted["s-old"] != 0 {
		t.Errorf("cascade incomplete: %+v", snap)
	}
	if snap.ActiveSessions[other.ID] != 1 || snap.LiveRefresh["s-other"] != 1 {
		t.Errorf("other user's rows should survive: %+v", snap)
	}
	if err := f.svc.Confirm(ctx, code); !errors.Is(err, autherr.ErrNotFound) {
		t.Errorf("Confirm after delete = %v, want ErrNotFound", err)
	}
	logs := f.mem.AuditLogs()
	if last := logs[len(logs)-1]; last.Action != audit.ActionDeleteAccount || last.UserID != u.ID {
		t.Errorf("audit = %+v", last)
	}

	if err := f.svc.DeleteUser(ctx, u.ID); !errors.Is(err, autherr.ErrNotFound) {
		t.Errorf("second DeleteUser = %v, want ErrNotFound", err)
	}
}
