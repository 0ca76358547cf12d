// Package service implements account registration, confirmation, and password reset by mailed code.
package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"pharma/backend/internal/account/domain"
	"pharma/backend/internal/audit"
	"pharma/backend/internal/autherr"
	"pharma/backend/internal/db"
	"pharma/backend/internal/errortrack"
	"pharma/backend/internal/logger"
	"pharma/backend/internal/mail"
	userdomain "pharma/backend/internal/user/domain"
)

const (
	minPasswordLen = 8
	// bcrypt ignores input past 72 bytes and x/crypto rejects it.
	maxPasswordLen = 72
)

// UserRepo is the minimal user repository needed by the account service.
type UserRepo interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByEmail(ctx context.Context, email string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
	SetStatus(ctx context.Context, id string, status userdomain.UserStatus) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	Delete(ctx context.Context, id string) error
}

// TokenRepo is the account token repository.
type TokenRepo interface {
	Create(ctx context.Context, t *domain.Token) error
	GetByCode(ctx context.Context, code string, purpose domain.Purpose) (*domain.Token, error)
	MarkUsed(ctx context.Context, id string) error
}

// PasswordHasher produces password digests.
type PasswordHasher interface {
	Hash(secret string) (string, error)
}

// RegisterRequest is a new account. Role defaults to buyer.
type RegisterRequest struct {
	FirstName string
	LastName  string
	Email     string
	Password  string
	Role      userdomain.Role
}

// Service manages the account lifecycle outside of login.
type Service struct {
	tx          db.Transactor
	users       UserRepo
	tokens      TokenRepo
	hasher      PasswordHasher
	mailer      mail.Sender
	tokenTTL    time.Duration
	frontendURL string

	audit  audit.AuditLogger
	errors errortrack.Sink
	now    func() time.Time
}

// NewService returns a Service. Codes expire after tokenTTL. frontendURL is the base of the links
// put in emails; empty omits the link and leaves only the code.
func NewService(tx db.Transactor, users UserRepo, tokens TokenRepo, hasher PasswordHasher, mailer mail.Sender, tokenTTL time.Duration, frontendURL string) *Service {
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &Service{
		tx:          tx,
		users:       users,
		tokens:      tokens,
		hasher:      hasher,
		mailer:      mailer,
		tokenTTL:    tokenTTL,
		frontendURL: strings.TrimRight(frontendURL, "/"),
		audit:       audit.NopLogger{},
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// WithAudit sets the audit logger.
func (s *Service) WithAudit(l audit.AuditLogger) *Service {
	if l != nil {
		s.audit = l
	}
	return s
}

// WithErrorSink sets where unexpected failures are captured.
func (s *Service) WithErrorSink(sink errortrack.Sink) *Service {
	s.errors = sink
	return s
}

// WithClock replaces the service's clock. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Register creates an inactive account and mails its confirmation code. The user, the code and the
// mail delivery succeed or fail together.
func (s *Service) Register(ctx context.Context, req RegisterRequest) (*userdomain.User, error) {
	if err := validatePassword(req.Password); err != nil {
		return nil, err
	}
	digest, err := s.hasher.Hash(req.Password)
	if err != nil {
		return nil, err
	}
	u := &userdomain.User{
		ID:           uuid.New().String(),
		FirstName:    strings.TrimSpace(req.FirstName),
		LastName:     strings.TrimSpace(req.LastName),
		Email:        req.Email,
		PasswordHash: digest,
		Role:         req.Role,
		Status:       userdomain.UserStatusInactive,
		CreatedAt:    s.now(),
	}
	if err := u.Validate(); err != nil {
		return nil, err
	}

	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		if err := s.users.Create(ctx, u); err != nil {
			return err
		}
		return s.sendCode(ctx, u, domain.PurposeConfirmAccount)
	})
	s.report(ctx, "register", u.ID, audit.ActionRegister, err)
	if err != nil {
		return nil, err
	}
	return u, nil
}

// Confirm activates the account that owns code.
func (s *Service) Confirm(ctx context.Context, code string) error {
	var userID string
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		t, err := s.redeem(ctx, code, domain.PurposeConfirmAccount)
		if err != nil {
			return err
		}
		userID = t.UserID
		return s.users.SetStatus(ctx, t.UserID, userdomain.UserStatusActive)
	})
	s.report(ctx, "confirm_account", userID, audit.ActionConfirmAccount, err)
	return err
}

// ForgotPassword mails a reset code to the account registered under email.
func (s *Service) ForgotPassword(ctx context.Context, email string) error {
	var userID string
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		u, err := s.users.GetByEmail(ctx, email)
		if err != nil {
			return err
		}
		if u == nil {
			return autherr.ErrNotFound
		}
		userID = u.ID
		return s.sendCode(ctx, u, domain.PurposeResetPassword)
	})
	if err != nil && !errors.Is(err, autherr.ErrNotFound) {
		s.report(ctx, "forgot_password", userID, "", err)
	}
	return err
}

// ResetPassword replaces the password of the account that owns code.
func (s *Service) ResetPassword(ctx context.Context, code, password, confirm string) error {
	if password != confirm {
		return domain.ErrPasswordMismatch
	}
	if err := validatePassword(password); err != nil {
		return err
	}
	digest, err := s.hasher.Hash(password)
	if err != nil {
		return err
	}
	var userID string
	err = s.tx.InTx(ctx, func(ctx context.Context) error {
		t, err := s.redeem(ctx, code, domain.PurposeResetPassword)
		if err != nil {
			return err
		}
		userID = t.UserID
		return s.users.UpdatePassword(ctx, t.UserID, digest)
	})
	s.report(ctx, "reset_password", userID, audit.ActionPasswordReset, err)
	return err
}

// GetUser returns the account with id, or autherr.ErrNotFound.
func (s *Service) GetUser(ctx context.Context, id string) (*userdomain.User, error) {
	u, err := s.users.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if u == nil {
		return nil, autherr.ErrNotFound
	}
	return u, nil
}

// DeleteUser removes the account with id and everything it owns: sessions, refresh and blacklist
// tokens, and pending codes. Access tokens already issued stay valid until they expire.
func (s *Service) DeleteUser(ctx context.Context, id string) error {
	err := s.tx.InTx(ctx, func(ctx context.Context) error {
		u, err := s.users.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if u == nil {
			return autherr.ErrNotFound
		}
		return s.users.Delete(ctx, id)
	})
	s.report(ctx, "delete_account", id, audit.ActionDeleteAccount, err)
	return err
}

func (s *Service) redeem(ctx context.Context, code string, purpose domain.Purpose) (*domain.Token, error) {
	if code == "" {
		return nil, autherr.ErrNotFound
	}
	t, err := s.tokens.GetByCode(ctx, code, purpose)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, autherr.ErrNotFound
	}
	if err := t.Redeemable(s.now()); err != nil {
		return nil, err
	}
	if err := s.tokens.MarkUsed(ctx, t.ID); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Service) sendCode(ctx context.Context, u *userdomain.User, purpose domain.Purpose) error {
	now := s.now()
	t := &domain.Token{
		ID:        uuid.New().String(),
		Code:      uuid.New().String(),
		Purpose:   purpose,
		UserID:    u.ID,
		ExpiresAt: now.Add(s.tokenTTL),
		CreatedAt: now,
	}
	if err := s.tokens.Create(ctx, t); err != nil {
		return err
	}
	msg := mail.Message{
		To: []string{u.Email},
		Data: map[string]any{
			"Name": strings.TrimSpace(u.FirstName + " " + u.LastName),
			"Code": t.Code,
		},
	}
	switch purpose {
	case domain.PurposeConfirmAccount:
		msg.Subject, msg.Template = "Confirm Account", mail.TemplateConfirmAccount
		msg.Data["Link"] = s.link("/confirm-account", t.Code)
	case domain.PurposeResetPassword:
		msg.Subject, msg.Template = "Reset Password", mail.TemplateResetPassword
		msg.Data["Link"] = s.link("/reset-password", t.Code)
	}
	if err := s.mailer.Send(ctx, msg); err != nil {
		return fmt.Errorf("send %s mail: %w: %w", purpose, mail.ErrDelivery, err)
	}
	return nil
}

func (s *Service) link(path, code string) string {
	if s.frontendURL == "" {
		return ""
	}
	return s.frontendURL + path + "?code=" + url.QueryEscape(code)
}

func (s *Service) report(ctx context.Context, op, userID, action string, err error) {
	if err != nil && !isExpected(err) {
		logger.Error().Err(err).Str("op", op).Str("user_id", userID).Msg("account: operation failed")
		if s.errors != nil {
			s.errors.Capture(ctx, op+": "+err.Error(), userID)
		}
		return
	}
	if err == nil && action != "" {
		s.audit.LogEvent(ctx, userID, action, audit.ResourceAccount, "")
	}
}

func validatePassword(p string) error {
	if len(p) < minPasswordLen || len(p) > maxPasswordLen {
		return domain.ErrWeakPassword
	}
	return nil
}

// isExpected reports whether err is a client error rather than a fault.
func isExpected(err error) bool {
	switch {
	case autherr.IsExpected(err),
		errors.Is(err, userdomain.ErrEmailTaken),
		errors.Is(err, userdomain.ErrInvalidUser),
		errors.Is(err, domain.ErrTokenUsed),
		errors.Is(err, domain.ErrTokenExpired),
		errors.Is(err, domain.ErrPasswordMismatch),
		errors.Is(err, domain.ErrWeakPassword):
		return true
	}
	return false
}
