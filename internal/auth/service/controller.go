// Package service implements the auth flow: login with single-active-session replacement,
// refresh-token rotation, logout, and access-token authentication.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"pharma/backend/internal/audit"
	"pharma/backend/internal/autherr"
	"pharma/backend/internal/db"
	"pharma/backend/internal/errortrack"
	"pharma/backend/internal/logger"
	"pharma/backend/internal/metrics"
	rtservice "pharma/backend/internal/refreshtoken/service"
	"pharma/backend/internal/security"
	sessiondomain "pharma/backend/internal/session/domain"
	"pharma/backend/internal/telemetry"
	telemetrydomain "pharma/backend/internal/telemetry/domain"
	telemetryotel "pharma/backend/internal/telemetry/otel"
	userdomain "pharma/backend/internal/user/domain"
)

const eventSource = "pharma-backend"

// LoginRequest carries the presented credentials and the client context recorded on the new session.
type LoginRequest struct {
	Email     string
	Password  string
	IP        string
	UserAgent string
}

// Credentials is the pair delivered to the client after login or refresh.
type Credentials struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	UserID           string
	Role             string
	SessionID        string
}

// UserRepo is the minimal user repository needed by the controller.
type UserRepo interface {
	GetByEmailForUpdate(ctx context.Context, email string) (*userdomain.User, error)
}

// SessionManager is the subset of session/service.Manager used by the controller.
type SessionManager interface {
	Create(ctx context.Context, userID, ip, userAgent string) (*sessiondomain.Session, error)
	GetActive(ctx context.Context, userID string) (*sessiondomain.Session, error)
	Touch(ctx context.Context, userID string) error
	Deactivate(ctx context.Context, sessionID string) error
}

// RefreshTokens is the subset of refreshtoken/service.Store used by the controller.
type RefreshTokens interface {
	Issue(ctx context.Context, sessionID string) (string, error)
	ValidateAndRotate(ctx context.Context, raw string) (*rtservice.Rotation, error)
	BlacklistAll(ctx context.Context, sessionID string) (int, error)
	TTL() time.Duration
}

// PasswordVerifier checks a password against its stored digest.
type PasswordVerifier interface {
	Verify(secret, digest string) bool
}

// AccessTokens issues and verifies signed access tokens.
type AccessTokens interface {
	Issue(userID, role string, ttl time.Duration) (string, time.Time, error)
	Verify(token string) (*security.Claims, error)
}

// Controller runs each auth operation as one transaction and reports its outcome to the
// audit log, the event stream, metrics, and, for unexpected failures, the error-tracking sink.
type Controller struct {
	tx        db.Transactor
	users     UserRepo
	sessions  SessionManager
	refresh   RefreshTokens
	passwords PasswordVerifier
	tokens    AccessTokens
	accessTTL time.Duration

	audit  audit.AuditLogger
	events telemetry.EventEmitter
	errors errortrack.Sink
	tracer trace.Tracer
	now    func() time.Time
}

// NewController returns a Controller. Observability collaborators default to no-ops; set them with
// WithAudit, WithEvents and WithErrorSink.
func NewController(
	tx db.Transactor,
	users UserRepo,
	sessions SessionManager,
	refresh RefreshTokens,
	passwords PasswordVerifier,
	tokens AccessTokens,
	accessTTL time.Duration,
) *Controller {
	return &Controller{
		tx:        tx,
		users:     users,
		sessions:  sessions,
		refresh:   refresh,
		passwords: passwords,
		tokens:    tokens,
		accessTTL: accessTTL,
		audit:     audit.NopLogger{},
		tracer:    telemetryotel.Tracer(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// WithAudit sets the audit logger.
func (c *Controller) WithAudit(l audit.AuditLogger) *Controller {
	if l != nil {
		c.audit = l
	}
	return c
}

// WithEvents sets the security event emitter. nil disables event publishing.
func (c *Controller) WithEvents(e telemetry.EventEmitter) *Controller {
	c.events = e
	return c
}

// WithErrorSink sets where unexpected failures are captured.
func (c *Controller) WithErrorSink(s errortrack.Sink) *Controller {
	c.errors = s
	return c
}

// WithClock replaces the controller's clock. Used by tests.
func (c *Controller) WithClock(now func() time.Time) *Controller {
	c.now = now
	return c
}

// AccessTTL returns the access token lifetime.
func (c *Controller) AccessTTL() time.Duration { return c.accessTTL }

// RefreshTTL returns the refresh token lifetime.
func (c *Controller) RefreshTTL() time.Duration { return c.refresh.TTL() }

// Login authenticates req and opens a new session, replacing the user's previous active session.
//
// The account must exist (autherr.ErrNotFound) and be active (autherr.ErrAccountNotConfirmed) before the
// password is checked (autherr.ErrBadCredentials). The previous session's refresh tokens are blacklisted
// and the session deactivated in the same transaction that creates the new one; its access token stays
// valid until it expires.
func (c *Controller) Login(ctx context.Context, req LoginRequest) (*Credentials, error) {
	ctx, span := c.tracer.Start(ctx, "auth.Login")
	defer span.End()

	var (
		creds    *Credentials
		userID   string
		replaced string
	)
	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		u, err := c.users.GetByEmailForUpdate(ctx, req.Email)
		if err != nil {
			return err
		}
		if u == nil {
			return autherr.ErrNotFound
		}
		userID = u.ID
		if u.Status != userdomain.UserStatusActive {
			return autherr.ErrAccountNotConfirmed
		}
		if !c.passwords.Verify(req.Password, u.PasswordHash) {
			return autherr.ErrBadCredentials
		}

		prev, err := c.sessions.GetActive(ctx, u.ID)
		if err != nil {
			return err
		}
		if prev != nil {
			if _, err := c.refresh.BlacklistAll(ctx, prev.ID); err != nil {
				return err
			}
			if err := c.sessions.Deactivate(ctx, prev.ID); err != nil {
				return err
			}
			replaced = prev.ID
		}

		s, err := c.sessions.Create(ctx, u.ID, req.IP, req.UserAgent)
		if err != nil {
			return err
		}
		raw, err := c.refresh.Issue(ctx, s.ID)
		if err != nil {
			return err
		}
		access, accessExp, err := c.tokens.Issue(u.ID, string(u.Role), c.accessTTL)
		if err != nil {
			return err
		}
		creds = &Credentials{
			AccessToken:      access,
			AccessExpiresAt:  accessExp,
			RefreshToken:     raw,
			RefreshExpiresAt: c.now().Add(c.refresh.TTL()),
			UserID:           u.ID,
			Role:             string(u.Role),
			SessionID:        s.ID,
		}
		return nil
	})

	var sessionID string
	if err == nil {
		sessionID = creds.SessionID
		if replaced != "" {
			logger.Info().Str("user_id", userID).Str("replaced_session_id", replaced).Str("session_id", sessionID).Msg("auth: previous session replaced")
		}
	}
	c.report(ctx, span, audit.OpLogin, userID, sessionID, req.IP, err)
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// Refresh consumes raw and returns a rotated refresh token with a new access token for the
// session's owner. Invalid, expired and reused tokens fail without further state changes; a reuse
// is reported against the session the token was issued for.
func (c *Controller) Refresh(ctx context.Context, raw string) (*Credentials, error) {
	ctx, span := c.tracer.Start(ctx, "auth.Refresh")
	defer span.End()

	var creds *Credentials
	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		rot, err := c.refresh.ValidateAndRotate(ctx, raw)
		if err != nil {
			return err
		}
		access, accessExp, err := c.tokens.Issue(rot.UserID, rot.Role, c.accessTTL)
		if err != nil {
			return err
		}
		creds = &Credentials{
			AccessToken:      access,
			AccessExpiresAt:  accessExp,
			RefreshToken:     rot.Secret,
			RefreshExpiresAt: rot.ExpiresAt,
			UserID:           rot.UserID,
			Role:             rot.Role,
			SessionID:        rot.SessionID,
		}
		return nil
	})

	var userID, sessionID string
	var reuse *autherr.ReuseError
	switch {
	case creds != nil:
		userID, sessionID = creds.UserID, creds.SessionID
	case errors.As(err, &reuse):
		userID, sessionID = reuse.UserID, reuse.SessionID
	}
	c.report(ctx, span, audit.OpRefresh, userID, sessionID, "", err)
	if err != nil {
		return nil, err
	}
	return creds, nil
}

// Logout blacklists the refresh tokens of the user's active session and deactivates it.
// It succeeds without changes when the user has no active session.
func (c *Controller) Logout(ctx context.Context, userID string) error {
	ctx, span := c.tracer.Start(ctx, "auth.Logout")
	defer span.End()

	var sessionID string
	err := c.tx.InTx(ctx, func(ctx context.Context) error {
		s, err := c.sessions.GetActive(ctx, userID)
		if err != nil {
			return err
		}
		if s == nil {
			return nil
		}
		sessionID = s.ID
		if _, err := c.refresh.BlacklistAll(ctx, s.ID); err != nil {
			return err
		}
		return c.sessions.Deactivate(ctx, s.ID)
	})
	c.report(ctx, span, audit.OpLogout, userID, sessionID, "", err)
	return err
}

// Authenticate verifies an access token and records activity for its user. The token is checked
// without a store lookup; a failed touch is logged and does not reject the request.
func (c *Controller) Authenticate(ctx context.Context, accessToken string) (*security.Claims, error) {
	claims, err := c.tokens.Verify(accessToken)
	if err != nil {
		return nil, err
	}
	if err := c.sessions.Touch(ctx, claims.UserID); err != nil {
		logger.Warn().Err(err).Str("user_id", claims.UserID).Msg("auth: touch session failed")
	}
	return claims, nil
}

// report runs after the transaction has finished, so audit rows and captured errors survive a rollback.
func (c *Controller) report(ctx context.Context, span trace.Span, op, userID, sessionID, ip string, err error) {
	outcome := audit.Outcome(err)
	metrics.ObserveAuth(op, outcome)
	span.SetAttributes(attribute.String("auth.op", op), attribute.String("auth.outcome", outcome))

	if errors.Is(err, autherr.ErrTokenReused) {
		logger.Warn().Str("op", op).Str("user_id", userID).Str("session_id", sessionID).Msg("auth: refresh token reuse detected")
	}
	if err != nil && !autherr.IsExpected(err) {
		span.RecordError(err)
		span.SetStatus(codes.Error, "unexpected failure")
		logger.Error().Err(err).Str("op", op).Str("user_id", userID).Msg("auth: operation failed")
		if c.errors != nil {
			c.errors.Capture(ctx, op+": "+err.Error(), userID)
		}
	}

	action := audit.ActionFor(op, err)
	c.audit.LogEvent(ctx, userID, action, audit.ResourceAuth, metadata(outcome, sessionID))
	telemetry.EmitAsync(c.events, &telemetrydomain.AuthEvent{
		ID:        uuid.New().String(),
		Type:      action,
		Outcome:   outcome,
		UserID:    userID,
		SessionID: sessionID,
		IP:        ip,
		Source:    eventSource,
		CreatedAt: c.now(),
	})
}

func metadata(outcome, sessionID string) string {
	m := map[string]string{"outcome": outcome}
	if sessionID != "" {
		m["session_id"] = sessionID
	}
	b, _ := json.Marshal(m)
	return string(b)
}
