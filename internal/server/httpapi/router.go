// Package httpapi is the HTTP boundary: cookie-based login, refresh and logout, the account
// lifecycle routes, and health and metrics endpoints.
package httpapi

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	accountservice "pharma/backend/internal/account/service"
	auditdomain "pharma/backend/internal/audit/domain"
	authservice "pharma/backend/internal/auth/service"
	"pharma/backend/internal/logger"
	"pharma/backend/internal/security"
	sessiondomain "pharma/backend/internal/session/domain"
	userdomain "pharma/backend/internal/user/domain"
)

// AuthFlow is implemented by auth/service.Controller.
type AuthFlow interface {
	Login(ctx context.Context, req authservice.LoginRequest) (*authservice.Credentials, error)
	Refresh(ctx context.Context, raw string) (*authservice.Credentials, error)
	Logout(ctx context.Context, userID string) error
	Authenticate(ctx context.Context, accessToken string) (*security.Claims, error)
	AccessTTL() time.Duration
	RefreshTTL() time.Duration
}

// Accounts is implemented by account/service.Service.
type Accounts interface {
	Register(ctx context.Context, req accountservice.RegisterRequest) (*userdomain.User, error)
	Confirm(ctx context.Context, code string) error
	ForgotPassword(ctx context.Context, email string) error
	ResetPassword(ctx context.Context, code, password, confirm string) error
	GetUser(ctx context.Context, id string) (*userdomain.User, error)
	DeleteUser(ctx context.Context, id string) error
}

// SessionLister is implemented by session/service.Manager.
type SessionLister interface {
	List(ctx context.Context, userID string) ([]*sessiondomain.Session, error)
}

// ActivityReader lists a user's recent audit events. Implemented by audit/repository.Repository.
type ActivityReader interface {
	ListByUser(ctx context.Context, userID string, limit int) ([]*auditdomain.AuditLog, error)
}

// ReadinessChecker reports whether the backing store is reachable.
type ReadinessChecker interface {
	Ready(ctx context.Context) error
}

// Options are the boundary settings taken from config.
type Options struct {
	Cookies     CookieOptions
	CORSOrigins []string
	LoginRPS    float64
	LoginBurst  int
	// Metrics serves GET /metrics. Defaults to promhttp.Handler().
	Metrics http.Handler
}

// Deps are the services behind the routes.
type Deps struct {
	Auth     AuthFlow
	Accounts Accounts
	Sessions SessionLister
	Activity ActivityReader
	Health   ReadinessChecker
}

type handler struct {
	auth     AuthFlow
	accounts Accounts
	sessions SessionLister
	activity ActivityReader
	health   ReadinessChecker
	cookies  CookieOptions
}

// NewRouter builds the gin engine with every route registered.
func NewRouter(deps Deps, opts Options) *gin.Engine {
	h := &handler{
		auth:     deps.Auth,
		accounts: deps.Accounts,
		sessions: deps.Sessions,
		activity: deps.Activity,
		health:   deps.Health,
		cookies:  opts.Cookies,
	}
	metricsHandler := opts.Metrics
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}

	r := gin.New()
	r.Use(logger.GinRecovery(), logger.GinLogger(), corsMiddleware(opts.CORSOrigins), clientIP())

	// Login and refresh share one bucket per client IP.
	limiter := newRateLimiter(opts.LoginRPS, opts.LoginBurst)
	authed := authRequired(deps.Auth)

	r.POST("/auth/login", limiter.middleware(), h.login)
	r.POST("/refresh", limiter.middleware(), h.refresh)
	r.GET("/auth/logout", authed, h.logout)
	r.PATCH("/auth/confirm_account", h.confirmAccount)
	r.POST("/auth/forget_password", h.forgetPassword)
	r.PATCH("/auth/reset_password", h.resetPassword)

	r.POST("/users", h.register)
	me := r.Group("/users/me", authed)
	{
		me.GET("", h.me)
		me.DELETE("", h.deleteMe)
		me.GET("/sessions", h.mySessions)
		if deps.Activity != nil {
			me.GET("/activity", h.myActivity)
		}
	}

	r.GET("/health", h.healthz)
	r.GET("/metrics", gin.WrapH(metricsHandler))
	return r
}

func corsMiddleware(origins []string) gin.HandlerFunc {
	cfg := cors.Config{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	if len(origins) == 0 {
		cfg.AllowOrigins = []string{"http://localhost:4200"}
	}
	return cors.New(cfg)
}
