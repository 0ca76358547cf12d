package httpapi

import (
	"errors"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"pharma/backend/internal/autherr"
	"pharma/backend/internal/metrics"
	"pharma/backend/internal/server/interceptors"
)

const (
	ctxUserID = "user_id"
	ctxRole   = "role"
)

// clientIP stores the resolved client address in the request context for the audit logger.
func clientIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(interceptors.WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}

// authRequired verifies the access token from the access_token cookie, or an Authorization Bearer
// header, and puts the caller's identity in the gin and request contexts.
func authRequired(auth AuthFlow) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := accessToken(c)
		if token == "" {
			c.Header("WWW-Authenticate", "Bearer")
			abort(c, http.StatusUnauthorized, msgNotAuthenticated)
			return
		}
		claims, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			c.Header("WWW-Authenticate", "Bearer")
			if errors.Is(err, autherr.ErrTokenExpired) {
				abort(c, http.StatusUnauthorized, msgAccessExpired)
				return
			}
			abort(c, http.StatusUnauthorized, msgNotAuthenticated)
			return
		}
		c.Set(ctxUserID, claims.UserID)
		c.Set(ctxRole, claims.Role)
		c.Request = c.Request.WithContext(interceptors.WithIdentity(c.Request.Context(), claims.UserID, claims.Role))
		c.Next()
	}
}

func accessToken(c *gin.Context) string {
	if v, err := c.Cookie(accessCookie); err == nil && v != "" {
		return v
	}
	h := strings.TrimSpace(c.GetHeader("Authorization"))
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// currentUserID returns the id set by authRequired.
func currentUserID(c *gin.Context) string {
	return c.GetString(ctxUserID)
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// rateLimiter is a per-IP token bucket. Entries idle for idleTTL are dropped on a later request.
type rateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	rps       rate.Limit
	burst     int
	lastSweep time.Time
	now       func() time.Time
}

const limiterIdleTTL = 5 * time.Minute

func newRateLimiter(rps float64, burst int) *rateLimiter {
	if burst <= 0 {
		burst = 1
	}
	return &rateLimiter{
		limiters: make(map[string]*ipLimiter),
		rps:      rate.Limit(rps),
		burst:    burst,
		now:      time.Now,
	}
}

func (rl *rateLimiter) allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	now := rl.now()
	if now.Sub(rl.lastSweep) > limiterIdleTTL {
		for k, v := range rl.limiters {
			if now.Sub(v.lastSeen) > limiterIdleTTL {
				delete(rl.limiters, k)
			}
		}
		rl.lastSweep = now
	}
	v, ok := rl.limiters[ip]
	if !ok {
		v = &ipLimiter{limiter: rate.NewLimiter(rl.rps, rl.burst)}
		rl.limiters[ip] = v
	}
	v.lastSeen = now
	return v.limiter.AllowN(now, 1)
}

// middleware rejects requests over the limit with 429 and counts them per route.
func (rl *rateLimiter) middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !rl.allow(c.ClientIP()) {
			metrics.RateLimitRejected.WithLabelValues(c.FullPath()).Inc()
			c.Header("Retry-After", "1")
			abort(c, http.StatusTooManyRequests, msgTooManyRequests)
			return
		}
		c.Next()
	}
}
