package httpapi

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	authservice "pharma/backend/internal/auth/service"
)

const (
	accessCookie  = "access_token"
	refreshCookie = "refresh_token"
)

// CookieOptions controls the credential cookies.
type CookieOptions struct {
	Secure bool
	Domain string
}

func (o CookieOptions) set(c *gin.Context, name, value string, ttl time.Duration) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(name, value, int(ttl.Seconds()), "/", o.Domain, o.Secure, true)
}

// setCredentials writes both credential cookies, each with max-age equal to its token's TTL.
func (o CookieOptions) setCredentials(c *gin.Context, creds *authservice.Credentials, accessTTL, refreshTTL time.Duration) {
	o.set(c, accessCookie, creds.AccessToken, accessTTL)
	o.set(c, refreshCookie, creds.RefreshToken, refreshTTL)
}

func (o CookieOptions) clearCredentials(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(accessCookie, "", -1, "/", o.Domain, o.Secure, true)
	c.SetCookie(refreshCookie, "", -1, "/", o.Domain, o.Secure, true)
}
