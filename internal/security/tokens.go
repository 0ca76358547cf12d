package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"pharma/backend/internal/autherr"
)

// ErrWeakSecret is returned by NewTokenCodec when the shared secret is empty.
var ErrWeakSecret = errors.New("token codec: shared secret must not be empty")

// Claims is the identity carried by an access token.
type Claims struct {
	UserID    string
	Role      string
	ExpiresAt time.Time
}

// accessClaims is the JWT wire shape of an access token.
type accessClaims struct {
	jwt.RegisteredClaims
	Role string `json:"role"`
}

// TokenCodec signs and verifies short-lived access tokens with a shared HMAC secret (HS256).
// It holds no state besides its configuration and is safe for concurrent use.
type TokenCodec struct {
	secret []byte
	issuer string
	now    func() time.Time
}

// NewTokenCodec returns a codec that signs with secret and stamps issuer on every token.
func NewTokenCodec(secret, issuer string) (*TokenCodec, error) {
	if secret == "" {
		return nil, ErrWeakSecret
	}
	return &TokenCodec{secret: []byte(secret), issuer: issuer, now: time.Now}, nil
}

// WithClock returns a copy of the codec that reads the current time from now. Used by tests.
func (c *TokenCodec) WithClock(now func() time.Time) *TokenCodec {
	cp := *c
	cp.now = now
	return &cp
}

// Issue signs claims with an absolute expiry of now+ttl and returns the token and that expiry.
func (c *TokenCodec) Issue(userID, role string, ttl time.Duration) (string, time.Time, error) {
	now := c.now().UTC()
	expiresAt := now.Add(ttl)
	claims := accessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			Issuer:    c.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Role: role,
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// Verify checks the signature, issuer, and expiry of token.
// Returns autherr.ErrTokenExpired only when the signature is valid and the expiry has passed;
// every other failure is autherr.ErrTokenInvalid.
func (c *TokenCodec) Verify(token string) (*Claims, error) {
	if token == "" {
		return nil, autherr.ErrTokenInvalid
	}
	parsed, err := jwt.ParseWithClaims(token, &accessClaims{}, func(t *jwt.Token) (interface{}, error) {
		return c.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(c.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(c.now),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, autherr.ErrTokenExpired
		}
		return nil, autherr.ErrTokenInvalid
	}
	claims, ok := parsed.Claims.(*accessClaims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, autherr.ErrTokenInvalid
	}
	return &Claims{
		UserID:    claims.Subject,
		Role:      claims.Role,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}
