package security

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
)

// MinRefreshSecretBytes is the smallest entropy accepted for opaque refresh secrets.
const MinRefreshSecretBytes = 32

// NewRefreshSecret returns a URL-safe opaque secret built from nBytes of crypto/rand entropy,
// together with its storage hash. nBytes below MinRefreshSecretBytes is raised to the minimum.
func NewRefreshSecret(nBytes int) (raw, hash string, err error) {
	if nBytes < MinRefreshSecretBytes {
		nBytes = MinRefreshSecretBytes
	}
	b := make([]byte, nBytes)
	if _, err = rand.Read(b); err != nil {
		return "", "", err
	}
	raw = base64.RawURLEncoding.EncodeToString(b)
	return raw, HashRefreshToken(raw), nil
}

// HashRefreshToken returns a SHA-256 hash of the refresh token string, hex-encoded.
// Used for storing and looking up refresh tokens without storing the raw token.
func HashRefreshToken(token string) string {
	h := sha256.Sum256([]byte(token))
	return hex.EncodeToString(h[:])
}

// RefreshTokenHashEqual performs constant-time comparison of the provided token's hash
// with the stored hash. Returns true only if they match.
func RefreshTokenHashEqual(providedToken, storedHash string) bool {
	if providedToken == "" || storedHash == "" {
		return false
	}
	providedHash := HashRefreshToken(providedToken)
	return subtle.ConstantTimeCompare([]byte(providedHash), []byte(storedHash)) == 1
}
