package security

import (
	"encoding/base64"
	"testing"
)

func TestHashRefreshToken_Consistent(t *testing.T) {
	token := "test-refresh-token-123"
	hash1 := HashRefreshToken(token)
	hash2 := HashRefreshToken(token)

	if hash1 != hash2 {
		t.Errorf("HashRefreshToken not consistent: hash1 = %q, hash2 = %q", hash1, hash2)
	}
	if len(hash1) != 64 {
		t.Errorf("hash length = %d, want 64 (SHA-256 hex)", len(hash1))
	}
}

func TestHashRefreshToken_DifferentTokens(t *testing.T) {
	if HashRefreshToken("token-1") == HashRefreshToken("token-2") {
		t.Error("HashRefreshToken produced same hash for different tokens")
	}
}

func TestNewRefreshSecret(t *testing.T) {
	raw, hash, err := NewRefreshSecret(32)
	if err != nil {
		t.Fatalf("NewRefreshSecret: %v", err)
	}
	b, err := base64.RawURLEncoding.DecodeString(raw)
	if err != nil {
		t.Fatalf("raw secret is not base64url: %v", err)
	}
	if len(b) != 32 {
		t.Errorf("entropy = %d bytes, want 32", len(b))
	}
	if hash != HashRefreshToken(raw) {
		t.Error("returned hash does not match HashRefreshToken(raw)")
	}
}

func TestNewRefreshSecret_RaisesToMinimum(t *testing.T) {
	raw, _, err := NewRefreshSecret(8)
	if err != nil {
		t.Fatalf("NewRefreshSecret: %v", err)
	}
	b, _ := base64.RawURLEncoding.DecodeString(raw)
	if len(b) != MinRefreshSecretBytes {
		t.Errorf("entropy = %d bytes, want %d", len(b), MinRefreshSecretBytes)
	}
}

func TestNewRefreshSecret_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		raw, _, err := NewRefreshSecret(32)
		if err != nil {
			t.Fatalf("NewRefreshSecret: %v", err)
		}
		if seen[raw] {
			t.Fatal("NewRefreshSecret returned a duplicate secret")
		}
		seen[raw] = true
	}
}

func TestRefreshTokenHashEqual(t *testing.T) {
	token := "test-refresh-token-456"
	storedHash := HashRefreshToken(token)

	if !RefreshTokenHashEqual(token, storedHash) {
		t.Error("RefreshTokenHashEqual should match correct token")
	}
	if RefreshTokenHashEqual("wrong-token", storedHash) {
		t.Error("RefreshTokenHashEqual should reject incorrect token")
	}
	if RefreshTokenHashEqual(token, "a"+storedHash) {
		t.Error("RefreshTokenHashEqual should reject hash with different length")
	}
	if RefreshTokenHashEqual("", "") {
		t.Error("RefreshTokenHashEqual should not match empty inputs")
	}
}
