package auth

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"fmt"
)

const tokenSecretLen = 32 // 256 bits

// GenerateToken returns a random URL-safe opaque token secret.
func GenerateToken() (string, error) {
	bytes := make([]byte, tokenSecretLen)
	if _, err := rand.Read(bytes); err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}
	return base64.URLEncoding.EncodeToString(bytes), nil
}

// HashToken returns the SHA-256 hex digest of a token. Only the digest is ever
// persisted; verification re-hashes the presented secret.
func HashToken(token string) string {
	hash := sha256.Sum256([]byte(token))
	return hex.EncodeToString(hash[:])
}
