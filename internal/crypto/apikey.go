package crypto

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

// APIKeyPrefixLen is the number of leading characters stored as the indexed
// lookup key. Two keys sharing a prefix must still verify independently
// against the full hash.
const APIKeyPrefixLen = 16

// GenerateAPIKey returns a new 256-bit URL-safe API key.
// Agents call this once and persist the result with 0600 permissions.
func GenerateAPIKey() (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("generate api key: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(raw), nil
}

// APIKeyPrefix extracts the indexed prefix for O(1) lookup
func APIKeyPrefix(apiKey string) string {
	if len(apiKey) < APIKeyPrefixLen {
		return apiKey
	}
	return apiKey[:APIKeyPrefixLen]
}

// HashAPIKey produces a bcrypt hash of the full key. Plaintext keys are
// never stored.
func HashAPIKey(apiKey string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("hash api key: %w", err)
	}
	return string(hash), nil
}

// VerifyAPIKey reports whether apiKey matches the stored bcrypt hash
func VerifyAPIKey(apiKey, hash string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(apiKey)) == nil
}
