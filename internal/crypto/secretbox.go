// Package crypto provides the credential primitives shared by Core and its
// agents: symmetric key derivation, AES-GCM sealing for config secrets,
// API-key hashing, and the internal certificate authority.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"fmt"
)

// DeriveKey derives the 32-byte symmetric key for a secret string.
//
// Both Core and every agent derive transport keys with this exact function
// (SHA-256 of the agent's API key), so the derivation must never change
// shape: ciphertext produced by Core has to open with the key the agent
// derives on its own side.
func DeriveKey(secret string) []byte {
	digest := sha256.Sum256([]byte(secret))
	return digest[:]
}

// KeyString returns the URL-safe base64 form of a derived key.
// Used in diagnostics only; Seal/Open take the raw bytes.
func KeyString(key []byte) string {
	return base64.URLEncoding.EncodeToString(key)
}

// Seal encrypts plaintext with AES-256-GCM under key and returns a URL-safe
// base64 string of nonce||ciphertext.
func Seal(key []byte, plaintext string) (string, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("seal: %w", err)
	}

	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return base64.URLEncoding.EncodeToString(sealed), nil
}

// Open decrypts a string produced by Seal
func Open(key []byte, encoded string) (string, error) {
	raw, err := base64.URLEncoding.DecodeString(encoded)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}

	if len(raw) < gcm.NonceSize() {
		return "", fmt.Errorf("open: ciphertext too short")
	}
	nonce, ciphertext := raw[:gcm.NonceSize()], raw[gcm.NonceSize():]

	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("open: %w", err)
	}
	return string(plaintext), nil
}
