package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
)

const apiKeyBytes = 32

// GenerateAPIKey generates a cryptographically secure API key.
// The key is 32 random bytes, hex-encoded to 64 characters.
func GenerateAPIKey() (string, error) {
	b := make([]byte, apiKeyBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("generate API key: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// NewKeyPair generates an API key together with the bcrypt hash to place in
// http.api_key_hash.
func NewKeyPair() (key, hash string, err error) {
	key, err = GenerateAPIKey()
	if err != nil {
		return "", "", err
	}
	hash, err = HashAPIKey(key)
	if err != nil {
		return "", "", err
	}
	return key, hash, nil
}
