package auth

import (
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"
)

const bcryptCost = 12

// ErrInvalidAPIKey is returned when a presented key does not match.
var ErrInvalidAPIKey = errors.New("invalid API key")

// HashAPIKey hashes a plaintext API key using bcrypt with cost factor 12.
func HashAPIKey(key string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(key), bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash API key: %w", err)
	}
	return string(hash), nil
}

// VerifyAPIKey checks a plaintext key against a bcrypt hash.
func VerifyAPIKey(hash, key string) error {
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte(key)); err != nil {
		return ErrInvalidAPIKey
	}
	return nil
}

// ValidateHash reports whether hash is a usable bcrypt hash.
func ValidateHash(hash string) error {
	if _, err := bcrypt.Cost([]byte(hash)); err != nil {
		return fmt.Errorf("invalid bcrypt hash: %w", err)
	}
	return nil
}
