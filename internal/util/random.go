package util

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
)

// SaltSize is the KDF salt length in bytes.
const SaltSize = 16

// RandomBytes returns n cryptographically random bytes.
func RandomBytes(n int) ([]byte, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return nil, fmt.Errorf("generating random bytes: %w", err)
	}
	return b, nil
}

// NewSalt returns a fresh KDF salt. Salts are generated once per vault and
// never reused across vaults.
func NewSalt() ([]byte, error) {
	return RandomBytes(SaltSize)
}

// RandomToken returns an opaque URL-safe random string with n bytes of entropy.
func RandomToken(n int) (string, error) {
	b, err := RandomBytes(n)
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}
