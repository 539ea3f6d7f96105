package util

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"fmt"
	"io"
)

const (
	// KeySize is the AES-256 key size used for every symmetric key in the system.
	KeySize = 32
	// NonceSize is the AES-GCM nonce size.
	NonceSize = 12
)

// Seal AEAD-encrypts plaintext under rawKey with a freshly random nonce.
// The nonce and ciphertext are returned separately; the nonce must travel
// with the ciphertext and is never reused under the same key.
func Seal(rawKey, plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, nil, err
	}

	nonce = make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, nil, fmt.Errorf("generating nonce: %w", err)
	}

	return nonce, gcm.Seal(nil, nonce, plaintext, aad), nil
}

// Open AEAD-decrypts ciphertext under rawKey. A tag mismatch from a wrong
// key, wrong AAD, or tampered ciphertext is indistinguishable by design.
func Open(rawKey, nonce, ciphertext, aad []byte) ([]byte, error) {
	gcm, err := newGCM(rawKey)
	if err != nil {
		return nil, err
	}
	if len(nonce) != gcm.NonceSize() {
		return nil, fmt.Errorf("invalid nonce size: got %d, want %d", len(nonce), gcm.NonceSize())
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, aad)
	if err != nil {
		return nil, fmt.Errorf("decrypting ciphertext: %w", err)
	}
	return plaintext, nil
}

func newGCM(rawKey []byte) (cipher.AEAD, error) {
	if len(rawKey) != KeySize {
		return nil, fmt.Errorf("invalid key size: got %d, want %d", len(rawKey), KeySize)
	}
	block, err := aes.NewCipher(rawKey)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return gcm, nil
}

// NewKey generates a random 256-bit symmetric key.
func NewKey() ([]byte, error) {
	rawKey := make([]byte, KeySize)
	if _, err := rand.Read(rawKey); err != nil {
		return nil, fmt.Errorf("generating key: %w", err)
	}
	return rawKey, nil
}
