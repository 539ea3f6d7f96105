package kdf

import (
	"crypto/sha256"
	"fmt"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"

	"github.com/brendan612/latchkey/internal/util"
)

// DeriveKey derives the 32-byte master key for a password. Derivation is
// deterministic: the same password and config always yield the same key.
func DeriveKey(password string, cfg Config) ([]byte, error) {
	normalized := util.NormalizePassword(password)
	return DeriveKeyBytes([]byte(normalized), cfg)
}

// DeriveKeyBytes derives the master key from raw secret bytes, e.g. recovery
// key material. No normalization is applied.
func DeriveKeyBytes(secret []byte, cfg Config) ([]byte, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid KDF config: %w", err)
	}
	switch cfg.Algorithm {
	case Argon2id:
		return argon2.IDKey(secret, cfg.Salt, cfg.Iterations, cfg.MemoryKiB, cfg.Parallelism, util.KeySize), nil
	case PBKDF2SHA256:
		return pbkdf2.Key(secret, cfg.Salt, int(cfg.Iterations), util.KeySize, sha256.New), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, cfg.Algorithm)
	}
}
