// Package kdf derives symmetric master keys from passwords and recovery
// secrets. Argon2id is the only algorithm allowed for new vaults;
// PBKDF2-HMAC-SHA256 remains decrypt-only for vaults created before the
// Argon2id migration.
package kdf

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/brendan612/latchkey/internal/util"
)

// Algorithm identifies a key derivation function.
type Algorithm string

const (
	Argon2id     Algorithm = "argon2id"
	PBKDF2SHA256 Algorithm = "pbkdf2-sha256"
)

// ErrUnknownAlgorithm is returned when a config carries an unrecognized
// algorithm tag.
var ErrUnknownAlgorithm = errors.New("unknown KDF algorithm")

// ErrLegacyAlgorithm is returned when a caller tries to create a new vault
// with a decrypt-only algorithm.
var ErrLegacyAlgorithm = errors.New("legacy KDF algorithm is decrypt-only")

// Config is the tagged union describing how a vault's master key is derived.
// The Argon2id fields MemoryKiB and Parallelism are meaningless for PBKDF2
// and are omitted from its serialized form.
type Config struct {
	Algorithm   Algorithm `json:"algorithm"`
	Iterations  uint32    `json:"iterations"`
	MemoryKiB   uint32    `json:"memory_kib,omitempty"`
	Parallelism uint8     `json:"parallelism,omitempty"`
	Salt        []byte    `json:"salt"`
}

const (
	defaultIterations  = 3
	defaultMemoryKiB   = 64 * 1024
	defaultParallelism = 4

	// legacyMinIterations rejects PBKDF2 configs weakened below the
	// OWASP minimum the legacy clients shipped with.
	legacyMinIterations = 210000
)

// NewConfig returns an Argon2id config with default cost parameters and a
// fresh random salt. The parameters are tuned so derivation takes on the
// order of hundreds of milliseconds on commodity hardware.
func NewConfig() (Config, error) {
	salt, err := util.NewSalt()
	if err != nil {
		return Config{}, fmt.Errorf("generating KDF salt: %w", err)
	}
	return Config{
		Algorithm:   Argon2id,
		Iterations:  defaultIterations,
		MemoryKiB:   defaultMemoryKiB,
		Parallelism: defaultParallelism,
		Salt:        salt,
	}, nil
}

// Validate checks that the config is well-formed enough to derive a key.
func (c Config) Validate() error {
	if len(c.Salt) == 0 {
		return errors.New("KDF salt must not be empty")
	}
	switch c.Algorithm {
	case Argon2id:
		if c.Iterations == 0 || c.MemoryKiB == 0 || c.Parallelism == 0 {
			return errors.New("argon2id cost parameters must be non-zero")
		}
	case PBKDF2SHA256:
		if c.Iterations < legacyMinIterations {
			return fmt.Errorf("pbkdf2 iterations %d below minimum %d", c.Iterations, legacyMinIterations)
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, c.Algorithm)
	}
	return nil
}

// Legacy reports whether the config uses a decrypt-only algorithm that
// should be upgraded at the next rewrite.
func (c Config) Legacy() bool {
	return c.Algorithm == PBKDF2SHA256
}

// UnmarshalJSON validates the algorithm tag so an unknown algorithm is a
// parse failure, never a silent no-op derivation.
func (c *Config) UnmarshalJSON(b []byte) error {
	type raw Config
	var r raw
	if err := json.Unmarshal(b, &r); err != nil {
		return err
	}
	switch r.Algorithm {
	case Argon2id, PBKDF2SHA256:
	default:
		return fmt.Errorf("%w: %q", ErrUnknownAlgorithm, r.Algorithm)
	}
	*c = Config(r)
	return nil
}
