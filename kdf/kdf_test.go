package kdf

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func fastConfig(t *testing.T) Config {
	t.Helper()
	cfg, err := NewConfig()
	require.NoError(t, err)
	cfg.Iterations = 1
	cfg.MemoryKiB = 8 * 1024
	cfg.Parallelism = 1
	return cfg
}

func TestDeriveKey_Deterministic(t *testing.T) {
	cfg := fastConfig(t)

	k1, err := DeriveKey("correct-horse-battery-staple!", cfg)
	require.NoError(t, err)
	k2, err := DeriveKey("correct-horse-battery-staple!", cfg)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.Len(t, k1, 32)

	k3, err := DeriveKey("wrong-password", cfg)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k3)
}

func TestDeriveKey_SaltSeparation(t *testing.T) {
	cfg1 := fastConfig(t)
	cfg2 := fastConfig(t)
	require.NotEqual(t, cfg1.Salt, cfg2.Salt)

	k1, err := DeriveKey("same-password", cfg1)
	require.NoError(t, err)
	k2, err := DeriveKey("same-password", cfg2)
	require.NoError(t, err)
	assert.NotEqual(t, k1, k2)
}

func TestDeriveKey_UnicodeNormalization(t *testing.T) {
	cfg := fastConfig(t)

	k1, err := DeriveKey("café", cfg)
	require.NoError(t, err)
	k2, err := DeriveKey("café", cfg)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
}

func TestDeriveKey_LegacyPBKDF2(t *testing.T) {
	cfg := Config{
		Algorithm:  PBKDF2SHA256,
		Iterations: 210000,
		Salt:       []byte("0123456789abcdef"),
	}
	k1, err := DeriveKey("legacy-password", cfg)
	require.NoError(t, err)
	k2, err := DeriveKey("legacy-password", cfg)
	require.NoError(t, err)
	assert.Equal(t, k1, k2)
	assert.True(t, cfg.Legacy())

	cfg.Iterations = 1000
	_, err = DeriveKey("legacy-password", cfg)
	assert.Error(t, err, "weakened iteration count must be rejected")
}

func TestConfig_Validate(t *testing.T) {
	cfg := fastConfig(t)
	require.NoError(t, cfg.Validate())

	noSalt := cfg
	noSalt.Salt = nil
	assert.Error(t, noSalt.Validate())

	zeroMem := cfg
	zeroMem.MemoryKiB = 0
	assert.Error(t, zeroMem.Validate())

	unknown := cfg
	unknown.Algorithm = "scrypt"
	assert.ErrorIs(t, unknown.Validate(), ErrUnknownAlgorithm)
}

func TestConfig_UnmarshalRejectsUnknownAlgorithm(t *testing.T) {
	var cfg Config
	err := json.Unmarshal([]byte(`{"algorithm":"rot13","iterations":1,"salt":"c2FsdA=="}`), &cfg)
	assert.ErrorIs(t, err, ErrUnknownAlgorithm)
}

func TestNewConfig_Defaults(t *testing.T) {
	cfg, err := NewConfig()
	require.NoError(t, err)
	assert.Equal(t, Argon2id, cfg.Algorithm)
	assert.False(t, cfg.Legacy())
	assert.Len(t, cfg.Salt, 16)
}
