// Package vaultfile implements the encrypted vault file envelope: a single
// portable document carrying the KDF parameters, the wrapped content key,
// and the AEAD-encrypted payload. Everything needed to unlock it, other
// than the password, travels with the file.
package vaultfile

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/brendan612/latchkey/kdf"
)

// Format is the envelope discriminator. Parsing rejects any other value
// before trusting a single other field.
const Format = "latchkey/vault/v1"

// ErrUnsupportedFormat is returned when a file does not carry the expected
// format tag. No cryptographic work is attempted on such a file.
var ErrUnsupportedFormat = errors.New("unsupported vault file format")

// EncryptedBlob is AEAD output. The nonce is freshly random for every
// encryption call and single-use under its key.
type EncryptedBlob struct {
	Nonce      []byte `json:"nonce"`
	Ciphertext []byte `json:"ciphertext"`
}

// VaultFile is the immutable on-disk/exported vault envelope. Every
// mutation produces a new value with Revision = previous.Revision + 1;
// Revision is the sole ordering key for conflict resolution, UpdatedAt is
// advisory only.
type VaultFile struct {
	Format            string         `json:"format"`
	VaultID           string         `json:"vault_id"`
	Revision          uint64         `json:"revision"`
	UpdatedAt         time.Time      `json:"updated_at"`
	KDF               kdf.Config     `json:"kdf"`
	WrappedContentKey EncryptedBlob  `json:"wrapped_content_key"`
	RecoveryKDF       *kdf.Config    `json:"recovery_kdf,omitempty"`
	RecoveryWrappedKey *EncryptedBlob `json:"recovery_wrapped_key,omitempty"`
	VaultData         EncryptedBlob  `json:"vault_data"`
}

// Parse decodes an externally supplied vault file. The format tag is
// validated before the rest of the document is decoded.
func Parse(data []byte) (*VaultFile, error) {
	var probe struct {
		Format string `json:"format"`
	}
	if err := json.Unmarshal(data, &probe); err != nil {
		return nil, fmt.Errorf("decoding vault file: %w", err)
	}
	if probe.Format != Format {
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, probe.Format)
	}

	var f VaultFile
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("decoding vault file: %w", err)
	}
	if err := f.validate(); err != nil {
		return nil, err
	}
	return &f, nil
}

// Encode serializes the vault file envelope.
func (f *VaultFile) Encode() ([]byte, error) {
	return json.Marshal(f)
}

func (f *VaultFile) validate() error {
	if f.Format != Format {
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, f.Format)
	}
	if f.VaultID == "" {
		return errors.New("vault file missing vault_id")
	}
	if f.Revision == 0 {
		return errors.New("vault file revision must be at least 1")
	}
	if err := f.KDF.Validate(); err != nil {
		return fmt.Errorf("vault file KDF config: %w", err)
	}
	if f.RecoveryWrappedKey != nil && f.RecoveryKDF == nil {
		return errors.New("vault file recovery wrap without recovery KDF config")
	}
	return nil
}

// clone returns a copy sharing no mutable state with f.
func (f *VaultFile) clone() *VaultFile {
	c := *f
	c.WrappedContentKey = cloneBlob(f.WrappedContentKey)
	c.VaultData = cloneBlob(f.VaultData)
	if f.RecoveryKDF != nil {
		k := *f.RecoveryKDF
		k.Salt = append([]byte(nil), f.RecoveryKDF.Salt...)
		c.RecoveryKDF = &k
	}
	if f.RecoveryWrappedKey != nil {
		b := cloneBlob(*f.RecoveryWrappedKey)
		c.RecoveryWrappedKey = &b
	}
	return &c
}

func cloneBlob(b EncryptedBlob) EncryptedBlob {
	return EncryptedBlob{
		Nonce:      append([]byte(nil), b.Nonce...),
		Ciphertext: append([]byte(nil), b.Ciphertext...),
	}
}
