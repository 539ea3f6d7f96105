// Package crypto implements the key hierarchy around a vault's content key:
// generation, wrapping under password- or recovery-derived master keys, and
// the recovery key's transcription-safe display form.
package crypto

import (
	"errors"
	"fmt"

	"github.com/awnumar/memguard"

	"github.com/brendan612/latchkey/internal/util"
)

// ErrDecryptionFailed is returned for every AEAD failure on the unwrap and
// payload-decrypt paths. Wrong password and corrupted ciphertext are
// deliberately indistinguishable.
var ErrDecryptionFailed = errors.New("wrong password or corrupted vault")

// ContentKey is the symmetric key that directly encrypts the vault payload.
// It is generated once per vault and held in a memguard enclave while the
// vault is unlocked so it can be discarded on lock.
type ContentKey struct {
	enclave *memguard.Enclave
}

// NewContentKey generates a fresh random content key.
func NewContentKey() (*ContentKey, error) {
	raw, err := util.NewKey()
	if err != nil {
		return nil, fmt.Errorf("generating content key: %w", err)
	}
	// NewEnclave wipes raw.
	return &ContentKey{enclave: memguard.NewEnclave(raw)}, nil
}

// Seal encrypts plaintext directly under the content key.
func (k *ContentKey) Seal(plaintext, aad []byte) (nonce, ciphertext []byte, err error) {
	buf, err := k.open()
	if err != nil {
		return nil, nil, err
	}
	defer buf.Destroy()
	return util.Seal(buf.Bytes(), plaintext, aad)
}

// Open decrypts ciphertext under the content key.
func (k *ContentKey) Open(nonce, ciphertext, aad []byte) ([]byte, error) {
	buf, err := k.open()
	if err != nil {
		return nil, err
	}
	defer buf.Destroy()
	plaintext, err := util.Open(buf.Bytes(), nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

// Wrap exports the content key's raw bytes and AEAD-encrypts them under the
// given wrapping key (a password- or recovery-derived master key). The key
// stays exportable after unlock so that a password change or recovery-key
// enrollment re-wraps the same key instead of regenerating it.
func (k *ContentKey) Wrap(wrappingKey, aad []byte) (nonce, ciphertext []byte, err error) {
	buf, err := k.open()
	if err != nil {
		return nil, nil, err
	}
	defer buf.Destroy()
	return util.Seal(wrappingKey, buf.Bytes(), aad)
}

// Unwrap decrypts a wrapped content key and re-imports it. A tag mismatch
// surfaces as ErrDecryptionFailed regardless of the root cause.
func Unwrap(wrappingKey, nonce, ciphertext, aad []byte) (*ContentKey, error) {
	raw, err := util.Open(wrappingKey, nonce, ciphertext, aad)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	if len(raw) != util.KeySize {
		return nil, ErrDecryptionFailed
	}
	return &ContentKey{enclave: memguard.NewEnclave(raw)}, nil
}

// Destroy discards the key material. The key is unusable afterwards.
func (k *ContentKey) Destroy() {
	k.enclave = nil
}

func (k *ContentKey) open() (*memguard.LockedBuffer, error) {
	if k == nil || k.enclave == nil {
		return nil, errors.New("content key has been destroyed")
	}
	buf, err := k.enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("opening content key enclave: %w", err)
	}
	return buf, nil
}
