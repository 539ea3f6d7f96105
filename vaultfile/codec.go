package vaultfile

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/brendan612/latchkey/crypto"
	"github.com/brendan612/latchkey/internal/util"
	"github.com/brendan612/latchkey/kdf"
	"github.com/brendan612/latchkey/payload"
)

// AAD context strings bind each blob to its role and vault. The content-key
// wrap is deliberately not bound to the revision: rewrites leave it
// untouched.
func wrapAAD(vaultID string) []byte {
	return []byte("latchkey/wrap/v1:" + vaultID)
}

func recoveryWrapAAD(vaultID string) []byte {
	return []byte("latchkey/recovery-wrap/v1:" + vaultID)
}

func payloadAAD(vaultID string, revision uint64) []byte {
	return []byte(fmt.Sprintf("latchkey/payload/v1:%s:%d", vaultID, revision))
}

// Unlocked is an open vault session: the unwrapped content key plus the
// normalized payload. The caller serializes rewrites of one session; two
// concurrent rewrites of the same session are not supported.
type Unlocked struct {
	VaultID string
	Payload *payload.VaultPayload

	// NeedsKDFUpgrade is set when the vault still uses the decrypt-only
	// legacy KDF. The caller retires it by invoking ChangePassword with
	// the current password on the next rewrite.
	NeedsKDFUpgrade bool

	key *crypto.ContentKey
}

// Lock discards the unwrapped content key.
func (u *Unlocked) Lock() {
	if u.key != nil {
		u.key.Destroy()
		u.key = nil
	}
}

// Create initializes a brand-new vault: fresh Argon2id config, fresh
// content key wrapped under the password-derived master key, and an empty
// payload encrypted at revision 1.
func Create(vaultID, password string) (*VaultFile, *Unlocked, error) {
	if vaultID == "" {
		return nil, nil, fmt.Errorf("vault ID must not be empty")
	}
	cfg, err := kdf.NewConfig()
	if err != nil {
		return nil, nil, err
	}
	masterKey, err := kdf.DeriveKey(password, cfg)
	if err != nil {
		return nil, nil, err
	}
	defer util.WipeBytes(masterKey)

	contentKey, err := crypto.NewContentKey()
	if err != nil {
		return nil, nil, err
	}

	nonce, wrapped, err := contentKey.Wrap(masterKey, wrapAAD(vaultID))
	if err != nil {
		return nil, nil, err
	}

	empty := payload.Empty()
	f := &VaultFile{
		Format:            Format,
		VaultID:           vaultID,
		Revision:          1,
		UpdatedAt:         time.Now().UTC(),
		KDF:               cfg,
		WrappedContentKey: EncryptedBlob{Nonce: nonce, Ciphertext: wrapped},
	}
	if f.VaultData, err = encryptPayload(contentKey, f.VaultID, f.Revision, empty); err != nil {
		return nil, nil, err
	}

	return f, &Unlocked{VaultID: vaultID, Payload: empty, key: contentKey}, nil
}

// Unlock derives the master key from the password, unwraps the content key,
// and decrypts and normalizes the payload. Wrong password and corrupted
// ciphertext both surface as crypto.ErrDecryptionFailed.
func Unlock(f *VaultFile, password string) (*Unlocked, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	masterKey, err := kdf.DeriveKey(password, f.KDF)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(masterKey)

	contentKey, err := crypto.Unwrap(masterKey, f.WrappedContentKey.Nonce, f.WrappedContentKey.Ciphertext, wrapAAD(f.VaultID))
	if err != nil {
		return nil, err
	}
	return finishUnlock(f, contentKey)
}

// UnlockWithRecoveryKey unlocks using the recovery key's raw secret instead
// of the password.
func UnlockWithRecoveryKey(f *VaultFile, rk *crypto.RecoveryKey) (*Unlocked, error) {
	if err := f.validate(); err != nil {
		return nil, err
	}
	if f.RecoveryKDF == nil || f.RecoveryWrappedKey == nil {
		return nil, fmt.Errorf("vault has no recovery key enrolled")
	}
	secret := rk.Bytes()
	defer util.WipeBytes(secret)

	recoveryMaster, err := kdf.DeriveKeyBytes(secret, *f.RecoveryKDF)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(recoveryMaster)

	contentKey, err := crypto.Unwrap(recoveryMaster, f.RecoveryWrappedKey.Nonce, f.RecoveryWrappedKey.Ciphertext, recoveryWrapAAD(f.VaultID))
	if err != nil {
		return nil, err
	}
	return finishUnlock(f, contentKey)
}

func finishUnlock(f *VaultFile, contentKey *crypto.ContentKey) (*Unlocked, error) {
	p, err := decryptPayload(contentKey, f)
	if err != nil {
		return nil, err
	}
	return &Unlocked{
		VaultID:         f.VaultID,
		Payload:         p,
		NeedsKDFUpgrade: f.KDF.Legacy(),
		key:             contentKey,
	}, nil
}

// Rewrite re-encrypts the (possibly mutated) payload under the unchanged
// content key and returns a new envelope with the revision bumped and
// UpdatedAt refreshed. The KDF config and key wraps are left untouched.
func Rewrite(f *VaultFile, u *Unlocked, p *payload.VaultPayload) (*VaultFile, error) {
	if err := checkSession(f, u); err != nil {
		return nil, err
	}
	raw, err := json.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	normalized, err := payload.Normalize(raw)
	if err != nil {
		return nil, err
	}

	next := f.clone()
	next.Revision = f.Revision + 1
	next.UpdatedAt = time.Now().UTC()
	if next.VaultData, err = encryptPayload(u.key, next.VaultID, next.Revision, normalized); err != nil {
		return nil, err
	}
	u.Payload = normalized
	return next, nil
}

// ChangePassword re-wraps the content key under a key derived from the new
// password with a fresh Argon2id config. Calling it with the current
// password upgrades a legacy PBKDF2 vault in place. The content key itself
// is never regenerated.
func ChangePassword(f *VaultFile, u *Unlocked, newPassword string) (*VaultFile, error) {
	if err := checkSession(f, u); err != nil {
		return nil, err
	}
	cfg, err := kdf.NewConfig()
	if err != nil {
		return nil, err
	}
	masterKey, err := kdf.DeriveKey(newPassword, cfg)
	if err != nil {
		return nil, err
	}
	defer util.WipeBytes(masterKey)

	nonce, wrapped, err := u.key.Wrap(masterKey, wrapAAD(f.VaultID))
	if err != nil {
		return nil, err
	}

	next := f.clone()
	next.Revision = f.Revision + 1
	next.UpdatedAt = time.Now().UTC()
	next.KDF = cfg
	next.WrappedContentKey = EncryptedBlob{Nonce: nonce, Ciphertext: wrapped}
	if next.VaultData, err = encryptPayload(u.key, next.VaultID, next.Revision, u.Payload); err != nil {
		return nil, err
	}
	u.NeedsKDFUpgrade = false
	return next, nil
}

// EnrollRecoveryKey generates a recovery key and wraps the content key
// under it, alongside the password wrap. The returned recovery key is shown
// to the user exactly once.
func EnrollRecoveryKey(f *VaultFile, u *Unlocked) (*crypto.RecoveryKey, *VaultFile, error) {
	if err := checkSession(f, u); err != nil {
		return nil, nil, err
	}
	rk, err := crypto.NewRecoveryKey()
	if err != nil {
		return nil, nil, err
	}
	cfg, err := kdf.NewConfig()
	if err != nil {
		return nil, nil, err
	}
	secret := rk.Bytes()
	defer util.WipeBytes(secret)

	recoveryMaster, err := kdf.DeriveKeyBytes(secret, cfg)
	if err != nil {
		return nil, nil, err
	}
	defer util.WipeBytes(recoveryMaster)

	nonce, wrapped, err := u.key.Wrap(recoveryMaster, recoveryWrapAAD(f.VaultID))
	if err != nil {
		return nil, nil, err
	}

	next := f.clone()
	next.Revision = f.Revision + 1
	next.UpdatedAt = time.Now().UTC()
	next.RecoveryKDF = &cfg
	next.RecoveryWrappedKey = &EncryptedBlob{Nonce: nonce, Ciphertext: wrapped}
	if next.VaultData, err = encryptPayload(u.key, next.VaultID, next.Revision, u.Payload); err != nil {
		return nil, nil, err
	}
	return rk, next, nil
}

// DecryptRemote decrypts a remote snapshot's payload with this session's
// content key. It succeeds only when the two snapshots share a vault
// lineage, i.e. the same content key.
func DecryptRemote(u *Unlocked, remote *VaultFile) (*payload.VaultPayload, error) {
	if remote.VaultID != u.VaultID {
		return nil, fmt.Errorf("remote snapshot belongs to vault %q, session is for %q", remote.VaultID, u.VaultID)
	}
	return decryptPayload(u.key, remote)
}

func encryptPayload(key *crypto.ContentKey, vaultID string, revision uint64, p *payload.VaultPayload) (EncryptedBlob, error) {
	raw, err := json.Marshal(p)
	if err != nil {
		return EncryptedBlob{}, fmt.Errorf("encoding payload: %w", err)
	}
	nonce, ciphertext, err := key.Seal(raw, payloadAAD(vaultID, revision))
	if err != nil {
		return EncryptedBlob{}, err
	}
	return EncryptedBlob{Nonce: nonce, Ciphertext: ciphertext}, nil
}

func decryptPayload(key *crypto.ContentKey, f *VaultFile) (*payload.VaultPayload, error) {
	raw, err := key.Open(f.VaultData.Nonce, f.VaultData.Ciphertext, payloadAAD(f.VaultID, f.Revision))
	if err != nil {
		return nil, err
	}
	return payload.Normalize(raw)
}

func checkSession(f *VaultFile, u *Unlocked) error {
	if u == nil || u.key == nil {
		return fmt.Errorf("vault session is locked")
	}
	if f.VaultID != u.VaultID {
		return fmt.Errorf("session vault %q does not match file vault %q", u.VaultID, f.VaultID)
	}
	return nil
}
