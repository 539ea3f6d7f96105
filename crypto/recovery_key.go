package crypto

import (
	"bytes"
	"crypto/sha256"
	"encoding/base32"
	"errors"
	"fmt"
	"strings"

	"github.com/brendan612/latchkey/internal/util"
)

const (
	recoveryKeyVersion = 1
	recoverySecretLen  = 32
	recoveryChecksumLen = 2
)

// ErrRecoveryKeyChecksum is returned when a transcribed recovery key fails
// its embedded checksum, before any KDF work is attempted.
var ErrRecoveryKeyChecksum = errors.New("recovery key checksum mismatch")

var recoveryEncoding = base32.StdEncoding.WithPadding(base32.NoPadding)

// RecoveryKey is a 32-byte random secret independent of the password. Either
// the password or the recovery key alone can unwrap the content key.
type RecoveryKey struct {
	secret []byte
}

// NewRecoveryKey generates a fresh recovery key.
func NewRecoveryKey() (*RecoveryKey, error) {
	secret, err := util.RandomBytes(recoverySecretLen)
	if err != nil {
		return nil, fmt.Errorf("generating recovery secret: %w", err)
	}
	return &RecoveryKey{secret: secret}, nil
}

// Bytes returns a copy of the raw secret, the input to master key derivation.
func (r *RecoveryKey) Bytes() []byte {
	return util.CopyBytes(r.secret)
}

// String renders the display form: a version prefix followed by base32
// groups of the secret plus a 2-byte checksum, so transcription errors are
// caught cheaply at parse time.
func (r *RecoveryKey) String() string {
	sum := sha256.Sum256(r.secret)
	body := make([]byte, 0, recoverySecretLen+recoveryChecksumLen)
	body = append(body, r.secret...)
	body = append(body, sum[:recoveryChecksumLen]...)
	encoded := recoveryEncoding.EncodeToString(body)

	var sb strings.Builder
	fmt.Fprintf(&sb, "R%d", recoveryKeyVersion)
	for i := 0; i < len(encoded); i += 5 {
		end := i + 5
		if end > len(encoded) {
			end = len(encoded)
		}
		sb.WriteByte('-')
		sb.WriteString(encoded[i:end])
	}
	return sb.String()
}

// ParseRecoveryKey parses the display form and validates the checksum. It
// never touches a KDF, so a typo fails fast.
func ParseRecoveryKey(s string) (*RecoveryKey, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	prefix := fmt.Sprintf("R%d-", recoveryKeyVersion)
	if !strings.HasPrefix(s, prefix) {
		return nil, fmt.Errorf("invalid recovery key format")
	}
	encoded := strings.ReplaceAll(strings.TrimPrefix(s, prefix), "-", "")
	body, err := recoveryEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("invalid recovery key encoding: %w", err)
	}
	if len(body) != recoverySecretLen+recoveryChecksumLen {
		return nil, fmt.Errorf("invalid recovery key length")
	}
	secret := body[:recoverySecretLen]
	sum := sha256.Sum256(secret)
	if !bytes.Equal(sum[:recoveryChecksumLen], body[recoverySecretLen:]) {
		return nil, ErrRecoveryKeyChecksum
	}
	return &RecoveryKey{secret: util.CopyBytes(secret)}, nil
}

// Destroy wipes the secret in place.
func (r *RecoveryKey) Destroy() {
	util.WipeBytes(r.secret)
	r.secret = nil
}
