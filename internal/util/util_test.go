package util

import (
	"bytes"
	"testing"
)

func TestSealOpen(t *testing.T) {
	key, _ := NewKey()
	plaintext := []byte("hello world")
	aad := []byte("context")

	t.Run("RoundTrip", func(t *testing.T) {
		nonce, ciphertext, err := Seal(key, plaintext, aad)
		if err != nil {
			t.Fatalf("Seal failed: %v", err)
		}
		if len(nonce) != NonceSize {
			t.Fatalf("unexpected nonce size %d", len(nonce))
		}

		decrypted, err := Open(key, nonce, ciphertext, aad)
		if err != nil {
			t.Fatalf("Open failed: %v", err)
		}
		if !bytes.Equal(plaintext, decrypted) {
			t.Errorf("expected %s, got %s", plaintext, decrypted)
		}
	})

	t.Run("FreshNoncePerCall", func(t *testing.T) {
		n1, _, err := Seal(key, plaintext, aad)
		if err != nil {
			t.Fatal(err)
		}
		n2, _, err := Seal(key, plaintext, aad)
		if err != nil {
			t.Fatal(err)
		}
		if bytes.Equal(n1, n2) {
			t.Error("nonce reused across Seal calls")
		}
	})

	t.Run("TamperAAD", func(t *testing.T) {
		nonce, ciphertext, _ := Seal(key, plaintext, aad)
		if _, err := Open(key, nonce, ciphertext, []byte("wrong context")); err == nil {
			t.Error("expected error with wrong AAD, got nil")
		}
	})

	t.Run("TamperCiphertext", func(t *testing.T) {
		nonce, ciphertext, _ := Seal(key, plaintext, aad)
		ciphertext[len(ciphertext)-1] ^= 0xFF
		if _, err := Open(key, nonce, ciphertext, aad); err == nil {
			t.Error("expected error with tampered ciphertext, got nil")
		}
	})

	t.Run("WrongKey", func(t *testing.T) {
		nonce, ciphertext, _ := Seal(key, plaintext, aad)
		other, _ := NewKey()
		if _, err := Open(other, nonce, ciphertext, aad); err == nil {
			t.Error("expected error with wrong key, got nil")
		}
	})

	t.Run("RejectBadKeySize", func(t *testing.T) {
		if _, _, err := Seal([]byte("too short"), plaintext, aad); err == nil {
			t.Error("expected error with wrong key size, got nil")
		}
	})
}

func TestHKDF(t *testing.T) {
	seed, _ := NewKey()

	k1, err := HKDF(seed, []byte("salt"), []byte("info-a"))
	if err != nil {
		t.Fatal(err)
	}
	k2, err := HKDF(seed, []byte("salt"), []byte("info-a"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(k1, k2) {
		t.Error("HKDF is not deterministic")
	}

	k3, err := HKDF(seed, []byte("salt"), []byte("info-b"))
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(k1, k3) {
		t.Error("distinct info strings produced the same subkey")
	}
}

func TestWipeBytes(t *testing.T) {
	b := []byte{1, 2, 3}
	WipeBytes(b)
	for i, v := range b {
		if v != 0 {
			t.Errorf("byte %d not wiped", i)
		}
	}
}

func TestNormalizePassword(t *testing.T) {
	// U+00E9 and U+0065 U+0301 must derive identically.
	if NormalizePassword("café") != NormalizePassword("café") {
		t.Error("NFKD normalization mismatch")
	}
}
