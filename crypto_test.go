package adecrypt

import (
	"bytes"
	"crypto/rand"
	"encoding/base64"
	"strings"
	"testing"

	"github.com/awnumar/memguard"
)

func newTestKeyEnclave(t *testing.T) *memguard.Enclave {
	t.Helper()
	material := make([]byte, 32)
	if _, err := rand.Read(material); err != nil {
		t.Fatalf("Failed to generate key material: %v", err)
	}
	return memguard.NewEnclave(material)
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	provider := NewCryptoProvider()
	key := newTestKeyEnclave(t)
	keyID := "0b5ffcd6-56c1-4d5e-8528-7c097bbd8a8a"

	cases := []struct {
		name      string
		plaintext []byte
	}{
		{"text", []byte("hello vault")},
		{"empty", []byte{}},
		{"binary", []byte{0x00, 0xff, 0x10, 0x80, 0x7f}},
		{"large", bytes.Repeat([]byte("x"), 1<<16)},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			encoded, err := provider.Encrypt(tc.plaintext, keyID, key)
			if err != nil {
				t.Fatalf("Encrypt failed: %v", err)
			}

			gotID, err := provider.KeyID(encoded)
			if err != nil {
				t.Fatalf("KeyID failed: %v", err)
			}
			if gotID != keyID {
				t.Errorf("Embedded key ID = %q, want %q", gotID, keyID)
			}

			decrypted, err := provider.Decrypt(encoded, key)
			if err != nil {
				t.Fatalf("Decrypt failed: %v", err)
			}
			if !bytes.Equal(decrypted, tc.plaintext) {
				t.Errorf("Round trip mismatch: got %d bytes, want %d bytes", len(decrypted), len(tc.plaintext))
			}
		})
	}
}

func TestEncryptProducesUniqueCiphertexts(t *testing.T) {
	provider := NewCryptoProvider()
	key := newTestKeyEnclave(t)

	first, err := provider.Encrypt([]byte("same plaintext"), "key-id", key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	second, err := provider.Encrypt([]byte("same plaintext"), "key-id", key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}
	if first == second {
		t.Error("Two encryptions of the same plaintext produced identical ciphertexts")
	}
}

func TestDecryptRejectsTampering(t *testing.T) {
	provider := NewCryptoProvider()
	key := newTestKeyEnclave(t)

	encoded, err := provider.Encrypt([]byte("authentic data"), "key-id", key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Flip a character near the end of the base64 payload
	tampered := []byte(encoded)
	last := len(tampered) - 2
	if tampered[last] == 'A' {
		tampered[last] = 'B'
	} else {
		tampered[last] = 'A'
	}

	if _, err = provider.Decrypt(string(tampered), key); err == nil {
		t.Fatal("Expected decryption of tampered ciphertext to fail")
	} else if !IsDecrypt(err) {
		t.Errorf("Expected DecryptError, got %T: %v", err, err)
	}
}

func TestDecryptRejectsHeaderTampering(t *testing.T) {
	provider := NewCryptoProvider()
	key := newTestKeyEnclave(t)

	encoded, err := provider.Encrypt([]byte("routed data"), "original-id", key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// Rewrite the embedded key ID with a same-length replacement; nonce,
	// ciphertext and tag stay untouched
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("Failed to decode envelope: %v", err)
	}
	copy(raw[2:], "replaced-id")
	rewritten := base64.StdEncoding.EncodeToString(raw)

	gotID, err := provider.KeyID(rewritten)
	if err != nil {
		t.Fatalf("KeyID failed: %v", err)
	}
	if gotID != "replaced-id" {
		t.Fatalf("Rewritten key ID = %q, want %q", gotID, "replaced-id")
	}

	// The header is associated data, so the rewrite must fail
	// authentication even under the correct key
	if _, err = provider.Decrypt(rewritten, key); err == nil {
		t.Fatal("Expected decryption with a rewritten key ID header to fail")
	} else if !IsDecrypt(err) {
		t.Errorf("Expected DecryptError, got %T: %v", err, err)
	}
}

func TestDecryptRejectsWrongKey(t *testing.T) {
	provider := NewCryptoProvider()

	encoded, err := provider.Encrypt([]byte("data"), "key-id", newTestKeyEnclave(t))
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	if _, err = provider.Decrypt(encoded, newTestKeyEnclave(t)); err == nil {
		t.Fatal("Expected decryption under a different key to fail")
	}
}

func TestDecryptRejectsMalformedInput(t *testing.T) {
	provider := NewCryptoProvider()
	key := newTestKeyEnclave(t)

	cases := []struct {
		name    string
		encoded string
	}{
		{"not base64", "!!! definitely not base64 !!!"},
		{"empty", ""},
		{"too short", "QUJD"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := provider.Decrypt(tc.encoded, key); err == nil {
				t.Error("Expected malformed input to be rejected")
			}
			if _, err := provider.KeyID(tc.encoded); err == nil {
				t.Error("Expected KeyID on malformed input to fail")
			}
		})
	}
}

func TestEncryptRejectsOversizePlaintext(t *testing.T) {
	provider := NewCryptoProvider()
	key := newTestKeyEnclave(t)

	oversize := make([]byte, maxPlaintextSize+1)
	if _, err := provider.Encrypt(oversize, "key-id", key); err == nil {
		t.Fatal("Expected oversize plaintext to be rejected")
	}
}

func TestKeyIDSurvivesWithoutDecryption(t *testing.T) {
	provider := NewCryptoProvider()
	key := newTestKeyEnclave(t)

	longID := strings.Repeat("a", 100)
	encoded, err := provider.Encrypt([]byte("data"), longID, key)
	if err != nil {
		t.Fatalf("Encrypt failed: %v", err)
	}

	// KeyID never needs the key; the ID travels in the clear
	gotID, err := provider.KeyID(encoded)
	if err != nil {
		t.Fatalf("KeyID failed: %v", err)
	}
	if gotID != longID {
		t.Errorf("Key ID mismatch: got %d chars, want %d", len(gotID), len(longID))
	}
}
