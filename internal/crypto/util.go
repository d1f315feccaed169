package crypto

import (
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/pbkdf2"

	"github.com/phdsystems/ade-crypt/internal/misc"
)

// Checksum returns the hex encoded SHA-256 digest of data.
// Secret plaintext checksums are computed with this before encryption so
// integrity can be verified after a successful decrypt.
func Checksum(data []byte) string {
	hash := sha256.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Fingerprint returns a short identifier for key material that is safe to
// persist in metadata. It is used to enforce that no two live keys share
// identical material, without ever storing the material itself.
func Fingerprint(material []byte) string {
	hash := sha256.Sum256(material)
	return hex.EncodeToString(hash[:16])
}

// DeriveKeyEncryptionKey derives the vault's key-encryption key from a
// passphrase and the persisted salt using Argon2id. The result is returned
// in a locked buffer; the caller seals it into an enclave.
func DeriveKeyEncryptionKey(passphrase []byte, saltEnclave *memguard.Enclave) (*memguard.LockedBuffer, error) {
	saltBuffer, err := saltEnclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open salt enclave: %w", err)
	}
	defer saltBuffer.Destroy()

	// Copy the salt so the buffer can be destroyed before argon2 returns
	saltBytes := make([]byte, len(saltBuffer.Bytes()))
	copy(saltBytes, saltBuffer.Bytes())
	defer memguard.WipeBytes(saltBytes)

	derived := argon2.IDKey(
		passphrase,
		saltBytes,
		misc.ArgonTime,
		misc.ArgonMemory,
		misc.ArgonThreads,
		misc.ArgonKeyLen,
	)

	protected := memguard.NewBufferFromBytes(derived)
	memguard.WipeBytes(derived)

	return protected, nil
}

// Seal encrypts value with key using ChaCha20-Poly1305 and returns
// nonce||ciphertext. Used to wrap key material before it touches disk.
func Seal(value, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}

	ciphertext := aead.Seal(nil, nonce, value, nil)

	sealed := make([]byte, len(nonce)+len(ciphertext))
	copy(sealed[:len(nonce)], nonce)
	copy(sealed[len(nonce):], ciphertext)

	return sealed, nil
}

// Open decrypts a value produced by Seal. Authentication failure or a
// truncated input yields an error without partial output.
func Open(sealed, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	if len(sealed) < aead.NonceSize()+aead.Overhead() {
		return nil, errors.New("sealed data too short")
	}

	nonce := sealed[:aead.NonceSize()]
	ciphertext := sealed[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("authentication failed: %w", err)
	}

	return plaintext, nil
}

// EncryptWithPassphrase encrypts data using a passphrase with PBKDF2 + ChaCha20-Poly1305.
// Used for protected key export bundles, which must be decryptable without
// the vault's own salt. Output layout: salt||nonce||ciphertext.
func EncryptWithPassphrase(data []byte, passphrase string) ([]byte, error) {
	salt := make([]byte, 32)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("failed to generate salt: %w", err)
	}

	key := pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)
	defer memguard.WipeBytes(key)

	sealed, err := Seal(data, key)
	if err != nil {
		return nil, err
	}

	result := make([]byte, len(salt)+len(sealed))
	copy(result[:len(salt)], salt)
	copy(result[len(salt):], sealed)

	return result, nil
}

// DecryptWithPassphrase decrypts a bundle produced by EncryptWithPassphrase.
func DecryptWithPassphrase(bundle []byte, passphrase string) ([]byte, error) {
	if len(bundle) < 32+12 { // salt + nonce minimum
		return nil, errors.New("encrypted data too short")
	}

	salt := bundle[:32]
	key := pbkdf2.Key([]byte(passphrase), salt, 100000, 32, sha256.New)
	defer memguard.WipeBytes(key)

	return Open(bundle[32:], key)
}

// IsWeakKey reports whether key material is too short or has obviously
// degenerate byte patterns. Freshly generated keys are rejected and
// regenerated if this returns true.
func IsWeakKey(key []byte) bool {
	if len(key) < misc.KeySize {
		return true
	}

	allZero := true
	for _, b := range key {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return true
	}

	first := key[0]
	allSame := true
	for _, b := range key[1:] {
		if b != first {
			allSame = false
			break
		}
	}
	if allSame {
		return true
	}

	// Crude entropy check: a random 32 byte key has far more than 16
	// distinct byte values with overwhelming probability
	unique := make(map[byte]struct{})
	for _, b := range key {
		unique[b] = struct{}{}
	}
	return len(unique) < 16
}
