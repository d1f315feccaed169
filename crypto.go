package adecrypt

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/awnumar/memguard"
	"golang.org/x/crypto/chacha20poly1305"
)

// maxPlaintextSize caps a single secret to keep memory use bounded.
const maxPlaintextSize = 10 * 1024 * 1024 // 10MB

// CryptoProvider wraps the vault's single symmetric encryption primitive:
// ChaCha20-Poly1305 AEAD (RFC 8439).
//
// Ciphertext is self-contained: it embeds the identifier of the key that
// produced it, so a stored blob can always be routed back to the right key
// even after that key has been renamed or archived by rotation, and it
// embeds the random nonce. The Poly1305 tag authenticates the payload and
// the key ID header (passed as associated data), so any bit flip anywhere
// in the stored blob is detected at decrypt time rather than yielding
// garbage plaintext or routing the blob to the wrong key unnoticed.
//
// BINARY FORMAT (before base64 encoding for text-safe storage):
//
//	[2 bytes: key ID length (big-endian)]
//	[N bytes: key ID (UTF-8)]
//	[12 bytes: nonce (random per encryption)]
//	[M bytes: ciphertext + 16 byte authentication tag]
//
// Key material is only ever accessed through memguard enclaves and the
// opened buffer is destroyed before returning on every path.
type CryptoProvider struct{}

// NewCryptoProvider returns a stateless provider.
func NewCryptoProvider() *CryptoProvider {
	return &CryptoProvider{}
}

// Encrypt seals plaintext under the key held in the enclave and stamps the
// output with keyID. The returned string is base64 and safe for text
// storage. Pure transformation: no I/O, no logging.
func (p *CryptoProvider) Encrypt(plaintext []byte, keyID string, key *memguard.Enclave) (string, error) {
	if len(plaintext) == 0 {
		return "", errors.New("empty plaintext")
	}
	if len(plaintext) > maxPlaintextSize {
		return "", errors.New("plaintext too large")
	}
	if keyID == "" {
		return "", errors.New("key ID is required")
	}
	if len(keyID) > 65535 {
		return "", errors.New("key ID too long")
	}
	if key == nil {
		return "", errors.New("key enclave is required")
	}

	keyBuffer, err := key.Open()
	if err != nil {
		return "", fmt.Errorf("failed to access key material: %w", err)
	}
	defer keyBuffer.Destroy()

	aead, err := chacha20poly1305.New(keyBuffer.Bytes())
	if err != nil {
		return "", fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err = rand.Read(nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	// The header rides as associated data so edits to the embedded key ID
	// fail authentication instead of silently rerouting the blob.
	header := headerBytes(keyID)
	ciphertext := aead.Seal(nil, nonce, plaintext, header)

	final := make([]byte, len(header)+len(nonce)+len(ciphertext))
	copy(final, header)
	copy(final[len(header):], nonce)
	copy(final[len(header)+len(nonce):], ciphertext)

	return base64.StdEncoding.EncodeToString(final), nil
}

// headerBytes renders the [2 byte length][key ID] header.
func headerBytes(keyID string) []byte {
	header := make([]byte, 2+len(keyID))
	binary.BigEndian.PutUint16(header[0:2], uint16(len(keyID)))
	copy(header[2:], keyID)
	return header
}

// Decrypt opens a blob produced by Encrypt using the key in the enclave.
// Wrong key material, a flipped ciphertext byte or a truncated blob all
// yield a DecryptError; there is no partial output.
func (p *CryptoProvider) Decrypt(encoded string, key *memguard.Enclave) ([]byte, error) {
	payload, keyID, err := p.parse(encoded)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, errors.New("key enclave is required")
	}

	keyBuffer, err := key.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access key material: %w", err)
	}
	defer keyBuffer.Destroy()

	aead, err := chacha20poly1305.New(keyBuffer.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}

	nonce := payload[:aead.NonceSize()]
	ciphertext := payload[aead.NonceSize():]

	plaintext, err := aead.Open(nil, nonce, ciphertext, headerBytes(keyID))
	if err != nil {
		return nil, &DecryptError{Reason: "authentication failed", Err: err}
	}

	return plaintext, nil
}

// KeyID returns the key identifier embedded in an encrypted blob without
// decrypting it. Rotation uses this to decide whether a secret already sits
// on the candidate key.
func (p *CryptoProvider) KeyID(encoded string) (string, error) {
	_, keyID, err := p.parse(encoded)
	if err != nil {
		return "", err
	}
	return keyID, nil
}

// parse validates the envelope and splits it into the encrypted payload
// (nonce + ciphertext) and the embedded key ID.
func (p *CryptoProvider) parse(encoded string) (payload []byte, keyID string, err error) {
	if encoded == "" {
		return nil, "", &DecryptError{Reason: "empty ciphertext"}
	}

	data, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, "", &DecryptError{Reason: "invalid base64 encoding", Err: err}
	}

	// 2 byte length + at least 1 byte key ID + 12 byte nonce + 16 byte tag
	if len(data) < 2+1+chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, "", &DecryptError{Reason: "ciphertext too short"}
	}

	keyIDLen := int(binary.BigEndian.Uint16(data[0:2]))
	if keyIDLen == 0 || len(data) < 2+keyIDLen+chacha20poly1305.NonceSize+chacha20poly1305.Overhead {
		return nil, "", &DecryptError{Reason: "invalid ciphertext format"}
	}

	return data[2+keyIDLen:], string(data[2 : 2+keyIDLen]), nil
}
