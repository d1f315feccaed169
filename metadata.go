package adecrypt

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/phdsystems/ade-crypt/persist"
)

// KeyType classifies key material.
type KeyType string

const (
	// KeyTypeSymmetric is 256 bit material for ChaCha20-Poly1305. The vault
	// encrypts secrets exclusively under symmetric keys.
	KeyTypeSymmetric KeyType = "symmetric"

	// KeyTypeAsymmetricPublic is the public half of a generated pair,
	// lifecycle-managed for callers; the vault never encrypts under it.
	KeyTypeAsymmetricPublic KeyType = "asymmetric-public"

	// KeyTypeAsymmetricPrivate is the private half of a generated pair.
	KeyTypeAsymmetricPrivate KeyType = "asymmetric-private"
)

// KeyStatus represents the lifecycle state of a vault key.
//
// Keys progress through states:
//   - active: used for new encryptions (at most one key is the default)
//   - archived: retired by rotation but retained so historical versions
//     stay decryptable
//   - revoked: material securely erased; anything encrypted under it is
//     permanently unreadable
type KeyStatus string

const (
	KeyStatusActive   KeyStatus = "active"
	KeyStatusArchived KeyStatus = "archived"
	KeyStatusRevoked  KeyStatus = "revoked"
)

// KeyMetadata is the sidecar record for a key, persisted at
// metadata/<name>.meta. It never contains the material itself.
type KeyMetadata struct {
	// ID is the immutable identifier embedded in ciphertexts. Rotation
	// renames keys (the archived default becomes "default.<ts>") but the ID
	// never changes, so old versions keep decrypting after a rename.
	ID string `json:"id"`

	// Name is the mutable key name; it doubles as the file stem under
	// keys/ and metadata/.
	Name string `json:"name"`

	Type      KeyType   `json:"type"`
	Algorithm string    `json:"algorithm"`
	Length    int       `json:"length"`
	Status    KeyStatus `json:"status"`

	// Fingerprint is a short digest of the material used to enforce that no
	// two live keys share identical material.
	Fingerprint string `json:"fingerprint,omitempty"`

	CreatedAt time.Time `json:"created"`
	ExpiresAt time.Time `json:"expires"`
}

// SecretMetadata is the sidecar record for a secret, persisted at
// metadata/secret_<name>.meta.
type SecretMetadata struct {
	Name string `json:"name"`

	// KeyName and KeyID identify the key that encrypted the current
	// version. Historical versions carry their own key reference inside
	// their ciphertext envelope.
	KeyName string `json:"key_name"`
	KeyID   string `json:"key_id"`

	Category string   `json:"category,omitempty"`
	Tags     []string `json:"tags,omitempty"`

	// Checksum is the SHA-256 of the current plaintext, computed before
	// encryption and verified after every successful decrypt of the
	// current version.
	Checksum string `json:"checksum"`

	// Version counts stores: 1 on creation, incremented on each overwrite.
	// Versions 1..Version-1 live under versions/ as immutable snapshots.
	Version int `json:"version"`

	CreatedAt  time.Time `json:"created"`
	ModifiedAt time.Time `json:"modified"`
	ExpiresAt  time.Time `json:"expires"`
}

// RotationState is the rotation checkpoint, persisted at rotation.meta.
// The source design relied purely on per-secret overwrite idempotence for
// crash recovery; this explicit checkpoint strengthens that: a pending
// candidate survives a crash and is resumed by the next rotation.
type RotationState struct {
	// PendingKeyName/PendingKeyID identify a generated candidate whose
	// migration has not completed. Empty when no rotation is in flight.
	PendingKeyName string `json:"pending_key_name,omitempty"`
	PendingKeyID   string `json:"pending_key_id,omitempty"`

	// LastRotation is when the last rotation completed (archive + promote).
	LastRotation time.Time `json:"last_rotation,omitempty"`

	// LastArchivedKey is the name the previous default was archived under.
	LastArchivedKey string `json:"last_archived_key,omitempty"`
}

// MetadataStore reads and writes the typed sidecar records through the
// persistence layer. Records are serialized JSON; the field set mirrors the
// on-disk format the original tool kept, so existing vault trees stay
// readable.
type MetadataStore struct {
	store persist.Store
}

// NewMetadataStore wraps a persist.Store.
func NewMetadataStore(store persist.Store) *MetadataStore {
	return &MetadataStore{store: store}
}

// SaveSecretMeta persists the sidecar record for a secret.
func (m *MetadataStore) SaveSecretMeta(meta *SecretMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize secret metadata: %w", err)
	}
	return m.store.SaveSecretMeta(meta.Name, data)
}

// LoadSecretMeta returns the sidecar record for a secret, or NotFoundError.
func (m *MetadataStore) LoadSecretMeta(name string) (*SecretMetadata, error) {
	data, err := m.store.LoadSecretMeta(name)
	if err != nil {
		if errors.Is(err, persist.ErrNotExist) {
			return nil, &NotFoundError{Kind: "secret", Name: name}
		}
		return nil, fmt.Errorf("failed to load secret metadata: %w", err)
	}

	var meta SecretMetadata
	if err = json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("corrupt secret metadata for %s: %w", name, err)
	}
	return &meta, nil
}

// DeleteSecretMeta removes the sidecar record for a secret.
func (m *MetadataStore) DeleteSecretMeta(name string) error {
	if err := m.store.DeleteSecretMeta(name); err != nil {
		if errors.Is(err, persist.ErrNotExist) {
			return &NotFoundError{Kind: "secret", Name: name}
		}
		return err
	}
	return nil
}

// ListSecretMeta returns the sidecar records of all secrets in lexical
// order of name.
func (m *MetadataStore) ListSecretMeta() ([]*SecretMetadata, error) {
	names, err := m.store.ListSecretMeta()
	if err != nil {
		return nil, err
	}

	metas := make([]*SecretMetadata, 0, len(names))
	for _, name := range names {
		meta, err := m.LoadSecretMeta(name)
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// SaveKeyMeta persists the sidecar record for a key.
func (m *MetadataStore) SaveKeyMeta(meta *KeyMetadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize key metadata: %w", err)
	}
	return m.store.SaveKeyMeta(meta.Name, data)
}

// LoadKeyMeta returns the sidecar record for a key, or NotFoundError.
func (m *MetadataStore) LoadKeyMeta(name string) (*KeyMetadata, error) {
	data, err := m.store.LoadKeyMeta(name)
	if err != nil {
		if errors.Is(err, persist.ErrNotExist) {
			return nil, &NotFoundError{Kind: "key", Name: name}
		}
		return nil, fmt.Errorf("failed to load key metadata: %w", err)
	}

	var meta KeyMetadata
	if err = json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("corrupt key metadata for %s: %w", name, err)
	}
	return &meta, nil
}

// DeleteKeyMeta removes the sidecar record for a key.
func (m *MetadataStore) DeleteKeyMeta(name string) error {
	if err := m.store.DeleteKeyMeta(name); err != nil {
		if errors.Is(err, persist.ErrNotExist) {
			return &NotFoundError{Kind: "key", Name: name}
		}
		return err
	}
	return nil
}

// RenameKeyMeta renames a key's sidecar record file and rewrites the Name
// field inside it so record and filename stay consistent.
func (m *MetadataStore) RenameKeyMeta(oldName, newName string) error {
	meta, err := m.LoadKeyMeta(oldName)
	if err != nil {
		return err
	}
	meta.Name = newName
	if err = m.SaveKeyMeta(meta); err != nil {
		return err
	}
	return m.store.DeleteKeyMeta(oldName)
}

// ListKeyMeta returns the sidecar records of all keys in lexical order of
// name.
func (m *MetadataStore) ListKeyMeta() ([]*KeyMetadata, error) {
	names, err := m.store.ListKeyMeta()
	if err != nil {
		return nil, err
	}

	metas := make([]*KeyMetadata, 0, len(names))
	for _, name := range names {
		meta, err := m.LoadKeyMeta(name)
		if err != nil {
			return nil, err
		}
		metas = append(metas, meta)
	}
	return metas, nil
}

// LoadRotationState returns the rotation checkpoint. A vault that has never
// rotated yields the zero state, not an error.
func (m *MetadataStore) LoadRotationState() (*RotationState, error) {
	data, err := m.store.LoadRotationState()
	if err != nil {
		if errors.Is(err, persist.ErrNotExist) {
			return &RotationState{}, nil
		}
		return nil, fmt.Errorf("failed to load rotation state: %w", err)
	}

	var state RotationState
	if err = json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("corrupt rotation state: %w", err)
	}
	return &state, nil
}

// SaveRotationState persists the rotation checkpoint.
func (m *MetadataStore) SaveRotationState(state *RotationState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize rotation state: %w", err)
	}
	return m.store.SaveRotationState(data)
}
