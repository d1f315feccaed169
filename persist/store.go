package persist

import (
	"errors"
	"fmt"
)

// ErrNotExist is returned by load operations when the requested artifact is
// not present in the store. Callers map it onto their own error taxonomy.
var ErrNotExist = errors.New("artifact does not exist")

// Store defines the interface for persisting vault artifacts.
//
// The store deals in opaque byte blobs: ciphertext, wrapped key material and
// serialized metadata records. All encryption happens above this layer, so a
// store implementation never sees plaintext or unwrapped key material. Writes
// must be atomic with respect to concurrent readers (readers observe either
// the previous content or the complete new content, never a partial write).
//
// The store performs no cross-artifact transactions. Multi-artifact
// operations such as key rotation are sequenced by the vault layer and rely
// on each individual write being atomic.
type Store interface {

	// Secrets (current ciphertext per secret name)

	SaveSecret(name string, data []byte) error
	LoadSecret(name string) ([]byte, error)
	SecretExists(name string) (bool, error)

	// DeleteSecret securely erases the current ciphertext for name.
	// Deleting an absent secret returns ErrNotExist.
	DeleteSecret(name string) error

	// ListSecrets returns the names of all stored secrets in lexical order.
	ListSecrets() ([]string, error)

	// Versions (historical ciphertext snapshots, append-only)

	// SaveVersion stores a historical ciphertext snapshot stamped with ts.
	// If a snapshot with the same timestamp already exists the store bumps
	// the stamp to the next free value and returns the stamp actually used,
	// preserving insertion order.
	SaveVersion(name string, ts int64, data []byte) (int64, error)
	LoadVersion(name string, ts int64) ([]byte, error)

	// ListVersions returns the snapshot timestamps for name in ascending
	// order. A secret with no history yields an empty slice, not an error.
	ListVersions(name string) ([]int64, error)

	// DeleteVersions securely erases every snapshot for name.
	DeleteVersions(name string) error

	// Keys (wrapped key material per key name)

	SaveKey(name string, data []byte) error
	LoadKey(name string) ([]byte, error)
	KeyExists(name string) (bool, error)

	// DeleteKey securely erases the key material file for name.
	DeleteKey(name string) error

	// RenameKey atomically renames key material, used when rotation
	// archives the outgoing default key.
	RenameKey(oldName, newName string) error

	ListKeys() ([]string, error)

	// Metadata (serialized sidecar records)

	SaveSecretMeta(name string, data []byte) error
	LoadSecretMeta(name string) ([]byte, error)
	DeleteSecretMeta(name string) error
	ListSecretMeta() ([]string, error)

	SaveKeyMeta(name string, data []byte) error
	LoadKeyMeta(name string) ([]byte, error)
	DeleteKeyMeta(name string) error
	RenameKeyMeta(oldName, newName string) error
	ListKeyMeta() ([]string, error)

	// Derivation salt

	SaveSalt(salt []byte) error
	LoadSalt() ([]byte, error)
	SaltExists() (bool, error)

	// Rotation checkpoint

	SaveRotationState(data []byte) error

	// LoadRotationState returns ErrNotExist when no rotation has ever been
	// recorded.
	LoadRotationState() ([]byte, error)

	// Health and utilities

	// Ping verifies the store is reachable and writable.
	Ping() error

	// Close releases any resources the store holds.
	Close() error

	// GetType identifies the backend (e.g. "filesystem").
	GetType() string
}

// StoreConfig provides configuration for storage backends.
type StoreConfig struct {
	// Type selects the storage backend, one of the StoreType constants.
	Type StoreType `json:"type"`

	// Config holds backend-specific settings, e.g. {"base_path": "..."} for
	// the filesystem store.
	Config map[string]interface{} `json:"config"`
}

// StoreType represents the different types of storage backends.
type StoreType string

const (
	// StoreTypeFileSystem stores all artifacts under a local directory tree.
	StoreTypeFileSystem StoreType = "filesystem"
)

// CorruptArtifactError reports an artifact whose on-disk representation is
// structurally invalid before any decryption has been attempted.
type CorruptArtifactError struct {
	Kind string
	Name string
}

func (e *CorruptArtifactError) Error() string {
	return fmt.Sprintf("corrupt %s artifact: %s", e.Kind, e.Name)
}
