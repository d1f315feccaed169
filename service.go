package adecrypt

import (
	"github.com/awnumar/memguard"
)

// Service is the full vault contract. *Vault is the only implementation in
// this package; the interface exists so embedders can wrap a vault (for
// instrumentation, policy checks, test doubles) without re-exporting every
// method.
type Service interface {
	// Store encrypts plaintext as the current value of name, preserving
	// any previous value as a version.
	Store(name string, plaintext []byte, opts StoreOptions) (*SecretMetadata, error)

	// Get decrypts the current value of a secret. Expired secrets fail
	// with ExpiredError before any decryption is attempted.
	Get(name string) ([]byte, *SecretMetadata, error)

	// GetVersion decrypts a historical value; version ordinals start at
	// 1 and the highest is the current value.
	GetVersion(name string, version int) ([]byte, error)

	// ListVersions reports the version ordinals available for a secret.
	ListVersions(name string) ([]int, error)

	// List returns metadata for every secret, values excluded.
	List() ([]*SecretMetadata, error)

	// Search filters secrets by substring match on name, tags or
	// category, optionally restricted to one category.
	Search(pattern, category string) ([]*SecretMetadata, error)

	// Delete securely removes a secret, its versions and its metadata.
	Delete(name string) error

	// SetExpiry replaces a secret's expiry; non-positive ttlDays clears
	// it.
	SetExpiry(name string, ttlDays int) (*SecretMetadata, error)

	// AddTags appends tags to a secret's metadata.
	AddTags(name string, tags ...string) (*SecretMetadata, error)

	// SetCategory reassigns a secret's category.
	SetCategory(name, category string) (*SecretMetadata, error)

	// CleanExpired deletes all expired secrets and reports the count.
	CleanExpired() (int, error)

	// Rotate replaces the default key and migrates every secret's
	// current value to it; resumable after partial failure.
	Rotate(reason string) (*RotationReport, error)

	// ForceRotate rotates even when the last rotation is still current.
	ForceRotate(reason string) (*RotationReport, error)

	// UseSecret hands the decrypted value to fn and wipes it afterwards.
	UseSecret(name string, fn func(data []byte) error) error

	// UseSecretString is UseSecret for callers that need a string.
	UseSecretString(name string, fn func(value string) error) error

	// Keys exposes key lifecycle operations.
	Keys() *KeyStore

	// Close releases the vault and purges cached key material.
	Close() error
}

var _ Service = (*Vault)(nil)

// UseSecret decrypts a secret, passes the plaintext to fn and wipes the
// buffer when fn returns, whatever happens inside it. Prefer this over Get
// when the value is only needed transiently; it keeps the window in which
// plaintext exists as small as the callback.
func (v *Vault) UseSecret(name string, fn func(data []byte) error) error {
	plaintext, _, err := v.Get(name)
	if err != nil {
		return err
	}
	defer memguard.WipeBytes(plaintext)
	return fn(plaintext)
}

// UseSecretString is UseSecret for string-shaped values. The string is a
// copy; Go strings cannot be wiped, so callers with strict hygiene needs
// should stay with UseSecret.
func (v *Vault) UseSecretString(name string, fn func(value string) error) error {
	return v.UseSecret(name, func(data []byte) error {
		return fn(string(data))
	})
}
