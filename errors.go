package adecrypt

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// The vault's error taxonomy. Every operation fails fast with one of these
// (wrapped as needed); only CleanExpired aggregates and continues. Error
// strings carry names, paths, checksums and counts only, never key material
// or plaintext.

// NotFoundError reports an absent secret, key or version.
type NotFoundError struct {
	Kind string // "secret", "key" or "version"
	Name string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Kind, e.Name)
}

// ConflictError reports a name collision, e.g. generating a key whose name
// already exists without requesting overwrite.
type ConflictError struct {
	Kind   string
	Name   string
	Reason string
}

func (e *ConflictError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("%s already exists: %s (%s)", e.Kind, e.Name, e.Reason)
	}
	return fmt.Sprintf("%s already exists: %s", e.Kind, e.Name)
}

// ExpiredError reports a secret whose expiry has passed. Expiry is checked
// before any decryption is attempted; the secret remains on disk until a
// delete or an expired sweep removes it.
type ExpiredError struct {
	Name      string
	ExpiredAt time.Time
}

func (e *ExpiredError) Error() string {
	return fmt.Sprintf("secret expired: %s (expired %s)", e.Name, e.ExpiredAt.UTC().Format(time.RFC3339))
}

// DecryptError reports a failed decryption: wrong or unavailable key,
// corrupted ciphertext, or a checksum mismatch after an otherwise
// successful decrypt.
type DecryptError struct {
	Name   string
	Reason string
	Err    error
}

func (e *DecryptError) Error() string {
	if e.Name != "" {
		return fmt.Sprintf("decryption failed for %s: %s", e.Name, e.Reason)
	}
	return fmt.Sprintf("decryption failed: %s", e.Reason)
}

func (e *DecryptError) Unwrap() error {
	return e.Err
}

// ProtectedError reports an attempt to revoke or delete a key the vault
// still depends on, such as the active default key.
type ProtectedError struct {
	Name   string
	Reason string
}

func (e *ProtectedError) Error() string {
	return fmt.Sprintf("key is protected: %s (%s)", e.Name, e.Reason)
}

// PartialRotationError reports a rotation that stopped mid-migration.
// Secrets in Migrated already decrypt under the candidate key; secrets in
// Pending still decrypt under the previous default. The outgoing default is
// not archived in this state, and re-invoking rotation resumes with the
// same candidate, skipping Migrated.
type PartialRotationError struct {
	Migrated []string
	Pending  []string
	Err      error
}

func (e *PartialRotationError) Error() string {
	return fmt.Sprintf("rotation incomplete: %d migrated [%s], %d pending [%s]: %v",
		len(e.Migrated), strings.Join(e.Migrated, ", "),
		len(e.Pending), strings.Join(e.Pending, ", "), e.Err)
}

func (e *PartialRotationError) Unwrap() error {
	return e.Err
}

// IsNotFound reports whether err is a NotFoundError.
func IsNotFound(err error) bool {
	var target *NotFoundError
	return errors.As(err, &target)
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var target *ConflictError
	return errors.As(err, &target)
}

// IsExpired reports whether err is an ExpiredError.
func IsExpired(err error) bool {
	var target *ExpiredError
	return errors.As(err, &target)
}

// IsDecrypt reports whether err is a DecryptError.
func IsDecrypt(err error) bool {
	var target *DecryptError
	return errors.As(err, &target)
}

// IsProtected reports whether err is a ProtectedError.
func IsProtected(err error) bool {
	var target *ProtectedError
	return errors.As(err, &target)
}

// IsPartialRotation reports whether err is a PartialRotationError and, when
// it is, returns it for inspection of the migrated/pending lists.
func IsPartialRotation(err error) (*PartialRotationError, bool) {
	var target *PartialRotationError
	if errors.As(err, &target) {
		return target, true
	}
	return nil, false
}
