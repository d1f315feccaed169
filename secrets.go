package adecrypt

import (
	"fmt"
	"sort"
	"time"

	icrypto "github.com/phdsystems/ade-crypt/internal/crypto"
	"github.com/phdsystems/ade-crypt/internal/debug"
	"github.com/phdsystems/ade-crypt/persist"
)

// StoreOptions controls how a secret is stored.
type StoreOptions struct {
	// Category groups related secrets for listing and search.
	Category string

	// Tags annotate the secret; they are validated, trimmed and
	// de-duplicated before persisting.
	Tags []string

	// TTLDays sets the secret's lifetime. Zero applies the configured
	// default; a negative value stores the secret without expiry.
	TTLDays int
}

// Store encrypts plaintext under the default key and persists it as the
// current value of name.
//
// Overwriting an existing secret never loses data: the previous ciphertext
// is preserved as an immutable version first, and the metadata version
// counter is incremented while the original creation timestamp is kept.
// Expiry defaults to 180 days (Config.DefaultSecretTTLDays) from now and can
// be overridden per call via StoreOptions.TTLDays.
//
// The default key is auto-provisioned on first use when the configured
// policy allows, so a fresh vault can store a secret with no prior key
// ceremony.
func (v *Vault) Store(name string, plaintext []byte, opts StoreOptions) (*SecretMetadata, error) {
	requestID := newRequestID()
	start := v.clock.Now()

	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateSecretName(name); err != nil {
		return nil, err
	}
	tags, err := validateAndSanitizeTags(opts.Tags)
	if err != nil {
		return nil, err
	}

	keyMeta, err := v.keys.EnsureDefault()
	if err != nil {
		return nil, fmt.Errorf("no usable encryption key: %w", err)
	}
	keyEnclave, err := v.keys.material(keyMeta.Name)
	if err != nil {
		return nil, err
	}

	now := v.clock.Now().UTC()
	meta := &SecretMetadata{
		Name:       name,
		KeyName:    keyMeta.Name,
		KeyID:      keyMeta.ID,
		Category:   opts.Category,
		Tags:       tags,
		Checksum:   icrypto.Checksum(plaintext),
		Version:    1,
		CreatedAt:  now,
		ModifiedAt: now,
	}
	switch {
	case opts.TTLDays > 0:
		meta.ExpiresAt = now.Add(time.Duration(opts.TTLDays) * 24 * time.Hour)
	case opts.TTLDays == 0:
		meta.ExpiresAt = now.Add(time.Duration(v.config.secretTTLDays()) * 24 * time.Hour)
	}

	// Preserve the previous ciphertext as a version before overwriting
	if previous, loadErr := v.meta.LoadSecretMeta(name); loadErr == nil {
		raw, loadErr := v.store.LoadSecret(name)
		if loadErr != nil {
			return nil, fmt.Errorf("failed to read current value for versioning: %w", loadErr)
		}
		if _, saveErr := v.store.SaveVersion(name, previous.ModifiedAt.Unix(), raw); saveErr != nil {
			return nil, fmt.Errorf("failed to archive previous version: %w", saveErr)
		}
		meta.Version = previous.Version + 1
		meta.CreatedAt = previous.CreatedAt
	} else if !IsNotFound(loadErr) {
		return nil, loadErr
	}

	encoded, err := v.crypto.Encrypt(plaintext, keyMeta.ID, keyEnclave)
	if err != nil {
		logAudit(v.audit, requestID, "SECRET_STORE_FAILED", err, map[string]interface{}{
			"secret_name": name,
		})
		return nil, err
	}

	if err = v.store.SaveSecret(name, []byte(encoded)); err != nil {
		return nil, fmt.Errorf("failed to persist secret: %w", err)
	}
	if err = v.meta.SaveSecretMeta(meta); err != nil {
		return nil, fmt.Errorf("failed to persist secret metadata: %w", err)
	}

	logAudit(v.audit, requestID, "SECRET_STORED", nil, map[string]interface{}{
		"secret_name": name,
		"version":     meta.Version,
		"key_name":    keyMeta.Name,
		"duration_ms": v.clock.Now().Sub(start).Milliseconds(),
	})
	return meta, nil
}

// Get decrypts and returns the current value of a secret along with its
// metadata.
//
// Expiry is enforced before any ciphertext is touched: an expired secret
// yields ExpiredError and its value stays sealed until the expiry is
// extended or the secret overwritten. The decryption key is resolved from
// the key ID embedded in the ciphertext, so renamed (archived) keys keep
// working; a revoked key makes the value permanently unreadable. The
// plaintext is checked against the stored checksum before being returned.
func (v *Vault) Get(name string) ([]byte, *SecretMetadata, error) {
	requestID := newRequestID()

	if err := v.checkOpen(); err != nil {
		return nil, nil, err
	}
	if err := validateSecretName(name); err != nil {
		return nil, nil, err
	}

	meta, err := v.meta.LoadSecretMeta(name)
	if err != nil {
		return nil, nil, err
	}

	if err = v.checkExpiry(meta); err != nil {
		logAudit(v.audit, requestID, "SECRET_GET_DENIED", err, map[string]interface{}{
			"secret_name": name,
		})
		return nil, nil, err
	}

	plaintext, err := v.decryptStored(name, func() ([]byte, error) { return v.store.LoadSecret(name) })
	if err != nil {
		logAudit(v.audit, requestID, "SECRET_GET_FAILED", err, map[string]interface{}{
			"secret_name": name,
		})
		return nil, nil, err
	}

	if meta.Checksum != "" && icrypto.Checksum(plaintext) != meta.Checksum {
		return nil, nil, &DecryptError{Name: name, Reason: "checksum mismatch"}
	}

	logAudit(v.audit, requestID, "SECRET_RETRIEVED", nil, map[string]interface{}{
		"secret_name": name,
		"version":     meta.Version,
	})
	return plaintext, meta, nil
}

// GetVersion decrypts a specific version of a secret. Versions count from
// 1 (the first value ever stored); the highest ordinal is the current
// value. Expiry applies to the secret as a whole, so an expired secret's
// history is just as sealed as its current value.
func (v *Vault) GetVersion(name string, version int) ([]byte, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	if err := validateSecretName(name); err != nil {
		return nil, err
	}
	if version < 1 {
		return nil, fmt.Errorf("version must be >= 1, got %d", version)
	}

	meta, err := v.meta.LoadSecretMeta(name)
	if err != nil {
		return nil, err
	}
	if err = v.checkExpiry(meta); err != nil {
		return nil, err
	}

	if version == meta.Version {
		return v.decryptStored(name, func() ([]byte, error) { return v.store.LoadSecret(name) })
	}
	if version > meta.Version {
		return nil, &NotFoundError{Kind: "version", Name: fmt.Sprintf("%s@%d", name, version)}
	}

	stamps, err := v.store.ListVersions(name)
	if err != nil {
		return nil, err
	}
	// stamps are ascending; archived version i lives at stamps[i-1]
	if version > len(stamps) {
		return nil, &NotFoundError{Kind: "version", Name: fmt.Sprintf("%s@%d", name, version)}
	}
	stamp := stamps[version-1]
	return v.decryptStored(name, func() ([]byte, error) { return v.store.LoadVersion(name, stamp) })
}

// ListVersions returns the version ordinals available for a secret, oldest
// first. The last entry is always the current version.
func (v *Vault) ListVersions(name string) ([]int, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	meta, err := v.meta.LoadSecretMeta(name)
	if err != nil {
		return nil, err
	}
	versions := make([]int, 0, meta.Version)
	for i := 1; i <= meta.Version; i++ {
		versions = append(versions, i)
	}
	return versions, nil
}

// decryptStored loads ciphertext via load, resolves the key embedded in it
// and decrypts. Each version carries its own key reference, so history
// spanning a rotation still decrypts under the key it was written with.
func (v *Vault) decryptStored(name string, load func() ([]byte, error)) ([]byte, error) {
	raw, err := load()
	if err != nil {
		if err == persist.ErrNotExist {
			return nil, &NotFoundError{Kind: "secret", Name: name}
		}
		return nil, err
	}

	keyID, err := v.crypto.KeyID(string(raw))
	if err != nil {
		return nil, &DecryptError{Name: name, Reason: "malformed ciphertext", Err: err}
	}
	keyEnclave, err := v.keys.materialByID(keyID)
	if err != nil {
		return nil, &DecryptError{Name: name, Reason: "encryption key unavailable", Err: err}
	}
	return v.crypto.Decrypt(string(raw), keyEnclave)
}

// checkExpiry returns ExpiredError when the secret's expiry has passed.
func (v *Vault) checkExpiry(meta *SecretMetadata) error {
	if !meta.ExpiresAt.IsZero() && !meta.ExpiresAt.After(v.clock.Now()) {
		return &ExpiredError{Name: meta.Name, ExpiredAt: meta.ExpiresAt}
	}
	return nil
}

// List returns metadata for every secret, sorted by name. Values are never
// included.
func (v *Vault) List() ([]*SecretMetadata, error) {
	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	metas, err := v.meta.ListSecretMeta()
	if err != nil {
		return nil, err
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas, nil
}

// Search returns secrets whose name, tags or category contain pattern,
// optionally restricted to a category. Matching is case-sensitive
// substring; an empty pattern with a category filters by category alone.
func (v *Vault) Search(pattern, category string) ([]*SecretMetadata, error) {
	metas, err := v.List()
	if err != nil {
		return nil, err
	}
	matched := make([]*SecretMetadata, 0, len(metas))
	for _, meta := range metas {
		if matchesSecret(meta, pattern, category) {
			matched = append(matched, meta)
		}
	}
	return matched, nil
}

// Delete removes a secret: its current ciphertext, all versions and its
// metadata. Files are overwritten before unlinking. Deleting a secret that
// does not exist fails with NotFoundError.
func (v *Vault) Delete(name string) error {
	requestID := newRequestID()

	if err := v.checkOpen(); err != nil {
		return err
	}
	if err := validateSecretName(name); err != nil {
		return err
	}

	if _, err := v.meta.LoadSecretMeta(name); err != nil {
		return err
	}

	if err := v.store.DeleteSecret(name); err != nil && err != persist.ErrNotExist {
		return fmt.Errorf("failed to delete secret: %w", err)
	}
	if err := v.store.DeleteVersions(name); err != nil {
		return fmt.Errorf("failed to delete versions: %w", err)
	}
	if err := v.meta.DeleteSecretMeta(name); err != nil {
		return err
	}

	logAudit(v.audit, requestID, "SECRET_DELETED", nil, map[string]interface{}{
		"secret_name": name,
	})
	return nil
}

// SetExpiry replaces a secret's expiry with now + ttlDays. A zero or
// negative ttlDays clears the expiry entirely, which is also how an
// expired secret is brought back without rewriting its value.
func (v *Vault) SetExpiry(name string, ttlDays int) (*SecretMetadata, error) {
	requestID := newRequestID()

	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	meta, err := v.meta.LoadSecretMeta(name)
	if err != nil {
		return nil, err
	}

	if ttlDays > 0 {
		meta.ExpiresAt = v.clock.Now().UTC().Add(time.Duration(ttlDays) * 24 * time.Hour)
	} else {
		meta.ExpiresAt = time.Time{}
	}
	meta.ModifiedAt = v.clock.Now().UTC()

	if err = v.meta.SaveSecretMeta(meta); err != nil {
		return nil, err
	}

	logAudit(v.audit, requestID, "SECRET_EXPIRY_SET", nil, map[string]interface{}{
		"secret_name": name,
		"ttl_days":    ttlDays,
	})
	return meta, nil
}

// AddTags appends tags to a secret's metadata, de-duplicating against the
// existing set.
func (v *Vault) AddTags(name string, tags ...string) (*SecretMetadata, error) {
	requestID := newRequestID()

	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	meta, err := v.meta.LoadSecretMeta(name)
	if err != nil {
		return nil, err
	}

	merged, err := validateAndSanitizeTags(append(append([]string{}, meta.Tags...), tags...))
	if err != nil {
		return nil, err
	}
	meta.Tags = merged
	meta.ModifiedAt = v.clock.Now().UTC()

	if err = v.meta.SaveSecretMeta(meta); err != nil {
		return nil, err
	}

	logAudit(v.audit, requestID, "SECRET_TAGGED", nil, map[string]interface{}{
		"secret_name": name,
		"tags":        merged,
	})
	return meta, nil
}

// SetCategory reassigns a secret's category.
func (v *Vault) SetCategory(name, category string) (*SecretMetadata, error) {
	requestID := newRequestID()

	if err := v.checkOpen(); err != nil {
		return nil, err
	}
	meta, err := v.meta.LoadSecretMeta(name)
	if err != nil {
		return nil, err
	}
	meta.Category = category
	meta.ModifiedAt = v.clock.Now().UTC()

	if err = v.meta.SaveSecretMeta(meta); err != nil {
		return nil, err
	}

	logAudit(v.audit, requestID, "SECRET_CATEGORIZED", nil, map[string]interface{}{
		"secret_name": name,
		"category":    category,
	})
	return meta, nil
}

// CleanExpired deletes every expired secret and returns how many were
// removed. Failures on individual secrets are logged and skipped so one
// bad entry cannot block the sweep.
func (v *Vault) CleanExpired() (int, error) {
	requestID := newRequestID()

	if err := v.checkOpen(); err != nil {
		return 0, err
	}
	metas, err := v.meta.ListSecretMeta()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, meta := range metas {
		if meta.ExpiresAt.IsZero() || meta.ExpiresAt.After(v.clock.Now()) {
			continue
		}
		if err := v.Delete(meta.Name); err != nil {
			debug.Print("clean: failed to delete %s: %v", meta.Name, err)
			continue
		}
		removed++
	}

	logAudit(v.audit, requestID, "SECRETS_CLEANED", nil, map[string]interface{}{
		"removed": removed,
	})
	return removed, nil
}
