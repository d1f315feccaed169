package adecrypt

import (
	"crypto/ed25519"
	"crypto/rand"
	"fmt"
	"sort"
	"time"

	"github.com/awnumar/memguard"
	"github.com/google/uuid"
	"github.com/juju/clock"

	"github.com/phdsystems/ade-crypt/audit"
	icrypto "github.com/phdsystems/ade-crypt/internal/crypto"
	"github.com/phdsystems/ade-crypt/internal/debug"
	"github.com/phdsystems/ade-crypt/internal/misc"
	"github.com/phdsystems/ade-crypt/persist"
)

// KeyHealthStatus classifies a key by proximity to its expiry.
type KeyHealthStatus string

const (
	KeyHealthHealthy      KeyHealthStatus = "healthy"
	KeyHealthExpiringSoon KeyHealthStatus = "expiring-soon"
	KeyHealthExpired      KeyHealthStatus = "expired"
)

// KeyHealth is one row of a key health report.
type KeyHealth struct {
	Name          string          `json:"name"`
	Status        KeyHealthStatus `json:"status"`
	KeyStatus     KeyStatus       `json:"key_status"`
	ExpiresAt     time.Time       `json:"expires"`
	DaysRemaining int             `json:"days_remaining"`
}

// KeyStore owns every KeyRecord in the vault: generation, import/export,
// health classification, revocation and the renames rotation performs.
//
// Key material never leaves this component except through an explicit
// export. At rest each key file under keys/ holds the material wrapped with
// a key-encryption key derived from the vault passphrase (Argon2id over the
// persisted salt); in memory unwrapped material lives only in memguard
// enclaves, cached per key ID, and opened buffers are destroyed after each
// use. Metadata (name, type, timestamps, status) is kept in sidecar records
// so listing and health checks never touch material.
type KeyStore struct {
	config Config
	store  persist.Store
	meta   *MetadataStore
	audit  audit.Logger
	clock  clock.Clock

	// kek is the key-encryption key derived from the passphrase.
	kek  *memguard.Enclave
	salt *memguard.Enclave

	// enclaves caches unwrapped material by key ID.
	enclaves map[string]*memguard.Enclave
}

// newKeyStore derives the key-encryption key (creating the salt on first
// use) and returns a store ready for key operations.
func newKeyStore(config Config, store persist.Store, meta *MetadataStore, auditLogger audit.Logger, clk clock.Clock) (*KeyStore, error) {
	ks := &KeyStore{
		config:   config,
		store:    store,
		meta:     meta,
		audit:    auditLogger,
		clock:    clk,
		enclaves: make(map[string]*memguard.Enclave),
	}

	if err := ks.loadOrCreateSalt(); err != nil {
		return nil, fmt.Errorf("failed to set up derivation salt: %w", err)
	}

	passphrase, err := config.resolvePassphrase()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve passphrase: %w", err)
	}

	passBytes := []byte(passphrase)
	kekBuffer, err := icrypto.DeriveKeyEncryptionKey(passBytes, ks.salt)
	memguard.WipeBytes(passBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key-encryption key: %w", err)
	}
	// Seal destroys the locked buffer after copying it into the enclave
	ks.kek = kekBuffer.Seal()

	debug.Print("keystore initialized, salt present, kek derived")
	return ks, nil
}

// loadOrCreateSalt loads the persisted derivation salt or creates it on a
// fresh vault. The salt must stay stable for the life of the vault or
// wrapped key files become unreadable.
func (ks *KeyStore) loadOrCreateSalt() error {
	exists, err := ks.store.SaltExists()
	if err != nil {
		return err
	}

	if exists {
		saltData, err := ks.store.LoadSalt()
		if err != nil {
			return err
		}
		ks.salt = memguard.NewEnclave(saltData)
		return nil
	}

	saltData := make([]byte, misc.SaltSize)
	if _, err = rand.Read(saltData); err != nil {
		return fmt.Errorf("failed to generate salt: %w", err)
	}

	// Persist a copy first: NewEnclave wipes its input
	persisted := make([]byte, len(saltData))
	copy(persisted, saltData)
	if err = ks.store.SaveSalt(persisted); err != nil {
		memguard.WipeBytes(saltData)
		return err
	}
	ks.salt = memguard.NewEnclave(saltData)
	return nil
}

// Generate creates a new named key and persists it with owner-only access.
//
// For KeyTypeSymmetric the material is 256 bits of cryptographically secure
// randomness, rejected and an error returned if it fails the degeneracy
// check. For the asymmetric types an ed25519 pair is generated and stored
// as two records: <name> (private) and <name>.pub (public); the returned
// metadata describes the private record.
//
// The new key expires KeyTTLDays from now. An existing name fails with
// ConflictError unless overwrite is set, and material identical to any live
// key is refused regardless of overwrite. Raw material is never returned;
// use Export for explicit disclosure.
func (ks *KeyStore) Generate(name string, keyType KeyType, overwrite bool) (*KeyMetadata, error) {
	requestID := newRequestID()

	if err := validateNewKeyName(name); err != nil {
		return nil, err
	}

	switch keyType {
	case KeyTypeSymmetric:
		material := make([]byte, misc.KeySize)
		if _, err := rand.Read(material); err != nil {
			return nil, fmt.Errorf("failed to generate key material: %w", err)
		}
		if icrypto.IsWeakKey(material) {
			memguard.WipeBytes(material)
			logAudit(ks.audit, requestID, "KEY_GENERATE_FAILED", fmt.Errorf("generated key failed entropy check"), map[string]interface{}{
				"key_name": name,
			})
			return nil, fmt.Errorf("generated key failed entropy check")
		}
		meta, err := ks.createKey(requestID, name, keyType, "chacha20-poly1305", material, overwrite)
		if err != nil {
			return nil, err
		}
		logAudit(ks.audit, requestID, "KEY_GENERATED", nil, map[string]interface{}{
			"key_name": name,
			"key_id":   meta.ID,
			"key_type": string(keyType),
		})
		return meta, nil

	case KeyTypeAsymmetricPublic, KeyTypeAsymmetricPrivate:
		pub, priv, err := ed25519.GenerateKey(rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("failed to generate key pair: %w", err)
		}
		privMeta, err := ks.createKey(requestID, name, KeyTypeAsymmetricPrivate, "ed25519", priv, overwrite)
		if err != nil {
			memguard.WipeBytes(priv)
			return nil, err
		}
		if _, err = ks.createKey(requestID, name+".pub", KeyTypeAsymmetricPublic, "ed25519", pub, overwrite); err != nil {
			// Roll back the private half so a failed pair leaves nothing
			if delErr := ks.store.DeleteKey(name); delErr != nil {
				debug.Print("failed to roll back private key %q: %v", name, delErr)
			}
			if delErr := ks.meta.DeleteKeyMeta(name); delErr != nil {
				debug.Print("failed to roll back private key metadata %q: %v", name, delErr)
			}
			delete(ks.enclaves, privMeta.ID)
			return nil, fmt.Errorf("failed to persist public half: %w", err)
		}
		logAudit(ks.audit, requestID, "KEY_GENERATED", nil, map[string]interface{}{
			"key_name": name,
			"key_id":   privMeta.ID,
			"key_type": string(KeyTypeAsymmetricPrivate),
		})
		return privMeta, nil

	default:
		return nil, fmt.Errorf("unsupported key type: %s", keyType)
	}
}

// Import stores caller-supplied key material under name, subject to the
// same conflict and duplicate-material rules as Generate. The supplied
// slice is wiped before returning.
func (ks *KeyStore) Import(material []byte, name string, overwrite bool) (*KeyMetadata, error) {
	requestID := newRequestID()

	if err := validateNewKeyName(name); err != nil {
		return nil, err
	}
	if len(material) != misc.KeySize {
		return nil, fmt.Errorf("imported key material must be %d bytes, got %d", misc.KeySize, len(material))
	}
	if icrypto.IsWeakKey(material) {
		memguard.WipeBytes(material)
		return nil, fmt.Errorf("imported key material failed entropy check")
	}

	meta, err := ks.createKey(requestID, name, KeyTypeSymmetric, "chacha20-poly1305", material, overwrite)
	if err != nil {
		return nil, err
	}

	logAudit(ks.audit, requestID, "KEY_IMPORTED", nil, map[string]interface{}{
		"key_name": name,
		"key_id":   meta.ID,
	})
	return meta, nil
}

// createKey wraps and persists material plus its sidecar record. The
// material slice is consumed: it ends up wiped whether or not the call
// succeeds.
func (ks *KeyStore) createKey(requestID, name string, keyType KeyType, algorithm string, material []byte, overwrite bool) (*KeyMetadata, error) {
	exists, err := ks.store.KeyExists(name)
	if err != nil {
		memguard.WipeBytes(material)
		return nil, err
	}
	if exists && !overwrite {
		memguard.WipeBytes(material)
		logAudit(ks.audit, requestID, "KEY_CREATE_FAILED", fmt.Errorf("name collision"), map[string]interface{}{
			"key_name": name,
		})
		return nil, &ConflictError{Kind: "key", Name: name, Reason: "overwrite not requested"}
	}

	fingerprint := icrypto.Fingerprint(material)
	if err = ks.checkDuplicateMaterial(name, fingerprint); err != nil {
		memguard.WipeBytes(material)
		return nil, err
	}

	kekBuffer, err := ks.kek.Open()
	if err != nil {
		memguard.WipeBytes(material)
		return nil, fmt.Errorf("failed to access key-encryption key: %w", err)
	}
	wrapped, err := icrypto.Seal(material, kekBuffer.Bytes())
	kekBuffer.Destroy()
	if err != nil {
		memguard.WipeBytes(material)
		return nil, fmt.Errorf("failed to wrap key material: %w", err)
	}

	if err = ks.store.SaveKey(name, wrapped); err != nil {
		memguard.WipeBytes(material)
		return nil, fmt.Errorf("failed to persist key material: %w", err)
	}

	now := ks.clock.Now().UTC()
	meta := &KeyMetadata{
		ID:          uuid.NewString(),
		Name:        name,
		Type:        keyType,
		Algorithm:   algorithm,
		Length:      len(material),
		Status:      KeyStatusActive,
		Fingerprint: fingerprint,
		CreatedAt:   now,
		ExpiresAt:   now.Add(time.Duration(ks.config.keyTTLDays()) * 24 * time.Hour),
	}
	if err = ks.meta.SaveKeyMeta(meta); err != nil {
		return nil, fmt.Errorf("failed to persist key metadata: %w", err)
	}

	// Cache the unwrapped material; NewEnclave wipes the source slice
	ks.enclaves[meta.ID] = memguard.NewEnclave(material)

	return meta, nil
}

// checkDuplicateMaterial enforces that no two live keys share identical
// material. The comparison uses persisted fingerprints, never material.
func (ks *KeyStore) checkDuplicateMaterial(name, fingerprint string) error {
	metas, err := ks.meta.ListKeyMeta()
	if err != nil {
		return err
	}
	for _, meta := range metas {
		if meta.Name == name || meta.Status == KeyStatusRevoked {
			continue
		}
		if meta.Fingerprint != "" && meta.Fingerprint == fingerprint {
			return &ConflictError{Kind: "key", Name: name, Reason: "material identical to key " + meta.Name}
		}
	}
	return nil
}

// Get returns the metadata record for a key, never its material.
func (ks *KeyStore) Get(name string) (*KeyMetadata, error) {
	if err := validateKeyName(name); err != nil {
		return nil, err
	}
	return ks.meta.LoadKeyMeta(name)
}

// List returns metadata summaries for every key, sorted by name. Material
// is never included.
func (ks *KeyStore) List() ([]*KeyMetadata, error) {
	metas, err := ks.meta.ListKeyMeta()
	if err != nil {
		return nil, err
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })
	return metas, nil
}

// Health classifies every key as expired, expiring-soon or healthy by
// comparing its expiry against the vault clock. The expiring-soon window
// defaults to 7 days (Config.ExpiryWarningDays).
func (ks *KeyStore) Health() ([]KeyHealth, error) {
	metas, err := ks.List()
	if err != nil {
		return nil, err
	}

	now := ks.clock.Now()
	warning := time.Duration(ks.config.warningDays()) * 24 * time.Hour

	report := make([]KeyHealth, 0, len(metas))
	for _, meta := range metas {
		status := KeyHealthHealthy
		if !meta.ExpiresAt.After(now) {
			status = KeyHealthExpired
		} else if meta.ExpiresAt.Sub(now) < warning {
			status = KeyHealthExpiringSoon
		}
		report = append(report, KeyHealth{
			Name:          meta.Name,
			Status:        status,
			KeyStatus:     meta.Status,
			ExpiresAt:     meta.ExpiresAt,
			DaysRemaining: int(meta.ExpiresAt.Sub(now).Hours() / 24),
		})
	}
	return report, nil
}

// Revoke destroys a key: the wrapped material file is overwritten and
// unlinked, the metadata record removed, and the cached enclave dropped.
//
// The active default key is protected — revoking it would orphan every
// current ciphertext — and fails with ProtectedError. Revocation is the
// only operation that destroys a KeyRecord: rotation archives, it never
// deletes. Anything still encrypted under a revoked key is permanently
// unreadable, which is also the supported way to shred data.
func (ks *KeyStore) Revoke(name string) error {
	requestID := newRequestID()

	if err := validateKeyName(name); err != nil {
		return err
	}

	meta, err := ks.meta.LoadKeyMeta(name)
	if err != nil {
		return err
	}

	if name == ks.config.DefaultKeyName && meta.Status == KeyStatusActive {
		logAudit(ks.audit, requestID, "KEY_REVOKE_DENIED", fmt.Errorf("active default key"), map[string]interface{}{
			"key_name": name,
		})
		return &ProtectedError{Name: name, Reason: "active default key"}
	}

	if err = ks.store.DeleteKey(name); err != nil {
		logAudit(ks.audit, requestID, "KEY_REVOKE_FAILED", err, map[string]interface{}{
			"key_name": name,
		})
		return fmt.Errorf("failed to erase key material: %w", err)
	}
	if err = ks.meta.DeleteKeyMeta(name); err != nil {
		return fmt.Errorf("failed to remove key metadata: %w", err)
	}

	delete(ks.enclaves, meta.ID)

	logAudit(ks.audit, requestID, "KEY_REVOKED", nil, map[string]interface{}{
		"key_name": name,
		"key_id":   meta.ID,
	})
	return nil
}

// Export discloses raw key material. This is the single highest-risk
// operation the key store offers, so it demands explicit confirmation;
// callers that merely need metadata should use Get. The disclosure is
// audited. The returned slice is the caller's to wipe.
func (ks *KeyStore) Export(name string, confirm bool) ([]byte, error) {
	requestID := newRequestID()

	if !confirm {
		return nil, fmt.Errorf("export of key material requires explicit confirmation")
	}

	meta, err := ks.meta.LoadKeyMeta(name)
	if err != nil {
		return nil, err
	}

	enclave, err := ks.materialByID(meta.ID)
	if err != nil {
		return nil, err
	}
	buffer, err := enclave.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access key material: %w", err)
	}
	defer buffer.Destroy()

	material := make([]byte, len(buffer.Bytes()))
	copy(material, buffer.Bytes())

	logAudit(ks.audit, requestID, "KEY_EXPORTED", nil, map[string]interface{}{
		"key_name": name,
		"key_id":   meta.ID,
	})
	return material, nil
}

// ExportProtected discloses key material wrapped with a passphrase
// (PBKDF2 + ChaCha20-Poly1305), suitable for moving a key between hosts
// without ever writing raw material to disk.
func (ks *KeyStore) ExportProtected(name, passphrase string, confirm bool) ([]byte, error) {
	if passphrase == "" {
		return nil, fmt.Errorf("a passphrase is required for protected export")
	}

	material, err := ks.Export(name, confirm)
	if err != nil {
		return nil, err
	}
	defer memguard.WipeBytes(material)

	return icrypto.EncryptWithPassphrase(material, passphrase)
}

// EnsureDefault returns the active default key, generating it when the
// configured auto-create policy allows. This is the only path that
// provisions the default key implicitly, and it always goes through
// Generate so the usual validation and audit apply.
func (ks *KeyStore) EnsureDefault() (*KeyMetadata, error) {
	meta, err := ks.meta.LoadKeyMeta(ks.config.DefaultKeyName)
	if err == nil {
		if meta.Status != KeyStatusActive {
			return nil, fmt.Errorf("default key %s is %s, not active", meta.Name, meta.Status)
		}
		return meta, nil
	}
	if !IsNotFound(err) {
		return nil, err
	}

	if !ks.config.AutoProvisionDefaultKey {
		return nil, &NotFoundError{Kind: "key", Name: ks.config.DefaultKeyName}
	}

	debug.Print("auto-provisioning default key %q", ks.config.DefaultKeyName)
	return ks.Generate(ks.config.DefaultKeyName, KeyTypeSymmetric, false)
}

// material returns the unwrapped material enclave for a key by name.
func (ks *KeyStore) material(name string) (*memguard.Enclave, error) {
	meta, err := ks.meta.LoadKeyMeta(name)
	if err != nil {
		return nil, err
	}
	return ks.unwrap(meta)
}

// materialByID returns the unwrapped material enclave for the key with the
// given immutable ID, scanning metadata to resolve the current name. A
// revoked or missing key yields an error; its ciphertexts are unreadable.
func (ks *KeyStore) materialByID(id string) (*memguard.Enclave, error) {
	if enclave, ok := ks.enclaves[id]; ok {
		return enclave, nil
	}

	metas, err := ks.meta.ListKeyMeta()
	if err != nil {
		return nil, err
	}
	for _, meta := range metas {
		if meta.ID == id {
			return ks.unwrap(meta)
		}
	}
	return nil, fmt.Errorf("key %s not available (revoked or missing)", id)
}

// unwrap loads and unwraps key material into a cached enclave.
func (ks *KeyStore) unwrap(meta *KeyMetadata) (*memguard.Enclave, error) {
	if enclave, ok := ks.enclaves[meta.ID]; ok {
		return enclave, nil
	}

	wrapped, err := ks.store.LoadKey(meta.Name)
	if err != nil {
		return nil, fmt.Errorf("failed to load key %s: %w", meta.Name, err)
	}

	kekBuffer, err := ks.kek.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to access key-encryption key: %w", err)
	}
	material, err := icrypto.Open(wrapped, kekBuffer.Bytes())
	kekBuffer.Destroy()
	if err != nil {
		return nil, fmt.Errorf("failed to unwrap key %s (wrong passphrase or corrupt file): %w", meta.Name, err)
	}

	enclave := memguard.NewEnclave(material)
	ks.enclaves[meta.ID] = enclave
	return enclave, nil
}

// rename atomically renames a key's material file and metadata record and
// stamps the given status. Rotation uses this for archive and promote; the
// key's immutable ID is untouched so ciphertexts keep resolving.
func (ks *KeyStore) rename(oldName, newName string, status KeyStatus) error {
	if err := ks.store.RenameKey(oldName, newName); err != nil {
		return err
	}
	if err := ks.meta.RenameKeyMeta(oldName, newName); err != nil {
		return err
	}
	meta, err := ks.meta.LoadKeyMeta(newName)
	if err != nil {
		return err
	}
	meta.Status = status
	return ks.meta.SaveKeyMeta(meta)
}

// purgeCache drops all cached enclaves, e.g. on Close.
func (ks *KeyStore) purgeCache() {
	for id := range ks.enclaves {
		delete(ks.enclaves, id)
	}
}
