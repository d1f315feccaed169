package adecrypt

import (
	"fmt"

	"github.com/awnumar/memguard"
	"github.com/juju/clock"

	"github.com/phdsystems/ade-crypt/audit"
	"github.com/phdsystems/ade-crypt/internal/debug"
	"github.com/phdsystems/ade-crypt/internal/mem"
	"github.com/phdsystems/ade-crypt/persist"
)

func init() {
	// Purge enclaves and exit cleanly on interrupt
	memguard.CatchInterrupt()
}

// Vault is an encrypted secret store rooted at a single directory.
//
// Secrets are encrypted with ChaCha20-Poly1305 under named keys; every
// write is versioned, metadata lives in sidecar records, keys can expire,
// be health-checked, revoked and rotated. All state is plain files under
// the vault home with owner-only permissions, so a vault can be copied,
// backed up or diffed with ordinary tools (the ciphertext reveals nothing).
//
// A Vault is safe for use from a single goroutine; callers needing
// concurrent access should serialize externally.
type Vault struct {
	config Config
	store  persist.Store
	meta   *MetadataStore
	crypto *CryptoProvider
	keys   *KeyStore
	audit  audit.Logger
	clock  clock.Clock
	closed bool
}

// New opens (or initializes) the vault at config.Home using the filesystem
// store and the configured audit sink.
func New(config Config) (*Vault, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	store, err := persist.NewStore(persist.StoreConfig{
		Type:   persist.StoreTypeFileSystem,
		Config: map[string]interface{}{"base_path": config.Home},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	auditLogger, err := audit.NewLogger(config.Audit)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("failed to initialize audit logger: %w", err)
	}

	return NewWithStore(config, store, auditLogger, clock.WallClock)
}

// NewWithStore wires a vault from explicit components. Tests use it to
// inject a simulated clock; embedders can supply their own store or audit
// sink.
func NewWithStore(config Config, store persist.Store, auditLogger audit.Logger, clk clock.Clock) (*Vault, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if auditLogger == nil {
		auditLogger = &audit.NoOpLogger{}
	}
	if clk == nil {
		clk = clock.WallClock
	}

	// Best effort: keep vault pages out of swap where the platform allows
	if _, err := mem.Lock(); err != nil {
		debug.Print("memory locking unavailable: %v", err)
	}

	meta := NewMetadataStore(store)
	keys, err := newKeyStore(config, store, meta, auditLogger, clk)
	if err != nil {
		return nil, err
	}

	v := &Vault{
		config: config,
		store:  store,
		meta:   meta,
		crypto: &CryptoProvider{},
		keys:   keys,
		audit:  auditLogger,
		clock:  clk,
	}

	logAudit(auditLogger, newRequestID(), "VAULT_OPENED", nil, map[string]interface{}{
		"home": config.Home,
	})
	return v, nil
}

// Keys exposes key lifecycle operations: generate, list, health, revoke,
// import and export.
func (v *Vault) Keys() *KeyStore {
	return v.keys
}

// Close releases the vault: cached key enclaves are purged, the audit sink
// flushed and the store closed. The vault must not be used afterwards.
func (v *Vault) Close() error {
	if v.closed {
		return nil
	}
	v.closed = true

	v.keys.purgeCache()

	logAudit(v.audit, newRequestID(), "VAULT_CLOSED", nil, nil)
	if err := v.audit.Close(); err != nil {
		debug.Print("audit close: %v", err)
	}
	return v.store.Close()
}

func (v *Vault) checkOpen() error {
	if v.closed {
		return fmt.Errorf("vault is closed")
	}
	return nil
}

// logAudit records an operation outcome on the audit sink. Audit failures
// never fail the operation itself.
func logAudit(logger audit.Logger, requestID, action string, err error, fields map[string]interface{}) {
	if logger == nil {
		return
	}
	if fields == nil {
		fields = make(map[string]interface{})
	}
	fields["request_id"] = requestID
	if err != nil {
		fields["error"] = err.Error()
	}
	if logErr := logger.Log(action, err == nil, fields); logErr != nil {
		debug.Print("audit log failed for %s: %v", action, logErr)
	}
}
