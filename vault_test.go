package adecrypt

import (
	"testing"
	"time"

	"github.com/juju/clock/testclock"

	"github.com/phdsystems/ade-crypt/persist"
)

const testPassphrase = "correct-horse-battery-staple-42!"

var testEpoch = time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

// newTestVault builds a vault over a throwaway directory with a simulated
// clock so tests can advance time without sleeping.
func newTestVault(t *testing.T) (*Vault, *testclock.Clock) {
	t.Helper()

	home := t.TempDir()
	store, err := persist.NewFileSystemStore(home)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	clk := testclock.NewClock(testEpoch)

	config := DefaultConfig(home)
	config.DerivationPassphrase = testPassphrase

	vault, err := NewWithStore(config, store, nil, clk)
	if err != nil {
		t.Fatalf("Failed to open vault: %v", err)
	}
	t.Cleanup(func() { vault.Close() })

	return vault, clk
}

func TestVaultRequiresPassphrase(t *testing.T) {
	config := DefaultConfig(t.TempDir())
	// Neither a passphrase nor an env var source is configured

	if _, err := New(config); err == nil {
		t.Fatal("Expected open to fail without a passphrase source")
	}
}

func TestVaultAutoProvisionsDefaultKey(t *testing.T) {
	vault, _ := newTestVault(t)

	if _, err := vault.Store("first", []byte("value"), StoreOptions{}); err != nil {
		t.Fatalf("Failed to store secret: %v", err)
	}

	meta, err := vault.Keys().Get("default")
	if err != nil {
		t.Fatalf("Expected default key to exist after first store: %v", err)
	}
	if meta.Status != KeyStatusActive {
		t.Errorf("Expected default key to be active, got %s", meta.Status)
	}
	if meta.Type != KeyTypeSymmetric {
		t.Errorf("Expected symmetric default key, got %s", meta.Type)
	}
}

func TestVaultAutoProvisionDisabled(t *testing.T) {
	home := t.TempDir()
	store, err := persist.NewFileSystemStore(home)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}

	config := DefaultConfig(home)
	config.DerivationPassphrase = testPassphrase
	config.AutoProvisionDefaultKey = false

	vault, err := NewWithStore(config, store, nil, testclock.NewClock(testEpoch))
	if err != nil {
		t.Fatalf("Failed to open vault: %v", err)
	}
	defer vault.Close()

	if _, err = vault.Store("first", []byte("value"), StoreOptions{}); err == nil {
		t.Fatal("Expected store to fail with auto-provisioning disabled and no default key")
	}
}

func TestVaultClosedRejectsOperations(t *testing.T) {
	vault, _ := newTestVault(t)

	if err := vault.Close(); err != nil {
		t.Fatalf("Failed to close vault: %v", err)
	}
	// Close is idempotent
	if err := vault.Close(); err != nil {
		t.Fatalf("Second close failed: %v", err)
	}

	if _, err := vault.Store("name", []byte("value"), StoreOptions{}); err == nil {
		t.Error("Expected store on closed vault to fail")
	}
	if _, _, err := vault.Get("name"); err == nil {
		t.Error("Expected get on closed vault to fail")
	}
}

func TestVaultReopenKeepsSecrets(t *testing.T) {
	home := t.TempDir()
	config := DefaultConfig(home)
	config.DerivationPassphrase = testPassphrase

	open := func() *Vault {
		store, err := persist.NewFileSystemStore(home)
		if err != nil {
			t.Fatalf("Failed to create store: %v", err)
		}
		vault, err := NewWithStore(config, store, nil, testclock.NewClock(testEpoch))
		if err != nil {
			t.Fatalf("Failed to open vault: %v", err)
		}
		return vault
	}

	vault := open()
	if _, err := vault.Store("persisted", []byte("survives reopen"), StoreOptions{}); err != nil {
		t.Fatalf("Failed to store secret: %v", err)
	}
	if err := vault.Close(); err != nil {
		t.Fatalf("Failed to close vault: %v", err)
	}

	reopened := open()
	defer reopened.Close()

	value, _, err := reopened.Get("persisted")
	if err != nil {
		t.Fatalf("Failed to get secret after reopen: %v", err)
	}
	if string(value) != "survives reopen" {
		t.Errorf("Got %q after reopen, want %q", value, "survives reopen")
	}
}

func TestVaultWrongPassphraseFailsDecryption(t *testing.T) {
	home := t.TempDir()

	config := DefaultConfig(home)
	config.DerivationPassphrase = testPassphrase

	store, err := persist.NewFileSystemStore(home)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	vault, err := NewWithStore(config, store, nil, testclock.NewClock(testEpoch))
	if err != nil {
		t.Fatalf("Failed to open vault: %v", err)
	}
	if _, err = vault.Store("guarded", []byte("value"), StoreOptions{}); err != nil {
		t.Fatalf("Failed to store secret: %v", err)
	}
	if err = vault.Close(); err != nil {
		t.Fatalf("Failed to close vault: %v", err)
	}

	config.DerivationPassphrase = "a-completely-different-passphrase"
	store, err = persist.NewFileSystemStore(home)
	if err != nil {
		t.Fatalf("Failed to create store: %v", err)
	}
	wrong, err := NewWithStore(config, store, nil, testclock.NewClock(testEpoch))
	if err != nil {
		t.Fatalf("Failed to open vault with wrong passphrase: %v", err)
	}
	defer wrong.Close()

	if _, _, err = wrong.Get("guarded"); err == nil {
		t.Fatal("Expected decryption to fail under the wrong passphrase")
	}
}
