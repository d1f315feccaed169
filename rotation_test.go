package adecrypt

import (
	"bytes"
	"strings"
	"testing"
	"time"
)

func seedSecrets(t *testing.T, vault *Vault, names ...string) {
	t.Helper()
	for _, name := range names {
		if _, err := vault.Store(name, []byte("value-of-"+name), StoreOptions{}); err != nil {
			t.Fatalf("Failed to store %s: %v", name, err)
		}
	}
}

func TestRotateMigratesAllSecrets(t *testing.T) {
	vault, _ := newTestVault(t)
	seedSecrets(t, vault, "alpha", "beta", "gamma")

	oldDefault, err := vault.Keys().Get("default")
	if err != nil {
		t.Fatalf("Failed to read default key: %v", err)
	}

	report, err := vault.Rotate("quarterly")
	if err != nil {
		t.Fatalf("Rotation failed: %v", err)
	}

	if len(report.Migrated) != 3 {
		t.Errorf("Expected 3 migrated secrets, got %d", len(report.Migrated))
	}
	// Lexicographic processing order
	for i, want := range []string{"alpha", "beta", "gamma"} {
		if report.Migrated[i] != want {
			t.Errorf("Migrated[%d] = %s, want %s", i, report.Migrated[i], want)
		}
	}
	if report.NewKeyName != "default" {
		t.Errorf("Expected promoted key to be default, got %s", report.NewKeyName)
	}
	if !strings.HasPrefix(report.ArchivedKeyName, "default.") {
		t.Errorf("Expected timestamped archive name, got %s", report.ArchivedKeyName)
	}

	// The old key is archived under a new name but keeps its identity
	archived, err := vault.Keys().Get(report.ArchivedKeyName)
	if err != nil {
		t.Fatalf("Archived key record missing: %v", err)
	}
	if archived.ID != oldDefault.ID {
		t.Error("Archive changed the key's identity")
	}
	if archived.Status != KeyStatusArchived {
		t.Errorf("Expected archived status, got %s", archived.Status)
	}

	// The promoted default is a different key
	newDefault, err := vault.Keys().Get("default")
	if err != nil {
		t.Fatalf("Promoted key record missing: %v", err)
	}
	if newDefault.ID == oldDefault.ID {
		t.Error("Rotation did not replace the default key")
	}

	// Everything still decrypts
	for _, name := range []string{"alpha", "beta", "gamma"} {
		value, meta, err := vault.Get(name)
		if err != nil {
			t.Fatalf("Failed to get %s after rotation: %v", name, err)
		}
		if !bytes.Equal(value, []byte("value-of-"+name)) {
			t.Errorf("Value of %s changed across rotation", name)
		}
		if meta.KeyID != newDefault.ID {
			t.Errorf("Secret %s still references the old key", name)
		}
	}
}

func TestRotateTwiceIsNoOp(t *testing.T) {
	vault, _ := newTestVault(t)
	seedSecrets(t, vault, "one", "two")

	first, err := vault.Rotate("initial")
	if err != nil {
		t.Fatalf("First rotation failed: %v", err)
	}
	if len(first.Migrated) != 2 {
		t.Fatalf("Expected 2 migrations, got %d", len(first.Migrated))
	}

	second, err := vault.Rotate("again")
	if err != nil {
		t.Fatalf("Second rotation failed: %v", err)
	}
	if len(second.Migrated) != 0 {
		t.Errorf("Expected zero migrations on immediate re-rotation, got %d", len(second.Migrated))
	}
	if len(second.Skipped) != 2 {
		t.Errorf("Expected 2 skipped secrets, got %d", len(second.Skipped))
	}
	if second.ArchivedKeyName != "" {
		t.Errorf("No-op rotation archived a key: %s", second.ArchivedKeyName)
	}
}

func TestForceRotateAlwaysRotates(t *testing.T) {
	vault, _ := newTestVault(t)
	seedSecrets(t, vault, "one")

	if _, err := vault.Rotate("initial"); err != nil {
		t.Fatalf("First rotation failed: %v", err)
	}

	forced, err := vault.ForceRotate("suspected compromise")
	if err != nil {
		t.Fatalf("Forced rotation failed: %v", err)
	}
	if len(forced.Migrated) != 1 {
		t.Errorf("Expected forced rotation to migrate, got %d migrations", len(forced.Migrated))
	}
	if forced.ArchivedKeyName == "" {
		t.Error("Expected forced rotation to archive the old key")
	}
}

func TestRotateAfterNewWritesRotatesAgain(t *testing.T) {
	vault, clk := newTestVault(t)
	seedSecrets(t, vault, "one")

	if _, err := vault.Rotate("initial"); err != nil {
		t.Fatalf("First rotation failed: %v", err)
	}

	clk.Advance(time.Hour)
	seedSecrets(t, vault, "two")

	report, err := vault.Rotate("after writes")
	if err != nil {
		t.Fatalf("Rotation after new writes failed: %v", err)
	}
	if len(report.Migrated) != 2 {
		t.Errorf("Expected both secrets migrated to the fresh key, got %d", len(report.Migrated))
	}
}

func TestRotatePartialFailureAndResume(t *testing.T) {
	vault, clk := newTestVault(t)
	seedSecrets(t, vault, "alpha", "mid", "zeta")

	// Corrupt one secret's ciphertext so its migration fails
	if err := vault.store.SaveSecret("mid", []byte("*** not a valid ciphertext ***")); err != nil {
		t.Fatalf("Failed to corrupt secret: %v", err)
	}

	_, err := vault.Rotate("doomed")
	partial, ok := IsPartialRotation(err)
	if !ok {
		t.Fatalf("Expected PartialRotationError, got %v", err)
	}
	if len(partial.Migrated) != 1 || partial.Migrated[0] != "alpha" {
		t.Errorf("Expected alpha migrated before the failure, got %v", partial.Migrated)
	}
	if len(partial.Pending) != 2 || partial.Pending[0] != "mid" || partial.Pending[1] != "zeta" {
		t.Errorf("Expected mid and zeta pending, got %v", partial.Pending)
	}

	// The old default is still active and already migrated secrets stay
	// readable through the key reference in their ciphertext
	def, err := vault.Keys().Get("default")
	if err != nil {
		t.Fatalf("Default key missing after aborted rotation: %v", err)
	}
	if def.Status != KeyStatusActive {
		t.Errorf("Expected default to stay active, got %s", def.Status)
	}
	if _, _, err = vault.Get("alpha"); err != nil {
		t.Errorf("Migrated secret unreadable after abort: %v", err)
	}
	if _, _, err = vault.Get("zeta"); err != nil {
		t.Errorf("Unmigrated secret unreadable after abort: %v", err)
	}

	pendingKey, err := vault.Keys().Get("default.pending")
	if err != nil {
		t.Fatalf("Expected the candidate key to survive the abort: %v", err)
	}

	// Repair the corrupted secret and resume
	clk.Advance(time.Minute)
	if _, err = vault.Store("mid", []byte("repaired"), StoreOptions{}); err != nil {
		t.Fatalf("Failed to repair secret: %v", err)
	}

	report, err := vault.Rotate("resume")
	if err != nil {
		t.Fatalf("Resumed rotation failed: %v", err)
	}

	// alpha already sits on the candidate and is skipped; the resumed
	// run reuses the same candidate key instead of minting another
	if len(report.Skipped) != 1 || report.Skipped[0] != "alpha" {
		t.Errorf("Expected alpha skipped on resume, got %v", report.Skipped)
	}
	if len(report.Migrated) != 2 {
		t.Errorf("Expected mid and zeta migrated on resume, got %v", report.Migrated)
	}

	promoted, err := vault.Keys().Get("default")
	if err != nil {
		t.Fatalf("Promoted key missing: %v", err)
	}
	if promoted.ID != pendingKey.ID {
		t.Error("Resume minted a new candidate instead of reusing the checkpointed one")
	}

	for _, name := range []string{"alpha", "mid", "zeta"} {
		if _, _, err = vault.Get(name); err != nil {
			t.Errorf("Secret %s unreadable after resumed rotation: %v", name, err)
		}
	}
}

func TestRotationPreservesVersionHistory(t *testing.T) {
	vault, clk := newTestVault(t)

	if _, err := vault.Store("evolving", []byte("v1"), StoreOptions{}); err != nil {
		t.Fatalf("Failed to store secret: %v", err)
	}
	clk.Advance(time.Minute)
	if _, err := vault.Store("evolving", []byte("v2"), StoreOptions{}); err != nil {
		t.Fatalf("Failed to overwrite secret: %v", err)
	}

	if _, err := vault.Rotate("with history"); err != nil {
		t.Fatalf("Rotation failed: %v", err)
	}

	// Version 1 still decrypts under the archived key via its embedded
	// key reference; only the current value was migrated
	old, err := vault.GetVersion("evolving", 1)
	if err != nil {
		t.Fatalf("Failed to get version 1 after rotation: %v", err)
	}
	if string(old) != "v1" {
		t.Errorf("Version 1 = %q, want %q", old, "v1")
	}

	current, _, err := vault.Get("evolving")
	if err != nil {
		t.Fatalf("Failed to get current value: %v", err)
	}
	if string(current) != "v2" {
		t.Errorf("Current value = %q, want %q", current, "v2")
	}
}

func TestRotateEmptyVault(t *testing.T) {
	vault, _ := newTestVault(t)

	// No secrets and no keys yet; rotation provisions a default and
	// swaps it without anything to migrate
	report, err := vault.Rotate("empty")
	if err != nil {
		t.Fatalf("Rotation of empty vault failed: %v", err)
	}
	if len(report.Migrated) != 0 || len(report.Skipped) != 0 {
		t.Errorf("Expected nothing to migrate, got %v / %v", report.Migrated, report.Skipped)
	}
	if report.ArchivedKeyName == "" {
		t.Error("Expected the provisioned default to be archived")
	}
}
