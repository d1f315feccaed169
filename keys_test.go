package adecrypt

import (
	"crypto/rand"
	"testing"
	"time"

	icrypto "github.com/phdsystems/ade-crypt/internal/crypto"
)

func TestGenerateSymmetricKey(t *testing.T) {
	vault, _ := newTestVault(t)

	meta, err := vault.Keys().Generate("signing", KeyTypeSymmetric, false)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	if meta.ID == "" {
		t.Error("Expected a key ID")
	}
	if meta.Name != "signing" {
		t.Errorf("Expected name signing, got %s", meta.Name)
	}
	if meta.Length != 32 {
		t.Errorf("Expected 32 byte key, got %d", meta.Length)
	}
	if meta.Status != KeyStatusActive {
		t.Errorf("Expected active status, got %s", meta.Status)
	}
	if meta.Fingerprint == "" {
		t.Error("Expected a fingerprint")
	}
	if !meta.ExpiresAt.Equal(meta.CreatedAt.Add(90 * 24 * time.Hour)) {
		t.Errorf("Expected 90 day validity, got %v to %v", meta.CreatedAt, meta.ExpiresAt)
	}
}

func TestGenerateKeyNameConflict(t *testing.T) {
	vault, _ := newTestVault(t)

	first, err := vault.Keys().Generate("dup", KeyTypeSymmetric, false)
	if err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	if _, err = vault.Keys().Generate("dup", KeyTypeSymmetric, false); !IsConflict(err) {
		t.Fatalf("Expected ConflictError on duplicate name, got %v", err)
	}

	// Overwrite replaces the key under a fresh identity
	second, err := vault.Keys().Generate("dup", KeyTypeSymmetric, true)
	if err != nil {
		t.Fatalf("Failed to overwrite key: %v", err)
	}
	if second.ID == first.ID {
		t.Error("Overwritten key kept the old identity")
	}
}

func TestGenerateAsymmetricPair(t *testing.T) {
	vault, _ := newTestVault(t)

	meta, err := vault.Keys().Generate("deploy", KeyTypeAsymmetricPrivate, false)
	if err != nil {
		t.Fatalf("Failed to generate key pair: %v", err)
	}
	if meta.Type != KeyTypeAsymmetricPrivate {
		t.Errorf("Expected private key metadata, got %s", meta.Type)
	}
	if meta.Algorithm != "ed25519" {
		t.Errorf("Expected ed25519, got %s", meta.Algorithm)
	}

	pub, err := vault.Keys().Get("deploy.pub")
	if err != nil {
		t.Fatalf("Expected a public half: %v", err)
	}
	if pub.Type != KeyTypeAsymmetricPublic {
		t.Errorf("Expected public key type, got %s", pub.Type)
	}
	if pub.ID == meta.ID {
		t.Error("Public and private halves must have distinct identities")
	}
}

func TestGenerateKeyRejectsReservedNames(t *testing.T) {
	vault, _ := newTestVault(t)

	if _, err := vault.Store("ghost", []byte("haunted"), StoreOptions{}); err != nil {
		t.Fatalf("Failed to store secret: %v", err)
	}

	// A key named secret_<x> would write its sidecar over secret <x>'s record
	if _, err := vault.Keys().Generate("secret_ghost", KeyTypeSymmetric, false); err == nil {
		t.Fatal("Expected a key name with the secret_ prefix to be rejected")
	}
	if _, err := vault.Keys().Import(make([]byte, 32), "secret_ghost", false); err == nil {
		t.Fatal("Expected import under the secret_ prefix to be rejected")
	}

	// The secret's record must be untouched
	metas, err := vault.List()
	if err != nil {
		t.Fatalf("Failed to list secrets: %v", err)
	}
	if len(metas) != 1 || metas[0].Name != "ghost" {
		t.Fatalf("Secret list corrupted: %+v", metas)
	}
	if metas[0].Version != 1 || metas[0].Checksum == "" {
		t.Errorf("Secret metadata damaged: version=%d checksum=%q", metas[0].Version, metas[0].Checksum)
	}
	if value, _, err := vault.Get("ghost"); err != nil || string(value) != "haunted" {
		t.Errorf("Secret unreadable after rejected key creation: %v", err)
	}

	// .pub is reserved for the public half of asymmetric pairs
	if _, err := vault.Keys().Generate("stray.pub", KeyTypeSymmetric, false); err == nil {
		t.Fatal("Expected a key name with the .pub suffix to be rejected")
	}
}

func TestGenerateAsymmetricPairRollsBackOnFailure(t *testing.T) {
	vault, _ := newTestVault(t)
	ks := vault.Keys()

	// Occupy the name the public half would take so the second persist fails
	material := make([]byte, 32)
	if _, err := rand.Read(material); err != nil {
		t.Fatalf("Failed to generate material: %v", err)
	}
	if _, err := ks.createKey(newRequestID(), "pair.pub", KeyTypeSymmetric, "chacha20-poly1305", material, false); err != nil {
		t.Fatalf("Failed to plant conflicting key: %v", err)
	}

	if _, err := ks.Generate("pair", KeyTypeAsymmetricPrivate, false); err == nil {
		t.Fatal("Expected pair generation to fail on the public half")
	}

	// The private half must not survive the failed pair
	if _, err := ks.Get("pair"); !IsNotFound(err) {
		t.Errorf("Expected private half metadata to be rolled back, got %v", err)
	}
	exists, err := ks.store.KeyExists("pair")
	if err != nil {
		t.Fatalf("KeyExists failed: %v", err)
	}
	if exists {
		t.Error("Expected private half material to be rolled back")
	}
}

func TestListKeysExcludesMaterial(t *testing.T) {
	vault, _ := newTestVault(t)

	if _, err := vault.Keys().Generate("a-key", KeyTypeSymmetric, false); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	if _, err := vault.Keys().Generate("b-key", KeyTypeSymmetric, false); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	metas, err := vault.Keys().List()
	if err != nil {
		t.Fatalf("Failed to list keys: %v", err)
	}
	if len(metas) != 2 {
		t.Fatalf("Expected 2 keys, got %d", len(metas))
	}
	if metas[0].Name != "a-key" || metas[1].Name != "b-key" {
		t.Errorf("Keys not sorted by name: %s, %s", metas[0].Name, metas[1].Name)
	}
}

func TestKeyHealthClassification(t *testing.T) {
	vault, clk := newTestVault(t)

	if _, err := vault.Keys().Generate("watched", KeyTypeSymmetric, false); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	assertHealth := func(want KeyHealthStatus) {
		t.Helper()
		report, err := vault.Keys().Health()
		if err != nil {
			t.Fatalf("Health failed: %v", err)
		}
		for _, row := range report {
			if row.Name == "watched" {
				if row.Status != want {
					t.Errorf("Expected health %s, got %s", want, row.Status)
				}
				return
			}
		}
		t.Fatal("Key watched missing from health report")
	}

	// Fresh key, 90 day TTL
	assertHealth(KeyHealthHealthy)

	// Inside the 7 day warning window
	clk.Advance(85 * 24 * time.Hour)
	assertHealth(KeyHealthExpiringSoon)

	// Past expiry
	clk.Advance(10 * 24 * time.Hour)
	assertHealth(KeyHealthExpired)
}

func TestRevokeDefaultKeyProtected(t *testing.T) {
	vault, _ := newTestVault(t)

	if _, err := vault.Store("guarded", []byte("value"), StoreOptions{}); err != nil {
		t.Fatalf("Failed to store secret: %v", err)
	}

	if err := vault.Keys().Revoke("default"); !IsProtected(err) {
		t.Fatalf("Expected ProtectedError revoking active default, got %v", err)
	}

	// The secret is still readable
	if _, _, err := vault.Get("guarded"); err != nil {
		t.Errorf("Secret should survive the refused revoke: %v", err)
	}
}

func TestRevokeMakesCiphertextUnreadable(t *testing.T) {
	vault, _ := newTestVault(t)

	if _, err := vault.Keys().Generate("side", KeyTypeSymmetric, false); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	// Store a secret, rotate so the writing key gets archived, then
	// revoke the archived key
	if _, err := vault.Store("victim", []byte("value"), StoreOptions{}); err != nil {
		t.Fatalf("Failed to store secret: %v", err)
	}
	report, err := vault.Rotate("test")
	if err != nil {
		t.Fatalf("Rotation failed: %v", err)
	}

	// Only the current value moved; version 1 does not exist yet, the
	// current value was migrated, so revoke the archived key and then
	// check a version written under it
	if _, err = vault.Store("victim", []byte("newer"), StoreOptions{}); err != nil {
		t.Fatalf("Failed to overwrite secret: %v", err)
	}

	if err = vault.Keys().Revoke(report.ArchivedKeyName); err != nil {
		t.Fatalf("Failed to revoke archived key: %v", err)
	}

	// Current value is fine, it sits on the rotated key
	if _, _, err = vault.Get("victim"); err != nil {
		t.Errorf("Current value should decrypt: %v", err)
	}

	// Drop the cached material to prove revocation holds across restarts
	vault.keys.purgeCache()
	if _, _, err = vault.Get("victim"); err != nil {
		t.Errorf("Current value should decrypt after cache purge: %v", err)
	}

	if _, err = vault.Keys().Get(report.ArchivedKeyName); !IsNotFound(err) {
		t.Errorf("Expected revoked key record to be gone, got %v", err)
	}
}

func TestRevokeMissingKey(t *testing.T) {
	vault, _ := newTestVault(t)

	if err := vault.Keys().Revoke("ghost"); !IsNotFound(err) {
		t.Errorf("Expected NotFoundError, got %v", err)
	}
}

func TestExportRequiresConfirmation(t *testing.T) {
	vault, _ := newTestVault(t)

	if _, err := vault.Keys().Generate("exportable", KeyTypeSymmetric, false); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	if _, err := vault.Keys().Export("exportable", false); err == nil {
		t.Fatal("Expected export without confirmation to fail")
	}

	material, err := vault.Keys().Export("exportable", true)
	if err != nil {
		t.Fatalf("Confirmed export failed: %v", err)
	}
	if len(material) != 32 {
		t.Errorf("Expected 32 bytes of material, got %d", len(material))
	}
}

func TestExportProtectedRoundTrip(t *testing.T) {
	vault, _ := newTestVault(t)

	if _, err := vault.Keys().Generate("moving", KeyTypeSymmetric, false); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}

	raw, err := vault.Keys().Export("moving", true)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	bundle, err := vault.Keys().ExportProtected("moving", "transit-passphrase", true)
	if err != nil {
		t.Fatalf("Protected export failed: %v", err)
	}

	recovered, err := icrypto.DecryptWithPassphrase(bundle, "transit-passphrase")
	if err != nil {
		t.Fatalf("Failed to open protected bundle: %v", err)
	}
	if string(recovered) != string(raw) {
		t.Error("Protected bundle does not round trip to the raw material")
	}

	if _, err = icrypto.DecryptWithPassphrase(bundle, "wrong-passphrase"); err == nil {
		t.Error("Expected the bundle to reject a wrong passphrase")
	}
}

func TestImportKey(t *testing.T) {
	vault, _ := newTestVault(t)

	if _, err := vault.Keys().Generate("origin", KeyTypeSymmetric, false); err != nil {
		t.Fatalf("Failed to generate key: %v", err)
	}
	material, err := vault.Keys().Export("origin", true)
	if err != nil {
		t.Fatalf("Export failed: %v", err)
	}

	// Identical material under a new name is refused
	clone := make([]byte, len(material))
	copy(clone, material)
	if _, err = vault.Keys().Import(clone, "copy-of-origin", false); !IsConflict(err) {
		t.Fatalf("Expected ConflictError importing duplicate material, got %v", err)
	}

	// Wrong length is refused
	if _, err = vault.Keys().Import(make([]byte, 16), "short", false); err == nil {
		t.Error("Expected short material to be rejected")
	}

	// All-zero material fails the degeneracy check
	if _, err = vault.Keys().Import(make([]byte, 32), "zeros", false); err == nil {
		t.Error("Expected degenerate material to be rejected")
	}
}
