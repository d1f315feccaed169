package adecrypt

import (
	"fmt"
	"sort"

	"github.com/awnumar/memguard"

	"github.com/phdsystems/ade-crypt/internal/debug"
)

// pendingKeyName is the well-known name a rotation candidate key lives
// under until it is promoted. A crash mid-rotation leaves it in place so
// the next Rotate resumes instead of minting another key.
const pendingKeyName = "default.pending"

// RotationReport summarizes a completed rotation.
type RotationReport struct {
	// Migrated lists secrets re-encrypted under the new key, in the
	// order they were processed.
	Migrated []string `json:"migrated"`

	// Skipped lists secrets that were already under the new key when
	// this run looked at them (resumption) or that needed no work.
	Skipped []string `json:"skipped"`

	// ArchivedKeyName is the timestamped name the previous default key
	// was archived under, empty when the run was a no-op.
	ArchivedKeyName string `json:"archived_key,omitempty"`

	// NewKeyName is the active default key after the run.
	NewKeyName string `json:"new_key"`
}

// Rotate replaces the default key and re-encrypts every secret's current
// value under the replacement.
//
// The protocol is crash-safe and resumable. A candidate key is generated
// and checkpointed before any secret is touched; secrets are then migrated
// one at a time in lexicographic order, each one decrypted with the key
// referenced by its own ciphertext and re-encrypted under the candidate.
// If any migration fails the run stops with PartialRotationError listing
// what moved and what did not — the old default stays active and already
// migrated secrets remain readable via their embedded key reference. A
// later Rotate picks up the same candidate and skips secrets already
// carrying it, so interrupted rotations converge instead of churning.
//
// Only on full success is the old default archived (renamed with a
// timestamp suffix, status archived, never deleted) and the candidate
// promoted to the default name. Historical versions are not rewritten;
// they keep decrypting under the archived key.
//
// When nothing changed since the last completed rotation the call is a
// no-op that reports every secret as skipped. ForceRotate bypasses that
// check.
func (v *Vault) Rotate(reason string) (*RotationReport, error) {
	return v.rotate(reason, false)
}

// ForceRotate rotates even when nothing changed since the last completed
// rotation, e.g. on suspected key compromise.
func (v *Vault) ForceRotate(reason string) (*RotationReport, error) {
	return v.rotate(reason, true)
}

func (v *Vault) rotate(reason string, force bool) (*RotationReport, error) {
	requestID := newRequestID()

	if err := v.checkOpen(); err != nil {
		return nil, err
	}

	state, err := v.meta.LoadRotationState()
	if err != nil {
		return nil, err
	}

	// A crash between archiving the old default and promoting the
	// candidate leaves the default name vacant; finish the promote
	// before anything else can mint a replacement key.
	if state.PendingKeyName != "" {
		if _, lookupErr := v.meta.LoadKeyMeta(v.config.DefaultKeyName); IsNotFound(lookupErr) {
			if err = v.keys.rename(state.PendingKeyName, v.config.DefaultKeyName, KeyStatusActive); err != nil {
				return nil, fmt.Errorf("failed to recover interrupted promotion: %w", err)
			}
			state.PendingKeyName = ""
			state.PendingKeyID = ""
			state.LastRotation = v.clock.Now().UTC()
			if err = v.meta.SaveRotationState(state); err != nil {
				return nil, err
			}
			debug.Print("rotation: recovered interrupted promotion")
		}
	}

	oldDefault, err := v.keys.EnsureDefault()
	if err != nil {
		return nil, fmt.Errorf("no default key to rotate: %w", err)
	}

	metas, err := v.meta.ListSecretMeta()
	if err != nil {
		return nil, err
	}
	sort.Slice(metas, func(i, j int) bool { return metas[i].Name < metas[j].Name })

	logAudit(v.audit, requestID, "ROTATE_START", nil, map[string]interface{}{
		"reason":  reason,
		"secrets": len(metas),
		"resume":  state.PendingKeyName != "",
		"force":   force,
	})

	// No-op when a previous rotation completed and nothing was written
	// since; there is nothing to move off the current default key.
	if !force && state.PendingKeyName == "" && !state.LastRotation.IsZero() {
		stale := false
		for _, meta := range metas {
			if meta.ModifiedAt.After(state.LastRotation) || meta.KeyID != oldDefault.ID {
				stale = true
				break
			}
		}
		if !stale {
			report := &RotationReport{NewKeyName: oldDefault.Name}
			for _, meta := range metas {
				report.Skipped = append(report.Skipped, meta.Name)
			}
			logAudit(v.audit, requestID, "ROTATE_NOOP", nil, map[string]interface{}{
				"skipped": len(report.Skipped),
			})
			return report, nil
		}
	}

	candidate, err := v.rotationCandidate(state)
	if err != nil {
		return nil, err
	}
	candidateEnclave, err := v.keys.material(candidate.Name)
	if err != nil {
		return nil, err
	}

	// Checkpoint the candidate before touching any secret
	state.PendingKeyName = candidate.Name
	state.PendingKeyID = candidate.ID
	if err = v.meta.SaveRotationState(state); err != nil {
		return nil, fmt.Errorf("failed to checkpoint rotation: %w", err)
	}

	report := &RotationReport{}
	for i, meta := range metas {
		migrated, migErr := v.migrateSecret(meta, candidate.ID, candidate.Name, candidateEnclave)
		if migErr != nil {
			pending := make([]string, 0, len(metas)-i)
			for _, rest := range metas[i:] {
				pending = append(pending, rest.Name)
			}
			logAudit(v.audit, requestID, "ROTATE_ABORTED", migErr, map[string]interface{}{
				"migrated": len(report.Migrated),
				"pending":  len(pending),
			})
			return nil, &PartialRotationError{
				Migrated: report.Migrated,
				Pending:  pending,
				Err:      fmt.Errorf("secret %s: %w", meta.Name, migErr),
			}
		}
		if migrated {
			report.Migrated = append(report.Migrated, meta.Name)
		} else {
			report.Skipped = append(report.Skipped, meta.Name)
		}
	}

	// Every secret is on the candidate: archive the old default and
	// promote. ID references in ciphertext survive both renames.
	archivedName, err := v.freeArchiveName(oldDefault.Name)
	if err != nil {
		return nil, err
	}
	if err = v.keys.rename(oldDefault.Name, archivedName, KeyStatusArchived); err != nil {
		return nil, fmt.Errorf("failed to archive old default key: %w", err)
	}
	if err = v.keys.rename(candidate.Name, v.config.DefaultKeyName, KeyStatusActive); err != nil {
		return nil, fmt.Errorf("failed to promote new default key: %w", err)
	}

	// Point migrated secret records at the promoted name
	for _, meta := range metas {
		if meta.KeyID != candidate.ID {
			continue
		}
		meta.KeyName = v.config.DefaultKeyName
		if saveErr := v.meta.SaveSecretMeta(meta); saveErr != nil {
			debug.Print("rotation: failed to retarget metadata for %s: %v", meta.Name, saveErr)
		}
	}

	state.PendingKeyName = ""
	state.PendingKeyID = ""
	state.LastRotation = v.clock.Now().UTC()
	state.LastArchivedKey = archivedName
	if err = v.meta.SaveRotationState(state); err != nil {
		return nil, fmt.Errorf("failed to record rotation completion: %w", err)
	}

	report.ArchivedKeyName = archivedName
	report.NewKeyName = v.config.DefaultKeyName

	logAudit(v.audit, requestID, "ROTATE_COMPLETE", nil, map[string]interface{}{
		"reason":       reason,
		"migrated":     len(report.Migrated),
		"skipped":      len(report.Skipped),
		"archived_key": archivedName,
	})
	return report, nil
}

// freeArchiveName returns a timestamped archive name for the outgoing
// default, bumping a counter suffix when rotations land inside the same
// second.
func (v *Vault) freeArchiveName(base string) (string, error) {
	stamp := v.clock.Now().Unix()
	name := fmt.Sprintf("%s.%d", base, stamp)
	for i := 1; ; i++ {
		_, err := v.meta.LoadKeyMeta(name)
		if IsNotFound(err) {
			return name, nil
		}
		if err != nil {
			return "", err
		}
		name = fmt.Sprintf("%s.%d-%d", base, stamp, i)
	}
}

// rotationCandidate resumes the checkpointed candidate key when one
// survives from an interrupted run, otherwise generates a fresh one.
func (v *Vault) rotationCandidate(state *RotationState) (*KeyMetadata, error) {
	if state.PendingKeyName != "" {
		meta, err := v.meta.LoadKeyMeta(state.PendingKeyName)
		if err == nil && meta.ID == state.PendingKeyID {
			debug.Print("rotation: resuming candidate %s", meta.Name)
			return meta, nil
		}
		if err != nil && !IsNotFound(err) {
			return nil, err
		}
		// Checkpoint points at a key that no longer exists; start over
	}
	return v.keys.Generate(pendingKeyName, KeyTypeSymmetric, true)
}

// migrateSecret re-encrypts one secret's current value under the candidate
// key. Returns false when the ciphertext already carries the candidate's
// ID, which happens when resuming an interrupted rotation.
func (v *Vault) migrateSecret(meta *SecretMetadata, candidateID, candidateName string, candidate *memguard.Enclave) (bool, error) {
	raw, err := v.store.LoadSecret(meta.Name)
	if err != nil {
		return false, err
	}

	keyID, err := v.crypto.KeyID(string(raw))
	if err != nil {
		return false, &DecryptError{Name: meta.Name, Reason: "malformed ciphertext", Err: err}
	}
	if keyID == candidateID {
		return false, nil
	}

	oldEnclave, err := v.keys.materialByID(keyID)
	if err != nil {
		return false, &DecryptError{Name: meta.Name, Reason: "encryption key unavailable", Err: err}
	}
	plaintext, err := v.crypto.Decrypt(string(raw), oldEnclave)
	if err != nil {
		return false, err
	}
	defer memguard.WipeBytes(plaintext)

	encoded, err := v.crypto.Encrypt(plaintext, candidateID, candidate)
	if err != nil {
		return false, err
	}
	if err = v.store.SaveSecret(meta.Name, []byte(encoded)); err != nil {
		return false, err
	}

	meta.KeyID = candidateID
	meta.KeyName = candidateName
	return true, v.meta.SaveSecretMeta(meta)
}
