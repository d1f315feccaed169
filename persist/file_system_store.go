package persist

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
)

const (
	FilePermissions os.FileMode = 0600
	DirPermissions  os.FileMode = 0700

	secretMetaPrefix = "secret_"
	metaSuffix       = ".meta"
	secretSuffix     = ".enc"
	keySuffix        = ".key"
)

// FileSystemStore implements Store on a local directory tree.
//
// Layout under the vault home (authoritative for compatibility):
//
//	<home>/keys/<name>.key                 wrapped key material, mode 0600
//	<home>/secrets/<name>.enc              current ciphertext, mode 0600
//	<home>/versions/<name>_<unix_ts>.enc   historical ciphertexts
//	<home>/metadata/secret_<name>.meta     secret sidecar record
//	<home>/metadata/<name>.meta            key sidecar record
//	<home>/derivation.salt                 salt for the key-encryption key
//	<home>/rotation.meta                   rotation checkpoint
//
// All directories are created 0700 and all files are written 0600 via a
// write-to-temp-then-rename sequence, so a concurrent reader never observes
// partial content. There is no cross-process locking: concurrent writers to
// the same artifact race with last-writer-wins semantics, and callers that
// need strict serialization must add external locking.
type FileSystemStore struct {
	basePath     string
	keysDir      string
	secretsDir   string
	versionsDir  string
	metadataDir  string
	saltFile     string
	rotationFile string
}

// NewFileSystemStore initializes the directory tree rooted at basePath and
// returns a store over it.
func NewFileSystemStore(basePath string) (*FileSystemStore, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path is required")
	}

	fs := &FileSystemStore{
		basePath:     basePath,
		keysDir:      filepath.Join(basePath, "keys"),
		secretsDir:   filepath.Join(basePath, "secrets"),
		versionsDir:  filepath.Join(basePath, "versions"),
		metadataDir:  filepath.Join(basePath, "metadata"),
		saltFile:     filepath.Join(basePath, "derivation.salt"),
		rotationFile: filepath.Join(basePath, "rotation.meta"),
	}

	for _, dir := range []string{basePath, fs.keysDir, fs.secretsDir, fs.versionsDir, fs.metadataDir} {
		if err := os.MkdirAll(dir, DirPermissions); err != nil {
			return nil, fmt.Errorf("failed to create directory %s: %w", dir, err)
		}
	}

	return fs, nil
}

// NewFileSystemStoreFromConfig creates a FileSystemStore from a StoreConfig.
func NewFileSystemStoreFromConfig(config StoreConfig) (*FileSystemStore, error) {
	basePath, ok := config.Config["base_path"].(string)
	if !ok {
		return nil, fmt.Errorf("base_path is required for filesystem store")
	}
	return NewFileSystemStore(basePath)
}

// validateArtifactName rejects names that would escape the store's
// directories or collide with reserved files.
func validateArtifactName(name string) error {
	if name == "" {
		return fmt.Errorf("artifact name is empty")
	}
	if strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("artifact name must not contain path separators: %s", name)
	}
	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("artifact name must not start with a dot: %s", name)
	}
	return nil
}

// Secrets

func (fs *FileSystemStore) secretPath(name string) string {
	return filepath.Join(fs.secretsDir, name+secretSuffix)
}

func (fs *FileSystemStore) SaveSecret(name string, data []byte) error {
	if err := validateArtifactName(name); err != nil {
		return err
	}
	return writeSecureFile(fs.secretPath(name), data, FilePermissions)
}

func (fs *FileSystemStore) LoadSecret(name string) ([]byte, error) {
	if err := validateArtifactName(name); err != nil {
		return nil, err
	}
	return readFileOrNotExist(fs.secretPath(name))
}

func (fs *FileSystemStore) SecretExists(name string) (bool, error) {
	if err := validateArtifactName(name); err != nil {
		return false, err
	}
	return fileExists(fs.secretPath(name))
}

func (fs *FileSystemStore) DeleteSecret(name string) error {
	if err := validateArtifactName(name); err != nil {
		return err
	}
	return secureRemove(fs.secretPath(name))
}

func (fs *FileSystemStore) ListSecrets() ([]string, error) {
	return listDir(fs.secretsDir, "", secretSuffix)
}

// Versions

func (fs *FileSystemStore) versionPath(name string, ts int64) string {
	return filepath.Join(fs.versionsDir, fmt.Sprintf("%s_%d%s", name, ts, secretSuffix))
}

func (fs *FileSystemStore) SaveVersion(name string, ts int64, data []byte) (int64, error) {
	if err := validateArtifactName(name); err != nil {
		return 0, err
	}

	// Timestamps are second resolution, so two snapshots taken within the
	// same second would collide. Bump forward to the next free stamp; files
	// only accumulate, so stamps stay monotonic per secret.
	stamp := ts
	for {
		exists, err := fileExists(fs.versionPath(name, stamp))
		if err != nil {
			return 0, err
		}
		if !exists {
			break
		}
		stamp++
	}

	if err := writeSecureFile(fs.versionPath(name, stamp), data, FilePermissions); err != nil {
		return 0, err
	}
	return stamp, nil
}

func (fs *FileSystemStore) LoadVersion(name string, ts int64) ([]byte, error) {
	if err := validateArtifactName(name); err != nil {
		return nil, err
	}
	return readFileOrNotExist(fs.versionPath(name, ts))
}

func (fs *FileSystemStore) ListVersions(name string) ([]int64, error) {
	if err := validateArtifactName(name); err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(fs.versionsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read versions directory: %w", err)
	}

	prefix := name + "_"
	var stamps []int64
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		fname := entry.Name()
		if !strings.HasPrefix(fname, prefix) || !strings.HasSuffix(fname, secretSuffix) {
			continue
		}
		// The secret name may itself contain underscores, so the stamp is
		// everything after the last one.
		trimmed := strings.TrimSuffix(fname, secretSuffix)
		idx := strings.LastIndex(trimmed, "_")
		if idx < 0 || trimmed[:idx] != name {
			continue
		}
		stamp, err := strconv.ParseInt(trimmed[idx+1:], 10, 64)
		if err != nil {
			return nil, &CorruptArtifactError{Kind: "version", Name: fname}
		}
		stamps = append(stamps, stamp)
	}

	sort.Slice(stamps, func(i, j int) bool { return stamps[i] < stamps[j] })
	return stamps, nil
}

func (fs *FileSystemStore) DeleteVersions(name string) error {
	stamps, err := fs.ListVersions(name)
	if err != nil {
		return err
	}
	for _, stamp := range stamps {
		if err := secureRemove(fs.versionPath(name, stamp)); err != nil {
			return fmt.Errorf("failed to remove version %d of %s: %w", stamp, name, err)
		}
	}
	return nil
}

// Keys

func (fs *FileSystemStore) keyPath(name string) string {
	return filepath.Join(fs.keysDir, name+keySuffix)
}

func (fs *FileSystemStore) SaveKey(name string, data []byte) error {
	if err := validateArtifactName(name); err != nil {
		return err
	}
	return writeSecureFile(fs.keyPath(name), data, FilePermissions)
}

func (fs *FileSystemStore) LoadKey(name string) ([]byte, error) {
	if err := validateArtifactName(name); err != nil {
		return nil, err
	}
	return readFileOrNotExist(fs.keyPath(name))
}

func (fs *FileSystemStore) KeyExists(name string) (bool, error) {
	if err := validateArtifactName(name); err != nil {
		return false, err
	}
	return fileExists(fs.keyPath(name))
}

func (fs *FileSystemStore) DeleteKey(name string) error {
	if err := validateArtifactName(name); err != nil {
		return err
	}
	return secureRemove(fs.keyPath(name))
}

func (fs *FileSystemStore) RenameKey(oldName, newName string) error {
	if err := validateArtifactName(oldName); err != nil {
		return err
	}
	if err := validateArtifactName(newName); err != nil {
		return err
	}
	if err := os.Rename(fs.keyPath(oldName), fs.keyPath(newName)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("key %s: %w", oldName, ErrNotExist)
		}
		return fmt.Errorf("failed to rename key: %w", err)
	}
	return nil
}

func (fs *FileSystemStore) ListKeys() ([]string, error) {
	return listDir(fs.keysDir, "", keySuffix)
}

// Metadata

func (fs *FileSystemStore) secretMetaPath(name string) string {
	return filepath.Join(fs.metadataDir, secretMetaPrefix+name+metaSuffix)
}

func (fs *FileSystemStore) keyMetaPath(name string) string {
	return filepath.Join(fs.metadataDir, name+metaSuffix)
}

func (fs *FileSystemStore) SaveSecretMeta(name string, data []byte) error {
	if err := validateArtifactName(name); err != nil {
		return err
	}
	return writeSecureFile(fs.secretMetaPath(name), data, FilePermissions)
}

func (fs *FileSystemStore) LoadSecretMeta(name string) ([]byte, error) {
	if err := validateArtifactName(name); err != nil {
		return nil, err
	}
	return readFileOrNotExist(fs.secretMetaPath(name))
}

func (fs *FileSystemStore) DeleteSecretMeta(name string) error {
	if err := validateArtifactName(name); err != nil {
		return err
	}
	return secureRemove(fs.secretMetaPath(name))
}

func (fs *FileSystemStore) ListSecretMeta() ([]string, error) {
	return listDir(fs.metadataDir, secretMetaPrefix, metaSuffix)
}

func (fs *FileSystemStore) SaveKeyMeta(name string, data []byte) error {
	if err := validateArtifactName(name); err != nil {
		return err
	}
	return writeSecureFile(fs.keyMetaPath(name), data, FilePermissions)
}

func (fs *FileSystemStore) LoadKeyMeta(name string) ([]byte, error) {
	if err := validateArtifactName(name); err != nil {
		return nil, err
	}
	return readFileOrNotExist(fs.keyMetaPath(name))
}

func (fs *FileSystemStore) DeleteKeyMeta(name string) error {
	if err := validateArtifactName(name); err != nil {
		return err
	}
	return secureRemove(fs.keyMetaPath(name))
}

func (fs *FileSystemStore) RenameKeyMeta(oldName, newName string) error {
	if err := validateArtifactName(oldName); err != nil {
		return err
	}
	if err := validateArtifactName(newName); err != nil {
		return err
	}
	if err := os.Rename(fs.keyMetaPath(oldName), fs.keyMetaPath(newName)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("key metadata %s: %w", oldName, ErrNotExist)
		}
		return fmt.Errorf("failed to rename key metadata: %w", err)
	}
	return nil
}

func (fs *FileSystemStore) ListKeyMeta() ([]string, error) {
	names, err := listDir(fs.metadataDir, "", metaSuffix)
	if err != nil {
		return nil, err
	}
	filtered := names[:0]
	for _, name := range names {
		if strings.HasPrefix(name, secretMetaPrefix) {
			continue
		}
		filtered = append(filtered, name)
	}
	return filtered, nil
}

// Salt

func (fs *FileSystemStore) SaveSalt(salt []byte) error {
	return writeSecureFile(fs.saltFile, salt, FilePermissions)
}

func (fs *FileSystemStore) LoadSalt() ([]byte, error) {
	return readFileOrNotExist(fs.saltFile)
}

func (fs *FileSystemStore) SaltExists() (bool, error) {
	return fileExists(fs.saltFile)
}

// Rotation checkpoint

func (fs *FileSystemStore) SaveRotationState(data []byte) error {
	return writeSecureFile(fs.rotationFile, data, FilePermissions)
}

func (fs *FileSystemStore) LoadRotationState() ([]byte, error) {
	return readFileOrNotExist(fs.rotationFile)
}

// Health and utilities

func (fs *FileSystemStore) Ping() error {
	probe := filepath.Join(fs.basePath, ".ping")
	if err := os.WriteFile(probe, []byte("ok"), FilePermissions); err != nil {
		return fmt.Errorf("vault home is not writable: %w", err)
	}
	return os.Remove(probe)
}

func (fs *FileSystemStore) Close() error {
	return nil
}

func (fs *FileSystemStore) GetType() string {
	return string(StoreTypeFileSystem)
}

// Helpers

// writeSecureFile writes data atomically: temp file in the target
// directory, write, fsync, chmod, then rename over the destination.
func writeSecureFile(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	tmpFile, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	if _, err = tmpFile.Write(data); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to write to temp file: %w", err)
	}

	if err = tmpFile.Sync(); err != nil {
		_ = tmpFile.Close()
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to sync temp file: %w", err)
	}

	if err = tmpFile.Close(); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err = os.Chmod(tmpPath, perm); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to set permissions: %w", err)
	}

	if err = os.Rename(tmpPath, path); err != nil {
		_ = os.Remove(tmpPath)
		return fmt.Errorf("failed to rename temp file: %w", err)
	}

	return nil
}

// secureRemove overwrites file content with zeros before unlinking so the
// bytes do not linger on disk. Removing an absent file returns ErrNotExist.
func secureRemove(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%s: %w", filepath.Base(path), ErrNotExist)
		}
		return err
	}

	if size := info.Size(); size > 0 {
		f, err := os.OpenFile(path, os.O_WRONLY, 0)
		if err != nil {
			return fmt.Errorf("failed to open file for wiping: %w", err)
		}
		zeros := make([]byte, size)
		if _, err = f.WriteAt(zeros, 0); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to wipe file: %w", err)
		}
		if err = f.Sync(); err != nil {
			_ = f.Close()
			return fmt.Errorf("failed to sync wiped file: %w", err)
		}
		if err = f.Close(); err != nil {
			return err
		}
	}

	return os.Remove(path)
}

func readFileOrNotExist(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%s: %w", filepath.Base(path), ErrNotExist)
		}
		return nil, err
	}
	return data, nil
}

func fileExists(path string) (bool, error) {
	_, err := os.Stat(path)
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// listDir returns base names of files in dir matching prefix/suffix, with
// both trimmed, in lexical order.
func listDir(dir, prefix, suffix string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if prefix != "" && !strings.HasPrefix(name, prefix) {
			continue
		}
		if !strings.HasSuffix(name, suffix) {
			continue
		}
		names = append(names, strings.TrimSuffix(strings.TrimPrefix(name, prefix), suffix))
	}
	sort.Strings(names)
	return names, nil
}
