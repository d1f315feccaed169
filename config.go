package adecrypt

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/phdsystems/ade-crypt/audit"
)

// Config is the explicit configuration value for a vault. It is constructed
// once (directly, via DefaultConfig, or loaded from a YAML file) and passed
// into every component constructor; there is no process-wide mutable
// configuration.
type Config struct {
	// Home is the vault's root directory. The authoritative on-disk layout
	// (keys/, secrets/, versions/, metadata/) lives underneath it.
	Home string `yaml:"home"`

	// DefaultKeyName names the key used for new encryptions. When
	// AutoProvisionDefaultKey is set, storing a secret with no active
	// default key generates one under this name through the key store.
	DefaultKeyName string `yaml:"default_key_name"`

	// AutoProvisionDefaultKey enables the documented auto-create policy for
	// the default key. When false, storing a secret without an existing
	// default key fails instead.
	AutoProvisionDefaultKey bool `yaml:"auto_provision_default_key"`

	// DefaultSecretTTLDays is applied to stored secrets when the caller
	// gives no TTL. Zero selects the built-in default of 180 days.
	DefaultSecretTTLDays int `yaml:"default_secret_ttl_days"`

	// KeyTTLDays is the validity window stamped on generated and imported
	// keys. Zero selects the built-in default of 90 days.
	KeyTTLDays int `yaml:"key_ttl_days"`

	// ExpiryWarningDays is the window in which key health reports
	// "expiring-soon". Zero selects the built-in default of 7 days.
	ExpiryWarningDays int `yaml:"expiry_warning_days"`

	// DerivationPassphrase protects key material at rest: every key file is
	// wrapped with a key derived from this passphrase via Argon2id. Never
	// serialized.
	DerivationPassphrase string `yaml:"-"`

	// EnvPassphraseVar optionally names an environment variable holding the
	// passphrase, avoiding passphrases in config files or process
	// arguments. Used when DerivationPassphrase is empty.
	EnvPassphraseVar string `yaml:"env_passphrase_var"`

	// Audit configures the audit hook. Nil disables auditing (a no-op
	// logger is installed so mutating operations can log unconditionally).
	Audit *audit.Config `yaml:"audit"`
}

const (
	defaultKeyName       = "default"
	defaultSecretTTLDays = 180
	defaultKeyTTLDays    = 90
	defaultWarningDays   = 7
)

var envVarNameRegex = regexp.MustCompile(`^[A-Z_][A-Z0-9_]*$`)

// DefaultConfig returns a Config for the given vault home with the standard
// policy: default key auto-provisioned under "default", 180 day secret TTL,
// 90 day key TTL, 7 day expiry warning window.
func DefaultConfig(home string) Config {
	return Config{
		Home:                    home,
		DefaultKeyName:          defaultKeyName,
		AutoProvisionDefaultKey: true,
		DefaultSecretTTLDays:    defaultSecretTTLDays,
		KeyTTLDays:              defaultKeyTTLDays,
		ExpiryWarningDays:       defaultWarningDays,
	}
}

// LoadConfig reads a YAML config file. Fields absent from the file keep the
// DefaultConfig values; the passphrase itself is never read from the file,
// only EnvPassphraseVar may point at its source.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := DefaultConfig("")
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config file: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for use. A passphrase source (direct or
// via environment variable) is required because key material is always
// wrapped at rest.
func (c Config) Validate() error {
	if c.Home == "" {
		return fmt.Errorf("vault home is required")
	}
	if c.DefaultKeyName == "" {
		return fmt.Errorf("default key name is required")
	}
	if err := validateNewKeyName(c.DefaultKeyName); err != nil {
		return fmt.Errorf("invalid default key name: %w", err)
	}
	if c.DefaultSecretTTLDays < 0 || c.KeyTTLDays < 0 || c.ExpiryWarningDays < 0 {
		return fmt.Errorf("TTL settings must not be negative")
	}
	if c.DerivationPassphrase == "" && c.EnvPassphraseVar == "" {
		return fmt.Errorf("a derivation passphrase or env_passphrase_var is required")
	}
	if c.EnvPassphraseVar != "" && !envVarNameRegex.MatchString(c.EnvPassphraseVar) {
		return fmt.Errorf("invalid environment variable name: %s", c.EnvPassphraseVar)
	}
	return nil
}

// resolvePassphrase returns the configured passphrase, falling back to the
// named environment variable.
func (c Config) resolvePassphrase() (string, error) {
	if c.DerivationPassphrase != "" {
		return c.DerivationPassphrase, nil
	}
	if c.EnvPassphraseVar != "" {
		if value := os.Getenv(c.EnvPassphraseVar); value != "" {
			return value, nil
		}
		return "", fmt.Errorf("environment variable %s is empty or unset", c.EnvPassphraseVar)
	}
	return "", fmt.Errorf("no passphrase configured")
}

// secretTTLDays returns the effective default secret TTL.
func (c Config) secretTTLDays() int {
	if c.DefaultSecretTTLDays > 0 {
		return c.DefaultSecretTTLDays
	}
	return defaultSecretTTLDays
}

// keyTTLDays returns the effective key validity window.
func (c Config) keyTTLDays() int {
	if c.KeyTTLDays > 0 {
		return c.KeyTTLDays
	}
	return defaultKeyTTLDays
}

// warningDays returns the effective expiring-soon window for key health.
func (c Config) warningDays() int {
	if c.ExpiryWarningDays > 0 {
		return c.ExpiryWarningDays
	}
	return defaultWarningDays
}
