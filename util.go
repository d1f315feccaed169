package adecrypt

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

var (
	secretNameRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)
	keyNameRegex    = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)
	tagRegex        = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._:-]*$`)
)

const (
	maxNameLength = 255
	maxTagLength  = 64
	maxTagCount   = 32
)

// newRequestID returns a correlation id attached to every audit event a
// single operation emits.
func newRequestID() string {
	return uuid.NewString()
}

func validateSecretName(name string) error {
	if name == "" {
		return fmt.Errorf("secret name is required")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("secret name too long (max %d characters)", maxNameLength)
	}
	if !secretNameRegex.MatchString(name) {
		return fmt.Errorf("invalid secret name: %s", name)
	}
	return nil
}

func validateKeyName(name string) error {
	if name == "" {
		return fmt.Errorf("key name is required")
	}
	if len(name) > maxNameLength {
		return fmt.Errorf("key name too long (max %d characters)", maxNameLength)
	}
	if !keyNameRegex.MatchString(name) {
		return fmt.Errorf("invalid key name: %s", name)
	}
	return nil
}

// validateNewKeyName guards key creation. Key and secret sidecars share the
// metadata/ directory with secret records carrying a "secret_" prefix, so a
// key named secret_<x> would overwrite the record of secret <x>; the ".pub"
// suffix is reserved for the public half of asymmetric pairs.
func validateNewKeyName(name string) error {
	if err := validateKeyName(name); err != nil {
		return err
	}
	if strings.HasPrefix(name, "secret_") {
		return fmt.Errorf("key name prefix %q is reserved: %s", "secret_", name)
	}
	if strings.HasSuffix(name, ".pub") {
		return fmt.Errorf("key name suffix %q is reserved for public key halves: %s", ".pub", name)
	}
	return nil
}

// validateAndSanitizeTags trims, validates and deduplicates tags while
// preserving first-seen order.
func validateAndSanitizeTags(tags []string) ([]string, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	if len(tags) > maxTagCount {
		return nil, fmt.Errorf("too many tags (max %d)", maxTagCount)
	}

	seen := make(map[string]struct{}, len(tags))
	sanitized := make([]string, 0, len(tags))
	for _, tag := range tags {
		tag = strings.TrimSpace(tag)
		if tag == "" {
			continue
		}
		if len(tag) > maxTagLength {
			return nil, fmt.Errorf("tag too long (max %d characters): %s", maxTagLength, tag)
		}
		if !tagRegex.MatchString(tag) {
			return nil, fmt.Errorf("invalid tag: %s", tag)
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		sanitized = append(sanitized, tag)
	}
	return sanitized, nil
}

// matchesSecret reports whether a secret matches pattern (case-sensitive
// substring against name and tags) and, when category is non-empty, whether
// the secret's category contains it.
func matchesSecret(meta *SecretMetadata, pattern, category string) bool {
	if category != "" && !strings.Contains(meta.Category, category) {
		return false
	}
	if pattern == "" {
		return true
	}
	if strings.Contains(meta.Name, pattern) {
		return true
	}
	for _, tag := range meta.Tags {
		if strings.Contains(tag, pattern) {
			return true
		}
	}
	return strings.Contains(meta.Category, pattern)
}
