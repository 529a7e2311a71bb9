package config

import (
	"path/filepath"
	"strings"
)

// ApplyDefaults fills in values that derive from other settings and
// normalizes free-form fields. Scalar defaults are registered with viper in
// Load; this handles the derived ones.
func ApplyDefaults(cfg *Config) {
	cfg.Logging.Level = strings.ToLower(cfg.Logging.Level)
	cfg.Logging.Format = strings.ToLower(cfg.Logging.Format)

	// Staging lives under the vault root by default, inside a dot-directory
	// the partitions never expose to clients.
	if cfg.Vault.StagingDir == "" && cfg.Vault.Root != "" {
		cfg.Vault.StagingDir = filepath.Join(cfg.Vault.Root, ".lanvault", "staging")
	}
}
