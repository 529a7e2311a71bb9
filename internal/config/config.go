// Package config loads server configuration from a YAML file and
// LANVAULT_* environment variables, with environment taking precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all server configuration.
type Config struct {
	// Server contains listener and shutdown settings.
	Server ServerConfig `mapstructure:"server"`

	// Logging controls log output behavior.
	Logging LoggingConfig `mapstructure:"logging"`

	// Vault describes the on-disk layout of the served tree.
	Vault VaultConfig `mapstructure:"vault"`

	// Auth configures token issuance and the user database.
	Auth AuthConfig `mapstructure:"auth"`

	// Shares configures share link storage and lifetimes.
	Shares SharesConfig `mapstructure:"shares"`

	// Uploads configures single-shot and chunked upload limits.
	Uploads UploadsConfig `mapstructure:"uploads"`
}

// ServerConfig contains listener settings.
type ServerConfig struct {
	// ListenAddr is the main API listen address.
	ListenAddr string `mapstructure:"listen_addr" validate:"required"`

	// MetricsAddr is the Prometheus listener. Empty disables it.
	MetricsAddr string `mapstructure:"metrics_addr"`

	// BaseURL is the externally reachable address used when rendering
	// share links. Empty means links are rendered from the request host.
	BaseURL string `mapstructure:"base_url"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig controls logging behavior.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn or error.
	Level string `mapstructure:"level" validate:"required,oneof=debug info warn error"`

	// Format is the output encoding: json or console.
	Format string `mapstructure:"format" validate:"required,oneof=json console"`
}

// VaultConfig describes the served directory tree.
type VaultConfig struct {
	// Root is the directory holding the shared and private partitions.
	Root string `mapstructure:"root" validate:"required"`

	// StagingDir holds in-flight uploads. Defaults to a dot-directory
	// under the root, which the partitions never expose.
	StagingDir string `mapstructure:"staging_dir"`
}

// UserConfig declares one account.
type UserConfig struct {
	// Username is the login and private folder name.
	Username string `mapstructure:"username" validate:"required,excludesall=/\\"`

	// PasswordHash is the bcrypt hash of the password.
	PasswordHash string `mapstructure:"password_hash" validate:"required"`

	// SharedWrite grants write access to the shared partition.
	SharedWrite bool `mapstructure:"shared_write"`
}

// AuthConfig configures token issuance and accounts.
type AuthConfig struct {
	// JWTSecret signs access tokens.
	JWTSecret string `mapstructure:"jwt_secret" validate:"required,min=16"`

	// TokenTTL is the access token lifetime.
	TokenTTL time.Duration `mapstructure:"token_ttl" validate:"gt=0"`

	// Users is the account database.
	Users []UserConfig `mapstructure:"users" validate:"min=1,dive"`
}

// SharesConfig configures share link storage.
type SharesConfig struct {
	// StoreDir is the BadgerDB directory for share records. Empty keeps
	// shares in memory only.
	StoreDir string `mapstructure:"store_dir"`

	// DefaultTTL applies to shares created without an explicit expiry.
	// Zero means such shares never expire.
	DefaultTTL time.Duration `mapstructure:"default_ttl" validate:"gte=0"`
}

// UploadsConfig configures upload handling.
type UploadsConfig struct {
	// MaxSize caps the declared size of any upload, in bytes.
	MaxSize int64 `mapstructure:"max_size" validate:"gt=0"`

	// ChunkSize is the fixed chunk size for chunked upload sessions.
	ChunkSize int64 `mapstructure:"chunk_size" validate:"gt=0"`

	// SessionIdleTimeout is how long a chunked session may go without
	// receiving a chunk before the sweeper abandons it.
	SessionIdleTimeout time.Duration `mapstructure:"session_idle_timeout" validate:"gt=0"`

	// SweepInterval is how often abandoned sessions are reaped.
	SweepInterval time.Duration `mapstructure:"sweep_interval" validate:"gt=0"`
}

// Load reads configuration from the given file (optional) and LANVAULT_*
// environment variables, applies defaults and validates the result.
//
// Precedence, highest first: environment variables, config file, defaults.
// Example: LANVAULT_VAULT_ROOT=/srv/vault overrides vault.root.
func Load(configPath string) (*Config, error) {
	v := viper.New()

	v.SetEnvPrefix("LANVAULT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	ApplyDefaults(&cfg)

	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return &cfg, nil
}

// setDefaults registers defaults for every scalar key. Registering the keys
// also makes AutomaticEnv pick them up in file-less setups. Users can only
// be declared in the config file.
func setDefaults(v *viper.Viper) {
	v.SetDefault("server.listen_addr", ":8080")
	v.SetDefault("server.metrics_addr", ":9090")
	v.SetDefault("server.base_url", "")
	v.SetDefault("server.shutdown_timeout", 30*time.Second)
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("vault.root", "")
	v.SetDefault("vault.staging_dir", "")
	v.SetDefault("auth.jwt_secret", "")
	v.SetDefault("auth.token_ttl", 24*time.Hour)
	v.SetDefault("shares.store_dir", "")
	v.SetDefault("shares.default_ttl", time.Duration(0))
	v.SetDefault("uploads.max_size", int64(1<<30))
	v.SetDefault("uploads.chunk_size", int64(5<<20))
	v.SetDefault("uploads.session_idle_timeout", time.Hour)
	v.SetDefault("uploads.sweep_interval", 5*time.Minute)
}
