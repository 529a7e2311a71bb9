package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfig = `
server:
  listen_addr: ":9999"
logging:
  level: debug
  format: console
vault:
  root: /srv/vault
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  users:
    - username: alice
      password_hash: "$2a$10$abcdefghijklmnopqrstuv"
      shared_write: true
    - username: bob
      password_hash: "$2a$10$abcdefghijklmnopqrstuv"
`

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoadFromFile(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9999", cfg.Server.ListenAddr)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "/srv/vault", cfg.Vault.Root)
	require.Len(t, cfg.Auth.Users, 2)
	assert.True(t, cfg.Auth.Users[0].SharedWrite)
	assert.False(t, cfg.Auth.Users[1].SharedWrite)
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.MetricsAddr)
	assert.Equal(t, 30*time.Second, cfg.Server.ShutdownTimeout)
	assert.Equal(t, int64(1<<30), cfg.Uploads.MaxSize)
	assert.Equal(t, time.Hour, cfg.Uploads.SessionIdleTimeout)
	assert.Equal(t, filepath.Join("/srv/vault", ".lanvault", "staging"), cfg.Vault.StagingDir)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("LANVAULT_SERVER_LISTEN_ADDR", ":7070")
	cfg, err := Load(writeConfig(t, testConfig))
	require.NoError(t, err)
	assert.Equal(t, ":7070", cfg.Server.ListenAddr)
}

func TestLoadRejectsMissingRoot(t *testing.T) {
	body := `
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  users:
    - username: alice
      password_hash: x
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Vault.Root")
}

func TestLoadRejectsNoUsers(t *testing.T) {
	body := `
vault:
  root: /srv/vault
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
}

func TestLoadRejectsDuplicateUsers(t *testing.T) {
	body := testConfig + `
    - username: alice
      password_hash: x
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate username")
}

func TestLoadRejectsBadLogLevel(t *testing.T) {
	t.Setenv("LANVAULT_LOGGING_LEVEL", "loud")
	_, err := Load(writeConfig(t, testConfig))
	require.Error(t, err)
}

func TestLoadRejectsUsernameWithSeparator(t *testing.T) {
	body := `
vault:
  root: /srv/vault
auth:
  jwt_secret: "0123456789abcdef0123456789abcdef"
  users:
    - username: "a/b"
      password_hash: x
`
	_, err := Load(writeConfig(t, body))
	require.Error(t, err)
}
