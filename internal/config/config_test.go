package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	require.NoError(t, Default().Validate())
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
ledger:
  batch_size: 3
push:
  enabled: true
  ws_url: wss://example.invalid
sync:
  poll_interval_seconds: 12
  backfill_timeout_seconds: 90
`), 0600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.NoError(t, cfg.Validate())

	assert.Equal(t, 3, cfg.Ledger.BatchSize)
	assert.Equal(t, 50, cfg.Ledger.SignatureLimit)
	assert.Equal(t, 12*time.Second, cfg.PollInterval())
	assert.Equal(t, 90*time.Second, cfg.BackfillTimeout())
	assert.Equal(t, "wss://example.invalid", cfg.Push.WSURL)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("SHIELDCHAT_PINATA_JWT", "jwt-from-env")
	t.Setenv("SHIELDCHAT_REDIS_ADDR", "redis:6379")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "jwt-from-env", cfg.ContentStore.PinataJWT)
	assert.Equal(t, "redis:6379", cfg.Redis.Addr)
}

func TestValidateRejects(t *testing.T) {
	cfg := Default()
	cfg.Push.Enabled = true
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Ledger.BatchSize = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.ContentStore.Gateways = nil
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Sync.BackfillTimeoutSeconds = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Cache.Backend = "sqlite"
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Cache.Backend = CacheRedis
	assert.Error(t, cfg.Validate())
	cfg.Redis.Addr = "localhost:6379"
	assert.NoError(t, cfg.Validate())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
