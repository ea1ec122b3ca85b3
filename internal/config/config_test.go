package config_test

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/aretw0/bpmn/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func write(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "bpmn.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.Default(), cfg)
	assert.NoError(t, cfg.Validate())
}

func TestLoad_OverridesDefaults(t *testing.T) {
	cfg, err := config.Load(write(t, `
log:
  level: debug
store:
  driver: sqlite
  path: /var/lib/bpmn.sqlite
redis:
  addr: localhost:6379
  lock_ttl: 5s
engine:
  signal_mode: targeted
http:
  addr: 127.0.0.1:9000
definitions: ./processes
`))
	require.NoError(t, err)

	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format, "unset keys keep their default")
	assert.Equal(t, config.StoreSQLite, cfg.Store.Driver)
	assert.Equal(t, 5*time.Second, cfg.Redis.LockTTL)
	assert.Equal(t, "bpmn:lock:", cfg.Redis.Prefix)
	assert.Equal(t, "targeted", cfg.Engine.SignalMode)
	assert.Equal(t, "127.0.0.1:9000", cfg.HTTP.Addr)
	assert.True(t, cfg.HTTP.Metrics)
	assert.Equal(t, "./processes", cfg.Definitions)
}

func TestLoad_Invalid(t *testing.T) {
	_, err := config.Load(write(t, `
log:
  level: loud
store:
  driver: bolt
engine:
  signal_mode: sometimes
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loud")
	assert.Contains(t, err.Error(), "needs a path")
	assert.Contains(t, err.Error(), "sometimes")
}

func TestLoad_Malformed(t *testing.T) {
	_, err := config.Load(write(t, "log: [\n"))
	assert.Error(t, err)
}

func TestStoreConfig_Keys(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{7}, 32))

	active, fallback, err := config.StoreConfig{}.Keys()
	require.NoError(t, err)
	assert.Nil(t, active, "no key disables encryption")
	assert.Nil(t, fallback)

	active, fallback, err = config.StoreConfig{EncryptionKey: key, FallbackKeys: []string{key}}.Keys()
	require.NoError(t, err)
	assert.Len(t, active, 32)
	assert.Len(t, fallback, 1)

	_, _, err = config.StoreConfig{EncryptionKey: base64.StdEncoding.EncodeToString([]byte("short"))}.Keys()
	assert.ErrorContains(t, err, "want 32 bytes")

	_, _, err = config.StoreConfig{FallbackKeys: []string{key}}.Keys()
	assert.Error(t, err)
}

func TestValidate_RedactPatterns(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Redact = []string{"password", "("}
	assert.ErrorContains(t, cfg.Validate(), `redact pattern "("`)
}
