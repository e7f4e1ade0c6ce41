package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg := FromViper(NewViper())

	assert.Equal(t, 8, cfg.Sync.Workers)
	assert.Equal(t, 5*time.Second, cfg.Sync.TxTimeout)
	assert.Equal(t, "https://knihovny.cz/library", cfg.Sync.ResourceBase)
	assert.Equal(t, ":8080", cfg.Server.Addr)
	assert.Empty(t, cfg.Kafka.Brokers)
	assert.True(t, cfg.UsesDevSigningKey())
	assert.NoError(t, cfg.Validate())
	assert.Error(t, cfg.RequireDatabase())
}

func TestEnvironmentOverrides(t *testing.T) {
	t.Setenv("LIBSYNC_DATABASE_URL", "postgres://writer@db/libsync")
	t.Setenv("LIBSYNC_DATABASE_READ_URL", "postgres://reader@db/libsync")
	t.Setenv("LIBSYNC_SYNC_WORKERS", "3")
	t.Setenv("LIBSYNC_SYNC_TX_TIMEOUT", "750ms")
	t.Setenv("LIBSYNC_KAFKA_BROKERS", "k1:9092, k2:9092,")
	t.Setenv("LIBSYNC_JWT_SIGNING_KEY", "s3cret")

	cfg := FromViper(NewViper())

	assert.Equal(t, "postgres://writer@db/libsync", cfg.Database.URL)
	assert.Equal(t, "postgres://reader@db/libsync", cfg.Database.ReadURL)
	assert.Equal(t, 3, cfg.Sync.Workers)
	assert.Equal(t, 750*time.Millisecond, cfg.Sync.TxTimeout)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.Kafka.Brokers)
	assert.False(t, cfg.UsesDevSigningKey())
	assert.NoError(t, cfg.RequireDatabase())
}

func TestValidate(t *testing.T) {
	cfg := FromViper(NewViper())
	cfg.Sync.Workers = 0
	assert.Error(t, cfg.Validate())

	cfg = FromViper(NewViper())
	cfg.Kafka.Brokers = []string{"k:9092"}
	cfg.Kafka.ChangesTopic = ""
	assert.Error(t, cfg.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("LIBSYNC_HTTP_ADDR=:9999\nLIBSYNC_LOG_LEVEL=debug\n"), 0o600))
	t.Setenv("LIBSYNC_LOG_LEVEL", "warn")
	t.Cleanup(func() { _ = os.Unsetenv("LIBSYNC_HTTP_ADDR") })

	require.NoError(t, LoadDotEnv(path, filepath.Join(dir, "missing.env")))

	cfg := FromViper(NewViper())
	assert.Equal(t, ":9999", cfg.Server.Addr)
	assert.Equal(t, "warn", cfg.Log.Level, "existing variables win over .env")
}
