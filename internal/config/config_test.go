package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "postgres", cfg.DBDriver)
	assert.Equal(t, "USD", cfg.Currency)
	assert.Equal(t, 5*time.Minute, cfg.ContributionCacheTTL)
	assert.Empty(t, cfg.KafkaBrokers)
	assert.True(t, cfg.DBAutoMigrate)
}

func TestParseOverrides(t *testing.T) {
	t.Setenv("DB_DRIVER", "sqlite")
	t.Setenv("DB_CONN_STR", "file:bonus.db")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")
	t.Setenv("CONTRIBUTION_CACHE_TTL", "30s")

	cfg, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, "sqlite", cfg.DBDriver)
	assert.Equal(t, []string{"k1:9092", "k2:9092"}, cfg.KafkaBrokers)
	assert.Equal(t, 30*time.Second, cfg.ContributionCacheTTL)
}

func TestParseRejectsUnknownDriver(t *testing.T) {
	t.Setenv("DB_DRIVER", "mysql")
	_, err := Parse()
	require.Error(t, err)
}

func TestLoadReadsEnvFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("WALLET_CURRENCY=EUR\n"), 0o600))
	t.Cleanup(func() { os.Unsetenv("WALLET_CURRENCY") })

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "EUR", cfg.Currency)
}

func TestLoadWithoutEnvFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	require.NoError(t, err)
}
