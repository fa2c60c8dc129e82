package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("DEALBRAIN_EBAY_API_KEY", "test-key")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.True(t, cfg.Ingestion.Ebay.Enabled)
	assert.True(t, cfg.Ingestion.JSONLD.Enabled)
	assert.Equal(t, 8*time.Second, cfg.Ingestion.Ebay.Timeout())
	assert.Equal(t, 2, cfg.Ingestion.Ebay.Retries)
	assert.Equal(t, 5*time.Minute, cfg.Cache.DefaultTTL())
	assert.Equal(t, 4, cfg.Recalc.Concurrency)
	assert.Equal(t, "test-key", cfg.Ingestion.Ebay.APIKey)
}

func TestLoadFileOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
ingestion:
  ebay:
    enabled: false
    timeout_s: 3
  jsonld:
    requests_per_minute: 10
cache:
  default_ttl_seconds: 60
recalc:
  concurrency: 8
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.False(t, cfg.Ingestion.Ebay.Enabled)
	assert.Equal(t, 3*time.Second, cfg.Ingestion.Ebay.Timeout())
	assert.Equal(t, 10, cfg.Ingestion.JSONLD.RequestsPerMinute)
	assert.Equal(t, time.Minute, cfg.Cache.DefaultTTL())
	assert.Equal(t, 8, cfg.Recalc.Concurrency)

	// Untouched keys keep defaults.
	assert.Equal(t, 2, cfg.Ingestion.Ebay.Retries)
	assert.True(t, cfg.Ingestion.JSONLD.Enabled)
}

func TestEnvOverridesFile(t *testing.T) {
	t.Setenv("DEALBRAIN_REDIS_URL", "redis://env-host:6379/2")
	t.Setenv("DEALBRAIN_EBAY_ENABLED", "false")

	path := writeConfig(t, `
redis:
  url: redis://file-host:6379/1
`)
	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis://env-host:6379/2", cfg.Redis.URL)
	assert.False(t, cfg.Ingestion.Ebay.Enabled)
}

func TestValidateRequiresEbayKey(t *testing.T) {
	cfg := Default()
	cfg.Ingestion.Ebay.APIKey = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "api_key")

	cfg.Ingestion.Ebay.Enabled = false
	assert.NoError(t, cfg.Validate())
}

func TestValidateBounds(t *testing.T) {
	cfg := Default()
	cfg.Ingestion.Ebay.APIKey = "k"

	cfg.Ingestion.JSONLD.TimeoutSeconds = 0
	assert.Error(t, cfg.Validate())

	cfg = Default()
	cfg.Ingestion.Ebay.APIKey = "k"
	cfg.Recalc.Concurrency = 0
	assert.Error(t, cfg.Validate())
}

func TestAdapterEnabledLookup(t *testing.T) {
	cfg := Default()
	cfg.Ingestion.Ebay.Enabled = false

	assert.False(t, cfg.Ingestion.AdapterEnabled("ebay"))
	assert.True(t, cfg.Ingestion.AdapterEnabled("jsonld"))
	assert.True(t, cfg.Ingestion.AdapterEnabled("somefuture"))
}

func TestDatabaseDSN(t *testing.T) {
	d := DatabaseConfig{Host: "db", Port: 5432, User: "u", Password: "p", Database: "dealbrain", SSLMode: "disable"}
	assert.Equal(t, "host=db port=5432 user=u password=p dbname=dealbrain sslmode=disable", d.DSN())

	d.URL = "postgres://u:p@db:5432/dealbrain?sslmode=disable"
	assert.Equal(t, d.URL, d.DSN())
}
