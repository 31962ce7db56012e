package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadServerDefaults(t *testing.T) {
	for _, key := range []string{"PORT", "REDIS_URL", "VERIFY_ONCHAIN", "CORS_ORIGINS", "CHECKIN_CACHE_TTL"} {
		t.Setenv(key, "")
	}
	cfg := LoadServer()
	assert.Equal(t, "8080", cfg.Port)
	assert.Empty(t, cfg.RedisURL)
	assert.False(t, cfg.VerifyOnchain)
	assert.Len(t, cfg.CORSOrigins, 2)
	assert.Equal(t, 10*time.Minute, cfg.CacheTTL)
}

func TestLoadServerOverrides(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("VERIFY_ONCHAIN", "true")
	t.Setenv("CORS_ORIGINS", "https://a.example, https://b.example,")
	t.Setenv("CHECKIN_CACHE_TTL", "30s")

	cfg := LoadServer()
	assert.Equal(t, "9000", cfg.Port)
	assert.True(t, cfg.VerifyOnchain)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, cfg.CORSOrigins)
	assert.Equal(t, 30*time.Second, cfg.CacheTTL)
}

func TestLoadClientFallbacksOnInvalid(t *testing.T) {
	t.Setenv("FINALITY_TIMEOUT", "soon")
	t.Setenv("CONFIRMATIONS", "many")
	t.Setenv("RECORD_MAX_ATTEMPTS", "6")

	cfg := LoadClient()
	assert.Equal(t, 45*time.Second, cfg.FinalityTimeout)
	assert.Equal(t, 1, cfg.Confirmations)
	assert.Equal(t, 6, cfg.RecordMaxAttempts)
}

func TestClientValidate(t *testing.T) {
	err := Client{}.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "ACCESS_TOKEN")
	assert.Contains(t, err.Error(), "PRIVATE_KEY")

	assert.NoError(t, Client{AccessToken: "t", POAPContract: "0x1", PrivateKey: "k"}.Validate())
}

func TestLoadDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	require.NoError(t, os.WriteFile(path, []byte("PRESENCE_TEST_VALUE=from-file\n"), 0o600))
	t.Setenv("PRESENCE_TEST_VALUE", "")
	os.Unsetenv("PRESENCE_TEST_VALUE")

	LoadDotEnv(path)
	assert.Equal(t, "from-file", os.Getenv("PRESENCE_TEST_VALUE"))
}

func TestLoadClientLocalState(t *testing.T) {
	t.Setenv("CHECKIN_STATE_DIR", "")
	t.Setenv("TRACE_EXPORTER", "")
	cfg := LoadClient()
	assert.Equal(t, ".presence-checkin", filepath.Base(cfg.StateDir))
	assert.Equal(t, "none", cfg.TraceExporter)
	assert.Empty(t, cfg.MetricsFile)

	t.Setenv("CHECKIN_STATE_DIR", "/var/lib/checkin")
	t.Setenv("METRICS_FILE", "/tmp/checkin.prom")
	cfg = LoadClient()
	assert.Equal(t, "/var/lib/checkin", cfg.StateDir)
	assert.Equal(t, "/tmp/checkin.prom", cfg.MetricsFile)
}
