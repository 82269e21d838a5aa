package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("API_KEY", "secret")
	t.Setenv("AWS_REGION", "")
	t.Setenv("CACHE_TTL", "")
	cfg, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "/api/v1", cfg.Server.APIPrefix)
	assert.Equal(t, "X-API-Key", cfg.Auth.Header)
	assert.Equal(t, "secret", cfg.Auth.APIKey)
	assert.Equal(t, "ap-southeast-1", cfg.AWS.Region)
	assert.Equal(t, 30*time.Second, cfg.AWS.Timeout())
	assert.Equal(t, time.Hour, cfg.Cache.TTL())
	assert.Equal(t, 100, cfg.Cache.MaxEntries)
	assert.Equal(t, 60, cfg.RateLimit.RequestsPerMinute)
	assert.Equal(t, uint32(5), cfg.Breaker.FailureThreshold)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := writeConfig(t, t.TempDir(), `
server:
  port: ":9000"
auth:
  api_key: from-file
aws:
  region: us-east-1
cache:
  ttl: 60
  max_entries: 5
`)
	t.Setenv("CACHE_TTL", "120")
	t.Setenv("AWS_PROFILE", "billing")
	t.Setenv("DEBUG", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, ":9000", cfg.Server.Port)
	assert.Equal(t, "from-file", cfg.Auth.APIKey)
	assert.Equal(t, "us-east-1", cfg.AWS.Region)
	assert.Equal(t, "billing", cfg.AWS.Profile)
	assert.Equal(t, 2*time.Minute, cfg.Cache.TTL())
	assert.Equal(t, 5, cfg.Cache.MaxEntries)
	assert.True(t, cfg.Server.Debug)
	assert.Equal(t, "debug", cfg.Logging.Level)
}

func TestLoadUsesConfigPathEnv(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "auth:\n  api_key: via-env-path\n")
	t.Setenv("CONFIG_PATH", path)

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "via-env-path", cfg.Auth.APIKey)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := map[string]string{
		"missing api key":    "auth:\n  enabled: true\n",
		"negative ttl":       "auth:\n  api_key: k\ncache:\n  ttl: -1\n",
		"half credentials":   "auth:\n  api_key: k\naws:\n  access_key_id: AKIA\n",
		"bad log level":      "auth:\n  api_key: k\nlogging:\n  level: loud\n",
		"bad prefix":         "auth:\n  api_key: k\nserver:\n  api_prefix: api\n",
		"zero rate":          "auth:\n  api_key: k\nratelimit:\n  requests_per_minute: 0\n",
		"redis without addr": "auth:\n  api_key: k\nredis:\n  enabled: true\n  address: \"\"\n",
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, t.TempDir(), body))
			assert.Error(t, err)
		})
	}
}

func TestLoadAndWatchReloads(t *testing.T) {
	dir := t.TempDir()
	path := writeConfig(t, dir, "auth:\n  api_key: first\nratelimit:\n  requests_per_minute: 60\n")

	store, err := LoadAndWatch(path, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, "first", store.Get().Auth.APIKey)

	reloaded := make(chan *Config, 4)
	store.OnReload(func(c *Config) { reloaded <- c })

	writeConfig(t, dir, "auth:\n  api_key: second\nratelimit:\n  requests_per_minute: 5\n")

	require.Eventually(t, func() bool {
		return store.Get().Auth.APIKey == "second"
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, 5, store.Get().RateLimit.RequestsPerMinute)

	select {
	case c := <-reloaded:
		assert.NotNil(t, c)
	case <-time.After(5 * time.Second):
		t.Fatal("reload listener not called")
	}
}

func TestStoreGetReturnsCopy(t *testing.T) {
	s := NewStore(&Config{Auth: AuthConfig{APIKey: "a"}})
	c := s.Get()
	c.Auth.APIKey = "b"
	assert.Equal(t, "a", s.Get().Auth.APIKey)
}
