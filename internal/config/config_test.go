package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func isolate(t *testing.T) {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	t.Setenv(PathEnvVar, "")
	t.Setenv("CHIRON_API_BASE_URL", "")
	t.Setenv("NEXT_PUBLIC_API_BASE_URL", "")
}

func TestLoad_Defaults(t *testing.T) {
	isolate(t)

	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, DefaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Stream.BaseDelay)
	assert.Equal(t, 30*time.Second, cfg.Stream.MaxDelay)
	assert.Equal(t, 45*time.Second, cfg.Sync.MinInterval)
	assert.Equal(t, 30*time.Minute, cfg.Cache.MaxAge)
	assert.Equal(t, 24*time.Hour, cfg.Cache.Retention)
	assert.Equal(t, "http://localhost:8000/api/v1/dashboard/summary", cfg.SummaryURL())
	assert.Equal(t, "http://localhost:8000/api/v1/dashboard/stream", cfg.StreamURL())
}

func TestLoad_FileThenEnv(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "chiron.yml")
	require.NoError(t, os.WriteFile(path, []byte(`
api:
  base_url: http://file.example:9000/
stream:
  transport: websocket
  max_delay: 1m
sync:
  min_interval: 10s
`), 0o644))

	t.Setenv("CHIRON_STREAM_ENABLED", "false")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "http://file.example:9000", cfg.API.BaseURL, "trailing slash trimmed")
	assert.Equal(t, "websocket", cfg.Stream.Transport)
	assert.Equal(t, time.Minute, cfg.Stream.MaxDelay)
	assert.Equal(t, 10*time.Second, cfg.Sync.MinInterval)
	assert.False(t, cfg.Stream.Enabled)
}

func TestLoad_EnvPrecedence(t *testing.T) {
	isolate(t)

	t.Setenv("NEXT_PUBLIC_API_BASE_URL", "http://legacy:8000")
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://legacy:8000", cfg.API.BaseURL)

	t.Setenv("CHIRON_API_BASE_URL", "http://chiron:8000")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://chiron:8000", cfg.API.BaseURL)
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	isolate(t)
	_, err := Load(filepath.Join(t.TempDir(), "nope.yml"))
	assert.Error(t, err)
}

func TestValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"bad scheme":      func(c *Config) { c.API.BaseURL = "ftp://x" },
		"no host":         func(c *Config) { c.API.BaseURL = "http://" },
		"zero interval":   func(c *Config) { c.Sync.MinInterval = 0 },
		"max below base":  func(c *Config) { c.Stream.MaxDelay = time.Second },
		"unknown backend": func(c *Config) { c.Cache.Backend = "redis" },
		"unknown stream":  func(c *Config) { c.Stream.Transport = "grpc" },
		"retention short": func(c *Config) { c.Cache.Retention = time.Minute },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.Error(t, cfg.Validate())
		})
	}
	assert.NoError(t, Default().Validate())
}

func TestSave_RoundTrip(t *testing.T) {
	isolate(t)

	cfg := Default()
	cfg.API.BaseURL = "https://dash.example"
	cfg.Sync.MinInterval = 90 * time.Second

	path := filepath.Join(t.TempDir(), "nested", "config.yml")
	require.NoError(t, cfg.Save(path))

	raw, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "min_interval: 1m30s")

	back, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg.API.BaseURL, back.API.BaseURL)
	assert.Equal(t, cfg.Sync.MinInterval, back.Sync.MinInterval)
	assert.Equal(t, cfg.Cache.Retention, back.Cache.Retention)
}

func TestLoad_EmptyEnvDoesNotMask(t *testing.T) {
	isolate(t)

	path := filepath.Join(t.TempDir(), "chiron.yml")
	require.NoError(t, os.WriteFile(path, []byte("api:\n  base_url: https://file.example\nstream:\n  enabled: false\n"), 0o644))

	t.Setenv("CHIRON_API_BASE_URL", "")
	t.Setenv("CHIRON_STREAM_ENABLED", " ")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://file.example", cfg.API.BaseURL)
	assert.False(t, cfg.Stream.Enabled)

	t.Setenv("NEXT_PUBLIC_API_BASE_URL", "http://legacy:8000")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, "http://legacy:8000", cfg.API.BaseURL, "an empty CHIRON_API_BASE_URL leaves the legacy value")
}
