package config_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/itswale/api-utils/internal/config"
)

func writeTemp(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "*.yml")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatal(err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_ValidConfig(t *testing.T) {
	path := writeTemp(t, `
server:
  address: ":9090"
  allowed_origins: ["http://localhost:3000"]
storage:
  path: "tests.db"
log:
  level: debug
prober:
  timeout: "3s"
browser:
  driver: static
  navigation_timeout: "12s"
  slow_threshold: "2s"
cache:
  size: 16
  ttl: "1m"
  redis:
    addr: "localhost:6379"
alerts:
  webhook:
    url: "https://hooks.example.com/alert"
    cooldown: "10m"
replay:
  interval: "30s"
tests:
  - kind: api
    url: "https://jsonplaceholder.typicode.com/posts/1"
    method: GET
    headers:
      Accept: application/json
  - kind: ui
    url: "https://example.com"
    checks: [title, status, loadTime]
    search_text: "Example"
`)
	cfg, err := config.Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Server.Address)
	assert.Equal(t, []string{"http://localhost:3000"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "tests.db", cfg.Storage.Path)
	assert.Equal(t, "debug", cfg.Log.Level)
	assert.Equal(t, 3*time.Second, cfg.Prober.Timeout.Duration)
	assert.Equal(t, "static", cfg.Browser.Driver)
	assert.Equal(t, 12*time.Second, cfg.Browser.NavigationTimeout.Duration)
	assert.Equal(t, 2*time.Second, cfg.Browser.SlowThreshold.Duration)
	assert.Equal(t, 16, cfg.Cache.Size)
	assert.Equal(t, time.Minute, cfg.Cache.TTL.Duration)
	assert.Equal(t, "localhost:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, 10*time.Minute, cfg.Alerts.Webhook.Cooldown.Duration)
	assert.Equal(t, 30*time.Second, cfg.Replay.Interval.Duration)
	require.Len(t, cfg.Tests, 2)
	assert.Equal(t, "application/json", cfg.Tests[0].Headers["Accept"])
	assert.Equal(t, []string{"title", "status", "loadTime"}, cfg.Tests[1].Checks)
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load(writeTemp(t, "log:\n  level: warn\n"))
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Server.Address)
	assert.Equal(t, ":memory:", cfg.Storage.Path)
	assert.Equal(t, "warn", cfg.Log.Level)
	assert.Equal(t, 10*time.Second, cfg.Prober.Timeout.Duration)
	assert.Equal(t, "chrome", cfg.Browser.Driver)
	assert.Equal(t, 30*time.Second, cfg.Browser.NavigationTimeout.Duration)
	assert.Equal(t, 5*time.Second, cfg.Browser.SlowThreshold.Duration)
	assert.Equal(t, 128, cfg.Cache.Size)
	assert.Equal(t, 5*time.Minute, cfg.Alerts.Webhook.Cooldown.Duration)
	assert.Zero(t, cfg.Replay.Interval.Duration)
	assert.Empty(t, cfg.Tests)
}

func TestDefault_IsValid(t *testing.T) {
	assert.NoError(t, config.Default().Validate())
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := config.Load(filepath.Join(t.TempDir(), "nope.yml"))
	require.Error(t, err)
	assert.ErrorIs(t, err, fs.ErrNotExist)
}

func TestLoad_Invalid(t *testing.T) {
	tests := map[string]struct {
		yaml string
		want string
	}{
		"bad yaml":         {"server: [", "parsing config"},
		"bad duration":     {"prober:\n  timeout: soon\n", "invalid duration"},
		"zero timeout":     {"prober:\n  timeout: 0s\n", "prober.timeout"},
		"unknown driver":   {"browser:\n  driver: firefox\n", "Driver"},
		"bad log level":    {"log:\n  level: loud\n", "Level"},
		"negative cache":   {"cache:\n  size: -1\n", "Size"},
		"bad webhook url":  {"alerts:\n  webhook:\n    url: not a url\n", "URL"},
		"seed kind":        {"tests:\n  - kind: grpc\n    url: https://example.com\n", "Kind"},
		"seed missing url": {"tests:\n  - kind: api\n", "URL"},
		"seed no checks":   {"tests:\n  - kind: ui\n    url: https://example.com\n", "at least one check"},
		"seed bad check":   {"tests:\n  - kind: ui\n    url: https://example.com\n    checks: [title, colour]\n", "unknown check"},
		"seed bad method":  {"tests:\n  - kind: api\n    url: https://example.com\n    method: PATCH\n", "Method"},
	}
	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := config.Load(writeTemp(t, tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("APIUTILS_SERVER_ADDRESS", ":7070")
	t.Setenv("APIUTILS_SERVER_ALLOWED_ORIGINS", "http://a.test, http://b.test")
	t.Setenv("APIUTILS_LOG_LEVEL", "error")
	t.Setenv("APIUTILS_BROWSER_DRIVER", "static")
	t.Setenv("APIUTILS_BROWSER_HEADFUL", "true")
	t.Setenv("APIUTILS_CACHE_REDIS_ADDR", "redis:6379")
	t.Setenv("APIUTILS_CACHE_SIZE", "0")
	t.Setenv("APIUTILS_REPLAY_INTERVAL", "1m")

	cfg := config.Default()
	require.NoError(t, cfg.ApplyEnv(config.NewViper()))

	assert.Equal(t, ":7070", cfg.Server.Address)
	assert.Equal(t, []string{"http://a.test", "http://b.test"}, cfg.Server.AllowedOrigins)
	assert.Equal(t, "error", cfg.Log.Level)
	assert.Equal(t, "static", cfg.Browser.Driver)
	assert.True(t, cfg.Browser.Headful)
	assert.Equal(t, "redis:6379", cfg.Cache.Redis.Addr)
	assert.Equal(t, 0, cfg.Cache.Size)
	assert.Equal(t, time.Minute, cfg.Replay.Interval.Duration)
	assert.Equal(t, ":memory:", cfg.Storage.Path, "unset variables keep file values")
}

func TestApplyEnv_Invalid(t *testing.T) {
	t.Setenv("APIUTILS_BROWSER_DRIVER", "lynx")

	cfg := config.Default()
	assert.Error(t, cfg.ApplyEnv(config.NewViper()))
}
