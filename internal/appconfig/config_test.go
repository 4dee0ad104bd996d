package appconfig

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/zhangzqs/pagedlist-go"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0600))
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	cfg, err = Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.NoError(t, err)
	assert.Equal(t, 20, cfg.Paging.PageSize)
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, `
logging:
  level: DEBUG
paging:
  page_size: 10
  prefetch_distance: 5
  initial_load_size_hint: 30
remote:
  endpoint: https://api.example.com/repositories
  retry_wait_max: 2s
  rate_limit: 4.5
  fetch_retries: 0
  prefetch: true
  page_cache_ttl: 30s
cache:
  dir: /var/lib/pagedemo
  stale_after: 1m
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.Logging.Level)
	assert.Equal(t, "console", cfg.Logging.Format)
	assert.Equal(t, pagedlist.Config{PageSize: 10, PrefetchDistance: 5, InitialLoadSizeHint: 30}, cfg.Paging)
	assert.Equal(t, "https://api.example.com/repositories", cfg.Remote.Endpoint)
	assert.Equal(t, "since", cfg.Remote.CursorParam)
	assert.Equal(t, 2*time.Second, cfg.Remote.RetryWaitMax)
	assert.InDelta(t, 4.5, cfg.Remote.RateLimit, 1e-9)
	assert.Equal(t, 1, cfg.Remote.Shards)
	assert.Zero(t, cfg.Remote.FetchRetries)
	assert.True(t, cfg.Remote.Prefetch)
	assert.Equal(t, 30*time.Second, cfg.Remote.PageCacheTTL)
	assert.Equal(t, "/var/lib/pagedemo", cfg.Cache.Dir)
	assert.Equal(t, time.Minute, cfg.Cache.StaleAfter)
}

func TestLoadEnvOverridesFile(t *testing.T) {
	path := writeConfig(t, "paging:\n  page_size: 10\n")
	t.Setenv("PAGEDEMO_PAGING_PAGE_SIZE", "15")
	t.Setenv("PAGEDEMO_REMOTE_SHARDS", "3")
	t.Setenv("PAGEDEMO_REMOTE_PREFETCH", "true")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 15, cfg.Paging.PageSize)
	assert.Equal(t, 3, cfg.Remote.Shards)
	assert.True(t, cfg.Remote.Prefetch)
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{"zero page size", "paging:\n  page_size: 0\n"},
		{"bad level", "logging:\n  level: verbose\n"},
		{"bad endpoint", "remote:\n  endpoint: not a url\n"},
		{"wait bounds", "remote:\n  retry_wait_min: 2s\n  retry_wait_max: 1s\n"},
		{"too many shards", "remote:\n  shards: 64\n"},
		{"negative fetch retries", "remote:\n  fetch_retries: -1\n"},
		{"negative page cache ttl", "remote:\n  page_cache_ttl: -1s\n"},
		{"bad addr", "server:\n  addr: nowhere\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.content))
			assert.ErrorContains(t, err, "configuration validation failed")
		})
	}
}

func TestLoadMalformedFile(t *testing.T) {
	_, err := Load(writeConfig(t, "paging: [\n"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestValidatePagingConfig(t *testing.T) {
	cfg := Default()
	cfg.Paging.PrefetchDistance = -1
	assert.ErrorIs(t, Validate(cfg), pagedlist.ErrInvalidConfig)
}
