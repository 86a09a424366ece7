package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func chdirTemp(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })
	return dir
}

func TestLoad_Defaults(t *testing.T) {
	chdirTemp(t)

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "http://localhost:8080", cfg.Server.BaseURL)
	assert.Equal(t, 6, cfg.Shortener.CodeLength)
	assert.Equal(t, 3, cfg.Shortener.MaxAttempts)
	assert.Equal(t, 3, cfg.Shortener.CustomMinLength)
	assert.Equal(t, "day", cfg.Analytics.UniqueWindow)
	assert.Equal(t, 100, cfg.Analytics.RecentLimit)
	assert.Equal(t, int64(1000), cfg.Earnings.BaseRateMicros)
	assert.Equal(t, 50*time.Millisecond, cfg.GeoIP.Timeout)
	assert.Equal(t, "nats", cfg.Clicks.Dispatch)
	assert.False(t, cfg.IsProduction())
}

func TestLoad_YAMLAndEnvOverride(t *testing.T) {
	dir := chdirTemp(t)

	yaml := []byte(`
server:
  port: 9000
  base_url: https://lp.example/
shortener:
  code_length: 8
postgres:
  host: db.internal
`)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), yaml, 0o600))

	t.Setenv("PG_HOST", "pg.override")
	t.Setenv("APP_ENV", "production")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, "https://lp.example", cfg.Server.BaseURL)
	assert.Equal(t, 8, cfg.Shortener.CodeLength)
	assert.Equal(t, "pg.override", cfg.Postgres.Host)
	assert.True(t, cfg.IsProduction())
}
