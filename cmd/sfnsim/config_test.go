package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/sfnsim/pkg/schema"
)

func isolateConfig(t *testing.T) string {
	t.Helper()
	home := t.TempDir()
	t.Setenv("HOME", home)
	for _, k := range []string{
		"SFNSIM_LOG_LEVEL", "SFNSIM_LOG_FORMAT", "SFNSIM_DB_PATH", "SFNSIM_MAX_WAIT_SECONDS",
		"SFNSIM_MAX_CONCURRENCY", "SFNSIM_RESPECT_WAIT_CEILING", "SFNSIM_AWS_REGION", "SFNSIM_METRICS_ADDR",
	} {
		t.Setenv(k, "")
	}
	return home
}

func TestLoadConfig_Defaults(t *testing.T) {
	home := isolateConfig(t)

	cfg, err := loadConfig("")
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "text", cfg.LogFormat)
	assert.Equal(t, filepath.Join(home, ".sfnsim", "sfnsim.db"), cfg.DBPath)
	assert.Equal(t, float64(schema.DefaultMaxWaitSeconds), cfg.MaxWaitSeconds)
	assert.Equal(t, schema.DefaultMaxConcurrency, cfg.MaxConcurrency)
	assert.False(t, cfg.RespectWaitCeiling)
}

func TestLoadConfig_FileThenEnv(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "settings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: debug\nmax_concurrency: 4\nmax_wait_seconds: 2.5\n"), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, 4, cfg.MaxConcurrency)
	assert.Equal(t, 2.5, cfg.MaxWaitSeconds)
	assert.Equal(t, "text", cfg.LogFormat, "absent keys keep their defaults")

	t.Setenv("SFNSIM_MAX_CONCURRENCY", "8")
	t.Setenv("SFNSIM_RESPECT_WAIT_CEILING", "true")
	cfg, err = loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, 8, cfg.MaxConcurrency)
	assert.True(t, cfg.RespectWaitCeiling)
	assert.Equal(t, "debug", cfg.LogLevel)
}

func TestLoadConfig_Errors(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()

	t.Run("explicit missing file", func(t *testing.T) {
		_, err := loadConfig(filepath.Join(dir, "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("unknown key", func(t *testing.T) {
		path := filepath.Join(dir, "unknown.yaml")
		require.NoError(t, os.WriteFile(path, []byte("pool_size: 3\n"), 0o644))
		_, err := loadConfig(path)
		assert.ErrorContains(t, err, "pool_size")
	})

	t.Run("bad env number", func(t *testing.T) {
		t.Setenv("SFNSIM_MAX_WAIT_SECONDS", "soon")
		_, err := loadConfig("")
		assert.ErrorContains(t, err, "SFNSIM_MAX_WAIT_SECONDS")
	})
}

func TestWriteConfig_RoundTrip(t *testing.T) {
	isolateConfig(t)
	path := filepath.Join(t.TempDir(), "nested", "settings.yaml")
	want := defaultConfig()
	want.MaxConcurrency = 3
	want.MetricsAddr = ":9100"

	require.NoError(t, writeConfig(path, want))
	got, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestConfig_RuntimeOptions(t *testing.T) {
	cfg := Config{MaxWaitSeconds: 0, MaxConcurrency: 0, RespectWaitCeiling: true}
	opts := cfg.RuntimeOptions()
	assert.Equal(t, float64(schema.DefaultMaxWaitSeconds), opts.MaxWaitSeconds)
	assert.Equal(t, schema.DefaultMaxConcurrency, opts.MaxConcurrency)
	assert.True(t, opts.RespectWaitCeiling)
}
