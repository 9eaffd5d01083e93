package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinaga/factengine/pkg/config"
)

func TestLoad_DefaultsWithNoFile(t *testing.T) {
	cfg, err := config.Load("")
	require.NoError(t, err)
	assert.Equal(t, config.DefaultHTTPTimeoutSeconds, cfg.HTTPTimeoutSeconds)
	assert.Equal(t, config.DefaultQueueProcessingDelayMs, cfg.QueueProcessingDelayMs)
	assert.Equal(t, config.DefaultFeedRefreshIntervalSecs, cfg.FeedRefreshIntervalSeconds)
	assert.Empty(t, cfg.HTTPEndpoint)
	assert.Empty(t, cfg.LocalStore)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "factengine.yaml")
	contents := "httpEndpoint: https://peer.example.com\n" +
		"localStore: /var/lib/factengine\n" +
		"httpTimeoutSeconds: 5\n"
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o644))

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://peer.example.com", cfg.HTTPEndpoint)
	assert.Equal(t, "/var/lib/factengine", cfg.LocalStore)
	assert.Equal(t, 5, cfg.HTTPTimeoutSeconds)
	assert.Equal(t, config.DefaultQueueProcessingDelayMs, cfg.QueueProcessingDelayMs)
}

func TestLoad_MissingFileFallsBackToDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	require.NoError(t, err)
	assert.Equal(t, config.DefaultHTTPTimeoutSeconds, cfg.HTTPTimeoutSeconds)
}

func TestLoad_EnvOverridesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "factengine.yaml")
	require.NoError(t, os.WriteFile(path, []byte("httpEndpoint: https://from-file.example.com\n"), 0o644))

	t.Setenv("FACTENGINE_HTTP_ENDPOINT", "https://from-env.example.com")

	cfg, err := config.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "https://from-env.example.com", cfg.HTTPEndpoint)
}
