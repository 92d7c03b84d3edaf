package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := NewLoader().Load()
	require.NoError(t, err)

	assert.Equal(t, 8486, cfg.Server.HTTPPort)
	assert.Equal(t, 30*time.Second, cfg.Edit.AttemptTimeout)
	assert.Equal(t, 2048, cfg.Edit.MaxContextTokens)
	assert.Equal(t, "memory", cfg.History.Store)
	assert.Equal(t, int64(100<<20), cfg.Assets.MaxAssetSize)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.False(t, cfg.Telemetry.Enabled)
	assert.Greater(t, cfg.Backends.OpenRouterPriority, cfg.Backends.GeminiPriority)
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blendai.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  http_port: 9000
backends:
  openrouter:
    api_key: sk-or-file
    model: openchat/openchat-3.5
history:
  store: redis
  ttl: 1h
assets:
  max_asset_size: 1048576
  allow_http: true
`), 0o644))

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9000, cfg.Server.HTTPPort)
	assert.Equal(t, "sk-or-file", cfg.Backends.OpenRouter.APIKey)
	assert.Equal(t, "openchat/openchat-3.5", cfg.Backends.OpenRouter.Model)
	assert.Equal(t, "redis", cfg.History.Store)
	assert.Equal(t, time.Hour, cfg.History.TTL)
	assert.Equal(t, int64(1<<20), cfg.Assets.MaxAssetSize)
	assert.True(t, cfg.Assets.AllowHTTP)
	// Untouched sections keep their defaults.
	assert.Equal(t, 30*time.Second, cfg.Edit.AttemptTimeout)
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := NewLoader().WithConfigPath("/nonexistent/blendai.yaml").Load()
	require.NoError(t, err)
	assert.Equal(t, 8486, cfg.Server.HTTPPort)
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "blendai.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server:\n  http_port: 9000\n"), 0o644))

	t.Setenv("BLENDAI_SERVER_HTTP_PORT", "9100")
	t.Setenv("BLENDAI_BACKENDS_OPENROUTER_API_KEY", "sk-or-env")
	t.Setenv("BLENDAI_EDIT_ATTEMPT_TIMEOUT", "45s")
	t.Setenv("BLENDAI_ASSETS_ALLOW_HTTP", "true")
	t.Setenv("BLENDAI_LOG_OUTPUT_PATHS", "stdout, /var/log/blendai.log")

	cfg, err := NewLoader().WithConfigPath(path).Load()
	require.NoError(t, err)

	assert.Equal(t, 9100, cfg.Server.HTTPPort)
	assert.Equal(t, "sk-or-env", cfg.Backends.OpenRouter.APIKey)
	assert.Equal(t, 45*time.Second, cfg.Edit.AttemptTimeout)
	assert.True(t, cfg.Assets.AllowHTTP)
	assert.Equal(t, []string{"stdout", "/var/log/blendai.log"}, cfg.Log.OutputPaths)
}

func TestLoaderRunsValidators(t *testing.T) {
	_, err := NewLoader().
		WithValidator(func(c *Config) error { return assert.AnError }).
		Load()
	require.Error(t, err)
	assert.ErrorIs(t, err, assert.AnError)
}

func TestValidate(t *testing.T) {
	cfg := DefaultConfig()
	require.NoError(t, cfg.Validate())

	cfg.Server.HTTPPort = 0
	cfg.History.Store = "cassette"
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP port")
	assert.Contains(t, err.Error(), "cassette")
}

func TestInvalidEnvValue(t *testing.T) {
	t.Setenv("BLENDAI_SERVER_HTTP_PORT", "not-a-number")
	_, err := NewLoader().Load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "BLENDAI_SERVER_HTTP_PORT")
}
