package config

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.yaml.in/yaml/v3"
)

func TestLoadDefaults(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("XDG_STATE_HOME", "/var/state")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, "http://localhost:8000", cfg.Service.BaseURL)
	assert.Equal(t, 30*time.Second, cfg.Service.Timeout)
	assert.Equal(t, 3, cfg.Service.MaxRetries)
	assert.Equal(t, []string{"pdf-epub"}, cfg.Upload.AcceptedTypes)
	assert.Equal(t, 30*time.Second, cfg.Upload.StatusDwell)
	assert.False(t, cfg.Upload.VerifyEPUB)
	assert.Equal(t, 200, cfg.Reader.PreviewLength)
	assert.False(t, cfg.Reader.AllowRegenerate)
	assert.True(t, cfg.Reader.NormalizeHTML)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, filepath.Join("/var/state", "tsundoku", "tsundoku.log"), cfg.Log.File)
}

func TestLoadFile(t *testing.T) {
	t.Chdir(t.TempDir())
	path := filepath.Join(t.TempDir(), "custom.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
service:
  base_url: https://books.example.com
  timeout: 5s
upload:
  accepted_types: [pdf, txt]
reader:
  allow_regenerate: true
`), 0o644))

	cfg, err := Load(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, "https://books.example.com", cfg.Service.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Service.Timeout)
	assert.Equal(t, []string{"pdf", "txt"}, cfg.Upload.AcceptedTypes)
	assert.True(t, cfg.Reader.AllowRegenerate)
	assert.Equal(t, 200, cfg.Reader.PreviewLength)
}

func TestLoadSearchPath(t *testing.T) {
	cfgHome := t.TempDir()
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", cfgHome)

	dir := filepath.Join(cfgHome, "tsundoku")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tsundoku.yaml"), []byte("reader:\n  preview_length: 80\n"), 0o644))

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 80, cfg.Reader.PreviewLength)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	t.Setenv("TSUNDOKU_SERVICE_BASE_URL", "http://env:9000")
	t.Setenv("TSUNDOKU_UPLOAD_STATUS_DWELL", "5s")

	cfg, err := Load(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, "http://env:9000", cfg.Service.BaseURL)
	assert.Equal(t, 5*time.Second, cfg.Upload.StatusDwell)
}

func TestLoadMissingExplicitFile(t *testing.T) {
	t.Chdir(t.TempDir())
	_, err := Load(viper.New(), filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestWriteDefaults(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteDefaults(&buf))

	var out map[string]map[string]any
	require.NoError(t, yaml.Unmarshal(buf.Bytes(), &out))
	assert.Equal(t, "http://localhost:8000", out["service"]["base_url"])
	assert.Equal(t, "30s", out["upload"]["status_dwell"])
	assert.Equal(t, 200, out["reader"]["preview_length"])
}
