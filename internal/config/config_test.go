package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingFileIsCreatedWithDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")
	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)

	again, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
	assert.FileExists(t, path)
}

func TestLoad_FileOverridesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
language: ja-JP
backend:
  port: 9000
sync:
  heartbeat_interval: 2s
  auto_save: true
`), 0o644))

	cfg, err := Load(path, "")
	require.NoError(t, err)
	assert.Equal(t, "ja-JP", cfg.Language)
	assert.Equal(t, 9000, cfg.Backend.Port)
	assert.Equal(t, "127.0.0.1", cfg.Backend.Host, "unset keys keep defaults")
	assert.Equal(t, 2*time.Second, cfg.Sync.HeartbeatInterval)
	assert.True(t, cfg.Sync.AutoSave)
	assert.Equal(t, time.Second, cfg.Sync.ReconnectDelay)
}

func TestLoad_BrokenFileIsAnErrorAndLeftAlone(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("backend: [oops"), 0o644))
	_, err := Load(path, "")
	require.Error(t, err)
	b, _ := os.ReadFile(path)
	assert.Equal(t, "backend: [oops", string(b))
}

func TestLoad_EnvFileAndEnvironment(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(envFile, []byte("SHANTEN_HOST=10.0.0.5\nSHANTEN_PORT=7000\n"), 0o644))
	t.Setenv("SHANTEN_PORT", "7100")
	t.Setenv("SHANTEN_AUTOSAVE", "true")
	// godotenv sets variables process-wide
	t.Cleanup(func() { os.Unsetenv("SHANTEN_HOST") })

	cfg, err := Load("", envFile)
	require.NoError(t, err)
	assert.Equal(t, "10.0.0.5", cfg.Backend.Host)
	assert.Equal(t, 7100, cfg.Backend.Port, "real environment beats .env")
	assert.True(t, cfg.Sync.AutoSave)
}

func TestLoad_BadEnvValue(t *testing.T) {
	t.Setenv("SHANTEN_PORT", "eighty")
	_, err := Load("", "")
	assert.ErrorIs(t, err, ErrInvalid)
}

func TestFlags_OnlyChangedOverride(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	f := RegisterFlags(fs, "config.yaml")
	require.NoError(t, fs.Parse([]string{"--port", "9100", "--auto-save", "--storage-driver=sqlite"}))

	cfg := Default()
	cfg.Backend.Host = "from-file"
	f.Apply(cfg)
	assert.Equal(t, 9100, cfg.Backend.Port)
	assert.Equal(t, "from-file", cfg.Backend.Host)
	assert.True(t, cfg.Sync.AutoSave)
	assert.Equal(t, "sqlite", cfg.Storage.Driver)
	assert.Equal(t, "config.yaml", f.ConfigPath)
}

func TestValidate(t *testing.T) {
	require.NoError(t, Default().Validate())

	cases := map[string]func(*Config){
		"language": func(c *Config) { c.Language = "fr-FR" },
		"theme":    func(c *Config) { c.Theme = "neon" },
		"host":     func(c *Config) { c.Backend.Host = "" },
		"port":     func(c *Config) { c.Backend.Port = 70000 },
		"duration": func(c *Config) { c.Sync.HeartbeatInterval = 0 },
		"driver":   func(c *Config) { c.Storage.Driver = "mongo" },
		"dsn":      func(c *Config) { c.Storage.Driver = "sqlite" },
		"frames":   func(c *Config) { c.Storage.MaxFrames = 0 },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := Default()
			mutate(cfg)
			assert.ErrorIs(t, cfg.Validate(), ErrInvalid)
		})
	}
}

func TestURL(t *testing.T) {
	cfg := Default()
	assert.Equal(t, "ws://127.0.0.1:8787/ws", cfg.URL())
	cfg.Backend.Host = "::1"
	cfg.Backend.Path = ""
	assert.Equal(t, "ws://[::1]:8787/ws", cfg.URL())
}
