// Package config loads the companion configuration.
//
// Sources, later ones winning: built-in defaults, the YAML config file
// (written with defaults when missing), a .env file, SHANTEN_*
// environment variables, and command-line flags.
package config

import (
	"errors"
	"fmt"
	"maps"
	"net"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const EnvPrefix = "SHANTEN_"

var ErrInvalid = errors.New("invalid config")

var (
	Languages = []string{"zh-CN", "ja-JP", "en-US"}
	Themes    = []string{"light", "dark", "system"}
	Drivers   = []string{"", "sqlite", "postgres"}
)

type Config struct {
	Language string        `yaml:"language"`
	Theme    string        `yaml:"theme"`
	Backend  BackendConfig `yaml:"backend"`
	Sync     SyncConfig    `yaml:"sync"`
	Log      LogConfig     `yaml:"log"`
	Storage  StorageConfig `yaml:"storage"`
}

type BackendConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	// Path is the websocket endpoint on the backend.
	Path string `yaml:"path"`
}

type SyncConfig struct {
	ReconnectDelay     time.Duration `yaml:"reconnect_delay"`
	HeartbeatInterval  time.Duration `yaml:"heartbeat_interval"`
	DialTimeout        time.Duration `yaml:"dial_timeout"`
	WriteTimeout       time.Duration `yaml:"write_timeout"`
	RequestUpdateDelay time.Duration `yaml:"request_update_delay"`
	SaveCooldown       time.Duration `yaml:"save_cooldown"`
	// AutoSave replaces explicit save/discard with the idle-debounce policy.
	AutoSave     bool          `yaml:"auto_save"`
	SaveDebounce time.Duration `yaml:"save_debounce"`
	IdleAfter    time.Duration `yaml:"idle_after"`
}

type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
	File        string `yaml:"file"`
}

type StorageConfig struct {
	// Driver is "sqlite", "postgres" or empty for no persistence.
	Driver    string `yaml:"driver"`
	DSN       string `yaml:"dsn"`
	MaxFrames int    `yaml:"max_frames"`
}

func Default() *Config {
	return &Config{
		Language: "zh-CN",
		Theme:    "system",
		Backend:  BackendConfig{Host: "127.0.0.1", Port: 8787, Path: "/ws"},
		Sync: SyncConfig{
			ReconnectDelay:     time.Second,
			HeartbeatInterval:  5 * time.Second,
			DialTimeout:        5 * time.Second,
			WriteTimeout:       3 * time.Second,
			RequestUpdateDelay: 200 * time.Millisecond,
			SaveCooldown:       800 * time.Millisecond,
			SaveDebounce:       600 * time.Millisecond,
			IdleAfter:          1200 * time.Millisecond,
		},
		Log:     LogConfig{Level: "info"},
		Storage: StorageConfig{MaxFrames: 2000},
	}
}

// Load reads path over the defaults, creating it with the defaults if
// it does not exist, then applies envFile (if present) and the process
// environment. An empty path skips the file.
func Load(path, envFile string) (*Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.readFile(path); err != nil {
			return nil, err
		}
	}
	if envFile != "" {
		if _, err := os.Stat(envFile); err == nil {
			// existing variables win over the file
			if err := godotenv.Load(envFile); err != nil {
				return nil, fmt.Errorf("load %s: %w", envFile, err)
			}
		}
	}
	if err := cfg.applyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) readFile(path string) error {
	b, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return c.Save(path)
	}
	if err != nil {
		return fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(b, c); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return nil
}

// Save writes c as YAML, creating parent directories.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	b, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if v, ok := lookup(EnvPrefix + name); ok {
			*dst = v
		}
	}
	var errs []error
	num := func(name string, dst *int) {
		if v, ok := lookup(EnvPrefix + name); ok {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = n
		}
	}
	flag := func(name string, dst *bool) {
		if v, ok := lookup(EnvPrefix + name); ok {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s%s: %w", EnvPrefix, name, err))
				return
			}
			*dst = b
		}
	}

	str("LANGUAGE", &c.Language)
	str("THEME", &c.Theme)
	str("HOST", &c.Backend.Host)
	num("PORT", &c.Backend.Port)
	flag("AUTOSAVE", &c.Sync.AutoSave)
	str("LOG_LEVEL", &c.Log.Level)
	flag("LOG_DEV", &c.Log.Development)
	str("LOG_FILE", &c.Log.File)
	str("STORAGE_DRIVER", &c.Storage.Driver)
	str("STORAGE_DSN", &c.Storage.DSN)

	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

func (c *Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}
	if !slices.Contains(Languages, c.Language) {
		bad("language %q not one of %s", c.Language, strings.Join(Languages, ", "))
	}
	if !slices.Contains(Themes, c.Theme) {
		bad("theme %q not one of %s", c.Theme, strings.Join(Themes, ", "))
	}
	if c.Backend.Host == "" {
		bad("backend host is empty")
	}
	if c.Backend.Port < 1 || c.Backend.Port > 65535 {
		bad("backend port %d out of range", c.Backend.Port)
	}
	durations := map[string]time.Duration{
		"reconnect_delay":      c.Sync.ReconnectDelay,
		"heartbeat_interval":   c.Sync.HeartbeatInterval,
		"dial_timeout":         c.Sync.DialTimeout,
		"write_timeout":        c.Sync.WriteTimeout,
		"request_update_delay": c.Sync.RequestUpdateDelay,
		"save_cooldown":        c.Sync.SaveCooldown,
		"save_debounce":        c.Sync.SaveDebounce,
		"idle_after":           c.Sync.IdleAfter,
	}
	for _, name := range slices.Sorted(maps.Keys(durations)) {
		if durations[name] <= 0 {
			bad("sync.%s must be positive", name)
		}
	}
	if !slices.Contains(Drivers, c.Storage.Driver) {
		bad("storage driver %q not supported", c.Storage.Driver)
	}
	if c.Storage.Driver != "" && c.Storage.DSN == "" {
		bad("storage dsn is empty")
	}
	if c.Storage.MaxFrames <= 0 {
		bad("storage max_frames must be positive")
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalid, errors.Join(errs...))
	}
	return nil
}

// URL is the backend websocket endpoint.
func (c *Config) URL() string {
	path := c.Backend.Path
	if path == "" {
		path = "/ws"
	}
	u := url.URL{
		Scheme: "ws",
		Host:   net.JoinHostPort(c.Backend.Host, strconv.Itoa(c.Backend.Port)),
		Path:   path,
	}
	return u.String()
}
