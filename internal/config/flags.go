package config

import (
	"github.com/spf13/pflag"
)

// Flags are the command-line overrides shared by the binaries. Only
// flags actually given on the command line override the loaded config.
type Flags struct {
	fs *pflag.FlagSet

	ConfigPath string
	EnvFile    string

	host          string
	port          int
	language      string
	autoSave      bool
	logLevel      string
	logDev        bool
	storageDriver string
	storageDSN    string
}

func RegisterFlags(fs *pflag.FlagSet, defaultConfigPath string) *Flags {
	f := &Flags{fs: fs}
	d := Default()
	fs.StringVarP(&f.ConfigPath, "config", "c", defaultConfigPath, "path to the YAML config file")
	fs.StringVar(&f.EnvFile, "env-file", ".env", "optional .env file with SHANTEN_* variables")
	fs.StringVar(&f.host, "host", d.Backend.Host, "backend host")
	fs.IntVarP(&f.port, "port", "p", d.Backend.Port, "backend port")
	fs.StringVar(&f.language, "language", d.Language, "notification language (zh-CN, ja-JP, en-US)")
	fs.BoolVar(&f.autoSave, "auto-save", false, "save settings automatically after edits")
	fs.StringVar(&f.logLevel, "log-level", d.Log.Level, "debug, info, warn or error")
	fs.BoolVar(&f.logDev, "log-dev", false, "human readable console logs")
	fs.StringVar(&f.storageDriver, "storage-driver", "", "sqlite or postgres; empty disables persistence")
	fs.StringVar(&f.storageDSN, "storage-dsn", "", "storage data source name")
	return f
}

// Apply copies the flags the user set onto cfg.
func (f *Flags) Apply(cfg *Config) {
	if f.fs.Changed("host") {
		cfg.Backend.Host = f.host
	}
	if f.fs.Changed("port") {
		cfg.Backend.Port = f.port
	}
	if f.fs.Changed("language") {
		cfg.Language = f.language
	}
	if f.fs.Changed("auto-save") {
		cfg.Sync.AutoSave = f.autoSave
	}
	if f.fs.Changed("log-level") {
		cfg.Log.Level = f.logLevel
	}
	if f.fs.Changed("log-dev") {
		cfg.Log.Development = f.logDev
	}
	if f.fs.Changed("storage-driver") {
		cfg.Storage.Driver = f.storageDriver
	}
	if f.fs.Changed("storage-dsn") {
		cfg.Storage.DSN = f.storageDSN
	}
}
