// Package config loads the ambient Service Config (directories, server
// timeouts, watcher/fetch/worker tuning, logging) from built-in defaults,
// a config file, and environment variables, in that order of precedence
// (lowest to highest).
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the ambient configuration for the generation control plane
// service, distinct from a per-calendar Configuration Record.
type Config struct {
	Server       ServerConfig       `mapstructure:"server"`
	Directories  DirectoriesConfig  `mapstructure:"directories"`
	Watcher      WatcherConfig      `mapstructure:"watcher"`
	Worker       WorkerConfig       `mapstructure:"worker"`
	Fetch        FetchConfig        `mapstructure:"fetch"`
	Log          LogConfig          `mapstructure:"log"`
	Metrics      MetricsConfig      `mapstructure:"metrics"`
}

// ServerConfig holds the HTTP Front Door's listener settings.
type ServerConfig struct {
	Port            int           `mapstructure:"port"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	IdleTimeout     time.Duration `mapstructure:"idle_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DirectoriesConfig holds the two filesystem roots the service owns.
type DirectoriesConfig struct {
	Config string `mapstructure:"config"`
	Cache  string `mapstructure:"cache"`
}

// WatcherConfig tunes the Config Watcher's polling sweep and debounce.
type WatcherConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	Debounce     time.Duration `mapstructure:"debounce"`
}

// WorkerConfig tunes the Worker Dispatch subprocess timeout.
type WorkerConfig struct {
	Timeout time.Duration `mapstructure:"timeout"`
}

// FetchConfig tunes the ICS and Auxiliary Fetcher HTTP timeouts.
type FetchConfig struct {
	ICSTimeout time.Duration `mapstructure:"ics_timeout"`
	AuxTimeout time.Duration `mapstructure:"aux_timeout"`
}

// LogConfig mirrors pkg/logger.Config's shape so it can be passed straight
// through to logger.NewLogger.
type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Output     string `mapstructure:"output"`
	Filename   string `mapstructure:"filename"`
	MaxSize    int    `mapstructure:"max_size"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAge     int    `mapstructure:"max_age"`
	Compress   bool   `mapstructure:"compress"`
}

// MetricsConfig toggles the Prometheus /metrics endpoint.
type MetricsConfig struct {
	Enabled bool `mapstructure:"enabled"`
}

// Load reads configuration from configPath (if non-empty and present),
// overlays environment variables (prefixed C2I_, nested keys joined with
// underscores), and falls back to the defaults set below.
func Load(configPath string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("C2I")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// An explicitly empty variable counts as set, so an empty config
	// directory fails Validate instead of falling back to the default.
	v.AllowEmptyEnv(true)

	// CONFIG_DIR and CACHE_DIR are bound verbatim (unprefixed), distinct
	// from the rest of the ambient config's C2I_-prefixed convention.
	_ = v.BindEnv("directories.config", "CONFIG_DIR")
	_ = v.BindEnv("directories.cache", "CACHE_DIR")

	if configPath != "" {
		v.SetConfigFile(configPath)
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return nil, fmt.Errorf("reading config file %q: %w", configPath, err)
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &cfg, nil
}

// Validate checks the invariants Load cannot express through defaults
// alone: a missing config directory is fatal at startup.
func (c *Config) Validate() error {
	if c.Directories.Config == "" {
		return fmt.Errorf("directories.config (CONFIG_DIR) must be set")
	}
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d is out of range", c.Server.Port)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 3000)
	v.SetDefault("server.read_timeout", "15s")
	v.SetDefault("server.write_timeout", "15s")
	v.SetDefault("server.idle_timeout", "60s")
	v.SetDefault("server.shutdown_timeout", "10s")

	v.SetDefault("directories.config", "/config/calendar2image")
	v.SetDefault("directories.cache", "./cache")

	v.SetDefault("watcher.poll_interval", "2s")
	v.SetDefault("watcher.debounce", "150ms")

	v.SetDefault("worker.timeout", "30s")

	v.SetDefault("fetch.ics_timeout", "30s")
	v.SetDefault("fetch.aux_timeout", "5s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.output", "stdout")

	v.SetDefault("metrics.enabled", true)
}
