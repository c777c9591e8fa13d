// Package config provides YAML-based configuration loading for twlv.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

// Config is the root application configuration.
type Config struct {
	// AppName optional logical name of the node/application
	AppName string `mapstructure:"app_name"`

	// NetworkID names the mesh this node participates in; announces from
	// other networks are ignored
	NetworkID string `mapstructure:"network_id"`

	// DataDir base directory for persistent data
	DataDir string `mapstructure:"data_dir"`

	// Log holds logging configuration
	Log LogConfig `mapstructure:"log"`

	// Transports list to configure multiple inbound/outbound links
	Transports []TransportConfig `mapstructure:"transports"`

	// Identity controls the node key material
	Identity IdentityConfig `mapstructure:"identity"`

	// Net holds dial/relay tuning options
	Net NetConfig `mapstructure:"net"`

	// Peers controls the in-memory peer table
	Peers PeersConfig `mapstructure:"peers"`

	// Directory controls the persistent announce store
	Directory DirectoryConfig `mapstructure:"directory"`
}

// LogConfig defines logger settings.
type LogConfig struct {
	// Level: debug, info, warn, error
	Level string `mapstructure:"level"`
	// Format: console or json
	Format string `mapstructure:"format"`
	// Outputs: list of outputs: stdout, stderr, or file paths
	Outputs []string `mapstructure:"outputs"`

	// Rotation controls file rotation when writing to files
	Rotation RotationConfig `mapstructure:"rotation"`
	// Development toggles development-friendly logging options
	Development bool `mapstructure:"development"`
}

// RotationConfig controls log file rotation for file outputs.
type RotationConfig struct {
	Enable     bool   `mapstructure:"enable"`
	Filename   string `mapstructure:"filename"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// Default returns a Config populated with sensible defaults.
func Default() *Config {
	return &Config{
		AppName:   "twlv-node",
		NetworkID: "twlv",
		DataDir:   "./data",
		Log: LogConfig{
			Level:       "info",
			Format:      "console",
			Outputs:     []string{"stdout"},
			Development: true,
			Rotation: RotationConfig{
				Enable:     false,
				Filename:   "logs/twlv.log",
				MaxSizeMB:  50,
				MaxBackups: 3,
				MaxAgeDays: 28,
				Compress:   true,
			},
		},
		Transports: []TransportConfig{
			{
				Proto:  "tcp",
				Listen: []string{":7470"},
			},
		},
		Identity: IdentityConfig{},
		Net: NetConfig{
			DialBackoffInitialMS: 500,
			DialBackoffMaxMS:     30000,
			DialBackoffJitterMS:  100,
			AnnounceMaxSkewMS:    300000,
			DedupTTLMS:           120000,
			DefaultTTL:           8,
		},
		Peers:     PeersConfig{TTLSeconds: 300},
		Directory: DirectoryConfig{},
	}
}

// Load reads configuration from the provided path (if non-empty),
// otherwise it searches common locations and supports environment overrides.
// Environment variables use the prefix TWLV and `.`/`-` are replaced with `_`.
// Example: TWLV_LOG_LEVEL=debug
func Load(path string) (*Config, error) {
	cfg := Default()

	v := viper.New()
	v.SetConfigType("yaml")
	v.SetEnvPrefix("TWLV")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	// seed defaults for viper so env-only configs work
	v.SetDefault("app_name", cfg.AppName)
	v.SetDefault("network_id", cfg.NetworkID)
	v.SetDefault("data_dir", cfg.DataDir)
	v.SetDefault("log.level", cfg.Log.Level)
	v.SetDefault("log.format", cfg.Log.Format)
	v.SetDefault("log.outputs", cfg.Log.Outputs)
	v.SetDefault("log.development", cfg.Log.Development)
	v.SetDefault("log.rotation.enable", cfg.Log.Rotation.Enable)
	v.SetDefault("log.rotation.filename", cfg.Log.Rotation.Filename)
	v.SetDefault("log.rotation.max_size_mb", cfg.Log.Rotation.MaxSizeMB)
	v.SetDefault("log.rotation.max_backups", cfg.Log.Rotation.MaxBackups)
	v.SetDefault("log.rotation.max_age_days", cfg.Log.Rotation.MaxAgeDays)
	v.SetDefault("log.rotation.compress", cfg.Log.Rotation.Compress)
	v.SetDefault("transports", cfg.Transports)
	v.SetDefault("identity.key_file", cfg.Identity.KeyFile)
	v.SetDefault("net.dial_backoff_initial_ms", cfg.Net.DialBackoffInitialMS)
	v.SetDefault("net.dial_backoff_max_ms", cfg.Net.DialBackoffMaxMS)
	v.SetDefault("net.dial_backoff_jitter_ms", cfg.Net.DialBackoffJitterMS)
	v.SetDefault("net.announce_max_skew_ms", cfg.Net.AnnounceMaxSkewMS)
	v.SetDefault("net.dedup_ttl_ms", cfg.Net.DedupTTLMS)
	v.SetDefault("net.default_ttl", cfg.Net.DefaultTTL)
	v.SetDefault("net.relay_rate_bytes", cfg.Net.RelayRateBytes)
	v.SetDefault("net.relay_burst_bytes", cfg.Net.RelayBurstBytes)
	v.SetDefault("peers.ttl_seconds", cfg.Peers.TTLSeconds)
	v.SetDefault("directory.path", cfg.Directory.Path)

	// Choose config file
	if path == "" {
		// Allow override via env var
		if envPath := os.Getenv("TWLV_CONFIG"); envPath != "" {
			path = envPath
		}
	}

	if path != "" {
		v.SetConfigFile(path)
	} else {
		// Search common locations with base name `twlv`
		v.SetConfigName("twlv")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
		if home, err := os.UserHomeDir(); err == nil {
			v.AddConfigPath(filepath.Join(home, ".twlv"))
		}
	}

	// Read config file if present; if not found, continue with defaults/env
	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	lvl := strings.ToLower(strings.TrimSpace(c.Log.Level))
	switch lvl {
	case "debug", "info", "warn", "warning", "error":
		// ok
	default:
		return fmt.Errorf("invalid log.level: %q", c.Log.Level)
	}

	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if len(c.Log.Outputs) == 0 {
		c.Log.Outputs = []string{"stdout"}
	}
	if strings.TrimSpace(c.NetworkID) == "" {
		c.NetworkID = "twlv"
	}
	for i := range c.Transports {
		c.Transports[i].Proto = strings.ToLower(strings.TrimSpace(c.Transports[i].Proto))
		if c.Transports[i].Proto == "" {
			return fmt.Errorf("transports[%d]: missing proto", i)
		}
	}
	if c.Peers.TTLSeconds <= 0 {
		c.Peers.TTLSeconds = 300
	}
	if c.Net.DefaultTTL == 0 {
		c.Net.DefaultTTL = 8
	}
	if strings.TrimSpace(c.Directory.Path) == "" {
		c.Directory.Path = filepath.Join(c.DataDir, "directory.db")
	}
	return nil
}

// MustLoad is a convenience that panics on error.
func MustLoad(path string) *Config {
	cfg, err := Load(path)
	if err != nil {
		panic(err)
	}
	return cfg
}
