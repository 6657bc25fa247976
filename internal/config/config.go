// Package config loads shokaid configuration from file and environment.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/spf13/viper"
)

// Config holds all daemon configuration
type Config struct {
	Storage StorageConfig `mapstructure:"storage"`
	API     APIConfig     `mapstructure:"api"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Bridge  BridgeConfig  `mapstructure:"bridge"`
	Logging LoggingConfig `mapstructure:"logging"`
}

// StorageConfig holds cache database configuration
type StorageConfig struct {
	Path      string        `mapstructure:"path"`      // SQLite database file
	Retention time.Duration `mapstructure:"retention"` // Cache validity window
}

// APIConfig holds AniList API configuration
type APIConfig struct {
	URL       string `mapstructure:"url"`        // GraphQL endpoint
	TokenPath string `mapstructure:"token_path"` // OAuth token file written by the desktop shell
}

// SyncConfig holds sync manager timing configuration
type SyncConfig struct {
	AutoInterval  time.Duration `mapstructure:"auto_interval"`  // Periodic drain interval
	ProbeInterval time.Duration `mapstructure:"probe_interval"` // Connectivity probe interval
	Debounce      time.Duration `mapstructure:"debounce"`       // Delay after offline->online before draining
	MaxAttempts   int           `mapstructure:"max_attempts"`   // Attempts before an item is considered stalled
}

// BridgeConfig holds host bridge server configuration
type BridgeConfig struct {
	Port int `mapstructure:"port"` // Localhost port for the shell API
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	Console    bool   `mapstructure:"console"` // Also log to stderr
}

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Storage: StorageConfig{
			Path:      filepath.Join(defaultDataPath(), "library.db"),
			Retention: 7 * 24 * time.Hour,
		},
		API: APIConfig{
			URL:       "https://graphql.anilist.co",
			TokenPath: filepath.Join(defaultDataPath(), "token"),
		},
		Sync: SyncConfig{
			AutoInterval:  5 * time.Minute,
			ProbeInterval: 15 * time.Second,
			Debounce:      2 * time.Second,
			MaxAttempts:   10,
		},
		Bridge: BridgeConfig{
			Port: 8790,
		},
		Logging: LoggingConfig{
			File:       filepath.Join(defaultDataPath(), "shokaid.log"),
			MaxSizeMB:  10,
			MaxBackups: 3,
			Console:    false,
		},
	}
}

// defaultDataPath returns the data directory for the current OS
func defaultDataPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "shokaishelf")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".local", "share", "shokaishelf")
	}
}

// defaultConfigPath returns the config file directory for the current OS
func defaultConfigPath() string {
	switch runtime.GOOS {
	case "windows":
		return filepath.Join(os.Getenv("APPDATA"), "shokaishelf")
	default:
		home, _ := os.UserHomeDir()
		return filepath.Join(home, ".config", "shokaishelf")
	}
}

// Load reads configuration from file and environment.
// A missing config file is not an error; defaults apply.
func Load() (*Config, error) {
	cfg := DefaultConfig()

	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(defaultConfigPath())
	viper.AddConfigPath(".")

	// Environment variable overrides, e.g. SHOKAI_BRIDGE_PORT
	viper.SetEnvPrefix("SHOKAI")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("error reading config file: %w", err)
		}
	}

	if err := viper.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("error parsing config: %w", err)
	}

	return cfg, cfg.Validate()
}

// Validate checks configuration for values that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required")
	}
	if c.Storage.Retention <= 0 {
		return fmt.Errorf("storage.retention must be positive (got %s)", c.Storage.Retention)
	}
	if c.API.URL == "" {
		return fmt.Errorf("api.url is required")
	}
	if c.Sync.MaxAttempts <= 0 {
		return fmt.Errorf("sync.max_attempts must be positive (got %d)", c.Sync.MaxAttempts)
	}
	if c.Bridge.Port <= 0 || c.Bridge.Port > 65535 {
		return fmt.Errorf("bridge.port must be a valid port (got %d)", c.Bridge.Port)
	}
	return nil
}

// Save writes the current configuration to the config file.
func Save(cfg *Config) error {
	configPath := defaultConfigPath()
	if err := os.MkdirAll(configPath, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	viper.Set("storage.path", cfg.Storage.Path)
	viper.Set("storage.retention", cfg.Storage.Retention.String())
	viper.Set("api.url", cfg.API.URL)
	viper.Set("api.token_path", cfg.API.TokenPath)
	viper.Set("sync.auto_interval", cfg.Sync.AutoInterval.String())
	viper.Set("sync.probe_interval", cfg.Sync.ProbeInterval.String())
	viper.Set("sync.debounce", cfg.Sync.Debounce.String())
	viper.Set("sync.max_attempts", cfg.Sync.MaxAttempts)
	viper.Set("bridge.port", cfg.Bridge.Port)
	viper.Set("logging.file", cfg.Logging.File)
	viper.Set("logging.max_size_mb", cfg.Logging.MaxSizeMB)
	viper.Set("logging.max_backups", cfg.Logging.MaxBackups)
	viper.Set("logging.console", cfg.Logging.Console)

	configFile := filepath.Join(configPath, "config.yaml")
	if err := viper.WriteConfigAs(configFile); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
