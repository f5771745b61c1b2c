// ABOUTME: Configuration loading and parsing for zova-store
// ABOUTME: Supports YAML or TOML files with environment variable expansion and defaults

package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// Config represents the complete zova-store configuration
type Config struct {
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Legacy   LegacyConfig   `yaml:"legacy" toml:"legacy"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// DatabaseConfig holds the store location and worker pool sizing
type DatabaseConfig struct {
	Path      string `yaml:"path" toml:"path"`
	Workers   int    `yaml:"workers" toml:"workers"`
	QueueSize int    `yaml:"queue_size" toml:"queue_size"`

	CallTimeout    time.Duration `yaml:"-" toml:"-"`
	CallTimeoutRaw string        `yaml:"call_timeout" toml:"call_timeout"`
}

// LegacyConfig points at the pre-SQLite conversation list
type LegacyConfig struct {
	Path       string `yaml:"path" toml:"path"`
	AutoImport bool   `yaml:"auto_import" toml:"auto_import"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

const (
	DefaultWorkers     = 2
	DefaultQueueSize   = 64
	DefaultLegacyPath  = ".zova/conversations.tsv"
	DefaultCallTimeout = 30 * time.Second
)

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	cfg.applyDefaults()
	return cfg
}

// Load reads a configuration file from the given path and returns a parsed Config.
// Files ending in .toml are decoded as TOML, everything else as YAML.
// Environment variables in the format ${VAR_NAME} are expanded.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	expanded := expandEnvVars(string(data))

	var cfg Config
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		if _, err := toml.Decode(expanded, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	} else {
		if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

// LoadOrDefault loads path if it exists and falls back to Default otherwise.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return Default(), nil
	}
	return Load(path)
}

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	re := regexp.MustCompile(`\$\{([^}]+)\}`)

	return re.ReplaceAllStringFunc(s, func(match string) string {
		varName := re.FindStringSubmatch(match)[1]
		return os.Getenv(varName)
	})
}

func (c *Config) applyDefaults() {
	if c.Database.Path == "" {
		c.Database.Path = DefaultDatabasePath()
	}
	if c.Database.Workers == 0 {
		c.Database.Workers = DefaultWorkers
	}
	if c.Database.QueueSize == 0 {
		c.Database.QueueSize = DefaultQueueSize
	}
	if c.Database.CallTimeout == 0 {
		c.Database.CallTimeout = DefaultCallTimeout
	}
	if c.Legacy.Path == "" {
		c.Legacy.Path = DefaultLegacyPath
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

// Validate checks that all configuration fields are valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Database.Workers < 1 {
		return fmt.Errorf("database.workers must be at least 1, got %d", c.Database.Workers)
	}
	if c.Database.QueueSize < 1 {
		return fmt.Errorf("database.queue_size must be at least 1, got %d", c.Database.QueueSize)
	}
	if c.Database.CallTimeout < 0 {
		return fmt.Errorf("database.call_timeout must not be negative")
	}

	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		return fmt.Errorf("logging.level %q is not one of debug, info, warn, error", c.Logging.Level)
	}
	switch strings.ToLower(c.Logging.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q is not one of text, json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	if cfg.Database.CallTimeoutRaw != "" {
		d, err := time.ParseDuration(cfg.Database.CallTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing call_timeout %q: %w", cfg.Database.CallTimeoutRaw, err)
		}
		cfg.Database.CallTimeout = d
	}
	return nil
}

// DefaultConfigPath returns the config file location, checking in order:
// 1. ZOVA_CONFIG environment variable
// 2. $XDG_CONFIG_HOME/zova/store.yaml
// 3. ~/.config/zova/store.yaml
func DefaultConfigPath() string {
	if p := os.Getenv("ZOVA_CONFIG"); p != "" {
		return p
	}
	return filepath.Join(xdgDir("XDG_CONFIG_HOME", ".config"), "zova", "store.yaml")
}

// DefaultDatabasePath returns $XDG_DATA_HOME/zova/store.db, falling back to
// ~/.local/share/zova/store.db.
func DefaultDatabasePath() string {
	return filepath.Join(xdgDir("XDG_DATA_HOME", filepath.Join(".local", "share")), "zova", "store.db")
}

func xdgDir(env, fallback string) string {
	if dir := os.Getenv(env); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return fallback
	}
	return filepath.Join(home, fallback)
}
