package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// LoggingConfig mirrors internal/logging.Config field-for-field so
// logging.FromStruct can duck-type it without this package importing
// internal/logging.
type LoggingConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"`
	MaxSize    int    `yaml:"max_size"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAge     int    `yaml:"max_age"`
	Console    bool   `yaml:"console"`
	JSON       bool   `yaml:"json"`
}

// CacheConfig configures the badger-backed probe-result cache.
type CacheConfig struct {
	Enabled              bool          `yaml:"enabled"`
	Path                 string        `yaml:"path"`
	MaxMemoryMB          int           `yaml:"max_memory_mb"`
	ValueLogMaxMB        int           `yaml:"value_log_max_mb"`
	CompactL0            bool          `yaml:"compact_l0"`
	NumGoroutines        int           `yaml:"num_goroutines"`
	GCInterval           time.Duration `yaml:"gc_interval"`
	GCDiscardRatio       float64       `yaml:"gc_discard_ratio"`
	MaxDiskMB            int           `yaml:"max_disk_mb"`
}

// PluginConfig controls which plugins participate in the grab vote and
// restricts their hardware match criteria, mirroring the vendor/product
// filter tables in mm-plugin-generic.c / mm-plugin-novatel.c.
type PluginConfig struct {
	// Allow, if non-empty, restricts voting to these plugin names.
	Allow []string `yaml:"allow,omitempty"`
	// Deny excludes named plugins from voting even if otherwise eligible.
	Deny []string `yaml:"deny,omitempty"`
	// VendorFilters maps a plugin name to the vendor IDs (lowercase hex,
	// no "0x" prefix) it is allowed to claim. An empty list means
	// unrestricted.
	VendorFilters map[string][]string `yaml:"vendor_filters,omitempty"`
}

// WatchdogConfig bounds how many consecutive command timeouts a port
// tolerates before it is reported unresponsive (spec.md §4.2).
type WatchdogConfig struct {
	MaxConsecutiveTimeouts int `yaml:"max_consecutive_timeouts"`
}

// PollConfig holds an interval/retry budget for periodic polling tasks;
// mm-iface-modem-time.h's defaults are 5s / 6 retries. It is parsed and
// validated, but the daemon does not pass it to the poll scheduler,
// whose tasks use poll.DefaultInterval and poll.DefaultMaxRetries.
type PollConfig struct {
	Interval   time.Duration `yaml:"interval"`
	MaxRetries int           `yaml:"max_retries"`
}

// Config is the complete daemon configuration.
type Config struct {
	Logging  LoggingConfig  `yaml:"logging"`
	Cache    CacheConfig    `yaml:"cache"`
	Plugins  PluginConfig   `yaml:"plugins"`
	Watchdog WatchdogConfig `yaml:"watchdog"`
	Poll     PollConfig     `yaml:"poll"`

	// SettleWindow is how long DeviceBus waits after a device's last
	// udev "add" event before declaring its port set complete and
	// starting assembly (spec.md §4.5).
	SettleWindow time.Duration `yaml:"settle_window"`
}

// DefaultConfig returns the daemon's default configuration.
func DefaultConfig() *Config {
	return &Config{
		Logging: LoggingConfig{
			Level:      "info",
			MaxSize:    100,
			MaxBackups: 3,
			MaxAge:     28,
			Console:    true,
		},
		Cache: CacheConfig{
			Enabled:        true,
			Path:           "./cache/badger",
			MaxMemoryMB:    64,
			ValueLogMaxMB:  256,
			CompactL0:      true,
			NumGoroutines:  4,
			GCInterval:     10 * time.Minute,
			GCDiscardRatio: 0.5,
		},
		Watchdog: WatchdogConfig{
			MaxConsecutiveTimeouts: 3,
		},
		Poll: PollConfig{
			Interval:   5 * time.Second,
			MaxRetries: 6,
		},
		SettleWindow: 2 * time.Second,
	}
}

// LoadConfig loads configuration from a YAML file, returning defaults if
// the file does not exist.
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// SaveConfig writes configuration to a YAML file.
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}
