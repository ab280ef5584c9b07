package config

import (
	"fmt"
	"strings"
)

// Validator is implemented by config sections that can self-validate.
type Validator interface {
	Validate() error
}

// ValidationErrors collects multiple validation errors so Validate can
// report every problem at once instead of failing on the first.
type ValidationErrors struct {
	Errors []error
}

func (ve *ValidationErrors) Add(err error) {
	if err != nil {
		ve.Errors = append(ve.Errors, err)
	}
}

func (ve *ValidationErrors) Error() string {
	if len(ve.Errors) == 0 {
		return ""
	}

	messages := make([]string, len(ve.Errors))
	for i, err := range ve.Errors {
		messages[i] = fmt.Sprintf("  - %s", err.Error())
	}

	return fmt.Sprintf("configuration validation failed:\n%s",
		strings.Join(messages, "\n"))
}

func (ve *ValidationErrors) HasErrors() bool {
	return len(ve.Errors) > 0
}

// Validate validates the entire configuration.
func (c *Config) Validate() error {
	var errs ValidationErrors

	errs.Add(c.Logging.Validate())

	if c.Cache.Enabled {
		errs.Add(c.Cache.Validate())
	}

	errs.Add(c.Plugins.Validate())
	errs.Add(c.Watchdog.Validate())
	errs.Add(c.Poll.Validate())

	if c.SettleWindow < 0 {
		errs.Add(fmt.Errorf("settle_window cannot be negative, got %s", c.SettleWindow))
	}

	if errs.HasErrors() {
		return &errs
	}
	return nil
}

// Validate validates logging configuration.
func (c *LoggingConfig) Validate() error {
	var errs ValidationErrors

	validLevels := []string{"debug", "info", "warn", "error"}
	levelValid := false
	for _, l := range validLevels {
		if c.Level == l {
			levelValid = true
			break
		}
	}
	if !levelValid && c.Level != "" {
		errs.Add(fmt.Errorf("logging.level must be one of: %v, got %s", validLevels, c.Level))
	}

	if c.MaxSize < 0 {
		errs.Add(fmt.Errorf("logging.max_size cannot be negative, got %d", c.MaxSize))
	}

	if c.MaxBackups < 0 {
		errs.Add(fmt.Errorf("logging.max_backups cannot be negative, got %d", c.MaxBackups))
	}

	if c.MaxAge < 0 {
		errs.Add(fmt.Errorf("logging.max_age cannot be negative, got %d", c.MaxAge))
	}

	if errs.HasErrors() {
		return &errs
	}
	return nil
}

// Validate validates cache configuration.
func (c *CacheConfig) Validate() error {
	var errs ValidationErrors

	if c.Path == "" {
		errs.Add(fmt.Errorf("cache.path is required when cache is enabled"))
	}

	if c.MaxMemoryMB < 1 {
		errs.Add(fmt.Errorf("cache.max_memory_mb must be positive, got %d", c.MaxMemoryMB))
	}

	if c.ValueLogMaxMB < 1 {
		errs.Add(fmt.Errorf("cache.value_log_max_mb must be positive, got %d", c.ValueLogMaxMB))
	}

	if c.GCDiscardRatio < 0 || c.GCDiscardRatio > 1 {
		errs.Add(fmt.Errorf("cache.gc_discard_ratio must be between 0 and 1, got %.2f", c.GCDiscardRatio))
	}

	if errs.HasErrors() {
		return &errs
	}
	return nil
}

// Validate validates plugin filter configuration.
func (c *PluginConfig) Validate() error {
	var errs ValidationErrors

	allow := make(map[string]bool, len(c.Allow))
	for _, name := range c.Allow {
		if name == "" {
			errs.Add(fmt.Errorf("plugins.allow contains an empty plugin name"))
			continue
		}
		allow[name] = true
	}

	for _, name := range c.Deny {
		if name == "" {
			errs.Add(fmt.Errorf("plugins.deny contains an empty plugin name"))
			continue
		}
		if allow[name] {
			errs.Add(fmt.Errorf("plugin %q cannot appear in both plugins.allow and plugins.deny", name))
		}
	}

	for name, vendors := range c.VendorFilters {
		if name == "" {
			errs.Add(fmt.Errorf("plugins.vendor_filters has an empty plugin name key"))
			continue
		}
		for _, v := range vendors {
			if v == "" {
				errs.Add(fmt.Errorf("plugins.vendor_filters[%s] contains an empty vendor id", name))
			}
		}
	}

	if errs.HasErrors() {
		return &errs
	}
	return nil
}

// Validate validates watchdog configuration.
func (c *WatchdogConfig) Validate() error {
	if c.MaxConsecutiveTimeouts < 1 {
		return fmt.Errorf("watchdog.max_consecutive_timeouts must be at least 1, got %d", c.MaxConsecutiveTimeouts)
	}
	return nil
}

// Validate validates poll configuration.
func (c *PollConfig) Validate() error {
	var errs ValidationErrors

	if c.Interval <= 0 {
		errs.Add(fmt.Errorf("poll.interval must be positive, got %s", c.Interval))
	}
	if c.MaxRetries < 0 {
		errs.Add(fmt.Errorf("poll.max_retries cannot be negative, got %d", c.MaxRetries))
	}

	if errs.HasErrors() {
		return &errs
	}
	return nil
}
