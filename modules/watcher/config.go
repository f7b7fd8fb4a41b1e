// Package watcher triggers builds. It watches the asset sources of the
// pipeline configuration and the configuration file itself, and can run
// full builds on a cron schedule.
package watcher

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
)

// Config defines the configuration for the watcher module
type Config struct {
	// Enabled starts watching on Start
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled" env:"ENABLED"`

	// Debounce is how long changes are collected before a build is requested
	Debounce time.Duration `json:"debounce" yaml:"debounce" toml:"debounce" env:"DEBOUNCE"`

	// Schedule is an optional cron spec for full rebuilds, e.g. "@every 10m"
	Schedule string `json:"schedule" yaml:"schedule" toml:"schedule" env:"SCHEDULE"`

	// ConfigFile is reloaded into the pipeline section when it changes
	ConfigFile string `json:"configFile" yaml:"configFile" toml:"configFile" env:"CONFIG_FILE"`
}

// DefaultConfig returns the configuration used when nothing is fed.
func DefaultConfig() *Config {
	return &Config{
		Enabled:  true,
		Debounce: 300 * time.Millisecond,
	}
}

// Setup validates the section.
func (c *Config) Setup() error {
	if c.Debounce <= 0 {
		c.Debounce = 300 * time.Millisecond
	}
	if c.Schedule != "" {
		if _, err := cron.ParseStandard(c.Schedule); err != nil {
			return fmt.Errorf("watcher: invalid schedule '%s': %w", c.Schedule, err)
		}
	}
	return nil
}
