// Package httpapi serves the dashboard API. Other modules contribute routes
// through Mount during Init; the router is assembled on Start and every
// route lives under /api.
package httpapi

import (
	"errors"
	"time"
)

// Config defines the configuration for the HTTP API module
type Config struct {
	// Enabled starts the listener; routes can still be served through Handler when false
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled" env:"ENABLED"`

	// Address is the listen address, host:port
	Address string `json:"address" yaml:"address" toml:"address" env:"ADDRESS"`

	// ReadTimeout is the maximum duration for reading an entire request
	ReadTimeout time.Duration `json:"readTimeout" yaml:"readTimeout" toml:"readTimeout" env:"READ_TIMEOUT"`

	// WriteTimeout is the maximum duration before timing out writes of the response
	WriteTimeout time.Duration `json:"writeTimeout" yaml:"writeTimeout" toml:"writeTimeout" env:"WRITE_TIMEOUT"`

	// IdleTimeout is the maximum amount of time to wait for the next request
	IdleTimeout time.Duration `json:"idleTimeout" yaml:"idleTimeout" toml:"idleTimeout" env:"IDLE_TIMEOUT"`

	// ShutdownTimeout bounds graceful shutdown
	ShutdownTimeout time.Duration `json:"shutdownTimeout" yaml:"shutdownTimeout" toml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

// DefaultConfig returns the configuration used when nothing is fed.
func DefaultConfig() *Config {
	return &Config{
		Enabled:         true,
		Address:         "localhost:55555",
		ReadTimeout:     15 * time.Second,
		WriteTimeout:    15 * time.Second,
		IdleTimeout:     60 * time.Second,
		ShutdownTimeout: 5 * time.Second,
	}
}

// Setup validates the section.
func (c *Config) Setup() error {
	if c.Enabled && c.Address == "" {
		return errors.New("httpapi: address must not be empty")
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 5 * time.Second
	}
	return nil
}
