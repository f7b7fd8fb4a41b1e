package pipeline

import (
	"errors"
	"fmt"
	"time"
)

// defaultMaxConcurrency bounds stage concurrency when none is configured.
const defaultMaxConcurrency = 8

// AssetSource is one source file of an asset target.
type AssetSource struct {
	// Path is a file, a directory or a glob pattern, relative to the dapp path
	Path string `json:"path" yaml:"path" toml:"path"`

	// Basedir is stripped from Path when copying into a directory target
	Basedir string `json:"basedir,omitempty" yaml:"basedir,omitempty" toml:"basedir,omitempty"`

	// SkipPipeline opts the file out of the plugin chain
	SkipPipeline bool `json:"skipPipeline,omitempty" yaml:"skipPipeline,omitempty" toml:"skipPipeline,omitempty"`
}

// Config defines the configuration for the pipeline module
type Config struct {
	// Enabled runs asset builds; when false only contracts are built
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled" env:"ENABLED"`

	// BuildDir is the output directory, relative to the dapp path
	BuildDir string `json:"buildDir" yaml:"buildDir" toml:"buildDir" env:"BUILD_DIR"`

	// GenerationDir holds generated modules, relative to the dapp path
	GenerationDir string `json:"generationDir" yaml:"generationDir" toml:"generationDir" env:"GENERATION_DIR"`

	// BundlerConfigName selects the bundler configuration, e.g. development
	BundlerConfigName string `json:"bundlerConfigName" yaml:"bundlerConfigName" toml:"bundlerConfigName" env:"BUNDLER_CONFIG_NAME"`

	// BundlerConfigPath is the bundler's own config file (.json, .yaml, .yml, .toml or .hcl)
	BundlerConfigPath string `json:"bundlerConfigPath" yaml:"bundlerConfigPath" toml:"bundlerConfigPath" env:"BUNDLER_CONFIG_PATH"`

	// BundlerCommand runs the bundler subordinate process
	BundlerCommand string `json:"bundlerCommand" yaml:"bundlerCommand" toml:"bundlerCommand" env:"BUNDLER_COMMAND"`

	// BundlerArgs are the arguments of BundlerCommand
	BundlerArgs []string `json:"bundlerArgs" yaml:"bundlerArgs" toml:"bundlerArgs" env:"BUNDLER_ARGS"`

	// UseDashboard slows progress reports and hides the spinner
	UseDashboard bool `json:"useDashboard" yaml:"useDashboard" toml:"useDashboard" env:"USE_DASHBOARD"`

	// MaxConcurrency bounds concurrent file operations within a stage
	MaxConcurrency int `json:"maxConcurrency" yaml:"maxConcurrency" toml:"maxConcurrency" env:"MAX_CONCURRENCY"`

	// LongRunningThreshold delays "still bundling" reports
	LongRunningThreshold time.Duration `json:"longRunningThreshold" yaml:"longRunningThreshold" toml:"longRunningThreshold" env:"LONG_RUNNING_THRESHOLD"`

	// Assets maps output targets to their ordered sources. Targets ending
	// in a slash or without an extension are directories.
	Assets map[string][]AssetSource `json:"assets" yaml:"assets" toml:"assets"`
}

// DefaultConfig returns the configuration used when nothing is fed.
func DefaultConfig() *Config {
	return &Config{
		Enabled:              true,
		BuildDir:             "dist",
		GenerationDir:        "generated",
		BundlerConfigName:    "development",
		BundlerConfigPath:    "bundler.config.json",
		MaxConcurrency:       defaultMaxConcurrency,
		LongRunningThreshold: 15 * time.Second,
	}
}

// Setup validates the section and applies defaults to zero values.
func (c *Config) Setup() error {
	if c.BuildDir == "" {
		return errors.New("pipeline: buildDir must not be empty")
	}
	if c.GenerationDir == "" {
		c.GenerationDir = "generated"
	}
	if c.MaxConcurrency <= 0 {
		c.MaxConcurrency = defaultMaxConcurrency
	}
	if c.LongRunningThreshold < 0 {
		return fmt.Errorf("pipeline: longRunningThreshold %s is negative", c.LongRunningThreshold)
	}
	for target, sources := range c.Assets {
		for i, src := range sources {
			if src.Path == "" {
				return fmt.Errorf("pipeline: asset %s source %d has no path", target, i)
			}
		}
	}
	return nil
}

// clone returns a copy safe to use for one build.
func (c *Config) clone() *Config {
	cp := *c
	cp.BundlerArgs = append([]string(nil), c.BundlerArgs...)
	cp.Assets = make(map[string][]AssetSource, len(c.Assets))
	for target, sources := range c.Assets {
		cp.Assets[target] = append([]AssetSource(nil), sources...)
	}
	return &cp
}
