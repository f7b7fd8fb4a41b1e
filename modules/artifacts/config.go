// Package artifacts provides the default collaborators the pipeline asks
// for over the bus: the contract listing, the per-contract code generator,
// the runtime bridge module and the placeholder page.
package artifacts

import "errors"

// Config defines the configuration for the artifacts module
type Config struct {
	// ArtifactsDir holds compiled contract records (*.json), relative to the dapp path
	ArtifactsDir string `json:"artifactsDir" yaml:"artifactsDir" toml:"artifactsDir" env:"ARTIFACTS_DIR"`

	// RPCURL is the node endpoint baked into the runtime bridge
	RPCURL string `json:"rpcURL" yaml:"rpcURL" toml:"rpcURL" env:"RPC_URL"`

	// PlaceholderTitle is shown on the page served while a build runs
	PlaceholderTitle string `json:"placeholderTitle" yaml:"placeholderTitle" toml:"placeholderTitle" env:"PLACEHOLDER_TITLE"`
}

// DefaultConfig returns the configuration used when nothing is fed.
func DefaultConfig() *Config {
	return &Config{
		ArtifactsDir:     "artifacts",
		RPCURL:           "http://localhost:8545",
		PlaceholderTitle: "Building your dapp...",
	}
}

// Setup validates the section.
func (c *Config) Setup() error {
	if c.ArtifactsDir == "" {
		return errors.New("artifacts: artifactsDir must not be empty")
	}
	return nil
}
