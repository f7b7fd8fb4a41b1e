package blockchain

import (
	"fmt"
	"os"
	"time"
)

// Config defines the configuration for the blockchain module
type Config struct {
	// Enabled starts the node when the application starts
	Enabled bool `json:"enabled" yaml:"enabled" toml:"enabled" env:"ENABLED"`

	// Client is the blockchain client executable, e.g. geth
	Client string `json:"client" yaml:"client" toml:"client" env:"CLIENT"`

	// ClientArgs are passed to the client verbatim
	ClientArgs []string `json:"clientArgs" yaml:"clientArgs" toml:"clientArgs" env:"CLIENT_ARGS"`

	// RPCURL is polled until the client answers
	RPCURL string `json:"rpcUrl" yaml:"rpcUrl" toml:"rpcUrl" env:"RPC_URL"`

	// PollInterval is the delay between availability checks
	PollInterval time.Duration `json:"pollInterval" yaml:"pollInterval" toml:"pollInterval" env:"POLL_INTERVAL"`

	// Silent suppresses the node's console output until logs are enabled
	Silent bool `json:"silent" yaml:"silent" toml:"silent" env:"SILENT"`

	// NodeCommand runs the node process; defaults to this executable
	NodeCommand string `json:"nodeCommand" yaml:"nodeCommand" toml:"nodeCommand" env:"NODE_COMMAND"`

	// NodeArgs are the arguments of NodeCommand
	NodeArgs []string `json:"nodeArgs" yaml:"nodeArgs" toml:"nodeArgs" env:"NODE_ARGS"`

	// StopTimeout bounds a graceful stop before the node process is killed
	StopTimeout time.Duration `json:"stopTimeout" yaml:"stopTimeout" toml:"stopTimeout" env:"STOP_TIMEOUT"`
}

// DefaultConfig returns the configuration used when nothing is fed.
func DefaultConfig() *Config {
	return &Config{
		Client:       "geth",
		ClientArgs:   []string{"--dev", "--http", "--http.api", "eth,net,web3"},
		RPCURL:       "http://localhost:8545",
		PollInterval: 500 * time.Millisecond,
		Silent:       true,
		NodeArgs:     []string{"node-process"},
		StopTimeout:  10 * time.Second,
	}
}

// Setup fills the node command and validates the section.
func (c *Config) Setup() error {
	if c.NodeCommand == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("resolve node command: %w", err)
		}
		c.NodeCommand = exe
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 500 * time.Millisecond
	}
	if c.StopTimeout <= 0 {
		c.StopTimeout = 10 * time.Second
	}
	if c.Enabled && c.Client == "" {
		return ErrNoClient
	}
	return nil
}

// NodeInit is the payload of the init message sent to the node process.
type NodeInit struct {
	Client       string        `json:"client"`
	ClientArgs   []string      `json:"clientArgs"`
	RPCURL       string        `json:"rpcUrl"`
	PollInterval time.Duration `json:"pollInterval"`
}

func (c *Config) nodeInit() NodeInit {
	return NodeInit{
		Client:       c.Client,
		ClientArgs:   c.ClientArgs,
		RPCURL:       c.RPCURL,
		PollInterval: c.PollInterval,
	}
}
