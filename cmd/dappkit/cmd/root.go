// Package cmd implements the dappkit command line.
package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// EnvPrefix prefixes every configuration environment variable, e.g.
// DAPPKIT_PIPELINE_BUILD_DIR.
const EnvPrefix = "DAPPKIT"

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// PrintVersion prints version information
func PrintVersion() string {
	return fmt.Sprintf("dappkit v%s (commit: %s, built on: %s)", Version, Commit, Date)
}

// globalOptions are the persistent flags shared by every command.
type globalOptions struct {
	configPath string
	dappPath   string
	logLevel   string
}

// NewRootCommand creates the root command for the dappkit application
func NewRootCommand() *cobra.Command {
	opts := &globalOptions{}
	cmd := &cobra.Command{
		Use:   "dappkit",
		Short: "dappkit - build and run a dapp development environment",
		Long: `dappkit supervises a local blockchain node and an asset bundler, and
builds contract artifacts and dapp assets into a deployable directory.`,
		Version:       PrintVersion(),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	flags := cmd.PersistentFlags()
	flags.StringVarP(&opts.configPath, "config", "c", "", "configuration file (.yaml, .yml, .toml or .json)")
	flags.StringVar(&opts.dappPath, "dapp-path", "", "dapp directory (defaults to $DAPP_PATH or the working directory)")
	flags.StringVar(&opts.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	cmd.AddCommand(NewRunCommand(opts))
	cmd.AddCommand(NewBuildCommand(opts))
	cmd.AddCommand(NewNodeProcessCommand(opts))

	return cmd
}
