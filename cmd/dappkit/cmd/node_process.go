package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/GoCodeAlone/dappkit/modules/blockchain"
	"github.com/GoCodeAlone/dappkit/modules/procs"
	"github.com/spf13/cobra"
)

// NewNodeProcessCommand creates the hidden command the supervisor launches
// as its node subordinate.
func NewNodeProcessCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:    "node-process",
		Short:  "Run the node subordinate process",
		Hidden: true,
		Args:   cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			logger, err := newLogger(opts.logLevel, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			child, err := procs.OpenChild("node")
			if err != nil {
				return err
			}
			defer child.Close()

			// The parent decides when the node stops.
			signal.Ignore(os.Interrupt, syscall.SIGTERM)
			node := &blockchain.NodeProcess{Child: child, Logger: logger}
			return node.Run(cmd.Context())
		},
	}
}
