package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoCodeAlone/dappkit/modules/artifacts"
	"github.com/GoCodeAlone/dappkit/modules/events"
	"github.com/GoCodeAlone/dappkit/modules/pipeline"
	"github.com/spf13/cobra"
)

// NewBuildCommand creates the build command
func NewBuildCommand(opts *globalOptions) *cobra.Command {
	var contractsOnly bool
	cmd := &cobra.Command{
		Use:   "build",
		Short: "Build contract artifacts and assets once",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return s.build(ctx, cmd.OutOrStdout(), contractsOnly)
		},
	}
	cmd.Flags().BoolVar(&contractsOnly, "contracts-only", false, "only regenerate contract artifacts")
	return cmd
}

func (s *session) build(ctx context.Context, console io.Writer, contractsOnly bool) (err error) {
	app := s.newApplication()
	eventsModule := events.NewModule()
	app.RegisterModule(eventsModule)
	app.RegisterModule(pipeline.NewModule(s.env, console))
	app.RegisterModule(artifacts.NewModule(s.env))

	if err := app.Init(); err != nil {
		return err
	}
	defer func() {
		if stopErr := app.Stop(); stopErr != nil && err == nil {
			err = stopErr
		}
	}()
	if err := app.Start(); err != nil {
		return err
	}

	command := pipeline.CommandBuild
	args := []any{pipeline.BuildOptions{}}
	if contractsOnly {
		command, args = pipeline.CommandBuildContracts, nil
	}
	if _, err := eventsModule.Bus().Call(ctx, command, args...); err != nil {
		return err
	}
	s.logger.Info("Build finished", "dapp", s.env.DappPath)
	return nil
}
