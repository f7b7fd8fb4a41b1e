package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/GoCodeAlone/dappkit/modules/artifacts"
	"github.com/GoCodeAlone/dappkit/modules/blockchain"
	"github.com/GoCodeAlone/dappkit/modules/events"
	"github.com/GoCodeAlone/dappkit/modules/fileapi"
	"github.com/GoCodeAlone/dappkit/modules/httpapi"
	"github.com/GoCodeAlone/dappkit/modules/pipeline"
	"github.com/GoCodeAlone/dappkit/modules/services"
	"github.com/GoCodeAlone/dappkit/modules/watcher"
	"github.com/spf13/cobra"
)

// NewRunCommand creates the run command
func NewRunCommand(opts *globalOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the node, the build pipeline, the watcher and the dashboard API",
		Long: `Run starts the blockchain node, performs a full build, then rebuilds
whenever asset sources change. It runs until interrupted.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSession(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return s.run(ctx, cmd.OutOrStdout())
		},
	}
}

func (s *session) run(ctx context.Context, console io.Writer) error {
	app := s.newApplication()
	eventsModule := events.NewModule()
	app.RegisterModule(eventsModule)
	app.RegisterModule(blockchain.NewModule(s.env))
	app.RegisterModule(pipeline.NewModule(s.env, console))
	app.RegisterModule(artifacts.NewModule(s.env))
	app.RegisterModule(httpapi.NewModule())
	app.RegisterModule(fileapi.NewModule(s.env))
	app.RegisterModule(services.NewModule())
	app.RegisterModule(watcher.NewModule(s.env, s.configPath, s.feeders...))

	if err := app.Init(); err != nil {
		return err
	}
	if err := app.Start(); err != nil {
		if stopErr := app.Stop(); stopErr != nil {
			s.logger.Error("Error stopping after failed start", "error", stopErr)
		}
		return err
	}

	bus := eventsModule.Bus()
	err := bus.Request(ctx, pipeline.CommandBuild, []any{pipeline.BuildOptions{}}, func(_ any, err error) {
		if err != nil {
			s.logger.Error("Initial build failed", "error", err)
			return
		}
		s.logger.Info("Initial build finished", "dapp", s.env.DappPath)
	})
	if err != nil {
		s.logger.Error("Failed to request initial build", "error", err)
	}

	<-ctx.Done()
	s.logger.Info("Shutting down")
	bus.Emit(blockchain.EventShutdown)
	if err := app.Stop(); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}
