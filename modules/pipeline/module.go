package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/GoCodeAlone/dappkit"
	"github.com/GoCodeAlone/dappkit/modules/events"
)

// ModuleName is the name of this module
const ModuleName = "pipeline"

// ServiceName is the name of the service provided by this module
const ServiceName = "pipeline.builder"

// Module exposes the pipeline on the bus:
//
//	pipeline:build            args: BuildOptions, *BuildOptions or nothing
//	pipeline:build:contracts  replies with the written []Contract
//	config:load:pipeline      event carrying a replacement *Config
type Module struct {
	env      *dappkit.Env
	console  io.Writer
	config   *Config
	pipeline *Pipeline
	bus      *events.Bus
	ctx      context.Context
	cancel   context.CancelFunc
	subs     []events.Subscription
}

// NewModule creates the pipeline module for the dapp described by env.
// console receives bundler output; nil means os.Stdout.
func NewModule(env *dappkit.Env, console io.Writer) *Module {
	if console == nil {
		console = os.Stdout
	}
	return &Module{env: env, console: console}
}

// Name returns the name of the module
func (m *Module) Name() string {
	return ModuleName
}

// Dependencies returns the modules that must start first
func (m *Module) Dependencies() []string {
	return []string{events.ModuleName}
}

// RegisterConfig registers the pipeline section with its defaults
func (m *Module) RegisterConfig(app dappkit.Application) error {
	if existing, err := app.GetConfigSection(m.Name()); err == nil && existing != nil {
		return nil
	}
	app.RegisterConfigSection(m.Name(), dappkit.NewStdConfigProvider(DefaultConfig()))
	return nil
}

// Init creates the pipeline and registers its bus commands
func (m *Module) Init(app dappkit.Application) error {
	if m.env == nil {
		return fmt.Errorf("pipeline: %w", dappkit.ErrAnchorNotSet)
	}
	cp, err := app.GetConfigSection(m.Name())
	if err != nil {
		return fmt.Errorf("failed to get config section '%s': %w", m.Name(), err)
	}
	m.config = cp.GetConfig().(*Config)

	if err := app.GetService(events.ServiceName, &m.bus); err != nil {
		return fmt.Errorf("pipeline requires the event bus: %w", err)
	}

	m.ctx, m.cancel = context.WithCancel(context.Background())
	m.pipeline = New(m.config, m.env, m.bus, WithLogger(app.Logger()), WithConsole(m.console))

	if err := m.bus.SetCommandHandler(CommandBuild, m.handleBuild); err != nil {
		return err
	}
	if err := m.bus.SetCommandHandler(CommandBuildContracts, m.handleBuildContracts); err != nil {
		return err
	}
	m.subs = append(m.subs, m.bus.On(EventConfigLoad, m.handleConfigLoad))

	return app.RegisterService(ServiceName, m.pipeline)
}

// Start clears the build directory left by a previous session
func (m *Module) Start(context.Context) error {
	return os.RemoveAll(m.env.DappJoin(m.config.BuildDir))
}

// Stop cancels running builds and unregisters the bus commands
func (m *Module) Stop(context.Context) error {
	if m.cancel != nil {
		m.cancel()
	}
	for _, s := range m.subs {
		m.bus.Off(s)
	}
	m.subs = nil
	m.bus.RemoveCommandHandler(CommandBuild)
	m.bus.RemoveCommandHandler(CommandBuildContracts)
	return nil
}

// Pipeline returns the pipeline created by Init.
func (m *Module) Pipeline() *Pipeline {
	return m.pipeline
}

func (m *Module) handleBuild(_ context.Context, args []any, reply events.Reply) {
	var opts BuildOptions
	if len(args) > 0 {
		switch v := args[0].(type) {
		case BuildOptions:
			opts = v
		case *BuildOptions:
			if v != nil {
				opts = *v
			}
		case nil:
		default:
			reply(nil, fmt.Errorf("%w: %s expects BuildOptions, got %T", ErrInvalidBuildArgs, CommandBuild, v))
			return
		}
	}
	go func() {
		reply(nil, m.pipeline.Build(m.ctx, opts))
	}()
}

func (m *Module) handleBuildContracts(_ context.Context, _ []any, reply events.Reply) {
	go func() {
		reply(m.pipeline.BuildContracts(m.ctx))
	}()
}

func (m *Module) handleConfigLoad(args ...any) {
	if len(args) == 0 {
		return
	}
	cfg, ok := args[0].(*Config)
	if !ok || cfg == nil {
		m.pipeline.logger.Warn("Ignoring pipeline config reload", "payload", fmt.Sprintf("%T", args[0]))
		return
	}
	if err := cfg.Setup(); err != nil {
		m.pipeline.logger.Error("Rejected pipeline config reload", "error", err)
		return
	}
	m.pipeline.SetConfig(cfg)
}
