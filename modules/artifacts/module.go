package artifacts

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/dappkit"
	"github.com/GoCodeAlone/dappkit/modules/events"
	"github.com/GoCodeAlone/dappkit/modules/pipeline"
)

// ModuleName is the name of this module
const ModuleName = "artifacts"

// Module answers the pipeline's collaborator commands from files in the
// dapp directory.
type Module struct {
	env      *dappkit.Env
	config   *Config
	bus      *events.Bus
	pipeline *pipeline.Pipeline
	logger   dappkit.Logger
}

// NewModule creates the artifacts module for the dapp described by env.
func NewModule(env *dappkit.Env) *Module {
	return &Module{env: env}
}

// Name returns the name of the module
func (m *Module) Name() string {
	return ModuleName
}

// Dependencies returns the modules that must start first
func (m *Module) Dependencies() []string {
	return []string{events.ModuleName, pipeline.ModuleName}
}

// RegisterConfig registers the artifacts section with its defaults
func (m *Module) RegisterConfig(app dappkit.Application) error {
	if existing, err := app.GetConfigSection(m.Name()); err == nil && existing != nil {
		return nil
	}
	app.RegisterConfigSection(m.Name(), dappkit.NewStdConfigProvider(DefaultConfig()))
	return nil
}

// Init registers the collaborator commands
func (m *Module) Init(app dappkit.Application) error {
	if m.env == nil {
		return fmt.Errorf("artifacts: %w", dappkit.ErrAnchorNotSet)
	}
	cp, err := app.GetConfigSection(m.Name())
	if err != nil {
		return fmt.Errorf("failed to get config section '%s': %w", m.Name(), err)
	}
	m.config = cp.GetConfig().(*Config)
	m.logger = app.Logger()

	if err := app.GetService(events.ServiceName, &m.bus); err != nil {
		return fmt.Errorf("artifacts requires the event bus: %w", err)
	}
	if err := app.GetService(pipeline.ServiceName, &m.pipeline); err != nil {
		return fmt.Errorf("artifacts requires the pipeline: %w", err)
	}

	handlers := map[string]events.CommandHandler{
		pipeline.CommandContractsList: m.listContracts,
		pipeline.CommandCodeGenerator: m.generateContract,
		pipeline.CommandPlaceholder:   m.buildPlaceholder,
	}
	for command, handler := range handlers {
		if err := m.bus.SetCommandHandler(command, handler); err != nil {
			return err
		}
	}
	return nil
}

// Start writes the runtime bridge module
func (m *Module) Start(context.Context) error {
	if err := m.generator().Runtime(m.config.RPCURL, pipeline.RuntimeBridgeFile); err != nil {
		return fmt.Errorf("artifacts: write runtime bridge: %w", err)
	}
	return nil
}

// Stop unregisters the collaborator commands
func (m *Module) Stop(context.Context) error {
	for _, command := range []string{pipeline.CommandContractsList, pipeline.CommandCodeGenerator, pipeline.CommandPlaceholder} {
		m.bus.RemoveCommandHandler(command)
	}
	return nil
}

// generator follows the live pipeline configuration.
func (m *Module) generator() Generator {
	cfg := m.pipeline.Config()
	return Generator{DappPath: m.env.DappPath, GenerationDir: cfg.GenerationDir, BuildDir: cfg.BuildDir}
}

func (m *Module) listContracts(_ context.Context, _ []any, reply events.Reply) {
	contracts, err := ListContracts(m.env.DappJoin(m.config.ArtifactsDir))
	if err != nil {
		m.logger.Error("Failed to list contracts", "dir", m.config.ArtifactsDir, "error", err)
	}
	reply(contracts, err)
}

func (m *Module) generateContract(_ context.Context, args []any, reply events.Reply) {
	className, _ := firstString(args)
	if className == "" {
		reply(nil, fmt.Errorf("%w: %s expects a class name", pipeline.ErrInvalidBuildArgs, pipeline.CommandCodeGenerator))
		return
	}
	reply(m.generator().Contract(className))
}

func (m *Module) buildPlaceholder(_ context.Context, _ []any, reply events.Reply) {
	reply(nil, m.generator().Placeholder(m.config.PlaceholderTitle))
}

func firstString(args []any) (string, bool) {
	if len(args) == 0 {
		return "", false
	}
	s, ok := args[0].(string)
	return s, ok
}
