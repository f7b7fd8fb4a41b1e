package blockchain

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/dappkit"
	"github.com/GoCodeAlone/dappkit/modules/events"
)

// ModuleName is the name of this module
const ModuleName = "blockchain"

// ServiceName is the name of the service provided by this module
const ServiceName = "blockchain.supervisor"

// Module runs the node for the lifetime of the application.
type Module struct {
	env        *dappkit.Env
	config     *Config
	supervisor *Supervisor
}

// NewModule creates the blockchain module. env provides the environment of
// the node process.
func NewModule(env *dappkit.Env) *Module {
	return &Module{env: env}
}

// Name returns the name of the module
func (m *Module) Name() string {
	return ModuleName
}

// Dependencies returns the modules that must start first
func (m *Module) Dependencies() []string {
	return []string{events.ModuleName}
}

// RegisterConfig registers the blockchain section with its defaults
func (m *Module) RegisterConfig(app dappkit.Application) error {
	if existing, err := app.GetConfigSection(m.Name()); err == nil && existing != nil {
		return nil
	}
	app.RegisterConfigSection(m.Name(), dappkit.NewStdConfigProvider(DefaultConfig()))
	return nil
}

// Init creates the supervisor
func (m *Module) Init(app dappkit.Application) error {
	cp, err := app.GetConfigSection(m.Name())
	if err != nil {
		return fmt.Errorf("failed to get config section '%s': %w", m.Name(), err)
	}
	m.config = cp.GetConfig().(*Config)

	var bus *events.Bus
	if err := app.GetService(events.ServiceName, &bus); err != nil {
		return fmt.Errorf("blockchain requires the event bus: %w", err)
	}

	opts := []Option{WithLogger(app.Logger())}
	if m.env != nil {
		opts = append(opts, WithEnviron(m.env.Environ()))
	}
	m.supervisor = NewSupervisor(m.config, bus, opts...)
	return app.RegisterService(ServiceName, m.supervisor)
}

// Start starts the node when enabled
func (m *Module) Start(context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	return m.supervisor.StartNode()
}

// Stop stops the node gracefully
func (m *Module) Stop(ctx context.Context) error {
	stopCtx, cancel := context.WithTimeout(ctx, m.config.StopTimeout)
	defer cancel()
	return m.supervisor.StopNode(stopCtx)
}

// Supervisor returns the supervisor created by Init.
func (m *Module) Supervisor() *Supervisor {
	return m.supervisor
}
