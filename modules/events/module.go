package events

import (
	"context"

	"github.com/GoCodeAlone/dappkit"
)

// ModuleName is the name of this module
const ModuleName = "events"

// ServiceName is the name of the service provided by this module
const ServiceName = "events.bus"

// Module provides the shared Bus as an application service.
type Module struct {
	bus *Bus
}

// NewModule creates the event bus module
func NewModule() *Module {
	return &Module{}
}

// Name returns the name of the module
func (m *Module) Name() string {
	return ModuleName
}

// Init creates the bus and registers it as a service
func (m *Module) Init(app dappkit.Application) error {
	m.bus = NewBus(WithLogger(app.Logger()))
	return app.RegisterService(ServiceName, m.bus)
}

// Stop fails requests that are still waiting for a reply
func (m *Module) Stop(context.Context) error {
	if m.bus != nil {
		m.bus.Close()
	}
	return nil
}

// Bus returns the bus created by Init.
func (m *Module) Bus() *Bus {
	return m.bus
}
