package services

import (
	"context"
	"fmt"

	"github.com/GoCodeAlone/dappkit"
	"github.com/GoCodeAlone/dappkit/modules/events"
	"github.com/GoCodeAlone/dappkit/modules/httpapi"
)

// ModuleName is the name of this module
const ModuleName = "services"

// ServiceName is the name of the service provided by this module
const ServiceName = "services.tracker"

// Module wires a Tracker to the bus and the HTTP API.
type Module struct {
	tracker *Tracker
	bus     *events.Bus
	sub     events.Subscription
}

// NewModule creates the services module
func NewModule() *Module {
	return &Module{tracker: NewTracker()}
}

// Name returns the name of the module
func (m *Module) Name() string {
	return ModuleName
}

// Dependencies returns the modules that must start first
func (m *Module) Dependencies() []string {
	return []string{events.ModuleName, httpapi.ModuleName}
}

// Init subscribes the tracker and mounts its route
func (m *Module) Init(app dappkit.Application) error {
	if err := app.GetService(events.ServiceName, &m.bus); err != nil {
		return fmt.Errorf("services requires the event bus: %w", err)
	}
	var api httpapi.Registrar
	if err := app.GetService(httpapi.ServiceName, &api); err != nil {
		return fmt.Errorf("services requires the http api: %w", err)
	}
	m.sub = m.tracker.Subscribe(m.bus)
	api.Mount(m.tracker)
	return app.RegisterService(ServiceName, m.tracker)
}

// Stop unsubscribes the tracker
func (m *Module) Stop(context.Context) error {
	if m.bus != nil {
		m.bus.Off(m.sub)
	}
	return nil
}

// Tracker returns the module's tracker.
func (m *Module) Tracker() *Tracker {
	return m.tracker
}
