package fileapi

import (
	"fmt"

	"github.com/GoCodeAlone/dappkit"
	"github.com/GoCodeAlone/dappkit/modules/httpapi"
)

// ModuleName is the name of this module
const ModuleName = "fileapi"

// Module mounts the file routes for the dapp directory.
type Module struct {
	env     *dappkit.Env
	handler *Handler
}

// NewModule creates the file API module sandboxed to env.DappPath.
func NewModule(env *dappkit.Env) *Module {
	return &Module{env: env}
}

// Name returns the name of the module
func (m *Module) Name() string {
	return ModuleName
}

// Dependencies returns the modules that must start first
func (m *Module) Dependencies() []string {
	return []string{httpapi.ModuleName}
}

// Init creates the sandbox and mounts the routes
func (m *Module) Init(app dappkit.Application) error {
	if m.env == nil {
		return fmt.Errorf("fileapi: %w", dappkit.ErrAnchorNotSet)
	}
	sandbox, err := NewSandbox(m.env.DappPath)
	if err != nil {
		return fmt.Errorf("fileapi: %w", err)
	}

	var api httpapi.Registrar
	if err := app.GetService(httpapi.ServiceName, &api); err != nil {
		return fmt.Errorf("fileapi requires the http api: %w", err)
	}
	m.handler = NewHandler(sandbox, app.Logger())
	api.Mount(m.handler)
	return nil
}
