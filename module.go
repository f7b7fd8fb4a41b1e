// Package dappkit coordinates the build and runtime lifecycle of a dapp
// development environment. It supervises long-lived subordinate processes
// (a blockchain node and an asset bundler) and drives a multi-stage build
// pipeline that turns contracts and asset files into deployable artifacts.
//
// The root package provides the application container: modules with a
// Name/Init/Start/Stop lifecycle, typed configuration sections fed from
// files and environment variables, a small service registry and the
// explicit Env that replaces process-wide anchored environment values.
//
// Basic usage:
//
//	app := dappkit.NewStdApplication(logger, feeders.NewYamlFeeder("dappkit.yaml"))
//	app.RegisterModule(events.NewModule())
//	app.RegisterModule(pipeline.NewModule(env, os.Stdout))
//	if err := app.Run(); err != nil {
//		log.Fatal(err)
//	}
package dappkit

import "context"

// Module represents a registrable component in the application.
// All modules must implement this interface to be managed by the application.
type Module interface {
	// Name returns the unique identifier for this module.
	// It is also the name of the module's configuration section.
	Name() string

	// Init initializes the module with the application context.
	// This method is called after every configuration section has been fed,
	// in dependency order.
	Init(app Application) error
}

// Configurable is an interface for modules that can have configuration.
// Modules implementing this interface register a typed configuration
// section before Init is called.
//
// Example:
//
//	func (m *MyModule) RegisterConfig(app dappkit.Application) error {
//		app.RegisterConfigSection(m.Name(), dappkit.NewStdConfigProvider(&Config{}))
//		return nil
//	}
type Configurable interface {
	RegisterConfig(app Application) error
}

// DependencyAware is an interface for modules that depend on other modules.
// Dependencies are initialized and started before the modules that need
// them, and stopped after them.
type DependencyAware interface {
	Dependencies() []string
}

// Startable is an interface for modules that need to perform startup operations.
// Start is called in dependency order once every module has been initialized.
// The provided context is the application's lifecycle context.
type Startable interface {
	Start(ctx context.Context) error
}

// Stoppable is an interface for modules that need to perform cleanup operations.
// Stop is called in reverse dependency order. The context carries the
// shutdown deadline.
type Stoppable interface {
	Stop(ctx context.Context) error
}

// ModuleRegistry represents a registry of modules keyed by their names.
type ModuleRegistry map[string]Module
