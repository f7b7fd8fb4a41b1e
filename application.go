package dappkit

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"reflect"
	"slices"
	"sync"
	"syscall"
	"time"
)

// DefaultShutdownTimeout bounds how long Stop waits for modules to stop.
const DefaultShutdownTimeout = 30 * time.Second

type Application interface {
	RegisterModule(module Module)
	RegisterConfigSection(section string, cp ConfigProvider)
	ConfigSections() map[string]ConfigProvider
	GetConfigSection(section string) (ConfigProvider, error)
	RegisterService(name string, service any) error
	GetService(name string, target any) error
	Init() error
	Start() error
	Stop() error
	Run() error
	Logger() Logger
}

// StdApplication represents the core StdApplication container
type StdApplication struct {
	cfgSections     map[string]ConfigProvider
	svcRegistry     map[string]any
	moduleRegistry  ModuleRegistry
	moduleOrder     []string
	feeders         []Feeder
	logger          Logger
	shutdownTimeout time.Duration
	signals         []os.Signal
	ctx             context.Context
	cancel          context.CancelFunc
	mu              sync.RWMutex
}

// NewStdApplication creates a new application instance. The feeders are
// applied, in order, to every registered configuration section during Init.
func NewStdApplication(logger Logger, feeders ...Feeder) *StdApplication {
	if logger == nil {
		logger = NopLogger()
	}
	return &StdApplication{
		cfgSections:     make(map[string]ConfigProvider),
		svcRegistry:     make(map[string]any),
		moduleRegistry:  make(ModuleRegistry),
		feeders:         feeders,
		logger:          logger,
		shutdownTimeout: DefaultShutdownTimeout,
		signals:         []os.Signal{syscall.SIGINT, syscall.SIGTERM},
	}
}

// RegisterModule adds a module to the application. Registering a second
// module under the same name replaces the first and is logged.
func (app *StdApplication) RegisterModule(module Module) {
	app.mu.Lock()
	defer app.mu.Unlock()
	if _, exists := app.moduleRegistry[module.Name()]; exists {
		app.logger.Warn("Replacing registered module", "module", module.Name())
	} else {
		app.moduleOrder = append(app.moduleOrder, module.Name())
	}
	app.moduleRegistry[module.Name()] = module
}

// RegisterConfigSection registers a configuration section with the application
func (app *StdApplication) RegisterConfigSection(section string, cp ConfigProvider) {
	app.mu.Lock()
	defer app.mu.Unlock()
	app.cfgSections[section] = cp
}

// ConfigSections retrieves all registered configuration sections
func (app *StdApplication) ConfigSections() map[string]ConfigProvider {
	app.mu.RLock()
	defer app.mu.RUnlock()
	sections := make(map[string]ConfigProvider, len(app.cfgSections))
	for name, cp := range app.cfgSections {
		sections[name] = cp
	}
	return sections
}

// GetConfigSection retrieves a configuration section
func (app *StdApplication) GetConfigSection(section string) (ConfigProvider, error) {
	app.mu.RLock()
	defer app.mu.RUnlock()
	cp, exists := app.cfgSections[section]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrConfigSectionNotFound, section)
	}
	return cp, nil
}

// RegisterService adds a service to the registry
func (app *StdApplication) RegisterService(name string, service any) error {
	app.mu.Lock()
	defer app.mu.Unlock()
	if _, exists := app.svcRegistry[name]; exists {
		return fmt.Errorf("%w: %s", ErrServiceAlreadyRegistered, name)
	}

	app.svcRegistry[name] = service
	app.logger.Debug("Registered service", "name", name, "type", reflect.TypeOf(service))
	return nil
}

// GetService retrieves a service with type assertion
func (app *StdApplication) GetService(name string, target any) error {
	app.mu.RLock()
	service, exists := app.svcRegistry[name]
	app.mu.RUnlock()
	if !exists {
		return fmt.Errorf("%w: %s", ErrServiceNotFound, name)
	}

	targetValue := reflect.ValueOf(target)
	if targetValue.Kind() != reflect.Ptr || targetValue.IsNil() {
		return ErrTargetNotPointer
	}

	serviceType := reflect.TypeOf(service)
	targetType := targetValue.Elem().Type()

	// Target is an interface the service implements, or the exact type.
	if serviceType.AssignableTo(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(service))
		return nil
	}
	// Target is the value type behind a pointer service.
	if serviceType.Kind() == reflect.Ptr && serviceType.Elem().AssignableTo(targetType) {
		targetValue.Elem().Set(reflect.ValueOf(service).Elem())
		return nil
	}

	return fmt.Errorf("%w: service '%s' of type %s cannot be assigned to %s",
		ErrServiceIncompatible, name, serviceType, targetType)
}

// Init registers and feeds module configuration, then initializes modules
// in dependency order.
func (app *StdApplication) Init() error {
	for _, name := range app.registeredNames() {
		configurableModule, ok := app.moduleRegistry[name].(Configurable)
		if !ok {
			app.logger.Debug("Module does not implement Configurable, skipping", "module", name)
			continue
		}
		if err := configurableModule.RegisterConfig(app); err != nil {
			return fmt.Errorf("failed to register config for module %s: %w", name, err)
		}
	}

	if err := loadAppConfig(app); err != nil {
		return fmt.Errorf("failed to load app config: %w", err)
	}

	moduleOrder, err := app.resolveDependencies()
	if err != nil {
		return fmt.Errorf("failed to resolve dependencies: %w", err)
	}

	for _, moduleName := range moduleOrder {
		if err = app.moduleRegistry[moduleName].Init(app); err != nil {
			return fmt.Errorf("failed to initialize module '%s': %w", moduleName, err)
		}
		app.logger.Debug("Initialized module", "module", moduleName)
	}

	return nil
}

// Start starts the application
func (app *StdApplication) Start() error {
	ctx, cancel := context.WithCancel(context.Background())
	app.ctx = ctx
	app.cancel = cancel

	modules, err := app.resolveDependencies()
	if err != nil {
		return err
	}

	for _, name := range modules {
		startableModule, ok := app.moduleRegistry[name].(Startable)
		if !ok {
			continue
		}
		app.logger.Info("Starting module", "module", name)
		if err := startableModule.Start(ctx); err != nil {
			return fmt.Errorf("failed to start module %s: %w", name, err)
		}
	}

	return nil
}

// Stop stops the application, stopping modules in reverse dependency order.
// Every module gets a chance to stop; the last error is returned.
func (app *StdApplication) Stop() error {
	modules, err := app.resolveDependencies()
	if err != nil {
		return err
	}
	slices.Reverse(modules)

	ctx, cancel := context.WithTimeout(context.Background(), app.shutdownTimeout)
	defer cancel()

	var lastErr error
	for _, name := range modules {
		stoppableModule, ok := app.moduleRegistry[name].(Stoppable)
		if !ok {
			continue
		}
		app.logger.Info("Stopping module", "module", name)
		if err = stoppableModule.Stop(ctx); err != nil {
			app.logger.Error("Error stopping module", "module", name, "error", err)
			lastErr = err
		}
	}

	if app.cancel != nil {
		app.cancel()
	}

	return lastErr
}

// Run starts the application and blocks until termination
func (app *StdApplication) Run() error {
	if err := app.Init(); err != nil {
		return err
	}

	if err := app.Start(); err != nil {
		return err
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, app.signals...)
	defer signal.Stop(sigChan)

	sig := <-sigChan
	app.logger.Info("Received signal, shutting down", "signal", sig)

	return app.Stop()
}

// Context returns the lifecycle context created by Start, or nil before Start.
func (app *StdApplication) Context() context.Context {
	return app.ctx
}

// Logger represents a logger
func (app *StdApplication) Logger() Logger {
	return app.logger
}

func (app *StdApplication) registeredNames() []string {
	app.mu.RLock()
	defer app.mu.RUnlock()
	return slices.Clone(app.moduleOrder)
}

// resolveDependencies returns modules in initialization order. Modules
// without ordering constraints keep their registration order.
func (app *StdApplication) resolveDependencies() ([]string, error) {
	names := app.registeredNames()
	graph := make(map[string][]string, len(names))
	for _, name := range names {
		if dependencyAware, ok := app.moduleRegistry[name].(DependencyAware); ok {
			graph[name] = dependencyAware.Dependencies()
		}
	}

	var result []string
	visited := make(map[string]bool)
	temp := make(map[string]bool)

	var visit func(string) error
	visit = func(node string) error {
		if temp[node] {
			return fmt.Errorf("%w: %s", ErrCircularDependency, node)
		}
		if visited[node] {
			return nil
		}
		temp[node] = true

		for _, dep := range graph[node] {
			if _, exists := app.moduleRegistry[dep]; !exists {
				return fmt.Errorf("%w: %s depends on non-existent module %s",
					ErrModuleDependencyMissing, node, dep)
			}
			if err := visit(dep); err != nil {
				return err
			}
		}

		visited[node] = true
		temp[node] = false
		result = append(result, node)
		return nil
	}

	for _, node := range names {
		if !visited[node] {
			if err := visit(node); err != nil {
				return nil, err
			}
		}
	}

	app.logger.Debug("Module initialization order", "order", result)
	return result, nil
}
