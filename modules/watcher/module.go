package watcher

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"

	"github.com/GoCodeAlone/dappkit"
	"github.com/GoCodeAlone/dappkit/modules/events"
	"github.com/GoCodeAlone/dappkit/modules/pipeline"
	"github.com/robfig/cron/v3"
)

// ModuleName is the name of this module
const ModuleName = "watcher"

// Module requests builds when assets change and on schedule.
type Module struct {
	env        *dappkit.Env
	configFile string
	feeders    []dappkit.ComplexFeeder
	config     *Config
	logger     dappkit.Logger
	bus        *events.Bus
	builder    *pipeline.Pipeline

	cron   *cron.Cron
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewModule creates the watcher module. configFile is watched unless the
// section names another file; feeders are re-applied to the pipeline
// section when it changes.
func NewModule(env *dappkit.Env, configFile string, feeders ...dappkit.ComplexFeeder) *Module {
	return &Module{env: env, configFile: configFile, feeders: feeders}
}

// Name returns the name of the module
func (m *Module) Name() string {
	return ModuleName
}

// Dependencies returns the modules that must start first
func (m *Module) Dependencies() []string {
	return []string{events.ModuleName, pipeline.ModuleName}
}

// RegisterConfig registers the watcher section with its defaults
func (m *Module) RegisterConfig(app dappkit.Application) error {
	if existing, err := app.GetConfigSection(m.Name()); err == nil && existing != nil {
		return nil
	}
	app.RegisterConfigSection(m.Name(), dappkit.NewStdConfigProvider(DefaultConfig()))
	return nil
}

// Init resolves the bus and the pipeline
func (m *Module) Init(app dappkit.Application) error {
	if m.env == nil {
		return fmt.Errorf("watcher: %w", dappkit.ErrAnchorNotSet)
	}
	cp, err := app.GetConfigSection(m.Name())
	if err != nil {
		return fmt.Errorf("failed to get config section '%s': %w", m.Name(), err)
	}
	m.config = cp.GetConfig().(*Config)
	m.logger = app.Logger()

	if err := app.GetService(events.ServiceName, &m.bus); err != nil {
		return fmt.Errorf("watcher requires the event bus: %w", err)
	}
	if err := app.GetService(pipeline.ServiceName, &m.builder); err != nil {
		return fmt.Errorf("watcher requires the pipeline: %w", err)
	}
	return nil
}

// Start begins watching and schedules rebuilds
func (m *Module) Start(context.Context) error {
	if !m.config.Enabled {
		return nil
	}
	configFile := m.config.ConfigFile
	if configFile == "" {
		configFile = m.configFile
	}

	ctx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel

	w, err := New(Options{
		Root:       m.env.DappPath,
		Debounce:   m.config.Debounce,
		ConfigFile: configFile,
		OnChange:   func(paths []string) { m.requestBuild(ctx, paths) },
		OnConfig:   m.reloadPipelineConfig,
		Logger:     m.logger,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("watcher: %w", err)
	}
	for _, root := range watchRoots(m.env, m.builder.Config()) {
		if err := w.Add(root); err != nil {
			m.logger.Warn("Not watching asset source", "path", root, "error", err)
		}
	}

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		if err := w.Run(ctx); err != nil {
			m.logger.Error("File watcher stopped", "error", err)
		}
	}()

	if m.config.Schedule != "" {
		m.cron = cron.New()
		if _, err := m.cron.AddFunc(m.config.Schedule, func() { m.requestBuild(ctx, nil) }); err != nil {
			cancel()
			return fmt.Errorf("watcher: invalid schedule '%s': %w", m.config.Schedule, err)
		}
		m.cron.Start()
		m.logger.Info("Scheduled rebuilds", "schedule", m.config.Schedule)
	}
	return nil
}

// Stop ends watching and waits for a running scheduled job to return
func (m *Module) Stop(ctx context.Context) error {
	if m.cancel == nil {
		return nil
	}
	m.cancel()
	m.wg.Wait()
	if m.cron != nil {
		select {
		case <-m.cron.Stop().Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// requestBuild asks the pipeline for a build. nil paths request a full
// build.
func (m *Module) requestBuild(ctx context.Context, paths []string) {
	m.logger.Info("Requesting build", "modified", paths)
	err := m.bus.Request(ctx, pipeline.CommandBuild, []any{pipeline.BuildOptions{ModifiedAssets: paths}}, func(_ any, err error) {
		if err != nil {
			m.logger.Error("Build failed", "error", err)
			return
		}
		m.logger.Info("Build finished")
	})
	if err != nil {
		m.logger.Error("Failed to request build", "error", err)
	}
}

// reloadPipelineConfig re-feeds the pipeline section and hands it to the
// pipeline through the bus.
func (m *Module) reloadPipelineConfig() {
	cfg := pipeline.DefaultConfig()
	for _, f := range m.feeders {
		if err := f.FeedKey(pipeline.ModuleName, cfg); err != nil {
			m.logger.Error("Failed to reload pipeline config", "error", err)
			return
		}
	}
	if err := cfg.Setup(); err != nil {
		m.logger.Error("Reloaded pipeline config is invalid", "error", err)
		return
	}
	m.bus.Emit(pipeline.EventConfigLoad, cfg)
}

// watchRoots returns the paths to watch for the configured asset sources.
// A glob is watched through the directory before its first pattern element.
func watchRoots(env *dappkit.Env, cfg *pipeline.Config) []string {
	seen := make(map[string]bool)
	var roots []string
	for _, sources := range cfg.Assets {
		for _, src := range sources {
			p := src.Path
			if i := strings.IndexAny(p, "*?["); i >= 0 {
				p = filepath.Dir(p[:i+1])
			}
			p = env.DappJoin(p)
			if !seen[p] {
				seen[p] = true
				roots = append(roots, p)
			}
		}
	}
	return roots
}
