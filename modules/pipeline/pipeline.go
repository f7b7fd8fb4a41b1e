// Package pipeline builds the dapp: it regenerates contract artifacts,
// decides whether the bundler must run, drives the bundler subordinate
// process, transforms and writes the remaining assets and swaps the
// placeholder page for the freshly built entry page.
//
// A build is a fixed sequence of stages. Each stage completes before the
// next starts; work inside a stage may run concurrently. Builds never
// overlap.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sort"
	"sync"

	"github.com/GoCodeAlone/dappkit"
	"github.com/GoCodeAlone/dappkit/modules/events"
	"github.com/GoCodeAlone/dappkit/modules/progress"
	"go.uber.org/multierr"
)

// Bus commands and events used by the pipeline.
const (
	CommandBuild          = "pipeline:build"
	CommandBuildContracts = "pipeline:build:contracts"
	CommandContractsList  = "contracts:list"
	CommandCodeGenerator  = "code-generator:contract"
	CommandPlaceholder    = "placeholder:build"
	EventConfigLoad       = "config:load:pipeline"
)

// Import names always present in a bundler build.
const (
	ImportRuntime   = "dappkit/runtime"
	ImportContracts = "dappkit/contracts"
)

// RuntimeBridgeFile is the generated runtime module, relative to the
// generation directory.
const RuntimeBridgeFile = "runtime.js"

// Bus is the part of the event bus the pipeline uses.
type Bus interface {
	Call(ctx context.Context, command string, args ...any) (any, error)
	SetCommandHandler(command string, handler events.CommandHandler) error
	On(event string, handler events.Handler) events.Subscription
	Emit(event string, args ...any)
}

// BuildOptions are the arguments of a build. A nil ModifiedAssets means a
// full build; an empty, non-nil list means nothing changed.
type BuildOptions struct {
	ModifiedAssets []string `json:"modifiedAssets"`
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(logger dappkit.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithConsole sets where bundler output is relayed.
func WithConsole(w io.Writer) Option {
	return func(p *Pipeline) { p.console = w }
}

// WithTimerOptions passes options to every bundling progress timer.
func WithTimerOptions(opts ...progress.Option) Option {
	return func(p *Pipeline) { p.timerOpts = append(p.timerOpts, opts...) }
}

// Pipeline is the build pipeline of one dapp.
type Pipeline struct {
	env       *dappkit.Env
	bus       Bus
	logger    dappkit.Logger
	console   io.Writer
	timerOpts []progress.Option

	mu      sync.Mutex
	cfg     *Config
	plugins []Plugin
	imports []Import

	buildMu    sync.Mutex
	firstBuild bool
}

// New creates a pipeline for the dapp at env.DappPath.
func New(cfg *Config, env *dappkit.Env, bus Bus, opts ...Option) *Pipeline {
	p := &Pipeline{
		env:        env,
		bus:        bus,
		logger:     dappkit.NopLogger(),
		cfg:        cfg,
		firstBuild: true,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// SetConfig replaces the configuration used by subsequent builds.
func (p *Pipeline) SetConfig(cfg *Config) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.cfg = cfg
}

// Config returns a copy of the current configuration.
func (p *Pipeline) Config() *Config {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.cfg.clone()
}

// RegisterPlugin appends a plugin to the transform chain. Plugins run in
// registration order.
func (p *Pipeline) RegisterPlugin(plugin Plugin) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.plugins = append(p.plugins, plugin)
}

// RegisterImport adds an import mapping to every bundler build.
func (p *Pipeline) RegisterImport(name, location string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.imports = append(p.imports, Import{Name: name, Location: location})
}

// build is the descriptor of one build invocation.
type build struct {
	cfg       *Config
	buildDir  string
	modified  []string
	imports   map[string]string
	plugins   []Plugin
	extra     []Import
	contracts []Contract

	placeholderMu    sync.Mutex
	placeholderPages []string
}

type stage struct {
	name string
	run  func(ctx context.Context, b *build) error
}

// Build runs a build. Without asset files only contracts are built.
func (p *Pipeline) Build(ctx context.Context, opts BuildOptions) error {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()

	b := p.newBuild(opts)
	if !b.cfg.Enabled || len(b.cfg.Assets) == 0 {
		return p.runStages(ctx, b, []stage{{"contracts", p.contractsStage}})
	}

	return p.runStages(ctx, b, []stage{
		{"placeholder", p.placeholderStage},
		{"contracts", p.contractsStage},
		{"imports", p.importsStage},
		{"bundler", p.bundlerStage},
		{"assets", p.assetsStage},
		{"finalize", p.finalizeStage},
	})
}

// BuildContracts regenerates the contract artifacts only and returns the
// contracts that were written.
func (p *Pipeline) BuildContracts(ctx context.Context) ([]Contract, error) {
	p.buildMu.Lock()
	defer p.buildMu.Unlock()

	b := p.newBuild(BuildOptions{})
	if err := p.runStages(ctx, b, []stage{{"contracts", p.contractsStage}}); err != nil {
		return nil, err
	}
	return b.contracts, nil
}

func (p *Pipeline) newBuild(opts BuildOptions) *build {
	p.mu.Lock()
	defer p.mu.Unlock()
	cfg := p.cfg.clone()
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = defaultMaxConcurrency
	}
	return &build{
		cfg:      cfg,
		buildDir: p.env.DappJoin(cfg.BuildDir),
		modified: opts.ModifiedAssets,
		imports:  make(map[string]string),
		plugins:  append([]Plugin(nil), p.plugins...),
		extra:    append([]Import(nil), p.imports...),
	}
}

func (p *Pipeline) runStages(ctx context.Context, b *build, stages []stage) error {
	for _, s := range stages {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("pipeline: %s: %w", s.name, err)
		}
		if err := s.run(ctx, b); err != nil {
			err = fmt.Errorf("pipeline: %s: %w", s.name, err)
			p.logger.Error("Pipeline stage failed", "stage", s.name, "error", err)
			return err
		}
		p.logger.Debug("Pipeline stage finished", "stage", s.name)
	}
	return nil
}

// placeholderStage asks for a placeholder page on every build but the
// first of the session.
func (p *Pipeline) placeholderStage(ctx context.Context, _ *build) error {
	p.mu.Lock()
	first := p.firstBuild
	p.firstBuild = false
	p.mu.Unlock()
	if first {
		return nil
	}
	_, err := p.bus.Call(ctx, CommandPlaceholder)
	return err
}

func (p *Pipeline) contractsStage(ctx context.Context, b *build) error {
	contracts, err := p.buildContracts(ctx, b)
	if err != nil {
		return err
	}
	b.contracts = contracts
	return nil
}

// importsStage adds the always-present imports and the registered ones.
func (p *Pipeline) importsStage(_ context.Context, b *build) error {
	generationDir := p.env.DappJoin(b.cfg.GenerationDir)
	b.imports[ImportRuntime] = filepath.Join(generationDir, RuntimeBridgeFile)
	b.imports[ImportContracts] = filepath.Join(generationDir, "contracts")
	for _, imp := range b.extra {
		b.imports[imp.Name] = imp.Location
	}
	return nil
}

// finalizeStage moves every built entry page over its placeholder.
func (p *Pipeline) finalizeStage(_ context.Context, b *build) error {
	b.placeholderMu.Lock()
	pages := append([]string(nil), b.placeholderPages...)
	b.placeholderMu.Unlock()
	sort.Strings(pages)

	var errs error
	for _, page := range pages {
		errs = multierr.Append(errs, replacePlaceholder(b.buildDir, page))
	}
	return errs
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
