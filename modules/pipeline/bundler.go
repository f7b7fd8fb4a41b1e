package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/dappkit/modules/procs"
	"github.com/GoCodeAlone/dappkit/modules/progress"
)

// BundlerInit is the payload of the init message sent to the bundler.
type BundlerInit struct {
	ConfigName string  `json:"bundlerConfigName"`
	ConfigPath string  `json:"bundlerConfigPath"`
	DappPath   string  `json:"dappPath"`
	BuildDir   string  `json:"buildDir"`
	Pipeline   *Config `json:"pipelineConfig"`
}

// BundlerBuild is the payload of the build message sent to the bundler.
type BundlerBuild struct {
	Assets  map[string][]AssetSource `json:"assets"`
	Imports map[string]string        `json:"importsList"`
}

// shouldBundle decides whether the bundler must run for this build.
func (p *Pipeline) shouldBundle(b *build) (bool, error) {
	if b.modified == nil {
		return true, nil
	}
	if len(b.modified) == 0 {
		return false, nil
	}
	cfg, err := ReadBundlerConfig(p.env.DappJoin(b.cfg.BundlerConfigPath))
	if err != nil {
		return false, err
	}
	return cfg.Matches(b.modified), nil
}

func scriptTargets(assets map[string][]AssetSource) []string {
	var targets []string
	for _, target := range sortedKeys(assets) {
		if strings.HasSuffix(target, ".js") {
			targets = append(targets, target)
		}
	}
	return targets
}

func (p *Pipeline) bundlerStage(ctx context.Context, b *build) error {
	run, err := p.shouldBundle(b)
	if err != nil {
		return err
	}
	if !run {
		p.logger.Debug("Skipping bundler, no changed asset matches its rules")
		return nil
	}
	targets := scriptTargets(b.cfg.Assets)
	if len(targets) == 0 {
		return nil
	}
	if b.cfg.BundlerCommand == "" {
		return ErrBundlerNotConfigured
	}
	return p.runBundler(ctx, b, targets)
}

func (p *Pipeline) newTimer(b *build, targets []string) *progress.Timer {
	var listing string
	if !b.cfg.UseDashboard {
		for _, t := range targets {
			listing += "\n  " + filepath.Join(b.buildDir, t)
		}
	}
	interval := time.Second
	if b.cfg.UseDashboard {
		interval = 5 * time.Second
	}
	name := b.cfg.BundlerConfigName
	opts := append([]progress.Option{progress.WithLogger(p.logger)}, p.timerOpts...)
	return progress.New(progress.Config{
		Interval:             interval,
		LongRunningThreshold: b.cfg.LongRunningThreshold,
		ShowSpinner:          !b.cfg.UseDashboard,
		StartMessage:         fmt.Sprintf("Pipeline: Bundling dapp using '%s' config...%s", name, listing),
		OngoingMessage:       fmt.Sprintf("Pipeline: Still bundling dapp using '%s' config... (%s)%s", name, progress.DurationPlaceholder, listing),
		DoneMessage:          fmt.Sprintf("Pipeline: Finished bundling dapp in %s%s", progress.DurationPlaceholder, listing),
	}, opts...)
}

// runBundler drives one bundler process through init and build. The step
// ends with the first of: a built result, an error result, or the process
// exiting before either.
func (p *Pipeline) runBundler(ctx context.Context, b *build, targets []string) error {
	timer := p.newTimer(b, targets)
	timer.Start()
	defer timer.End()

	var settled atomic.Bool
	outcome := make(chan error, 1)
	settle := func(err error) {
		if settled.CompareAndSwap(false, true) {
			outcome <- err
		}
	}

	proc, err := procs.New(procs.Options{
		Name:    "bundler",
		Command: b.cfg.BundlerCommand,
		Args:    b.cfg.BundlerArgs,
		Dir:     p.env.DappPath,
		Env:     p.env.Environ(),
		Console: p.console,
		Logger:  p.logger,
		Emitter: p.bus,
		ExitCallback: func(code int) {
			if settled.Load() {
				p.logger.Debug("Bundler process exited", "code", code)
				return
			}
			settle(fmt.Errorf("%w: exit code %d", ErrBundlerExited, code))
		},
	})
	if err != nil {
		return err
	}

	proc.Once(procs.ResultBuilt, func(m procs.Message) {
		settle(m.Error())
		_ = proc.Kill()
	})
	proc.Once(procs.ResultError, func(m procs.Message) {
		err := m.Error()
		if err == nil {
			err = ErrBundlerFailed
		}
		settle(err)
		_ = proc.Kill()
	})
	proc.Once(procs.ResultDone, func(procs.Message) { timer.End() })

	if err := proc.Start(); err != nil {
		return err
	}
	proc.SendAction(procs.ActionInit, BundlerInit{
		ConfigName: b.cfg.BundlerConfigName,
		ConfigPath: p.env.DappJoin(b.cfg.BundlerConfigPath),
		DappPath:   p.env.DappPath,
		BuildDir:   b.buildDir,
		Pipeline:   b.cfg,
	})
	proc.SendAction(procs.ActionBuild, BundlerBuild{Assets: b.cfg.Assets, Imports: b.imports})

	select {
	case err = <-outcome:
	case <-ctx.Done():
		_ = proc.Kill()
		err = ctx.Err()
	}

	// The build directory is ours again only once the bundler is gone.
	<-proc.Done()
	return err
}
