package pipeline

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/cucumber/godog"
)

// Static errors for bdd tests
var (
	errBuildFailed       = errors.New("build failed")
	errBuildSucceeded    = errors.New("build succeeded unexpectedly")
	errUnexpectedFile    = errors.New("unexpected file in build directory")
	errMissingFile       = errors.New("file missing from build directory")
	errUnexpectedIndex   = errors.New("unexpected contracts index")
	errBundlerRan        = errors.New("bundler ran")
	errUnexpectedFailure = errors.New("unexpected failure")
)

type pipelineBDDTestContext struct {
	t   *testing.T
	f   *fixture
	err error
}

func (c *pipelineBDDTestContext) aDappWithContracts(a, b string) error {
	c.f = newFixture(c.t)
	c.err = nil
	c.f.contracts = []Contract{{ClassName: a}, {ClassName: b}}
	return nil
}

func (c *pipelineBDDTestContext) theDappHasAWebFrontend() error {
	c.f.webApp()
	return nil
}

func (c *pipelineBDDTestContext) theBundlerIsNotInstalled() error {
	c.f.cfg.BundlerCommand = filepath.Join(c.f.dir, "no-such-bundler")
	return nil
}

func (c *pipelineBDDTestContext) theBundlerBehavesLike(mode string) error {
	c.f.useHelperBundler(mode)
	return nil
}

func (c *pipelineBDDTestContext) iRunAFullBuild() error {
	c.err = c.f.pipeline().Build(testContext(c.t), BuildOptions{})
	return nil
}

func (c *pipelineBDDTestContext) iBuildAfterChanging(path string) error {
	c.err = c.f.pipeline().Build(testContext(c.t), BuildOptions{ModifiedAssets: []string{path}})
	return nil
}

func (c *pipelineBDDTestContext) theBuildShouldSucceed() error {
	if c.err != nil {
		return fmt.Errorf("%w: %w", errBuildFailed, c.err)
	}
	return nil
}

func (c *pipelineBDDTestContext) theBuildShouldFailBecauseTheBundlerExited() error {
	if c.err == nil {
		return errBuildSucceeded
	}
	if !errors.Is(c.err, ErrBundlerExited) {
		return fmt.Errorf("%w: %w", errUnexpectedFailure, c.err)
	}
	return nil
}

func (c *pipelineBDDTestContext) theBuildDirectoryShouldContain(rel string) error {
	if _, err := os.Stat(filepath.Join(c.f.dir, "dist", rel)); err != nil {
		return fmt.Errorf("%w: %s", errMissingFile, rel)
	}
	return nil
}

func (c *pipelineBDDTestContext) theBuildDirectoryShouldNotContain(rel string) error {
	if _, err := os.Stat(filepath.Join(c.f.dir, "dist", rel)); err == nil {
		return fmt.Errorf("%w: %s", errUnexpectedFile, rel)
	}
	return nil
}

func (c *pipelineBDDTestContext) theContractsIndexShouldExport(names string) error {
	data, err := os.ReadFile(filepath.Join(c.f.dir, "generated", "contracts", "index.js"))
	if err != nil {
		return err
	}
	var want strings.Builder
	want.WriteString("module.exports = {\n")
	for _, name := range strings.Split(names, ",") {
		fmt.Fprintf(&want, "%q: require('./%s').default,\n", name, name)
	}
	want.WriteString("\n};")
	if string(data) != want.String() {
		return fmt.Errorf("%w: %q", errUnexpectedIndex, data)
	}
	return nil
}

func (c *pipelineBDDTestContext) theBundlerShouldNotHaveRun() error {
	c.f.mu.Lock()
	defer c.f.mu.Unlock()
	if len(c.f.messages) > 0 {
		return fmt.Errorf("%w: %v", errBundlerRan, c.f.messages)
	}
	return nil
}

func TestPipelineBuildBDD(t *testing.T) {
	suite := godog.TestSuite{
		ScenarioInitializer: func(ctx *godog.ScenarioContext) {
			testCtx := &pipelineBDDTestContext{t: t}

			ctx.Given(`^a dapp with contracts "([^"]*)" and "([^"]*)"$`, testCtx.aDappWithContracts)
			ctx.Given(`^the dapp has a web frontend$`, testCtx.theDappHasAWebFrontend)
			ctx.Given(`^the bundler is not installed$`, testCtx.theBundlerIsNotInstalled)
			ctx.Given(`^the bundler behaves like "([^"]*)"$`, testCtx.theBundlerBehavesLike)
			ctx.When(`^I run a full build$`, testCtx.iRunAFullBuild)
			ctx.When(`^I build after changing "([^"]*)"$`, testCtx.iBuildAfterChanging)
			ctx.Then(`^the build should succeed$`, testCtx.theBuildShouldSucceed)
			ctx.Then(`^the build should fail because the bundler exited$`, testCtx.theBuildShouldFailBecauseTheBundlerExited)
			ctx.Then(`^the build directory should contain "([^"]*)"$`, testCtx.theBuildDirectoryShouldContain)
			ctx.Then(`^the build directory should not contain "([^"]*)"$`, testCtx.theBuildDirectoryShouldNotContain)
			ctx.Then(`^the contracts index should export "([^"]*)"$`, testCtx.theContractsIndexShouldExport)
			ctx.Then(`^the bundler should not have run$`, testCtx.theBundlerShouldNotHaveRun)
		},
		Options: &godog.Options{
			Format:   "pretty",
			Paths:    []string{"features/pipeline_build.feature"},
			TestingT: t,
			Strict:   true,
		},
	}

	if suite.Run() != 0 {
		t.Fatal("non-zero status returned, failed to run feature tests")
	}
}
