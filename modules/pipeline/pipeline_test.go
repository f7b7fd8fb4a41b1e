package pipeline

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/GoCodeAlone/dappkit"
	"github.com/GoCodeAlone/dappkit/modules/events"
	"github.com/GoCodeAlone/dappkit/modules/progress"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fixture struct {
	t            *testing.T
	dir          string
	env          *dappkit.Env
	bus          *events.Bus
	cfg          *Config
	contracts    []Contract
	placeholders atomic.Int32

	mu       sync.Mutex
	messages []string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	dir := t.TempDir()
	f := &fixture{
		t:   t,
		dir: dir,
		env: &dappkit.Env{PWD: dir, DappPath: dir},
		bus: events.NewBus(),
		cfg: DefaultConfig(),
	}

	require.NoError(t, f.bus.SetCommandHandler(CommandContractsList, func(_ context.Context, _ []any, reply events.Reply) {
		reply(f.contracts, nil)
	}))
	require.NoError(t, f.bus.SetCommandHandler(CommandCodeGenerator, func(_ context.Context, args []any, reply events.Reply) {
		name := args[0].(string)
		rel := filepath.Join(f.cfg.GenerationDir, "contracts", name+".js")
		if err := os.WriteFile(filepath.Join(dir, rel), []byte("export default {};\n"), 0o644); err != nil {
			reply(nil, err)
			return
		}
		reply(rel, nil)
	}))
	require.NoError(t, f.bus.SetCommandHandler(CommandPlaceholder, func(_ context.Context, _ []any, reply events.Reply) {
		f.placeholders.Add(1)
		reply(nil, nil)
	}))
	return f
}

func (f *fixture) write(rel, content string) {
	f.t.Helper()
	path := filepath.Join(f.dir, rel)
	require.NoError(f.t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(f.t, os.WriteFile(path, []byte(content), 0o644))
}

func (f *fixture) read(rel string) string {
	f.t.Helper()
	data, err := os.ReadFile(filepath.Join(f.dir, rel))
	require.NoError(f.t, err)
	return string(data)
}

func (f *fixture) exists(rel string) bool {
	_, err := os.Stat(filepath.Join(f.dir, rel))
	return err == nil
}

func (f *fixture) pipeline() *Pipeline {
	return New(f.cfg, f.env, f.bus,
		WithConsole(io.Discard),
		WithTimerOptions(
			progress.WithSpinnerOutput(io.Discard),
			progress.WithReporter(func(msg string) {
				f.mu.Lock()
				f.messages = append(f.messages, msg)
				f.mu.Unlock()
			}),
		),
	)
}

func (f *fixture) useHelperBundler(mode string) {
	f.t.Setenv("GO_WANT_HELPER_PROCESS", "1")
	f.cfg.BundlerCommand = os.Args[0]
	f.cfg.BundlerArgs = helperArgs(mode)
}

func (f *fixture) webApp() {
	f.write("bundler.config.json", `{"module": {"rules": [{"test": "\\.js$"}]}}`)
	f.write("app/app.js", "console.log('app');\n")
	f.write("app/index.html", "<html>app</html>")
	f.write("app/style.css", "body {}")
	f.cfg.Assets = map[string][]AssetSource{
		"app.js":     {{Path: "app/app.js"}},
		"index.html": {{Path: "app/index.html"}},
		"app.css":    {{Path: "app/style.css"}},
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestBuildWithoutAssetsOnlyBuildsContracts(t *testing.T) {
	f := newFixture(t)
	f.contracts = []Contract{
		{ClassName: "Token", ABI: []byte(`[]`), Bytecode: "0x60"},
		{ClassName: "Crowdsale", Bytecode: "0x61"},
	}
	f.cfg.BundlerCommand = filepath.Join(f.dir, "no-such-bundler")

	require.NoError(t, f.pipeline().Build(testContext(t), BuildOptions{}))

	assert.Contains(t, f.read("dist/contracts/Token.json"), `"className": "Token"`)
	assert.Contains(t, f.read("dist/contracts/Crowdsale.json"), `"code": "0x61"`)
	assert.Equal(t,
		"module.exports = {\n\"Token\": require('./Token').default,\n\"Crowdsale\": require('./Crowdsale').default,\n\n};",
		f.read("generated/contracts/index.js"))
	assert.Zero(t, f.placeholders.Load())
	assert.Empty(t, f.messages, "bundler must not run")

	entries, err := os.ReadDir(filepath.Join(f.dir, "generated", "contracts"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".index-"), "temporary index left behind: %s", e.Name())
	}
}

func TestBuildWithNoContractsWritesEmptyIndex(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.pipeline().Build(testContext(t), BuildOptions{}))
	assert.Equal(t, "module.exports = {\n\n};", f.read("generated/contracts/index.js"))
}

func TestContractArtifactWriteFailureKeepsSiblings(t *testing.T) {
	f := newFixture(t)
	f.contracts = []Contract{{ClassName: "Token"}, {ClassName: "Crowdsale"}}
	f.write("generated/contracts/index.js", "previous")
	require.NoError(t, os.MkdirAll(filepath.Join(f.dir, "dist", "contracts", "Token.json"), 0o755))

	err := f.pipeline().Build(testContext(t), BuildOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "pipeline: contracts: Token")
	assert.Contains(t, f.read("dist/contracts/Crowdsale.json"), `"className": "Crowdsale"`)
	assert.Equal(t, "previous", f.read("generated/contracts/index.js"))
}

func TestCodeGeneratorFailureKeepsPreviousIndex(t *testing.T) {
	f := newFixture(t)
	f.contracts = []Contract{{ClassName: "Token"}, {ClassName: "Crowdsale"}}
	f.write("generated/contracts/index.js", "previous")
	generatorErr := errors.New("template failed")
	f.bus.RemoveCommandHandler(CommandCodeGenerator)
	require.NoError(t, f.bus.SetCommandHandler(CommandCodeGenerator, func(_ context.Context, args []any, reply events.Reply) {
		if args[0] == "Crowdsale" {
			reply(nil, generatorErr)
			return
		}
		reply(filepath.Join(f.cfg.GenerationDir, "contracts", "Token.js"), nil)
	}))

	_, err := f.pipeline().BuildContracts(testContext(t))
	assert.ErrorIs(t, err, generatorErr)
	assert.Equal(t, "previous", f.read("generated/contracts/index.js"))

	entries, err := os.ReadDir(filepath.Join(f.dir, "generated", "contracts"))
	require.NoError(t, err)
	for _, e := range entries {
		assert.False(t, strings.HasPrefix(e.Name(), ".index-"), "temporary index left behind: %s", e.Name())
	}
}

func TestContractArtifactKeepsWholeRecord(t *testing.T) {
	f := newFixture(t)
	var token Contract
	require.NoError(t, json.Unmarshal([]byte(`{
		"className": "Token",
		"abiDefinition": [],
		"code": "0x1",
		"runtimeBytecode": "0x2",
		"gasEstimates": {"creation": [1, 2]},
		"functionHashes": {"transfer(address,uint256)": "a9059cbb"}
	}`), &token))
	f.contracts = []Contract{token}

	require.NoError(t, f.pipeline().Build(testContext(t), BuildOptions{}))

	var written map[string]any
	require.NoError(t, json.Unmarshal([]byte(f.read("dist/contracts/Token.json")), &written))
	assert.Equal(t, "Token", written["className"])
	assert.Equal(t, "0x1", written["code"])
	assert.Equal(t, "0x2", written["runtimeBytecode"])
	assert.Contains(t, written, "gasEstimates")
	assert.Equal(t, map[string]any{"transfer(address,uint256)": "a9059cbb"}, written["functionHashes"])
}

func TestContractNamedFieldsWinOverExtra(t *testing.T) {
	c := Contract{
		ClassName: "Token",
		Extra:     map[string]json.RawMessage{"className": []byte(`"Other"`), "source": []byte(`"Token.sol"`)},
	}
	data, err := json.Marshal(c)
	require.NoError(t, err)
	assert.JSONEq(t, `{"className": "Token", "source": "Token.sol"}`, string(data))
}

func TestContractClassNamesMustBeFileNames(t *testing.T) {
	f := newFixture(t)
	f.contracts = []Contract{{ClassName: "../../escape"}}

	_, err := f.pipeline().BuildContracts(testContext(t))
	assert.ErrorIs(t, err, ErrInvalidClassName)
	assert.False(t, f.exists("escape.json"))

	for _, name := range []string{"", ".", "..", "a/b", `a\b`} {
		assert.ErrorIs(t, ValidateClassName(name), ErrInvalidClassName, name)
	}
	assert.NoError(t, ValidateClassName("Token"))
}

func TestUnsetConcurrencyDoesNotBlockBuild(t *testing.T) {
	f := newFixture(t)
	f.cfg = &Config{Enabled: true, BuildDir: "dist", GenerationDir: "generated"}
	f.contracts = []Contract{{ClassName: "Token"}}
	p := f.pipeline()

	done := make(chan error, 1)
	go func() { done <- p.Build(testContext(t), BuildOptions{}) }()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("build did not finish")
	}
	assert.True(t, f.exists("dist/contracts/Token.json"))
	assert.Zero(t, p.Config().MaxConcurrency, "the pipeline config itself is left alone")
}

func TestBuildSkipsBundlerWhenNoScriptChanged(t *testing.T) {
	f := newFixture(t)
	f.webApp()
	f.cfg.BundlerCommand = filepath.Join(f.dir, "no-such-bundler")

	err := f.pipeline().Build(testContext(t), BuildOptions{ModifiedAssets: []string{"app/x.css"}})
	require.NoError(t, err)

	assert.Equal(t, "<html>app</html>", f.read("dist/index.html"))
	assert.Equal(t, "body {}", f.read("dist/app.css"))
	assert.False(t, f.exists("dist/index-temp.html"))
	assert.False(t, f.exists("dist/app.js"))
}

func TestBuildWithEmptyModifiedListSkipsBundler(t *testing.T) {
	f := newFixture(t)
	f.webApp()
	f.cfg.BundlerCommand = filepath.Join(f.dir, "no-such-bundler")

	require.NoError(t, f.pipeline().Build(testContext(t), BuildOptions{ModifiedAssets: []string{}}))
	assert.True(t, f.exists("dist/index.html"))
}

func TestBuildRunsBundler(t *testing.T) {
	f := newFixture(t)
	f.webApp()
	f.useHelperBundler("bundler-ok")

	require.NoError(t, f.pipeline().Build(testContext(t), BuildOptions{}))

	assert.Equal(t, "// bundled\n// runtime\n", f.read("dist/app.js"))
	assert.Equal(t, "<html>app</html>", f.read("dist/index.html"))
	assert.False(t, f.exists("dist/index-temp.html"))

	f.mu.Lock()
	defer f.mu.Unlock()
	require.NotEmpty(t, f.messages)
	assert.True(t, strings.HasPrefix(f.messages[0], "Pipeline: Bundling dapp using 'development' config..."))
	assert.True(t, strings.HasPrefix(f.messages[len(f.messages)-1], "Pipeline: Finished bundling dapp in"))
}

func TestBuildRunsBundlerForMatchingChange(t *testing.T) {
	f := newFixture(t)
	f.webApp()
	f.useHelperBundler("bundler-ok")

	require.NoError(t, f.pipeline().Build(testContext(t), BuildOptions{ModifiedAssets: []string{"app/app.js"}}))
	assert.True(t, f.exists("dist/app.js"))
}

func TestBundlerExitBeforeResultFailsBuild(t *testing.T) {
	f := newFixture(t)
	f.webApp()
	f.useHelperBundler("bundler-crash")

	err := f.pipeline().Build(testContext(t), BuildOptions{})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBundlerExited)
	assert.Contains(t, err.Error(), "pipeline: bundler:")
	assert.False(t, f.exists("dist/index.html"), "later stages must not run")
}

func TestBundlerErrorResultFailsBuild(t *testing.T) {
	f := newFixture(t)
	f.webApp()
	f.useHelperBundler("bundler-error")

	err := f.pipeline().Build(testContext(t), BuildOptions{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "syntax error in app.js")
}

func TestBundlerNotConfigured(t *testing.T) {
	f := newFixture(t)
	f.webApp()

	err := f.pipeline().Build(testContext(t), BuildOptions{})
	assert.ErrorIs(t, err, ErrBundlerNotConfigured)
}

func TestPlaceholderRequestedAfterFirstBuild(t *testing.T) {
	f := newFixture(t)
	f.webApp()
	p := f.pipeline()
	noScripts := BuildOptions{ModifiedAssets: []string{"app/style.css"}}

	require.NoError(t, p.Build(testContext(t), noScripts))
	assert.Zero(t, f.placeholders.Load())

	require.NoError(t, p.Build(testContext(t), noScripts))
	assert.EqualValues(t, 1, f.placeholders.Load())
}

func TestAssetsConcatenateAndTransform(t *testing.T) {
	f := newFixture(t)
	f.write("src/a.html", "<p>a</p>")
	f.write("src/b.html", "<p>b</p>")
	f.write("src/raw.html", "<p>raw</p>")
	f.cfg.Assets = map[string][]AssetSource{
		"page.html": {
			{Path: "src/a.html"},
			{Path: "src/b.html"},
			{Path: "src/raw.html", SkipPipeline: true},
		},
	}

	p := f.pipeline()
	var seen []string
	p.RegisterPlugin(PluginFunc(func(path, content string) (string, error) {
		seen = append(seen, filepath.Base(path))
		return strings.ToUpper(content), nil
	}))
	p.RegisterPlugin(PluginFunc(func(_, content string) (string, error) {
		return content + "!", nil
	}))

	require.NoError(t, p.Build(testContext(t), BuildOptions{ModifiedAssets: []string{}}))
	assert.Equal(t, "<P>A</P>!\n<P>B</P>!\n<p>raw</p>", f.read("dist/page.html"))
	assert.Equal(t, []string{"a.html", "b.html"}, seen)
}

func TestAssetsCopyDirectoriesAndGlobs(t *testing.T) {
	f := newFixture(t)
	f.write("app/images/logo.png", "png")
	f.write("app/images/icons/x.svg", "svg")
	f.write("app/fonts/a.woff", "a")
	f.write("app/fonts/b.woff", "b")
	f.cfg.Assets = map[string][]AssetSource{
		"images/": {{Path: "app/images", Basedir: "app/images"}},
		"fonts":   {{Path: "app/fonts/*.woff"}},
	}

	require.NoError(t, f.pipeline().Build(testContext(t), BuildOptions{ModifiedAssets: []string{}}))
	assert.Equal(t, "png", f.read("dist/images/logo.png"))
	assert.Equal(t, "svg", f.read("dist/images/icons/x.svg"))
	assert.Equal(t, "a", f.read("dist/fonts/a.woff"))
	assert.Equal(t, "b", f.read("dist/fonts/b.woff"))
}

func TestAssetFailuresAreAggregated(t *testing.T) {
	f := newFixture(t)
	f.write("app/ok.css", "ok")
	f.cfg.Assets = map[string][]AssetSource{
		"broken-a.css": {{Path: "app/missing-a.css"}},
		"broken-b.css": {{Path: "app/missing-b.css"}},
		"ok.css":       {{Path: "app/ok.css"}},
	}

	err := f.pipeline().Build(testContext(t), BuildOptions{ModifiedAssets: []string{}})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broken-a.css")
	assert.Contains(t, err.Error(), "broken-b.css")
	assert.Equal(t, "ok", f.read("dist/ok.css"), "siblings still complete")
}

func TestPluginErrorFailsTarget(t *testing.T) {
	f := newFixture(t)
	f.write("app/index.html", "x")
	f.cfg.Assets = map[string][]AssetSource{"index.html": {{Path: "app/index.html"}}}

	p := f.pipeline()
	boom := errors.New("boom")
	p.RegisterPlugin(PluginFunc(func(string, string) (string, error) { return "", boom }))

	err := p.Build(testContext(t), BuildOptions{ModifiedAssets: []string{}})
	assert.ErrorIs(t, err, boom)
	assert.False(t, f.exists("dist/index.html"))
}

func TestEntryPageKeepsCase(t *testing.T) {
	f := newFixture(t)
	f.write("app/Index.HTML", "<html/>")
	f.cfg.Assets = map[string][]AssetSource{"Index.HTML": {{Path: "app/Index.HTML"}}}

	require.NoError(t, f.pipeline().Build(testContext(t), BuildOptions{ModifiedAssets: []string{}}))
	assert.Equal(t, "<html/>", f.read("dist/Index.HTML"))
	assert.False(t, f.exists("dist/Index-temp.HTML"))
	assert.Equal(t, "Index-temp.HTML", placeholderName("Index.HTML"))
}

func TestEveryEntryPageReplacesItsPlaceholder(t *testing.T) {
	f := newFixture(t)
	f.write("app/index.html", "<html>main</html>")
	f.write("app/Index.htm", "<html>legacy</html>")
	f.cfg.Assets = map[string][]AssetSource{
		"index.html": {{Path: "app/index.html"}},
		"Index.htm":  {{Path: "app/Index.htm"}},
	}

	require.NoError(t, f.pipeline().Build(testContext(t), BuildOptions{ModifiedAssets: []string{}}))
	assert.Equal(t, "<html>main</html>", f.read("dist/index.html"))
	assert.Equal(t, "<html>legacy</html>", f.read("dist/Index.htm"))
	assert.False(t, f.exists("dist/index-temp.html"))
	assert.False(t, f.exists("dist/Index-temp.htm"))
}

func TestReplacePlaceholderWithoutTemporaryPage(t *testing.T) {
	assert.NoError(t, replacePlaceholder(t.TempDir(), "index.html"))
}

func TestRegisteredImportsReachBundler(t *testing.T) {
	f := newFixture(t)
	f.contracts = []Contract{{ClassName: "Token"}}
	p := f.pipeline()
	p.RegisterImport("dappkit/extra", "/opt/extra")

	b := p.newBuild(BuildOptions{})
	require.NoError(t, p.contractsStage(testContext(t), b))
	require.NoError(t, p.importsStage(testContext(t), b))

	assert.Equal(t, filepath.Join(f.dir, "generated", RuntimeBridgeFile), b.imports[ImportRuntime])
	assert.Equal(t, filepath.Join(f.dir, "generated", "contracts"), b.imports[ImportContracts])
	assert.Equal(t, filepath.Join(f.dir, "generated", "contracts", "Token.js"), b.imports["dappkit/contracts/Token"])
	assert.Equal(t, "/opt/extra", b.imports["dappkit/extra"])
}

func TestContractsListRejectsUnexpectedReply(t *testing.T) {
	f := newFixture(t)
	f.bus.RemoveCommandHandler(CommandContractsList)
	require.NoError(t, f.bus.SetCommandHandler(CommandContractsList, func(_ context.Context, _ []any, reply events.Reply) {
		reply("not a list", nil)
	}))

	_, err := f.pipeline().BuildContracts(testContext(t))
	assert.ErrorIs(t, err, ErrUnexpectedReply)
}

func TestBuildsDoNotOverlap(t *testing.T) {
	f := newFixture(t)
	var active, maxActive atomic.Int32
	f.bus.RemoveCommandHandler(CommandContractsList)
	require.NoError(t, f.bus.SetCommandHandler(CommandContractsList, func(_ context.Context, _ []any, reply events.Reply) {
		n := active.Add(1)
		for {
			m := maxActive.Load()
			if n <= m || maxActive.CompareAndSwap(m, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		active.Add(-1)
		reply(nil, nil)
	}))

	p := f.pipeline()
	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, p.Build(testContext(t), BuildOptions{}))
		}()
	}
	wg.Wait()
	assert.EqualValues(t, 1, maxActive.Load())
}

func TestSetConfigAppliesToNextBuild(t *testing.T) {
	f := newFixture(t)
	p := f.pipeline()

	next := DefaultConfig()
	next.BuildDir = "out"
	p.SetConfig(next)

	require.NoError(t, p.Build(testContext(t), BuildOptions{}))
	assert.True(t, f.exists("out/contracts"))
	assert.Equal(t, "out", p.Config().BuildDir)
}
