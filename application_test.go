package dappkit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testCfg struct {
	Str     string `json:"str"`
	Applied bool
}

func (c *testCfg) Setup() error {
	if c.Str == "invalid" {
		return errors.New("invalid str")
	}
	c.Applied = true
	return nil
}

// testModule records its lifecycle calls in a shared journal.
type testModule struct {
	name    string
	deps    []string
	journal *[]string
	cfg     *testCfg
	initErr error
}

func (m *testModule) Name() string { return m.name }

func (m *testModule) Dependencies() []string { return m.deps }

func (m *testModule) RegisterConfig(app Application) error {
	m.cfg = &testCfg{Str: "default"}
	app.RegisterConfigSection(m.name, NewStdConfigProvider(m.cfg))
	return nil
}

func (m *testModule) Init(Application) error {
	*m.journal = append(*m.journal, "init:"+m.name)
	return m.initErr
}

func (m *testModule) Start(context.Context) error {
	*m.journal = append(*m.journal, "start:"+m.name)
	return nil
}

func (m *testModule) Stop(context.Context) error {
	*m.journal = append(*m.journal, "stop:"+m.name)
	return nil
}

// mapFeeder feeds sections from an in-memory map.
type mapFeeder map[string]string

func (f mapFeeder) Feed(any) error { return nil }

func (f mapFeeder) FeedKey(key string, target any) error {
	if v, ok := f[key]; ok {
		target.(*testCfg).Str = v
	}
	return nil
}

func TestStdApplication_LifecycleOrder(t *testing.T) {
	var journal []string
	app := NewStdApplication(nil)
	app.RegisterModule(&testModule{name: "pipeline", deps: []string{"events"}, journal: &journal})
	app.RegisterModule(&testModule{name: "events", journal: &journal})
	app.RegisterModule(&testModule{name: "httpapi", journal: &journal})

	require.NoError(t, app.Init())
	require.NoError(t, app.Start())
	require.NotNil(t, app.Context())
	require.NoError(t, app.Stop())

	assert.Equal(t, []string{
		"init:events", "init:pipeline", "init:httpapi",
		"start:events", "start:pipeline", "start:httpapi",
		"stop:httpapi", "stop:pipeline", "stop:events",
	}, journal)
	assert.ErrorIs(t, app.Context().Err(), context.Canceled)
}

func TestStdApplication_Dependencies(t *testing.T) {
	var journal []string

	t.Run("circular", func(t *testing.T) {
		app := NewStdApplication(nil)
		app.RegisterModule(&testModule{name: "a", deps: []string{"b"}, journal: &journal})
		app.RegisterModule(&testModule{name: "b", deps: []string{"a"}, journal: &journal})
		assert.ErrorIs(t, app.Init(), ErrCircularDependency)
	})

	t.Run("missing", func(t *testing.T) {
		app := NewStdApplication(nil)
		app.RegisterModule(&testModule{name: "a", deps: []string{"ghost"}, journal: &journal})
		assert.ErrorIs(t, app.Init(), ErrModuleDependencyMissing)
	})

	t.Run("init failure", func(t *testing.T) {
		boom := errors.New("boom")
		app := NewStdApplication(nil)
		app.RegisterModule(&testModule{name: "a", journal: &journal, initErr: boom})
		assert.ErrorIs(t, app.Init(), boom)
	})
}

func TestStdApplication_ConfigFeeding(t *testing.T) {
	var journal []string
	first := &testModule{name: "first", journal: &journal}
	second := &testModule{name: "second", journal: &journal}

	app := NewStdApplication(nil, mapFeeder{"first": "from-feeder"})
	app.RegisterModule(first)
	app.RegisterModule(second)
	require.NoError(t, app.Init())

	assert.Equal(t, "from-feeder", first.cfg.Str)
	assert.True(t, first.cfg.Applied)
	assert.Equal(t, "default", second.cfg.Str)

	cp, err := app.GetConfigSection("first")
	require.NoError(t, err)
	assert.Same(t, first.cfg, cp.GetConfig())
	assert.Len(t, app.ConfigSections(), 2)

	_, err = app.GetConfigSection("nope")
	assert.ErrorIs(t, err, ErrConfigSectionNotFound)
}

func TestStdApplication_ConfigSetupError(t *testing.T) {
	var journal []string
	app := NewStdApplication(nil, mapFeeder{"bad": "invalid"})
	app.RegisterModule(&testModule{name: "bad", journal: &journal})

	err := app.Init()
	require.ErrorIs(t, err, ErrConfigSetupError)
	assert.Empty(t, journal)
}

func TestStdApplication_NilConfigSection(t *testing.T) {
	app := NewStdApplication(nil)
	app.RegisterConfigSection("empty", NewStdConfigProvider(nil))
	assert.ErrorIs(t, app.Init(), ErrConfigNilPointer)
}

type greeter interface{ Greet() string }

type englishGreeter struct{}

func (englishGreeter) Greet() string { return "hello" }

func TestStdApplication_Services(t *testing.T) {
	app := NewStdApplication(nil)
	require.NoError(t, app.RegisterService("greeter", &englishGreeter{}))
	assert.ErrorIs(t, app.RegisterService("greeter", englishGreeter{}), ErrServiceAlreadyRegistered)

	var g greeter
	require.NoError(t, app.GetService("greeter", &g))
	assert.Equal(t, "hello", g.Greet())

	var value englishGreeter
	require.NoError(t, app.GetService("greeter", &value))

	var wrong string
	assert.ErrorIs(t, app.GetService("greeter", &wrong), ErrServiceIncompatible)
	assert.ErrorIs(t, app.GetService("greeter", g), ErrTargetNotPointer)
	assert.ErrorIs(t, app.GetService("missing", &g), ErrServiceNotFound)
}
