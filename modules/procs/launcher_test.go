package procs

import (
	"bytes"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type syncBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *syncBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *syncBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

type recordingEmitter struct {
	mu     sync.Mutex
	states []State
}

func (e *recordingEmitter) Emit(event string, args ...any) {
	if event != StateEvent {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.states = append(e.states, args[0].(Status).State)
}

func (e *recordingEmitter) seen() []State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]State(nil), e.states...)
}

func waitDone(t *testing.T, p *Process) {
	t.Helper()
	select {
	case <-p.Done():
	case <-time.After(10 * time.Second):
		t.Fatalf("process %s did not exit", p.Name())
	}
}

func TestNew_RequiresCommand(t *testing.T) {
	_, err := New(Options{Name: "empty"})
	assert.ErrorIs(t, err, ErrNoCommand)
}

func TestProcess_ResultRoundTrip(t *testing.T) {
	emitter := &recordingEmitter{}
	opts := helperOptions("echo")
	opts.Emitter = emitter
	console := &syncBuffer{}
	opts.Console = console

	exitCodes := make(chan int, 2)
	opts.ExitCallback = func(code int) { exitCodes <- code }

	p, err := New(opts)
	require.NoError(t, err)

	ready := make(chan struct{})
	p.Once(ResultReady, func(Message) { close(ready) })
	built := make(chan map[string]string, 1)
	p.Once(ResultBuilt, func(m Message) {
		var payload map[string]string
		assert.NoError(t, m.Decode(&payload))
		built <- payload
	})
	failed := make(chan error, 1)
	p.Once(ResultError, func(m Message) { failed <- m.Error() })
	exited := make(chan struct{})
	p.Once(ResultExit, func(Message) { close(exited) })

	require.NoError(t, p.Start())
	assert.ErrorIs(t, p.Start(), ErrAlreadyStarted)

	<-ready
	assert.Equal(t, StateRunning, p.State())

	p.SendAction(ActionInit, map[string]string{"network": "dev"})
	assert.Equal(t, map[string]string{"network": "dev"}, <-built)

	p.SendAction(ActionBuild, nil)
	assert.EqualError(t, <-failed, "bundle failed")

	p.SendAction(ActionExit, nil)
	<-exited
	waitDone(t, p)

	assert.Equal(t, 0, <-exitCodes)
	assert.Empty(t, exitCodes)
	assert.Equal(t, StateExited, p.State())
	assert.Equal(t, []State{StateRunning, StateExited}, emitter.seen())
	assert.Eventually(t, func() bool { return strings.Contains(console.String(), "building") }, time.Second, 10*time.Millisecond)

	// Sending after exit is dropped, killing again is a no-op.
	p.SendAction(ActionInit, nil)
	assert.NoError(t, p.Kill())
}

func TestProcess_OnceIgnoresDuplicateResults(t *testing.T) {
	p, err := New(helperOptions("duplicate"))
	require.NoError(t, err)

	var mu sync.Mutex
	var onceCalls, onCalls int
	p.Once(ResultBuilt, func(Message) {
		mu.Lock()
		onceCalls++
		mu.Unlock()
	})
	p.On(ResultBuilt, func(Message) {
		mu.Lock()
		onCalls++
		mu.Unlock()
	})

	require.NoError(t, p.Start())
	waitDone(t, p)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, onceCalls)
	assert.Equal(t, 3, onCalls)
}

func TestProcess_ForeignLinesAreDropped(t *testing.T) {
	p, err := New(helperOptions("stray"))
	require.NoError(t, err)

	built := make(chan string, 1)
	p.Once(ResultBuilt, func(m Message) {
		var payload string
		assert.NoError(t, m.Decode(&payload))
		built <- payload
	})
	require.NoError(t, p.Start())
	waitDone(t, p)

	select {
	case payload := <-built:
		assert.Equal(t, "after stray", payload)
	default:
		t.Fatal("result after foreign lines was not dispatched")
	}
}

func TestProcess_ExitCallbackRunsAfterFinalResult(t *testing.T) {
	var order []string
	var mu sync.Mutex
	record := func(s string) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, s)
	}

	opts := helperOptions("last-words")
	opts.ExitCallback = func(int) { record("exit") }
	p, err := New(opts)
	require.NoError(t, err)
	p.Once(ResultDone, func(Message) { record("done") })

	require.NoError(t, p.Start())
	waitDone(t, p)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"done", "exit"}, order)
}

func TestProcess_UnexpectedExit(t *testing.T) {
	opts := helperOptions("crash")
	console := &syncBuffer{}
	opts.Console = console
	codes := make(chan int, 1)
	opts.ExitCallback = func(code int) { codes <- code }

	p, err := Launch(opts)
	require.NoError(t, err)
	waitDone(t, p)

	assert.Equal(t, 3, <-codes)
	assert.Equal(t, 3, p.ExitCode())
	assert.Contains(t, console.String(), "about to crash")
}

func TestProcess_SilentToggle(t *testing.T) {
	opts := helperOptions("chatty")
	console := &syncBuffer{}
	opts.Console = console
	opts.Silent = true

	p, err := New(opts)
	require.NoError(t, err)
	done := make(chan string, 2)
	p.On(ResultDone, func(m Message) {
		var line string
		_ = m.Decode(&line)
		done <- line
	})
	require.NoError(t, p.Start())

	p.SendAction(ActionBuild, "hidden line")
	assert.Equal(t, "hidden line", <-done)
	// Give the relay a moment to (not) write the suppressed line.
	time.Sleep(100 * time.Millisecond)

	p.SetSilent(false)
	assert.False(t, p.Silent())
	p.SendAction(ActionBuild, "visible line")
	assert.Equal(t, "visible line", <-done)

	assert.Eventually(t, func() bool { return strings.Contains(console.String(), "visible line") }, time.Second, 10*time.Millisecond)
	assert.NotContains(t, console.String(), "hidden line")

	require.NoError(t, p.Kill())
	waitDone(t, p)
	assert.NoError(t, p.Kill())
}

func TestProcess_SetExitCallbackReplacesCallback(t *testing.T) {
	opts := helperOptions("crash")
	opts.Console = &syncBuffer{}
	original := make(chan int, 1)
	opts.ExitCallback = func(code int) { original <- code }

	p, err := New(opts)
	require.NoError(t, err)
	replaced := make(chan int, 1)
	p.SetExitCallback(func(code int) { replaced <- code })
	require.NoError(t, p.Start())
	waitDone(t, p)

	assert.Equal(t, 3, <-replaced)
	assert.Empty(t, original)
}

func TestProcess_KillBeforeStart(t *testing.T) {
	p, err := New(helperOptions("echo"))
	require.NoError(t, err)

	require.NoError(t, p.Kill())
	waitDone(t, p)
	assert.Equal(t, StateExited, p.State())
	assert.ErrorIs(t, p.Start(), ErrAlreadyStarted)
}
