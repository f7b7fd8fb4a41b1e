// Package procs launches and supervises subordinate worker processes.
//
// A subordinate is any program that speaks the message protocol on two
// inherited file descriptors: it reads parent messages from fd 3 and writes
// its own messages to fd 4. Its stdout and stderr are relayed to the
// parent's console unless the handle is silent. Go subordinates use Child
// for their side of the channel.
package procs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"time"

	"github.com/GoCodeAlone/dappkit"
)

// DefaultDrainTimeout bounds how long exit handling waits for the message
// stream to be fully dispatched after the process has exited.
const DefaultDrainTimeout = 2 * time.Second

// StateEvent is emitted on the configured Emitter with a Status payload
// every time a handle changes state.
const StateEvent = "process:state"

// State is the liveness state of a Process.
type State string

const (
	StateStarting State = "starting"
	StateRunning  State = "running"
	StateExited   State = "exited"
)

// Status is a snapshot of a process handle.
type Status struct {
	Name     string    `json:"name"`
	State    State     `json:"state"`
	PID      int       `json:"pid,omitempty"`
	ExitCode int       `json:"exitCode"`
	Time     time.Time `json:"time"`
}

// Emitter receives state changes. *events.Bus satisfies it.
type Emitter interface {
	Emit(event string, args ...any)
}

// ResultHandler handles one result message.
type ResultHandler func(Message)

// Options configures a Process.
type Options struct {
	// Name identifies the process in logs and state events.
	Name    string
	Command string
	Args    []string
	Dir     string
	// Env is the full environment of the subordinate; nil inherits ours.
	Env []string

	// Silent suppresses console relay. It can be changed with SetSilent.
	Silent bool
	// Console receives the subordinate's stdout and stderr. Defaults to os.Stdout.
	Console io.Writer

	Logger  dappkit.Logger
	Emitter Emitter

	// ExitCallback is called once with the exit code after the process has
	// exited and every message it sent has been dispatched.
	ExitCallback func(code int)

	DrainTimeout time.Duration
}

// Process is the handle of one subordinate process.
type Process struct {
	opts   Options
	logger dappkit.Logger
	silent atomic.Bool

	mu       sync.Mutex
	state    State
	cmd      *exec.Cmd
	exitCode int
	onExit   func(code int)
	once     map[string][]ResultHandler
	on       map[string][]ResultHandler

	enc      *encoder
	toChild  *os.File
	readDone chan struct{}
	done     chan struct{}
}

// New creates a handle in state starting without spawning anything.
// Register result handlers, then call Start.
func New(opts Options) (*Process, error) {
	if opts.Command == "" {
		return nil, ErrNoCommand
	}
	if opts.Name == "" {
		opts.Name = opts.Command
	}
	if opts.Console == nil {
		opts.Console = os.Stdout
	}
	if opts.Logger == nil {
		opts.Logger = dappkit.NopLogger()
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = DefaultDrainTimeout
	}

	p := &Process{
		opts:     opts,
		logger:   opts.Logger,
		state:    StateStarting,
		onExit:   opts.ExitCallback,
		once:     make(map[string][]ResultHandler),
		on:       make(map[string][]ResultHandler),
		readDone: make(chan struct{}),
		done:     make(chan struct{}),
	}
	p.silent.Store(opts.Silent)
	return p, nil
}

// Launch creates and starts a process. Results reported before the caller
// subscribes may be dropped; use New and Start when that matters.
func Launch(opts Options) (*Process, error) {
	p, err := New(opts)
	if err != nil {
		return nil, err
	}
	if err := p.Start(); err != nil {
		return nil, err
	}
	return p, nil
}

// Start spawns the subordinate and wires its channels.
func (p *Process) Start() error {
	p.mu.Lock()
	if p.cmd != nil || p.state != StateStarting {
		p.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlreadyStarted, p.opts.Name)
	}
	status, err := p.spawnLocked()
	p.mu.Unlock()
	if err != nil {
		return err
	}

	p.emitState(status)
	p.logger.Debug("Started subordinate process", "name", p.opts.Name, "pid", status.PID)
	return nil
}

func (p *Process) spawnLocked() (Status, error) {
	childIn, parentOut, err := os.Pipe()
	if err != nil {
		return Status{}, fmt.Errorf("create input pipe: %w", err)
	}
	parentIn, childOut, err := os.Pipe()
	if err != nil {
		_ = childIn.Close()
		_ = parentOut.Close()
		return Status{}, fmt.Errorf("create output pipe: %w", err)
	}

	cmd := exec.Command(p.opts.Command, p.opts.Args...)
	cmd.Dir = p.opts.Dir
	cmd.Env = p.opts.Env
	cmd.ExtraFiles = []*os.File{childIn, childOut}
	relay := &consoleRelay{silent: &p.silent, w: p.opts.Console}
	cmd.Stdout = relay
	cmd.Stderr = relay
	cmd.WaitDelay = p.opts.DrainTimeout

	if err := cmd.Start(); err != nil {
		for _, f := range []*os.File{childIn, childOut, parentIn, parentOut} {
			_ = f.Close()
		}
		return Status{}, fmt.Errorf("start %s: %w", p.opts.Name, err)
	}
	_ = childIn.Close()
	_ = childOut.Close()

	p.cmd = cmd
	p.toChild = parentOut
	p.enc = newEncoder(parentOut, "dappkit/launcher")
	p.state = StateRunning

	go p.readLoop(parentIn)
	go p.waitLoop()
	return p.statusLocked(), nil
}

func (p *Process) readLoop(r *os.File) {
	defer close(p.readDone)
	defer r.Close()

	dec := newDecoder(r)
	for {
		m, err := dec.decode()
		if errors.Is(err, ErrMalformedMessage) {
			p.logger.Warn("Dropping subordinate message", "name", p.opts.Name, "error", err)
			continue
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, os.ErrClosed) {
				p.logger.Warn("Subordinate message stream failed", "name", p.opts.Name, "error", err)
			}
			return
		}
		p.dispatch(m)
	}
}

func (p *Process) waitLoop() {
	err := p.cmd.Wait()
	code := 0
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		} else {
			code = -1
		}
	}

	select {
	case <-p.readDone:
	case <-time.After(p.opts.DrainTimeout):
		p.logger.Warn("Subordinate message stream did not drain", "name", p.opts.Name)
	}

	p.mu.Lock()
	p.state = StateExited
	p.exitCode = code
	callback := p.onExit
	_ = p.toChild.Close()
	status := p.statusLocked()
	p.mu.Unlock()

	p.emitState(status)
	p.logger.Debug("Subordinate process exited", "name", p.opts.Name, "code", code)
	if callback != nil {
		callback(code)
	}
	close(p.done)
}

// dispatch routes a result message to its handlers. Once handlers are
// removed under the lock, so a duplicate message finds none.
func (p *Process) dispatch(m Message) {
	if m.Action != ActionResult {
		p.logger.Debug("Dropping non-result message", "name", p.opts.Name, "action", m.Action)
		return
	}

	p.mu.Lock()
	handlers := append([]ResultHandler(nil), p.once[m.Result]...)
	delete(p.once, m.Result)
	handlers = append(handlers, p.on[m.Result]...)
	p.mu.Unlock()

	if len(handlers) == 0 {
		p.logger.Debug("Dropping unmatched result", "name", p.opts.Name, "result", m.Result)
		return
	}
	for _, h := range handlers {
		h(m)
	}
}

// Once registers a handler for the next result named result.
func (p *Process) Once(result string, h ResultHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.once[result] = append(p.once[result], h)
}

// On registers a handler for every result named result.
func (p *Process) On(result string, h ResultHandler) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.on[result] = append(p.on[result], h)
}

// Send delivers m to the subordinate. Delivery to a process that is not
// running, or a failed write, is logged and otherwise ignored.
func (p *Process) Send(m Message) {
	p.mu.Lock()
	running := p.state == StateRunning
	enc := p.enc
	p.mu.Unlock()

	if !running {
		p.logger.Warn("Dropping message for process that is not running", "name", p.opts.Name, "action", m.Action)
		return
	}
	if err := enc.encode(m); err != nil {
		p.logger.Warn("Failed to send message", "name", p.opts.Name, "action", m.Action, "error", err)
	}
}

// SendAction encodes payload and sends it under action.
func (p *Process) SendAction(action string, payload any) {
	m, err := NewMessage(action, payload)
	if err != nil {
		p.logger.Error("Failed to encode message", "name", p.opts.Name, "action", action, "error", err)
		return
	}
	p.Send(m)
}

// Kill terminates the process. Killing a process that already exited, or
// that was never started, is a no-op.
func (p *Process) Kill() error {
	p.mu.Lock()
	switch {
	case p.state == StateExited:
		p.mu.Unlock()
		return nil
	case p.cmd == nil:
		p.state = StateExited
		status := p.statusLocked()
		close(p.done)
		p.mu.Unlock()
		p.emitState(status)
		return nil
	}
	proc := p.cmd.Process
	p.mu.Unlock()

	if err := proc.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		return fmt.Errorf("kill %s: %w", p.opts.Name, err)
	}
	return nil
}

// SetSilent toggles console relay for output written from now on.
func (p *Process) SetSilent(silent bool) {
	p.silent.Store(silent)
}

// Silent reports whether console relay is suppressed.
func (p *Process) Silent() bool {
	return p.silent.Load()
}

// SetExitCallback replaces the exit callback. It has no effect once the
// exit callback has been taken for invocation.
func (p *Process) SetExitCallback(fn func(code int)) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.onExit = fn
}

// Name returns the process name.
func (p *Process) Name() string {
	return p.opts.Name
}

// State returns the current liveness state.
func (p *Process) State() State {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// ExitCode returns the exit code; it is meaningful once State is exited.
func (p *Process) ExitCode() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.exitCode
}

// Done is closed after the exit callback has returned.
func (p *Process) Done() <-chan struct{} {
	return p.done
}

// Status returns a snapshot of the handle.
func (p *Process) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.statusLocked()
}

func (p *Process) statusLocked() Status {
	s := Status{Name: p.opts.Name, State: p.state, ExitCode: p.exitCode, Time: time.Now()}
	if p.cmd != nil && p.cmd.Process != nil {
		s.PID = p.cmd.Process.Pid
	}
	return s
}

func (p *Process) emitState(status Status) {
	if p.opts.Emitter != nil {
		p.opts.Emitter.Emit(StateEvent, status)
	}
}

// consoleRelay forwards subordinate output unless the handle is silent.
type consoleRelay struct {
	silent *atomic.Bool
	mu     sync.Mutex
	w      io.Writer
}

func (r *consoleRelay) Write(b []byte) (int, error) {
	if r.silent.Load() {
		return len(b), nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, err := r.w.Write(b); err != nil {
		return 0, err
	}
	return len(b), nil
}
