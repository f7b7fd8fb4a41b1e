// Package blockchain supervises the blockchain node. The node runs in a
// subordinate process that starts the client, waits for its RPC endpoint
// and reports readiness and exit back to the Supervisor, which relays them
// on the event bus.
package blockchain

import (
	"context"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/GoCodeAlone/dappkit"
	"github.com/GoCodeAlone/dappkit/modules/events"
	"github.com/GoCodeAlone/dappkit/modules/procs"
)

// Bus events published or consumed by the supervisor.
const (
	EventReady        = "blockchain:ready"
	EventExit         = "blockchain:exit"
	EventLogsEnable   = "logs:ethereum:enable"
	EventLogsDisable  = "logs:ethereum:disable"
	EventShutdown     = "exit"
	processName       = "blockchain"
	killGraceOnCancel = 5 * time.Second
)

// State of the supervised node.
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	StateReady    State = "ready"
	StateExited   State = "exited"
	StateStopping State = "stopping"
	StateStopped  State = "stopped"
)

// Bus is the part of the event bus the supervisor uses.
type Bus interface {
	On(event string, handler events.Handler) events.Subscription
	Off(sub events.Subscription)
	Emit(event string, args ...any)
}

// Option configures a Supervisor.
type Option func(*Supervisor)

// WithLogger sets the supervisor logger, also handed to the launcher.
func WithLogger(logger dappkit.Logger) Option {
	return func(s *Supervisor) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithEnviron sets the environment of the node process.
func WithEnviron(env []string) Option {
	return func(s *Supervisor) { s.environ = env }
}

// WithConsole sets where relayed node output is written.
func WithConsole(w io.Writer) Option {
	return func(s *Supervisor) { s.console = w }
}

// run is one node process lifetime, from StartNode to its exit.
type run struct {
	proc     *procs.Process
	subs     []events.Subscription
	stopping bool
	finished chan struct{}
	once     sync.Once
}

// Supervisor starts, watches and stops the node process. It never restarts
// the node on its own.
type Supervisor struct {
	cfg     *Config
	bus     Bus
	logger  dappkit.Logger
	environ []string
	console io.Writer

	mu      sync.Mutex
	state   State
	current *run
}

// NewSupervisor creates an idle supervisor.
func NewSupervisor(cfg *Config, bus Bus, opts ...Option) *Supervisor {
	s := &Supervisor{
		cfg:    cfg,
		bus:    bus,
		logger: dappkit.NopLogger(),
		state:  StateIdle,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// State returns the current node state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// StartNode launches the node process and sends it the node configuration.
// It is allowed when no node is running.
func (s *Supervisor) StartNode() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateIdle, StateExited, StateStopped:
	default:
		return fmt.Errorf("%w: state %s", ErrAlreadyRunning, s.state)
	}

	r := &run{finished: make(chan struct{})}
	proc, err := procs.New(procs.Options{
		Name:         processName,
		Command:      s.cfg.NodeCommand,
		Args:         s.cfg.NodeArgs,
		Env:          s.environ,
		Silent:       s.cfg.Silent,
		Console:      s.console,
		Logger:       s.logger,
		Emitter:      s.bus,
		ExitCallback: func(code int) { s.processEnded(r, code) },
	})
	if err != nil {
		return err
	}
	r.proc = proc

	proc.Once(procs.ResultReady, func(m procs.Message) { s.nodeReady(r, m) })
	proc.Once(procs.ResultExit, func(m procs.Message) { s.nodeExited(r, m) })

	r.subs = []events.Subscription{
		s.bus.On(EventLogsEnable, func(...any) { proc.SetSilent(false) }),
		s.bus.On(EventLogsDisable, func(...any) { proc.SetSilent(true) }),
		s.bus.On(EventShutdown, func(...any) { s.beginStop(r) }),
	}

	s.logger.Info("Starting blockchain node in another process", "client", s.cfg.Client)
	if err := proc.Start(); err != nil {
		s.unsubscribe(r)
		return fmt.Errorf("start blockchain node: %w", err)
	}
	s.current = r
	s.state = StateStarting
	proc.SendAction(procs.ActionInit, s.cfg.nodeInit())
	return nil
}

func (s *Supervisor) nodeReady(r *run, m procs.Message) {
	if err := m.Error(); err != nil {
		s.logger.Warn("Blockchain node reported a failed start", "error", err)
		return
	}

	s.mu.Lock()
	if s.current != r || s.state != StateStarting {
		s.mu.Unlock()
		return
	}
	s.state = StateReady
	s.mu.Unlock()

	s.logger.Info("Blockchain node is ready")
	s.bus.Emit(EventReady)
}

// nodeExited handles the node reporting that its client is gone.
func (s *Supervisor) nodeExited(r *run, m procs.Message) {
	if err := m.Error(); err != nil {
		s.logger.Warn("Blockchain client exited", "error", err)
	}
	s.finish(r)
	if err := r.proc.Kill(); err != nil {
		s.logger.Warn("Failed to kill blockchain node", "error", err)
	}
}

// processEnded is the exit callback while no stop was requested.
func (s *Supervisor) processEnded(r *run, code int) {
	s.logger.Error("Blockchain process ended before the end of this process. Try running the blockchain in a separate process", "code", code)
	s.finish(r)
}

// finish ends a run once: it releases the bus subscriptions, records the
// final state and broadcasts the exit.
func (s *Supervisor) finish(r *run) {
	r.once.Do(func() {
		s.mu.Lock()
		s.unsubscribe(r)
		if s.current == r {
			if r.stopping {
				s.state = StateStopped
			} else {
				s.state = StateExited
			}
		}
		s.mu.Unlock()

		s.bus.Emit(EventExit)
		close(r.finished)
	})
}

func (s *Supervisor) unsubscribe(r *run) {
	for _, sub := range r.subs {
		s.bus.Off(sub)
	}
	r.subs = nil
}

// beginStop marks the current run as stopping and sends the node the
// shutdown message. A run that is already stopping is returned as is. When
// target is not nil only that run is stopped. It reports false when there
// is nothing to wait for.
func (s *Supervisor) beginStop(target *run) (*run, bool) {
	s.mu.Lock()
	r := s.current
	if r == nil || (target != nil && r != target) {
		s.mu.Unlock()
		return nil, false
	}
	switch s.state {
	case StateStopping:
		s.mu.Unlock()
		return r, true
	case StateStarting, StateReady:
	default:
		s.mu.Unlock()
		return nil, false
	}
	r.stopping = true
	s.state = StateStopping
	// The exit is intentional: finish quietly instead of reporting a crash.
	r.proc.SetExitCallback(func(int) { s.finish(r) })
	s.mu.Unlock()

	r.proc.SendAction(procs.ActionExit, nil)
	return r, true
}

// StopNode asks the node to shut down and waits for the exit broadcast.
// Outside the starting, ready and stopping states it does nothing. When
// ctx ends first the node process is killed.
func (s *Supervisor) StopNode(ctx context.Context) error {
	r, ok := s.beginStop(nil)
	if !ok {
		return nil
	}

	select {
	case <-r.finished:
		return nil
	case <-ctx.Done():
	}

	s.logger.Warn("Blockchain node did not stop in time, killing it")
	if err := r.proc.Kill(); err != nil {
		return err
	}
	select {
	case <-r.finished:
	case <-time.After(killGraceOnCancel):
	}
	return fmt.Errorf("%w: %w", ErrStopTimeout, ctx.Err())
}

// Done returns a channel closed when the current node run has ended, or
// nil when no node was started.
func (s *Supervisor) Done() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.current == nil {
		return nil
	}
	return s.current.finished
}
