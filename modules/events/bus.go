// Package events provides the in-process event bus shared by every dappkit
// component: named events with ordered subscribers, and named commands with
// exactly one handler answering request/response calls.
package events

import (
	"context"
	"fmt"
	"sync"

	"github.com/GoCodeAlone/dappkit"
	"github.com/google/uuid"
)

// Handler receives the arguments of an emitted event.
type Handler func(args ...any)

// Reply completes a request. Only the first call has any effect.
type Reply func(result any, err error)

// CommandHandler answers a request. It must call reply exactly once, either
// before returning or later from another goroutine.
type CommandHandler func(ctx context.Context, args []any, reply Reply)

// Subscription identifies one registered event handler.
type Subscription struct {
	Event string
	ID    string
}

type subscriber struct {
	id      string
	handler Handler
	once    bool
}

type pendingRequest struct {
	command   string
	reply     Reply
	once      sync.Once
	abandoned bool
}

// Bus is a publish/subscribe and request/response hub.
type Bus struct {
	mu          sync.Mutex
	subscribers map[string][]*subscriber
	commands    map[string]CommandHandler
	pending     map[string]*pendingRequest
	closed      bool
	logger      dappkit.Logger
}

// Option configures a Bus.
type Option func(*Bus)

// WithLogger sets the logger used for late replies and panicking handlers.
func WithLogger(logger dappkit.Logger) Option {
	return func(b *Bus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// NewBus creates an empty bus.
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subscribers: make(map[string][]*subscriber),
		commands:    make(map[string]CommandHandler),
		pending:     make(map[string]*pendingRequest),
		logger:      dappkit.NopLogger(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// On registers a persistent subscriber for event.
func (b *Bus) On(event string, handler Handler) Subscription {
	return b.subscribe(event, handler, false)
}

// Once registers a subscriber that is removed before its first delivery.
func (b *Bus) Once(event string, handler Handler) Subscription {
	return b.subscribe(event, handler, true)
}

func (b *Bus) subscribe(event string, handler Handler, once bool) Subscription {
	if handler == nil {
		panic(ErrHandlerNil)
	}
	sub := &subscriber{id: uuid.NewString(), handler: handler, once: once}

	b.mu.Lock()
	b.subscribers[event] = append(b.subscribers[event], sub)
	b.mu.Unlock()

	return Subscription{Event: event, ID: sub.id}
}

// Off removes a subscription. Removing an unknown subscription is a no-op.
func (b *Bus) Off(s Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(s.Event, s.ID)
}

func (b *Bus) removeLocked(event, id string) bool {
	subs := b.subscribers[event]
	for i, sub := range subs {
		if sub.id != id {
			continue
		}
		rest := make([]*subscriber, 0, len(subs)-1)
		rest = append(rest, subs[:i]...)
		rest = append(rest, subs[i+1:]...)
		if len(rest) == 0 {
			delete(b.subscribers, event)
		} else {
			b.subscribers[event] = rest
		}
		return true
	}
	return false
}

// Emit delivers args synchronously to every current subscriber of event, in
// registration order. Subscribers added while Emit runs are not called by it.
func (b *Bus) Emit(event string, args ...any) {
	b.mu.Lock()
	snapshot := make([]*subscriber, 0, len(b.subscribers[event]))
	for _, sub := range b.subscribers[event] {
		if sub.once && !b.removeLocked(event, sub.id) {
			continue
		}
		snapshot = append(snapshot, sub)
	}
	b.mu.Unlock()

	for _, sub := range snapshot {
		sub.handler(args...)
	}
}

// SubscriberCount returns the number of subscribers registered for event.
func (b *Bus) SubscriberCount(event string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers[event])
}

// SetCommandHandler registers the handler for command. A command has at most
// one handler; a second registration fails with ErrCommandHandlerExists.
func (b *Bus) SetCommandHandler(command string, handler CommandHandler) error {
	if handler == nil {
		return fmt.Errorf("%w: %s", ErrHandlerNil, command)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, exists := b.commands[command]; exists {
		return fmt.Errorf("%w: %s", ErrCommandHandlerExists, command)
	}
	b.commands[command] = handler
	return nil
}

// RemoveCommandHandler unregisters the handler for command, if any.
func (b *Bus) RemoveCommandHandler(command string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.commands, command)
}

// Request invokes the handler registered for command with args. reply is
// called at most once, when the handler completes. A missing handler is
// reported as a *NoHandlerError without calling reply.
func (b *Bus) Request(ctx context.Context, command string, args []any, reply Reply) error {
	_, _, err := b.request(ctx, command, args, reply)
	return err
}

func (b *Bus) request(ctx context.Context, command string, args []any, reply Reply) (string, *pendingRequest, error) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return "", nil, fmt.Errorf("%w: %s", ErrBusClosed, command)
	}
	handler, ok := b.commands[command]
	if !ok {
		b.mu.Unlock()
		return "", nil, &NoHandlerError{Command: command}
	}
	id := uuid.NewString()
	req := &pendingRequest{command: command, reply: reply}
	b.pending[id] = req
	b.mu.Unlock()

	handler(ctx, args, func(result any, err error) {
		b.complete(id, req, result, err)
	})
	return id, req, nil
}

func (b *Bus) complete(id string, req *pendingRequest, result any, err error) {
	delivered := false
	req.once.Do(func() {
		delivered = true
		b.mu.Lock()
		delete(b.pending, id)
		b.mu.Unlock()
		if req.reply != nil {
			req.reply(result, err)
		}
	})
	if delivered {
		return
	}
	b.mu.Lock()
	abandoned := req.abandoned
	b.mu.Unlock()
	if abandoned {
		b.logger.Debug("Dropping reply to abandoned request", "command", req.command, "request", id)
		return
	}
	b.logger.Warn("Ignoring duplicate reply", "command", req.command, "request", id)
}

// abandon forgets a request whose caller stopped waiting. A later reply is
// dropped.
func (b *Bus) abandon(id string, req *pendingRequest) {
	req.once.Do(func() {
		b.mu.Lock()
		req.abandoned = true
		delete(b.pending, id)
		b.mu.Unlock()
	})
}

// Call is the blocking form of Request. It returns the handler's result, or
// ctx.Err() when ctx is done first; the request is then no longer pending.
func (b *Bus) Call(ctx context.Context, command string, args ...any) (any, error) {
	type outcome struct {
		result any
		err    error
	}
	done := make(chan outcome, 1)
	id, req, err := b.request(ctx, command, args, func(result any, err error) {
		done <- outcome{result: result, err: err}
	})
	if err != nil {
		return nil, err
	}

	select {
	case o := <-done:
		return o.result, o.err
	case <-ctx.Done():
		b.abandon(id, req)
		return nil, ctx.Err()
	}
}

// Pending returns the number of requests whose reply has not been called.
func (b *Bus) Pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// Close fails every pending request with ErrBusClosed and rejects new ones.
// Events can still be emitted after Close.
func (b *Bus) Close() {
	b.mu.Lock()
	b.closed = true
	ids := make(map[string]*pendingRequest, len(b.pending))
	for id, req := range b.pending {
		ids[id] = req
	}
	b.mu.Unlock()

	for id, req := range ids {
		b.complete(id, req, nil, fmt.Errorf("%w: %s", ErrBusClosed, req.command))
	}
}
