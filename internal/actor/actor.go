// Package actor is the single-threaded event loop that owns all reconciled
// client state.
//
// The shape is:
//   - One goroutine (the loop) owns a state value S.
//   - A pure reducer turns (state, input) into the next state plus effects.
//   - A Runtime interprets effects (publishing commands, for example) off the
//     loop and may feed follow-up inputs back in.
//
// Pushes from the server and user intents both arrive as inputs, so no two
// reconciliation steps ever run concurrently and the held collections need no
// locks of their own.
package actor

import (
	"context"
	"errors"
	"sync"
)

// Input is an item delivered to an actor mailbox.
type Input interface {
	isActorInput()
}

// Effect is a declarative side-effect produced by a reducer.
type Effect interface {
	isActorEffect()
}

// ReducerFunc is a pure state transition function.
//
// Reducers must not perform I/O, spawn goroutines or read the clock; anything
// time-dependent arrives inside the input.
type ReducerFunc[S any] func(state S, input Input) (next S, effects []Effect)

// Runtime interprets effects and may emit follow-up inputs.
type Runtime interface {
	// HandleEffects executes effects. It must return quickly; blocking work
	// belongs on another goroutine.
	HandleEffects(ctx context.Context, effects []Effect, emit func(Input))

	// Stop requests that the runtime stop any background work. It may be called
	// multiple times.
	Stop()
}

// Mailbox is the write side of an actor, as seen by components that feed it.
type Mailbox interface {
	Enqueue(input Input) bool
	Flush(ctx context.Context) error
}

// Hooks provide optional observability into an actor's execution.
type Hooks[S any] struct {
	// OnInput is called after an input is dequeued, before reducing.
	OnInput func(input Input)
	// OnPanic is called when the reducer panics. If nil, the panic propagates.
	OnPanic func(recovered any)
}

// ErrStopped is returned when the actor has been stopped.
var ErrStopped = errors.New("actor stopped")

// Actor runs a single-threaded event loop that owns state of type S.
type Actor[S any] struct {
	reduce  ReducerFunc[S]
	runtime Runtime
	hooks   Hooks[S]

	mu     sync.Mutex
	state  S
	inbox  chan Input
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	once   sync.Once
}

// Option configures an Actor.
type Option[S any] func(*Actor[S])

// WithHooks attaches hooks for observability.
func WithHooks[S any](hooks Hooks[S]) Option[S] {
	return func(a *Actor[S]) { a.hooks = hooks }
}

// WithMailboxSize sets the actor mailbox buffer size.
func WithMailboxSize[S any](n int) Option[S] {
	return func(a *Actor[S]) {
		if n > 0 {
			a.inbox = make(chan Input, n)
		}
	}
}

// New creates an actor with initial state, reducer and runtime. runtime may be
// nil when the reducer never produces effects.
func New[S any](initial S, reducer ReducerFunc[S], runtime Runtime, opts ...Option[S]) *Actor[S] {
	ctx, cancel := context.WithCancel(context.Background())
	a := &Actor[S]{
		reduce:  reducer,
		runtime: runtime,
		state:   initial,
		inbox:   make(chan Input, 256),
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Start launches the loop. Calling Start more than once has no effect.
func (a *Actor[S]) Start() {
	a.once.Do(func() { go a.loop() })
}

// Stop cancels the loop and stops the runtime. Safe to call multiple times.
func (a *Actor[S]) Stop() {
	a.cancel()
	if a.runtime != nil {
		a.runtime.Stop()
	}
}

// Done returns a channel that closes when the loop exits.
func (a *Actor[S]) Done() <-chan struct{} { return a.done }

// Enqueue delivers an input to the mailbox, waiting for room if the mailbox
// is full. Inputs are never dropped while the actor runs, so transport order
// is preserved end to end. It returns false once the actor is stopped.
func (a *Actor[S]) Enqueue(input Input) bool {
	if input == nil {
		return false
	}
	select {
	case <-a.ctx.Done():
		return false
	default:
	}
	select {
	case a.inbox <- input:
		return true
	case <-a.ctx.Done():
		return false
	}
}

// Flush blocks until every input enqueued before the call has been reduced
// and its effects handed to the runtime.
func (a *Actor[S]) Flush(ctx context.Context) error {
	if a.ctx.Err() != nil {
		return ErrStopped
	}
	done := make(chan struct{})
	select {
	case a.inbox <- flushInput{done: done}:
	case <-a.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-done:
		return nil
	case <-a.ctx.Done():
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// State returns a snapshot of the current state.
//
// Reference-typed fields inside S are shared with the loop; reducers must
// therefore replace slices and maps rather than mutate them in place.
func (a *Actor[S]) State() S {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state
}

type flushInput struct {
	InputBase
	done chan struct{}
}

func (a *Actor[S]) loop() {
	defer close(a.done)
	defer func() {
		if r := recover(); r != nil {
			if a.hooks.OnPanic != nil {
				a.hooks.OnPanic(r)
				return
			}
			panic(r)
		}
	}()

	emit := func(in Input) {
		_ = a.Enqueue(in)
	}

	for {
		select {
		case <-a.ctx.Done():
			return
		case in := <-a.inbox:
			if f, ok := in.(flushInput); ok {
				close(f.done)
				continue
			}
			a.step(in, emit)
		}
	}
}

func (a *Actor[S]) step(in Input, emit func(Input)) {
	if a.hooks.OnInput != nil {
		a.hooks.OnInput(in)
	}

	// Only the loop writes state, so reading it outside the lock is safe here.
	next, effects := a.reduce(a.state, in)

	a.mu.Lock()
	a.state = next
	a.mu.Unlock()

	if len(effects) > 0 && a.runtime != nil {
		a.runtime.HandleEffects(a.ctx, effects, emit)
	}
}
