package events

import (
	"context"
)

// Waiter captures the first push of an event that satisfies a predicate.
// Create it before publishing the command it answers so the reply cannot be
// missed.
type Waiter[T any] struct {
	ch    chan T
	unsub Unsubscribe
}

// Expect starts waiting for a push of event decoded as T for which match
// returns true. A nil match accepts the first push.
func Expect[T any](r *Registry, event Name, match func(T) bool) *Waiter[T] {
	w := &Waiter[T]{ch: make(chan T, 1)}
	w.unsub = Subscribe(r, event, func(v T) {
		if match != nil && !match(v) {
			return
		}
		select {
		case w.ch <- v:
		default:
		}
	})
	return w
}

// Wait blocks until a matching push arrives or ctx ends.
func (w *Waiter[T]) Wait(ctx context.Context) (T, error) {
	defer w.Cancel()
	select {
	case v := <-w.ch:
		return v, nil
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// Cancel stops waiting. It is safe to call more than once.
func (w *Waiter[T]) Cancel() {
	w.unsub()
}
