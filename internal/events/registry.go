// Package events multiplexes typed handlers and commands over the current
// channel session.
//
// Handlers are kept in the Registry rather than on the transport, so they
// survive reconnects: when the Manager hands out a new session, Rebind
// attaches one transport listener per event that has handlers.
package events

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/bhandras/chatsync/internal/connection"
	"github.com/bhandras/chatsync/pkg/logger"
)

// Name is a channel event name.
type Name string

// Channel events. Each name is used both for the command and for the push
// that answers it.
const (
	GetContacts      Name = "getContacts"
	NewConversation  Name = "newConversation"
	GetConversations Name = "getConversations"
	NewMessage       Name = "newMessage"
	GetMessage       Name = "getMessage"
	UpdateProfile    Name = "updateProfile"
)

// ErrNoSession is returned when a command is published while disconnected.
var ErrNoSession = errors.New("no connected session")

// SessionSource yields the live session, or nil.
type SessionSource interface {
	CurrentSession() connection.Session
}

// Subscription is one registered handler. Its identity is the pointer.
type Subscription struct {
	event   Name
	handle  func(payload any)
	removed atomic.Bool
}

// Event returns the event the subscription listens to.
func (s *Subscription) Event() Name { return s.event }

// Unsubscribe removes the subscription it was returned for. Calling it more
// than once is a no-op.
type Unsubscribe func()

func noop() {}

// Registry maps event names to handlers on top of a SessionSource.
type Registry struct {
	src      SessionSource
	dispatch Dispatcher

	mu       sync.Mutex
	handlers map[Name][]*Subscription
	// bound records, per event, the session that carries our listener.
	bound map[Name]connection.Session
}

// NewRegistry returns a Registry that runs every handler through dispatch.
// A nil dispatch runs handlers on the transport goroutine.
func NewRegistry(src SessionSource, dispatch Dispatcher) *Registry {
	if dispatch == nil {
		dispatch = Inline{}
	}
	return &Registry{
		src:      src,
		dispatch: dispatch,
		handlers: make(map[Name][]*Subscription),
		bound:    make(map[Name]connection.Session),
	}
}

// On registers fn for event. With no connected session nothing is registered
// and nil is returned.
func (r *Registry) On(event Name, fn func(payload any)) *Subscription {
	sess := r.src.CurrentSession()
	if sess == nil {
		logger.Warnf("events: cannot subscribe to %s: not connected", event)
		return nil
	}

	sub := &Subscription{event: event, handle: fn}
	r.mu.Lock()
	r.handlers[event] = append(r.handlers[event], sub)
	r.mu.Unlock()

	r.bind(sess, event)
	return sub
}

// Off removes sub. Unknown or already removed subscriptions are ignored.
func (r *Registry) Off(sub *Subscription) {
	if sub == nil || sub.removed.Swap(true) {
		return
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	subs := r.handlers[sub.event]
	for i, s := range subs {
		if s != sub {
			continue
		}
		next := make([]*Subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(r.handlers, sub.event)
		} else {
			r.handlers[sub.event] = next
		}
		return
	}
}

// ActiveHandlers returns the number of handlers registered for event.
func (r *Registry) ActiveHandlers(event Name) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.handlers[event])
}

// Emit sends payload as event on the current session.
func (r *Registry) Emit(event Name, payload any) error {
	sess := r.src.CurrentSession()
	if sess == nil {
		logger.Warnf("events: dropped %s: not connected", event)
		return ErrNoSession
	}
	r.Rebind()

	if err := sess.Emit(string(event), payload); err != nil {
		return fmt.Errorf("emit %s: %w", event, err)
	}
	return nil
}

// Rebind attaches transport listeners on the current session for every event
// that has handlers and is not yet bound to it.
func (r *Registry) Rebind() {
	sess := r.src.CurrentSession()
	if sess == nil {
		return
	}

	r.mu.Lock()
	events := make([]Name, 0, len(r.handlers))
	for event := range r.handlers {
		events = append(events, event)
	}
	r.mu.Unlock()

	for _, event := range events {
		r.bind(sess, event)
	}
}

// Close drops every handler.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, subs := range r.handlers {
		for _, s := range subs {
			s.removed.Store(true)
		}
	}
	r.handlers = make(map[Name][]*Subscription)
	r.bound = make(map[Name]connection.Session)
}

func (r *Registry) bind(sess connection.Session, event Name) {
	r.mu.Lock()
	if r.bound[event] == sess {
		r.mu.Unlock()
		return
	}
	r.bound[event] = sess
	r.mu.Unlock()

	err := sess.On(string(event), func(payload any) {
		if r.src.CurrentSession() != sess {
			return
		}
		r.dispatch.Dispatch(func() { r.deliver(event, payload) })
	})
	if err != nil {
		logger.Warnf("events: listen for %s on session %s: %v", event, sess.ID(), err)
		r.mu.Lock()
		if r.bound[event] == sess {
			delete(r.bound, event)
		}
		r.mu.Unlock()
	}
}

func (r *Registry) deliver(event Name, payload any) {
	r.mu.Lock()
	subs := r.handlers[event]
	r.mu.Unlock()

	for _, s := range subs {
		if s.removed.Load() {
			continue
		}
		s.handle(payload)
	}
}

// Subscribe registers a handler that receives pushes of event decoded as T.
// Payloads that do not decode are logged and skipped. With no connected
// session the returned Unsubscribe does nothing.
func Subscribe[T any](r *Registry, event Name, fn func(T)) Unsubscribe {
	sub := r.On(event, func(payload any) {
		var v T
		if err := Decode(payload, &v); err != nil {
			logger.Warnf("events: undecodable %s push: %v", event, err)
			return
		}
		fn(v)
	})
	if sub == nil {
		return noop
	}
	return func() { r.Off(sub) }
}

// Publish emits a command. Replies, if any, arrive later as pushes.
func Publish[T any](r *Registry, event Name, payload T) error {
	return r.Emit(event, payload)
}

// Decode converts a transport payload (generic JSON values, raw bytes or a
// JSON string) into out.
func Decode(payload any, out any) error {
	var raw []byte
	switch p := payload.(type) {
	case nil:
		return errors.New("empty payload")
	case []byte:
		raw = p
	case json.RawMessage:
		raw = p
	case string:
		raw = []byte(p)
	default:
		b, err := json.Marshal(p)
		if err != nil {
			return err
		}
		raw = b
	}
	return json.Unmarshal(raw, out)
}
