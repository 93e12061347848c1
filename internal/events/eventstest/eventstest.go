// Package eventstest provides an in-memory channel session for tests.
package eventstest

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/bhandras/chatsync/internal/connection"
)

// Emitted is one command sent through a Session.
type Emitted struct {
	Event   string
	Payload any
}

// Session is a connection.Session that records emits and lets tests inject
// pushes.
type Session struct {
	id string

	mu           sync.Mutex
	listeners    map[string][]func(any)
	emitted      []Emitted
	closed       bool
	onDisconnect []func(string)
	emitErr      error
	onEmit       func(event string, payload any)
}

var _ connection.Session = (*Session)(nil)

// NewSession returns an open Session.
func NewSession(id string) *Session {
	return &Session{id: id, listeners: make(map[string][]func(any))}
}

// ID implements connection.Session.
func (s *Session) ID() string { return s.id }

// On implements connection.Session.
func (s *Session) On(event string, fn func(any)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return fmt.Errorf("session %s closed", s.id)
	}
	s.listeners[event] = append(s.listeners[event], fn)
	return nil
}

// Emit implements connection.Session.
func (s *Session) Emit(event string, payload any) error {
	s.mu.Lock()
	if s.emitErr != nil {
		err := s.emitErr
		s.mu.Unlock()
		return err
	}
	s.emitted = append(s.emitted, Emitted{Event: event, Payload: payload})
	hook := s.onEmit
	s.mu.Unlock()

	if hook != nil {
		hook(event, payload)
	}
	return nil
}

// SetOnEmit installs fn to run after every successful Emit, outside the
// session lock. Tests use it to answer commands with pushes.
func (s *Session) SetOnEmit(fn func(event string, payload any)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onEmit = fn
}

// FailEmits makes every later Emit return err. nil restores normal behavior.
func (s *Session) FailEmits(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emitErr = err
}

// Connected implements connection.Session.
func (s *Session) Connected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed
}

// OnDisconnect implements connection.Session.
func (s *Session) OnDisconnect(fn func(string)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.onDisconnect = append(s.onDisconnect, fn)
}

// Close implements connection.Session. Listeners are detached.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.listeners = make(map[string][]func(any))
	return nil
}

// Drop simulates the transport going away.
func (s *Session) Drop(reason string) {
	s.mu.Lock()
	callbacks := append(([]func(string))(nil), s.onDisconnect...)
	s.mu.Unlock()
	for _, fn := range callbacks {
		fn(reason)
	}
}

// Push delivers payload to the listeners of event the way the transport
// would: as generic JSON values.
func (s *Session) Push(event string, payload any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		panic(err)
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		panic(err)
	}

	s.mu.Lock()
	fns := append(([]func(any))(nil), s.listeners[event]...)
	s.mu.Unlock()
	for _, fn := range fns {
		fn(generic)
	}
}

// Listeners returns the number of transport listeners for event.
func (s *Session) Listeners(event string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.listeners[event])
}

// Emitted returns a snapshot of every command sent so far.
func (s *Session) Emitted() []Emitted {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Emitted(nil), s.emitted...)
}

// EmittedFor returns the commands sent as event.
func (s *Session) EmittedFor(event string) []Emitted {
	var out []Emitted
	for _, e := range s.Emitted() {
		if e.Event == event {
			out = append(out, e)
		}
	}
	return out
}

// Source is a settable events.SessionSource.
type Source struct {
	mu   sync.Mutex
	sess connection.Session
}

// NewSource returns a Source holding sess, which may be nil.
func NewSource(sess connection.Session) *Source {
	return &Source{sess: sess}
}

// CurrentSession implements events.SessionSource.
func (s *Source) CurrentSession() connection.Session {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.sess
}

// Set replaces the current session.
func (s *Source) Set(sess connection.Session) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sess = sess
}
