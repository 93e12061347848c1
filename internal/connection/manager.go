// Package connection owns the one live event-channel session of the process.
//
// The Manager is the only component that opens or closes sessions. Everything
// else reaches the channel through CurrentSession, which makes the channel an
// explicitly owned resource rather than a global.
package connection

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bhandras/chatsync/internal/apperr"
	"github.com/bhandras/chatsync/internal/credential"
	"github.com/bhandras/chatsync/pkg/logger"
)

// State is the connectivity of the Manager.
type State int

const (
	// Disconnected means there is no session.
	Disconnected State = iota
	// Connecting means a session is being dialed.
	Connecting
	// Connected means a session is live.
	Connected
)

func (s State) String() string {
	switch s {
	case Disconnected:
		return "disconnected"
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Session is a live bidirectional channel.
type Session interface {
	// ID identifies the session for logs.
	ID() string
	// On attaches a transport-level listener for event.
	On(event string, fn func(payload any)) error
	// Emit sends event with payload.
	Emit(event string, payload any) error
	// Connected reports whether the transport is currently up.
	Connected() bool
	// OnDisconnect registers fn to run when the transport drops on its own.
	// It does not fire for Close.
	OnDisconnect(fn func(reason string))
	// Close tears the session down and detaches every listener.
	Close() error
}

// Dialer opens sessions authenticated with token.
type Dialer interface {
	Dial(ctx context.Context, token string) (Session, error)
}

// CredentialSource yields the credential to connect with.
type CredentialSource interface {
	// LoadValid returns the stored credential if it is valid now.
	LoadValid() (credential.Credential, bool)
}

// DefaultConnectTimeout bounds Connect when the caller's context has no
// deadline.
const DefaultConnectTimeout = 15 * time.Second

// Manager is the connection lifecycle state machine:
// Disconnected → Connecting → Connected, and back to Disconnected on teardown
// or transport loss.
type Manager struct {
	creds   CredentialSource
	dialer  Dialer
	timeout time.Duration

	// dialMu serializes Connect so two callers can never end up with two
	// live sessions.
	dialMu sync.Mutex

	mu        sync.Mutex
	session   Session
	cred      credential.Credential
	state     State
	gen       uint64
	observers map[uint64]func(State)
	nextObs   uint64
}

// Option configures a Manager.
type Option func(*Manager)

// WithConnectTimeout overrides DefaultConnectTimeout.
func WithConnectTimeout(d time.Duration) Option {
	return func(m *Manager) {
		if d > 0 {
			m.timeout = d
		}
	}
}

// NewManager returns a disconnected Manager.
func NewManager(creds CredentialSource, dialer Dialer, opts ...Option) *Manager {
	m := &Manager{
		creds:     creds,
		dialer:    dialer,
		timeout:   DefaultConnectTimeout,
		observers: make(map[uint64]func(State)),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Connect opens a new session with the stored credential, tearing down any
// existing session first.
//
// It fails with apperr.ErrUnauthenticated when no valid credential is stored
// and with apperr.ErrConnection when the transport does not come up; the
// latter is worth retrying.
func (m *Manager) Connect(ctx context.Context) error {
	cred, ok := m.creds.LoadValid()
	if !ok {
		return apperr.Unauthenticated("connect", errors.New("no valid credential"))
	}

	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	m.teardown("replaced")
	m.setState(Connecting)

	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}

	sess, err := m.dialer.Dial(ctx, cred.Token)
	if err != nil {
		m.setState(Disconnected)
		logger.Warnf("connection: dial failed: %v", err)
		return apperr.Connection("connect", err)
	}

	m.mu.Lock()
	m.gen++
	gen := m.gen
	m.session = sess
	m.cred = cred
	m.mu.Unlock()

	sess.OnDisconnect(func(reason string) {
		m.dropped(gen, reason)
	})

	m.mu.Lock()
	alive := m.gen == gen && m.session != nil
	m.mu.Unlock()
	if !alive {
		m.setState(Disconnected)
		return apperr.Connection("connect", errors.New("session dropped while connecting"))
	}
	// A drop before OnDisconnect was registered is only visible here.
	if !sess.Connected() {
		m.teardown("dead on arrival")
		m.setState(Disconnected)
		return apperr.Connection("connect", errors.New("session dropped while connecting"))
	}

	logger.Infof("connection: connected (session %s)", sess.ID())
	m.setState(Connected)
	return nil
}

// Disconnect closes the current session. It is idempotent.
func (m *Manager) Disconnect() {
	m.dialMu.Lock()
	defer m.dialMu.Unlock()

	m.teardown("disconnect")
}

// CurrentSession returns the live session, or nil when disconnected.
func (m *Manager) CurrentSession() Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != Connected {
		return nil
	}
	return m.session
}

// Credential returns the credential the current session was opened with.
func (m *Manager) Credential() (credential.Credential, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.session == nil {
		return credential.Credential{}, false
	}
	return m.cred, true
}

// State returns the current connectivity.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// OnStateChange registers fn to observe connectivity transitions. fn runs on
// the goroutine that caused the transition and must not block. The returned
// function unregisters it.
func (m *Manager) OnStateChange(fn func(State)) func() {
	m.mu.Lock()
	id := m.nextObs
	m.nextObs++
	m.observers[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.observers, id)
		m.mu.Unlock()
	}
}

// teardown closes the current session, if any. Callers hold dialMu.
func (m *Manager) teardown(reason string) {
	m.mu.Lock()
	sess := m.session
	m.session = nil
	m.cred = credential.Credential{}
	m.gen++
	m.mu.Unlock()

	if sess == nil {
		return
	}
	if err := sess.Close(); err != nil {
		logger.Debugf("connection: close session %s: %v", sess.ID(), err)
	}
	logger.Infof("connection: session %s closed (%s)", sess.ID(), reason)
	m.setState(Disconnected)
}

// dropped handles a transport-initiated disconnect of generation gen.
func (m *Manager) dropped(gen uint64, reason string) {
	m.mu.Lock()
	if gen != m.gen || m.session == nil {
		m.mu.Unlock()
		return
	}
	sess := m.session
	m.session = nil
	m.cred = credential.Credential{}
	m.mu.Unlock()

	logger.Warnf("connection: session %s lost: %s", sess.ID(), reason)
	_ = sess.Close()
	m.setState(Disconnected)
}

func (m *Manager) setState(s State) {
	m.mu.Lock()
	if m.state == s {
		m.mu.Unlock()
		return
	}
	m.state = s
	observers := make([]func(State), 0, len(m.observers))
	for _, fn := range m.observers {
		observers = append(observers, fn)
	}
	m.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}
