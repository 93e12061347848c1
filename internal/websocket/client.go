// Package websocket is the Socket.IO transport behind connection.Session.
package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/bhandras/chatsync/internal/connection"
	"github.com/bhandras/chatsync/pkg/logger"
	socket "github.com/zishang520/socket.io/clients/socket/v3"
	"github.com/zishang520/socket.io/v3/pkg/types"
)

// DefaultPath is the Socket.IO endpoint path on the chat server.
const DefaultPath = "/socket.io/"

// ErrNotConnected is returned by Emit on a closed client.
var ErrNotConnected = errors.New("not connected")

// Client is one authenticated Socket.IO connection.
type Client struct {
	serverURL string
	path      string
	token     string

	mu           sync.RWMutex
	socket       *socket.Socket
	connected    bool
	closed       bool
	onDisconnect []func(string)
	// listened holds every event name a listener was attached for.
	listened map[string]struct{}
}

var _ connection.Session = (*Client)(nil)

// listenerRemover is the part of the socket Close needs to detach listeners.
type listenerRemover interface {
	RemoveAllListeners(event types.EventName) bool
}

var _ listenerRemover = (*socket.Socket)(nil)

// NewClient returns an unconnected client for serverURL.
func NewClient(serverURL, path, token string) *Client {
	if path == "" {
		path = DefaultPath
	}
	return &Client{
		serverURL: serverURL,
		path:      path,
		token:     token,
	}
}

// Connect dials the server and waits until the handshake completes, the
// server rejects it, or ctx ends. On failure the socket is torn down.
func (c *Client) Connect(ctx context.Context) error {
	logger.Debugf("websocket: connecting to %s (path: %s)", c.serverURL, c.path)

	opts := socket.DefaultOptions()
	opts.SetPath(c.path)
	opts.SetTransports(types.NewSet(socket.Polling, socket.WebSocket))
	// The connection manager owns reconnects; the client must not race it.
	opts.SetReconnection(false)
	opts.SetAuth(map[string]any{
		"token": c.token,
	})

	type result struct {
		sock *socket.Socket
		err  error
	}
	resCh := make(chan result, 1)
	go func() {
		sock, err := socket.Connect(c.serverURL, opts)
		resCh <- result{sock: sock, err: err}
	}()

	var sock *socket.Socket
	select {
	case res := <-resCh:
		if res.err != nil {
			return fmt.Errorf("failed to connect: %w", res.err)
		}
		sock = res.sock
	case <-ctx.Done():
		go func() {
			if res := <-resCh; res.sock != nil {
				res.sock.Disconnect()
			}
		}()
		return ctx.Err()
	}

	connectedCh := make(chan struct{}, 1)
	_ = sock.On(types.EventName("connect"), func(...any) {
		select {
		case connectedCh <- struct{}{}:
		default:
		}
	})
	errCh := make(chan error, 1)
	_ = sock.On(types.EventName("connect_error"), func(args ...any) {
		err := errors.New("connect_error")
		if len(args) > 0 {
			err = fmt.Errorf("connect_error: %v", args[0])
		}
		logger.Warnf("websocket: %v", err)
		select {
		case errCh <- err:
		default:
		}
	})
	_ = sock.On(types.EventName("disconnect"), func(args ...any) {
		reason := ""
		if len(args) > 0 {
			if r, ok := args[0].(string); ok {
				reason = r
			}
		}
		c.handleDisconnect(reason)
	})

	c.mu.Lock()
	c.socket = sock
	c.track("connect", "connect_error", "disconnect")
	c.mu.Unlock()

	// The handshake may have finished before the connect listener was added.
	if !sock.Connected() {
		select {
		case <-connectedCh:
		case err := <-errCh:
			_ = c.Close()
			return err
		case <-ctx.Done():
			_ = c.Close()
			return ctx.Err()
		}
	}

	c.mu.Lock()
	c.connected = true
	c.mu.Unlock()
	logger.Debugf("websocket: connected, id %s", sock.Id())
	return nil
}

// ID implements connection.Session.
func (c *Client) ID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.socket == nil {
		return ""
	}
	return string(c.socket.Id())
}

// On implements connection.Session. fn receives the first argument of the
// event, as decoded by the Socket.IO parser.
func (c *Client) On(event string, fn func(payload any)) error {
	c.mu.RLock()
	sock := c.socket
	c.mu.RUnlock()
	if sock == nil {
		return ErrNotConnected
	}
	c.mu.Lock()
	c.track(event)
	c.mu.Unlock()
	_ = sock.On(types.EventName(event), func(args ...any) {
		logger.Tracef("websocket: <- %s", event)
		var payload any
		if len(args) > 0 {
			payload = args[0]
		}
		fn(payload)
	})
	return nil
}

// Emit implements connection.Session. payload is normalised to plain JSON
// values first so struct tags are honoured whatever the parser does.
func (c *Client) Emit(event string, payload any) error {
	c.mu.RLock()
	sock := c.socket
	c.mu.RUnlock()
	if sock == nil {
		return ErrNotConnected
	}

	normalized, err := normalize(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	logger.Tracef("websocket: -> %s", event)
	return sock.Emit(event, normalized)
}

// OnDisconnect implements connection.Session.
func (c *Client) OnDisconnect(fn func(reason string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnect = append(c.onDisconnect, fn)
}

// Connected implements connection.Session.
func (c *Client) Connected() bool {
	c.mu.RLock()
	sock := c.socket
	connected := c.connected
	c.mu.RUnlock()
	return connected && sock != nil && sock.Connected()
}

// Close implements connection.Session. Listeners are detached before the
// socket goes down so no callback fires into a torn-down owner.
func (c *Client) Close() error {
	c.mu.Lock()
	sock := c.socket
	c.socket = nil
	c.connected = false
	c.closed = true
	c.onDisconnect = nil
	listened := c.listened
	c.listened = nil
	c.mu.Unlock()

	if sock == nil {
		return nil
	}
	detach(sock, listened)
	sock.Disconnect()
	return nil
}

// track records event names for detach. Callers hold mu.
func (c *Client) track(events ...string) {
	if c.listened == nil {
		c.listened = make(map[string]struct{})
	}
	for _, e := range events {
		c.listened[e] = struct{}{}
	}
}

func detach(r listenerRemover, events map[string]struct{}) {
	for e := range events {
		r.RemoveAllListeners(types.EventName(e))
	}
}

func (c *Client) handleDisconnect(reason string) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.connected = false
	callbacks := append(([]func(string))(nil), c.onDisconnect...)
	c.mu.Unlock()

	logger.Debugf("websocket: disconnected: %s", reason)
	for _, fn := range callbacks {
		fn(reason)
	}
}

// normalize converts payload into the generic JSON shape (maps, slices,
// strings, float64, bool, nil).
func normalize(payload any) (any, error) {
	switch payload.(type) {
	case nil, map[string]any, string, bool, float64:
		return payload, nil
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Dialer opens Clients against a fixed server.
type Dialer struct {
	ServerURL string
	Path      string
}

var _ connection.Dialer = Dialer{}

// Dial implements connection.Dialer.
func (d Dialer) Dial(ctx context.Context, token string) (connection.Session, error) {
	c := NewClient(d.ServerURL, d.Path, token)
	if err := c.Connect(ctx); err != nil {
		return nil, err
	}
	return c, nil
}
