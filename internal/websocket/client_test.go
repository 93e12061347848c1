package websocket

import (
	"context"
	"errors"
	"net"
	"reflect"
	"sort"
	"testing"
	"time"

	"github.com/zishang520/socket.io/v3/pkg/types"
)

func TestNewClient_DefaultsPath(t *testing.T) {
	t.Parallel()

	c := NewClient("http://example", "", "tok")
	if c.path != DefaultPath {
		t.Fatalf("path=%q, want %q", c.path, DefaultPath)
	}
	c = NewClient("http://example", "/ws/", "tok")
	if c.path != "/ws/" {
		t.Fatalf("path=%q, want /ws/", c.path)
	}
}

func TestClient_NotConnected(t *testing.T) {
	t.Parallel()

	c := NewClient("http://example", "", "tok")
	if err := c.Emit("getConversations", struct{}{}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("Emit err=%v, want ErrNotConnected", err)
	}
	if err := c.On("getConversations", func(any) {}); !errors.Is(err, ErrNotConnected) {
		t.Fatalf("On err=%v, want ErrNotConnected", err)
	}
	if c.Connected() {
		t.Fatalf("unconnected client reports connected")
	}
	if id := c.ID(); id != "" {
		t.Fatalf("id=%q, want empty", id)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
}

func TestClient_DisconnectCallbacks(t *testing.T) {
	t.Parallel()

	c := NewClient("http://example", "", "tok")
	var reasons []string
	c.OnDisconnect(func(reason string) { reasons = append(reasons, reason) })

	c.handleDisconnect("transport close")
	if !reflect.DeepEqual(reasons, []string{"transport close"}) {
		t.Fatalf("reasons=%v", reasons)
	}

	// Once closed the owner has moved on; late disconnects are swallowed.
	_ = c.Close()
	c.handleDisconnect("io server disconnect")
	if len(reasons) != 1 {
		t.Fatalf("callback fired after Close: %v", reasons)
	}
}

func TestNormalize(t *testing.T) {
	t.Parallel()

	type req struct {
		ConversationID string  `json:"conversationId"`
		Attachment     *string `json:"attachment"`
		Count          int     `json:"count"`
	}

	got, err := normalize(req{ConversationID: "c1", Count: 2})
	if err != nil {
		t.Fatalf("normalize: %v", err)
	}
	want := map[string]any{"conversationId": "c1", "attachment": nil, "count": float64(2)}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %#v, want %#v", got, want)
	}

	for _, in := range []any{nil, "x", true, 1.5, map[string]any{"a": "b"}} {
		out, err := normalize(in)
		if err != nil {
			t.Fatalf("normalize(%v): %v", in, err)
		}
		if !reflect.DeepEqual(out, in) {
			t.Fatalf("normalize(%v) = %v", in, out)
		}
	}

	if _, err := normalize(make(chan int)); err == nil {
		t.Fatalf("expected error for unencodable payload")
	}
}

type recordingRemover struct {
	removed []string
}

func (r *recordingRemover) RemoveAllListeners(event types.EventName) bool {
	r.removed = append(r.removed, string(event))
	return true
}

func TestDetach_RemovesEveryTrackedEvent(t *testing.T) {
	t.Parallel()

	c := NewClient("http://example", "", "tok")
	c.mu.Lock()
	c.track("connect", "connect_error", "disconnect")
	c.track("getConversations")
	c.track("getConversations")
	c.track("newMessage")
	listened := c.listened
	c.mu.Unlock()

	r := &recordingRemover{}
	detach(r, listened)

	sort.Strings(r.removed)
	want := []string{"connect", "connect_error", "disconnect", "getConversations", "newMessage"}
	if !reflect.DeepEqual(r.removed, want) {
		t.Fatalf("removed=%v, want %v", r.removed, want)
	}
}

func TestClose_ForgetsTrackedEvents(t *testing.T) {
	t.Parallel()

	c := NewClient("http://example", "", "tok")
	c.mu.Lock()
	c.track("getMessage")
	c.mu.Unlock()

	if err := c.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if c.listened != nil {
		t.Fatalf("listened=%v after Close, want nil", c.listened)
	}
}

func TestConnect_FailedHandshakeTearsDown(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().String()
	_ = ln.Close()

	c := NewClient("http://"+addr, "", "tok")
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	if err := c.Connect(ctx); err == nil {
		t.Fatalf("Connect to a closed port succeeded")
	}
	if c.Connected() {
		t.Fatalf("client reports connected after a failed handshake")
	}
	c.mu.RLock()
	sock, listened := c.socket, c.listened
	c.mu.RUnlock()
	if sock != nil || listened != nil {
		t.Fatalf("socket=%v listened=%v after failed Connect, want both nil", sock, listened)
	}
}
