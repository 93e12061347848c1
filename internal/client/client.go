// Package client is the presentation boundary of the sync core: it
// bootstraps the session from the stored credential, wires the feature
// components to one event loop, and exposes reconciled state plus the user
// intents that change it.
package client

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/bhandras/chatsync/internal/actor"
	"github.com/bhandras/chatsync/internal/apperr"
	"github.com/bhandras/chatsync/internal/auth"
	"github.com/bhandras/chatsync/internal/connection"
	"github.com/bhandras/chatsync/internal/conversations"
	"github.com/bhandras/chatsync/internal/credential"
	"github.com/bhandras/chatsync/internal/events"
	"github.com/bhandras/chatsync/internal/media"
	"github.com/bhandras/chatsync/internal/messages"
	"github.com/bhandras/chatsync/internal/storage"
	"github.com/bhandras/chatsync/internal/wire"
	"github.com/bhandras/chatsync/pkg/logger"
)

// Route is where the presentation layer should go after Bootstrap.
type Route int

const (
	// RouteUnauthenticated means sign-in is required.
	RouteUnauthenticated Route = iota
	// RouteAuthenticated means a user is signed in.
	RouteAuthenticated
)

func (r Route) String() string {
	if r == RouteAuthenticated {
		return "authenticated"
	}
	return "unauthenticated"
}

// Authenticator obtains tokens over HTTP.
type Authenticator interface {
	Login(ctx context.Context, req auth.LoginRequest) (string, error)
	Register(ctx context.Context, req auth.RegisterRequest) (string, error)
}

// DefaultSendTimeout bounds Send and UpdateProfile when the caller's context
// has no deadline.
const DefaultSendTimeout = 30 * time.Second

// Options are the collaborators of a Client.
type Options struct {
	KV     storage.KV
	Dialer connection.Dialer
	Auth   Authenticator
	Gate   media.Gate

	// Clock defaults to the wall clock.
	Clock actor.Clock
	// Dispatcher runs push handlers. Defaults to a Serial dispatcher.
	Dispatcher events.Dispatcher

	ConnectTimeout time.Duration
	SendTimeout    time.Duration
}

// Client is one signed-in chat client.
type Client struct {
	store *credential.Store
	conn  *connection.Manager
	reg   *events.Registry
	loop  *actor.Actor[State]
	convs *conversations.Sync
	msgs  *messages.Controller
	auth  Authenticator
	gate  media.Gate

	sendTimeout time.Duration
	serial      *events.Serial
	stopWatch   func()

	mu      sync.RWMutex
	user    wire.User
	hasUser bool
	subs    []events.Unsubscribe
}

// New assembles a Client. Nothing touches the network until Bootstrap,
// Connect, SignIn or SignUp.
func New(opts Options) *Client {
	c := &Client{
		store:       credential.NewStore(opts.KV, opts.Clock),
		auth:        opts.Auth,
		gate:        opts.Gate,
		sendTimeout: opts.SendTimeout,
	}
	if c.sendTimeout <= 0 {
		c.sendTimeout = DefaultSendTimeout
	}
	if c.gate == nil {
		c.gate = media.Disabled{}
	}

	var connOpts []connection.Option
	if opts.ConnectTimeout > 0 {
		connOpts = append(connOpts, connection.WithConnectTimeout(opts.ConnectTimeout))
	}
	c.conn = connection.NewManager(c.store, opts.Dialer, connOpts...)

	dispatch := opts.Dispatcher
	if dispatch == nil {
		c.serial = events.NewSerial(0)
		dispatch = c.serial
	}
	c.reg = events.NewRegistry(c.conn, dispatch)

	c.loop = actor.New(State{}, Reduce, events.NewRuntime(c.reg), actor.WithHooks(actor.Hooks[State]{
		OnInput: func(in actor.Input) {
			if logger.Enabled(logger.LevelTrace) {
				logger.Tracef("client: input %T", in)
			}
		},
		OnPanic: func(r any) {
			logger.Errorf("client: event loop panic: %v", r)
		},
	}))
	c.loop.Start()

	c.convs = conversations.NewSync(c.reg, c.loop, c.gate)
	c.msgs = messages.NewController(c.reg, c.loop, func() messages.State {
		return c.loop.State().Messages
	}, c.gate, c)

	c.stopWatch = c.conn.OnStateChange(func(s connection.State) {
		if s == connection.Connected {
			c.reg.Rebind()
		}
	})
	return c
}

// Close disconnects and stops the event loop.
func (c *Client) Close() {
	c.stopWatch()
	c.conn.Disconnect()
	c.reg.Close()
	c.loop.Stop()
	if c.serial != nil {
		c.serial.Stop()
	}
}

// Bootstrap decides the initial route from the stored credential. An absent
// or expired credential is cleared and the channel is never opened. A valid
// one hydrates the current user and connects; a connection failure is
// returned alongside RouteAuthenticated and may be retried with Connect.
func (c *Client) Bootstrap(ctx context.Context) (Route, error) {
	cred, ok := c.store.Load()
	if !ok || !cred.Valid(c.store.Now()) {
		if ok {
			logger.Infof("client: stored credential expired at %s", cred.ExpiresAt.Format(time.RFC3339))
		}
		if err := c.store.Clear(); err != nil {
			logger.Warnf("client: %v", err)
		}
		c.forgetUser()
		return RouteUnauthenticated, nil
	}

	c.setUser(cred.User)
	if err := c.Connect(ctx); err != nil {
		return RouteAuthenticated, err
	}
	return RouteAuthenticated, nil
}

// Connect opens the channel with the stored credential, binds the feature
// components and requests the conversation list.
func (c *Client) Connect(ctx context.Context) error {
	if err := c.conn.Connect(ctx); err != nil {
		return err
	}
	c.bind()
	c.convs.Refresh()
	return nil
}

// Disconnect closes the channel. Held state and subscriptions are kept.
func (c *Client) Disconnect() {
	c.conn.Disconnect()
}

func (c *Client) bind() {
	c.convs.Bind()
	c.msgs.Bind()

	c.mu.Lock()
	old := c.subs
	c.subs = nil
	c.mu.Unlock()
	for _, unsub := range old {
		unsub()
	}

	subs := []events.Unsubscribe{
		events.Subscribe(c.reg, events.GetContacts, func(env wire.Envelope[[]wire.User]) {
			if !env.Success {
				logger.Warnf("client: contacts fetch failed: %s", env.Msg)
				return
			}
			c.loop.Enqueue(ContactsReplaced{Contacts: env.Data})
		}),
	}
	c.mu.Lock()
	c.subs = subs
	c.mu.Unlock()
}

// UpdateToken replaces the stored credential and the current user without
// touching the session.
func (c *Client) UpdateToken(token string) error {
	cred, err := c.store.Save(token)
	if err != nil {
		return err
	}
	c.setUser(cred.User)
	return nil
}

// SignIn exchanges credentials for a token, stores it and connects.
func (c *Client) SignIn(ctx context.Context, email, password string) error {
	if c.auth == nil {
		return errors.New("sign-in is not configured")
	}
	token, err := c.auth.Login(ctx, auth.LoginRequest{Email: email, Password: password})
	if err != nil {
		return err
	}
	if err := c.UpdateToken(token); err != nil {
		return err
	}
	return c.Connect(ctx)
}

// SignUp registers an account, stores its token and connects. A local
// avatar handle is uploaded first.
func (c *Client) SignUp(ctx context.Context, email, password, name, avatarHandle string) error {
	if c.auth == nil {
		return errors.New("sign-up is not configured")
	}
	req := auth.RegisterRequest{Email: email, Password: password, Name: name}
	if avatarHandle != "" {
		ref, err := c.gate.Upload(ctx, avatarHandle, media.FolderProfile)
		if err != nil {
			return apperr.New(apperr.ErrUploadFailure, "sign up", "could not upload the avatar", err)
		}
		if ref != "" {
			req.Avatar = &ref
		}
	}

	token, err := c.auth.Register(ctx, req)
	if err != nil {
		return err
	}
	if err := c.UpdateToken(token); err != nil {
		return err
	}
	return c.Connect(ctx)
}

// SignOut clears the credential, closes the channel and drops held state.
func (c *Client) SignOut() error {
	err := c.store.Clear()
	c.conn.Disconnect()
	c.forgetUser()
	c.loop.Enqueue(SignedOut{})
	return err
}

// UpdateProfile changes the current user's name and, when avatarHandle is
// set, avatar. The server answers with a reissued token, which replaces the
// stored credential; the session stays open.
func (c *Client) UpdateProfile(ctx context.Context, name, avatarHandle string) error {
	const op = "update profile"

	name = strings.TrimSpace(name)
	if name == "" {
		return apperr.New(apperr.ErrInvalidSend, op, "name is required", nil)
	}
	req := wire.UpdateProfileRequest{Name: name}
	if avatarHandle != "" {
		ref, err := c.gate.Upload(ctx, avatarHandle, media.FolderProfile)
		if err != nil {
			return apperr.New(apperr.ErrUploadFailure, op, "could not upload the avatar", err)
		}
		if ref != "" {
			req.Avatar = &ref
		}
	}

	ctx, cancel := c.withSendTimeout(ctx)
	defer cancel()

	w := events.Expect[wire.Envelope[wire.ProfileUpdated]](c.reg, events.UpdateProfile, nil)
	defer w.Cancel()
	if err := events.Publish(c.reg, events.UpdateProfile, req); err != nil {
		return apperr.Connection(op, err)
	}

	env, err := w.Wait(ctx)
	if err != nil {
		return apperr.Connection(op, err)
	}
	if !env.Success {
		return apperr.Rejected(op, env.Msg)
	}
	return c.UpdateToken(env.Data.Token)
}

// RefreshContacts requests the contact list.
func (c *Client) RefreshContacts() {
	c.loop.Enqueue(ContactsRequested{})
}

// RefreshConversations requests the conversation list.
func (c *Client) RefreshConversations() {
	c.convs.Refresh()
}

// OpenConversation makes id the open conversation and loads its messages.
func (c *Client) OpenConversation(id string) {
	c.msgs.Open(id)
}

// CloseConversation leaves the open conversation.
func (c *Client) CloseConversation() {
	c.msgs.Close()
}

// SetDraft stages a message for Send.
func (c *Client) SetDraft(content, attachmentHandle string) {
	c.msgs.SetDraft(content, attachmentHandle)
}

// Send sends the staged draft to the open conversation.
func (c *Client) Send(ctx context.Context) error {
	ctx, cancel := c.withSendTimeout(ctx)
	defer cancel()
	return c.msgs.Send(ctx)
}

// CreateConversation creates a direct or group conversation with the given
// other participants and returns it.
func (c *Client) CreateConversation(ctx context.Context, typ wire.ConversationType, participants []string, name, avatarHandle string) (wire.Conversation, error) {
	u, _ := c.CurrentUser()
	ctx, cancel := c.withSendTimeout(ctx)
	defer cancel()
	return c.convs.Create(ctx, conversations.CreateRequest{
		Type:         typ,
		Self:         u.ID,
		Participants: participants,
		Name:         name,
		AvatarHandle: avatarHandle,
	})
}

// Flush waits until every push received so far is reflected in the
// accessors.
func (c *Client) Flush(ctx context.Context) error {
	return c.loop.Flush(ctx)
}

// Connectivity returns the channel state.
func (c *Client) Connectivity() connection.State {
	return c.conn.State()
}

// OnConnectivityChange registers fn for channel state transitions.
func (c *Client) OnConnectivityChange(fn func(connection.State)) func() {
	return c.conn.OnStateChange(fn)
}

// CurrentUser implements messages.Identity.
func (c *Client) CurrentUser() (wire.User, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.user, c.hasUser
}

// Conversations returns every held conversation, most recent first.
func (c *Client) Conversations() []wire.Conversation {
	return conversations.Sorted(c.loop.State().Conversations.Items)
}

// DirectConversations returns the direct conversations, most recent first.
func (c *Client) DirectConversations() []wire.Conversation {
	return conversations.Partition(c.loop.State().Conversations.Items, wire.ConversationDirect)
}

// GroupConversations returns the group conversations, most recent first.
func (c *Client) GroupConversations() []wire.Conversation {
	return conversations.Partition(c.loop.State().Conversations.Items, wire.ConversationGroup)
}

// Conversation returns the held conversation with id.
func (c *Client) Conversation(id string) (wire.Conversation, bool) {
	return c.loop.State().Conversations.Find(id)
}

// DisplayIdentity resolves how conv is shown to the current user.
func (c *Client) DisplayIdentity(conv wire.Conversation) conversations.Identity {
	u, _ := c.CurrentUser()
	return conversations.DisplayIdentity(conv, u.ID)
}

// OpenConversationID returns the open conversation, or "".
func (c *Client) OpenConversationID() string {
	return c.loop.State().Messages.ConversationID
}

// Messages returns the open conversation's messages, newest first.
func (c *Client) Messages() []messages.Message {
	return c.loop.State().Messages.Items
}

// Draft returns the staged message.
func (c *Client) Draft() messages.Draft {
	return c.msgs.Draft()
}

// Contacts returns the last fetched contact list.
func (c *Client) Contacts() []wire.User {
	return c.loop.State().Contacts
}

func (c *Client) setUser(u wire.User) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = u
	c.hasUser = true
}

func (c *Client) forgetUser() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.user = wire.User{}
	c.hasUser = false
}

func (c *Client) withSendTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if _, ok := ctx.Deadline(); ok {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, c.sendTimeout)
}
