package messages

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/bhandras/chatsync/internal/actor"
	"github.com/bhandras/chatsync/internal/apperr"
	"github.com/bhandras/chatsync/internal/events"
	"github.com/bhandras/chatsync/internal/media"
	"github.com/bhandras/chatsync/internal/wire"
	"github.com/bhandras/chatsync/pkg/logger"
	"github.com/google/uuid"
)

// ErrSendInFlight is returned when Send is called while another send of the
// same controller is still running.
var ErrSendInFlight = errors.New("a send is already in progress")

// Identity yields the signed-in user.
type Identity interface {
	CurrentUser() (wire.User, bool)
}

// Controller drives the message stream of the open conversation.
type Controller struct {
	reg  *events.Registry
	box  actor.Mailbox
	view func() State
	gate media.Gate
	self Identity

	sending sync.Mutex

	mu   sync.Mutex
	subs []events.Unsubscribe
}

// NewController returns an unbound Controller. view returns the latest
// reduced State.
func NewController(reg *events.Registry, box actor.Mailbox, view func() State, gate media.Gate, self Identity) *Controller {
	return &Controller{reg: reg, box: box, view: view, gate: gate, self: self}
}

// Bind subscribes to the stream's pushes, replacing earlier subscriptions.
func (c *Controller) Bind() {
	c.Unbind()

	subs := []events.Unsubscribe{
		events.Subscribe(c.reg, events.GetMessage, func(env wire.Envelope[[]wire.Message]) {
			if !env.Success {
				logger.Warnf("messages: fetch failed: %s", env.Msg)
				return
			}
			in := Loaded{Items: env.Data}
			if len(env.Data) > 0 {
				in.ConversationID = env.Data[0].ConversationID
			}
			c.box.Enqueue(in)
		}),
		events.Subscribe(c.reg, events.NewMessage, func(env wire.Envelope[wire.Message]) {
			if !env.Success {
				logger.Warnf("messages: send failed: %s", env.Msg)
				return
			}
			c.box.Enqueue(Received{Message: env.Data})
		}),
	}

	c.mu.Lock()
	c.subs = subs
	c.mu.Unlock()
}

// Unbind drops the subscriptions made by Bind.
func (c *Controller) Unbind() {
	c.mu.Lock()
	subs := c.subs
	c.subs = nil
	c.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
}

// Open switches to conversationID and requests its messages.
func (c *Controller) Open(conversationID string) {
	var self string
	if u, ok := c.self.CurrentUser(); ok {
		self = u.ID
	}
	c.box.Enqueue(Opened{ConversationID: conversationID, Self: self})
}

// Close leaves the open conversation. Later pushes for it are ignored.
func (c *Controller) Close() {
	c.box.Enqueue(Closed{})
}

// SetDraft stages content and an optional local attachment handle.
func (c *Controller) SetDraft(content, attachment string) {
	c.box.Enqueue(DraftSet{Draft: Draft{Content: content, Attachment: attachment}})
}

// Draft returns the staged send.
func (c *Controller) Draft() Draft {
	return c.view().Draft
}

// Send runs the send transaction for the staged draft: validate, upload the
// attachment, publish, and wait for the server's newMessage answer. The draft
// is cleared only when the server accepted the message. The held stream is
// never touched here; the accepted message arrives through the push handler.
func (c *Controller) Send(ctx context.Context) error {
	const op = "send message"

	if !c.sending.TryLock() {
		return ErrSendInFlight
	}
	defer c.sending.Unlock()

	if err := c.box.Flush(ctx); err != nil {
		return apperr.Connection(op, err)
	}
	st := c.view()

	user, ok := c.self.CurrentUser()
	switch {
	case !ok || user.ID == "":
		return apperr.New(apperr.ErrInvalidSend, op, "not signed in", nil)
	case st.ConversationID == "":
		return apperr.New(apperr.ErrInvalidSend, op, "no conversation is open", nil)
	case strings.TrimSpace(st.Draft.Content) == "" && st.Draft.Attachment == "":
		return apperr.New(apperr.ErrInvalidSend, op, "nothing to send", nil)
	}

	var attachment *string
	if st.Draft.Attachment != "" {
		ref, err := c.gate.Upload(ctx, st.Draft.Attachment, media.FolderAttachment)
		if err != nil {
			logger.Warnf("messages: attachment upload failed: %v", err)
			return apperr.New(apperr.ErrUploadFailure, op, "failed to send file", err)
		}
		if ref != "" {
			attachment = &ref
		}
	}

	req := wire.NewMessageRequest{
		ConversationID: st.ConversationID,
		SenderID:       user.ID,
		Sender:         wire.User{ID: user.ID, Name: user.Name, Avatar: user.Avatar},
		Content:        strings.TrimSpace(st.Draft.Content),
		Attachment:     attachment,
		LocalID:        uuid.NewString(),
	}

	w := events.Expect(c.reg, events.NewMessage, func(env wire.Envelope[wire.Message]) bool {
		if !env.Success {
			return true
		}
		m := env.Data
		if m.LocalID != "" {
			return m.LocalID == req.LocalID
		}
		return m.ConversationID == req.ConversationID && m.Sender.ID == user.ID
	})
	defer w.Cancel()

	if err := events.Publish(c.reg, events.NewMessage, req); err != nil {
		return apperr.Connection(op, err)
	}

	env, err := w.Wait(ctx)
	if err != nil {
		return apperr.Connection(op, err)
	}
	if !env.Success {
		return apperr.Rejected(op, env.Msg)
	}

	c.box.Enqueue(DraftSent{ConversationID: st.ConversationID, Draft: st.Draft})
	if err := c.box.Flush(ctx); err != nil {
		logger.Debugf("messages: flush after send: %v", err)
	}
	return nil
}
