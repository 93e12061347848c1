package conversations

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"github.com/bhandras/chatsync/internal/actor"
	"github.com/bhandras/chatsync/internal/apperr"
	"github.com/bhandras/chatsync/internal/events"
	"github.com/bhandras/chatsync/internal/media"
	"github.com/bhandras/chatsync/internal/wire"
	"github.com/bhandras/chatsync/pkg/logger"
	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

// CreateRequest describes a conversation to create.
type CreateRequest struct {
	Type wire.ConversationType `validate:"required,oneof=direct group"`
	// Self is the current user's id.
	Self string `validate:"required"`
	// Participants are the other members' ids.
	Participants []string `validate:"required,min=1,unique,dive,required"`
	Name         string   `validate:"required_if=Type group"`
	// AvatarHandle is an optional local media handle for a group avatar.
	AvatarHandle string
}

// ErrInvalidRequest wraps CreateRequest validation failures.
var ErrInvalidRequest = errors.New("invalid conversation request")

// Sync feeds conversation pushes into the event loop and issues the list's
// commands.
type Sync struct {
	reg      *events.Registry
	box      actor.Mailbox
	gate     media.Gate
	validate *validator.Validate

	mu   sync.Mutex
	subs []events.Unsubscribe
}

// NewSync returns an unbound Sync.
func NewSync(reg *events.Registry, box actor.Mailbox, gate media.Gate) *Sync {
	return &Sync{
		reg:      reg,
		box:      box,
		gate:     gate,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Bind subscribes to the list's pushes. Binding again first drops the
// previous subscriptions.
func (s *Sync) Bind() {
	s.Unbind()

	subs := []events.Unsubscribe{
		events.Subscribe(s.reg, events.GetConversations, func(env wire.Envelope[[]wire.Conversation]) {
			if !env.Success {
				logger.Warnf("conversations: fetch failed: %s", env.Msg)
				return
			}
			s.box.Enqueue(BulkReplaced{Items: env.Data})
		}),
		events.Subscribe(s.reg, events.NewConversation, func(env wire.Envelope[wire.Conversation]) {
			if !env.Success {
				logger.Warnf("conversations: create failed: %s", env.Msg)
				return
			}
			s.box.Enqueue(Created{Conversation: env.Data})
		}),
		events.Subscribe(s.reg, events.NewMessage, func(env wire.Envelope[wire.Message]) {
			if !env.Success {
				return
			}
			s.box.Enqueue(LastMessageUpdated{Message: env.Data})
		}),
	}

	s.mu.Lock()
	s.subs = subs
	s.mu.Unlock()
}

// Unbind drops the subscriptions made by Bind.
func (s *Sync) Unbind() {
	s.mu.Lock()
	subs := s.subs
	s.subs = nil
	s.mu.Unlock()

	for _, unsub := range subs {
		unsub()
	}
}

// Refresh asks the server for the full list.
func (s *Sync) Refresh() {
	s.box.Enqueue(RefreshRequested{})
}

// Validate checks req without sending anything.
func (s *Sync) Validate(req CreateRequest) error {
	if err := s.validate.Struct(req); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidRequest, err)
	}
	if slices.Contains(req.Participants, req.Self) {
		return fmt.Errorf("%w: participants must not include the current user", ErrInvalidRequest)
	}
	switch req.Type {
	case wire.ConversationDirect:
		if len(req.Participants) != 1 {
			return fmt.Errorf("%w: a direct conversation has exactly one other participant", ErrInvalidRequest)
		}
	case wire.ConversationGroup:
		if len(req.Participants) < 2 {
			return fmt.Errorf("%w: a group needs at least two other participants", ErrInvalidRequest)
		}
	}
	return nil
}

// Create asks the server for a conversation and waits for its answer. For a
// direct conversation with an existing peer the server answers with the
// existing conversation, which is returned but not added to the list.
func (s *Sync) Create(ctx context.Context, req CreateRequest) (wire.Conversation, error) {
	if err := s.Validate(req); err != nil {
		return wire.Conversation{}, err
	}

	out := wire.NewConversationRequest{
		Type:         req.Type,
		Participants: append([]string{req.Self}, req.Participants...),
	}
	if req.Type == wire.ConversationGroup {
		out.Name = req.Name
		if req.AvatarHandle != "" {
			ref, err := s.gate.Upload(ctx, req.AvatarHandle, media.FolderGroupAvatar)
			if err != nil {
				return wire.Conversation{}, apperr.New(apperr.ErrUploadFailure, "create conversation", "could not upload the group avatar", err)
			}
			if ref != "" {
				out.Avatar = &ref
			}
		}
	}

	want := lo.Uniq(out.Participants)
	w := events.Expect(s.reg, events.NewConversation, func(env wire.Envelope[wire.Conversation]) bool {
		if !env.Success {
			return true
		}
		if env.Data.Type != req.Type {
			return false
		}
		ids := lo.Map(env.Data.Participants, func(u wire.User, _ int) string { return u.ID })
		return lo.Every(ids, want)
	})
	defer w.Cancel()

	if err := events.Publish(s.reg, events.NewConversation, out); err != nil {
		return wire.Conversation{}, apperr.Connection("create conversation", err)
	}

	env, err := w.Wait(ctx)
	if err != nil {
		return wire.Conversation{}, apperr.Connection("create conversation", err)
	}
	if !env.Success {
		return wire.Conversation{}, apperr.Rejected("create conversation", env.Msg)
	}
	return env.Data, nil
}
