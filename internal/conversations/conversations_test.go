package conversations_test

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/bhandras/chatsync/internal/actor"
	"github.com/bhandras/chatsync/internal/apperr"
	"github.com/bhandras/chatsync/internal/conversations"
	"github.com/bhandras/chatsync/internal/events"
	"github.com/bhandras/chatsync/internal/events/eventstest"
	"github.com/bhandras/chatsync/internal/media/mediamock"
	"github.com/bhandras/chatsync/internal/wire"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

var t0 = time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)

func conv(id string, typ wire.ConversationType, createdMin int) wire.Conversation {
	return wire.Conversation{
		ID:        id,
		Type:      typ,
		CreatedAt: wire.At(t0.Add(time.Duration(createdMin) * time.Minute)),
	}
}

func msg(id, convID string, atMin int) wire.Message {
	return wire.Message{
		ID:             id,
		ConversationID: convID,
		Content:        id,
		CreatedAt:      wire.At(t0.Add(time.Duration(atMin) * time.Minute)),
	}
}

func step(s conversations.State, in actor.Input) conversations.State {
	next, _ := actor.Step(s, in, conversations.Reduce)
	return next
}

func ids(items []wire.Conversation) []string {
	out := make([]string, len(items))
	for i, c := range items {
		out[i] = c.ID
	}
	return out
}

func TestBulkReplaceIsUnconditional(t *testing.T) {
	t.Parallel()

	s := step(conversations.State{}, conversations.BulkReplaced{Items: []wire.Conversation{
		conv("a", wire.ConversationDirect, 0),
		conv("b", wire.ConversationGroup, 1),
	}})
	require.Equal(t, []string{"a", "b"}, ids(s.Items))

	s = step(s, conversations.BulkReplaced{Items: []wire.Conversation{
		conv("c", wire.ConversationDirect, 2),
		conv("c", wire.ConversationGroup, 3),
	}})
	require.Equal(t, []string{"c"}, ids(s.Items))
	require.Equal(t, wire.ConversationDirect, s.Items[0].Type)

	s = step(s, conversations.BulkReplaced{})
	require.Empty(t, s.Items)
}

func TestNonNewCreationPushNeverChangesSize(t *testing.T) {
	t.Parallel()

	s := step(conversations.State{}, conversations.BulkReplaced{Items: []wire.Conversation{
		conv("a", wire.ConversationDirect, 0),
	}})

	existing := conv("a", wire.ConversationDirect, 0)
	s = step(s, conversations.Created{Conversation: existing})
	require.Len(t, s.Items, 1)

	other := conv("z", wire.ConversationDirect, 5)
	s = step(s, conversations.Created{Conversation: other})
	require.Len(t, s.Items, 1)
}

func TestNewCreationAppendsOnce(t *testing.T) {
	t.Parallel()

	c := conv("g1", wire.ConversationGroup, 0)
	c.IsNew = true

	s := step(conversations.State{}, conversations.Created{Conversation: c})
	s = step(s, conversations.Created{Conversation: c})
	require.Equal(t, []string{"g1"}, ids(s.Items))
	require.False(t, s.Items[0].IsNew)
}

func TestLastMessageIsolation(t *testing.T) {
	t.Parallel()

	s := step(conversations.State{}, conversations.BulkReplaced{Items: []wire.Conversation{
		conv("a", wire.ConversationDirect, 0),
		conv("b", wire.ConversationDirect, 1),
	}})
	before := s

	m := msg("m1", "a", 10)
	s = step(s, conversations.LastMessageUpdated{Message: m})

	require.Len(t, s.Items, 2)
	require.Equal(t, "m1", s.Items[0].LastMessage.ID)
	require.Equal(t, before.Items[1], s.Items[1])
	require.Equal(t, before.Items[0].Participants, s.Items[0].Participants)
	require.Equal(t, before.Items[0].CreatedAt, s.Items[0].CreatedAt)
	// The previous snapshot is untouched.
	require.Nil(t, before.Items[0].LastMessage)

	unchanged := step(s, conversations.LastMessageUpdated{Message: msg("m2", "nope", 20)})
	require.Equal(t, s, unchanged)
}

func TestRefreshEmitsCommand(t *testing.T) {
	t.Parallel()

	_, effects := conversations.Reduce(conversations.State{}, conversations.RefreshRequested{})
	require.Len(t, effects, 1)
	require.Equal(t, events.GetConversations, effects[0].(events.Emit).Event)
}

func TestPartitionsSortedAfterEveryStep(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	types := []wire.ConversationType{wire.ConversationDirect, wire.ConversationGroup}

	var s conversations.State
	for i := 0; i < 200; i++ {
		var in actor.Input
		switch rng.Intn(3) {
		case 0:
			var items []wire.Conversation
			for j := 0; j < rng.Intn(6); j++ {
				items = append(items, conv(fmt.Sprintf("c%d", rng.Intn(10)), types[rng.Intn(2)], rng.Intn(100)))
			}
			in = conversations.BulkReplaced{Items: items}
		case 1:
			c := conv(fmt.Sprintf("c%d", rng.Intn(10)), types[rng.Intn(2)], rng.Intn(100))
			c.IsNew = rng.Intn(2) == 0
			in = conversations.Created{Conversation: c}
		default:
			in = conversations.LastMessageUpdated{Message: msg(fmt.Sprintf("m%d", i), fmt.Sprintf("c%d", rng.Intn(10)), rng.Intn(200))}
		}
		s = step(s, in)

		seen := map[string]bool{}
		for _, c := range s.Items {
			require.False(t, seen[c.ID], "duplicate id %s", c.ID)
			seen[c.ID] = true
		}
		for _, typ := range types {
			part := conversations.Partition(s.Items, typ)
			for j := 1; j < len(part); j++ {
				prev, cur := conversations.RecencyKey(part[j-1]), conversations.RecencyKey(part[j])
				require.False(t, cur.After(prev.Time))
				require.Equal(t, typ, part[j].Type)
			}
		}
		require.Len(t, s.Items,
			len(conversations.Partition(s.Items, wire.ConversationDirect))+
				len(conversations.Partition(s.Items, wire.ConversationGroup)))
	}
}

func TestSortedUsesLastMessageThenCreation(t *testing.T) {
	t.Parallel()

	a := conv("a", wire.ConversationDirect, 0)
	b := conv("b", wire.ConversationDirect, 5)
	m := msg("m", "a", 10)
	a.LastMessage = &m
	tie := conv("0", wire.ConversationDirect, 5)

	require.Equal(t, []string{"a", "0", "b"}, ids(conversations.Sorted([]wire.Conversation{b, a, tie})))
}

func TestDisplayIdentity(t *testing.T) {
	t.Parallel()

	direct := wire.Conversation{
		Type: wire.ConversationDirect,
		Participants: []wire.User{
			{ID: "me", Name: "Me", Avatar: "me.png"},
			{ID: "bo", Name: "Bo", Avatar: "bo.png"},
		},
	}
	require.Equal(t, conversations.Identity{Name: "Bo", Avatar: "bo.png"}, conversations.DisplayIdentity(direct, "me"))

	group := wire.Conversation{Type: wire.ConversationGroup, Name: "Team", Avatar: "t.png", Participants: direct.Participants}
	require.Equal(t, conversations.Identity{Name: "Team", Avatar: "t.png"}, conversations.DisplayIdentity(group, "me"))
}

// harness runs a Sync against an in-memory session.
type harness struct {
	sess  *eventstest.Session
	reg   *events.Registry
	actor *actor.Actor[conversations.State]
	sync  *conversations.Sync
}

func newHarness(t *testing.T, gate *mediamock.MockGate) *harness {
	t.Helper()

	sess := eventstest.NewSession("s1")
	reg := events.NewRegistry(eventstest.NewSource(sess), events.Inline{})
	a := actor.New(conversations.State{}, conversations.Reduce, events.NewRuntime(reg))
	a.Start()
	t.Cleanup(a.Stop)

	s := conversations.NewSync(reg, a, gate)
	s.Bind()
	return &harness{sess: sess, reg: reg, actor: a, sync: s}
}

func (h *harness) flush(t *testing.T) conversations.State {
	t.Helper()
	require.NoError(t, h.actor.Flush(context.Background()))
	return h.actor.State()
}

func TestSyncAppliesPushes(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	require.Equal(t, 1, h.reg.ActiveHandlers(events.GetConversations))

	h.sync.Refresh()
	h.flush(t)
	require.Len(t, h.sess.EmittedFor("getConversations"), 1)

	h.sess.Push("getConversations", wire.Envelope[[]wire.Conversation]{Success: true, Data: []wire.Conversation{
		conv("a", wire.ConversationDirect, 0),
		conv("g", wire.ConversationGroup, 1),
	}})
	h.sess.Push("newMessage", wire.Envelope[wire.Message]{Success: true, Data: msg("m1", "a", 30)})
	h.sess.Push("newMessage", wire.Envelope[wire.Message]{Success: false, Msg: "nope"})
	h.sess.Push("getConversations", wire.Envelope[[]wire.Conversation]{Success: false, Msg: "db down"})

	s := h.flush(t)
	require.Equal(t, []string{"a", "g"}, ids(s.Items))
	require.Equal(t, "m1", s.Items[0].LastMessage.ID)

	h.sync.Unbind()
	h.sync.Unbind()
	require.Equal(t, 0, h.reg.ActiveHandlers(events.GetConversations))
	require.Equal(t, 0, h.reg.ActiveHandlers(events.NewMessage))
}

func TestCreateValidation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	cases := []conversations.CreateRequest{
		{Type: wire.ConversationDirect, Self: "me"},
		{Type: wire.ConversationDirect, Self: "me", Participants: []string{"a", "b"}},
		{Type: wire.ConversationDirect, Self: "me", Participants: []string{"me"}},
		{Type: wire.ConversationGroup, Self: "me", Participants: []string{"a", "b"}},
		{Type: wire.ConversationGroup, Self: "me", Name: "Team", Participants: []string{"a"}},
		{Type: "channel", Self: "me", Participants: []string{"a"}},
		{Type: wire.ConversationDirect, Participants: []string{"a"}},
	}
	for _, req := range cases {
		_, err := h.sync.Create(context.Background(), req)
		require.ErrorIs(t, err, conversations.ErrInvalidRequest, "%+v", req)
	}
	require.Empty(t, h.sess.Emitted())
}

func TestCreateDirectReturnsExistingConversation(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.sess.Push("getConversations", wire.Envelope[[]wire.Conversation]{Success: true, Data: []wire.Conversation{
		{ID: "d1", Type: wire.ConversationDirect, Participants: []wire.User{{ID: "me"}, {ID: "bo"}}},
	}})
	h.sess.SetOnEmit(func(event string, payload any) {
		if event != "newConversation" {
			return
		}
		h.sess.Push("newConversation", wire.Envelope[wire.Conversation]{Success: true, Data: wire.Conversation{
			ID: "d1", Type: wire.ConversationDirect, Participants: []wire.User{{ID: "me"}, {ID: "bo"}},
		}})
	})

	got, err := h.sync.Create(context.Background(), conversations.CreateRequest{
		Type: wire.ConversationDirect, Self: "me", Participants: []string{"bo"},
	})
	require.NoError(t, err)
	require.Equal(t, "d1", got.ID)

	sent := h.sess.EmittedFor("newConversation")[0].Payload.(wire.NewConversationRequest)
	require.Equal(t, []string{"me", "bo"}, sent.Participants)
	require.Nil(t, sent.Avatar)
	require.Len(t, h.flush(t).Items, 1)
}

func TestCreateGroupUploadsAvatar(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	gate := mediamock.NewMockGate(ctrl)
	gate.EXPECT().
		Upload(gomock.Any(), "/tmp/team.png", "group-avatar").
		Return("https://cdn/team.png", nil).
		Times(1)

	h := newHarness(t, gate)
	h.sess.SetOnEmit(func(event string, payload any) {
		req := payload.(wire.NewConversationRequest)
		parts := make([]wire.User, 0, len(req.Participants))
		for _, id := range req.Participants {
			parts = append(parts, wire.User{ID: id})
		}
		h.sess.Push("newConversation", wire.Envelope[wire.Conversation]{Success: true, Data: wire.Conversation{
			ID: "g1", Type: wire.ConversationGroup, Name: req.Name, Avatar: *req.Avatar, Participants: parts, IsNew: true,
		}})
	})

	got, err := h.sync.Create(context.Background(), conversations.CreateRequest{
		Type: wire.ConversationGroup, Self: "me", Name: "Team", Participants: []string{"a", "b"}, AvatarHandle: "/tmp/team.png",
	})
	require.NoError(t, err)
	require.Equal(t, "https://cdn/team.png", got.Avatar)

	s := h.flush(t)
	require.Equal(t, []string{"g1"}, ids(s.Items))
}

func TestCreateUploadFailureNeverEmits(t *testing.T) {
	t.Parallel()

	ctrl := gomock.NewController(t)
	gate := mediamock.NewMockGate(ctrl)
	gate.EXPECT().Upload(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("quota"))

	h := newHarness(t, gate)
	_, err := h.sync.Create(context.Background(), conversations.CreateRequest{
		Type: wire.ConversationGroup, Self: "me", Name: "Team", Participants: []string{"a", "b"}, AvatarHandle: "/tmp/team.png",
	})
	require.ErrorIs(t, err, apperr.ErrUploadFailure)
	require.Empty(t, h.sess.EmittedFor("newConversation"))
}

func TestCreateRejected(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	h.sess.SetOnEmit(func(string, any) {
		h.sess.Push("newConversation", wire.Envelope[wire.Conversation]{Success: false, Msg: "unknown user"})
	})

	_, err := h.sync.Create(context.Background(), conversations.CreateRequest{
		Type: wire.ConversationDirect, Self: "me", Participants: []string{"ghost"},
	})
	require.ErrorIs(t, err, apperr.ErrEmissionRejected)
	require.Equal(t, "unknown user", apperr.Message(err))
	require.Empty(t, h.flush(t).Items)
}

func TestCreateTimesOut(t *testing.T) {
	t.Parallel()

	h := newHarness(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := h.sync.Create(ctx, conversations.CreateRequest{
		Type: wire.ConversationDirect, Self: "me", Participants: []string{"bo"},
	})
	require.ErrorIs(t, err, apperr.ErrConnection)
}
