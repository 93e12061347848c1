// Package conversations reconciles the held conversation list against
// channel pushes.
package conversations

import (
	"sort"

	"github.com/bhandras/chatsync/internal/actor"
	"github.com/bhandras/chatsync/internal/events"
	"github.com/bhandras/chatsync/internal/wire"
	"github.com/samber/lo"
)

// State is the held conversation list. Ids are unique; order is arrival
// order and carries no meaning. Use Sorted or Partition for views.
type State struct {
	Items []wire.Conversation
}

// Find returns the conversation with id.
func (s State) Find(id string) (wire.Conversation, bool) {
	return lo.Find(s.Items, func(c wire.Conversation) bool { return c.ID == id })
}

// BulkReplaced is a successful getConversations push.
type BulkReplaced struct {
	actor.InputBase
	Items []wire.Conversation
}

// Created is a successful newConversation push.
type Created struct {
	actor.InputBase
	Conversation wire.Conversation
}

// LastMessageUpdated is a successful newMessage push, as seen by the list.
type LastMessageUpdated struct {
	actor.InputBase
	Message wire.Message
}

// RefreshRequested asks for the full list to be fetched again.
type RefreshRequested struct {
	actor.InputBase
}

// Reduce is the conversation list reducer. Inputs it does not know leave the
// state unchanged.
func Reduce(s State, in actor.Input) (State, []actor.Effect) {
	switch in := in.(type) {
	case BulkReplaced:
		return State{Items: dedupe(in.Items)}, nil

	case Created:
		c := in.Conversation
		if !c.IsNew || c.ID == "" {
			return s, nil
		}
		if _, held := s.Find(c.ID); held {
			return s, nil
		}
		c.IsNew = false
		items := make([]wire.Conversation, 0, len(s.Items)+1)
		items = append(items, s.Items...)
		return State{Items: append(items, c)}, nil

	case LastMessageUpdated:
		_, idx, ok := lo.FindIndexOf(s.Items, func(c wire.Conversation) bool {
			return c.ID == in.Message.ConversationID
		})
		if !ok {
			return s, nil
		}
		items := append([]wire.Conversation(nil), s.Items...)
		msg := in.Message
		items[idx].LastMessage = &msg
		return State{Items: items}, nil

	case RefreshRequested:
		return s, []actor.Effect{events.Emit{Event: events.GetConversations, Payload: struct{}{}}}
	}
	return s, nil
}

func dedupe(items []wire.Conversation) []wire.Conversation {
	out := lo.UniqBy(lo.Filter(items, func(c wire.Conversation, _ int) bool { return c.ID != "" }),
		func(c wire.Conversation) string { return c.ID })
	for i := range out {
		out[i].IsNew = false
	}
	return out
}

// RecencyKey is the instant a conversation sorts by: its last message, or its
// creation when it has none.
func RecencyKey(c wire.Conversation) wire.Timestamp {
	if c.LastMessage != nil && !c.LastMessage.CreatedAt.IsZero() {
		return c.LastMessage.CreatedAt
	}
	return c.CreatedAt
}

// Sorted returns a copy of items ordered most recent first. Ties are broken
// by id.
func Sorted(items []wire.Conversation) []wire.Conversation {
	out := append([]wire.Conversation(nil), items...)
	sort.SliceStable(out, func(i, j int) bool {
		ki, kj := RecencyKey(out[i]), RecencyKey(out[j])
		if !ki.Equal(kj.Time) {
			return ki.After(kj.Time)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Partition returns the conversations of type t, most recent first.
func Partition(items []wire.Conversation, t wire.ConversationType) []wire.Conversation {
	return Sorted(lo.Filter(items, func(c wire.Conversation, _ int) bool { return c.Type == t }))
}

// Identity is what a conversation is shown as.
type Identity struct {
	Name   string
	Avatar string
}

// DisplayIdentity resolves how c is presented to the user with id self:
// direct conversations show the other participant, groups their own name.
func DisplayIdentity(c wire.Conversation, self string) Identity {
	if c.Type != wire.ConversationDirect {
		return Identity{Name: c.Name, Avatar: c.Avatar}
	}
	other, ok := lo.Find(c.Participants, func(u wire.User) bool { return u.ID != self })
	if !ok {
		return Identity{Name: c.Name, Avatar: c.Avatar}
	}
	return Identity{Name: other.Name, Avatar: other.Avatar}
}
