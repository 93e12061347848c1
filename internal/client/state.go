package client

import (
	"github.com/bhandras/chatsync/internal/actor"
	"github.com/bhandras/chatsync/internal/conversations"
	"github.com/bhandras/chatsync/internal/events"
	"github.com/bhandras/chatsync/internal/messages"
	"github.com/bhandras/chatsync/internal/wire"
	"github.com/samber/lo"
)

// State is everything the event loop owns.
type State struct {
	Conversations conversations.State
	Messages      messages.State
	Contacts      []wire.User
}

// ContactsReplaced is a successful getContacts push.
type ContactsReplaced struct {
	actor.InputBase
	Contacts []wire.User
}

// ContactsRequested asks the server for the contact list.
type ContactsRequested struct {
	actor.InputBase
}

// SignedOut drops all held state.
type SignedOut struct {
	actor.InputBase
}

// Reduce routes in to the feature reducers. Input types are disjoint, so at
// most one of them changes anything.
func Reduce(s State, in actor.Input) (State, []actor.Effect) {
	switch in := in.(type) {
	case ContactsReplaced:
		s.Contacts = lo.UniqBy(in.Contacts, func(u wire.User) string { return u.ID })
		return s, nil
	case ContactsRequested:
		return s, []actor.Effect{events.Emit{Event: events.GetContacts, Payload: struct{}{}}}
	case SignedOut:
		return State{}, nil
	}

	var effects []actor.Effect
	var eff []actor.Effect
	s.Conversations, eff = conversations.Reduce(s.Conversations, in)
	effects = append(effects, eff...)
	s.Messages, eff = messages.Reduce(s.Messages, in)
	effects = append(effects, eff...)
	return s, effects
}
