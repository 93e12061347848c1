// Package messages holds the message stream of the open conversation and runs
// the send transaction.
package messages

import (
	"github.com/bhandras/chatsync/internal/actor"
	"github.com/bhandras/chatsync/internal/events"
	"github.com/bhandras/chatsync/internal/wire"
	"github.com/samber/lo"
)

// Message is a held message.
type Message struct {
	wire.Message
	// IsMine is true when the current user sent it.
	IsMine bool
}

// Draft is the staged pending send.
type Draft struct {
	Content string
	// Attachment is a local media handle, or empty.
	Attachment string
}

// IsZero reports whether nothing is staged.
func (d Draft) IsZero() bool { return d.Content == "" && d.Attachment == "" }

// State is the stream of one open conversation.
type State struct {
	// ConversationID is the open conversation, or empty.
	ConversationID string
	// Self is the current user's id at the time the conversation was opened.
	Self string
	// Items is newest first with unique ids.
	Items []Message
	Draft Draft
}

// Opened switches the stream to a conversation.
type Opened struct {
	actor.InputBase
	ConversationID string
	Self           string
}

// Closed leaves the open conversation.
type Closed struct {
	actor.InputBase
}

// Loaded is a successful getMessage push. An empty ConversationID means the
// push did not say which conversation it is for and applies to the open one.
type Loaded struct {
	actor.InputBase
	ConversationID string
	Items          []wire.Message
}

// Received is a successful newMessage push.
type Received struct {
	actor.InputBase
	Message wire.Message
}

// DraftSet stages a pending send.
type DraftSet struct {
	actor.InputBase
	Draft Draft
}

// DraftSent reports that Draft was accepted by the server for
// ConversationID. The staged draft is discarded only if it is still that one.
type DraftSent struct {
	actor.InputBase
	ConversationID string
	Draft          Draft
}

// Reduce is the message stream reducer.
func Reduce(s State, in actor.Input) (State, []actor.Effect) {
	switch in := in.(type) {
	case Opened:
		next := State{ConversationID: in.ConversationID, Self: in.Self}
		if in.ConversationID == "" {
			return next, nil
		}
		return next, []actor.Effect{events.Emit{
			Event:   events.GetMessage,
			Payload: wire.GetMessagesRequest{ConversationID: in.ConversationID},
		}}

	case Closed:
		return State{Self: s.Self}, nil

	case Loaded:
		if s.ConversationID == "" || (in.ConversationID != "" && in.ConversationID != s.ConversationID) {
			return s, nil
		}
		items := lo.UniqBy(in.Items, func(m wire.Message) string { return m.ID })
		s.Items = lo.Map(items, func(m wire.Message, _ int) Message { return s.hold(m) })
		return s, nil

	case Received:
		m := in.Message
		if s.ConversationID == "" || m.ConversationID != s.ConversationID {
			return s, nil
		}
		if lo.ContainsBy(s.Items, func(h Message) bool { return h.ID == m.ID }) {
			return s, nil
		}
		items := make([]Message, 0, len(s.Items)+1)
		items = append(items, s.hold(m))
		s.Items = append(items, s.Items...)
		return s, nil

	case DraftSet:
		s.Draft = in.Draft
		return s, nil

	case DraftSent:
		if s.ConversationID == in.ConversationID && s.Draft == in.Draft {
			s.Draft = Draft{}
		}
		return s, nil
	}
	return s, nil
}

func (s State) hold(m wire.Message) Message {
	return Message{Message: m, IsMine: s.Self != "" && m.Sender.ID == s.Self}
}
