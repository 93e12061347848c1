// Package wire defines the JSON payloads exchanged over the chat event
// channel.
//
// Every server push is an Envelope. Entity ids arrive as either `_id` (the
// server's document id) or `id`; decoding accepts both and encoding always
// writes `id`.
package wire

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// Envelope is the shape of every server push.
type Envelope[T any] struct {
	// Success reports whether the command the push answers succeeded.
	Success bool `json:"success"`
	// Data is the payload. Zero when Success is false.
	Data T `json:"data"`
	// Msg is a human-readable failure reason.
	Msg string `json:"msg,omitempty"`
}

// ConversationType distinguishes one-to-one from group conversations.
type ConversationType string

const (
	// ConversationDirect is a conversation between exactly two users.
	ConversationDirect ConversationType = "direct"
	// ConversationGroup is a named conversation with any number of members.
	ConversationGroup ConversationType = "group"
)

// User is a participant, message sender or contact.
type User struct {
	ID     string `json:"id"`
	Name   string `json:"name"`
	Email  string `json:"email,omitempty"`
	Avatar string `json:"avatar,omitempty"`
}

// UnmarshalJSON accepts `_id` as an alias for `id`.
func (u *User) UnmarshalJSON(b []byte) error {
	type alias User
	var raw struct {
		alias
		DocID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*u = User(raw.alias)
	if u.ID == "" {
		u.ID = raw.DocID
	}
	return nil
}

// Message is a chat message, also used as a conversation's last-message
// snapshot.
type Message struct {
	ID             string    `json:"id"`
	ConversationID string    `json:"conversationId"`
	SenderID       string    `json:"senderId,omitempty"`
	Sender         User      `json:"sender"`
	Content        string    `json:"content,omitempty"`
	Attachment     string    `json:"attachment,omitempty"`
	CreatedAt      Timestamp `json:"createdAt"`
	// LocalID is the client-generated id of the send that produced this
	// message, when the server echoes it.
	LocalID string `json:"localId,omitempty"`
}

// UnmarshalJSON accepts `_id` as an alias for `id` and fills Sender.ID from
// SenderID when the server sends only the latter.
func (m *Message) UnmarshalJSON(b []byte) error {
	type alias Message
	var raw struct {
		alias
		DocID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*m = Message(raw.alias)
	if m.ID == "" {
		m.ID = raw.DocID
	}
	if m.Sender.ID == "" {
		m.Sender.ID = m.SenderID
	}
	return nil
}

// Conversation is a conversation summary as pushed by the server.
type Conversation struct {
	ID           string           `json:"id"`
	Type         ConversationType `json:"type"`
	Name         string           `json:"name,omitempty"`
	Avatar       string           `json:"avatar,omitempty"`
	Participants []User           `json:"participants"`
	LastMessage  *Message         `json:"lastMessage,omitempty"`
	CreatedAt    Timestamp        `json:"createdAt"`
	// IsNew is set on a newConversation push when the server actually created
	// the conversation, as opposed to returning an existing one.
	IsNew bool `json:"isNew,omitempty"`
}

// UnmarshalJSON accepts `_id` as an alias for `id`.
func (c *Conversation) UnmarshalJSON(b []byte) error {
	type alias Conversation
	var raw struct {
		alias
		DocID string `json:"_id"`
	}
	if err := json.Unmarshal(b, &raw); err != nil {
		return err
	}
	*c = Conversation(raw.alias)
	if c.ID == "" {
		c.ID = raw.DocID
	}
	return nil
}

// GetMessagesRequest is the getMessage command payload.
type GetMessagesRequest struct {
	ConversationID string `json:"conversationId"`
}

// NewMessageRequest is the newMessage command payload.
type NewMessageRequest struct {
	ConversationID string `json:"conversationId"`
	SenderID       string `json:"senderId"`
	Sender         User   `json:"sender"`
	Content        string `json:"content"`
	// Attachment is the durable media reference; null when absent.
	Attachment *string `json:"attachment"`
	LocalID    string  `json:"localId,omitempty"`
}

// NewConversationRequest is the newConversation command payload.
type NewConversationRequest struct {
	Type ConversationType `json:"type"`
	// Participants are user ids, including the current user.
	Participants []string `json:"participants"`
	Name         string   `json:"name,omitempty"`
	Avatar       *string  `json:"avatar,omitempty"`
}

// UpdateProfileRequest is the updateProfile command payload.
type UpdateProfileRequest struct {
	Name   string  `json:"name"`
	Avatar *string `json:"avatar,omitempty"`
}

// ProfileUpdated is the data of a successful updateProfile push.
type ProfileUpdated struct {
	// Token is the reissued credential carrying the new identity.
	Token string `json:"token"`
}

// Timestamp is an instant that decodes from either an RFC 3339 string or a
// number of milliseconds since the epoch. The zero value means "unknown".
type Timestamp struct {
	time.Time
}

// At wraps t as a Timestamp.
func At(t time.Time) Timestamp { return Timestamp{Time: t} }

// UnixMilli builds a Timestamp from milliseconds since the epoch.
func UnixMilli(ms int64) Timestamp { return Timestamp{Time: time.UnixMilli(ms)} }

// MarshalJSON writes RFC 3339 with millisecond precision, or null when zero.
func (t Timestamp) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(t.UTC().Format("2006-01-02T15:04:05.000Z07:00"))
}

// UnmarshalJSON implements json.Unmarshaler.
func (t *Timestamp) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*t = Timestamp{}
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		if s == "" {
			*t = Timestamp{}
			return nil
		}
		parsed, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return fmt.Errorf("parse timestamp %q: %w", s, err)
		}
		t.Time = parsed
		return nil
	}
	ms, err := strconv.ParseFloat(string(b), 64)
	if err != nil {
		return fmt.Errorf("parse timestamp %s: %w", b, err)
	}
	t.Time = time.UnixMilli(int64(ms))
	return nil
}
