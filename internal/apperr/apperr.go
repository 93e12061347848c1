// Package apperr defines the error taxonomy surfaced by the sync core.
//
// Every failure a caller can see falls into one of a handful of kinds. Kinds
// are sentinels so callers branch with errors.Is; the concrete *Error carries
// the operation and a message fit for showing to the user.
package apperr

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated means there is no usable credential. The caller should
	// route to sign-in rather than retry.
	ErrUnauthenticated = errors.New("unauthenticated")

	// ErrConnection is a transport failure. Retrying Connect may succeed.
	ErrConnection = errors.New("connection error")

	// ErrUploadFailure means the media gate rejected an upload. The send was
	// aborted before anything was emitted.
	ErrUploadFailure = errors.New("upload failed")

	// ErrEmissionRejected means the server answered a command with a failure
	// push. Local state is unchanged.
	ErrEmissionRejected = errors.New("rejected by server")

	// ErrInvalidSend is returned when a send is attempted without content,
	// without a signed-in user, or without an open conversation.
	ErrInvalidSend = errors.New("invalid send")
)

// Error is a classified failure.
type Error struct {
	// Kind is one of the sentinels above.
	Kind error
	// Op names the operation that failed, e.g. "connect" or "send".
	Op string
	// Msg is a short user-facing explanation. May be empty.
	Msg string
	// Err is the underlying cause. May be nil.
	Err error
}

// New builds an *Error.
func New(kind error, op, msg string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Msg: msg, Err: cause}
}

func (e *Error) Error() string {
	out := e.Op
	if out != "" {
		out += ": "
	}
	out += e.Kind.Error()
	if e.Msg != "" {
		out += ": " + e.Msg
	}
	if e.Err != nil {
		out += ": " + e.Err.Error()
	}
	return out
}

// Unwrap exposes both the kind and the cause to errors.Is / errors.As.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

// Message returns the user-facing message of err, falling back to err.Error().
func Message(err error) string {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) && e.Msg != "" {
		return e.Msg
	}
	return err.Error()
}

// Unauthenticated wraps cause as ErrUnauthenticated.
func Unauthenticated(op string, cause error) error {
	return New(ErrUnauthenticated, op, "", cause)
}

// Connection wraps cause as ErrConnection.
func Connection(op string, cause error) error {
	return New(ErrConnection, op, "", cause)
}

// Rejected builds an ErrEmissionRejected carrying the server's message.
func Rejected(op, serverMsg string) error {
	if serverMsg == "" {
		serverMsg = fmt.Sprintf("%s failed", op)
	}
	return New(ErrEmissionRejected, op, serverMsg, nil)
}
