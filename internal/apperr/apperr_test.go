package apperr

import (
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMatchesKindAndCause(t *testing.T) {
	t.Parallel()

	err := Connection("connect", io.ErrUnexpectedEOF)
	require.ErrorIs(t, err, ErrConnection)
	require.ErrorIs(t, err, io.ErrUnexpectedEOF)
	require.NotErrorIs(t, err, ErrUnauthenticated)
	require.Equal(t, "connect: connection error: unexpected EOF", err.Error())
}

func TestRejectedCarriesServerMessage(t *testing.T) {
	t.Parallel()

	err := Rejected("send", "conversation not found")
	require.ErrorIs(t, err, ErrEmissionRejected)
	require.Equal(t, "conversation not found", Message(err))

	err = Rejected("updateProfile", "")
	require.Equal(t, "updateProfile failed", Message(err))

	require.Equal(t, "plain", Message(errors.New("plain")))
	require.Empty(t, Message(nil))
}
