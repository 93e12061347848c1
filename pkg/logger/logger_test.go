package logger

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

// TestLevelFiltering exercises the global logger; it must not run in parallel
// with other tests that touch logger state.
func TestLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf)
	SetJSON(true)
	SetLevel(LevelWarn)
	t.Cleanup(func() {
		SetLevel(LevelInfo)
		SetJSON(false)
		SetOutput(nil)
	})

	Infof("hidden %d", 1)
	require.Empty(t, buf.String())

	Warnf("shown %d", 2)
	require.Contains(t, buf.String(), `"message":"shown 2"`)
	require.Contains(t, buf.String(), `"level":"warn"`)

	require.False(t, Enabled(LevelDebug))
	require.True(t, Enabled(LevelError))
}

func TestParseLevel(t *testing.T) {
	t.Parallel()

	cases := map[string]Level{
		"trace":   LevelTrace,
		"DEBUG":   LevelDebug,
		"":        LevelInfo,
		" warn ":  LevelWarn,
		"warning": LevelWarn,
		"error":   LevelError,
	}
	for raw, want := range cases {
		got, err := ParseLevel(raw)
		require.NoError(t, err, raw)
		require.Equal(t, want, got, raw)
	}

	_, err := ParseLevel("loud")
	require.Error(t, err)
}
