package cmds

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDeriveWSURL(t *testing.T) {
	require.Equal(t, "wss://api.example.com", deriveWSURL("https://api.example.com"))
	require.Equal(t, "ws://localhost:8080", deriveWSURL("http://localhost:8080"))
	require.Equal(t, "ws://already", deriveWSURL("ws://already"))
}

func TestFirstNonEmpty(t *testing.T) {
	require.Equal(t, "a", firstNonEmpty("a", "b"))
	require.Equal(t, "b", firstNonEmpty("", "b"))
	require.Equal(t, "", firstNonEmpty("", ""))
}
