package telemetry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRedactMap(t *testing.T) {
	got := RedactMap(map[string]string{
		"x-api-key":     "secret",
		"Authorization": "Bearer t",
		"x-trace":       "abc",
	})
	require.Equal(t, map[string]string{
		"x-api-key":     "***",
		"Authorization": "***",
		"x-trace":       "abc",
	}, got)
	require.Nil(t, RedactMap(nil))
}

func TestSensitiveHeader(t *testing.T) {
	require.True(t, SensitiveHeader("X-Session-Token"))
	require.True(t, SensitiveHeader("authorization"))
	require.False(t, SensitiveHeader("Accept"))
}

func TestScrubSecret(t *testing.T) {
	require.Equal(t, "401: bad key ***", ScrubSecret("401: bad key gsk_abc", "gsk_abc"))
	require.Equal(t, "no secret here", ScrubSecret("no secret here", "gsk_abc"))
	require.Equal(t, "kept", ScrubSecret("kept", ""))
}
