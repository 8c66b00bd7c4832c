package access

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLevelOrder(t *testing.T) {
	require.True(t, LevelWrite.Covers(LevelRead))
	require.True(t, LevelAdmin.Covers(LevelWrite))
	require.True(t, LevelRead.Covers(LevelRead))
	require.False(t, LevelRead.Covers(LevelWrite))
	require.False(t, LevelWrite.Covers(LevelAdmin))
}

func TestMax(t *testing.T) {
	require.Equal(t, LevelWrite, Max(LevelRead, LevelWrite))
	require.Equal(t, LevelWrite, Max(LevelWrite, LevelRead))
	require.Equal(t, LevelAdmin, Max(LevelAdmin, LevelAdmin))
}

func TestMaxOf(t *testing.T) {
	require.Equal(t, Level(0), MaxOf(nil))
	require.Equal(t, LevelWrite, MaxOf([]Level{LevelRead, LevelWrite, LevelRead}))
}

func TestParseLevel(t *testing.T) {
	for name, want := range map[string]Level{"read": LevelRead, "write": LevelWrite, "admin": LevelAdmin} {
		got, err := ParseLevel(name)
		require.NoError(t, err)
		require.Equal(t, want, got)
	}
	_, err := ParseLevel("owner")
	require.Error(t, err)
}

func TestLevelJSONRoundTrip(t *testing.T) {
	data, err := json.Marshal(LevelAdmin)
	require.NoError(t, err)
	require.JSONEq(t, `"admin"`, string(data))

	var l Level
	require.NoError(t, json.Unmarshal([]byte(`"write"`), &l))
	require.Equal(t, LevelWrite, l)

	require.Error(t, json.Unmarshal([]byte(`"root"`), &l))
}
