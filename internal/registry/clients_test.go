package registry

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(id string, channels ...string) *Record {
	set := make(map[string]struct{}, len(channels))
	for _, ch := range channels {
		set[ch] = struct{}{}
	}
	return &Record{
		ID:          id,
		RemoteAddr:  "1.2.3.4:5678",
		UserAgent:   "test",
		Channels:    set,
		ConnectedAt: time.Now().UTC(),
		Metadata:    map[string]string{"user": "alice"},
	}
}

func TestRegisterAndRemove(t *testing.T) {
	reg := New(zerolog.Nop())
	require.NoError(t, reg.Register(record("AAAAAAAA", "room1")))
	assert.Equal(t, 1, reg.Len())

	reg.Remove("AAAAAAAA")
	assert.Equal(t, 0, reg.Len())

	// Idempotent.
	reg.Remove("AAAAAAAA")
	assert.Equal(t, 0, reg.Len())
}

func TestRegisterDuplicateID(t *testing.T) {
	reg := New(zerolog.Nop())
	require.NoError(t, reg.Register(record("SAME", "a")))
	err := reg.Register(record("SAME", "b"))
	assert.ErrorIs(t, err, ErrDuplicateID)
}

func TestRegisterEmptyChannelSet(t *testing.T) {
	reg := New(zerolog.Nop())
	assert.Error(t, reg.Register(record("EMPTY")))
	assert.Equal(t, 0, reg.Len())
}

func TestDetachRemovesRecordWhenLastChannel(t *testing.T) {
	reg := New(zerolog.Nop())
	require.NoError(t, reg.Register(record("A", "room1")))

	require.NoError(t, reg.Detach("A", "room1"))
	assert.Equal(t, 0, reg.Len(), "record with empty channel set must not remain")

	assert.ErrorIs(t, reg.Detach("A", "room1"), ErrNotFound, "second detach returns NotFound")
}

func TestDetachKeepsRecordWithRemainingChannels(t *testing.T) {
	reg := New(zerolog.Nop())
	require.NoError(t, reg.Register(record("A", "room1", "room2")))

	require.NoError(t, reg.Detach("A", "room1"))
	assert.Equal(t, 1, reg.Len())

	stats := reg.Snapshot()
	require.Len(t, stats, 1)
	assert.Equal(t, []string{"room2"}, stats[0].Channels)
}

func TestDetachUnknownChannel(t *testing.T) {
	reg := New(zerolog.Nop())
	require.NoError(t, reg.Register(record("A", "room1")))
	assert.ErrorIs(t, reg.Detach("A", "other"), ErrNotFound)
	assert.ErrorIs(t, reg.Detach("missing", "room1"), ErrNotFound)
}

func TestIDsOnChannel(t *testing.T) {
	reg := New(zerolog.Nop())
	require.NoError(t, reg.Register(record("A", "room1")))
	require.NoError(t, reg.Register(record("B", "room1", "room2")))
	require.NoError(t, reg.Register(record("C", "room2")))

	ids := reg.IDsOnChannel("room1")
	assert.ElementsMatch(t, []string{"A", "B"}, ids)
	assert.Empty(t, reg.IDsOnChannel("nope"))
}

func TestSnapshotIsDetached(t *testing.T) {
	reg := New(zerolog.Nop())
	require.NoError(t, reg.Register(record("A", "room1")))

	stats := reg.Snapshot()
	require.Len(t, stats, 1)
	stats[0].Metadata["user"] = "mallory"
	stats[0].Channels[0] = "hijacked"

	fresh := reg.Snapshot()
	assert.Equal(t, "alice", fresh[0].Metadata["user"])
	assert.Equal(t, []string{"room1"}, fresh[0].Channels)
}
