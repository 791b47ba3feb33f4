package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kmajors/buzzroom/internal/protocol"
)

func TestFileStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sessions.json")
	s := NewFileStore(path)

	sess := Session{RoomID: "room-1", Name: "dana", Role: protocol.RoleAdmin, Token: "tok"}
	require.NoError(t, s.Put(sess))
	require.NoError(t, s.SetCurrentRoom("room-1"))

	// A separate store over the same file sees the persisted state.
	reopened := NewFileStore(path)

	got, ok, err := reopened.Get("room-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sess, got)

	roomID, ok, err := reopened.CurrentRoom()
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "room-1", roomID)
}

func TestFileStoreDelete(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "sessions.json"))

	require.NoError(t, s.Put(Session{RoomID: "room-1", Name: "dana", Token: "tok"}))
	require.NoError(t, s.Delete("room-1"))

	_, ok, err := s.Get("room-1")
	require.NoError(t, err)
	assert.False(t, ok)

	// Deleting an absent room is not an error.
	assert.NoError(t, s.Delete("room-1"))
}

func TestFileStoreClearCurrentRoom(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "sessions.json"))

	require.NoError(t, s.SetCurrentRoom("room-1"))
	require.NoError(t, s.ClearCurrentRoom())

	_, ok, err := s.CurrentRoom()
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestFileStoreMissingFileIsEmpty(t *testing.T) {
	s := NewFileStore(filepath.Join(t.TempDir(), "missing.json"))

	_, ok, err := s.Get("room-1")
	require.NoError(t, err)
	assert.False(t, ok)

	_, ok, err = s.CurrentRoom()
	require.NoError(t, err)
	assert.False(t, ok)
}
