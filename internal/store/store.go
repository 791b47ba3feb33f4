// Package store persists room sessions between runs: per-room
// {token, display name, role} plus a pointer to the room the client
// was last part of. The engine only talks to the SessionStore
// interface so tests run against the in-memory implementation.
package store

import (
	"github.com/kmajors/buzzroom/internal/protocol"
)

// Session is the persisted credential set for one room.
type Session struct {
	RoomID string        `json:"room_id"`
	Name   string        `json:"name"`
	Role   protocol.Role `json:"role"`
	Token  string        `json:"token"`
}

// SessionStore is the per-room key/value persistence boundary.
type SessionStore interface {
	// Get returns the stored session for a room, if any.
	Get(roomID string) (Session, bool, error)
	// Put stores or replaces the session for sess.RoomID.
	Put(sess Session) error
	// Delete removes the session for a room. Deleting an absent room
	// is not an error.
	Delete(roomID string) error

	// CurrentRoom returns the room the client last joined, if any.
	CurrentRoom() (string, bool, error)
	SetCurrentRoom(roomID string) error
	ClearCurrentRoom() error
}
