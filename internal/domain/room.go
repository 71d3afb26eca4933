// Package domain contains the entities and the error taxonomy, no logic
// beyond field validation.
package domain

import (
	"errors"
	"strings"
	"time"
)

const (
	// MaxDisplayNameLen bounds what clients can render in a member list.
	MaxDisplayNameLen = 32
	// MaxRoomMembers is the session capacity: rooms pair exactly two peers.
	MaxRoomMembers = 2
)

var (
	ErrRoomNotFound = errors.New("room not found")
	ErrRoomFull     = errors.New("room is full")
	ErrNotHost      = errors.New("requester is not the room host")
	ErrNotMember    = errors.New("target user is not a room member")
	ErrRoomName     = errors.New("room name empty")
	ErrDisplayName  = errors.New("display name empty")
	ErrUserID       = errors.New("user id empty")
)

type (
	RoomID string
	UserID string
)

// Member is a participant identity record. The id is an opaque token minted
// by the client, never by this server.
type Member struct {
	UserID      UserID `json:"userId"`
	DisplayName string `json:"displayName"`
}

// Room carries the per-room metadata; membership and poll state live behind
// the core room service.
type Room struct {
	ID         RoomID
	Name       string
	HostUserID UserID
	CreatedAt  time.Time
}

// CleanDisplayName trims and caps a caller-supplied display name.
func CleanDisplayName(name string) string {
	name = strings.TrimSpace(name)
	if r := []rune(name); len(r) > MaxDisplayNameLen {
		return string(r[:MaxDisplayNameLen])
	}
	return name
}
