package core

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/AvisHuang/peer-chat/internal/domain"
)

// ConnCounter reports how many live transport connections a room has.
// Implemented by the hub; the registry needs it for the deletion rule:
// a room is discarded only when it has no members and no live connections.
type ConnCounter interface {
	LiveCount(roomID domain.RoomID) int
}

// RoomInfo is the read-only listing view of a room.
type RoomInfo struct {
	ID          domain.RoomID `json:"id"`
	Name        string        `json:"name"`
	HostUserID  domain.UserID `json:"hostUserId"`
	MemberCount int           `json:"memberCount"`
	CreatedAt   time.Time     `json:"createdAt"`
}

// Registry is the authoritative room table. Its lock covers only the map;
// every room mutation goes through the room service's own lock.
type Registry struct {
	mu    sync.RWMutex
	rooms map[domain.RoomID]*RoomService
	conns ConnCounter
}

func NewRegistry(conns ConnCounter) *Registry {
	return &Registry{
		rooms: make(map[domain.RoomID]*RoomService),
		conns: conns,
	}
}

// CreateRoom makes a fresh room with the creator as its sole member and host.
func (r *Registry) CreateRoom(name string, creator domain.Member) (*RoomService, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, domain.ErrRoomName
	}
	if creator.UserID == "" {
		return nil, domain.ErrUserID
	}
	creator.DisplayName = domain.CleanDisplayName(creator.DisplayName)
	if creator.DisplayName == "" {
		return nil, domain.ErrDisplayName
	}

	room := &domain.Room{
		ID:         domain.RoomID(uuid.NewString()),
		Name:       name,
		HostUserID: creator.UserID,
		CreatedAt:  time.Now(),
	}
	rs := newRoomService(room, creator)

	r.mu.Lock()
	r.rooms[room.ID] = rs
	r.mu.Unlock()

	log.Info().Str("module", "core.registry").Str("room", string(room.ID)).Str("host", string(creator.UserID)).Msg("room created")
	return rs, nil
}

// Room resolves a room id or fails with ErrRoomNotFound.
func (r *Registry) Room(id domain.RoomID) (*RoomService, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rs, ok := r.rooms[id]
	if !ok {
		return nil, domain.ErrRoomNotFound
	}
	return rs, nil
}

// List returns the listing views in a stable order.
func (r *Registry) List() []RoomInfo {
	r.mu.RLock()
	out := make([]RoomInfo, 0, len(r.rooms))
	for _, rs := range r.rooms {
		out = append(out, rs.Info())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.Before(out[j].CreatedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// DeleteIfEmpty discards the room once both halves of the deletion rule hold.
// Reports whether the room was removed. The room lock is held across the
// emptiness check and the tombstone, so a join racing through a handle
// resolved before this call either lands first (and blocks deletion) or
// fails on the tombstone; a member can never be stranded in a deleted room.
func (r *Registry) DeleteIfEmpty(id domain.RoomID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	rs, ok := r.rooms[id]
	if !ok {
		return false
	}

	rs.mu.Lock()
	if len(rs.members) > 0 || (r.conns != nil && r.conns.LiveCount(id) > 0) {
		rs.mu.Unlock()
		return false
	}
	rs.closed = true
	rs.mu.Unlock()

	delete(r.rooms, id)
	log.Info().Str("module", "core.registry").Str("room", string(id)).Msg("empty room deleted")
	return true
}
