package core

import (
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/AvisHuang/peer-chat/internal/domain"
)

// RoomService is a threadsafe in-memory room. All membership, host and poll
// mutation is serialized on its mutex, whichever entry point (request/response
// or persistent connection) the call arrives from. It never touches transport
// resources.
type RoomService struct {
	mu      sync.RWMutex
	room    *domain.Room
	members map[domain.UserID]*domain.Member
	// order preserves join order for deterministic host succession.
	order []domain.UserID
	poll  *domain.Poll
	// closed is the registry's tombstone. Set under mu when the room is
	// removed from the registry, so a caller holding a stale handle cannot
	// join a room that no longer exists.
	closed bool
}

// StateSnapshot is the one-time greeting sent to a freshly attached
// connection: everything a late joiner needs to catch up.
type StateSnapshot struct {
	Participants []domain.Member      `json:"participants"`
	HostUserID   domain.UserID        `json:"hostUserId"`
	CurrentPoll  *domain.PollSnapshot `json:"currentPoll"`
}

func newRoomService(room *domain.Room, creator domain.Member) *RoomService {
	rs := &RoomService{
		room:    room,
		members: make(map[domain.UserID]*domain.Member),
	}
	rs.members[creator.UserID] = &creator
	rs.order = append(rs.order, creator.UserID)
	return rs
}

func (rs *RoomService) ID() domain.RoomID { return rs.room.ID }

func (rs *RoomService) Info() RoomInfo {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return RoomInfo{
		ID:          rs.room.ID,
		Name:        rs.room.Name,
		HostUserID:  rs.room.HostUserID,
		MemberCount: len(rs.members),
		CreatedAt:   rs.room.CreatedAt,
	}
}

func (rs *RoomService) HostUserID() domain.UserID {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.room.HostUserID
}

func (rs *RoomService) MemberCount() int {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return len(rs.members)
}

// Members returns the membership in join order.
func (rs *RoomService) Members() []domain.Member {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.membersLocked("")
}

// ParticipantsExcept returns the membership in join order, minus one user.
func (rs *RoomService) ParticipantsExcept(exclude domain.UserID) []domain.Member {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	return rs.membersLocked(exclude)
}

func (rs *RoomService) membersLocked(exclude domain.UserID) []domain.Member {
	out := make([]domain.Member, 0, len(rs.members))
	for _, id := range rs.order {
		if id == exclude {
			continue
		}
		if m, ok := rs.members[id]; ok {
			out = append(out, *m)
		}
	}
	return out
}

// UpsertMember adds or refreshes a member. Both the join request and the
// connection handshake funnel through here, so it must stay idempotent.
// A new member beyond capacity fails with ErrRoomFull.
func (rs *RoomService) UpsertMember(m domain.Member) error {
	if m.UserID == "" {
		return domain.ErrUserID
	}
	m.DisplayName = domain.CleanDisplayName(m.DisplayName)
	if m.DisplayName == "" {
		return domain.ErrDisplayName
	}

	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.closed {
		return domain.ErrRoomNotFound
	}
	if existing, ok := rs.members[m.UserID]; ok {
		existing.DisplayName = m.DisplayName
		return nil
	}
	if len(rs.members) >= domain.MaxRoomMembers {
		return domain.ErrRoomFull
	}
	rs.members[m.UserID] = &m
	rs.order = append(rs.order, m.UserID)
	log.Info().Str("module", "core.room").Str("room", string(rs.room.ID)).Str("user", string(m.UserID)).Msg("member added")
	return nil
}

// RemoveMember drops a member if present. When the departing member is the
// host and others remain, the host moves to the earliest remaining member by
// join order before the removal completes, so the room is never hostless
// while non-empty. Returns whether anything was removed and, if the host
// changed, the successor.
func (rs *RoomService) RemoveMember(id domain.UserID) (removed bool, newHost domain.UserID, hostChanged bool) {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if _, ok := rs.members[id]; !ok {
		return false, "", false
	}
	delete(rs.members, id)
	for i, o := range rs.order {
		if o == id {
			rs.order = append(rs.order[:i], rs.order[i+1:]...)
			break
		}
	}
	if rs.room.HostUserID == id && len(rs.order) > 0 {
		rs.room.HostUserID = rs.order[0]
		newHost = rs.room.HostUserID
		hostChanged = true
		log.Info().Str("module", "core.room").Str("room", string(rs.room.ID)).Str("host", string(newHost)).Msg("host succeeded departing host")
	}
	log.Info().Str("module", "core.room").Str("room", string(rs.room.ID)).Str("user", string(id)).Msg("member removed")
	return true, newHost, hostChanged
}

// TransferHost reassigns the host pointer. Only the current host may call it
// and the target must be a member.
func (rs *RoomService) TransferHost(requester, target domain.UserID) error {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	if rs.room.HostUserID != requester {
		return domain.ErrNotHost
	}
	if _, ok := rs.members[target]; !ok {
		return domain.ErrNotMember
	}
	rs.room.HostUserID = target
	log.Info().Str("module", "core.room").Str("room", string(rs.room.ID)).Str("from", string(requester)).Str("to", string(target)).Msg("host transferred")
	return nil
}

// Snapshot captures the full room state for a joining connection, excluding
// the joiner from the participant list.
func (rs *RoomService) Snapshot(self domain.UserID) StateSnapshot {
	rs.mu.RLock()
	defer rs.mu.RUnlock()
	snap := StateSnapshot{
		Participants: rs.membersLocked(self),
		HostUserID:   rs.room.HostUserID,
	}
	if rs.poll != nil {
		ps := rs.poll.Snapshot()
		snap.CurrentPoll = &ps
	}
	return snap
}
