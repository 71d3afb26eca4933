package signal

import (
	"encoding/json"

	"github.com/rs/zerolog/log"

	"github.com/AvisHuang/peer-chat/internal/core"
	"github.com/AvisHuang/peer-chat/internal/domain"
	"github.com/AvisHuang/peer-chat/internal/hub"
)

// Events publishes the pushed message types into a room. Both the REST
// handlers and the socket dispatch use it, so the wire shapes exist in
// exactly one place.
type Events struct {
	Hub *hub.Hub
	Reg *core.Registry
}

func NewEvents(h *hub.Hub, reg *core.Registry) *Events {
	return &Events{Hub: h, Reg: reg}
}

func marshal(v any) (hub.Frame, bool) {
	b, err := json.Marshal(v)
	if err != nil {
		log.Warn().Str("module", "adapters.signal").Err(err).Msg("marshal outbound message")
		return nil, false
	}
	return b, true
}

func (e *Events) broadcast(roomID domain.RoomID, v any, exclude domain.UserID) {
	if f, ok := marshal(v); ok {
		e.Hub.Broadcast(roomID, f, exclude)
	}
}

func (e *Events) toUser(roomID domain.RoomID, userID domain.UserID, v any) {
	if f, ok := marshal(v); ok {
		e.Hub.Forward(roomID, userID, f)
	}
}

// Notify sends a one-off notification to a single user, never the room.
func (e *Events) Notify(roomID domain.RoomID, userID domain.UserID, message string, isError bool) {
	e.toUser(roomID, userID, map[string]any{
		"type":    TypeNotification,
		"message": message,
		"isError": isError,
	})
}

// MemberJoined announces a join to everyone except the joiner.
func (e *Events) MemberJoined(roomID domain.RoomID, m domain.Member) {
	e.broadcast(roomID, map[string]any{
		"type": TypeUserJoined,
		"user": m,
	}, m.UserID)
}

// MemberLeft announces a departure to everyone except the leaver.
func (e *Events) MemberLeft(roomID domain.RoomID, userID domain.UserID) {
	e.broadcast(roomID, map[string]any{
		"type":   TypeUserLeft,
		"userId": userID,
	}, userID)
}

// HostTransferred goes to every live connection, old and new host included.
func (e *Events) HostTransferred(roomID domain.RoomID, from, to domain.UserID) {
	e.broadcast(roomID, map[string]any{
		"type":          TypeHostTransferred,
		"newHostUserId": to,
		"fromUserId":    from,
	}, "")
}

func (e *Events) PollStarted(roomID domain.RoomID, snap domain.PollSnapshot) {
	e.broadcast(roomID, map[string]any{
		"type": TypePollStarted,
		"poll": snap,
	}, "")
}

func (e *Events) PollUpdate(roomID domain.RoomID, pollID string, counts []int) {
	e.broadcast(roomID, map[string]any{
		"type":   TypePollUpdate,
		"pollId": pollID,
		"counts": counts,
	}, "")
}

func (e *Events) PollEnded(roomID domain.RoomID, snap domain.PollSnapshot) {
	e.broadcast(roomID, map[string]any{
		"type": TypePollEnded,
		"poll": snap,
	}, "")
}

// Depart runs the shared departure path: remove the member, announce the
// host succession if one happened, announce the departure, then evaluate
// room deletion. Leave requests, connection closes and heartbeat kills all
// funnel through here, and every step is idempotent.
func (e *Events) Depart(rs *core.RoomService, userID domain.UserID) {
	removed, newHost, hostChanged := rs.RemoveMember(userID)
	if removed {
		if hostChanged {
			e.HostTransferred(rs.ID(), userID, newHost)
		}
		e.MemberLeft(rs.ID(), userID)
	}
	e.Reg.DeleteIfEmpty(rs.ID())
}
