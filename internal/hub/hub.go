// Package hub tracks the live transport connections per room and fans
// messages out to them. It owns liveness: a periodic sweep probes every
// connection and closes the ones that never answered the previous probe.
package hub

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/AvisHuang/peer-chat/internal/domain"
)

// Hub is the per-room subscriber registry. It never mutates room state;
// membership bookkeeping stays in core and is driven by the connection
// owner's read loop.
type Hub struct {
	mu       sync.RWMutex
	rooms    map[domain.RoomID]map[domain.UserID]*Conn
	interval time.Duration
}

func NewHub(heartbeat time.Duration) *Hub {
	if heartbeat <= 0 {
		heartbeat = 30 * time.Second
	}
	return &Hub{
		rooms:    make(map[domain.RoomID]map[domain.UserID]*Conn),
		interval: heartbeat,
	}
}

// Attach registers a connection. A lingering connection for the same
// (room, user) pair is closed and replaced.
func (h *Hub) Attach(c *Conn) {
	h.mu.Lock()
	conns := h.rooms[c.roomID]
	if conns == nil {
		conns = make(map[domain.UserID]*Conn)
		h.rooms[c.roomID] = conns
	}
	old := conns[c.userID]
	conns[c.userID] = c
	h.mu.Unlock()

	if old != nil {
		old.Close()
	}
	log.Debug().Str("module", "hub").Str("room", string(c.roomID)).Str("user", string(c.userID)).Msg("connection attached")
}

// Detach removes a connection if it is still the registered one for its
// (room, user) pair, so a replacement attached in the meantime survives.
// Reports whether this connection was the registered one; a false return
// means the user is still live elsewhere and owns the membership now.
func (h *Hub) Detach(c *Conn) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	conns, ok := h.rooms[c.roomID]
	if !ok || conns[c.userID] != c {
		return false
	}
	delete(conns, c.userID)
	if len(conns) == 0 {
		delete(h.rooms, c.roomID)
	}
	log.Debug().Str("module", "hub").Str("room", string(c.roomID)).Str("user", string(c.userID)).Msg("connection detached")
	return true
}

// Drop detaches and closes whatever connection a user currently holds in a
// room. Reports whether one existed.
func (h *Hub) Drop(roomID domain.RoomID, userID domain.UserID) bool {
	h.mu.Lock()
	conns := h.rooms[roomID]
	c, ok := conns[userID]
	if ok {
		delete(conns, userID)
		if len(conns) == 0 {
			delete(h.rooms, roomID)
		}
	}
	h.mu.Unlock()
	if ok {
		c.Close()
	}
	return ok
}

// Forward delivers a frame to a single user. Delivery is best-effort: an
// absent target or a saturated connection drops the frame.
func (h *Hub) Forward(roomID domain.RoomID, target domain.UserID, f Frame) bool {
	h.mu.RLock()
	c, ok := h.rooms[roomID][target]
	h.mu.RUnlock()
	if !ok {
		return false
	}
	if err := c.TrySend(f); err != nil {
		log.Debug().Str("module", "hub").Str("room", string(roomID)).Str("user", string(target)).Err(err).Msg("forward dropped")
		return false
	}
	return true
}

// Broadcast delivers a frame to every live connection in a room, minus an
// optional excluded user. Slow consumers are skipped, never waited on.
func (h *Hub) Broadcast(roomID domain.RoomID, f Frame, exclude domain.UserID) {
	h.mu.RLock()
	conns := h.rooms[roomID]
	targets := make([]*Conn, 0, len(conns))
	for userID, c := range conns {
		if userID == exclude {
			continue
		}
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.TrySend(f); err != nil {
			log.Debug().Str("module", "hub").Str("room", string(roomID)).Str("user", string(c.userID)).Err(err).Msg("broadcast dropped")
		}
	}
}

// LiveCount reports the number of live connections in a room. The registry
// uses it for the room deletion rule.
func (h *Hub) LiveCount(roomID domain.RoomID) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

// RunLiveness probes every connection on a fixed interval and closes the
// ones whose previous probe went unanswered. A half-open connection costs at
// most two intervals.
func (h *Hub) RunLiveness(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.sweep()
		}
	}
}

func (h *Hub) sweep() {
	h.mu.RLock()
	conns := make([]*Conn, 0)
	for _, room := range h.rooms {
		for _, c := range room {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if c.probe() {
			log.Info().Str("module", "hub").Str("room", string(c.roomID)).Str("user", string(c.userID)).Msg("heartbeat missed, closing connection")
			c.Close()
		}
	}
}
