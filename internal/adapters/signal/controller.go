// Package signal is the persistent-connection surface: the WebSocket
// handshake, the per-connection pumps, and the dispatch of inbound
// envelopes to forwarding, broadcast, or the poll engine.
package signal

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/AvisHuang/peer-chat/internal/config"
	"github.com/AvisHuang/peer-chat/internal/core"
	"github.com/AvisHuang/peer-chat/internal/domain"
	"github.com/AvisHuang/peer-chat/internal/hub"
)

type Controller struct {
	Reg      *core.Registry
	Hub      *hub.Hub
	Events   *Events
	upgrader websocket.Upgrader
	cfg      *config.Config
}

func NewController(reg *core.Registry, h *hub.Hub, events *Events, cfg *config.Config) *Controller {
	return &Controller{
		Reg:    reg,
		Hub:    h,
		Events: events,
		cfg:    cfg,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				if cfg.AllowedOrigin == "" || cfg.AllowedOrigin == "*" {
					return true
				}
				return r.Header.Get("Origin") == cfg.AllowedOrigin
			},
		},
	}
}

// closeWith rejects an accepted socket with a distinct close reason before
// any registration happened.
func closeWith(ws *websocket.Conn, code int, reason string) {
	deadline := time.Now().Add(time.Second)
	_ = ws.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
	_ = ws.Close()
}

// HandleWS upgrades the connection, validates the identifying query
// parameters, registers membership and the transport handle, and then serves
// the read loop until the peer goes away.
//
// The handshake upserts membership even without a prior join request; the
// join endpoint and this path converge on the same idempotent upsert.
func (ctl *Controller) HandleWS(ctx context.Context, c *gin.Context) {
	roomID := domain.RoomID(c.Query("roomId"))
	userID := domain.UserID(c.Query("userId"))
	displayName := domain.CleanDisplayName(c.Query("displayName"))

	ws, err := ctl.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		log.Warn().Str("module", "adapters.signal").Err(err).Msg("ws upgrade failed")
		return
	}

	if roomID == "" || userID == "" || displayName == "" {
		closeWith(ws, CloseMissingCredentials, "Missing credentials")
		return
	}
	rs, err := ctl.Reg.Room(roomID)
	if err != nil {
		closeWith(ws, CloseRoomNotFound, "Room not found")
		return
	}
	member := domain.Member{UserID: userID, DisplayName: displayName}
	if err := rs.UpsertMember(member); err != nil {
		if errors.Is(err, domain.ErrRoomNotFound) {
			closeWith(ws, CloseRoomNotFound, "Room not found")
		} else {
			closeWith(ws, CloseRoomFull, "Room full")
		}
		return
	}

	conn := hub.NewConn(roomID, userID, ws, ctl.cfg.SendBuffer)
	ws.SetReadLimit(ctl.cfg.ReadLimit)
	ws.SetPongHandler(func(string) error {
		conn.MarkResponsive()
		return nil
	})

	ctl.Hub.Attach(conn)
	conn.RunWritePump(ctx)
	log.Info().Str("module", "adapters.signal").Str("room", string(roomID)).Str("user", string(userID)).Msg("connection open")

	// The one-time snapshot is the only point where a late joiner learns
	// the full current state.
	if f, ok := marshal(stateMessage(rs.Snapshot(userID))); ok {
		_ = conn.TrySend(f)
	}
	ctl.Events.MemberJoined(roomID, member)

	ctl.readLoop(rs, member, conn, ws)
}

func stateMessage(snap core.StateSnapshot) map[string]any {
	return map[string]any{
		"type":         TypeRoomState,
		"participants": snap.Participants,
		"hostUserId":   snap.HostUserID,
		"currentPoll":  snap.CurrentPoll,
	}
}

// readLoop blocks until the connection dies, whether by client close, error,
// or a heartbeat kill; all three end here and get identical cleanup. The
// departure only runs when this connection was still the registered one: a
// reconnect replaces the hub entry, and the replaced loop's cleanup must not
// remove the membership out from under the live replacement.
func (ctl *Controller) readLoop(rs *core.RoomService, member domain.Member, conn *hub.Conn, ws *websocket.Conn) {
	defer func() {
		stillOwner := ctl.Hub.Detach(conn)
		conn.Close()
		if stillOwner {
			ctl.Events.Depart(rs, member.UserID)
		}
		log.Info().Str("module", "adapters.signal").Str("room", string(rs.ID())).Str("user", string(member.UserID)).Bool("departed", stillOwner).Msg("connection closed")
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}
		ctl.dispatch(rs, member, data)
	}
}
