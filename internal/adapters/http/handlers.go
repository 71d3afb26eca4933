package http

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AvisHuang/peer-chat/internal/adapters/signal"
	"github.com/AvisHuang/peer-chat/internal/core"
	"github.com/AvisHuang/peer-chat/internal/domain"
	"github.com/AvisHuang/peer-chat/internal/hub"
)

type RoomHandler struct {
	reg    *core.Registry
	hub    *hub.Hub
	events *signal.Events
}

func NewRoomHandler(reg *core.Registry, h *hub.Hub, events *signal.Events) *RoomHandler {
	return &RoomHandler{reg: reg, hub: h, events: events}
}

// roomView is the compact room shape embedded in create/join responses.
type roomView struct {
	ID         domain.RoomID `json:"id"`
	Name       string        `json:"name"`
	HostUserID domain.UserID `json:"hostUserId"`
}

func viewOf(info core.RoomInfo) roomView {
	return roomView{ID: info.ID, Name: info.Name, HostUserID: info.HostUserID}
}

func message(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"message": msg})
}

// List handles GET /api/rooms.
func (h *RoomHandler) List(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"rooms": h.reg.List()})
}

// Create handles POST /api/rooms. The creator becomes sole member and host.
func (h *RoomHandler) Create(c *gin.Context) {
	var req struct {
		Name        string        `json:"name"`
		UserID      domain.UserID `json:"userId"`
		DisplayName string        `json:"displayName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		message(c, http.StatusBadRequest, "invalid request body")
		return
	}

	rs, err := h.reg.CreateRoom(req.Name, domain.Member{UserID: req.UserID, DisplayName: req.DisplayName})
	if err != nil {
		message(c, http.StatusBadRequest, "missing required fields")
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"room":         viewOf(rs.Info()),
		"participants": rs.Members(),
	})
}

// Join handles POST /api/rooms/:roomID/join. Joining twice is an upsert.
func (h *RoomHandler) Join(c *gin.Context) {
	rs, err := h.reg.Room(domain.RoomID(c.Param("roomID")))
	if err != nil {
		message(c, http.StatusNotFound, "room not found")
		return
	}

	var req struct {
		UserID      domain.UserID `json:"userId"`
		DisplayName string        `json:"displayName"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		message(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := rs.UpsertMember(domain.Member{UserID: req.UserID, DisplayName: req.DisplayName}); err != nil {
		switch {
		case errors.Is(err, domain.ErrRoomFull):
			message(c, http.StatusBadRequest, "room is full")
		case errors.Is(err, domain.ErrRoomNotFound):
			// The room was deleted between lookup and join.
			message(c, http.StatusNotFound, "room not found")
		default:
			message(c, http.StatusBadRequest, "missing required fields")
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"room":         viewOf(rs.Info()),
		"participants": rs.Members(),
	})
}

// Leave handles POST /api/rooms/:roomID/leave. Any live connection the user
// still holds is dropped so the deletion rule sees a consistent picture.
func (h *RoomHandler) Leave(c *gin.Context) {
	rs, err := h.reg.Room(domain.RoomID(c.Param("roomID")))
	if err != nil {
		message(c, http.StatusNotFound, "room not found")
		return
	}

	var req struct {
		UserID domain.UserID `json:"userId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" {
		message(c, http.StatusBadRequest, "missing required fields")
		return
	}

	h.hub.Drop(rs.ID(), req.UserID)
	h.events.Depart(rs, req.UserID)
	message(c, http.StatusOK, "left room")
}

// TransferHost handles POST /api/rooms/:roomID/transfer-host. This endpoint
// is the single source of truth for host state; the socket variant of the
// message is a no-op.
func (h *RoomHandler) TransferHost(c *gin.Context) {
	rs, err := h.reg.Room(domain.RoomID(c.Param("roomID")))
	if err != nil {
		message(c, http.StatusNotFound, "room not found")
		return
	}

	var req struct {
		UserID        domain.UserID `json:"userId"`
		NewHostUserID domain.UserID `json:"newHostUserId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil || req.UserID == "" || req.NewHostUserID == "" {
		message(c, http.StatusBadRequest, "missing required fields")
		return
	}

	if err := rs.TransferHost(req.UserID, req.NewHostUserID); err != nil {
		switch {
		case errors.Is(err, domain.ErrNotHost):
			message(c, http.StatusForbidden, "only the host can transfer host rights")
		case errors.Is(err, domain.ErrNotMember):
			message(c, http.StatusBadRequest, "new host is not in the room")
		default:
			message(c, http.StatusBadRequest, "invalid request")
		}
		return
	}

	h.events.HostTransferred(rs.ID(), req.UserID, req.NewHostUserID)
	c.JSON(http.StatusOK, gin.H{
		"message":    "host transferred",
		"hostUserId": req.NewHostUserID,
	})
}
