// Package http is the request/response surface: the room REST API and the
// mount point for the persistent-connection endpoint.
package http

import (
	"context"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"github.com/AvisHuang/peer-chat/internal/adapters/signal"
	"github.com/AvisHuang/peer-chat/internal/config"
	"github.com/AvisHuang/peer-chat/internal/core"
	"github.com/AvisHuang/peer-chat/internal/hub"
)

func SetupRouter(ctx context.Context, cfg *config.Config, reg *core.Registry, h *hub.Hub, events *signal.Events) *gin.Engine {
	if cfg.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	if cfg.Mode == "debug" {
		r.Use(gin.Logger())
	}
	r.Use(gin.Recovery())
	r.Use(CORS(cfg.AllowedOrigin))

	rooms := NewRoomHandler(reg, h, events)
	api := r.Group("/api")
	api.GET("/rooms", rooms.List)
	api.POST("/rooms", rooms.Create)
	api.POST("/rooms/:roomID/join", rooms.Join)
	api.POST("/rooms/:roomID/leave", rooms.Leave)
	api.POST("/rooms/:roomID/transfer-host", rooms.TransferHost)

	ctl := signal.NewController(reg, h, events, cfg)
	r.GET("/ws", func(c *gin.Context) {
		ctl.HandleWS(ctx, c)
	})

	log.Info().Str("module", "adapters.http").Msg("router setup")
	return r
}
