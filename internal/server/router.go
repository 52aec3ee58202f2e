package server

import (
	"time"

	"github.com/gin-gonic/gin"

	"codex-bridge/internal/auth"
	"codex-bridge/internal/devices"
	"codex-bridge/internal/handler"
	"codex-bridge/internal/hub"
	"codex-bridge/internal/middleware"
	"codex-bridge/internal/pairing"
	"codex-bridge/internal/plan"
	"codex-bridge/internal/sessionlog"
	"codex-bridge/internal/translate"
)

type Deps struct {
	Authorizer *auth.Authorizer
	Sessions   *sessionlog.Store
	Plans      *plan.Store
	Translator *translate.Service
	Pairing    *pairing.Service
	Devices    *devices.Store
	Hub        *hub.Hub

	PublicBaseURL string
}

func NewRouter(deps Deps) *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	general := middleware.RequireGeneral(deps.Authorizer)
	management := middleware.RequireManagement(deps.Authorizer)
	claimLimiter := middleware.NewRateLimiter(10, time.Minute)

	sessionHandler := &handler.SessionHandler{
		Sessions:   deps.Sessions,
		Plans:      deps.Plans,
		Translator: deps.Translator,
		Hub:        deps.Hub,
	}
	connectionsHandler := &handler.ConnectionsHandler{
		Pairing:       deps.Pairing,
		Devices:       deps.Devices,
		Hub:           deps.Hub,
		PublicBaseURL: deps.PublicBaseURL,
	}

	api := r.Group("/api/v1")
	api.GET("/sessions", general, sessionHandler.List)
	api.POST("/sessions", management, sessionHandler.Create)
	api.GET("/sessions/:id/messages", general, sessionHandler.Messages)
	api.GET("/sessions/:id/plan", general, sessionHandler.Plan)
	api.GET("/sessions/:id/settings", general, sessionHandler.Settings)
	api.DELETE("/sessions/:id", management, sessionHandler.Delete)

	// Claim and poll are reachable without credentials: they are how a
	// device acquires one. The claim endpoint is rate limited per IP so
	// pairing codes cannot be brute-forced.
	api.POST("/connections/pairings", management, connectionsHandler.CreatePairing)
	api.POST("/connections/pairings/claim", middleware.RateLimit(claimLimiter), connectionsHandler.Claim)
	api.GET("/connections/pairings/:requestId", connectionsHandler.Poll)
	api.POST("/connections/pairings/:requestId/respond", management, connectionsHandler.Respond)
	api.GET("/connections/devices", management, connectionsHandler.ListDevices)
	api.DELETE("/connections/devices/:id", management, connectionsHandler.RevokeDevice)

	wsHandler := &handler.WebSocketHandler{Hub: deps.Hub, Authorizer: deps.Authorizer}
	r.GET("/ws", wsHandler.Serve)

	return r
}
