package main

import (
	"database/sql"
	"net/http"
	"time"

	"videocall-relay/internal/config"
	"videocall-relay/internal/httpapi"
	"videocall-relay/internal/presence"
	"videocall-relay/internal/relay"
	"videocall-relay/pkg/utils"

	"github.com/gin-gonic/gin"
)

type registerDeps struct {
	cfg      config.Config
	db       *sql.DB
	authMW   gin.HandlerFunc
	engine   *relay.Engine
	tracker  *presence.Tracker
	handlers httpapi.Handlers
}

// registerRoutes wires HTTP routes to handlers.
// Keep this file free of business logic. Handlers should delegate to internal modules.
func registerRoutes(r *gin.Engine, deps registerDeps) {
	// public
	r.GET("/healthz", func(c *gin.Context) {
		if err := utils.HealthCheck(c.Request.Context(), deps.db, 2*time.Second); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": "database unreachable"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	r.POST("/v1/auth/login", deps.handlers.Login)

	// The signaling websocket. Browser clients pass the access token as a
	// query parameter since they cannot set headers on the upgrade request.
	r.GET("/ws/video-call", deps.authMW, relay.Handler(deps.engine, deps.tracker, relay.Options{
		SendQueueSize: deps.cfg.Relay.SendQueueSize,
		WriteTimeout:  deps.cfg.Relay.WriteTimeout,
		PongTimeout:   deps.cfg.Relay.PongTimeout,
	}))

	// protected API group
	v1 := r.Group("/v1")
	v1.Use(deps.authMW)
	{
		v1.GET("/me", deps.handlers.Me)
		v1.GET("/calls", deps.handlers.ListCalls)
		v1.GET("/calls/summary", deps.handlers.CallsSummary)
		v1.GET("/users/:username/presence", deps.handlers.UserPresence)
	}
}
