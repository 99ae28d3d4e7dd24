package httpapi

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"videocall-relay/internal/auth"
	"videocall-relay/internal/history"
	"videocall-relay/internal/identity"
	"videocall-relay/internal/presence"
	"videocall-relay/internal/registry"

	"github.com/gin-gonic/gin"
)

// Handlers groups HTTP handlers for dependency injection.
// Keep these thin: parse/validate input, call internal services, return JSON.

type Handlers struct {
	Auth      *auth.Manager
	Directory identity.Directory
	History   *history.Service
	Presence  *presence.Tracker
	Registry  *registry.Registry
}

const defaultHistoryLimit = 50
const maxHistoryLimit = 200

// --- Auth ---

type loginRequest struct {
	Username string `json:"username"`
}

// Login resolves a username and issues a JWT token pair for it.
//
// NOTE: Credential verification is out of scope for the relay; an upstream
// identity provider is expected to own passwords. This endpoint trusts the
// username, which is acceptable for local and dev environments only.
func (h Handlers) Login(c *gin.Context) {
	if h.Auth == nil || h.Directory == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "auth not configured"})
		return
	}
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if req.Username == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "username required"})
		return
	}

	u, err := h.Directory.FindByUsername(c.Request.Context(), req.Username)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
		return
	}

	pair, err := h.Auth.IssuePair(time.Now(), u.ID, u.Username)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "token issuance failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"access_token":  pair.AccessToken,
		"refresh_token": pair.RefreshToken,
		"user":          u,
	})
}

// Me echoes the authenticated identity from the request context.
func (h Handlers) Me(c *gin.Context) {
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}
	username, _ := auth.Username(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"user_id": uid, "username": username})
}

// --- Call history ---

func (h Handlers) ListCalls(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	limit := defaultHistoryLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
			return
		}
		limit = n
	}
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}

	records, err := h.History.List(c.Request.Context(), uid, limit)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history lookup failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"calls": records})
}

func (h Handlers) CallsSummary(c *gin.Context) {
	if h.History == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "history not configured"})
		return
	}
	uid, err := auth.UserID(c.Request.Context())
	if err != nil {
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "unauthenticated"})
		return
	}

	sum, err := h.History.Summarize(c.Request.Context(), uid)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "summary failed"})
		return
	}
	c.JSON(http.StatusOK, sum)
}

// --- Presence ---

// UserPresence reports whether a user has any live relay connection.
// With Redis configured the answer covers every relay instance; without it
// the check falls back to connections owned by this process.
func (h Handlers) UserPresence(c *gin.Context) {
	if h.Directory == nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "directory not configured"})
		return
	}
	username := c.Param("username")
	if username == "" {
		c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "username required"})
		return
	}

	u, err := h.Directory.FindByUsername(c.Request.Context(), username)
	if err != nil {
		if errors.Is(err, identity.ErrNotFound) {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "user lookup failed"})
		return
	}

	online, known, err := h.Presence.IsOnline(c.Request.Context(), u.ID)
	if err != nil {
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "presence lookup failed"})
		return
	}
	if !known && h.Registry != nil {
		online = h.Registry.Connections(u.ID) > 0
	}
	c.JSON(http.StatusOK, gin.H{"username": u.Username, "online": online})
}
