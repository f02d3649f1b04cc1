package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sitekeeper/internal/server/middleware"
	"sitekeeper/internal/session/domain"
)

// SessionReader reads sessions and records heartbeats.
type SessionReader interface {
	ListActive(userID string) []*domain.Session
	ListAll(userID string) []*domain.Session
	UpdateLastActive(ctx context.Context, sessionID string) (bool, error)
}

// Revoker ends sessions and blacklists their tokens.
type Revoker interface {
	RevokeSession(ctx context.Context, sessionID, ownerID string) (bool, error)
	RevokeUserSessions(ctx context.Context, userID string) (int, error)
}

// Handler serves session listing and termination.
type Handler struct {
	sessions SessionReader
	revoker  Revoker
}

// NewHandler returns a session handler.
func NewHandler(sessions SessionReader, revoker Revoker) *Handler {
	return &Handler{sessions: sessions, revoker: revoker}
}

// Register mounts the self-service and admin session routes on r.
func (h *Handler) Register(r gin.IRouter) {
	me := r.Group("/api/me/sessions")
	me.GET("", h.ListMine)
	me.GET("/all", h.ListMineAll)
	me.POST("/heartbeat", h.Heartbeat)
	me.DELETE("/:id", h.EndMine)

	r.GET("/api/users/:id/sessions", h.ListUser)
	r.POST("/api/users/:id/sessions/revoke", h.RevokeUser)
	r.DELETE("/api/sessions/:id", h.Revoke)
}

// View is the JSON form of a session. The refresh token hash is never exposed.
type View struct {
	ID                string     `json:"id"`
	UserID            string     `json:"user_id"`
	DeviceFingerprint string     `json:"device_fingerprint"`
	DeviceName        string     `json:"device_name"`
	DeviceType        string     `json:"device_type"`
	OperatingSystem   string     `json:"operating_system"`
	UserAgent         string     `json:"user_agent"`
	IPAddress         string     `json:"ip_address"`
	Location          string     `json:"location"`
	CreatedAt         time.Time  `json:"created_at"`
	LastActiveAt      time.Time  `json:"last_active_at"`
	ExpiresAt         time.Time  `json:"expires_at"`
	IsActive          bool       `json:"is_active"`
	EndedAt           *time.Time `json:"ended_at,omitempty"`
	EndReason         string     `json:"end_reason,omitempty"`
	Current           bool       `json:"current"`
}

func toViews(sessions []*domain.Session, currentID string) []View {
	out := make([]View, 0, len(sessions))
	for _, s := range sessions {
		out = append(out, View{
			ID:                s.ID,
			UserID:            s.UserID,
			DeviceFingerprint: s.DeviceFingerprint,
			DeviceName:        s.DeviceName,
			DeviceType:        string(s.DeviceType),
			OperatingSystem:   s.OperatingSystem,
			UserAgent:         s.UserAgent,
			IPAddress:         s.IPAddress,
			Location:          s.Location,
			CreatedAt:         s.CreatedAt,
			LastActiveAt:      s.LastActiveAt,
			ExpiresAt:         s.ExpiresAt,
			IsActive:          s.IsActive,
			EndedAt:           s.EndedAt,
			EndReason:         string(s.EndReason),
			Current:           s.ID == currentID,
		})
	}
	return out
}

// ListMine returns the caller's active sessions, newest first.
func (h *Handler) ListMine(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "authentication required")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": toViews(h.sessions.ListActive(id.UserID), id.SessionID)})
}

// ListMineAll returns every session of the caller including ended ones.
func (h *Handler) ListMineAll(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "authentication required")
		return
	}
	c.JSON(http.StatusOK, gin.H{"sessions": toViews(h.sessions.ListAll(id.UserID), id.SessionID)})
}

// Heartbeat marks the caller's current session as active now.
func (h *Handler) Heartbeat(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "authentication required")
		return
	}
	updated, err := h.sessions.UpdateLastActive(c.Request.Context(), id.SessionID)
	if err != nil {
		log.Printf("session: heartbeat %s: %v", id.SessionID, err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, "heartbeat failed")
		return
	}
	if !updated {
		middleware.Abort(c, http.StatusNotFound, middleware.CodeNotFound, "session not active")
		return
	}
	middleware.MarkAudited(c)
	c.Status(http.StatusNoContent)
}

// EndMine ends one of the caller's sessions. Unknown, foreign or already ended sessions are a no-op.
func (h *Handler) EndMine(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "authentication required")
		return
	}
	if _, err := h.revoker.RevokeSession(c.Request.Context(), c.Param("id"), id.UserID); err != nil {
		log.Printf("session: end %s: %v", c.Param("id"), err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, "failed to end session")
		return
	}
	middleware.MarkAudited(c)
	c.Status(http.StatusNoContent)
}

// ListUser returns every session of the user named in the path.
func (h *Handler) ListUser(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"sessions": toViews(h.sessions.ListAll(c.Param("id")), "")})
}

// Revoke ends any session administratively.
func (h *Handler) Revoke(c *gin.Context) {
	revoked, err := h.revoker.RevokeSession(c.Request.Context(), c.Param("id"), "")
	if err != nil {
		log.Printf("session: revoke %s: %v", c.Param("id"), err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, "failed to revoke session")
		return
	}
	middleware.MarkAudited(c)
	c.JSON(http.StatusOK, gin.H{"revoked": revoked})
}

// RevokeUser ends every active session of the user named in the path.
func (h *Handler) RevokeUser(c *gin.Context) {
	n, err := h.revoker.RevokeUserSessions(c.Request.Context(), c.Param("id"))
	if err != nil {
		log.Printf("session: revoke user %s: %v", c.Param("id"), err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, "failed to revoke sessions")
		return
	}
	middleware.MarkAudited(c)
	c.JSON(http.StatusOK, gin.H{"ended": n})
}
