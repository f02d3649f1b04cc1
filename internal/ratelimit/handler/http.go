package handler

import (
	"net"
	"net/http"

	"github.com/gin-gonic/gin"

	"sitekeeper/internal/server/middleware"
)

// Unblocker clears the limiter state of one client.
type Unblocker interface {
	IsBlocked(ip string) bool
	Unblock(ip string)
}

// Handler serves limiter administration.
type Handler struct {
	limiter Unblocker
}

// NewHandler returns a rate limit handler.
func NewHandler(limiter Unblocker) *Handler {
	return &Handler{limiter: limiter}
}

// Register mounts DELETE /api/ratelimit/blocks on r.
func (h *Handler) Register(r gin.IRouter) {
	r.DELETE("/api/ratelimit/blocks", h.Unblock)
}

// Unblock lifts the block on the client in the ip query parameter. Unblocking an unblocked client is a no-op.
func (h *Handler) Unblock(c *gin.Context) {
	ip := c.Query("ip")
	if net.ParseIP(ip) == nil {
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, "ip must be a valid address")
		return
	}
	wasBlocked := h.limiter.IsBlocked(ip)
	h.limiter.Unblock(ip)
	c.JSON(http.StatusOK, gin.H{"ip": ip, "was_blocked": wasBlocked})
}
