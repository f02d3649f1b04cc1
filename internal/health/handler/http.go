package handler

import (
	"context"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
)

const checkTimeout = 2 * time.Second

// Pinger is used for readiness (e.g. *sql.DB).
type Pinger interface {
	PingContext(ctx context.Context) error
}

// PolicyChecker is used for readiness (e.g. the OPA risk policy evaluator).
type PolicyChecker interface {
	HealthCheck(ctx context.Context) error
}

// Handler serves liveness and readiness probes.
type Handler struct {
	db     Pinger
	policy PolicyChecker
}

// NewHandler returns a health handler. A nil dependency is reported as skipped.
func NewHandler(db Pinger, policy PolicyChecker) *Handler {
	return &Handler{db: db, policy: policy}
}

// Register mounts /health (liveness) and /healthz (readiness) on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/health", h.Live)
	r.GET("/healthz", h.Ready)
}

// Live reports that the process is serving.
func (h *Handler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// Ready pings the database and evaluates the risk policy. Any failure answers 503.
func (h *Handler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), checkTimeout)
	defer cancel()
	checks := make(map[string]string, 2)
	healthy := true
	run := func(name string, enabled bool, check func(context.Context) error) {
		if !enabled {
			checks[name] = "skipped"
			return
		}
		if err := check(ctx); err != nil {
			log.Printf("health: %s: %v", name, err)
			checks[name] = "unavailable"
			healthy = false
			return
		}
		checks[name] = "ok"
	}
	run("database", h.db != nil, func(ctx context.Context) error { return h.db.PingContext(ctx) })
	run("policy", h.policy != nil, func(ctx context.Context) error { return h.policy.HealthCheck(ctx) })
	if !healthy {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "checks": checks})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ok", "checks": checks})
}
