package server

import (
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"sitekeeper/internal/audit"
	"sitekeeper/internal/rbac/routes"
	"sitekeeper/internal/server/middleware"
	"sitekeeper/internal/telemetry"
	telemetryotel "sitekeeper/internal/telemetry/otel"
)

// Registrar mounts a handler's routes.
type Registrar interface {
	Register(r gin.IRouter)
}

// HTTPDeps holds the dependencies of the HTTP router.
type HTTPDeps struct {
	// Limiter throttles by client IP. If nil, requests are not rate limited.
	Limiter       middleware.Limiter
	Authenticator middleware.Authenticator
	Checker       middleware.PermissionChecker
	Routes        *routes.Table
	// Audit records successful mutating requests not audited by their handler. If nil, nothing is recorded.
	Audit   audit.AuditLogger
	Events  telemetry.EventEmitter
	Metrics *telemetryotel.Metrics
	// TrustedProxies lists proxies whose X-Forwarded-For is honoured. Empty trusts none.
	TrustedProxies []string
	Handlers       []Registrar
}

// NewRouter builds the gin engine. Middleware order: recovery, client context, rate limit,
// authentication, route authorization, audit.
func NewRouter(deps HTTPDeps) (*gin.Engine, error) {
	if deps.Authenticator == nil || deps.Checker == nil || deps.Routes == nil {
		return nil, fmt.Errorf("server: authenticator, permission checker and route table are required")
	}
	r := gin.New()
	if err := r.SetTrustedProxies(deps.TrustedProxies); err != nil {
		return nil, fmt.Errorf("server: trusted proxies: %w", err)
	}
	r.Use(gin.Recovery(), middleware.ClientContext())
	if deps.Limiter != nil {
		r.Use(middleware.RateLimit(deps.Limiter, deps.Events, deps.Metrics))
	}
	r.Use(
		middleware.Authenticate(deps.Authenticator, deps.Routes),
		middleware.Authorize(deps.Checker, deps.Routes, deps.Events, deps.Metrics),
	)
	if deps.Audit != nil {
		r.Use(middleware.Audit(deps.Audit))
	}
	for _, h := range deps.Handlers {
		h.Register(r)
	}
	return r, nil
}

// NewHTTPServer wraps handler in an http.Server with conservative timeouts.
func NewHTTPServer(addr string, handler http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}
}
