package middleware

import (
	"context"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"sitekeeper/internal/rbac/routes"
	"sitekeeper/internal/telemetry"
	telemetrydomain "sitekeeper/internal/telemetry/domain"
	telemetryotel "sitekeeper/internal/telemetry/otel"
)

// PermissionChecker answers whether a user currently holds a permission.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, userID, permission string) (bool, error)
}

const unmappedRoute = "unmapped"

// RouteResolver maps a request to the permission it needs.
type RouteResolver interface {
	Resolve(method, path string) routes.Match
}

// Authorize enforces the route permission table. Public routes pass and entries with an empty
// permission need only authentication. Routes outside the table are denied, as is a checker error.
func Authorize(checker PermissionChecker, table RouteResolver, events telemetry.EventEmitter, metrics *telemetryotel.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		m := table.Resolve(c.Request.Method, c.Request.URL.Path)
		if m.Public {
			c.Next()
			return
		}
		id, ok := GetIdentity(c)
		if !ok {
			Abort(c, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
			return
		}
		if !m.Found {
			metrics.RecordPermissionDenied(c.Request.Context(), unmappedRoute)
			Abort(c, http.StatusForbidden, CodeForbidden, "route is not permitted")
			return
		}
		if m.Permission == "" {
			c.Next()
			return
		}
		ctx := c.Request.Context()
		allowed, err := checker.CheckPermission(ctx, id.UserID, m.Permission)
		if err != nil {
			log.Printf("rbac: check %s for %s: %v", m.Permission, id.UserID, err)
			allowed = false
		}
		if allowed {
			c.Next()
			return
		}
		metrics.RecordPermissionDenied(ctx, m.Permission)
		ev := telemetrydomain.NewEvent(telemetrydomain.EventPermissionDenied, "http")
		ev.UserID, ev.SessionID, ev.IP = id.UserID, id.SessionID, c.ClientIP()
		telemetry.EmitAsync(events, ev.With("permission", m.Permission).With("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(http.StatusForbidden, ErrorBody{
			Code:       CodeForbidden,
			Message:    "missing permission " + m.Permission,
			Permission: m.Permission,
		})
	}
}
