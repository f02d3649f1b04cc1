package middleware

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"sitekeeper/internal/audit"
)

const auditedKey = "sitekeeper.audited"

// MarkAudited tells Audit that the handler's service already wrote an audit entry.
func MarkAudited(c *gin.Context) {
	c.Set(auditedKey, true)
}

// Audit records every successful mutating request under /api unless the handler marked it
// audited. The action and resource come from the matched route template.
func Audit(logger audit.AuditLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()
		route := c.FullPath()
		if c.Request.Method == http.MethodGet || route == "" || !strings.HasPrefix(route, "/api/") ||
			c.Writer.Status() >= 400 || c.GetBool(auditedKey) {
			return
		}
		id, ok := GetIdentity(c)
		if !ok {
			return
		}
		ar := audit.ParseRoute(c.Request.Method, route)
		meta := map[string]string{"path": c.Request.URL.Path, "status": strconv.Itoa(c.Writer.Status())}
		for _, p := range c.Params {
			meta[p.Key] = p.Value
		}
		logger.LogEvent(c.Request.Context(), id.UserID, ar.Action, ar.Resource, meta)
	}
}
