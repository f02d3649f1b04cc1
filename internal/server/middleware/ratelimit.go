package middleware

import (
	"math"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"sitekeeper/internal/ratelimit"
	"sitekeeper/internal/telemetry"
	telemetrydomain "sitekeeper/internal/telemetry/domain"
	telemetryotel "sitekeeper/internal/telemetry/otel"
)

// Limiter decides whether a client IP may proceed.
type Limiter interface {
	Allow(ip string) ratelimit.Decision
}

// RateLimit rejects clients over their sliding window quota with 429 RATE_LIMIT_EXCEEDED,
// and blocked clients with 403 IP_BLOCKED. Rate-limit headers are set on every response.
func RateLimit(l Limiter, events telemetry.EventEmitter, metrics *telemetryotel.Metrics) gin.HandlerFunc {
	return func(c *gin.Context) {
		ip := c.ClientIP()
		d := l.Allow(ip)
		h := c.Writer.Header()
		h.Set("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		h.Set("X-RateLimit-Remaining", strconv.Itoa(d.Remaining))
		if !d.ResetAt.IsZero() {
			h.Set("X-RateLimit-Reset", strconv.FormatInt(d.ResetAt.Unix(), 10))
		}
		if d.Allowed {
			c.Next()
			return
		}
		retry := int64(math.Ceil(d.RetryAfter.Seconds()))
		h.Set("Retry-After", strconv.FormatInt(retry, 10))
		metrics.RecordRateLimited(c.Request.Context(), d.Blocked)

		status, code, msg, evType := http.StatusTooManyRequests, CodeRateLimitExceeded, "rate limit exceeded", telemetrydomain.EventRateLimited
		if d.Blocked {
			status, code, msg, evType = http.StatusForbidden, CodeIPBlocked, "client ip is temporarily blocked", telemetrydomain.EventIPBlocked
		}
		ev := telemetrydomain.NewEvent(evType, "http")
		ev.IP = ip
		telemetry.EmitAsync(events, ev.With("path", c.Request.URL.Path))
		c.AbortWithStatusJSON(status, ErrorBody{Code: code, Message: msg, RetryAfter: retry})
	}
}
