// Package middleware holds the gin middleware chain in front of every HTTP route:
// rate limiting, access token authentication, route permission checks and admin auditing.
package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	identitydomain "sitekeeper/internal/identity/domain"
)

const (
	identityKey    = "sitekeeper.identity"
	accessTokenKey = "sitekeeper.access_token"
)

type contextKey struct{ name string }

var clientIPKey = contextKey{"client_ip"}

// SetIdentity stores the authenticated identity and its access token on the gin context.
func SetIdentity(c *gin.Context, id *identitydomain.Identity, accessToken string) {
	c.Set(identityKey, id)
	c.Set(accessTokenKey, accessToken)
}

// GetIdentity returns the identity set by Authenticate, or nil, false on public routes.
func GetIdentity(c *gin.Context) (*identitydomain.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*identitydomain.Identity)
	return id, ok && id != nil
}

// GetAccessToken returns the bearer token of the current request, or "".
func GetAccessToken(c *gin.Context) string {
	return c.GetString(accessTokenKey)
}

// WithClientIP returns ctx carrying the client IP.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPKey, ip)
}

// ClientIPFromContext returns the IP set by ClientContext, or "". It satisfies audit.IPExtractor.
func ClientIPFromContext(ctx context.Context) string {
	ip, _ := ctx.Value(clientIPKey).(string)
	return ip
}

// ClientContext copies gin's resolved client IP into the request context so services
// below the handlers can read it.
func ClientContext() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request = c.Request.WithContext(WithClientIP(c.Request.Context(), c.ClientIP()))
		c.Next()
	}
}
