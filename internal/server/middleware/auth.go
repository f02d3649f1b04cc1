package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	identitydomain "sitekeeper/internal/identity/domain"
)

const bearerPrefix = "bearer "

// Authenticator turns an access token into an identity. Any error means the token is unusable.
type Authenticator interface {
	Authenticate(ctx context.Context, accessToken string) (*identitydomain.Identity, error)
}

// PublicRoutes reports whether a request bypasses authentication.
type PublicRoutes interface {
	IsPublic(method, path string) bool
}

// Authenticate requires a valid, non-revoked Bearer access token on every non-public route.
// Failures get a generic 401; the cause is not disclosed.
func Authenticate(a Authenticator, public PublicRoutes) gin.HandlerFunc {
	return func(c *gin.Context) {
		if public != nil && public.IsPublic(c.Request.Method, c.Request.URL.Path) {
			c.Next()
			return
		}
		token := BearerToken(c.GetHeader("Authorization"))
		if token == "" {
			Abort(c, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
			return
		}
		id, err := a.Authenticate(c.Request.Context(), token)
		if err != nil {
			Abort(c, http.StatusUnauthorized, CodeUnauthorized, "authentication required")
			return
		}
		SetIdentity(c, id, token)
		c.Next()
	}
}

// BearerToken returns the token of a "Bearer <token>" header value, or "" if missing or malformed.
func BearerToken(header string) string {
	v := strings.TrimSpace(header)
	if len(v) <= len(bearerPrefix) || !strings.EqualFold(v[:len(bearerPrefix)], bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(v[len(bearerPrefix):])
}
