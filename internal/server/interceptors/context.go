package interceptors

import (
	"context"

	identitydomain "sitekeeper/internal/identity/domain"
)

type contextKey struct{ name string }

var identityKey = contextKey{"identity"}

// WithIdentity returns a context carrying the authenticated caller.
func WithIdentity(ctx context.Context, id *identitydomain.Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// GetIdentity returns the caller set by AuthUnary, or nil, false.
func GetIdentity(ctx context.Context) (*identitydomain.Identity, bool) {
	id, ok := ctx.Value(identityKey).(*identitydomain.Identity)
	return id, ok && id != nil
}

// GetUserID returns the caller's user id and true if set; otherwise "", false.
func GetUserID(ctx context.Context) (string, bool) {
	if id, ok := GetIdentity(ctx); ok {
		return id.UserID, true
	}
	return "", false
}
