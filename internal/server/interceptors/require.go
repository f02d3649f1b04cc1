package interceptors

import (
	"context"
	"log"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// PermissionChecker answers whether a user currently holds a permission.
type PermissionChecker interface {
	CheckPermission(ctx context.Context, userID, permission string) (bool, error)
}

// RequireUser returns the authenticated caller's user id, or an Unauthenticated error.
func RequireUser(ctx context.Context) (string, error) {
	userID, ok := GetUserID(ctx)
	if !ok || userID == "" {
		return "", status.Error(codes.Unauthenticated, "missing or invalid authorization")
	}
	return userID, nil
}

// RequirePermission ensures the caller is authenticated and holds permission.
// Returns the caller's user id on success; Unauthenticated or PermissionDenied otherwise.
// A checker failure denies.
func RequirePermission(ctx context.Context, checker PermissionChecker, permission string) (string, error) {
	userID, err := RequireUser(ctx)
	if err != nil {
		return "", err
	}
	allowed, err := checker.CheckPermission(ctx, userID, permission)
	if err != nil {
		log.Printf("interceptors: check %s for %s: %v", permission, userID, err)
	}
	if err != nil || !allowed {
		return "", status.Error(codes.PermissionDenied, "missing permission "+permission)
	}
	return userID, nil
}
