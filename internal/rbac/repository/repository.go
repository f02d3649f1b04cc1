package repository

import (
	"context"
	"errors"
	"time"

	"sitekeeper/internal/rbac/domain"
)

// ErrDuplicateName is returned when a role or permission name is already taken.
var ErrDuplicateName = errors.New("name already exists")

// Repository defines persistence for roles, permissions and their grants.
// Getters return (nil, nil) when the row does not exist.
type Repository interface {
	ListRoles(ctx context.Context) ([]*domain.Role, error)
	GetRole(ctx context.Context, id int64) (*domain.Role, error)
	GetRoleByName(ctx context.Context, name string) (*domain.Role, error)
	CreateRole(ctx context.Context, r *domain.Role) error
	UpdateRole(ctx context.Context, r *domain.Role) error
	DeleteRole(ctx context.Context, id int64) error

	ListPermissions(ctx context.Context) ([]*domain.Permission, error)
	GetPermission(ctx context.Context, id int64) (*domain.Permission, error)
	GetPermissionByName(ctx context.Context, name string) (*domain.Permission, error)
	CreatePermission(ctx context.Context, p *domain.Permission) error
	UpdatePermission(ctx context.Context, p *domain.Permission) error
	DeletePermission(ctx context.Context, id int64) error

	ListRolePermissions(ctx context.Context, roleID int64) ([]*domain.Permission, error)
	GrantPermission(ctx context.Context, roleID, permissionID int64) error
	RevokePermission(ctx context.Context, roleID, permissionID int64) (bool, error)

	ListUserRoles(ctx context.Context, userID string) ([]*domain.UserRole, error)
	ListRoleUserIDs(ctx context.Context, roleID int64) ([]string, error)
	// AssignRole upserts the grant. When ur.IsPrimary, any other primary grant of the user is cleared in the same write.
	AssignRole(ctx context.Context, ur *domain.UserRole) error
	RevokeRole(ctx context.Context, userID string, roleID int64) (bool, error)

	// EffectivePermissions returns the distinct names of active permissions reachable at time at through
	// the user's effective grants of active roles.
	EffectivePermissions(ctx context.Context, userID string, at time.Time) ([]string, error)
}
