// Package bootstrap installs the system roles, the permissions named by the route table and an
// initial administrator. Every step is idempotent.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"sitekeeper/internal/rbac/domain"
	"sitekeeper/internal/rbac/service"
	userdomain "sitekeeper/internal/user/domain"
	userrepo "sitekeeper/internal/user/repository"
)

// AdminRole receives every permission in the route table.
const AdminRole = "Administrator"

// Role describes one system role. A nil Permissions list means every permission.
type Role struct {
	Name        string
	Description string
	Priority    int
	Permissions []string
}

// SystemRoles are installed by Seed.
var SystemRoles = []Role{
	{Name: AdminRole, Description: "Full access", Priority: 100},
	{Name: "Moderator", Description: "Session, security and content moderation", Priority: 50, Permissions: []string{
		"sessions.read_all", "sessions.revoke", "security.read", "security.terminate", "audit.read",
		"users.read_roles", "blog.update", "blog.delete", "profile.read",
	}},
	{Name: "User", Description: "Default site member", Priority: 10, Permissions: []string{
		"profile.read", "profile.update", "blog.create", "files.upload",
	}},
}

// RBAC is the administration surface Seed drives.
type RBAC interface {
	EnsureSystemPermission(ctx context.Context, in service.PermissionInput) (*domain.Permission, bool, error)
	EnsureSystemRole(ctx context.Context, in service.RoleInput) (*domain.Role, bool, error)
	GrantPermission(ctx context.Context, roleID, permissionID int64) error
	AssignRole(ctx context.Context, in service.AssignRoleInput) (*domain.UserRole, error)
}

// Users creates and finds accounts.
type Users interface {
	GetByUsername(ctx context.Context, username string) (*userdomain.User, error)
	Create(ctx context.Context, u *userdomain.User) error
}

// PasswordHasher hashes the administrator password.
type PasswordHasher interface {
	Hash(password []byte) (string, error)
}

// Admin describes the bootstrap administrator. An empty Password skips account creation.
type Admin struct {
	Username string
	Password string
}

// Result counts what Seed created.
type Result struct {
	Permissions int
	Roles       int
	AdminID     string
	AdminNew    bool
}

// Seed installs permissions, SystemRoles and their grants, then the administrator when admin.Password
// is set. The administrator always ends up holding AdminRole as primary role.
func Seed(ctx context.Context, rbac RBAC, users Users, hasher PasswordHasher, permissions []string, admin Admin) (Result, error) {
	var res Result
	perms := make(map[string]*domain.Permission, len(permissions))
	for _, name := range permissions {
		p, created, err := rbac.EnsureSystemPermission(ctx, service.PermissionInput{Name: name})
		if err != nil {
			return res, fmt.Errorf("permission %s: %w", name, err)
		}
		if created {
			res.Permissions++
		}
		perms[name] = p
	}

	var adminRole *domain.Role
	for _, sr := range SystemRoles {
		r, created, err := rbac.EnsureSystemRole(ctx, service.RoleInput{Name: sr.Name, Description: sr.Description, Priority: sr.Priority})
		if err != nil {
			return res, fmt.Errorf("role %s: %w", sr.Name, err)
		}
		if created {
			res.Roles++
		}
		if sr.Name == AdminRole {
			adminRole = r
		}
		names := sr.Permissions
		if names == nil {
			names = permissions
		}
		for _, name := range names {
			p, ok := perms[name]
			if !ok {
				log.Printf("bootstrap: role %s: permission %s is not in the route table, skipped", sr.Name, name)
				continue
			}
			if err := rbac.GrantPermission(ctx, r.ID, p.ID); err != nil {
				return res, fmt.Errorf("grant %s to %s: %w", name, sr.Name, err)
			}
		}
	}

	if admin.Password == "" {
		return res, nil
	}
	u, err := users.GetByUsername(ctx, admin.Username)
	if err != nil {
		return res, fmt.Errorf("lookup admin: %w", err)
	}
	if u == nil {
		hash, err := hasher.Hash([]byte(admin.Password))
		if err != nil {
			return res, fmt.Errorf("hash admin password: %w", err)
		}
		now := time.Now().UTC()
		u = &userdomain.User{
			ID:           uuid.NewString(),
			Username:     admin.Username,
			PasswordHash: hash,
			Role:         AdminRole,
			IsActive:     true,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		switch err := users.Create(ctx, u); {
		case errors.Is(err, userrepo.ErrUsernameTaken):
			u, err = users.GetByUsername(ctx, admin.Username)
			if err != nil {
				return res, fmt.Errorf("reload admin: %w", err)
			}
			if u == nil {
				return res, fmt.Errorf("reload admin %s: username taken but account not found", admin.Username)
			}
		case err != nil:
			return res, fmt.Errorf("create admin: %w", err)
		default:
			res.AdminNew = true
		}
	}
	res.AdminID = u.ID
	if _, err := rbac.AssignRole(ctx, service.AssignRoleInput{
		UserID:     u.ID,
		RoleID:     adminRole.ID,
		IsPrimary:  true,
		AssignedBy: "bootstrap",
	}); err != nil {
		return res, fmt.Errorf("assign %s: %w", AdminRole, err)
	}
	return res, nil
}
