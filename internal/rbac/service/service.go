// Package service implements role and permission administration. Every mutation
// invalidates the permission cache of the affected users.
package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sitekeeper/internal/rbac/domain"
	"sitekeeper/internal/rbac/repository"
)

var (
	ErrRoleNotFound        = errors.New("role not found")
	ErrPermissionNotFound  = errors.New("permission not found")
	ErrRoleNameTaken       = errors.New("role name already exists")
	ErrPermissionNameTaken = errors.New("permission name already exists")
	ErrSystemRole          = errors.New("system roles cannot be deleted")
	ErrSystemPermission    = errors.New("system permissions cannot be deleted")
	ErrInvalidName         = errors.New("name is required")
	ErrInvalidPermission   = errors.New("permission name must be resource.action")
	ErrInvalidWindow       = errors.New("validTo must be after validFrom")
	ErrGrantNotFound       = errors.New("grant not found")
)

// CacheInvalidator drops cached effective permission sets.
type CacheInvalidator interface {
	InvalidateUser(userID string)
	InvalidateAll()
}

// Service administers roles, permissions and grants.
type Service struct {
	repo  repository.Repository
	cache CacheInvalidator
	now   func() time.Time
}

// NewService returns a Service. cache may be nil.
func NewService(repo repository.Repository, cache CacheInvalidator) *Service {
	return &Service{repo: repo, cache: cache, now: time.Now}
}

func (s *Service) invalidateAll() {
	if s.cache != nil {
		s.cache.InvalidateAll()
	}
}

func (s *Service) invalidateUser(userID string) {
	if s.cache != nil {
		s.cache.InvalidateUser(userID)
	}
}

// RoleInput holds writable role fields.
type RoleInput struct {
	Name        string
	Description string
	Priority    int
	IsActive    bool
}

// ListRoles returns all roles by priority descending.
func (s *Service) ListRoles(ctx context.Context) ([]*domain.Role, error) {
	return s.repo.ListRoles(ctx)
}

// GetRole returns the role or ErrRoleNotFound.
func (s *Service) GetRole(ctx context.Context, id int64) (*domain.Role, error) {
	r, err := s.repo.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	if r == nil {
		return nil, ErrRoleNotFound
	}
	return r, nil
}

// CreateRole creates a non-system role.
func (s *Service) CreateRole(ctx context.Context, in RoleInput) (*domain.Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	now := s.now().UTC()
	r := &domain.Role{
		Name:        name,
		Description: in.Description,
		Priority:    in.Priority,
		IsActive:    in.IsActive,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.repo.CreateRole(ctx, r); err != nil {
		if errors.Is(err, repository.ErrDuplicateName) {
			return nil, ErrRoleNameTaken
		}
		return nil, err
	}
	return r, nil
}

// UpdateRole rewrites name, description, priority and active flag.
func (s *Service) UpdateRole(ctx context.Context, id int64, in RoleInput) (*domain.Role, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, ErrInvalidName
	}
	r, err := s.GetRole(ctx, id)
	if err != nil {
		return nil, err
	}
	r.Name = name
	r.Description = in.Description
	r.Priority = in.Priority
	r.IsActive = in.IsActive
	r.UpdatedAt = s.now().UTC()
	if err := s.repo.UpdateRole(ctx, r); err != nil {
		if errors.Is(err, repository.ErrDuplicateName) {
			return nil, ErrRoleNameTaken
		}
		return nil, err
	}
	s.invalidateAll()
	return r, nil
}

// DeleteRole removes a role and its grants. System roles are refused.
func (s *Service) DeleteRole(ctx context.Context, id int64) error {
	r, err := s.GetRole(ctx, id)
	if err != nil {
		return err
	}
	if r.IsSystemRole {
		return ErrSystemRole
	}
	if err := s.repo.DeleteRole(ctx, id); err != nil {
		return err
	}
	s.invalidateAll()
	return nil
}

// PermissionInput holds writable permission fields. Resource and Action are derived from Name when empty.
type PermissionInput struct {
	Name        string
	Description string
	Category    string
	Resource    string
	Action      string
	IsActive    bool
}

func (in PermissionInput) normalize() (PermissionInput, error) {
	in.Name = strings.TrimSpace(in.Name)
	resource, action, ok := domain.SplitPermissionName(in.Name)
	if !ok {
		return in, ErrInvalidPermission
	}
	if in.Resource == "" {
		in.Resource = resource
	}
	if in.Action == "" {
		in.Action = action
	}
	if in.Category == "" {
		in.Category = in.Resource
	}
	return in, nil
}

// ListPermissions returns all permissions by name.
func (s *Service) ListPermissions(ctx context.Context) ([]*domain.Permission, error) {
	return s.repo.ListPermissions(ctx)
}

// GetPermission returns the permission or ErrPermissionNotFound.
func (s *Service) GetPermission(ctx context.Context, id int64) (*domain.Permission, error) {
	p, err := s.repo.GetPermission(ctx, id)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, ErrPermissionNotFound
	}
	return p, nil
}

// CreatePermission creates a non-system permission.
func (s *Service) CreatePermission(ctx context.Context, in PermissionInput) (*domain.Permission, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	p := &domain.Permission{
		Name:        in.Name,
		Description: in.Description,
		Category:    in.Category,
		Resource:    in.Resource,
		Action:      in.Action,
		IsActive:    in.IsActive,
		CreatedAt:   s.now().UTC(),
	}
	if err := s.repo.CreatePermission(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicateName) {
			return nil, ErrPermissionNameTaken
		}
		return nil, err
	}
	return p, nil
}

// UpdatePermission rewrites a permission's fields.
func (s *Service) UpdatePermission(ctx context.Context, id int64, in PermissionInput) (*domain.Permission, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, err
	}
	p, err := s.GetPermission(ctx, id)
	if err != nil {
		return nil, err
	}
	p.Name = in.Name
	p.Description = in.Description
	p.Category = in.Category
	p.Resource = in.Resource
	p.Action = in.Action
	p.IsActive = in.IsActive
	if err := s.repo.UpdatePermission(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicateName) {
			return nil, ErrPermissionNameTaken
		}
		return nil, err
	}
	s.invalidateAll()
	return p, nil
}

// DeletePermission removes a permission and its role links. System permissions are refused.
func (s *Service) DeletePermission(ctx context.Context, id int64) error {
	p, err := s.GetPermission(ctx, id)
	if err != nil {
		return err
	}
	if p.IsSystemPermission {
		return ErrSystemPermission
	}
	if err := s.repo.DeletePermission(ctx, id); err != nil {
		return err
	}
	s.invalidateAll()
	return nil
}

// ListRolePermissions returns the permissions granted to a role.
func (s *Service) ListRolePermissions(ctx context.Context, roleID int64) ([]*domain.Permission, error) {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return nil, err
	}
	return s.repo.ListRolePermissions(ctx, roleID)
}

// GrantPermission links a permission to a role. Idempotent.
func (s *Service) GrantPermission(ctx context.Context, roleID, permissionID int64) error {
	if _, err := s.GetRole(ctx, roleID); err != nil {
		return err
	}
	if _, err := s.GetPermission(ctx, permissionID); err != nil {
		return err
	}
	if err := s.repo.GrantPermission(ctx, roleID, permissionID); err != nil {
		return err
	}
	return s.invalidateRoleUsers(ctx, roleID)
}

// RevokePermission unlinks a permission from a role. Returns false if it was not granted.
func (s *Service) RevokePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	ok, err := s.repo.RevokePermission(ctx, roleID, permissionID)
	if err != nil || !ok {
		return ok, err
	}
	return true, s.invalidateRoleUsers(ctx, roleID)
}

func (s *Service) invalidateRoleUsers(ctx context.Context, roleID int64) error {
	if s.cache == nil {
		return nil
	}
	users, err := s.repo.ListRoleUserIDs(ctx, roleID)
	if err != nil {
		s.invalidateAll()
		return nil
	}
	for _, u := range users {
		s.cache.InvalidateUser(u)
	}
	return nil
}

// AssignRoleInput describes a role grant to a user.
type AssignRoleInput struct {
	UserID     string
	RoleID     int64
	IsPrimary  bool
	ValidFrom  *time.Time
	ValidTo    *time.Time
	AssignedBy string
}

// ListUserRoles returns the user's role grants.
func (s *Service) ListUserRoles(ctx context.Context, userID string) ([]*domain.UserRole, error) {
	return s.repo.ListUserRoles(ctx, userID)
}

// AssignRole grants a role to a user, replacing any existing grant of the same role.
// Making it primary demotes the user's previous primary role.
func (s *Service) AssignRole(ctx context.Context, in AssignRoleInput) (*domain.UserRole, error) {
	if strings.TrimSpace(in.UserID) == "" {
		return nil, ErrInvalidName
	}
	if _, err := s.GetRole(ctx, in.RoleID); err != nil {
		return nil, err
	}
	now := s.now().UTC()
	validFrom := now
	if in.ValidFrom != nil {
		validFrom = in.ValidFrom.UTC()
	}
	if in.ValidTo != nil && !in.ValidTo.After(validFrom) {
		return nil, ErrInvalidWindow
	}
	ur := &domain.UserRole{
		UserID:     in.UserID,
		RoleID:     in.RoleID,
		IsPrimary:  in.IsPrimary,
		IsActive:   true,
		ValidFrom:  validFrom,
		ValidTo:    in.ValidTo,
		AssignedBy: in.AssignedBy,
		AssignedAt: now,
	}
	if err := s.repo.AssignRole(ctx, ur); err != nil {
		return nil, fmt.Errorf("assign role: %w", err)
	}
	s.invalidateUser(in.UserID)
	return ur, nil
}

// RevokeRole removes a role grant from a user.
func (s *Service) RevokeRole(ctx context.Context, userID string, roleID int64) error {
	ok, err := s.repo.RevokeRole(ctx, userID, roleID)
	if err != nil {
		return err
	}
	if !ok {
		return ErrGrantNotFound
	}
	s.invalidateUser(userID)
	return nil
}

// PrimaryRoleName returns the name of the user's primary role, or "" if none is effective.
// Login puts it in the access token's role claim.
func (s *Service) PrimaryRoleName(ctx context.Context, userID string) (string, error) {
	urs, err := s.repo.ListUserRoles(ctx, userID)
	if err != nil {
		return "", err
	}
	now := s.now()
	for _, ur := range urs {
		if ur.IsPrimary && ur.EffectiveAt(now) {
			r, err := s.repo.GetRole(ctx, ur.RoleID)
			if err != nil {
				return "", err
			}
			if r != nil && r.IsActive {
				return r.Name, nil
			}
		}
	}
	return "", nil
}
