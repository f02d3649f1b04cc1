package service

import (
	"context"
	"errors"
	"strings"

	"sitekeeper/internal/rbac/domain"
	"sitekeeper/internal/rbac/repository"
)

// EnsureSystemRole returns the role named in.Name, creating it as an active system role when absent.
// An existing role is returned unchanged.
func (s *Service) EnsureSystemRole(ctx context.Context, in RoleInput) (*domain.Role, bool, error) {
	name := strings.TrimSpace(in.Name)
	if name == "" {
		return nil, false, ErrInvalidName
	}
	if r, err := s.repo.GetRoleByName(ctx, name); err != nil || r != nil {
		return r, false, err
	}
	now := s.now().UTC()
	r := &domain.Role{
		Name:         name,
		Description:  in.Description,
		Priority:     in.Priority,
		IsActive:     true,
		IsSystemRole: true,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := s.repo.CreateRole(ctx, r); err != nil {
		if errors.Is(err, repository.ErrDuplicateName) {
			r, err := s.repo.GetRoleByName(ctx, name)
			return r, false, err
		}
		return nil, false, err
	}
	return r, true, nil
}

// EnsureSystemPermission returns the permission named in.Name, creating it as an active system
// permission when absent.
func (s *Service) EnsureSystemPermission(ctx context.Context, in PermissionInput) (*domain.Permission, bool, error) {
	in, err := in.normalize()
	if err != nil {
		return nil, false, err
	}
	if p, err := s.repo.GetPermissionByName(ctx, in.Name); err != nil || p != nil {
		return p, false, err
	}
	p := &domain.Permission{
		Name:               in.Name,
		Description:        in.Description,
		Category:           in.Category,
		Resource:           in.Resource,
		Action:             in.Action,
		IsActive:           true,
		IsSystemPermission: true,
		CreatedAt:          s.now().UTC(),
	}
	if err := s.repo.CreatePermission(ctx, p); err != nil {
		if errors.Is(err, repository.ErrDuplicateName) {
			p, err := s.repo.GetPermissionByName(ctx, in.Name)
			return p, false, err
		}
		return nil, false, err
	}
	return p, true, nil
}
