package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"sitekeeper/internal/rbac/domain"
	"sitekeeper/internal/rbac/repository"
)

type recordingCache struct {
	users []string
	all   int
}

func (c *recordingCache) InvalidateUser(userID string) { c.users = append(c.users, userID) }
func (c *recordingCache) InvalidateAll()               { c.all++ }

func newTestService(t *testing.T) (*Service, *repository.MemoryRepository, *recordingCache) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	cache := &recordingCache{}
	s := NewService(repo, cache)
	s.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return s, repo, cache
}

func TestCreateRole_NameTaken(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	if _, err := s.CreateRole(ctx, RoleInput{Name: "editor", IsActive: true}); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	if _, err := s.CreateRole(ctx, RoleInput{Name: " editor "}); !errors.Is(err, ErrRoleNameTaken) {
		t.Errorf("duplicate CreateRole err = %v, want ErrRoleNameTaken", err)
	}
	if _, err := s.CreateRole(ctx, RoleInput{Name: "  "}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("blank CreateRole err = %v, want ErrInvalidName", err)
	}
}

func TestUpdateRole_InvalidatesAll(t *testing.T) {
	s, _, cache := newTestService(t)
	ctx := context.Background()
	r, _ := s.CreateRole(ctx, RoleInput{Name: "editor", IsActive: true})
	got, err := s.UpdateRole(ctx, r.ID, RoleInput{Name: "writer", Priority: 5})
	if err != nil {
		t.Fatalf("UpdateRole: %v", err)
	}
	if got.Name != "writer" || got.Priority != 5 || got.IsActive {
		t.Errorf("UpdateRole = %+v", got)
	}
	if cache.all != 1 {
		t.Errorf("InvalidateAll calls = %d, want 1", cache.all)
	}
	if _, err := s.UpdateRole(ctx, 999, RoleInput{Name: "x"}); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("UpdateRole(missing) err = %v, want ErrRoleNotFound", err)
	}
}

func TestDeleteRole_SystemRoleRefused(t *testing.T) {
	s, repo, _ := newTestService(t)
	ctx := context.Background()
	sys := &domain.Role{Name: "admin", IsActive: true, IsSystemRole: true}
	if err := repo.CreateRole(ctx, sys); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.DeleteRole(ctx, sys.ID); !errors.Is(err, ErrSystemRole) {
		t.Errorf("DeleteRole(system) err = %v, want ErrSystemRole", err)
	}
	r, _ := s.CreateRole(ctx, RoleInput{Name: "temp"})
	if err := s.DeleteRole(ctx, r.ID); err != nil {
		t.Fatalf("DeleteRole: %v", err)
	}
	if _, err := s.GetRole(ctx, r.ID); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("GetRole after delete err = %v, want ErrRoleNotFound", err)
	}
}

func TestCreatePermission_DerivesResourceAndAction(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	p, err := s.CreatePermission(ctx, PermissionInput{Name: "blog.publish", IsActive: true})
	if err != nil {
		t.Fatalf("CreatePermission: %v", err)
	}
	if p.Resource != "blog" || p.Action != "publish" || p.Category != "blog" {
		t.Errorf("permission = %+v", p)
	}
	for _, bad := range []string{"", "blog", "blog.", ".publish"} {
		if _, err := s.CreatePermission(ctx, PermissionInput{Name: bad}); !errors.Is(err, ErrInvalidPermission) {
			t.Errorf("CreatePermission(%q) err = %v, want ErrInvalidPermission", bad, err)
		}
	}
	if _, err := s.CreatePermission(ctx, PermissionInput{Name: "blog.publish"}); !errors.Is(err, ErrPermissionNameTaken) {
		t.Errorf("duplicate err = %v, want ErrPermissionNameTaken", err)
	}
}

func TestDeletePermission_SystemPermissionRefused(t *testing.T) {
	s, repo, _ := newTestService(t)
	ctx := context.Background()
	p := &domain.Permission{Name: "roles.read", Resource: "roles", Action: "read", IsActive: true, IsSystemPermission: true}
	if err := repo.CreatePermission(ctx, p); err != nil {
		t.Fatalf("seed: %v", err)
	}
	if err := s.DeletePermission(ctx, p.ID); !errors.Is(err, ErrSystemPermission) {
		t.Errorf("DeletePermission(system) err = %v, want ErrSystemPermission", err)
	}
	if err := s.DeletePermission(ctx, 404); !errors.Is(err, ErrPermissionNotFound) {
		t.Errorf("DeletePermission(missing) err = %v, want ErrPermissionNotFound", err)
	}
}

func TestGrantPermission_InvalidatesRoleHolders(t *testing.T) {
	s, _, cache := newTestService(t)
	ctx := context.Background()
	r, _ := s.CreateRole(ctx, RoleInput{Name: "editor", IsActive: true})
	p, _ := s.CreatePermission(ctx, PermissionInput{Name: "blog.update", IsActive: true})
	if _, err := s.AssignRole(ctx, AssignRoleInput{UserID: "u1", RoleID: r.ID}); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	cache.users = nil

	if err := s.GrantPermission(ctx, r.ID, p.ID); err != nil {
		t.Fatalf("GrantPermission: %v", err)
	}
	if len(cache.users) != 1 || cache.users[0] != "u1" {
		t.Errorf("invalidated users = %v, want [u1]", cache.users)
	}
	perms, err := s.ListRolePermissions(ctx, r.ID)
	if err != nil || len(perms) != 1 || perms[0].Name != "blog.update" {
		t.Fatalf("ListRolePermissions = %v, %v", perms, err)
	}

	ok, err := s.RevokePermission(ctx, r.ID, p.ID)
	if err != nil || !ok {
		t.Fatalf("RevokePermission = %v, %v", ok, err)
	}
	ok, err = s.RevokePermission(ctx, r.ID, p.ID)
	if err != nil || ok {
		t.Errorf("second RevokePermission = %v, %v, want false", ok, err)
	}
	if err := s.GrantPermission(ctx, r.ID, 999); !errors.Is(err, ErrPermissionNotFound) {
		t.Errorf("GrantPermission(missing perm) err = %v", err)
	}
	if err := s.GrantPermission(ctx, 999, p.ID); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("GrantPermission(missing role) err = %v", err)
	}
}

func TestAssignRole_SinglePrimary(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	admin, _ := s.CreateRole(ctx, RoleInput{Name: "admin", IsActive: true})
	editor, _ := s.CreateRole(ctx, RoleInput{Name: "editor", IsActive: true})

	if _, err := s.AssignRole(ctx, AssignRoleInput{UserID: "u1", RoleID: admin.ID, IsPrimary: true}); err != nil {
		t.Fatalf("AssignRole admin: %v", err)
	}
	if name, _ := s.PrimaryRoleName(ctx, "u1"); name != "admin" {
		t.Errorf("PrimaryRoleName = %q, want admin", name)
	}
	if _, err := s.AssignRole(ctx, AssignRoleInput{UserID: "u1", RoleID: editor.ID, IsPrimary: true}); err != nil {
		t.Fatalf("AssignRole editor: %v", err)
	}
	urs, _ := s.ListUserRoles(ctx, "u1")
	primaries := 0
	for _, ur := range urs {
		if ur.IsPrimary {
			primaries++
		}
	}
	if len(urs) != 2 || primaries != 1 {
		t.Errorf("grants = %d, primaries = %d, want 2 and 1", len(urs), primaries)
	}
	if name, _ := s.PrimaryRoleName(ctx, "u1"); name != "editor" {
		t.Errorf("PrimaryRoleName = %q, want editor", name)
	}
}

func TestAssignRole_Window(t *testing.T) {
	s, _, cache := newTestService(t)
	ctx := context.Background()
	r, _ := s.CreateRole(ctx, RoleInput{Name: "contractor", IsActive: true})
	now := s.now()

	past := now.Add(-time.Hour)
	if _, err := s.AssignRole(ctx, AssignRoleInput{UserID: "u1", RoleID: r.ID, ValidTo: &past}); !errors.Is(err, ErrInvalidWindow) {
		t.Errorf("AssignRole(validTo before now) err = %v, want ErrInvalidWindow", err)
	}

	until := now.Add(24 * time.Hour)
	ur, err := s.AssignRole(ctx, AssignRoleInput{UserID: "u1", RoleID: r.ID, ValidTo: &until, AssignedBy: "admin-1"})
	if err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	if !ur.ValidFrom.Equal(now) || !ur.IsActive || ur.AssignedBy != "admin-1" {
		t.Errorf("grant = %+v", ur)
	}
	if len(cache.users) == 0 || cache.users[len(cache.users)-1] != "u1" {
		t.Errorf("invalidated users = %v, want trailing u1", cache.users)
	}
	if _, err := s.AssignRole(ctx, AssignRoleInput{UserID: "u1", RoleID: 404}); !errors.Is(err, ErrRoleNotFound) {
		t.Errorf("AssignRole(missing role) err = %v", err)
	}
}

func TestRevokeRole(t *testing.T) {
	s, _, cache := newTestService(t)
	ctx := context.Background()
	r, _ := s.CreateRole(ctx, RoleInput{Name: "editor", IsActive: true})
	if _, err := s.AssignRole(ctx, AssignRoleInput{UserID: "u1", RoleID: r.ID}); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	cache.users = nil
	if err := s.RevokeRole(ctx, "u1", r.ID); err != nil {
		t.Fatalf("RevokeRole: %v", err)
	}
	if len(cache.users) != 1 {
		t.Errorf("invalidations = %v", cache.users)
	}
	if err := s.RevokeRole(ctx, "u1", r.ID); !errors.Is(err, ErrGrantNotFound) {
		t.Errorf("second RevokeRole err = %v, want ErrGrantNotFound", err)
	}
}

func TestPrimaryRoleName_InactiveRoleIgnored(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()
	r, _ := s.CreateRole(ctx, RoleInput{Name: "dormant", IsActive: false})
	if _, err := s.AssignRole(ctx, AssignRoleInput{UserID: "u1", RoleID: r.ID, IsPrimary: true}); err != nil {
		t.Fatalf("AssignRole: %v", err)
	}
	name, err := s.PrimaryRoleName(ctx, "u1")
	if err != nil || name != "" {
		t.Errorf("PrimaryRoleName = %q, %v, want empty", name, err)
	}
}
