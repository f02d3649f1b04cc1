package service

import (
	"context"
	"errors"
	"testing"
)

func TestEnsureSystemRole_Idempotent(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	r, created, err := s.EnsureSystemRole(ctx, RoleInput{Name: "Administrator", Priority: 100})
	if err != nil || !created {
		t.Fatalf("first EnsureSystemRole = %v, created %v", err, created)
	}
	if !r.IsSystemRole || !r.IsActive {
		t.Errorf("role = %+v", r)
	}
	again, created, err := s.EnsureSystemRole(ctx, RoleInput{Name: "Administrator", Priority: 1})
	if err != nil || created || again.ID != r.ID || again.Priority != 100 {
		t.Errorf("second EnsureSystemRole = %+v, created %v, err %v", again, created, err)
	}
	if err := s.DeleteRole(ctx, r.ID); !errors.Is(err, ErrSystemRole) {
		t.Errorf("DeleteRole err = %v, want ErrSystemRole", err)
	}
	if _, _, err := s.EnsureSystemRole(ctx, RoleInput{}); !errors.Is(err, ErrInvalidName) {
		t.Errorf("blank name err = %v", err)
	}
}

func TestEnsureSystemPermission_Idempotent(t *testing.T) {
	s, _, _ := newTestService(t)
	ctx := context.Background()

	p, created, err := s.EnsureSystemPermission(ctx, PermissionInput{Name: "audit.read"})
	if err != nil || !created {
		t.Fatalf("EnsureSystemPermission = %v, created %v", err, created)
	}
	if !p.IsSystemPermission || p.Resource != "audit" || p.Action != "read" || p.Category != "audit" {
		t.Errorf("permission = %+v", p)
	}
	if _, created, _ := s.EnsureSystemPermission(ctx, PermissionInput{Name: "audit.read"}); created {
		t.Error("second call should not create")
	}
	if _, _, err := s.EnsureSystemPermission(ctx, PermissionInput{Name: "audit"}); !errors.Is(err, ErrInvalidPermission) {
		t.Errorf("malformed name err = %v", err)
	}
	if err := s.DeletePermission(ctx, p.ID); !errors.Is(err, ErrSystemPermission) {
		t.Errorf("DeletePermission err = %v, want ErrSystemPermission", err)
	}
}
