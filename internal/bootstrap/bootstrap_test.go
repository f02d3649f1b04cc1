package bootstrap

import (
	"context"
	"errors"
	"strings"
	"testing"

	"sitekeeper/internal/rbac/engine"
	rbacrepo "sitekeeper/internal/rbac/repository"
	"sitekeeper/internal/rbac/routes"
	"sitekeeper/internal/rbac/service"
	"sitekeeper/internal/security"
	userdomain "sitekeeper/internal/user/domain"
	userrepo "sitekeeper/internal/user/repository"
)

func TestSeed_InstallsRolesAndAdmin(t *testing.T) {
	ctx := context.Background()
	table, err := routes.Default()
	if err != nil {
		t.Fatalf("routes.Default: %v", err)
	}
	repo := rbacrepo.NewMemoryRepository()
	eng := engine.New(repo, 0)
	rbac := service.NewService(repo, eng)
	users := userrepo.NewMemoryRepository()
	hasher := security.NewHasher(4)
	admin := Admin{Username: "root", Password: "s3cret-pass"}

	res, err := Seed(ctx, rbac, users, hasher, table.Permissions(), admin)
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if res.Permissions != len(table.Permissions()) || res.Roles != len(SystemRoles) || !res.AdminNew {
		t.Errorf("result = %+v", res)
	}
	for _, perm := range table.Permissions() {
		ok, err := eng.CheckPermission(ctx, res.AdminID, perm)
		if err != nil || !ok {
			t.Errorf("admin lacks %s (err %v)", perm, err)
		}
	}
	name, err := rbac.PrimaryRoleName(ctx, res.AdminID)
	if err != nil || name != AdminRole {
		t.Errorf("PrimaryRoleName = %q, %v", name, err)
	}
	u, _ := users.GetByUsername(ctx, "ROOT")
	if u == nil || hasher.Compare(u.PasswordHash, []byte("s3cret-pass")) != nil {
		t.Errorf("admin account = %+v", u)
	}

	again, err := Seed(ctx, rbac, users, hasher, table.Permissions(), admin)
	if err != nil {
		t.Fatalf("second Seed: %v", err)
	}
	if again.Permissions != 0 || again.Roles != 0 || again.AdminNew || again.AdminID != res.AdminID {
		t.Errorf("second result = %+v", again)
	}
}

func TestSeed_WithoutAdminPassword(t *testing.T) {
	ctx := context.Background()
	repo := rbacrepo.NewMemoryRepository()
	rbac := service.NewService(repo, nil)
	users := userrepo.NewMemoryRepository()

	res, err := Seed(ctx, rbac, users, security.NewHasher(4), []string{"profile.read", "blog.create"}, Admin{Username: "root"})
	if err != nil {
		t.Fatalf("Seed: %v", err)
	}
	if res.AdminID != "" {
		t.Errorf("admin created without password: %+v", res)
	}
	if u, _ := users.GetByUsername(ctx, "root"); u != nil {
		t.Error("user repository should stay empty")
	}
	role, _ := repo.GetRoleByName(ctx, "User")
	perms, _ := repo.ListRolePermissions(ctx, role.ID)
	if len(perms) != 2 {
		t.Errorf("User role permissions = %d, want the 2 present in the table", len(perms))
	}
}

// takenUsers loses the Create race: the first lookup finds nothing, Create reports the username
// taken and every later lookup returns reloadErr with no account.
type takenUsers struct {
	reloadErr error
	lookups   int
}

func (*takenUsers) Create(context.Context, *userdomain.User) error { return userrepo.ErrUsernameTaken }

func (u *takenUsers) GetByUsername(context.Context, string) (*userdomain.User, error) {
	u.lookups++
	if u.lookups == 1 {
		return nil, nil
	}
	return nil, u.reloadErr
}

func TestSeed_AdminReloadFailures(t *testing.T) {
	lookupErr := errors.New("db down")
	testCases := []struct {
		name  string
		users *takenUsers
		check func(t *testing.T, err error)
	}{
		{"account missing", &takenUsers{}, func(t *testing.T, err error) {
			if err == nil || strings.Contains(err.Error(), "<nil>") || !strings.Contains(err.Error(), "not found") {
				t.Errorf("err = %v, want a not found error", err)
			}
		}},
		{"lookup error", &takenUsers{reloadErr: lookupErr}, func(t *testing.T, err error) {
			if !errors.Is(err, lookupErr) || !strings.Contains(err.Error(), "reload admin") {
				t.Errorf("err = %v, want wrapped %v", err, lookupErr)
			}
		}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			repo := rbacrepo.NewMemoryRepository()
			rbac := service.NewService(repo, nil)
			_, err := Seed(context.Background(), rbac, tc.users, security.NewHasher(4), []string{"profile.read"}, Admin{Username: "root", Password: "pw"})
			if tc.users.lookups != 2 {
				t.Errorf("lookups = %d, want 2", tc.users.lookups)
			}
			tc.check(t, err)
		})
	}
}
