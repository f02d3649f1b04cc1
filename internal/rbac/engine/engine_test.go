package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"sitekeeper/internal/rbac/domain"
	"sitekeeper/internal/rbac/repository"
)

type countingSource struct {
	inner     GrantSource
	calls     atomic.Int32
	err       error
	grantsErr error
	delay     time.Duration
}

func (c *countingSource) EffectivePermissions(ctx context.Context, userID string, at time.Time) ([]string, error) {
	c.calls.Add(1)
	if c.delay > 0 {
		time.Sleep(c.delay)
	}
	if c.err != nil {
		return nil, c.err
	}
	return c.inner.EffectivePermissions(ctx, userID, at)
}

func (c *countingSource) ListUserRoles(ctx context.Context, userID string) ([]*domain.UserRole, error) {
	if c.grantsErr != nil {
		return nil, c.grantsErr
	}
	if c.inner == nil {
		return nil, nil
	}
	return c.inner.ListUserRoles(ctx, userID)
}

type fixture struct {
	repo   *repository.MemoryRepository
	editor *domain.Role
	perms  map[string]*domain.Permission
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	ctx := context.Background()
	f := &fixture{repo: repository.NewMemoryRepository(), perms: make(map[string]*domain.Permission)}
	f.editor = &domain.Role{Name: "editor", IsActive: true}
	if err := f.repo.CreateRole(ctx, f.editor); err != nil {
		t.Fatalf("CreateRole: %v", err)
	}
	for _, name := range []string{"blog.read", "blog.write", "sessions.revoke"} {
		p := &domain.Permission{Name: name, IsActive: true}
		if err := f.repo.CreatePermission(ctx, p); err != nil {
			t.Fatalf("CreatePermission: %v", err)
		}
		f.perms[name] = p
	}
	f.repo.GrantPermission(ctx, f.editor.ID, f.perms["blog.read"].ID)
	f.repo.GrantPermission(ctx, f.editor.ID, f.perms["blog.write"].ID)
	return f
}

func TestCheckPermission_TimeBoxedGrant(t *testing.T) {
	f := newFixture(t)
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	from := now.Add(time.Hour)
	to := now.Add(2 * time.Hour)
	f.repo.AssignRole(context.Background(), &domain.UserRole{UserID: "u1", RoleID: f.editor.ID, IsActive: true, ValidFrom: from, ValidTo: &to})

	clock := now
	e := New(f.repo, 0, WithClock(func() time.Time { return clock }))

	ok, err := e.CheckPermission(context.Background(), "u1", "blog.read")
	if err != nil || ok {
		t.Fatalf("before validFrom = %v, %v; want false, nil", ok, err)
	}
	clock = from.Add(time.Minute)
	if ok, _ := e.CheckPermission(context.Background(), "u1", "blog.read"); !ok {
		t.Error("inside the validity window the grant should apply")
	}
	clock = to.Add(time.Second)
	ok, err = e.CheckPermission(context.Background(), "u1", "blog.read")
	if err != nil || ok {
		t.Errorf("after validTo = %v, %v; want false, nil", ok, err)
	}
}

func TestCheckPermission_TimeBoxedGrantWithCache(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	from := now.Add(10 * time.Second)
	to := now.Add(20 * time.Second)
	f.repo.AssignRole(ctx, &domain.UserRole{UserID: "u1", RoleID: f.editor.ID, IsActive: true, ValidFrom: from, ValidTo: &to})

	clock := now
	e := New(f.repo, 30*time.Second, WithClock(func() time.Time { return clock }))

	if ok, _ := e.CheckPermission(ctx, "u1", "blog.read"); ok {
		t.Fatal("before validFrom the grant should not apply")
	}
	clock = from
	if ok, _ := e.CheckPermission(ctx, "u1", "blog.read"); !ok {
		t.Error("a cached denial must not outlive validFrom")
	}
	clock = to
	if ok, _ := e.CheckPermission(ctx, "u1", "blog.read"); !ok {
		t.Error("validTo is inclusive")
	}
	clock = to.Add(5 * time.Second)
	if ok, _ := e.CheckPermission(ctx, "u1", "blog.read"); ok {
		t.Error("a cached grant must not outlive validTo")
	}
}

func TestNextBoundary(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	soon := now.Add(time.Minute)
	later := now.Add(time.Hour)
	testCases := []struct {
		name   string
		grants []*domain.UserRole
		want   time.Time
		ok     bool
	}{
		{"no grants", nil, time.Time{}, false},
		{"open ended", []*domain.UserRole{{IsActive: true, ValidFrom: past}}, time.Time{}, false},
		{"expired", []*domain.UserRole{{IsActive: true, ValidTo: &past}}, time.Time{}, false},
		{"upcoming start", []*domain.UserRole{{IsActive: true, ValidFrom: later}}, later, true},
		{"end is inclusive", []*domain.UserRole{{IsActive: true, ValidTo: &soon}}, soon.Add(time.Nanosecond), true},
		{"earliest wins", []*domain.UserRole{{IsActive: true, ValidFrom: later}, {IsActive: true, ValidTo: &soon}}, soon.Add(time.Nanosecond), true},
		{"inactive ignored", []*domain.UserRole{{IsActive: false, ValidFrom: soon}}, time.Time{}, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, ok := nextBoundary(tc.grants, now)
			if ok != tc.ok || !got.Equal(tc.want) {
				t.Errorf("nextBoundary = %v, %v; want %v, %v", got, ok, tc.want, tc.ok)
			}
		})
	}
}

func TestCheckPermission_GrantLoadFailureDenies(t *testing.T) {
	f := newFixture(t)
	f.repo.AssignRole(context.Background(), &domain.UserRole{UserID: "u1", RoleID: f.editor.ID, IsActive: true})
	src := &countingSource{inner: f.repo, grantsErr: errors.New("db down")}
	e := New(src, time.Minute)
	if ok, err := e.CheckPermission(context.Background(), "u1", "blog.read"); ok || err == nil {
		t.Errorf("CheckPermission = %v, %v; want false with error", ok, err)
	}
}

func TestCheckAnyAll(t *testing.T) {
	f := newFixture(t)
	f.repo.AssignRole(context.Background(), &domain.UserRole{UserID: "u1", RoleID: f.editor.ID, IsActive: true})
	e := New(f.repo, time.Minute)
	ctx := context.Background()

	testCases := []struct {
		name  string
		check func() (bool, error)
		want  bool
	}{
		{"any hit", func() (bool, error) { return e.CheckAny(ctx, "u1", "sessions.revoke", "blog.write") }, true},
		{"any miss", func() (bool, error) { return e.CheckAny(ctx, "u1", "sessions.revoke") }, false},
		{"any empty", func() (bool, error) { return e.CheckAny(ctx, "u1") }, false},
		{"all hit", func() (bool, error) { return e.CheckAll(ctx, "u1", "blog.read", "blog.write") }, true},
		{"all partial", func() (bool, error) { return e.CheckAll(ctx, "u1", "blog.read", "sessions.revoke") }, false},
		{"all empty", func() (bool, error) { return e.CheckAll(ctx, "u1") }, false},
		{"unknown user", func() (bool, error) { return e.CheckPermission(ctx, "nobody", "blog.read") }, false},
		{"empty user", func() (bool, error) { return e.CheckPermission(ctx, "", "blog.read") }, false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := tc.check()
			if err != nil {
				t.Fatalf("err = %v", err)
			}
			if got != tc.want {
				t.Errorf("got %v, want %v", got, tc.want)
			}
		})
	}
}

func TestCheckPermission_FailsClosed(t *testing.T) {
	src := &countingSource{err: errors.New("db down")}
	e := New(src, time.Minute)
	ok, err := e.CheckPermission(context.Background(), "u1", "blog.read")
	if ok {
		t.Error("infrastructure error must deny")
	}
	if err == nil || !errors.Is(err, src.err) {
		t.Errorf("err = %v, want wrapped db error", err)
	}
	ok, err = e.CheckAll(context.Background(), "u1", "blog.read")
	if ok || err == nil {
		t.Errorf("CheckAll = %v, %v; want false with error", ok, err)
	}
}

func TestCache_TTLAndInvalidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.repo.AssignRole(ctx, &domain.UserRole{UserID: "u1", RoleID: f.editor.ID, IsActive: true})
	src := &countingSource{inner: f.repo}
	clock := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	e := New(src, 30*time.Second, WithClock(func() time.Time { return clock }))

	for i := 0; i < 5; i++ {
		e.CheckPermission(ctx, "u1", "blog.read")
	}
	if src.calls.Load() != 1 {
		t.Errorf("loads = %d, want 1 while cached", src.calls.Load())
	}

	f.repo.GrantPermission(ctx, f.editor.ID, f.perms["sessions.revoke"].ID)
	if ok, _ := e.CheckPermission(ctx, "u1", "sessions.revoke"); ok {
		t.Error("cached set should not see the new grant before invalidation")
	}
	e.InvalidateAll()
	if ok, _ := e.CheckPermission(ctx, "u1", "sessions.revoke"); !ok {
		t.Error("after invalidation the new grant should apply")
	}

	clock = clock.Add(31 * time.Second)
	e.CheckPermission(ctx, "u1", "blog.read")
	if src.calls.Load() != 3 {
		t.Errorf("loads = %d, want 3 after TTL expiry", src.calls.Load())
	}

	e.InvalidateUser("u1")
	e.CheckPermission(ctx, "u1", "blog.read")
	if src.calls.Load() != 4 {
		t.Errorf("loads = %d, want 4 after InvalidateUser", src.calls.Load())
	}
}

func TestCache_ConcurrentLoadsCollapse(t *testing.T) {
	f := newFixture(t)
	f.repo.AssignRole(context.Background(), &domain.UserRole{UserID: "u1", RoleID: f.editor.ID, IsActive: true})
	src := &countingSource{inner: f.repo, delay: 50 * time.Millisecond}
	e := New(src, time.Minute)

	var wg sync.WaitGroup
	start := make(chan struct{})
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			if ok, err := e.CheckPermission(context.Background(), "u1", "blog.write"); !ok || err != nil {
				t.Errorf("CheckPermission = %v, %v", ok, err)
			}
		}()
	}
	close(start)
	wg.Wait()
	if n := src.calls.Load(); n > 2 {
		t.Errorf("loads = %d, want concurrent callers to share one load", n)
	}
}

func TestEffectivePermissions_Sorted(t *testing.T) {
	f := newFixture(t)
	f.repo.AssignRole(context.Background(), &domain.UserRole{UserID: "u1", RoleID: f.editor.ID, IsActive: true})
	e := New(f.repo, 0)
	got, err := e.EffectivePermissions(context.Background(), "u1")
	if err != nil {
		t.Fatalf("EffectivePermissions: %v", err)
	}
	if len(got) != 2 || got[0] != "blog.read" || got[1] != "blog.write" {
		t.Errorf("EffectivePermissions = %v", got)
	}
}
