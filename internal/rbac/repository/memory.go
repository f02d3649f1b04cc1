package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"sitekeeper/internal/rbac/domain"
)

type grantKey struct {
	roleID, permissionID int64
}

type userRoleKey struct {
	userID string
	roleID int64
}

// MemoryRepository is an in-process Repository for tests and database-less runs.
type MemoryRepository struct {
	mu          sync.RWMutex
	nextRoleID  int64
	nextPermID  int64
	roles       map[int64]*domain.Role
	permissions map[int64]*domain.Permission
	grants      map[grantKey]time.Time
	userRoles   map[userRoleKey]*domain.UserRole
}

// NewMemoryRepository returns an empty MemoryRepository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		roles:       make(map[int64]*domain.Role),
		permissions: make(map[int64]*domain.Permission),
		grants:      make(map[grantKey]time.Time),
		userRoles:   make(map[userRoleKey]*domain.UserRole),
	}
}

func (m *MemoryRepository) ListRoles(ctx context.Context) ([]*domain.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Role, 0, len(m.roles))
	for _, r := range m.roles {
		c := *r
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (m *MemoryRepository) GetRole(ctx context.Context, id int64) (*domain.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.roles[id]
	if !ok {
		return nil, nil
	}
	c := *r
	return &c, nil
}

func (m *MemoryRepository) GetRoleByName(ctx context.Context, name string) (*domain.Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.roles {
		if r.Name == name {
			c := *r
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) CreateRole(ctx context.Context, r *domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == r.Name {
			return ErrDuplicateName
		}
	}
	m.nextRoleID++
	r.ID = m.nextRoleID
	c := *r
	m.roles[r.ID] = &c
	return nil
}

func (m *MemoryRepository) UpdateRole(ctx context.Context, r *domain.Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.roles {
		if id != r.ID && existing.Name == r.Name {
			return ErrDuplicateName
		}
	}
	if _, ok := m.roles[r.ID]; !ok {
		return nil
	}
	c := *r
	m.roles[r.ID] = &c
	return nil
}

func (m *MemoryRepository) DeleteRole(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.roles, id)
	for k := range m.grants {
		if k.roleID == id {
			delete(m.grants, k)
		}
	}
	for k := range m.userRoles {
		if k.roleID == id {
			delete(m.userRoles, k)
		}
	}
	return nil
}

func (m *MemoryRepository) ListPermissions(ctx context.Context) ([]*domain.Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*domain.Permission, 0, len(m.permissions))
	for _, p := range m.permissions {
		c := *p
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRepository) GetPermission(ctx context.Context, id int64) (*domain.Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.permissions[id]
	if !ok {
		return nil, nil
	}
	c := *p
	return &c, nil
}

func (m *MemoryRepository) GetPermissionByName(ctx context.Context, name string) (*domain.Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, p := range m.permissions {
		if p.Name == name {
			c := *p
			return &c, nil
		}
	}
	return nil, nil
}

func (m *MemoryRepository) CreatePermission(ctx context.Context, p *domain.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.permissions {
		if existing.Name == p.Name {
			return ErrDuplicateName
		}
	}
	m.nextPermID++
	p.ID = m.nextPermID
	c := *p
	m.permissions[p.ID] = &c
	return nil
}

func (m *MemoryRepository) UpdatePermission(ctx context.Context, p *domain.Permission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.permissions {
		if id != p.ID && existing.Name == p.Name {
			return ErrDuplicateName
		}
	}
	if _, ok := m.permissions[p.ID]; !ok {
		return nil
	}
	c := *p
	m.permissions[p.ID] = &c
	return nil
}

func (m *MemoryRepository) DeletePermission(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.permissions, id)
	for k := range m.grants {
		if k.permissionID == id {
			delete(m.grants, k)
		}
	}
	return nil
}

func (m *MemoryRepository) ListRolePermissions(ctx context.Context, roleID int64) ([]*domain.Permission, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.Permission
	for k := range m.grants {
		if k.roleID != roleID {
			continue
		}
		if p, ok := m.permissions[k.permissionID]; ok {
			c := *p
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (m *MemoryRepository) GrantPermission(ctx context.Context, roleID, permissionID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := grantKey{roleID, permissionID}
	if _, ok := m.grants[k]; !ok {
		m.grants[k] = time.Now().UTC()
	}
	return nil
}

func (m *MemoryRepository) RevokePermission(ctx context.Context, roleID, permissionID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := grantKey{roleID, permissionID}
	if _, ok := m.grants[k]; !ok {
		return false, nil
	}
	delete(m.grants, k)
	return true, nil
}

func (m *MemoryRepository) ListUserRoles(ctx context.Context, userID string) ([]*domain.UserRole, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.UserRole
	for k, ur := range m.userRoles {
		if k.userID == userID {
			c := *ur
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].RoleID < out[j].RoleID })
	return out, nil
}

func (m *MemoryRepository) ListRoleUserIDs(ctx context.Context, roleID int64) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for k := range m.userRoles {
		if k.roleID == roleID {
			out = append(out, k.userID)
		}
	}
	sort.Strings(out)
	return out, nil
}

func (m *MemoryRepository) AssignRole(ctx context.Context, ur *domain.UserRole) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ur.IsPrimary {
		for k, existing := range m.userRoles {
			if k.userID == ur.UserID && k.roleID != ur.RoleID {
				existing.IsPrimary = false
			}
		}
	}
	c := *ur
	m.userRoles[userRoleKey{ur.UserID, ur.RoleID}] = &c
	return nil
}

func (m *MemoryRepository) RevokeRole(ctx context.Context, userID string, roleID int64) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := userRoleKey{userID, roleID}
	if _, ok := m.userRoles[k]; !ok {
		return false, nil
	}
	delete(m.userRoles, k)
	return true, nil
}

func (m *MemoryRepository) EffectivePermissions(ctx context.Context, userID string, at time.Time) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	roleIDs := make(map[int64]bool)
	for k, ur := range m.userRoles {
		if k.userID != userID || !ur.EffectiveAt(at) {
			continue
		}
		if r, ok := m.roles[k.roleID]; ok && r.IsActive {
			roleIDs[k.roleID] = true
		}
	}
	seen := make(map[string]bool)
	var out []string
	for k := range m.grants {
		if !roleIDs[k.roleID] {
			continue
		}
		p, ok := m.permissions[k.permissionID]
		if !ok || !p.IsActive || seen[p.Name] {
			continue
		}
		seen[p.Name] = true
		out = append(out, p.Name)
	}
	sort.Strings(out)
	return out, nil
}
