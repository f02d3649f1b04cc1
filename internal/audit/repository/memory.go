package repository

import (
	"context"
	"sync"

	"sitekeeper/internal/audit/domain"
)

// MemoryRepository keeps audit entries in process. Used by tests and database-less runs.
type MemoryRepository struct {
	mu      sync.RWMutex
	entries []*domain.AuditLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{}
}

func (m *MemoryRepository) Create(ctx context.Context, a *domain.AuditLog) error {
	c := *a
	m.mu.Lock()
	m.entries = append(m.entries, &c)
	m.mu.Unlock()
	return nil
}

func (m *MemoryRepository) List(ctx context.Context, f domain.Filter, limit, offset int32) ([]*domain.AuditLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []*domain.AuditLog{}
	skipped := int32(0)
	for i := len(m.entries) - 1; i >= 0 && int32(len(out)) < limit; i-- {
		e := m.entries[i]
		if !f.Matches(e) {
			continue
		}
		if skipped < offset {
			skipped++
			continue
		}
		c := *e
		out = append(out, &c)
	}
	return out, nil
}
