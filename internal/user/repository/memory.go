package repository

import (
	"context"
	"sync"

	"sitekeeper/internal/user/domain"
)

// MemoryRepository keeps users in process. Used by tests and database-less runs.
type MemoryRepository struct {
	mu         sync.RWMutex
	byID       map[string]*domain.User
	byUsername map[string]string
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		byID:       make(map[string]*domain.User),
		byUsername: make(map[string]string),
	}
}

func (m *MemoryRepository) GetByID(ctx context.Context, id string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, nil
	}
	c := *u
	return &c, nil
}

func (m *MemoryRepository) GetByUsername(ctx context.Context, username string) (*domain.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byUsername[domain.NormalizeUsername(username)]
	if !ok {
		return nil, nil
	}
	c := *m.byID[id]
	return &c, nil
}

func (m *MemoryRepository) Create(ctx context.Context, u *domain.User) error {
	if err := u.Validate(); err != nil {
		return err
	}
	key := domain.NormalizeUsername(u.Username)
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.byUsername[key]; ok {
		return ErrUsernameTaken
	}
	c := *u
	m.byID[u.ID] = &c
	m.byUsername[key] = u.ID
	return nil
}
