package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"sitekeeper/internal/device/domain"
)

type deviceKey struct {
	userID, fingerprint string
}

// MemoryRepository keeps trusted devices in process.
type MemoryRepository struct {
	mu      sync.RWMutex
	devices map[deviceKey]*domain.TrustedDevice
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{devices: make(map[deviceKey]*domain.TrustedDevice)}
}

func (m *MemoryRepository) Get(ctx context.Context, userID, fingerprint string) (*domain.TrustedDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.devices[deviceKey{userID, fingerprint}]
	if !ok {
		return nil, nil
	}
	return cloneDevice(d), nil
}

func (m *MemoryRepository) ListByUser(ctx context.Context, userID string) ([]*domain.TrustedDevice, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*domain.TrustedDevice
	for k, d := range m.devices {
		if k.userID == userID {
			out = append(out, cloneDevice(d))
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].TrustedAt.After(out[j].TrustedAt) })
	return out, nil
}

func (m *MemoryRepository) Save(ctx context.Context, d *domain.TrustedDevice) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := deviceKey{d.UserID, d.Fingerprint}
	if _, ok := m.devices[k]; ok {
		return false, nil
	}
	m.devices[k] = cloneDevice(d)
	return true, nil
}

func (m *MemoryRepository) Delete(ctx context.Context, userID, fingerprint string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := deviceKey{userID, fingerprint}
	if _, ok := m.devices[k]; !ok {
		return false, nil
	}
	delete(m.devices, k)
	return true, nil
}

func (m *MemoryRepository) UpdateLastSeen(ctx context.Context, userID, fingerprint string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if d, ok := m.devices[deviceKey{userID, fingerprint}]; ok {
		t := at
		d.LastSeenAt = &t
	}
	return nil
}

func cloneDevice(d *domain.TrustedDevice) *domain.TrustedDevice {
	c := *d
	if d.LastSeenAt != nil {
		t := *d.LastSeenAt
		c.LastSeenAt = &t
	}
	return &c
}
