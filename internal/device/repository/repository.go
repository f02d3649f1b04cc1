package repository

import (
	"context"
	"time"

	"sitekeeper/internal/device/domain"
)

// Repository defines persistence for trusted devices, keyed by (user, fingerprint).
type Repository interface {
	// Get returns the trusted device, or nil if the fingerprint is not trusted for the user.
	Get(ctx context.Context, userID, fingerprint string) (*domain.TrustedDevice, error)
	ListByUser(ctx context.Context, userID string) ([]*domain.TrustedDevice, error)
	// Save inserts the record or, if it exists, keeps it and returns false.
	Save(ctx context.Context, d *domain.TrustedDevice) (bool, error)
	// Delete returns false when nothing was trusted.
	Delete(ctx context.Context, userID, fingerprint string) (bool, error)
	UpdateLastSeen(ctx context.Context, userID, fingerprint string, at time.Time) error
}
