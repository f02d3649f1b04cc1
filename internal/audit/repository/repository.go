package repository

import (
	"context"

	"sitekeeper/internal/audit/domain"
)

// Repository defines persistence for audit logs.
type Repository interface {
	Create(ctx context.Context, a *domain.AuditLog) error
	// List returns matching entries newest first.
	List(ctx context.Context, f domain.Filter, limit, offset int32) ([]*domain.AuditLog, error)
}
