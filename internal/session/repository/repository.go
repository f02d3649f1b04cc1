package repository

import (
	"context"

	"sitekeeper/internal/session/domain"
)

// Repository defines persistence for sessions. The session store writes through it
// before committing a mutation to memory.
type Repository interface {
	// Create inserts a new session row.
	Create(ctx context.Context, s *domain.Session) error
	// Update overwrites the mutable columns of the given sessions atomically.
	Update(ctx context.Context, sessions ...*domain.Session) error
	// GetByID returns the session for id, or nil if not found.
	GetByID(ctx context.Context, id string) (*domain.Session, error)
	// ListByUser returns every session of the user, newest first.
	ListByUser(ctx context.Context, userID string) ([]*domain.Session, error)
	// ListActive returns all sessions still marked active; used to warm the store at startup.
	ListActive(ctx context.Context) ([]*domain.Session, error)
}
