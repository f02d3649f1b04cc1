// Package engine resolves a user's effective permissions and answers permission checks.
// Effective sets are cached per user for a short TTL, cut short at the next grant validity
// boundary. Concurrent loads for the same user are collapsed into one repository call.
package engine

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"sitekeeper/internal/rbac/domain"
)

// GrantSource computes the effective permission names of a user at a point in time and lists
// the user's role grants so cached sets can expire when a grant window opens or closes.
type GrantSource interface {
	EffectivePermissions(ctx context.Context, userID string, at time.Time) ([]string, error)
	ListUserRoles(ctx context.Context, userID string) ([]*domain.UserRole, error)
}

type cacheEntry struct {
	perms   map[string]struct{}
	expires time.Time
}

// Engine answers permission checks. It fails closed: any load error denies.
type Engine struct {
	src   GrantSource
	ttl   time.Duration
	now   func() time.Time
	group singleflight.Group

	mu    sync.RWMutex
	gen   uint64
	cache map[string]cacheEntry
}

// Option configures an Engine.
type Option func(*Engine)

// WithClock sets the time source used for grant windows and cache expiry.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New returns an Engine over src caching effective sets for ttl. ttl <= 0 disables caching.
func New(src GrantSource, ttl time.Duration, opts ...Option) *Engine {
	e := &Engine{src: src, ttl: ttl, now: time.Now, cache: make(map[string]cacheEntry)}
	for _, o := range opts {
		o(e)
	}
	return e
}

// CheckPermission reports whether userID currently holds permission. Missing or expired grants
// yield false; infrastructure failures yield (false, err).
func (e *Engine) CheckPermission(ctx context.Context, userID, permission string) (bool, error) {
	if userID == "" || permission == "" {
		return false, nil
	}
	perms, err := e.permissions(ctx, userID)
	if err != nil {
		return false, err
	}
	_, ok := perms[permission]
	return ok, nil
}

// CheckAny reports whether userID holds at least one of permissions. An empty list is false.
func (e *Engine) CheckAny(ctx context.Context, userID string, permissions ...string) (bool, error) {
	if userID == "" || len(permissions) == 0 {
		return false, nil
	}
	perms, err := e.permissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if _, ok := perms[p]; ok {
			return true, nil
		}
	}
	return false, nil
}

// CheckAll reports whether userID holds every one of permissions. An empty list is false.
func (e *Engine) CheckAll(ctx context.Context, userID string, permissions ...string) (bool, error) {
	if userID == "" || len(permissions) == 0 {
		return false, nil
	}
	perms, err := e.permissions(ctx, userID)
	if err != nil {
		return false, err
	}
	for _, p := range permissions {
		if _, ok := perms[p]; !ok {
			return false, nil
		}
	}
	return true, nil
}

// EffectivePermissions returns the sorted effective permission names of userID.
func (e *Engine) EffectivePermissions(ctx context.Context, userID string) ([]string, error) {
	perms, err := e.permissions(ctx, userID)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(perms))
	for p := range perms {
		out = append(out, p)
	}
	sort.Strings(out)
	return out, nil
}

// InvalidateUser drops the cached set of userID.
func (e *Engine) InvalidateUser(userID string) {
	e.mu.Lock()
	delete(e.cache, userID)
	e.gen++
	e.mu.Unlock()
	e.group.Forget(userID)
}

// InvalidateAll drops every cached set. Role and permission changes affect many users at once.
func (e *Engine) InvalidateAll() {
	e.mu.Lock()
	e.cache = make(map[string]cacheEntry)
	e.gen++
	e.mu.Unlock()
}

func (e *Engine) permissions(ctx context.Context, userID string) (map[string]struct{}, error) {
	now := e.now()
	e.mu.RLock()
	entry, ok := e.cache[userID]
	gen := e.gen
	e.mu.RUnlock()
	if ok && now.Before(entry.expires) {
		return entry.perms, nil
	}

	v, err, _ := e.group.Do(userID, func() (any, error) {
		names, err := e.src.EffectivePermissions(ctx, userID, now)
		if err != nil {
			return nil, fmt.Errorf("rbac: load permissions for %s: %w", userID, err)
		}
		set := make(map[string]struct{}, len(names))
		for _, n := range names {
			set[n] = struct{}{}
		}
		if e.ttl > 0 {
			grants, err := e.src.ListUserRoles(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("rbac: load grants for %s: %w", userID, err)
			}
			expires := now.Add(e.ttl)
			if next, ok := nextBoundary(grants, now); ok && next.Before(expires) {
				expires = next
			}
			e.mu.Lock()
			// Skip the store if an invalidation happened while loading.
			if e.gen == gen {
				e.cache[userID] = cacheEntry{perms: set, expires: expires}
			}
			e.mu.Unlock()
		}
		return set, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(map[string]struct{}), nil
}

// nextBoundary returns the earliest instant after now at which an active grant starts or stops
// applying. ValidTo is inclusive, so a grant stops one nanosecond after it.
func nextBoundary(grants []*domain.UserRole, now time.Time) (time.Time, bool) {
	var next time.Time
	found := false
	consider := func(t time.Time) {
		if t.After(now) && (!found || t.Before(next)) {
			next, found = t, true
		}
	}
	for _, g := range grants {
		if g == nil || !g.IsActive {
			continue
		}
		if !g.ValidFrom.IsZero() {
			consider(g.ValidFrom)
		}
		if g.ValidTo != nil {
			consider(g.ValidTo.Add(time.Nanosecond))
		}
	}
	return next, found
}
