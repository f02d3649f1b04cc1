// Package blacklist records revoked access token ids (jti) until the token would have expired anyway.
package blacklist

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"log"
	"sync"
	"time"

	"sitekeeper/internal/session/domain"
)

const shardCount = 32

// ErrNotPersisted marks an Add whose in-memory entry was recorded but could not be mirrored
// to the Persister. The token is still denied by this process.
var ErrNotPersisted = errors.New("not persisted")

// Persister mirrors blacklist entries to shared storage so revocations survive restarts.
type Persister interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
}

// SessionSource is the slice of the session store that bulk revocation needs.
type SessionSource interface {
	ListActive(userID string) []*domain.Session
	EndAllSessions(ctx context.Context, userID string, reason domain.EndReason) ([]*domain.Session, error)
}

type shard struct {
	mu      sync.RWMutex
	entries map[string]time.Time
}

// Blacklist is a sharded in-memory jti -> expiry map. Reads take one shard's read lock.
type Blacklist struct {
	shards    [shardCount]*shard
	persist   Persister
	accessTTL time.Duration
	now       func() time.Time
}

// Option configures a Blacklist.
type Option func(*Blacklist)

// WithPersister mirrors every Add to p.
func WithPersister(p Persister) Option {
	return func(b *Blacklist) { b.persist = p }
}

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(b *Blacklist) { b.now = now }
}

// New returns an empty Blacklist. accessTTL bounds how long a bulk-revoked session's
// tokens need to stay listed.
func New(accessTTL time.Duration, opts ...Option) *Blacklist {
	b := &Blacklist{accessTTL: accessTTL, now: time.Now}
	for i := range b.shards {
		b.shards[i] = &shard{entries: make(map[string]time.Time)}
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

func (b *Blacklist) shardFor(jti string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(jti))
	return b.shards[h.Sum32()%shardCount]
}

// Add blacklists jti until expiresAt. Re-adding keeps the later expiry. The in-memory entry is
// recorded before persistence, so a persistence error still leaves the token denied locally.
func (b *Blacklist) Add(ctx context.Context, jti string, expiresAt time.Time) error {
	if jti == "" {
		return errors.New("blacklist: empty jti")
	}
	if !b.record(jti, expiresAt) {
		return nil
	}
	if b.persist != nil {
		if err := b.persist.Add(ctx, jti, expiresAt); err != nil {
			return fmt.Errorf("blacklist: %s %w: %w", jti, ErrNotPersisted, err)
		}
	}
	return nil
}

// record upserts the entry and reports whether it changed.
func (b *Blacklist) record(jti string, expiresAt time.Time) bool {
	sh := b.shardFor(jti)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if cur, ok := sh.entries[jti]; ok && !expiresAt.After(cur) {
		return false
	}
	sh.entries[jti] = expiresAt
	return true
}

// IsBlacklisted reports whether jti is revoked. Entries past their expiry count as absent.
func (b *Blacklist) IsBlacklisted(jti string) bool {
	if jti == "" {
		return false
	}
	sh := b.shardFor(jti)
	sh.mu.RLock()
	exp, ok := sh.entries[jti]
	sh.mu.RUnlock()
	return ok && b.now().Before(exp)
}

// CleanupExpired drops expired entries one shard at a time and returns how many were removed.
func (b *Blacklist) CleanupExpired() int {
	removed := 0
	for _, sh := range b.shards {
		now := b.now()
		sh.mu.Lock()
		for jti, exp := range sh.entries {
			if !now.Before(exp) {
				delete(sh.entries, jti)
				removed++
			}
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of entries, expired or not.
func (b *Blacklist) Len() int {
	n := 0
	for _, sh := range b.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// Revoke blacklists the jti of each ended session for the access token lifetime.
// Every session is attempted; the first persistence error is returned.
func (b *Blacklist) Revoke(ctx context.Context, sessions []*domain.Session) error {
	until := b.now().Add(b.accessTTL)
	var errs []error
	for _, s := range sessions {
		if err := b.Add(ctx, s.ID, until); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// RevokeAllUserTokens blacklists the access tokens of all the user's active sessions, then ends
// those sessions with reason. Sessions that appear between the two steps are blacklisted as well.
// Returns the number of sessions ended.
func (b *Blacklist) RevokeAllUserTokens(ctx context.Context, sessions SessionSource, userID string, reason domain.EndReason) (int, error) {
	active := sessions.ListActive(userID)
	listed := make(map[string]bool, len(active))
	for _, s := range active {
		listed[s.ID] = true
	}
	revokeErr := b.Revoke(ctx, active)
	ended, err := sessions.EndAllSessions(ctx, userID, reason)
	if err != nil {
		return 0, fmt.Errorf("blacklist: end sessions of %s: %w", userID, err)
	}
	var late []*domain.Session
	for _, s := range ended {
		if !listed[s.ID] {
			late = append(late, s)
		}
	}
	if err := errors.Join(revokeErr, b.Revoke(ctx, late)); err != nil {
		log.Printf("blacklist: revoke all for user %s: %v", userID, err)
		return len(ended), err
	}
	return len(ended), nil
}

// Warm loads entries (e.g. from Redis) without persisting them again. Expired entries are skipped.
func (b *Blacklist) Warm(entries map[string]time.Time) int {
	now := b.now()
	n := 0
	for jti, exp := range entries {
		if jti == "" || !now.Before(exp) {
			continue
		}
		if b.record(jti, exp) {
			n++
		}
	}
	return n
}
