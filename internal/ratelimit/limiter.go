// Package ratelimit implements a per-client-IP sliding window limiter. A client that exceeds
// the window limit is blocked outright for a fixed duration.
//
// State is split across shards; each client bucket carries its own mutex, so requests from
// different clients never contend on one lock.
package ratelimit

import (
	"hash/fnv"
	"sync"
	"sync/atomic"
	"time"
)

const shardCount = 64

// Config holds limiter settings.
type Config struct {
	// Requests is the number of requests allowed per Window.
	Requests int
	// Window is the sliding window length.
	Window time.Duration
	// BlockDuration is how long a client is refused after breaching the limit. Zero disables blocking.
	BlockDuration time.Duration
	// CleanupEvery runs Cleanup inline every N calls to Allow. Zero disables inline cleanup.
	CleanupEvery uint64
}

// DefaultConfig returns 100 requests per 5 minutes with a 15 minute block.
func DefaultConfig() Config {
	return Config{Requests: 100, Window: 5 * time.Minute, BlockDuration: 15 * time.Minute, CleanupEvery: 1000}
}

// Decision is the outcome of one Allow call.
type Decision struct {
	// Allowed is true when the request may proceed.
	Allowed bool
	// Blocked is true when the client is currently blocked (as opposed to merely over the limit).
	Blocked bool
	// Limit is the configured request limit.
	Limit int
	// Remaining is the number of further requests allowed in the current window.
	Remaining int
	// ResetAt is when the client's quota next frees up or its block ends.
	ResetAt time.Time
	// RetryAfter is set on rejected requests.
	RetryAfter time.Duration
}

type bucket struct {
	mu           sync.Mutex
	hits         []time.Time
	blockedUntil time.Time
	dead         bool
}

type shard struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

// Limiter is a sharded sliding window rate limiter keyed by client IP.
type Limiter struct {
	cfg    Config
	shards [shardCount]*shard
	now    func() time.Time
	calls  atomic.Uint64
}

// Option configures a Limiter.
type Option func(*Limiter)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New returns a Limiter. Non-positive Requests or Window fall back to DefaultConfig values.
func New(cfg Config, opts ...Option) *Limiter {
	def := DefaultConfig()
	if cfg.Requests <= 0 {
		cfg.Requests = def.Requests
	}
	if cfg.Window <= 0 {
		cfg.Window = def.Window
	}
	if cfg.BlockDuration < 0 {
		cfg.BlockDuration = 0
	}
	l := &Limiter{cfg: cfg, now: time.Now}
	for i := range l.shards {
		l.shards[i] = &shard{buckets: make(map[string]*bucket)}
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Config returns the limiter's effective configuration.
func (l *Limiter) Config() Config {
	return l.cfg
}

func (l *Limiter) shardFor(key string) *shard {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return l.shards[h.Sum32()%shardCount]
}

func (l *Limiter) bucketFor(key string) *bucket {
	sh := l.shardFor(key)
	sh.mu.RLock()
	b, ok := sh.buckets[key]
	sh.mu.RUnlock()
	if ok {
		return b
	}
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if b, ok = sh.buckets[key]; ok {
		return b
	}
	b = &bucket{}
	sh.buckets[key] = b
	return b
}

// Allow records a request from ip and decides whether it may proceed.
// Rejected requests are not counted against the window.
func (l *Limiter) Allow(ip string) Decision {
	if every := l.cfg.CleanupEvery; every > 0 && l.calls.Add(1)%every == 0 {
		l.Cleanup()
	}
	for {
		b := l.bucketFor(ip)
		b.mu.Lock()
		if b.dead {
			// Removed by Cleanup after we looked it up; fetch a fresh bucket.
			b.mu.Unlock()
			continue
		}
		d := l.decide(b, l.now())
		b.mu.Unlock()
		return d
	}
}

// decide applies one request to b. Caller holds b.mu.
func (l *Limiter) decide(b *bucket, now time.Time) Decision {
	d := Decision{Limit: l.cfg.Requests}

	if !b.blockedUntil.IsZero() {
		if now.Before(b.blockedUntil) {
			d.Blocked = true
			d.ResetAt = b.blockedUntil
			d.RetryAfter = b.blockedUntil.Sub(now)
			return d
		}
		b.blockedUntil = time.Time{}
		b.hits = b.hits[:0]
	}

	b.hits = prune(b.hits, now.Add(-l.cfg.Window))

	if len(b.hits) < l.cfg.Requests {
		b.hits = append(b.hits, now)
		d.Allowed = true
		d.Remaining = l.cfg.Requests - len(b.hits)
		d.ResetAt = b.hits[0].Add(l.cfg.Window)
		return d
	}

	if l.cfg.BlockDuration > 0 {
		b.blockedUntil = now.Add(l.cfg.BlockDuration)
		d.ResetAt = b.blockedUntil
	} else {
		d.ResetAt = b.hits[0].Add(l.cfg.Window)
	}
	d.RetryAfter = d.ResetAt.Sub(now)
	return d
}

// prune drops hits at or before cutoff. hits is in ascending order.
func prune(hits []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(hits) && !hits[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return hits
	}
	return append(hits[:0], hits[i:]...)
}

// IsBlocked reports whether ip is currently blocked, without recording a request.
func (l *Limiter) IsBlocked(ip string) bool {
	sh := l.shardFor(ip)
	sh.mu.RLock()
	b, ok := sh.buckets[ip]
	sh.mu.RUnlock()
	if !ok {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.blockedUntil.IsZero() && l.now().Before(b.blockedUntil)
}

// Unblock clears any block and window state for ip.
func (l *Limiter) Unblock(ip string) {
	sh := l.shardFor(ip)
	sh.mu.Lock()
	b, ok := sh.buckets[ip]
	if ok {
		delete(sh.buckets, ip)
	}
	sh.mu.Unlock()
	if ok {
		b.mu.Lock()
		b.dead = true
		b.mu.Unlock()
	}
}

// Cleanup drops buckets that are neither blocked nor hold hits inside the window.
// Shards are processed one at a time. Returns the number of buckets removed.
func (l *Limiter) Cleanup() int {
	removed := 0
	for _, sh := range l.shards {
		sh.mu.Lock()
		now := l.now()
		cutoff := now.Add(-l.cfg.Window)
		for key, b := range sh.buckets {
			b.mu.Lock()
			blocked := !b.blockedUntil.IsZero() && now.Before(b.blockedUntil)
			if !blocked {
				b.hits = prune(b.hits, cutoff)
				if len(b.hits) == 0 {
					b.dead = true
					delete(sh.buckets, key)
					removed++
				}
			}
			b.mu.Unlock()
		}
		sh.mu.Unlock()
	}
	return removed
}

// Len returns the number of tracked clients.
func (l *Limiter) Len() int {
	n := 0
	for _, sh := range l.shards {
		sh.mu.RLock()
		n += len(sh.buckets)
		sh.mu.RUnlock()
	}
	return n
}
