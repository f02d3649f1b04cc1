// Package sweeper runs periodic maintenance over the in-memory security state: expired blacklist
// entries, idle rate limiter buckets and sessions past their expiry.
package sweeper

import (
	"context"
	"log"
	"time"

	telemetryotel "sitekeeper/internal/telemetry/otel"
)

// DefaultInterval is used when New is given a non-positive interval.
const DefaultInterval = time.Minute

// BlacklistCleaner drops blacklist entries whose tokens have expired.
type BlacklistCleaner interface {
	CleanupExpired() int
}

// LimiterCleaner drops idle rate limiter buckets.
type LimiterCleaner interface {
	Cleanup() int
}

// SessionExpirer ends sessions past their expiry.
type SessionExpirer interface {
	ExpireStale(ctx context.Context) (int, error)
}

// Result counts what one sweep removed.
type Result struct {
	BlacklistRemoved int
	BucketsRemoved   int
	SessionsExpired  int
}

// Sweeper ticks every interval. Any of its targets may be nil.
type Sweeper struct {
	interval  time.Duration
	blacklist BlacklistCleaner
	limiter   LimiterCleaner
	sessions  SessionExpirer
	metrics   *telemetryotel.Metrics
}

// New returns a Sweeper. metrics may be nil.
func New(interval time.Duration, blacklist BlacklistCleaner, limiter LimiterCleaner, sessions SessionExpirer, metrics *telemetryotel.Metrics) *Sweeper {
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Sweeper{interval: interval, blacklist: blacklist, limiter: limiter, sessions: sessions, metrics: metrics}
}

// Run sweeps every interval until ctx is done. It always returns nil so it can share an errgroup
// with the servers without tearing them down.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// Sweep runs each maintenance step once. A failing session sweep is logged and retried next tick.
func (s *Sweeper) Sweep(ctx context.Context) Result {
	var r Result
	if s.blacklist != nil {
		r.BlacklistRemoved = s.blacklist.CleanupExpired()
	}
	if s.limiter != nil {
		r.BucketsRemoved = s.limiter.Cleanup()
	}
	if s.sessions != nil {
		n, err := s.sessions.ExpireStale(ctx)
		if err != nil {
			log.Printf("sweeper: expire sessions: %v", err)
		}
		r.SessionsExpired = n
		s.metrics.RecordSessionsRevoked(ctx, "Expired", n)
	}
	if r != (Result{}) {
		log.Printf("sweeper: removed %d blacklist entries, %d rate limit buckets, expired %d sessions",
			r.BlacklistRemoved, r.BucketsRemoved, r.SessionsExpired)
	}
	return r
}
