package sweeper

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sitekeeper/internal/blacklist"
	"sitekeeper/internal/ratelimit"
	"sitekeeper/internal/session/domain"
	"sitekeeper/internal/session/store"
)

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func TestSweep_CleansEveryTarget(t *testing.T) {
	clock := &testClock{now: time.Date(2026, 4, 1, 12, 0, 0, 0, time.UTC)}
	ctx := context.Background()

	bl := blacklist.New(time.Hour, blacklist.WithClock(clock.Now))
	if err := bl.Add(ctx, "old-jti", clock.Now().Add(10*time.Minute)); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := bl.Add(ctx, "live-jti", clock.Now().Add(3*time.Hour)); err != nil {
		t.Fatalf("Add: %v", err)
	}

	lim := ratelimit.New(ratelimit.Config{Requests: 10, Window: time.Minute}, ratelimit.WithClock(clock.Now))
	lim.Allow("203.0.113.1")

	sessions := store.New(nil, store.WithClock(clock.Now))
	if _, err := sessions.CreateSession(ctx, domain.NewSession{
		ID: "s1", UserID: "u1", RefreshToken: "r1", ExpiresAt: clock.Now().Add(30 * time.Minute),
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}
	if _, err := sessions.CreateSession(ctx, domain.NewSession{
		ID: "s2", UserID: "u1", RefreshToken: "r2", ExpiresAt: clock.Now().Add(48 * time.Hour),
	}); err != nil {
		t.Fatalf("CreateSession: %v", err)
	}

	s := New(time.Minute, bl, lim, sessions, nil)
	if got := s.Sweep(ctx); got != (Result{}) {
		t.Errorf("sweep before expiry = %+v, want nothing removed", got)
	}

	clock.Advance(time.Hour)
	got := s.Sweep(ctx)
	want := Result{BlacklistRemoved: 1, BucketsRemoved: 1, SessionsExpired: 1}
	if got != want {
		t.Errorf("Sweep = %+v, want %+v", got, want)
	}
	if bl.IsBlacklisted("old-jti") || !bl.IsBlacklisted("live-jti") {
		t.Error("only the expired blacklist entry should be removed")
	}
	if sess, ok := sessions.GetByID("s1"); !ok || sess.IsActive || sess.EndReason != domain.EndExpired {
		t.Errorf("s1 = %+v", sess)
	}
	if len(sessions.ListActive("u1")) != 1 {
		t.Error("s2 should stay active")
	}
}

type failingExpirer struct{ calls int }

func (f *failingExpirer) ExpireStale(ctx context.Context) (int, error) {
	f.calls++
	return 0, errors.New("db down")
}

func TestSweep_NilTargetsAndErrors(t *testing.T) {
	exp := &failingExpirer{}
	s := New(0, nil, nil, exp, nil)
	if s.interval != DefaultInterval {
		t.Errorf("interval = %v, want default", s.interval)
	}
	if got := s.Sweep(context.Background()); got != (Result{}) {
		t.Errorf("Sweep = %+v", got)
	}
	if exp.calls != 1 {
		t.Errorf("expirer calls = %d", exp.calls)
	}
}

type countingCleaner struct {
	mu sync.Mutex
	n  int
}

func (c *countingCleaner) Cleanup() int {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
	return 0
}

func (c *countingCleaner) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

func TestRun_TicksUntilCancelled(t *testing.T) {
	cleaner := &countingCleaner{}
	s := New(5*time.Millisecond, nil, cleaner, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	deadline := time.After(2 * time.Second)
	for cleaner.count() < 2 {
		select {
		case <-deadline:
			t.Fatal("sweeper did not tick")
		case <-time.After(5 * time.Millisecond):
		}
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Run = %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
