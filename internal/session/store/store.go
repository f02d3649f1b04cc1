// Package store keeps the authoritative in-process view of sessions. State is
// partitioned per user: every mutation takes only the owning user's lock, and
// lookups by session id or refresh token go through lock-free indexes.
package store

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"sitekeeper/internal/security"
	"sitekeeper/internal/session/domain"
)

var (
	// ErrSessionNotFound is returned when the session is unknown, ended or expired.
	ErrSessionNotFound = errors.New("session not found")
	// ErrTokenRotated is returned when the presented refresh token is no longer the session's current one.
	ErrTokenRotated = errors.New("refresh token already rotated")
	// ErrDuplicateSession is returned when a session id is reused.
	ErrDuplicateSession = errors.New("session id already exists")
	// ErrInvalidSession is returned when a new session lacks id, user, refresh token or a future expiry.
	ErrInvalidSession = errors.New("invalid session")
	// ErrInvalidLimit is returned when the device limit is below one.
	ErrInvalidLimit = errors.New("device limit must be at least 1")
)

const defaultEndedRetention = 30 * 24 * time.Hour

// Persister writes sessions through to durable storage. A nil Persister keeps sessions in memory only.
type Persister interface {
	Create(ctx context.Context, s *domain.Session) error
	Update(ctx context.Context, sessions ...*domain.Session) error
}

type userBucket struct {
	mu       sync.Mutex
	sessions map[string]*domain.Session
}

// Store is the session store. The zero value is not usable; call New.
type Store struct {
	persist        Persister
	now            func() time.Time
	endedRetention time.Duration

	users     sync.Map // userID -> *userBucket
	byID      sync.Map // sessionID -> userID
	byRefresh sync.Map // refresh token hash -> sessionID
}

// Option configures a Store.
type Option func(*Store)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithEndedRetention sets how long ended sessions stay in memory before ExpireStale drops them.
func WithEndedRetention(d time.Duration) Option {
	return func(s *Store) { s.endedRetention = d }
}

// New returns a Store persisting through p (which may be nil).
func New(p Persister, opts ...Option) *Store {
	s := &Store{persist: p, now: time.Now, endedRetention: defaultEndedRetention}
	for _, o := range opts {
		o(s)
	}
	return s
}

func (s *Store) bucket(userID string) *userBucket {
	if b, ok := s.users.Load(userID); ok {
		return b.(*userBucket)
	}
	b, _ := s.users.LoadOrStore(userID, &userBucket{sessions: make(map[string]*domain.Session)})
	return b.(*userBucket)
}

func (s *Store) bucketFor(sessionID string) (*userBucket, bool) {
	userID, ok := s.byID.Load(sessionID)
	if !ok {
		return nil, false
	}
	b, ok := s.users.Load(userID)
	if !ok {
		return nil, false
	}
	return b.(*userBucket), true
}

func (s *Store) clock() time.Time {
	return s.now().UTC()
}

// CreateSession stores a new active session. The refresh token is kept only as its hash.
func (s *Store) CreateSession(ctx context.Context, ns domain.NewSession) (*domain.Session, error) {
	now := s.clock()
	if ns.ID == "" || ns.UserID == "" || ns.RefreshToken == "" || !ns.ExpiresAt.After(now) {
		return nil, ErrInvalidSession
	}
	if _, loaded := s.byID.LoadOrStore(ns.ID, ns.UserID); loaded {
		return nil, ErrDuplicateSession
	}
	deviceType := ns.DeviceType
	if deviceType == "" {
		deviceType = domain.DeviceUnknown
	}
	sess := &domain.Session{
		ID:                ns.ID,
		UserID:            ns.UserID,
		RefreshTokenHash:  security.HashRefreshToken(ns.RefreshToken),
		DeviceFingerprint: ns.DeviceFingerprint,
		DeviceName:        ns.DeviceName,
		DeviceType:        deviceType,
		OperatingSystem:   ns.OperatingSystem,
		UserAgent:         ns.UserAgent,
		IPAddress:         ns.IPAddress,
		Location:          ns.Location,
		Latitude:          ns.Latitude,
		Longitude:         ns.Longitude,
		CreatedAt:         now,
		LastActiveAt:      now,
		ExpiresAt:         ns.ExpiresAt.UTC(),
		IsActive:          true,
	}

	b := s.bucket(ns.UserID)
	b.mu.Lock()
	defer b.mu.Unlock()
	if s.persist != nil {
		if err := s.persist.Create(ctx, sess); err != nil {
			s.byID.Delete(ns.ID)
			return nil, fmt.Errorf("persist session: %w", err)
		}
	}
	b.sessions[sess.ID] = sess
	s.byRefresh.Store(sess.RefreshTokenHash, sess.ID)
	return sess.Clone(), nil
}

// GetByID returns a copy of the session, active or not.
func (s *Store) GetByID(sessionID string) (*domain.Session, bool) {
	b, ok := s.bucketFor(sessionID)
	if !ok {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[sessionID]
	if !ok {
		return nil, false
	}
	return s.view(sess), true
}

// GetByRefreshToken returns the active session whose current refresh token is token.
// Rotated, ended and expired tokens find nothing.
func (s *Store) GetByRefreshToken(token string) (*domain.Session, bool) {
	if token == "" {
		return nil, false
	}
	hash := security.HashRefreshToken(token)
	id, ok := s.byRefresh.Load(hash)
	if !ok {
		return nil, false
	}
	b, ok := s.bucketFor(id.(string))
	if !ok {
		return nil, false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	sess, ok := b.sessions[id.(string)]
	if !ok || sess.RefreshTokenHash != hash || !sess.ActiveAt(s.clock()) {
		return nil, false
	}
	return sess.Clone(), true
}

// RotateRefreshToken replaces the session's refresh token with newToken if oldToken is still current.
// A zero newExpiresAt keeps the current expiry. Of two concurrent rotations presenting the same
// token exactly one succeeds; the other gets ErrTokenRotated.
func (s *Store) RotateRefreshToken(ctx context.Context, sessionID, oldToken, newToken string, newExpiresAt time.Time) (*domain.Session, error) {
	if newToken == "" {
		return nil, ErrInvalidSession
	}
	b, ok := s.bucketFor(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := s.clock()
	cur, ok := b.sessions[sessionID]
	if !ok || !cur.ActiveAt(now) {
		return nil, ErrSessionNotFound
	}
	if !security.RefreshTokenHashEqual(oldToken, cur.RefreshTokenHash) {
		return nil, ErrTokenRotated
	}
	next := cur.Clone()
	next.RefreshTokenHash = security.HashRefreshToken(newToken)
	next.LastActiveAt = now
	if !newExpiresAt.IsZero() {
		next.ExpiresAt = newExpiresAt.UTC()
	}
	if err := s.persistUpdate(ctx, next); err != nil {
		return nil, err
	}
	b.sessions[sessionID] = next
	s.byRefresh.Delete(cur.RefreshTokenHash)
	s.byRefresh.Store(next.RefreshTokenHash, sessionID)
	return next.Clone(), nil
}

// UpdateLastActive bumps lastActiveAt. Returns false if the session is unknown or inactive.
func (s *Store) UpdateLastActive(ctx context.Context, sessionID string) (bool, error) {
	b, ok := s.bucketFor(sessionID)
	if !ok {
		return false, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	now := s.clock()
	cur, ok := b.sessions[sessionID]
	if !ok || !cur.ActiveAt(now) {
		return false, nil
	}
	next := cur.Clone()
	next.LastActiveAt = now
	if err := s.persistUpdate(ctx, next); err != nil {
		return false, err
	}
	b.sessions[sessionID] = next
	return true, nil
}

// EndSession terminates one session. Ending an unknown, ended or expired session returns false.
func (s *Store) EndSession(ctx context.Context, sessionID string, reason domain.EndReason) (bool, error) {
	b, ok := s.bucketFor(sessionID)
	if !ok {
		return false, nil
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	cur, ok := b.sessions[sessionID]
	if !ok || !cur.ActiveAt(s.clock()) {
		return false, nil
	}
	ended, err := s.endLocked(ctx, b, []*domain.Session{cur}, reason)
	if err != nil {
		return false, err
	}
	return len(ended) == 1, nil
}

// EndAllSessions terminates every active session of the user and returns them.
func (s *Store) EndAllSessions(ctx context.Context, userID string, reason domain.EndReason) ([]*domain.Session, error) {
	return s.EndOtherSessions(ctx, userID, "", reason)
}

// EndOtherSessions terminates every active session of the user except exceptID and returns them.
func (s *Store) EndOtherSessions(ctx context.Context, userID, exceptID string, reason domain.EndReason) ([]*domain.Session, error) {
	b := s.bucket(userID)
	b.mu.Lock()
	defer b.mu.Unlock()
	now := s.clock()
	var victims []*domain.Session
	for id, sess := range b.sessions {
		if id != exceptID && sess.ActiveAt(now) {
			victims = append(victims, sess)
		}
	}
	return s.endLocked(ctx, b, victims, reason)
}

// EnforceDeviceLimit ends the least recently active sessions of the user until at most max remain,
// with reason NewDeviceDisplaced. Returns the ended sessions.
func (s *Store) EnforceDeviceLimit(ctx context.Context, userID string, max int) ([]*domain.Session, error) {
	if max < 1 {
		return nil, ErrInvalidLimit
	}
	b := s.bucket(userID)
	b.mu.Lock()
	defer b.mu.Unlock()
	now := s.clock()
	var active []*domain.Session
	for _, sess := range b.sessions {
		if sess.ActiveAt(now) {
			active = append(active, sess)
		}
	}
	if len(active) <= max {
		return nil, nil
	}
	sort.Slice(active, func(i, j int) bool {
		a, c := active[i], active[j]
		if !a.LastActiveAt.Equal(c.LastActiveAt) {
			return a.LastActiveAt.Before(c.LastActiveAt)
		}
		if !a.CreatedAt.Equal(c.CreatedAt) {
			return a.CreatedAt.Before(c.CreatedAt)
		}
		return a.ID < c.ID
	})
	return s.endLocked(ctx, b, active[:len(active)-max], domain.EndNewDeviceDisplaced)
}

// ListActive returns the user's active sessions, newest first.
func (s *Store) ListActive(userID string) []*domain.Session {
	return s.list(userID, true)
}

// ListAll returns every retained session of the user, newest first. Expired sessions are reported inactive.
func (s *Store) ListAll(userID string) []*domain.Session {
	return s.list(userID, false)
}

func (s *Store) list(userID string, activeOnly bool) []*domain.Session {
	v, ok := s.users.Load(userID)
	if !ok {
		return nil
	}
	b := v.(*userBucket)
	b.mu.Lock()
	now := s.clock()
	out := make([]*domain.Session, 0, len(b.sessions))
	for _, sess := range b.sessions {
		if activeOnly && !sess.ActiveAt(now) {
			continue
		}
		out = append(out, s.viewAt(sess, now))
	}
	b.mu.Unlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out
}

// ExpireStale ends every session past its expiry with reason Expired and drops ended sessions
// older than the retention window from memory. Users are swept one at a time.
func (s *Store) ExpireStale(ctx context.Context) (int, error) {
	var (
		total int
		errs  []error
	)
	s.users.Range(func(_, v any) bool {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			return false
		}
		n, err := s.expireBucket(ctx, v.(*userBucket))
		total += n
		if err != nil {
			errs = append(errs, err)
		}
		return true
	})
	return total, errors.Join(errs...)
}

func (s *Store) expireBucket(ctx context.Context, b *userBucket) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	now := s.clock()
	var stale []*domain.Session
	for id, sess := range b.sessions {
		if sess.IsActive && !now.Before(sess.ExpiresAt) {
			stale = append(stale, sess)
			continue
		}
		if !sess.IsActive && sess.EndedAt != nil && s.endedRetention > 0 && now.Sub(*sess.EndedAt) > s.endedRetention {
			delete(b.sessions, id)
			s.byID.Delete(id)
		}
	}
	ended, err := s.endLocked(ctx, b, stale, domain.EndExpired)
	return len(ended), err
}

// Warm loads previously persisted sessions without writing them back. Inactive or expired
// sessions are kept for listing but never indexed by refresh token.
func (s *Store) Warm(sessions []*domain.Session) int {
	now := s.clock()
	n := 0
	for _, in := range sessions {
		if in == nil || in.ID == "" || in.UserID == "" {
			continue
		}
		if _, loaded := s.byID.LoadOrStore(in.ID, in.UserID); loaded {
			continue
		}
		sess := in.Clone()
		b := s.bucket(sess.UserID)
		b.mu.Lock()
		b.sessions[sess.ID] = sess
		if sess.ActiveAt(now) && sess.RefreshTokenHash != "" {
			s.byRefresh.Store(sess.RefreshTokenHash, sess.ID)
		}
		b.mu.Unlock()
		n++
	}
	return n
}

// endLocked ends victims as one persisted batch. Caller holds b.mu.
func (s *Store) endLocked(ctx context.Context, b *userBucket, victims []*domain.Session, reason domain.EndReason) ([]*domain.Session, error) {
	if len(victims) == 0 {
		return nil, nil
	}
	now := s.clock()
	next := make([]*domain.Session, 0, len(victims))
	for _, v := range victims {
		c := v.Clone()
		if c.End(now, reason) {
			next = append(next, c)
		}
	}
	if err := s.persistUpdate(ctx, next...); err != nil {
		return nil, err
	}
	out := make([]*domain.Session, 0, len(next))
	for _, c := range next {
		old := b.sessions[c.ID]
		b.sessions[c.ID] = c
		if old != nil {
			s.byRefresh.Delete(old.RefreshTokenHash)
		}
		out = append(out, c.Clone())
	}
	return out, nil
}

func (s *Store) persistUpdate(ctx context.Context, sessions ...*domain.Session) error {
	if s.persist == nil || len(sessions) == 0 {
		return nil
	}
	if err := s.persist.Update(ctx, sessions...); err != nil {
		return fmt.Errorf("persist session: %w", err)
	}
	return nil
}

func (s *Store) view(sess *domain.Session) *domain.Session {
	return s.viewAt(sess, s.clock())
}

// viewAt returns a copy with lazy expiry applied: a session past expiresAt reads as inactive.
func (s *Store) viewAt(sess *domain.Session, now time.Time) *domain.Session {
	c := sess.Clone()
	if c.IsActive && !now.Before(c.ExpiresAt) {
		c.IsActive = false
		ended := c.ExpiresAt
		c.EndedAt = &ended
		c.EndReason = domain.EndExpired
	}
	return c
}
