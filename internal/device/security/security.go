// Package security scores login attempts, manages trusted devices and detects suspicious
// concurrent sessions.
package security

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"sort"
	"strings"
	"time"

	"sitekeeper/internal/device/domain"
	"sitekeeper/internal/device/geo"
	"sitekeeper/internal/device/repository"
	"sitekeeper/internal/policy/engine"
	sessiondomain "sitekeeper/internal/session/domain"
)

// ErrInvalidDevice is returned when a trust operation lacks a user or fingerprint.
var ErrInvalidDevice = errors.New("user id and fingerprint are required")

// Below this distance the implied-speed rule does not apply.
const minTravelKm = 100.0

// SessionSource is the read and terminate surface of the session store.
type SessionSource interface {
	ListActive(userID string) []*sessiondomain.Session
	ListAll(userID string) []*sessiondomain.Session
	EndSession(ctx context.Context, sessionID string, reason sessiondomain.EndReason) (bool, error)
}

// TokenRevoker blacklists the access tokens of ended sessions.
type TokenRevoker interface {
	Revoke(ctx context.Context, sessions []*sessiondomain.Session) error
}

// Weights are the score contributions of each risk factor.
type Weights struct {
	NewDevice        int
	NewLocation      int
	ImpossibleTravel int
	Velocity         int
}

// Config holds weights and heuristics windows.
type Config struct {
	Weights          Weights
	TravelWindow     time.Duration
	TravelDistanceKm float64
	MaxSpeedKmh      float64
	VelocityWindow   time.Duration
	VelocityLogins   int
}

// DefaultConfig returns weights 30/20/35/15, 1000 km in 10 min, 900 km/h and 5 logins per hour.
func DefaultConfig() Config {
	return Config{
		Weights:          Weights{NewDevice: 30, NewLocation: 20, ImpossibleTravel: 35, Velocity: 15},
		TravelWindow:     10 * time.Minute,
		TravelDistanceKm: 1000,
		MaxSpeedKmh:      900,
		VelocityWindow:   time.Hour,
		VelocityLogins:   5,
	}
}

// Service implements device trust, login risk assessment and suspicious session handling.
type Service struct {
	cfg      Config
	devices  repository.Repository
	sessions SessionSource
	revoker  TokenRevoker
	policy   engine.RiskPolicy
	now      func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService returns a Service. A nil policy uses default thresholds.
func NewService(cfg Config, devices repository.Repository, sessions SessionSource, revoker TokenRevoker, policy engine.RiskPolicy, opts ...Option) *Service {
	if policy == nil {
		policy = engine.NewThresholdPolicy(engine.DefaultThresholds())
	}
	s := &Service{
		cfg:      cfg,
		devices:  devices,
		sessions: sessions,
		revoker:  revoker,
		policy:   policy,
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// AssessLoginRisk scores a login attempt by userID from the device described by info, at ip and loc.
// It is read-only. Errors come from the trusted device repository or the policy.
func (s *Service) AssessLoginRisk(ctx context.Context, userID string, info domain.DeviceInfo, ip string, loc domain.Location) (domain.RiskAssessment, error) {
	now := s.now()
	fingerprint := GenerateFingerprint(info, info.UserAgent, ip, nil)
	trusted, err := s.devices.Get(ctx, userID, fingerprint)
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("device: load trusted device: %w", err)
	}
	history := s.sessions.ListAll(userID)
	active := s.sessions.ListActive(userID)

	var out domain.RiskAssessment
	out.IsTrustedDevice = trusted != nil
	score := 0
	if trusted == nil && !seenFingerprint(history, fingerprint) {
		out.Factors = append(out.Factors, domain.FactorNewDevice)
		score += s.cfg.Weights.NewDevice
	}
	if knownLocation(loc.Label) && len(history) > 0 && !seenLocation(history, loc.Label) {
		out.Factors = append(out.Factors, domain.FactorNewLocation)
		score += s.cfg.Weights.NewLocation
	}
	if loc.HasCoordinates() && s.travelsImpossibly(active, loc, now) {
		out.Factors = append(out.Factors, domain.FactorImpossibleTravel)
		score += s.cfg.Weights.ImpossibleTravel
	}
	if s.cfg.VelocityLogins > 0 && countSince(history, now.Add(-s.cfg.VelocityWindow)) >= s.cfg.VelocityLogins {
		out.Factors = append(out.Factors, domain.FactorVelocity)
		score += s.cfg.Weights.Velocity
	}
	out.Score = clamp(score, 0, 100)

	factors := make([]string, len(out.Factors))
	for i, f := range out.Factors {
		factors[i] = string(f)
	}
	d, err := s.policy.Decide(ctx, engine.RiskInput{UserID: userID, Score: out.Score, Factors: factors})
	if err != nil {
		return domain.RiskAssessment{}, fmt.Errorf("device: risk policy: %w", err)
	}
	out.Level = string(d.Level)
	out.RequiresAdditionalVerification = d.RequiresVerification
	out.ShouldBlockLogin = d.Block
	return out, nil
}

func (s *Service) travelsImpossibly(active []*sessiondomain.Session, loc domain.Location, now time.Time) bool {
	for _, sess := range active {
		if !sess.HasCoordinates() {
			continue
		}
		d := HaversineKm(*sess.Latitude, *sess.Longitude, *loc.Lat, *loc.Lon)
		if s.impossible(d, now.Sub(sess.LastActiveAt)) {
			return true
		}
	}
	return false
}

func (s *Service) impossible(distanceKm float64, gap time.Duration) bool {
	if gap < 0 {
		gap = -gap
	}
	if gap <= s.cfg.TravelWindow && distanceKm > s.cfg.TravelDistanceKm {
		return true
	}
	if distanceKm <= minTravelKm {
		return false
	}
	if gap == 0 {
		return true
	}
	return distanceKm/gap.Hours() > s.cfg.MaxSpeedKmh
}

// MarkSeen records a successful login from a trusted fingerprint. Untrusted fingerprints are ignored.
func (s *Service) MarkSeen(ctx context.Context, userID, fingerprint string) error {
	return s.devices.UpdateLastSeen(ctx, userID, fingerprint, s.now().UTC())
}

// TrustDevice marks fingerprint as trusted for userID. Trusting an already trusted device is a no-op
// and returns false.
func (s *Service) TrustDevice(ctx context.Context, userID, fingerprint, name string) (bool, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(fingerprint) == "" {
		return false, ErrInvalidDevice
	}
	if strings.TrimSpace(name) == "" {
		name = domain.Unknown
	}
	return s.devices.Save(ctx, &domain.TrustedDevice{
		UserID:      userID,
		Fingerprint: fingerprint,
		Name:        name,
		TrustedAt:   s.now().UTC(),
	})
}

// RevokeTrust removes the trust record. Returns false when the device was not trusted.
func (s *Service) RevokeTrust(ctx context.Context, userID, fingerprint string) (bool, error) {
	if strings.TrimSpace(userID) == "" || strings.TrimSpace(fingerprint) == "" {
		return false, ErrInvalidDevice
	}
	return s.devices.Delete(ctx, userID, fingerprint)
}

// ListTrustedDevices returns the user's trusted devices.
func (s *Service) ListTrustedDevices(ctx context.Context, userID string) ([]*domain.TrustedDevice, error) {
	return s.devices.ListByUser(ctx, userID)
}

// DetectSuspiciousActivity compares every pair of the user's active sessions. Pairs seen from
// distant coordinates too quickly are impossible travel; pairs active within the travel window from
// different locations without coordinates are concurrent locations. Nothing is terminated.
func (s *Service) DetectSuspiciousActivity(ctx context.Context, userID string) ([]domain.SuspiciousActivity, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	active := s.sessions.ListActive(userID)
	now := s.now()
	var out []domain.SuspiciousActivity
	for i := 0; i < len(active); i++ {
		for j := i + 1; j < len(active); j++ {
			a, b := active[i], active[j]
			if !knownLocation(a.Location) || !knownLocation(b.Location) || a.Location == b.Location {
				continue
			}
			gap := a.LastActiveAt.Sub(b.LastActiveAt)
			if gap < 0 {
				gap = -gap
			}
			finding := domain.SuspiciousActivity{
				SessionIDs: []string{a.ID, b.ID},
				Locations:  []string{a.Location, b.Location},
				DetectedAt: now,
			}
			if a.HasCoordinates() && b.HasCoordinates() {
				d := HaversineKm(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
				if !s.impossible(d, gap) {
					continue
				}
				finding.Kind = domain.ActivityImpossibleTravel
				finding.DistanceKm = math.Round(d)
				finding.Detail = fmt.Sprintf("%.0f km apart, %s between activity", d, gap.Round(time.Second))
			} else {
				if gap > s.cfg.TravelWindow {
					continue
				}
				finding.Kind = domain.ActivityConcurrentLocations
				finding.Detail = fmt.Sprintf("active from %s and %s within %s", a.Location, b.Location, gap.Round(time.Second))
			}
			out = append(out, finding)
		}
	}
	return out, nil
}

// TerminateSuspiciousSessions ends every session flagged by DetectSuspiciousActivity with reason and
// blacklists their access tokens. Returns the number of sessions ended.
func (s *Service) TerminateSuspiciousSessions(ctx context.Context, userID string, reason sessiondomain.EndReason) (int, error) {
	if !reason.Valid() {
		reason = sessiondomain.EndRevoked
	}
	findings, err := s.DetectSuspiciousActivity(ctx, userID)
	if err != nil {
		return 0, err
	}
	flagged := make(map[string]bool)
	for _, f := range findings {
		for _, id := range f.SessionIDs {
			flagged[id] = true
		}
	}
	if len(flagged) == 0 {
		return 0, nil
	}
	ids := make([]string, 0, len(flagged))
	for id := range flagged {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	var ended []*sessiondomain.Session
	var errs []error
	for _, id := range ids {
		ok, err := s.sessions.EndSession(ctx, id, reason)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			ended = append(ended, &sessiondomain.Session{ID: id, UserID: userID})
		}
	}
	if s.revoker != nil && len(ended) > 0 {
		if err := s.revoker.Revoke(ctx, ended); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Printf("device: terminate suspicious sessions for user %s: %v", userID, err)
		return len(ended), err
	}
	return len(ended), nil
}

// HaversineKm returns the great-circle distance between two coordinates in kilometres.
func HaversineKm(lat1, lon1, lat2, lon2 float64) float64 {
	const earthRadiusKm = 6371.0
	rad := math.Pi / 180
	dLat := (lat2 - lat1) * rad
	dLon := (lon2 - lon1) * rad
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1*rad)*math.Cos(lat2*rad)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusKm * math.Asin(math.Min(1, math.Sqrt(h)))
}

func knownLocation(label string) bool {
	return label != "" && label != domain.Unknown && label != geo.LocalLabel
}

func seenFingerprint(history []*sessiondomain.Session, fp string) bool {
	for _, s := range history {
		if s.DeviceFingerprint == fp {
			return true
		}
	}
	return false
}

func seenLocation(history []*sessiondomain.Session, label string) bool {
	for _, s := range history {
		if s.Location == label {
			return true
		}
	}
	return false
}

func countSince(history []*sessiondomain.Session, since time.Time) int {
	n := 0
	for _, s := range history {
		if !s.CreatedAt.Before(since) {
			n++
		}
	}
	return n
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
