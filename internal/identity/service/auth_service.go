// Package service implements the authentication gateway: login, refresh, logout and
// access token authentication over the session store, device security and token blacklist.
package service

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"sitekeeper/internal/audit"
	"sitekeeper/internal/blacklist"
	auditdomain "sitekeeper/internal/audit/domain"
	devicedomain "sitekeeper/internal/device/domain"
	devicesecurity "sitekeeper/internal/device/security"
	identitydomain "sitekeeper/internal/identity/domain"
	"sitekeeper/internal/security"
	sessiondomain "sitekeeper/internal/session/domain"
	"sitekeeper/internal/session/store"
	"sitekeeper/internal/telemetry"
	telemetrydomain "sitekeeper/internal/telemetry/domain"
	telemetryotel "sitekeeper/internal/telemetry/otel"
	userdomain "sitekeeper/internal/user/domain"
)

// Sentinel errors for the auth service; handlers map them to HTTP and gRPC codes.
var (
	ErrInvalidCredentials  = errors.New("invalid credentials")
	ErrInvalidRefreshToken = errors.New("invalid or expired refresh token")
	ErrLoginBlocked        = errors.New("login blocked by risk policy")
	ErrTokenRevoked        = errors.New("token revoked")
)

const auditSource = "identity"

// UserLookup resolves accounts for credential checks.
type UserLookup interface {
	GetByID(ctx context.Context, id string) (*userdomain.User, error)
	GetByUsername(ctx context.Context, username string) (*userdomain.User, error)
}

// SessionStore is the session store surface the gateway drives.
type SessionStore interface {
	CreateSession(ctx context.Context, ns sessiondomain.NewSession) (*sessiondomain.Session, error)
	GetByID(sessionID string) (*sessiondomain.Session, bool)
	GetByRefreshToken(token string) (*sessiondomain.Session, bool)
	ListActive(userID string) []*sessiondomain.Session
	RotateRefreshToken(ctx context.Context, sessionID, oldToken, newToken string, newExpiresAt time.Time) (*sessiondomain.Session, error)
	EndSession(ctx context.Context, sessionID string, reason sessiondomain.EndReason) (bool, error)
	EndAllSessions(ctx context.Context, userID string, reason sessiondomain.EndReason) ([]*sessiondomain.Session, error)
	EndOtherSessions(ctx context.Context, userID, exceptID string, reason sessiondomain.EndReason) ([]*sessiondomain.Session, error)
	EnforceDeviceLimit(ctx context.Context, userID string, max int) ([]*sessiondomain.Session, error)
}

// TokenBlacklist revokes access tokens by jti. RevokeAllUserTokens blacklists before it ends
// the sessions, so no ended session's token is ever accepted.
type TokenBlacklist interface {
	Add(ctx context.Context, jti string, expiresAt time.Time) error
	IsBlacklisted(jti string) bool
	Revoke(ctx context.Context, sessions []*sessiondomain.Session) error
	RevokeAllUserTokens(ctx context.Context, sessions blacklist.SessionSource, userID string, reason sessiondomain.EndReason) (int, error)
}

// DeviceGuard scores logins and records seen devices.
type DeviceGuard interface {
	AssessLoginRisk(ctx context.Context, userID string, info devicedomain.DeviceInfo, ip string, loc devicedomain.Location) (devicedomain.RiskAssessment, error)
	MarkSeen(ctx context.Context, userID, fingerprint string) error
}

// Locator resolves a client IP to a location.
type Locator interface {
	Locate(ctx context.Context, ip string) devicedomain.Location
}

// RoleNamer returns the user's primary RBAC role name, or "" when none is assigned.
type RoleNamer interface {
	PrimaryRoleName(ctx context.Context, userID string) (string, error)
}

// AuditLogger records security-relevant actions. Best-effort.
type AuditLogger interface {
	LogEvent(ctx context.Context, userID, action, resource string, metadata map[string]string)
}

// Config holds session lifetime settings.
type Config struct {
	RefreshTTL  time.Duration
	MaxSessions int
}

// Deps holds the collaborators of AuthService. Users, Sessions, Blacklist, Devices, Hasher
// and Tokens are required; the rest may be nil.
type Deps struct {
	Users     UserLookup
	Sessions  SessionStore
	Blacklist TokenBlacklist
	Devices   DeviceGuard
	Locator   Locator
	Roles     RoleNamer
	Hasher    *security.Hasher
	Tokens    *security.TokenProvider
	Audit     AuditLogger
	Events    telemetry.EventEmitter
	Metrics   *telemetryotel.Metrics
}

// AuthService orchestrates login, refresh and logout. It holds no state of its own.
type AuthService struct {
	Deps
	cfg Config
	now func() time.Time
}

// NewAuthService returns an AuthService with the given dependencies.
func NewAuthService(deps Deps, cfg Config) *AuthService {
	if cfg.MaxSessions < 1 {
		cfg.MaxSessions = 5
	}
	if deps.Audit == nil {
		deps.Audit = audit.Nop{}
	}
	return &AuthService{Deps: deps, cfg: cfg, now: time.Now}
}

// Login verifies credentials, scores the attempt, opens a session and issues a token pair.
// Unknown users, inactive users and wrong passwords all yield ErrInvalidCredentials.
func (s *AuthService) Login(ctx context.Context, req identitydomain.LoginRequest) (*identitydomain.LoginResult, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return nil, ErrInvalidCredentials
	}
	user, err := s.Users.GetByUsername(ctx, username)
	if err != nil {
		return nil, fmt.Errorf("identity: lookup user: %w", err)
	}
	if user == nil || !user.IsActive {
		s.Hasher.CompareDummy([]byte(req.Password))
		s.loginFailed(ctx, "", username, req.IPAddress)
		return nil, ErrInvalidCredentials
	}
	if err := s.Hasher.Compare(user.PasswordHash, []byte(req.Password)); err != nil {
		s.loginFailed(ctx, user.ID, username, req.IPAddress)
		return nil, ErrInvalidCredentials
	}

	info := devicesecurity.ExtractDeviceInfo(req.UserAgent, req.IPAddress, req.Headers)
	fingerprint := devicesecurity.GenerateFingerprint(info, req.UserAgent, req.IPAddress, nil)
	loc := devicedomain.Location{Label: devicedomain.Unknown}
	if s.Locator != nil {
		loc = s.Locator.Locate(ctx, req.IPAddress)
	}
	risk, err := s.Devices.AssessLoginRisk(ctx, user.ID, info, req.IPAddress, loc)
	if err != nil {
		return nil, err
	}
	if risk.ShouldBlockLogin {
		s.Audit.LogEvent(ctx, user.ID, auditdomain.ActionLoginBlocked, "session", map[string]string{
			"risk_score": strconv.Itoa(risk.Score), "risk_level": risk.Level,
		})
		ev := s.event(telemetrydomain.EventLoginBlocked, user.ID, "", req.IPAddress).
			With("risk_score", strconv.Itoa(risk.Score)).With("factors", joinFactors(risk.Factors))
		telemetry.EmitAsync(s.Events, ev)
		s.Metrics.RecordLogin(ctx, "blocked")
		return nil, ErrLoginBlocked
	}

	refreshToken, err := security.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	sess, err := s.Sessions.CreateSession(ctx, sessiondomain.NewSession{
		ID:                uuid.New().String(),
		UserID:            user.ID,
		RefreshToken:      refreshToken,
		DeviceFingerprint: fingerprint,
		DeviceName:        info.Name,
		DeviceType:        info.Type,
		OperatingSystem:   info.OperatingSystem,
		UserAgent:         req.UserAgent,
		IPAddress:         req.IPAddress,
		Location:          loc.Label,
		Latitude:          loc.Lat,
		Longitude:         loc.Lon,
		ExpiresAt:         now.Add(s.cfg.RefreshTTL),
	})
	if err != nil {
		return nil, fmt.Errorf("identity: create session: %w", err)
	}

	evicted, err := s.Sessions.EnforceDeviceLimit(ctx, user.ID, s.cfg.MaxSessions)
	if err != nil {
		return nil, fmt.Errorf("identity: enforce device limit: %w", err)
	}
	evictedIDs := make([]string, 0, len(evicted))
	if len(evicted) > 0 {
		if err := s.Blacklist.Revoke(ctx, evicted); err != nil {
			log.Printf("identity: blacklist displaced sessions of %s: %v", user.ID, err)
		}
		for _, e := range evicted {
			evictedIDs = append(evictedIDs, e.ID)
		}
		telemetry.EmitAsync(s.Events, s.event(telemetrydomain.EventSessionsDisplaced, user.ID, sess.ID, req.IPAddress).
			With("count", strconv.Itoa(len(evicted))))
		s.Metrics.RecordSessionsRevoked(ctx, string(sessiondomain.EndNewDeviceDisplaced), len(evicted))
	}

	role := s.roleFor(ctx, user)
	access, accessExp, err := s.Tokens.IssueAccess(sess.ID, security.Subject{UserID: user.ID, Username: user.Username, Role: role})
	if err != nil {
		return nil, err
	}
	if err := s.Devices.MarkSeen(ctx, user.ID, fingerprint); err != nil {
		log.Printf("identity: mark device seen for %s: %v", user.ID, err)
	}

	s.Audit.LogEvent(ctx, user.ID, auditdomain.ActionLogin, "session", map[string]string{
		"session_id": sess.ID, "risk_level": risk.Level, "location": loc.Label,
	})
	telemetry.EmitAsync(s.Events, s.event(telemetrydomain.EventLoginSucceeded, user.ID, sess.ID, req.IPAddress).
		With("risk_score", strconv.Itoa(risk.Score)).With("device_type", string(info.Type)))
	s.Metrics.RecordLogin(ctx, "success")

	factors := make([]string, len(risk.Factors))
	for i, f := range risk.Factors {
		factors[i] = string(f)
	}
	return &identitydomain.LoginResult{
		TokenPair: identitydomain.TokenPair{
			AccessToken:      access,
			AccessExpiresAt:  accessExp,
			RefreshToken:     refreshToken,
			RefreshExpiresAt: sess.ExpiresAt,
			SessionID:        sess.ID,
			UserID:           user.ID,
			Username:         user.Username,
			Role:             role,
		},
		Risk: identitydomain.RiskSummary{
			Score:                          risk.Score,
			Level:                          risk.Level,
			Factors:                        factors,
			RequiresAdditionalVerification: risk.RequiresAdditionalVerification,
		},
		Evicted: evictedIDs,
	}, nil
}

// Refresh exchanges a current refresh token for a new pair. The old refresh token stops working
// and the session expiry slides to a full refresh TTL from now.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string) (*identitydomain.TokenPair, error) {
	sess, ok := s.Sessions.GetByRefreshToken(refreshToken)
	if !ok {
		s.refreshRejected("unknown_token")
		return nil, ErrInvalidRefreshToken
	}
	user, err := s.Users.GetByID(ctx, sess.UserID)
	if err != nil {
		return nil, fmt.Errorf("identity: lookup user: %w", err)
	}
	if user == nil || !user.IsActive {
		if _, err := s.Sessions.EndSession(ctx, sess.ID, sessiondomain.EndRevoked); err != nil {
			return nil, err
		}
		if err := s.Blacklist.Revoke(ctx, []*sessiondomain.Session{sess}); err != nil {
			log.Printf("identity: blacklist session %s of inactive user: %v", sess.ID, err)
		}
		s.refreshRejected("inactive_user")
		return nil, ErrInvalidRefreshToken
	}

	next, err := security.GenerateRefreshToken()
	if err != nil {
		return nil, err
	}
	newExpiry := s.now().UTC().Add(s.cfg.RefreshTTL)
	rotated, err := s.Sessions.RotateRefreshToken(ctx, sess.ID, refreshToken, next, newExpiry)
	if err != nil {
		if errors.Is(err, store.ErrTokenRotated) || errors.Is(err, store.ErrSessionNotFound) {
			s.refreshRejected("rotated")
			return nil, ErrInvalidRefreshToken
		}
		return nil, fmt.Errorf("identity: rotate refresh token: %w", err)
	}

	role := s.roleFor(ctx, user)
	access, accessExp, err := s.Tokens.IssueAccess(rotated.ID, security.Subject{UserID: user.ID, Username: user.Username, Role: role})
	if err != nil {
		return nil, err
	}
	telemetry.EmitAsync(s.Events, s.event(telemetrydomain.EventTokenRefreshed, user.ID, rotated.ID, ""))
	return &identitydomain.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExp,
		RefreshToken:     next,
		RefreshExpiresAt: rotated.ExpiresAt,
		SessionID:        rotated.ID,
		UserID:           user.ID,
		Username:         user.Username,
		Role:             role,
	}, nil
}

// Logout ends the session named by the access token's jti and blacklists the jti until the token
// would have expired. The token may already be expired. Logging out twice is not an error.
func (s *AuthService) Logout(ctx context.Context, userID, accessToken string) error {
	claims, err := s.Tokens.ParseAccessAllowExpired(accessToken)
	if err != nil {
		return err
	}
	if userID != "" && claims.UserID != userID {
		return security.ErrInvalidToken
	}
	ended, err := s.Sessions.EndSession(ctx, claims.SessionID(), sessiondomain.EndLogout)
	if err != nil {
		return fmt.Errorf("identity: end session: %w", err)
	}
	if err := s.Blacklist.Add(ctx, claims.SessionID(), claims.Expiry()); err != nil {
		log.Printf("identity: blacklist %s: %v", claims.SessionID(), err)
	}
	if !ended {
		return nil
	}
	s.Audit.LogEvent(ctx, claims.UserID, auditdomain.ActionLogout, "session", map[string]string{"session_id": claims.SessionID()})
	telemetry.EmitAsync(s.Events, s.event(telemetrydomain.EventLogout, claims.UserID, claims.SessionID(), ""))
	s.Metrics.RecordSessionsRevoked(ctx, string(sessiondomain.EndLogout), 1)
	return nil
}

// LogoutAll ends every active session of the user and blacklists their tokens.
func (s *AuthService) LogoutAll(ctx context.Context, userID string) (int, error) {
	n, err := s.revokeAll(ctx, userID, sessiondomain.EndLogoutAll)
	if err != nil {
		return 0, err
	}
	s.Audit.LogEvent(ctx, userID, auditdomain.ActionLogoutAll, "session", map[string]string{"count": strconv.Itoa(n)})
	telemetry.EmitAsync(s.Events, s.event(telemetrydomain.EventLogoutAll, userID, "", "").With("count", strconv.Itoa(n)))
	return n, nil
}

// LogoutOthers ends every active session of the user except currentSessionID.
func (s *AuthService) LogoutOthers(ctx context.Context, userID, currentSessionID string) (int, error) {
	ended, err := s.Sessions.EndOtherSessions(ctx, userID, currentSessionID, sessiondomain.EndLogoutOthers)
	if err != nil {
		return 0, fmt.Errorf("identity: end sessions: %w", err)
	}
	s.revoked(ctx, userID, sessiondomain.EndLogoutOthers, ended)
	s.Audit.LogEvent(ctx, userID, auditdomain.ActionLogoutOthers, "session", map[string]string{
		"count": strconv.Itoa(len(ended)), "kept_session_id": currentSessionID,
	})
	telemetry.EmitAsync(s.Events, s.event(telemetrydomain.EventLogoutOthers, userID, currentSessionID, "").With("count", strconv.Itoa(len(ended))))
	return len(ended), nil
}

// RevokeSession ends one session administratively. Returns false when it was unknown or already ended.
// If ownerID is non-empty the session must belong to that user; otherwise it is reported as not found.
func (s *AuthService) RevokeSession(ctx context.Context, sessionID, ownerID string) (bool, error) {
	sess, ok := s.Sessions.GetByID(sessionID)
	if !ok || (ownerID != "" && sess.UserID != ownerID) {
		return false, nil
	}
	ended, err := s.Sessions.EndSession(ctx, sessionID, sessiondomain.EndRevoked)
	if err != nil {
		return false, fmt.Errorf("identity: end session: %w", err)
	}
	if !ended {
		return false, nil
	}
	s.revoked(ctx, sess.UserID, sessiondomain.EndRevoked, []*sessiondomain.Session{sess})
	s.Audit.LogEvent(ctx, sess.UserID, auditdomain.ActionSessionRevoked, "session", map[string]string{"session_id": sessionID})
	telemetry.EmitAsync(s.Events, s.event(telemetrydomain.EventSessionRevoked, sess.UserID, sessionID, ""))
	return true, nil
}

// RevokeUserSessions ends every active session of the user with reason Revoked.
func (s *AuthService) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	n, err := s.revokeAll(ctx, userID, sessiondomain.EndRevoked)
	if err != nil {
		return 0, err
	}
	s.Audit.LogEvent(ctx, userID, auditdomain.ActionSessionRevoked, "session", map[string]string{"count": strconv.Itoa(n)})
	if n > 0 {
		telemetry.EmitAsync(s.Events, s.event(telemetrydomain.EventSessionRevoked, userID, "", "").With("count", strconv.Itoa(n)))
	}
	return n, nil
}

// Authenticate validates the access token's signature, expiry, issuer and audience, then
// rejects it if its jti is blacklisted.
func (s *AuthService) Authenticate(ctx context.Context, accessToken string) (*identitydomain.Identity, error) {
	claims, err := s.Tokens.ValidateAccess(accessToken)
	if err != nil {
		return nil, err
	}
	if s.Blacklist.IsBlacklisted(claims.SessionID()) {
		return nil, ErrTokenRevoked
	}
	return &identitydomain.Identity{
		UserID:    claims.UserID,
		Username:  claims.Username,
		Role:      claims.Role,
		SessionID: claims.SessionID(),
		ExpiresAt: claims.Expiry(),
	}, nil
}

// revokeAll blacklists and then ends every active session of the user. A blacklist entry that
// could not be persisted is logged by the blacklist and still denies locally.
func (s *AuthService) revokeAll(ctx context.Context, userID string, reason sessiondomain.EndReason) (int, error) {
	n, err := s.Blacklist.RevokeAllUserTokens(ctx, s.Sessions, userID, reason)
	if err != nil && !errors.Is(err, blacklist.ErrNotPersisted) {
		return 0, fmt.Errorf("identity: revoke sessions: %w", err)
	}
	if n > 0 {
		s.Metrics.RecordSessionsRevoked(ctx, string(reason), n)
	}
	return n, nil
}

func (s *AuthService) revoked(ctx context.Context, userID string, reason sessiondomain.EndReason, ended []*sessiondomain.Session) {
	if len(ended) == 0 {
		return
	}
	if err := s.Blacklist.Revoke(ctx, ended); err != nil {
		log.Printf("identity: blacklist %d sessions of %s: %v", len(ended), userID, err)
	}
	s.Metrics.RecordSessionsRevoked(ctx, string(reason), len(ended))
}

func (s *AuthService) roleFor(ctx context.Context, user *userdomain.User) string {
	if s.Roles == nil {
		return user.Role
	}
	name, err := s.Roles.PrimaryRoleName(ctx, user.ID)
	if err != nil {
		log.Printf("identity: primary role for %s: %v", user.ID, err)
		return user.Role
	}
	if name == "" {
		return user.Role
	}
	return name
}

func (s *AuthService) loginFailed(ctx context.Context, userID, username, ip string) {
	s.Audit.LogEvent(ctx, userID, auditdomain.ActionLoginFailed, "session", map[string]string{"username": username})
	telemetry.EmitAsync(s.Events, s.event(telemetrydomain.EventLoginFailed, userID, "", ip))
	s.Metrics.RecordLogin(ctx, "failed")
}

func (s *AuthService) refreshRejected(reason string) {
	telemetry.EmitAsync(s.Events, s.event(telemetrydomain.EventRefreshRejected, "", "", "").With("reason", reason))
}

func (s *AuthService) event(t telemetrydomain.EventType, userID, sessionID, ip string) *telemetrydomain.SecurityEvent {
	ev := telemetrydomain.NewEvent(t, auditSource)
	ev.UserID = userID
	ev.SessionID = sessionID
	ev.IP = ip
	return ev
}

func joinFactors(fs []devicedomain.RiskFactor) string {
	parts := make([]string, len(fs))
	for i, f := range fs {
		parts[i] = string(f)
	}
	return strings.Join(parts, ",")
}
