package domain

import "time"

// EventType names a security-relevant occurrence.
type EventType string

const (
	EventLoginSucceeded       EventType = "login_succeeded"
	EventLoginFailed          EventType = "login_failed"
	EventLoginBlocked         EventType = "login_blocked"
	EventTokenRefreshed       EventType = "token_refreshed"
	EventRefreshRejected      EventType = "refresh_rejected"
	EventLogout               EventType = "logout"
	EventLogoutAll            EventType = "logout_all"
	EventLogoutOthers         EventType = "logout_others"
	EventSessionRevoked       EventType = "session_revoked"
	EventSessionsDisplaced    EventType = "sessions_displaced"
	EventRateLimited          EventType = "rate_limited"
	EventIPBlocked            EventType = "ip_blocked"
	EventPermissionDenied     EventType = "permission_denied"
	EventSuspiciousTerminated EventType = "suspicious_sessions_terminated"
	EventDeviceTrusted        EventType = "device_trusted"
	EventDeviceTrustRevoked   EventType = "device_trust_revoked"
	EventRPCRejected          EventType = "rpc_rejected"
)

// Severity ranks events for alerting.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityWarning  Severity = "warning"
	SeverityCritical Severity = "critical"
)

// SecurityEvent is one security event. It is serialized as JSON onto Kafka and pushed to Loki.
type SecurityEvent struct {
	Type      EventType         `json:"type"`
	Severity  Severity          `json:"severity"`
	Source    string            `json:"source"`
	UserID    string            `json:"user_id,omitempty"`
	SessionID string            `json:"session_id,omitempty"`
	IP        string            `json:"ip,omitempty"`
	Attrs     map[string]string `json:"attrs,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewEvent returns an event of type t from source stamped with the current UTC time.
// Severity defaults from the type.
func NewEvent(t EventType, source string) *SecurityEvent {
	return &SecurityEvent{Type: t, Severity: DefaultSeverity(t), Source: source, CreatedAt: time.Now().UTC()}
}

// With sets an attribute and returns e.
func (e *SecurityEvent) With(key, value string) *SecurityEvent {
	if e.Attrs == nil {
		e.Attrs = make(map[string]string)
	}
	e.Attrs[key] = value
	return e
}

// DefaultSeverity maps an event type to its usual severity.
func DefaultSeverity(t EventType) Severity {
	switch t {
	case EventLoginBlocked, EventIPBlocked, EventSuspiciousTerminated:
		return SeverityCritical
	case EventLoginFailed, EventRefreshRejected, EventRateLimited, EventPermissionDenied, EventSessionsDisplaced, EventSessionRevoked, EventRPCRejected:
		return SeverityWarning
	}
	return SeverityInfo
}
