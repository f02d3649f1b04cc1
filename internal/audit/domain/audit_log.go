package domain

import "time"

// Actions written by the access-control core.
const (
	ActionLogin           = "login"
	ActionLoginFailed     = "login_failed"
	ActionLoginBlocked    = "login_blocked"
	ActionLogout          = "logout"
	ActionLogoutAll       = "logout_all"
	ActionLogoutOthers    = "logout_others"
	ActionSessionRevoked  = "session_revoked"
	ActionTokenRefreshed  = "token_refreshed"
	ActionDeviceTrusted   = "device_trusted"
	ActionDeviceUntrusted = "device_untrusted"
	ActionSuspiciousEnded = "suspicious_sessions_terminated"
)

// AuditLog represents an audit event.
type AuditLog struct {
	ID        string
	UserID    string
	Action    string
	Resource  string
	IP        string
	Metadata  string
	CreatedAt time.Time
}

// Filter narrows a listing. Empty fields match everything.
type Filter struct {
	UserID   string
	Action   string
	Resource string
}

// Matches reports whether a satisfies f.
func (f Filter) Matches(a *AuditLog) bool {
	return (f.UserID == "" || a.UserID == f.UserID) &&
		(f.Action == "" || a.Action == f.Action) &&
		(f.Resource == "" || a.Resource == f.Resource)
}
