package domain

import "time"

// DeviceType classifies the client device of a session.
type DeviceType string

const (
	DeviceMobile  DeviceType = "Mobile"
	DeviceDesktop DeviceType = "Desktop"
	DeviceTablet  DeviceType = "Tablet"
	DeviceUnknown DeviceType = "Unknown"
)

// EndReason records why a session was terminated.
type EndReason string

const (
	EndLogout             EndReason = "Logout"
	EndLogoutAll          EndReason = "LogoutAll"
	EndLogoutOthers       EndReason = "LogoutOthers"
	EndRevoked            EndReason = "Revoked"
	EndExpired            EndReason = "Expired"
	EndNewDeviceDisplaced EndReason = "NewDeviceDisplaced"
)

// Valid reports whether r is one of the known end reasons.
func (r EndReason) Valid() bool {
	switch r {
	case EndLogout, EndLogoutAll, EndLogoutOthers, EndRevoked, EndExpired, EndNewDeviceDisplaced:
		return true
	}
	return false
}

// Session represents a login on one device. ID doubles as the access token jti.
// EndedAt is set iff IsActive is false.
type Session struct {
	ID                string
	UserID            string
	RefreshTokenHash  string // SHA-256 hex of the current refresh token
	DeviceFingerprint string
	DeviceName        string
	DeviceType        DeviceType
	OperatingSystem   string
	UserAgent         string
	IPAddress         string
	Location          string
	Latitude          *float64
	Longitude         *float64
	CreatedAt         time.Time
	LastActiveAt      time.Time
	ExpiresAt         time.Time
	IsActive          bool
	EndedAt           *time.Time
	EndReason         EndReason
}

// ActiveAt reports whether the session is active and not past its expiry at now.
func (s *Session) ActiveAt(now time.Time) bool {
	return s != nil && s.IsActive && now.Before(s.ExpiresAt)
}

// HasCoordinates reports whether latitude and longitude are both known.
func (s *Session) HasCoordinates() bool {
	return s != nil && s.Latitude != nil && s.Longitude != nil
}

// Clone returns a deep copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.Latitude != nil {
		v := *s.Latitude
		c.Latitude = &v
	}
	if s.Longitude != nil {
		v := *s.Longitude
		c.Longitude = &v
	}
	if s.EndedAt != nil {
		v := *s.EndedAt
		c.EndedAt = &v
	}
	return &c
}

// End marks the session terminated at now with reason. Returns false if it was already ended.
func (s *Session) End(now time.Time, reason EndReason) bool {
	if !s.IsActive {
		return false
	}
	s.IsActive = false
	t := now
	s.EndedAt = &t
	s.EndReason = reason
	return true
}

// NewSession carries the attributes of a session about to be created.
type NewSession struct {
	ID                string
	UserID            string
	RefreshToken      string
	DeviceFingerprint string
	DeviceName        string
	DeviceType        DeviceType
	OperatingSystem   string
	UserAgent         string
	IPAddress         string
	Location          string
	Latitude          *float64
	Longitude         *float64
	ExpiresAt         time.Time
}
