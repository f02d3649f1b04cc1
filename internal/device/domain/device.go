package domain

import (
	"time"

	sessiondomain "sitekeeper/internal/session/domain"
)

// Unknown is the value of any device attribute that could not be determined.
const Unknown = "Unknown"

// DeviceInfo is what can be learned about a client from its request.
type DeviceInfo struct {
	UserAgent        string
	IPAddress        string
	Name             string
	Type             sessiondomain.DeviceType
	OperatingSystem  string
	Browser          string
	Platform         string
	Language         string
	Timezone         string
	ScreenResolution string
	IsBot            bool
}

// Location is a resolved geographic position. Lat and Lon are nil when only a label is known.
type Location struct {
	Label   string
	City    string
	Country string
	Lat     *float64
	Lon     *float64
}

// HasCoordinates reports whether both coordinates are known.
func (l Location) HasCoordinates() bool {
	return l.Lat != nil && l.Lon != nil
}

// TrustedDevice marks a fingerprint as known-good for one user.
type TrustedDevice struct {
	UserID      string
	Fingerprint string
	Name        string
	TrustedAt   time.Time
	LastSeenAt  *time.Time
}

// RiskFactor names one contribution to a login risk score.
type RiskFactor string

const (
	FactorNewDevice        RiskFactor = "new_device"
	FactorNewLocation      RiskFactor = "new_location"
	FactorImpossibleTravel RiskFactor = "impossible_travel"
	FactorVelocity         RiskFactor = "login_velocity"
)

// RiskAssessment is the outcome of scoring one login attempt.
type RiskAssessment struct {
	Score                          int
	Level                          string
	Factors                        []RiskFactor
	RequiresAdditionalVerification bool
	ShouldBlockLogin               bool
	IsTrustedDevice                bool
}

// HasFactor reports whether f contributed to the assessment.
func (a RiskAssessment) HasFactor(f RiskFactor) bool {
	for _, x := range a.Factors {
		if x == f {
			return true
		}
	}
	return false
}

// ActivityKind names a suspicious pattern among a user's active sessions.
type ActivityKind string

const (
	ActivityConcurrentLocations ActivityKind = "concurrent_locations"
	ActivityImpossibleTravel    ActivityKind = "impossible_travel"
)

// SuspiciousActivity is one finding of DetectSuspiciousActivity.
type SuspiciousActivity struct {
	Kind       ActivityKind
	SessionIDs []string
	Locations  []string
	DistanceKm float64
	Detail     string
	DetectedAt time.Time
}
