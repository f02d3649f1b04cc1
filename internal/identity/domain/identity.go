package domain

import "time"

// Identity is the authenticated principal behind a validated, non-blacklisted access token.
type Identity struct {
	UserID    string
	Username  string
	Role      string
	SessionID string
	ExpiresAt time.Time
}

// LoginRequest carries credentials and the client context used for device and risk checks.
type LoginRequest struct {
	Username  string
	Password  string
	UserAgent string
	IPAddress string
	// Headers holds optional client hints (X-Device-Name, Sec-CH-UA-Platform, Accept-Language, ...).
	Headers map[string]string
}

// TokenPair is returned by Login and Refresh.
type TokenPair struct {
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
	UserID           string
	Username         string
	Role             string
}

// RiskSummary is the part of a login risk assessment surfaced to the client.
type RiskSummary struct {
	Score                          int
	Level                          string
	Factors                        []string
	RequiresAdditionalVerification bool
}

// LoginResult is the outcome of a successful Login.
type LoginResult struct {
	TokenPair
	Risk RiskSummary
	// Evicted lists session ids ended because the device limit was reached.
	Evicted []string
}
