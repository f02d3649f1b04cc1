package security

import "time"

// testSecret is an HMAC key for unit tests only. Do not use in production.
const testSecret = "sitekeeper-test-secret-0123456789abcdef"

// NewTestTokenProvider returns a TokenProvider signing with testSecret, issuer
// "test-issuer", audience "test-audience" and a one hour access TTL.
// For unit tests only.
func NewTestTokenProvider() *TokenProvider {
	return NewTokenProvider([]byte(testSecret), "test-issuer", "test-audience", time.Hour)
}
