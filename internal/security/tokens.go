package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	// ErrInvalidToken is returned when a token is malformed, badly signed, expired, or has the wrong iss/aud.
	ErrInvalidToken = errors.New("invalid token")
)

// Subject identifies whom an access token is issued to.
type Subject struct {
	UserID   string
	Username string
	Role     string
}

// AccessClaims holds JWT claims for the access token. The registered jti (ID)
// is the session id, so revoking a session and blacklisting its tokens share one key.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID   string `json:"user_id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

// SessionID returns the jti claim.
func (c *AccessClaims) SessionID() string {
	return c.ID
}

// Expiry returns the exp claim, or the zero time if absent.
func (c *AccessClaims) Expiry() time.Time {
	if c.ExpiresAt == nil {
		return time.Time{}
	}
	return c.ExpiresAt.Time
}

// TokenProvider issues and validates HS256 access tokens.
type TokenProvider struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
	nowF      func() time.Time
}

// NewTokenProvider returns a TokenProvider that signs with secret (HMAC-SHA256).
// issuer and audience are set on issued tokens and required on validation.
func NewTokenProvider(secret []byte, issuer, audience string, accessTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		secret:    secret,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
		nowF:      time.Now,
	}
}

// WithClock overrides the provider's time source. Used to issue or validate
// tokens at a fixed instant.
func (p *TokenProvider) WithClock(now func() time.Time) *TokenProvider {
	p.nowF = now
	return p
}

// AccessTTL returns the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration {
	return p.accessTTL
}

// IssueAccess issues a short-lived access JWT for the given session. The jti is sessionID.
// Returns the token string and its expiration time.
func (p *TokenProvider) IssueAccess(sessionID string, sub Subject) (token string, expiresAt time.Time, err error) {
	if sessionID == "" || sub.UserID == "" {
		return "", time.Time{}, ErrInvalidToken
	}
	now := p.nowF().UTC().Truncate(time.Second)
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        sessionID,
			Subject:   sub.UserID,
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:   sub.UserID,
		Username: sub.Username,
		Role:     sub.Role,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err = t.SignedString(p.secret)
	if err != nil {
		return "", time.Time{}, err
	}
	return token, expiresAt, nil
}

// ValidateAccess parses and validates the access token (signature, exp, iss, aud, jti, sub).
func (p *TokenProvider) ValidateAccess(tokenString string) (*AccessClaims, error) {
	return p.parse(tokenString, jwt.WithExpirationRequired())
}

// ParseAccessAllowExpired validates signature, iss and aud but accepts an expired token.
// Logout uses it so a client holding an expired access token can still end its session.
func (p *TokenProvider) ParseAccessAllowExpired(tokenString string) (*AccessClaims, error) {
	claims, err := p.parse(tokenString, jwt.WithoutClaimsValidation())
	if err != nil {
		return nil, err
	}
	if claims.Issuer != p.issuer || !hasAudience(claims.Audience, p.audience) {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (p *TokenProvider) parse(tokenString string, extra ...jwt.ParserOption) (*AccessClaims, error) {
	if tokenString == "" {
		return nil, ErrInvalidToken
	}
	opts := append([]jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(p.issuer),
		jwt.WithAudience(p.audience),
		jwt.WithTimeFunc(p.nowF),
	}, extra...)
	token, err := jwt.ParseWithClaims(tokenString, &AccessClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return p.secret, nil
	}, opts...)
	if err != nil {
		return nil, ErrInvalidToken
	}
	claims, ok := token.Claims.(*AccessClaims)
	if !ok || !token.Valid {
		return nil, ErrInvalidToken
	}
	if claims.ID == "" || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	if claims.UserID == "" {
		claims.UserID = claims.Subject
	}
	return claims, nil
}

func hasAudience(aud jwt.ClaimStrings, want string) bool {
	for _, a := range aud {
		if a == want {
			return true
		}
	}
	return false
}
