package domain

import (
	"errors"
	"strings"
	"time"
)

// User is a site account that can log in.
type User struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	// Role is the display role placed in the access token. Authorization uses RBAC grants, not this field.
	Role      string
	IsActive  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Validate validates the user for persistence. Returns an error describing the first validation failure.
func (u *User) Validate() error {
	if strings.TrimSpace(u.ID) == "" {
		return errors.New("id is required")
	}
	if strings.TrimSpace(u.Username) == "" {
		return errors.New("username is required")
	}
	if u.PasswordHash == "" {
		return errors.New("password hash is required")
	}
	return nil
}

// NormalizeUsername lowercases and trims a username for lookup.
func NormalizeUsername(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
