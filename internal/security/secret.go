package security

import (
	"errors"
	"os"
	"strings"
)

// minSecretLen is the minimum HMAC secret length in bytes (256 bits for HS256).
const minSecretLen = 32

var (
	// ErrMissingSecret is returned when the signing secret is empty.
	ErrMissingSecret = errors.New("signing secret is not set")
	// ErrWeakSecret is returned when the signing secret is shorter than 32 bytes.
	ErrWeakSecret = errors.New("signing secret must be at least 32 bytes")
)

// LoadSecret returns the HMAC signing secret. s is either the inline secret or
// "file:<path>" to read it from disk; surrounding whitespace and a trailing
// newline in the file are ignored.
func LoadSecret(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrMissingSecret
	}
	var secret []byte
	if path, ok := strings.CutPrefix(s, "file:"); ok {
		b, err := os.ReadFile(strings.TrimSpace(path))
		if err != nil {
			return nil, err
		}
		secret = []byte(strings.TrimSpace(string(b)))
	} else {
		secret = []byte(s)
	}
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	if len(secret) < minSecretLen {
		return nil, ErrWeakSecret
	}
	return secret, nil
}
