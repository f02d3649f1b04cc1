package domain

import (
	"testing"
	"time"
)

func TestUserRole_EffectiveAt(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	past := now.Add(-time.Hour)
	future := now.Add(time.Hour)
	testCases := []struct {
		name string
		ur   *UserRole
		want bool
	}{
		{"nil", nil, false},
		{"inactive", &UserRole{IsActive: false}, false},
		{"open ended", &UserRole{IsActive: true}, true},
		{"not yet valid", &UserRole{IsActive: true, ValidFrom: future}, false},
		{"expired", &UserRole{IsActive: true, ValidTo: &past}, false},
		{"inside window", &UserRole{IsActive: true, ValidFrom: past, ValidTo: &future}, true},
		{"boundary from", &UserRole{IsActive: true, ValidFrom: now}, true},
		{"boundary to", &UserRole{IsActive: true, ValidTo: &now}, true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.ur.EffectiveAt(now); got != tc.want {
				t.Errorf("EffectiveAt = %v, want %v", got, tc.want)
			}
		})
	}
}

func TestSplitPermissionName(t *testing.T) {
	testCases := []struct {
		in       string
		resource string
		action   string
		ok       bool
	}{
		{"sessions.read", "sessions", "read", true},
		{"blog.posts.publish", "blog.posts", "publish", true},
		{"nodot", "", "", false},
		{".read", "", "", false},
		{"roles.", "", "", false},
	}
	for _, tc := range testCases {
		r, a, ok := SplitPermissionName(tc.in)
		if r != tc.resource || a != tc.action || ok != tc.ok {
			t.Errorf("SplitPermissionName(%q) = %q, %q, %v", tc.in, r, a, ok)
		}
	}
}
