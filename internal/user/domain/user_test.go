package domain

import "testing"

func TestUser_Validate(t *testing.T) {
	tests := []struct {
		name    string
		user    User
		wantErr bool
	}{
		{"valid", User{ID: "u1", Username: "alice", PasswordHash: "$2a$"}, false},
		{"missing id", User{Username: "alice", PasswordHash: "$2a$"}, true},
		{"blank username", User{ID: "u1", Username: "  ", PasswordHash: "$2a$"}, true},
		{"missing hash", User{ID: "u1", Username: "alice"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.user.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() err = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestNormalizeUsername(t *testing.T) {
	if got := NormalizeUsername("  Alice "); got != "alice" {
		t.Errorf("NormalizeUsername = %q, want alice", got)
	}
}
