package audit

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"sitekeeper/internal/audit/domain"
)

// mockAuditRepo implements the audit repository interface for tests.
type mockAuditRepo struct {
	entries   []*domain.AuditLog
	createErr error
}

func (m *mockAuditRepo) Create(ctx context.Context, entry *domain.AuditLog) error {
	if m.createErr != nil {
		return m.createErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *mockAuditRepo) List(ctx context.Context, f domain.Filter, limit, offset int32) ([]*domain.AuditLog, error) {
	return m.entries, nil
}

func TestLogger_LogEvent_Success(t *testing.T) {
	repo := &mockAuditRepo{}
	logger := NewLogger(repo, func(ctx context.Context) string { return "192.168.1.1" })
	fixed := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	logger.now = func() time.Time { return fixed }

	logger.LogEvent(context.Background(), "user-1", domain.ActionLogin, "session", map[string]string{"session_id": "s1"})

	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	entry := repo.entries[0]
	if entry.UserID != "user-1" || entry.Action != "login" || entry.Resource != "session" {
		t.Errorf("entry = %+v", entry)
	}
	if entry.IP != "192.168.1.1" {
		t.Errorf("ip = %q, want %q", entry.IP, "192.168.1.1")
	}
	var meta map[string]string
	if err := json.Unmarshal([]byte(entry.Metadata), &meta); err != nil || meta["session_id"] != "s1" {
		t.Errorf("metadata = %q (%v)", entry.Metadata, err)
	}
	if entry.ID == "" {
		t.Error("entry ID should be set")
	}
	if !entry.CreatedAt.Equal(fixed) {
		t.Errorf("created_at = %v, want %v", entry.CreatedAt, fixed)
	}
}

func TestLogger_LogEvent_NoExtractorNoMetadata(t *testing.T) {
	repo := &mockAuditRepo{}
	NewLogger(repo, nil).LogEvent(context.Background(), "", domain.ActionLoginFailed, "session", nil)
	if len(repo.entries) != 1 {
		t.Fatalf("expected 1 entry, got %d", len(repo.entries))
	}
	if repo.entries[0].IP != "unknown" {
		t.Errorf("ip = %q, want unknown", repo.entries[0].IP)
	}
	if repo.entries[0].Metadata != "" {
		t.Errorf("metadata = %q, want empty", repo.entries[0].Metadata)
	}
}

func TestLogger_LogEvent_RepoErrorIsSwallowed(t *testing.T) {
	repo := &mockAuditRepo{createErr: errors.New("db down")}
	NewLogger(repo, nil).LogEvent(context.Background(), "u", domain.ActionLogout, "session", nil)
	if len(repo.entries) != 0 {
		t.Error("no entry should be stored on error")
	}
}

func TestLogger_NilSafe(t *testing.T) {
	var l *Logger
	l.LogEvent(context.Background(), "u", domain.ActionLogout, "session", nil)
	NewLogger(nil, nil).LogEvent(context.Background(), "u", domain.ActionLogout, "session", nil)
}
