package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	identitydomain "sitekeeper/internal/identity/domain"
	"sitekeeper/internal/server/middleware"
	"sitekeeper/internal/session/domain"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeSessions struct {
	byUser    map[string][]*domain.Session
	heartbeat map[string]bool
	err       error
}

func (f *fakeSessions) ListActive(userID string) []*domain.Session {
	var out []*domain.Session
	for _, s := range f.byUser[userID] {
		if s.IsActive {
			out = append(out, s)
		}
	}
	return out
}

func (f *fakeSessions) ListAll(userID string) []*domain.Session {
	return f.byUser[userID]
}

func (f *fakeSessions) UpdateLastActive(ctx context.Context, sessionID string) (bool, error) {
	return f.heartbeat[sessionID], f.err
}

type revokeCall struct{ sessionID, ownerID string }

type fakeRevoker struct {
	calls     []revokeCall
	userCalls []string
	err       error
}

func (f *fakeRevoker) RevokeSession(ctx context.Context, sessionID, ownerID string) (bool, error) {
	f.calls = append(f.calls, revokeCall{sessionID, ownerID})
	return sessionID == "s2", f.err
}

func (f *fakeRevoker) RevokeUserSessions(ctx context.Context, userID string) (int, error) {
	f.userCalls = append(f.userCalls, userID)
	return 4, f.err
}

func fixture() *fakeSessions {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	ended := now.Add(-time.Hour)
	return &fakeSessions{
		byUser: map[string][]*domain.Session{
			"u1": {
				{ID: "s1", UserID: "u1", DeviceType: domain.DeviceDesktop, IsActive: true, CreatedAt: now, ExpiresAt: now.Add(time.Hour), RefreshTokenHash: "secret-hash"},
				{ID: "s2", UserID: "u1", DeviceType: domain.DeviceMobile, IsActive: true, CreatedAt: now.Add(-time.Minute), ExpiresAt: now.Add(time.Hour)},
				{ID: "s0", UserID: "u1", IsActive: false, EndedAt: &ended, EndReason: domain.EndLogout},
			},
		},
		heartbeat: map[string]bool{"s1": true},
	}
}

func newRouter(sessions SessionReader, revoker Revoker) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("Authorization") == "Bearer good" {
			middleware.SetIdentity(c, &identitydomain.Identity{UserID: "u1", SessionID: "s1"}, "good")
		}
		c.Next()
	})
	NewHandler(sessions, revoker).Register(r)
	return r
}

func do(r http.Handler, method, path string, authed bool) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if authed {
		req.Header.Set("Authorization", "Bearer good")
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeSessions(t *testing.T, w *httptest.ResponseRecorder) []map[string]interface{} {
	t.Helper()
	var body struct {
		Sessions []map[string]interface{} `json:"sessions"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode %s: %v", w.Body, err)
	}
	return body.Sessions
}

func TestListMine(t *testing.T) {
	r := newRouter(fixture(), &fakeRevoker{})
	w := do(r, http.MethodGet, "/api/me/sessions", true)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	got := decodeSessions(t, w)
	if len(got) != 2 {
		t.Fatalf("active sessions = %d, want 2", len(got))
	}
	if got[0]["id"] != "s1" || got[0]["current"] != true || got[1]["current"] != false {
		t.Errorf("sessions = %v", got)
	}
	if _, leaked := got[0]["refresh_token_hash"]; leaked {
		t.Error("refresh token hash must not be exposed")
	}

	all := decodeSessions(t, do(r, http.MethodGet, "/api/me/sessions/all", true))
	if len(all) != 3 || all[2]["end_reason"] != "Logout" {
		t.Errorf("all sessions = %v", all)
	}
	if w := do(r, http.MethodGet, "/api/me/sessions", false); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d", w.Code)
	}
}

func TestHeartbeat(t *testing.T) {
	sessions := fixture()
	r := newRouter(sessions, &fakeRevoker{})
	if w := do(r, http.MethodPost, "/api/me/sessions/heartbeat", true); w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
	sessions.heartbeat["s1"] = false
	if w := do(r, http.MethodPost, "/api/me/sessions/heartbeat", true); w.Code != http.StatusNotFound {
		t.Errorf("inactive status = %d", w.Code)
	}
	sessions.err = errors.New("db down")
	if w := do(r, http.MethodPost, "/api/me/sessions/heartbeat", true); w.Code != http.StatusInternalServerError {
		t.Errorf("error status = %d", w.Code)
	}
}

func TestEndMine_ScopedToCaller(t *testing.T) {
	rev := &fakeRevoker{}
	r := newRouter(fixture(), rev)
	for _, id := range []string{"s2", "unknown"} {
		if w := do(r, http.MethodDelete, "/api/me/sessions/"+id, true); w.Code != http.StatusNoContent {
			t.Errorf("DELETE %s status = %d", id, w.Code)
		}
	}
	if len(rev.calls) != 2 || rev.calls[0] != (revokeCall{"s2", "u1"}) {
		t.Errorf("calls = %v", rev.calls)
	}
}

func TestAdminRoutes(t *testing.T) {
	rev := &fakeRevoker{}
	r := newRouter(fixture(), rev)

	if got := decodeSessions(t, do(r, http.MethodGet, "/api/users/u1/sessions", true)); len(got) != 3 {
		t.Errorf("user sessions = %d", len(got))
	}
	w := do(r, http.MethodDelete, "/api/sessions/s2", true)
	if w.Code != http.StatusOK || w.Body.String() != `{"revoked":true}` {
		t.Errorf("revoke = %d %s", w.Code, w.Body)
	}
	w = do(r, http.MethodDelete, "/api/sessions/s9", true)
	if w.Code != http.StatusOK || w.Body.String() != `{"revoked":false}` {
		t.Errorf("revoke unknown = %d %s", w.Code, w.Body)
	}
	if rev.calls[0].ownerID != "" {
		t.Errorf("admin revoke should not scope by owner: %v", rev.calls[0])
	}
	w = do(r, http.MethodPost, "/api/users/u7/sessions/revoke", true)
	if w.Code != http.StatusOK || w.Body.String() != `{"ended":4}` || rev.userCalls[0] != "u7" {
		t.Errorf("revoke user = %d %s %v", w.Code, w.Body, rev.userCalls)
	}
	rev.err = errors.New("db down")
	if w := do(r, http.MethodDelete, "/api/sessions/s2", true); w.Code != http.StatusInternalServerError {
		t.Errorf("error status = %d", w.Code)
	}
}
