package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"sitekeeper/internal/identity/domain"
	"sitekeeper/internal/identity/service"
	"sitekeeper/internal/security"
	"sitekeeper/internal/server/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeAuth struct {
	lastLogin  domain.LoginRequest
	loginErr   error
	refreshErr error
	logoutErr  error
	loggedOut  []string
	others     string
}

func (f *fakeAuth) Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error) {
	f.lastLogin = req
	if f.loginErr != nil {
		return nil, f.loginErr
	}
	return &domain.LoginResult{
		TokenPair: domain.TokenPair{
			AccessToken:     "access",
			AccessExpiresAt: time.Now().Add(time.Hour),
			RefreshToken:    "refresh",
			SessionID:       "s1",
			UserID:          "u1",
			Username:        req.Username,
			Role:            "User",
		},
		Risk:    domain.RiskSummary{Score: 30, Level: "Medium", Factors: []string{"new_device"}},
		Evicted: []string{"s0"},
	}, nil
}

func (f *fakeAuth) Refresh(ctx context.Context, token string) (*domain.TokenPair, error) {
	if f.refreshErr != nil {
		return nil, f.refreshErr
	}
	return &domain.TokenPair{AccessToken: "access2", RefreshToken: "refresh2", SessionID: "s1", UserID: "u1"}, nil
}

func (f *fakeAuth) Logout(ctx context.Context, userID, token string) error {
	f.loggedOut = append(f.loggedOut, userID+":"+token)
	return f.logoutErr
}

func (f *fakeAuth) LogoutAll(ctx context.Context, userID string) (int, error) {
	return 3, nil
}

func (f *fakeAuth) LogoutOthers(ctx context.Context, userID, current string) (int, error) {
	f.others = current
	return 2, nil
}

func newRouter(auth AuthService) *gin.Engine {
	r := gin.New()
	r.Use(func(c *gin.Context) {
		if c.GetHeader("Authorization") == "Bearer good" {
			middleware.SetIdentity(c, &domain.Identity{UserID: "u1", SessionID: "s1"}, "good")
		}
		c.Next()
	})
	NewHandler(auth).Register(r)
	return r
}

func post(r http.Handler, path, body, token string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestLogin_Success(t *testing.T) {
	auth := &fakeAuth{}
	w := post(newRouter(auth), "/api/auth/login", `{"username":"alice","password":"pw"}`, "", map[string]string{
		"User-Agent":    "Mozilla/5.0",
		"X-Device-Name": "Alice laptop",
		"X-Timezone":    "Europe/Paris",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", w.Code, w.Body)
	}
	var body struct {
		AccessToken     string   `json:"access_token"`
		TokenType       string   `json:"token_type"`
		ExpiresIn       int64    `json:"expires_in"`
		SessionID       string   `json:"session_id"`
		EvictedSessions []string `json:"evicted_sessions"`
		Risk            struct {
			Score   int      `json:"score"`
			Level   string   `json:"level"`
			Factors []string `json:"factors"`
		} `json:"risk"`
		User struct {
			Username string `json:"username"`
		} `json:"user"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.AccessToken != "access" || body.TokenType != "Bearer" || body.SessionID != "s1" || body.User.Username != "alice" {
		t.Errorf("body = %+v", body)
	}
	if body.ExpiresIn <= 0 || body.ExpiresIn > 3600 {
		t.Errorf("expires_in = %d", body.ExpiresIn)
	}
	if body.Risk.Level != "Medium" || len(body.Risk.Factors) != 1 || len(body.EvictedSessions) != 1 {
		t.Errorf("risk/evicted = %+v", body)
	}
	if auth.lastLogin.UserAgent != "Mozilla/5.0" || auth.lastLogin.IPAddress == "" {
		t.Errorf("client context = %+v", auth.lastLogin)
	}
	if auth.lastLogin.Headers["X-Device-Name"] != "Alice laptop" || auth.lastLogin.Headers["X-Timezone"] != "Europe/Paris" {
		t.Errorf("hints = %v", auth.lastLogin.Headers)
	}
	if _, ok := auth.lastLogin.Headers["Accept-Language"]; ok {
		t.Error("absent hint should not be forwarded")
	}
}

func TestLogin_Errors(t *testing.T) {
	testCases := []struct {
		name   string
		body   string
		err    error
		status int
		code   string
	}{
		{"missing password", `{"username":"alice"}`, nil, http.StatusBadRequest, middleware.CodeBadRequest},
		{"malformed", `{`, nil, http.StatusBadRequest, middleware.CodeBadRequest},
		{"bad credentials", `{"username":"alice","password":"x"}`, service.ErrInvalidCredentials, http.StatusUnauthorized, middleware.CodeUnauthorized},
		{"blocked", `{"username":"alice","password":"x"}`, service.ErrLoginBlocked, http.StatusUnauthorized, middleware.CodeUnauthorized},
		{"infrastructure", `{"username":"alice","password":"x"}`, errors.New("db down"), http.StatusInternalServerError, middleware.CodeInternal},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			w := post(newRouter(&fakeAuth{loginErr: tc.err}), "/api/auth/login", tc.body, "", nil)
			if w.Code != tc.status {
				t.Fatalf("status = %d, want %d", w.Code, tc.status)
			}
			var body middleware.ErrorBody
			_ = json.Unmarshal(w.Body.Bytes(), &body)
			if body.Code != tc.code {
				t.Errorf("code = %q, want %q", body.Code, tc.code)
			}
		})
	}
}

func TestLogin_UnknownUserAndWrongPasswordLookAlike(t *testing.T) {
	r := newRouter(&fakeAuth{loginErr: service.ErrInvalidCredentials})
	a := post(r, "/api/auth/login", `{"username":"ghost","password":"x"}`, "", nil)
	b := post(r, "/api/auth/login", `{"username":"alice","password":"wrong"}`, "", nil)
	if a.Code != b.Code || a.Body.String() != b.Body.String() {
		t.Errorf("responses differ: %d %s vs %d %s", a.Code, a.Body, b.Code, b.Body)
	}
}

func TestLogin_BlockedLooksLikeBadCredentials(t *testing.T) {
	blocked := post(newRouter(&fakeAuth{loginErr: service.ErrLoginBlocked}), "/api/auth/login", `{"username":"alice","password":"right"}`, "", nil)
	wrong := post(newRouter(&fakeAuth{loginErr: service.ErrInvalidCredentials}), "/api/auth/login", `{"username":"alice","password":"wrong"}`, "", nil)
	if blocked.Code != wrong.Code || blocked.Body.String() != wrong.Body.String() {
		t.Errorf("responses differ: %d %s vs %d %s", blocked.Code, blocked.Body, wrong.Code, wrong.Body)
	}
}

func TestRefresh(t *testing.T) {
	w := post(newRouter(&fakeAuth{}), "/api/auth/refresh", `{"refresh_token":"r"}`, "", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"refresh_token":"refresh2"`) {
		t.Errorf("status = %d, body %s", w.Code, w.Body)
	}
	w = post(newRouter(&fakeAuth{refreshErr: service.ErrInvalidRefreshToken}), "/api/auth/refresh", `{"refresh_token":"r"}`, "", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("rotated token status = %d", w.Code)
	}
	w = post(newRouter(&fakeAuth{}), "/api/auth/refresh", `{}`, "", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing token status = %d", w.Code)
	}
}

func TestLogout(t *testing.T) {
	auth := &fakeAuth{}
	r := newRouter(auth)
	if w := post(r, "/api/auth/logout", "", "", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("anonymous status = %d", w.Code)
	}
	if w := post(r, "/api/auth/logout", "", "good", nil); w.Code != http.StatusNoContent {
		t.Errorf("status = %d", w.Code)
	}
	if len(auth.loggedOut) != 1 || auth.loggedOut[0] != "u1:good" {
		t.Errorf("logout calls = %v", auth.loggedOut)
	}
	auth.logoutErr = security.ErrInvalidToken
	if w := post(r, "/api/auth/logout", "", "good", nil); w.Code != http.StatusUnauthorized {
		t.Errorf("invalid token status = %d", w.Code)
	}
}

func TestBulkLogout(t *testing.T) {
	auth := &fakeAuth{}
	r := newRouter(auth)
	w := post(r, "/api/auth/logout-all", "", "good", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ended":3`) {
		t.Errorf("logout-all = %d %s", w.Code, w.Body)
	}
	w = post(r, "/api/auth/logout-others", "", "good", nil)
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"ended":2`) {
		t.Errorf("logout-others = %d %s", w.Code, w.Body)
	}
	if auth.others != "s1" {
		t.Errorf("kept session = %q, want s1", auth.others)
	}
}
