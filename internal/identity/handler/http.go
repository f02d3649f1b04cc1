package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	devicesecurity "sitekeeper/internal/device/security"
	"sitekeeper/internal/identity/domain"
	"sitekeeper/internal/identity/service"
	"sitekeeper/internal/security"
	"sitekeeper/internal/server/middleware"
)

// hintHeaders are the optional client hints forwarded to device fingerprinting.
var hintHeaders = []string{
	devicesecurity.HeaderDeviceName,
	devicesecurity.HeaderPlatformHint,
	devicesecurity.HeaderAcceptLanguage,
	devicesecurity.HeaderTimezone,
	devicesecurity.HeaderScreenResolution,
}

// AuthService is the subset of the identity service used by the HTTP handler.
type AuthService interface {
	Login(ctx context.Context, req domain.LoginRequest) (*domain.LoginResult, error)
	Refresh(ctx context.Context, refreshToken string) (*domain.TokenPair, error)
	Logout(ctx context.Context, userID, accessToken string) error
	LogoutAll(ctx context.Context, userID string) (int, error)
	LogoutOthers(ctx context.Context, userID, currentSessionID string) (int, error)
}

// Handler serves /api/auth.
type Handler struct {
	auth AuthService
}

// NewHandler returns an auth handler.
func NewHandler(auth AuthService) *Handler {
	return &Handler{auth: auth}
}

// Register mounts the auth routes on r.
func (h *Handler) Register(r gin.IRouter) {
	g := r.Group("/api/auth")
	g.POST("/login", h.Login)
	g.POST("/refresh", h.Refresh)
	g.POST("/logout", h.Logout)
	g.POST("/logout-all", h.LogoutAll)
	g.POST("/logout-others", h.LogoutOthers)
}

type loginRequest struct {
	Username string `json:"username" binding:"required"`
	Password string `json:"password" binding:"required"`
}

type refreshRequest struct {
	RefreshToken string `json:"refresh_token" binding:"required"`
}

type userView struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Role     string `json:"role"`
}

type riskView struct {
	Score                          int      `json:"score"`
	Level                          string   `json:"level"`
	Factors                        []string `json:"factors"`
	RequiresAdditionalVerification bool     `json:"requires_additional_verification"`
}

type tokenResponse struct {
	AccessToken      string    `json:"access_token"`
	TokenType        string    `json:"token_type"`
	ExpiresIn        int64     `json:"expires_in"`
	ExpiresAt        time.Time `json:"expires_at"`
	RefreshToken     string    `json:"refresh_token"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
	SessionID        string    `json:"session_id"`
	User             userView  `json:"user"`
}

type loginResponse struct {
	tokenResponse
	Risk            riskView `json:"risk"`
	EvictedSessions []string `json:"evicted_sessions"`
}

func tokenView(p *domain.TokenPair) tokenResponse {
	expiresIn := int64(time.Until(p.AccessExpiresAt).Seconds())
	if expiresIn < 0 {
		expiresIn = 0
	}
	return tokenResponse{
		AccessToken:      p.AccessToken,
		TokenType:        "Bearer",
		ExpiresIn:        expiresIn,
		ExpiresAt:        p.AccessExpiresAt,
		RefreshToken:     p.RefreshToken,
		RefreshExpiresAt: p.RefreshExpiresAt,
		SessionID:        p.SessionID,
		User:             userView{ID: p.UserID, Username: p.Username, Role: p.Role},
	}
}

// Login exchanges credentials for a token pair.
func (h *Handler) Login(c *gin.Context) {
	var req loginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, "username and password are required")
		return
	}
	headers := make(map[string]string, len(hintHeaders))
	for _, name := range hintHeaders {
		if v := c.GetHeader(name); v != "" {
			headers[name] = v
		}
	}
	res, err := h.auth.Login(c.Request.Context(), domain.LoginRequest{
		Username:  req.Username,
		Password:  req.Password,
		UserAgent: c.Request.UserAgent(),
		IPAddress: c.ClientIP(),
		Headers:   headers,
	})
	switch {
	case errors.Is(err, service.ErrInvalidCredentials), errors.Is(err, service.ErrLoginBlocked):
		// Blocked logins share the bad-credentials response.
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "invalid username or password")
		return
	case err != nil:
		log.Printf("identity: login: %v", err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, "login failed")
		return
	}
	middleware.MarkAudited(c)
	evicted := res.Evicted
	if evicted == nil {
		evicted = []string{}
	}
	factors := res.Risk.Factors
	if factors == nil {
		factors = []string{}
	}
	c.JSON(http.StatusOK, loginResponse{
		tokenResponse: tokenView(&res.TokenPair),
		Risk: riskView{
			Score:                          res.Risk.Score,
			Level:                          res.Risk.Level,
			Factors:                        factors,
			RequiresAdditionalVerification: res.Risk.RequiresAdditionalVerification,
		},
		EvictedSessions: evicted,
	})
}

// Refresh rotates the refresh token and issues a new access token.
func (h *Handler) Refresh(c *gin.Context) {
	var req refreshRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, "refresh_token is required")
		return
	}
	pair, err := h.auth.Refresh(c.Request.Context(), req.RefreshToken)
	if errors.Is(err, service.ErrInvalidRefreshToken) {
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "invalid or expired refresh token")
		return
	}
	if err != nil {
		log.Printf("identity: refresh: %v", err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, "refresh failed")
		return
	}
	middleware.MarkAudited(c)
	c.JSON(http.StatusOK, tokenView(pair))
}

// Logout ends the caller's current session.
func (h *Handler) Logout(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "authentication required")
		return
	}
	err := h.auth.Logout(c.Request.Context(), id.UserID, middleware.GetAccessToken(c))
	if errors.Is(err, security.ErrInvalidToken) {
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "invalid token")
		return
	}
	if err != nil {
		log.Printf("identity: logout %s: %v", id.UserID, err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, "logout failed")
		return
	}
	middleware.MarkAudited(c)
	c.Status(http.StatusNoContent)
}

// LogoutAll ends every session of the caller, the current one included.
func (h *Handler) LogoutAll(c *gin.Context) {
	h.bulkLogout(c, func(ctx context.Context, id *domain.Identity) (int, error) {
		return h.auth.LogoutAll(ctx, id.UserID)
	})
}

// LogoutOthers ends every session of the caller except the current one.
func (h *Handler) LogoutOthers(c *gin.Context) {
	h.bulkLogout(c, func(ctx context.Context, id *domain.Identity) (int, error) {
		return h.auth.LogoutOthers(ctx, id.UserID, id.SessionID)
	})
}

func (h *Handler) bulkLogout(c *gin.Context, end func(context.Context, *domain.Identity) (int, error)) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "authentication required")
		return
	}
	n, err := end(c.Request.Context(), id)
	if err != nil {
		log.Printf("identity: logout %s: %v", id.UserID, err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, "logout failed")
		return
	}
	middleware.MarkAudited(c)
	c.JSON(http.StatusOK, gin.H{"ended": n})
}
