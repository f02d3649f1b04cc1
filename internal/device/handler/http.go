package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"sitekeeper/internal/audit"
	auditdomain "sitekeeper/internal/audit/domain"
	"sitekeeper/internal/device/domain"
	"sitekeeper/internal/device/security"
	"sitekeeper/internal/server/middleware"
	sessiondomain "sitekeeper/internal/session/domain"
	"sitekeeper/internal/telemetry"
	telemetrydomain "sitekeeper/internal/telemetry/domain"
)

// DeviceSecurity is the subset of the device security service used by the handler.
type DeviceSecurity interface {
	TrustDevice(ctx context.Context, userID, fingerprint, name string) (bool, error)
	RevokeTrust(ctx context.Context, userID, fingerprint string) (bool, error)
	ListTrustedDevices(ctx context.Context, userID string) ([]*domain.TrustedDevice, error)
	DetectSuspiciousActivity(ctx context.Context, userID string) ([]domain.SuspiciousActivity, error)
	TerminateSuspiciousSessions(ctx context.Context, userID string, reason sessiondomain.EndReason) (int, error)
}

// SessionLookup finds the caller's current session so its device can be trusted.
type SessionLookup interface {
	GetByID(sessionID string) (*sessiondomain.Session, bool)
}

// Handler serves trusted devices and suspicious activity routes.
type Handler struct {
	devices  DeviceSecurity
	sessions SessionLookup
	audit    audit.AuditLogger
	events   telemetry.EventEmitter
}

// NewHandler returns a device handler. auditLogger and events may be nil.
func NewHandler(devices DeviceSecurity, sessions SessionLookup, auditLogger audit.AuditLogger, events telemetry.EventEmitter) *Handler {
	if auditLogger == nil {
		auditLogger = audit.Nop{}
	}
	return &Handler{devices: devices, sessions: sessions, audit: auditLogger, events: events}
}

// Register mounts the device routes on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/api/me/devices", h.ListTrusted)
	r.POST("/api/me/devices/trust", h.Trust)
	r.POST("/api/me/devices/revoke", h.Revoke)
	r.GET("/api/me/security/suspicious", h.SuspiciousMine)
	r.POST("/api/me/security/terminate", h.TerminateMine)
	r.GET("/api/users/:id/security/suspicious", h.SuspiciousUser)
	r.POST("/api/users/:id/security/terminate", h.TerminateUser)
}

type trustedDeviceView struct {
	Fingerprint string     `json:"fingerprint"`
	Name        string     `json:"name"`
	TrustedAt   time.Time  `json:"trusted_at"`
	LastSeenAt  *time.Time `json:"last_seen_at,omitempty"`
	Current     bool       `json:"current"`
}

type suspiciousView struct {
	Kind       string    `json:"kind"`
	SessionIDs []string  `json:"session_ids"`
	Locations  []string  `json:"locations"`
	DistanceKm float64   `json:"distance_km,omitempty"`
	Detail     string    `json:"detail"`
	DetectedAt time.Time `json:"detected_at"`
}

type trustRequest struct {
	Fingerprint string `json:"fingerprint"`
	Name        string `json:"name"`
}

type revokeRequest struct {
	Fingerprint string `json:"fingerprint" binding:"required"`
}

// ListTrusted returns the caller's trusted devices, flagging the one in use.
func (h *Handler) ListTrusted(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "authentication required")
		return
	}
	devices, err := h.devices.ListTrustedDevices(c.Request.Context(), id.UserID)
	if err != nil {
		log.Printf("device: list trusted for %s: %v", id.UserID, err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, "failed to list devices")
		return
	}
	current := ""
	if sess, ok := h.sessions.GetByID(id.SessionID); ok {
		current = sess.DeviceFingerprint
	}
	out := make([]trustedDeviceView, 0, len(devices))
	for _, d := range devices {
		out = append(out, trustedDeviceView{
			Fingerprint: d.Fingerprint,
			Name:        d.Name,
			TrustedAt:   d.TrustedAt,
			LastSeenAt:  d.LastSeenAt,
			Current:     d.Fingerprint == current,
		})
	}
	c.JSON(http.StatusOK, gin.H{"devices": out})
}

// Trust marks a device as trusted. Without a fingerprint in the body the current session's device is used.
func (h *Handler) Trust(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "authentication required")
		return
	}
	var req trustRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, "invalid request body")
			return
		}
	}
	if strings.TrimSpace(req.Fingerprint) == "" {
		sess, ok := h.sessions.GetByID(id.SessionID)
		if !ok || sess.DeviceFingerprint == "" {
			middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, "current device unknown, fingerprint required")
			return
		}
		req.Fingerprint = sess.DeviceFingerprint
		if req.Name == "" {
			req.Name = sess.DeviceName
		}
	}
	created, err := h.devices.TrustDevice(c.Request.Context(), id.UserID, req.Fingerprint, req.Name)
	if errors.Is(err, security.ErrInvalidDevice) {
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Printf("device: trust for %s: %v", id.UserID, err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, "failed to trust device")
		return
	}
	if created {
		h.audit.LogEvent(c.Request.Context(), id.UserID, auditdomain.ActionDeviceTrusted, "device", map[string]string{"fingerprint": req.Fingerprint})
		ev := telemetrydomain.NewEvent(telemetrydomain.EventDeviceTrusted, "http")
		ev.UserID, ev.SessionID, ev.IP = id.UserID, id.SessionID, c.ClientIP()
		telemetry.EmitAsync(h.events, ev.With("fingerprint", req.Fingerprint))
	}
	middleware.MarkAudited(c)
	c.JSON(http.StatusOK, gin.H{"fingerprint": req.Fingerprint, "trusted": true, "created": created})
}

// Revoke removes trust from a device of the caller. Revoking an untrusted device is a no-op.
func (h *Handler) Revoke(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "authentication required")
		return
	}
	var req revokeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, "fingerprint is required")
		return
	}
	removed, err := h.devices.RevokeTrust(c.Request.Context(), id.UserID, req.Fingerprint)
	if errors.Is(err, security.ErrInvalidDevice) {
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, err.Error())
		return
	}
	if err != nil {
		log.Printf("device: revoke trust for %s: %v", id.UserID, err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, "failed to revoke trust")
		return
	}
	if removed {
		h.audit.LogEvent(c.Request.Context(), id.UserID, auditdomain.ActionDeviceUntrusted, "device", map[string]string{"fingerprint": req.Fingerprint})
		ev := telemetrydomain.NewEvent(telemetrydomain.EventDeviceTrustRevoked, "http")
		ev.UserID, ev.SessionID, ev.IP = id.UserID, id.SessionID, c.ClientIP()
		telemetry.EmitAsync(h.events, ev.With("fingerprint", req.Fingerprint))
	}
	middleware.MarkAudited(c)
	c.JSON(http.StatusOK, gin.H{"removed": removed})
}

// SuspiciousMine lists anomalies among the caller's active sessions.
func (h *Handler) SuspiciousMine(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "authentication required")
		return
	}
	h.suspicious(c, id.UserID)
}

// SuspiciousUser lists anomalies among the active sessions of the user in the path.
func (h *Handler) SuspiciousUser(c *gin.Context) {
	h.suspicious(c, c.Param("id"))
}

func (h *Handler) suspicious(c *gin.Context, userID string) {
	findings, err := h.devices.DetectSuspiciousActivity(c.Request.Context(), userID)
	if err != nil {
		log.Printf("device: detect suspicious for %s: %v", userID, err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, "detection failed")
		return
	}
	out := make([]suspiciousView, 0, len(findings))
	for _, f := range findings {
		out = append(out, suspiciousView{
			Kind:       string(f.Kind),
			SessionIDs: f.SessionIDs,
			Locations:  f.Locations,
			DistanceKm: f.DistanceKm,
			Detail:     f.Detail,
			DetectedAt: f.DetectedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"findings": out})
}

// TerminateMine ends every flagged session of the caller.
func (h *Handler) TerminateMine(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "authentication required")
		return
	}
	h.terminate(c, id.UserID, id.UserID)
}

// TerminateUser ends every flagged session of the user in the path.
func (h *Handler) TerminateUser(c *gin.Context) {
	actor := ""
	if id, ok := middleware.GetIdentity(c); ok {
		actor = id.UserID
	}
	h.terminate(c, c.Param("id"), actor)
}

func (h *Handler) terminate(c *gin.Context, userID, actor string) {
	n, err := h.devices.TerminateSuspiciousSessions(c.Request.Context(), userID, sessiondomain.EndRevoked)
	if err != nil {
		log.Printf("device: terminate suspicious for %s: %v", userID, err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, "failed to terminate sessions")
		return
	}
	if n > 0 {
		h.audit.LogEvent(c.Request.Context(), userID, auditdomain.ActionSuspiciousEnded, "session", map[string]string{
			"count": strconv.Itoa(n), "actor": actor,
		})
		ev := telemetrydomain.NewEvent(telemetrydomain.EventSuspiciousTerminated, "http")
		ev.UserID, ev.IP = userID, c.ClientIP()
		telemetry.EmitAsync(h.events, ev.With("count", strconv.Itoa(n)).With("actor", actor))
	}
	middleware.MarkAudited(c)
	c.JSON(http.StatusOK, gin.H{"ended": n})
}
