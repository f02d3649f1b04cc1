package handler

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sitekeeper/internal/audit/domain"
	"sitekeeper/internal/audit/repository"
	"sitekeeper/internal/server/middleware"
)

const (
	defaultPageSize = 50
	maxPageSize     = 100
)

// Handler serves the audit log listing.
type Handler struct {
	repo repository.Repository
}

// NewHandler returns an audit handler reading from repo.
func NewHandler(repo repository.Repository) *Handler {
	return &Handler{repo: repo}
}

// Register mounts GET /api/audit-logs on r.
func (h *Handler) Register(r gin.IRouter) {
	r.GET("/api/audit-logs", h.List)
}

type entryView struct {
	ID        string            `json:"id"`
	UserID    string            `json:"user_id"`
	Action    string            `json:"action"`
	Resource  string            `json:"resource"`
	IP        string            `json:"ip"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
}

// List returns audit entries newest first, filtered by user_id, action and resource query
// parameters and paged with limit and offset.
func (h *Handler) List(c *gin.Context) {
	limit, ok := queryInt(c, "limit", defaultPageSize)
	if !ok {
		return
	}
	if limit > maxPageSize {
		limit = maxPageSize
	}
	offset, ok := queryInt(c, "offset", 0)
	if !ok {
		return
	}
	f := domain.Filter{
		UserID:   c.Query("user_id"),
		Action:   c.Query("action"),
		Resource: c.Query("resource"),
	}
	entries, err := h.repo.List(c.Request.Context(), f, int32(limit), int32(offset))
	if err != nil {
		log.Printf("audit: list: %v", err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, "failed to list audit logs")
		return
	}
	out := make([]entryView, 0, len(entries))
	for _, e := range entries {
		v := entryView{ID: e.ID, UserID: e.UserID, Action: e.Action, Resource: e.Resource, IP: e.IP, CreatedAt: e.CreatedAt}
		if e.Metadata != "" {
			if err := json.Unmarshal([]byte(e.Metadata), &v.Metadata); err != nil {
				v.Metadata = map[string]string{"raw": e.Metadata}
			}
		}
		out = append(out, v)
	}
	next := ""
	if len(entries) == limit {
		next = strconv.Itoa(offset + limit)
	}
	c.JSON(http.StatusOK, gin.H{"entries": out, "next_offset": next})
}

func queryInt(c *gin.Context, name string, def int) (int, bool) {
	raw := c.Query(name)
	if raw == "" {
		return def, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 || (name == "limit" && n == 0) {
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, "invalid "+name)
		return 0, false
	}
	return n, true
}
