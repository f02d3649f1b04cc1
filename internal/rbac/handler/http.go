// Package handler exposes role and permission administration over HTTP.
package handler

import (
	"context"
	"errors"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"sitekeeper/internal/rbac/domain"
	"sitekeeper/internal/rbac/service"
	"sitekeeper/internal/server/middleware"
)

// Admin is the role and permission administration API.
type Admin interface {
	ListRoles(ctx context.Context) ([]*domain.Role, error)
	GetRole(ctx context.Context, id int64) (*domain.Role, error)
	CreateRole(ctx context.Context, in service.RoleInput) (*domain.Role, error)
	UpdateRole(ctx context.Context, id int64, in service.RoleInput) (*domain.Role, error)
	DeleteRole(ctx context.Context, id int64) error
	ListPermissions(ctx context.Context) ([]*domain.Permission, error)
	GetPermission(ctx context.Context, id int64) (*domain.Permission, error)
	CreatePermission(ctx context.Context, in service.PermissionInput) (*domain.Permission, error)
	UpdatePermission(ctx context.Context, id int64, in service.PermissionInput) (*domain.Permission, error)
	DeletePermission(ctx context.Context, id int64) error
	ListRolePermissions(ctx context.Context, roleID int64) ([]*domain.Permission, error)
	GrantPermission(ctx context.Context, roleID, permissionID int64) error
	RevokePermission(ctx context.Context, roleID, permissionID int64) (bool, error)
	ListUserRoles(ctx context.Context, userID string) ([]*domain.UserRole, error)
	AssignRole(ctx context.Context, in service.AssignRoleInput) (*domain.UserRole, error)
	RevokeRole(ctx context.Context, userID string, roleID int64) error
}

// PermissionLister returns a user's effective permissions.
type PermissionLister interface {
	EffectivePermissions(ctx context.Context, userID string) ([]string, error)
}

// Handler serves /api/roles, /api/permissions, /api/users/:id/roles and /api/me/permissions.
type Handler struct {
	admin Admin
	perms PermissionLister
}

// NewHandler returns an RBAC handler.
func NewHandler(admin Admin, perms PermissionLister) *Handler {
	return &Handler{admin: admin, perms: perms}
}

// Register mounts the RBAC routes on r.
func (h *Handler) Register(r gin.IRouter) {
	roles := r.Group("/api/roles")
	roles.GET("", h.ListRoles)
	roles.POST("", h.CreateRole)
	roles.GET("/:id", h.GetRole)
	roles.PUT("/:id", h.UpdateRole)
	roles.DELETE("/:id", h.DeleteRole)
	roles.GET("/:id/permissions", h.ListRolePermissions)
	roles.POST("/:id/permissions", h.GrantPermission)
	roles.DELETE("/:id/permissions/:permissionId", h.RevokePermission)

	perms := r.Group("/api/permissions")
	perms.GET("", h.ListPermissions)
	perms.POST("", h.CreatePermission)
	perms.GET("/:id", h.GetPermission)
	perms.PUT("/:id", h.UpdatePermission)
	perms.DELETE("/:id", h.DeletePermission)

	r.GET("/api/users/:id/roles", h.ListUserRoles)
	r.POST("/api/users/:id/roles", h.AssignRole)
	r.DELETE("/api/users/:id/roles/:roleId", h.RevokeRole)

	r.GET("/api/me/permissions", h.MyPermissions)
}

type roleRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	IsActive    *bool  `json:"is_active"`
}

func (req roleRequest) input() service.RoleInput {
	return service.RoleInput{
		Name:        req.Name,
		Description: req.Description,
		Priority:    req.Priority,
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
}

type permissionRequest struct {
	Name        string `json:"name" binding:"required"`
	Description string `json:"description"`
	Category    string `json:"category"`
	Resource    string `json:"resource"`
	Action      string `json:"action"`
	IsActive    *bool  `json:"is_active"`
}

func (req permissionRequest) input() service.PermissionInput {
	return service.PermissionInput{
		Name:        req.Name,
		Description: req.Description,
		Category:    req.Category,
		Resource:    req.Resource,
		Action:      req.Action,
		IsActive:    req.IsActive == nil || *req.IsActive,
	}
}

type grantRequest struct {
	PermissionID int64 `json:"permission_id" binding:"required"`
}

type assignRequest struct {
	RoleID    int64      `json:"role_id" binding:"required"`
	IsPrimary bool       `json:"is_primary"`
	ValidFrom *time.Time `json:"valid_from"`
	ValidTo   *time.Time `json:"valid_to"`
}

type roleView struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	Description  string    `json:"description"`
	Priority     int       `json:"priority"`
	IsActive     bool      `json:"is_active"`
	IsSystemRole bool      `json:"is_system_role"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

type permissionView struct {
	ID                 int64  `json:"id"`
	Name               string `json:"name"`
	Description        string `json:"description"`
	Category           string `json:"category"`
	Resource           string `json:"resource"`
	Action             string `json:"action"`
	IsActive           bool   `json:"is_active"`
	IsSystemPermission bool   `json:"is_system_permission"`
}

type userRoleView struct {
	UserID     string     `json:"user_id"`
	RoleID     int64      `json:"role_id"`
	IsPrimary  bool       `json:"is_primary"`
	IsActive   bool       `json:"is_active"`
	ValidFrom  time.Time  `json:"valid_from"`
	ValidTo    *time.Time `json:"valid_to,omitempty"`
	AssignedBy string     `json:"assigned_by,omitempty"`
	AssignedAt time.Time  `json:"assigned_at"`
}

func toRoleView(r *domain.Role) roleView {
	return roleView{
		ID: r.ID, Name: r.Name, Description: r.Description, Priority: r.Priority,
		IsActive: r.IsActive, IsSystemRole: r.IsSystemRole, CreatedAt: r.CreatedAt, UpdatedAt: r.UpdatedAt,
	}
}

func toPermissionView(p *domain.Permission) permissionView {
	return permissionView{
		ID: p.ID, Name: p.Name, Description: p.Description, Category: p.Category, Resource: p.Resource,
		Action: p.Action, IsActive: p.IsActive, IsSystemPermission: p.IsSystemPermission,
	}
}

func toPermissionViews(perms []*domain.Permission) []permissionView {
	out := make([]permissionView, 0, len(perms))
	for _, p := range perms {
		out = append(out, toPermissionView(p))
	}
	return out
}

// fail maps service errors to HTTP responses.
func fail(c *gin.Context, op string, err error) {
	switch {
	case errors.Is(err, service.ErrRoleNotFound), errors.Is(err, service.ErrPermissionNotFound):
		middleware.Abort(c, http.StatusNotFound, middleware.CodeNotFound, err.Error())
	case errors.Is(err, service.ErrRoleNameTaken), errors.Is(err, service.ErrPermissionNameTaken),
		errors.Is(err, service.ErrSystemRole), errors.Is(err, service.ErrSystemPermission):
		middleware.Abort(c, http.StatusConflict, middleware.CodeConflict, err.Error())
	case errors.Is(err, service.ErrInvalidName), errors.Is(err, service.ErrInvalidPermission),
		errors.Is(err, service.ErrInvalidWindow):
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, err.Error())
	default:
		log.Printf("rbac: %s: %v", op, err)
		middleware.Abort(c, http.StatusInternalServerError, middleware.CodeInternal, op+" failed")
	}
}

func paramID(c *gin.Context, name string) (int64, bool) {
	id, err := strconv.ParseInt(c.Param(name), 10, 64)
	if err != nil || id <= 0 {
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, "invalid "+name)
		return 0, false
	}
	return id, true
}

// ListRoles returns all roles.
func (h *Handler) ListRoles(c *gin.Context) {
	roles, err := h.admin.ListRoles(c.Request.Context())
	if err != nil {
		fail(c, "list roles", err)
		return
	}
	out := make([]roleView, 0, len(roles))
	for _, r := range roles {
		out = append(out, toRoleView(r))
	}
	c.JSON(http.StatusOK, gin.H{"roles": out})
}

// GetRole returns one role.
func (h *Handler) GetRole(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	role, err := h.admin.GetRole(c.Request.Context(), id)
	if err != nil {
		fail(c, "get role", err)
		return
	}
	c.JSON(http.StatusOK, toRoleView(role))
}

// CreateRole adds a role.
func (h *Handler) CreateRole(c *gin.Context) {
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, "name is required")
		return
	}
	role, err := h.admin.CreateRole(c.Request.Context(), req.input())
	if err != nil {
		fail(c, "create role", err)
		return
	}
	c.JSON(http.StatusCreated, toRoleView(role))
}

// UpdateRole replaces a role's writable fields.
func (h *Handler) UpdateRole(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req roleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, "name is required")
		return
	}
	role, err := h.admin.UpdateRole(c.Request.Context(), id, req.input())
	if err != nil {
		fail(c, "update role", err)
		return
	}
	c.JSON(http.StatusOK, toRoleView(role))
}

// DeleteRole removes a non-system role.
func (h *Handler) DeleteRole(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.admin.DeleteRole(c.Request.Context(), id); err != nil {
		fail(c, "delete role", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListPermissions returns all permissions.
func (h *Handler) ListPermissions(c *gin.Context) {
	perms, err := h.admin.ListPermissions(c.Request.Context())
	if err != nil {
		fail(c, "list permissions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": toPermissionViews(perms)})
}

// GetPermission returns one permission.
func (h *Handler) GetPermission(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	p, err := h.admin.GetPermission(c.Request.Context(), id)
	if err != nil {
		fail(c, "get permission", err)
		return
	}
	c.JSON(http.StatusOK, toPermissionView(p))
}

// CreatePermission adds a permission.
func (h *Handler) CreatePermission(c *gin.Context) {
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, "name is required")
		return
	}
	p, err := h.admin.CreatePermission(c.Request.Context(), req.input())
	if err != nil {
		fail(c, "create permission", err)
		return
	}
	c.JSON(http.StatusCreated, toPermissionView(p))
}

// UpdatePermission replaces a permission's writable fields.
func (h *Handler) UpdatePermission(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req permissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, "name is required")
		return
	}
	p, err := h.admin.UpdatePermission(c.Request.Context(), id, req.input())
	if err != nil {
		fail(c, "update permission", err)
		return
	}
	c.JSON(http.StatusOK, toPermissionView(p))
}

// DeletePermission removes a non-system permission.
func (h *Handler) DeletePermission(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	if err := h.admin.DeletePermission(c.Request.Context(), id); err != nil {
		fail(c, "delete permission", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListRolePermissions returns the permissions granted to a role.
func (h *Handler) ListRolePermissions(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	perms, err := h.admin.ListRolePermissions(c.Request.Context(), id)
	if err != nil {
		fail(c, "list role permissions", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"permissions": toPermissionViews(perms)})
}

// GrantPermission grants a permission to a role.
func (h *Handler) GrantPermission(c *gin.Context) {
	id, ok := paramID(c, "id")
	if !ok {
		return
	}
	var req grantRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, "permission_id is required")
		return
	}
	if err := h.admin.GrantPermission(c.Request.Context(), id, req.PermissionID); err != nil {
		fail(c, "grant permission", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// RevokePermission removes a permission from a role. Revoking an absent grant is a no-op.
func (h *Handler) RevokePermission(c *gin.Context) {
	roleID, ok := paramID(c, "id")
	if !ok {
		return
	}
	permID, ok := paramID(c, "permissionId")
	if !ok {
		return
	}
	if _, err := h.admin.RevokePermission(c.Request.Context(), roleID, permID); err != nil {
		fail(c, "revoke permission", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// ListUserRoles returns the role grants of the user in the path.
func (h *Handler) ListUserRoles(c *gin.Context) {
	urs, err := h.admin.ListUserRoles(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, "list user roles", err)
		return
	}
	out := make([]userRoleView, 0, len(urs))
	for _, ur := range urs {
		out = append(out, userRoleView{
			UserID: ur.UserID, RoleID: ur.RoleID, IsPrimary: ur.IsPrimary, IsActive: ur.IsActive,
			ValidFrom: ur.ValidFrom, ValidTo: ur.ValidTo, AssignedBy: ur.AssignedBy, AssignedAt: ur.AssignedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"roles": out})
}

// AssignRole grants a role to the user in the path, optionally time-boxed.
func (h *Handler) AssignRole(c *gin.Context) {
	var req assignRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		middleware.Abort(c, http.StatusBadRequest, middleware.CodeBadRequest, "role_id is required")
		return
	}
	assignedBy := ""
	if id, ok := middleware.GetIdentity(c); ok {
		assignedBy = id.UserID
	}
	ur, err := h.admin.AssignRole(c.Request.Context(), service.AssignRoleInput{
		UserID:     c.Param("id"),
		RoleID:     req.RoleID,
		IsPrimary:  req.IsPrimary,
		ValidFrom:  req.ValidFrom,
		ValidTo:    req.ValidTo,
		AssignedBy: assignedBy,
	})
	if err != nil {
		fail(c, "assign role", err)
		return
	}
	c.JSON(http.StatusCreated, userRoleView{
		UserID: ur.UserID, RoleID: ur.RoleID, IsPrimary: ur.IsPrimary, IsActive: ur.IsActive,
		ValidFrom: ur.ValidFrom, ValidTo: ur.ValidTo, AssignedBy: ur.AssignedBy, AssignedAt: ur.AssignedAt,
	})
}

// RevokeRole removes a role grant. Revoking an absent grant is a no-op.
func (h *Handler) RevokeRole(c *gin.Context) {
	roleID, ok := paramID(c, "roleId")
	if !ok {
		return
	}
	err := h.admin.RevokeRole(c.Request.Context(), c.Param("id"), roleID)
	if err != nil && !errors.Is(err, service.ErrGrantNotFound) {
		fail(c, "revoke role", err)
		return
	}
	c.Status(http.StatusNoContent)
}

// MyPermissions returns the caller's effective permission names.
func (h *Handler) MyPermissions(c *gin.Context) {
	id, ok := middleware.GetIdentity(c)
	if !ok {
		middleware.Abort(c, http.StatusUnauthorized, middleware.CodeUnauthorized, "authentication required")
		return
	}
	perms, err := h.perms.EffectivePermissions(c.Request.Context(), id.UserID)
	if err != nil {
		fail(c, "list permissions", err)
		return
	}
	if perms == nil {
		perms = []string{}
	}
	c.JSON(http.StatusOK, gin.H{"user_id": id.UserID, "role": id.Role, "permissions": perms})
}
