package domain

import (
	"strings"
	"time"
)

// Role groups permissions. Name is unique.
type Role struct {
	ID           int64
	Name         string
	Description  string
	Priority     int
	IsActive     bool
	IsSystemRole bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Permission is a flat "resource.action" capability. Name is unique.
type Permission struct {
	ID                 int64
	Name               string
	Description        string
	Category           string
	Resource           string
	Action             string
	IsActive           bool
	IsSystemPermission bool
	CreatedAt          time.Time
}

// RolePermission links a permission to a role.
type RolePermission struct {
	RoleID       int64
	PermissionID int64
	GrantedAt    time.Time
}

// UserRole assigns a role to a user, optionally time-boxed by ValidFrom/ValidTo.
type UserRole struct {
	UserID     string
	RoleID     int64
	IsPrimary  bool
	IsActive   bool
	ValidFrom  time.Time
	ValidTo    *time.Time
	AssignedBy string
	AssignedAt time.Time
}

// EffectiveAt reports whether the grant is active and now lies within [ValidFrom, ValidTo].
func (ur *UserRole) EffectiveAt(now time.Time) bool {
	if ur == nil || !ur.IsActive {
		return false
	}
	if !ur.ValidFrom.IsZero() && now.Before(ur.ValidFrom) {
		return false
	}
	if ur.ValidTo != nil && now.After(*ur.ValidTo) {
		return false
	}
	return true
}

// SplitPermissionName splits "resource.action" at the last dot.
func SplitPermissionName(name string) (resource, action string, ok bool) {
	i := strings.LastIndex(name, ".")
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}
