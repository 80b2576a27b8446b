package domain

import (
	"fmt"
	"strings"
)

// Role is the role an authenticated user acts under.
type Role string

const (
	RoleAdmin   Role = "admin"
	RoleManager Role = "manager"
	RoleDriver  Role = "driver"
	RoleStaff   Role = "staff"
)

// Caller is the authenticated user behind a request.
type Caller struct {
	UserID int64
	Role   Role
}

// ParseRole normalises a role claim.
func ParseRole(s string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(s))); r {
	case RoleAdmin, RoleManager, RoleDriver, RoleStaff:
		return r, nil
	default:
		return "", fmt.Errorf("unknown role %q", s)
	}
}
