// Package models provides data structures shared by the edge service.
package models

import (
	"strings"
	"time"
)

// Role is a user's role in the association.
type Role string

const (
	RoleMusician   Role = "MUSICIAN"
	RoleAdmin      Role = "ADMIN"
	RoleSuperAdmin Role = "SUPER_ADMIN"
)

// IsAdmin reports whether the role grants access to the back-office.
func (r Role) IsAdmin() bool {
	return r == RoleAdmin || r == RoleSuperAdmin
}

// ParseRole normalizes a role name. Unknown names are returned as-is in upper case.
func ParseRole(s string) Role {
	return Role(strings.ToUpper(strings.TrimSpace(s)))
}

// User is a row of the users table.
type User struct {
	ID        int64      `json:"id"`
	Email     string     `json:"email"`
	Role      Role       `json:"role"`
	IsActive  bool       `json:"isActive"`
	LastLogin *time.Time `json:"lastLogin,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

// AuthToken is a single-use magic-link secret.
type AuthToken struct {
	Token     string    `json:"-"`
	Email     string    `json:"email"`
	ExpiresAt time.Time `json:"expiresAt"`
	Used      bool      `json:"used"`
}

// IsExpired reports whether the token can no longer be redeemed at now.
func (t *AuthToken) IsExpired(now time.Time) bool {
	return t.ExpiresAt.Before(now)
}

// Session binds an opaque cookie value to a user.
type Session struct {
	SessionID string    `json:"-"`
	UserID    int64     `json:"userId"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// IsExpired reports whether the session is past its lifetime at now.
func (s *Session) IsExpired(now time.Time) bool {
	return s.ExpiresAt.Before(now)
}

// AuthenticatedUser is the result of a successful session lookup.
type AuthenticatedUser struct {
	User
	SessionID string `json:"-"`
}

// NormalizeEmail lower-cases and trims an address for lookups.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
