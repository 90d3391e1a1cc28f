// Package repository persists users, magic-link tokens and sessions.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
)

var (
	// ErrNotFound is returned when a lookup matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrDatabaseUnavailable is returned while the connection manager has no live connection.
	ErrDatabaseUnavailable = errors.New("database connection not available")

	// ErrDuplicateEmail is returned when creating a user whose email already exists.
	ErrDuplicateEmail = errors.New("email already registered")
)

// AuthRepository is what the magic-link and session flows need from the relational store.
// Every method issues exactly one statement; callers sequence them.
type AuthRepository interface {
	// GetUserByEmail looks up a user by normalized email.
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)

	// GetUserByID looks up a user by id.
	GetUserByID(ctx context.Context, id int64) (*models.User, error)

	// UpdateLastLogin records a successful login.
	UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error

	// CreateAuthToken inserts an unused magic-link token.
	CreateAuthToken(ctx context.Context, token *models.AuthToken) error

	// GetUnusedAuthToken returns the token only if it exists and is not used.
	GetUnusedAuthToken(ctx context.Context, token string) (*models.AuthToken, error)

	// MarkAuthTokenUsed flips used from false to true. It reports false when
	// another request consumed the token first.
	MarkAuthTokenUsed(ctx context.Context, token string) (bool, error)

	// CreateSession inserts a session row.
	CreateSession(ctx context.Context, session *models.Session) error

	// GetSessionWithUser joins a session to its owning user.
	GetSessionWithUser(ctx context.Context, sessionID string) (*models.Session, *models.User, error)

	// DeleteSession removes one session. Deleting a missing session is not an error.
	DeleteSession(ctx context.Context, sessionID string) error

	// DeleteUserSessions removes every session of a user and returns how many were removed.
	DeleteUserSessions(ctx context.Context, userID int64) (int64, error)

	// DeleteExpiredSessions removes sessions that expired before now.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error)

	// DeleteExpiredAuthTokens removes tokens that expired before now, used or not.
	DeleteExpiredAuthTokens(ctx context.Context, now time.Time) (int64, error)

	// CountSessions counts all and unexpired sessions.
	CountSessions(ctx context.Context, now time.Time) (models.SessionStats, error)
}

// UserAdminRepository manages user rows for operators. The site's own back-office
// owns user lifecycle; these methods serve bootstrap and the operator CLI.
type UserAdminRepository interface {
	// CreateUser inserts a user and returns it with its id.
	CreateUser(ctx context.Context, email string, role models.Role, active bool) (*models.User, error)

	// SetUserActive toggles is_active.
	SetUserActive(ctx context.Context, email string, active bool) error

	// SetUserRole changes the role.
	SetUserRole(ctx context.Context, email string, role models.Role) error

	// ListUsers returns all users ordered by id.
	ListUsers(ctx context.Context) ([]*models.User, error)
}

// Repository is the full relational surface.
type Repository interface {
	AuthRepository
	UserAdminRepository
}

var (
	_ Repository = (*PostgresRepository)(nil)
	_ Repository = (*MySQLRepository)(nil)
	_ Repository = (*MemoryRepository)(nil)
)
