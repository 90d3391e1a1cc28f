package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
)

const pgUniqueViolation = "23505"

// PoolGetter is a function that returns the current database connection pool.
type PoolGetter func() *pgxpool.Pool

// PostgresRepository implements Repository for PostgreSQL.
type PostgresRepository struct {
	getPool PoolGetter
}

// NewPostgresRepository creates a new PostgreSQL repository.
// The poolGetter function allows the repository to always use the current
// active connection pool, supporting automatic reconnection.
func NewPostgresRepository(poolGetter PoolGetter) *PostgresRepository {
	return &PostgresRepository{getPool: poolGetter}
}

func (r *PostgresRepository) pool() (*pgxpool.Pool, error) {
	pool := r.getPool()
	if pool == nil {
		return nil, ErrDatabaseUnavailable
	}
	return pool, nil
}

const pgUserColumns = `id, email, role, is_active, last_login, created_at`

// GetUserByEmail retrieves a user by email address.
func (r *PostgresRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + pgUserColumns + ` FROM users WHERE LOWER(email) = $1`
	return r.scanUser(ctx, query, models.NormalizeEmail(email))
}

// GetUserByID retrieves a user by id.
func (r *PostgresRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + pgUserColumns + ` FROM users WHERE id = $1`
	return r.scanUser(ctx, query, id)
}

// UpdateLastLogin sets last_login for a user.
func (r *PostgresRepository) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	pool, err := r.pool()
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `UPDATE users SET last_login = $2 WHERE id = $1`, userID, at); err != nil {
		return fmt.Errorf("failed to update last login: %w", err)
	}
	return nil
}

// CreateAuthToken inserts a magic-link token.
func (r *PostgresRepository) CreateAuthToken(ctx context.Context, token *models.AuthToken) error {
	pool, err := r.pool()
	if err != nil {
		return err
	}

	query := `INSERT INTO auth_tokens (token, email, expires_at, used) VALUES ($1, $2, $3, FALSE)`
	if _, err := pool.Exec(ctx, query, token.Token, token.Email, token.ExpiresAt); err != nil {
		return fmt.Errorf("failed to create auth token: %w", err)
	}
	return nil
}

// GetUnusedAuthToken retrieves an unused token by exact match.
func (r *PostgresRepository) GetUnusedAuthToken(ctx context.Context, token string) (*models.AuthToken, error) {
	pool, err := r.pool()
	if err != nil {
		return nil, err
	}

	var t models.AuthToken
	query := `SELECT token, email, expires_at, used FROM auth_tokens WHERE token = $1 AND used = FALSE`
	err = pool.QueryRow(ctx, query, token).Scan(&t.Token, &t.Email, &t.ExpiresAt, &t.Used)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auth token: %w", err)
	}
	return &t, nil
}

// MarkAuthTokenUsed consumes a token. Only one caller can win.
func (r *PostgresRepository) MarkAuthTokenUsed(ctx context.Context, token string) (bool, error) {
	pool, err := r.pool()
	if err != nil {
		return false, err
	}

	result, err := pool.Exec(ctx, `UPDATE auth_tokens SET used = TRUE WHERE token = $1 AND used = FALSE`, token)
	if err != nil {
		return false, fmt.Errorf("failed to mark auth token used: %w", err)
	}
	return result.RowsAffected() == 1, nil
}

// CreateSession inserts a session row.
func (r *PostgresRepository) CreateSession(ctx context.Context, session *models.Session) error {
	pool, err := r.pool()
	if err != nil {
		return err
	}

	query := `INSERT INTO sessions (session_id, user_id, expires_at) VALUES ($1, $2, $3)`
	if _, err := pool.Exec(ctx, query, session.SessionID, session.UserID, session.ExpiresAt); err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// GetSessionWithUser joins a session to its user.
func (r *PostgresRepository) GetSessionWithUser(
	ctx context.Context,
	sessionID string,
) (*models.Session, *models.User, error) {
	pool, err := r.pool()
	if err != nil {
		return nil, nil, err
	}

	query := `
		SELECT s.session_id, s.user_id, s.expires_at,
		       u.id, u.email, u.role, u.is_active, u.last_login, u.created_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.session_id = $1`

	var (
		session models.Session
		user    models.User
		role    string
	)
	err = pool.QueryRow(ctx, query, sessionID).Scan(
		&session.SessionID,
		&session.UserID,
		&session.ExpiresAt,
		&user.ID,
		&user.Email,
		&role,
		&user.IsActive,
		&user.LastLogin,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to get session: %w", err)
	}

	user.Role = models.ParseRole(role)
	return &session, &user, nil
}

// DeleteSession removes a session.
func (r *PostgresRepository) DeleteSession(ctx context.Context, sessionID string) error {
	pool, err := r.pool()
	if err != nil {
		return err
	}

	if _, err := pool.Exec(ctx, `DELETE FROM sessions WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	return nil
}

// DeleteUserSessions removes all sessions of a user.
func (r *PostgresRepository) DeleteUserSessions(ctx context.Context, userID int64) (int64, error) {
	return r.execCount(ctx, "delete user sessions", `DELETE FROM sessions WHERE user_id = $1`, userID)
}

// DeleteExpiredSessions removes expired sessions.
func (r *PostgresRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return r.execCount(ctx, "delete expired sessions", `DELETE FROM sessions WHERE expires_at < $1`, now)
}

// DeleteExpiredAuthTokens removes expired tokens.
func (r *PostgresRepository) DeleteExpiredAuthTokens(ctx context.Context, now time.Time) (int64, error) {
	return r.execCount(ctx, "delete expired auth tokens", `DELETE FROM auth_tokens WHERE expires_at < $1`, now)
}

// CountSessions counts all and unexpired sessions.
func (r *PostgresRepository) CountSessions(ctx context.Context, now time.Time) (models.SessionStats, error) {
	var stats models.SessionStats

	pool, err := r.pool()
	if err != nil {
		return stats, err
	}

	query := `SELECT COUNT(*), COUNT(*) FILTER (WHERE expires_at >= $1) FROM sessions`
	if err := pool.QueryRow(ctx, query, now).Scan(&stats.TotalSessions, &stats.ActiveSessions); err != nil {
		return stats, fmt.Errorf("failed to count sessions: %w", err)
	}
	return stats, nil
}

// CreateUser inserts a user.
func (r *PostgresRepository) CreateUser(
	ctx context.Context,
	email string,
	role models.Role,
	active bool,
) (*models.User, error) {
	pool, err := r.pool()
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO users (email, role, is_active)
		VALUES ($1, $2, $3)
		RETURNING ` + pgUserColumns

	user, err := scanUserRow(pool.QueryRow(ctx, query, models.NormalizeEmail(email), string(role), active))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	return user, nil
}

// SetUserActive toggles is_active.
func (r *PostgresRepository) SetUserActive(ctx context.Context, email string, active bool) error {
	n, err := r.execCount(ctx, "update user status",
		`UPDATE users SET is_active = $2 WHERE LOWER(email) = $1`, models.NormalizeEmail(email), active)
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetUserRole changes a user's role.
func (r *PostgresRepository) SetUserRole(ctx context.Context, email string, role models.Role) error {
	n, err := r.execCount(ctx, "update user role",
		`UPDATE users SET role = $2 WHERE LOWER(email) = $1`, models.NormalizeEmail(email), string(role))
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListUsers returns all users.
func (r *PostgresRepository) ListUsers(ctx context.Context) ([]*models.User, error) {
	pool, err := r.pool()
	if err != nil {
		return nil, err
	}

	rows, err := pool.Query(ctx, `SELECT `+pgUserColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []*models.User
	for rows.Next() {
		user, err := scanUserRow(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		users = append(users, user)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	return users, nil
}

func (r *PostgresRepository) execCount(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	pool, err := r.pool()
	if err != nil {
		return 0, err
	}

	result, err := pool.Exec(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return result.RowsAffected(), nil
}

// scanUser is a helper method to scan a single user row.
func (r *PostgresRepository) scanUser(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	pool, err := r.pool()
	if err != nil {
		return nil, err
	}

	user, err := scanUserRow(pool.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

func scanUserRow(row pgx.Row) (*models.User, error) {
	var (
		user models.User
		role string
	)
	if err := row.Scan(&user.ID, &user.Email, &role, &user.IsActive, &user.LastLogin, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.Role = models.ParseRole(role)
	return &user, nil
}
