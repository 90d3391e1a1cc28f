package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-sql-driver/mysql"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
)

const mysqlDuplicateEntry = 1062

// DBGetter is a function that returns the current database connection.
// This pattern allows the repository to use the current active connection,
// supporting automatic reconnection and graceful degradation.
type DBGetter func() *sql.DB

// MySQLRepository implements Repository for MySQL.
type MySQLRepository struct {
	getDB DBGetter
}

// NewMySQLRepository creates a new MySQL repository.
func NewMySQLRepository(dbGetter DBGetter) *MySQLRepository {
	return &MySQLRepository{getDB: dbGetter}
}

func (r *MySQLRepository) db() (*sql.DB, error) {
	db := r.getDB()
	if db == nil {
		return nil, ErrDatabaseUnavailable
	}
	return db, nil
}

const mysqlUserColumns = `id, email, role, is_active, last_login, created_at`

// GetUserByEmail retrieves a user by email address.
func (r *MySQLRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `SELECT ` + mysqlUserColumns + ` FROM users WHERE LOWER(email) = ?`
	return r.queryUser(ctx, query, models.NormalizeEmail(email))
}

// GetUserByID retrieves a user by id.
func (r *MySQLRepository) GetUserByID(ctx context.Context, id int64) (*models.User, error) {
	query := `SELECT ` + mysqlUserColumns + ` FROM users WHERE id = ?`
	return r.queryUser(ctx, query, id)
}

// UpdateLastLogin sets last_login for a user.
func (r *MySQLRepository) UpdateLastLogin(ctx context.Context, userID int64, at time.Time) error {
	_, err := r.exec(ctx, "update last login", `UPDATE users SET last_login = ? WHERE id = ?`, at.UTC(), userID)
	return err
}

// CreateAuthToken inserts a magic-link token.
func (r *MySQLRepository) CreateAuthToken(ctx context.Context, token *models.AuthToken) error {
	_, err := r.exec(ctx, "create auth token",
		`INSERT INTO auth_tokens (token, email, expires_at, used) VALUES (?, ?, ?, 0)`,
		token.Token, token.Email, token.ExpiresAt.UTC())
	return err
}

// GetUnusedAuthToken retrieves an unused token by exact match.
func (r *MySQLRepository) GetUnusedAuthToken(ctx context.Context, token string) (*models.AuthToken, error) {
	db, err := r.db()
	if err != nil {
		return nil, err
	}

	var t models.AuthToken
	query := `SELECT token, email, expires_at, used FROM auth_tokens WHERE token = ? AND used = 0`
	err = db.QueryRowContext(ctx, query, token).Scan(&t.Token, &t.Email, &t.ExpiresAt, &t.Used)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get auth token: %w", err)
	}
	return &t, nil
}

// MarkAuthTokenUsed consumes a token. Only one caller can win.
func (r *MySQLRepository) MarkAuthTokenUsed(ctx context.Context, token string) (bool, error) {
	n, err := r.exec(ctx, "mark auth token used", `UPDATE auth_tokens SET used = 1 WHERE token = ? AND used = 0`, token)
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// CreateSession inserts a session row.
func (r *MySQLRepository) CreateSession(ctx context.Context, session *models.Session) error {
	_, err := r.exec(ctx, "create session",
		`INSERT INTO sessions (session_id, user_id, expires_at) VALUES (?, ?, ?)`,
		session.SessionID, session.UserID, session.ExpiresAt.UTC())
	return err
}

// GetSessionWithUser joins a session to its user.
func (r *MySQLRepository) GetSessionWithUser(
	ctx context.Context,
	sessionID string,
) (*models.Session, *models.User, error) {
	db, err := r.db()
	if err != nil {
		return nil, nil, err
	}

	query := `
		SELECT s.session_id, s.user_id, s.expires_at,
		       u.id, u.email, u.role, u.is_active, u.last_login, u.created_at
		FROM sessions s
		JOIN users u ON u.id = s.user_id
		WHERE s.session_id = ?`

	var (
		session   models.Session
		user      models.User
		role      string
		lastLogin sql.NullTime
	)
	err = db.QueryRowContext(ctx, query, sessionID).Scan(
		&session.SessionID,
		&session.UserID,
		&session.ExpiresAt,
		&user.ID,
		&user.Email,
		&role,
		&user.IsActive,
		&lastLogin,
		&user.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to get session: %w", err)
	}

	user.Role = models.ParseRole(role)
	if lastLogin.Valid {
		user.LastLogin = &lastLogin.Time
	}
	return &session, &user, nil
}

// DeleteSession removes a session.
func (r *MySQLRepository) DeleteSession(ctx context.Context, sessionID string) error {
	_, err := r.exec(ctx, "delete session", `DELETE FROM sessions WHERE session_id = ?`, sessionID)
	return err
}

// DeleteUserSessions removes all sessions of a user.
func (r *MySQLRepository) DeleteUserSessions(ctx context.Context, userID int64) (int64, error) {
	return r.exec(ctx, "delete user sessions", `DELETE FROM sessions WHERE user_id = ?`, userID)
}

// DeleteExpiredSessions removes expired sessions.
func (r *MySQLRepository) DeleteExpiredSessions(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx, "delete expired sessions", `DELETE FROM sessions WHERE expires_at < ?`, now.UTC())
}

// DeleteExpiredAuthTokens removes expired tokens.
func (r *MySQLRepository) DeleteExpiredAuthTokens(ctx context.Context, now time.Time) (int64, error) {
	return r.exec(ctx, "delete expired auth tokens", `DELETE FROM auth_tokens WHERE expires_at < ?`, now.UTC())
}

// CountSessions counts all and unexpired sessions.
func (r *MySQLRepository) CountSessions(ctx context.Context, now time.Time) (models.SessionStats, error) {
	var stats models.SessionStats

	db, err := r.db()
	if err != nil {
		return stats, err
	}

	query := `SELECT COUNT(*), COALESCE(SUM(expires_at >= ?), 0) FROM sessions`
	if err := db.QueryRowContext(ctx, query, now.UTC()).Scan(&stats.TotalSessions, &stats.ActiveSessions); err != nil {
		return stats, fmt.Errorf("failed to count sessions: %w", err)
	}
	return stats, nil
}

// CreateUser inserts a user.
func (r *MySQLRepository) CreateUser(
	ctx context.Context,
	email string,
	role models.Role,
	active bool,
) (*models.User, error) {
	db, err := r.db()
	if err != nil {
		return nil, err
	}

	email = models.NormalizeEmail(email)
	result, err := db.ExecContext(ctx,
		`INSERT INTO users (email, role, is_active) VALUES (?, ?, ?)`, email, string(role), active)
	if err != nil {
		var myErr *mysql.MySQLError
		if errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry {
			return nil, ErrDuplicateEmail
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("failed to read new user id: %w", err)
	}
	return r.GetUserByID(ctx, id)
}

// SetUserActive toggles is_active.
func (r *MySQLRepository) SetUserActive(ctx context.Context, email string, active bool) error {
	return r.updateUser(ctx, "update user status",
		`UPDATE users SET is_active = ? WHERE LOWER(email) = ?`, active, models.NormalizeEmail(email))
}

// SetUserRole changes a user's role.
func (r *MySQLRepository) SetUserRole(ctx context.Context, email string, role models.Role) error {
	return r.updateUser(ctx, "update user role",
		`UPDATE users SET role = ? WHERE LOWER(email) = ?`, string(role), models.NormalizeEmail(email))
}

// ListUsers returns all users.
func (r *MySQLRepository) ListUsers(ctx context.Context) ([]*models.User, error) {
	db, err := r.db()
	if err != nil {
		return nil, err
	}

	rows, err := db.QueryContext(ctx, `SELECT `+mysqlUserColumns+` FROM users ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var users []*models.User
	for rows.Next() {
		user, err := scanMySQLUser(rows)
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

// updateUser runs an UPDATE on users. MySQL reports zero affected rows when the
// value is unchanged, so a miss is confirmed with a lookup.
func (r *MySQLRepository) updateUser(ctx context.Context, op, query string, args ...interface{}) error {
	n, err := r.exec(ctx, op, query, args...)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	email, _ := args[len(args)-1].(string)
	if _, err := r.GetUserByEmail(ctx, email); err != nil {
		return err
	}
	return nil
}

func (r *MySQLRepository) exec(ctx context.Context, op, query string, args ...interface{}) (int64, error) {
	db, err := r.db()
	if err != nil {
		return 0, err
	}

	result, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}

	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to %s: %w", op, err)
	}
	return n, nil
}

func (r *MySQLRepository) queryUser(ctx context.Context, query string, args ...interface{}) (*models.User, error) {
	db, err := r.db()
	if err != nil {
		return nil, err
	}

	user, err := scanMySQLUser(db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to scan user: %w", err)
	}
	return user, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanMySQLUser(row rowScanner) (*models.User, error) {
	var (
		user      models.User
		role      string
		lastLogin sql.NullTime
	)
	if err := row.Scan(&user.ID, &user.Email, &role, &user.IsActive, &lastLogin, &user.CreatedAt); err != nil {
		return nil, err
	}
	user.Role = models.ParseRole(role)
	if lastLogin.Valid {
		user.LastLogin = &lastLogin.Time
	}
	return &user, nil
}
