package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
)

// MemoryRepository implements Repository in process memory. It backs the memory
// database driver for local development and the auth tests.
type MemoryRepository struct {
	mu       sync.RWMutex
	nextID   int64
	users    map[int64]*models.User
	byEmail  map[string]int64
	tokens   map[string]*models.AuthToken
	sessions map[string]*models.Session
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		users:    make(map[int64]*models.User),
		byEmail:  make(map[string]int64),
		tokens:   make(map[string]*models.AuthToken),
		sessions: make(map[string]*models.Session),
	}
}

// GetUserByEmail retrieves a user by email address.
func (r *MemoryRepository) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	id, ok := r.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(r.users[id]), nil
}

// GetUserByID retrieves a user by id.
func (r *MemoryRepository) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	user, ok := r.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyUser(user), nil
}

// UpdateLastLogin sets last_login for a user.
func (r *MemoryRepository) UpdateLastLogin(_ context.Context, userID int64, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if user, ok := r.users[userID]; ok {
		user.LastLogin = &at
	}
	return nil
}

// CreateAuthToken inserts a magic-link token.
func (r *MemoryRepository) CreateAuthToken(_ context.Context, token *models.AuthToken) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *token
	stored.Used = false
	r.tokens[token.Token] = &stored
	return nil
}

// GetUnusedAuthToken retrieves an unused token by exact match.
func (r *MemoryRepository) GetUnusedAuthToken(_ context.Context, token string) (*models.AuthToken, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	t, ok := r.tokens[token]
	if !ok || t.Used {
		return nil, ErrNotFound
	}
	out := *t
	return &out, nil
}

// MarkAuthTokenUsed consumes a token. Only one caller can win.
func (r *MemoryRepository) MarkAuthTokenUsed(_ context.Context, token string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t, ok := r.tokens[token]
	if !ok || t.Used {
		return false, nil
	}
	t.Used = true
	return true, nil
}

// CreateSession inserts a session row.
func (r *MemoryRepository) CreateSession(_ context.Context, session *models.Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	stored := *session
	r.sessions[session.SessionID] = &stored
	return nil
}

// GetSessionWithUser joins a session to its user.
func (r *MemoryRepository) GetSessionWithUser(
	_ context.Context,
	sessionID string,
) (*models.Session, *models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	session, ok := r.sessions[sessionID]
	if !ok {
		return nil, nil, ErrNotFound
	}
	user, ok := r.users[session.UserID]
	if !ok {
		return nil, nil, ErrNotFound
	}

	out := *session
	return &out, copyUser(user), nil
}

// DeleteSession removes a session.
func (r *MemoryRepository) DeleteSession(_ context.Context, sessionID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	delete(r.sessions, sessionID)
	return nil
}

// DeleteUserSessions removes all sessions of a user.
func (r *MemoryRepository) DeleteUserSessions(_ context.Context, userID int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, session := range r.sessions {
		if session.UserID == userID {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// DeleteExpiredSessions removes expired sessions.
func (r *MemoryRepository) DeleteExpiredSessions(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for id, session := range r.sessions {
		if session.IsExpired(now) {
			delete(r.sessions, id)
			n++
		}
	}
	return n, nil
}

// DeleteExpiredAuthTokens removes expired tokens.
func (r *MemoryRepository) DeleteExpiredAuthTokens(_ context.Context, now time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var n int64
	for key, token := range r.tokens {
		if token.IsExpired(now) {
			delete(r.tokens, key)
			n++
		}
	}
	return n, nil
}

// CountSessions counts all and unexpired sessions.
func (r *MemoryRepository) CountSessions(_ context.Context, now time.Time) (models.SessionStats, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	stats := models.SessionStats{TotalSessions: len(r.sessions)}
	for _, session := range r.sessions {
		if !session.IsExpired(now) {
			stats.ActiveSessions++
		}
	}
	return stats, nil
}

// CreateUser inserts a user.
func (r *MemoryRepository) CreateUser(
	_ context.Context,
	email string,
	role models.Role,
	active bool,
) (*models.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	email = models.NormalizeEmail(email)
	if _, exists := r.byEmail[email]; exists {
		return nil, ErrDuplicateEmail
	}

	r.nextID++
	user := &models.User{
		ID:        r.nextID,
		Email:     email,
		Role:      role,
		IsActive:  active,
		CreatedAt: time.Now().UTC(),
	}
	r.users[user.ID] = user
	r.byEmail[email] = user.ID
	return copyUser(user), nil
}

// SetUserActive toggles is_active.
func (r *MemoryRepository) SetUserActive(_ context.Context, email string, active bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return ErrNotFound
	}
	r.users[id].IsActive = active
	return nil
}

// SetUserRole changes a user's role.
func (r *MemoryRepository) SetUserRole(_ context.Context, email string, role models.Role) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	id, ok := r.byEmail[models.NormalizeEmail(email)]
	if !ok {
		return ErrNotFound
	}
	r.users[id].Role = role
	return nil
}

// ListUsers returns all users ordered by id.
func (r *MemoryRepository) ListUsers(_ context.Context) ([]*models.User, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	users := make([]*models.User, 0, len(r.users))
	for _, user := range r.users {
		users = append(users, copyUser(user))
	}
	sort.Slice(users, func(i, j int) bool { return users[i].ID < users[j].ID })
	return users, nil
}

// AuthTokens returns a snapshot of every stored token, for assertions in tests.
func (r *MemoryRepository) AuthTokens() []models.AuthToken {
	r.mu.RLock()
	defer r.mu.RUnlock()

	tokens := make([]models.AuthToken, 0, len(r.tokens))
	for _, t := range r.tokens {
		tokens = append(tokens, *t)
	}
	return tokens
}

// Sessions returns a snapshot of every stored session, for assertions in tests.
func (r *MemoryRepository) Sessions() []models.Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	sessions := make([]models.Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, *s)
	}
	return sessions
}

func copyUser(u *models.User) *models.User {
	out := *u
	if u.LastLogin != nil {
		t := *u.LastLogin
		out.LastLogin = &t
	}
	return &out
}
