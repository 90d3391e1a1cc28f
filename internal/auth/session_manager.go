package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/config"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/mail"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/metrics"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/repository"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/pkg/logger"
)

// ErrMailDelivery is returned by RequestMagicLink when the mailer did not accept the email.
var ErrMailDelivery = errors.New("failed to deliver magic link email")

// CacheInvalidator advances the page cache generation.
type CacheInvalidator interface {
	Invalidate(ctx context.Context) (string, error)
}

// VerifyError is a failed magic-link redemption. Code is one of the opaque
// models.ErrCode* values and is the only part shown to the caller.
type VerifyError struct {
	Code string
	Err  error
}

func (e *VerifyError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("magic link verification failed (%s): %v", e.Code, e.Err)
	}
	return "magic link verification failed: " + e.Code
}

func (e *VerifyError) Unwrap() error {
	return e.Err
}

func verifyFailure(code string, err error) *VerifyError {
	return &VerifyError{Code: code, Err: err}
}

// Login is a successful redemption.
type Login struct {
	User      *models.User
	SessionID string
	ExpiresAt time.Time
	Redirect  string
}

// SessionManager runs the magic-link and session flows for both portals.
type SessionManager struct {
	repo          repository.AuthRepository
	cache         CacheInvalidator
	mailer        mail.Mailer
	baseURL       string
	siteName      string
	magicLinkTTL  time.Duration
	sessionTTL    time.Duration
	secureCookies bool
	now           func() time.Time
	metrics       *metrics.Metrics
	logger        *logrus.Logger
}

// NewSessionManager creates a session manager.
func NewSessionManager(
	cfg *config.Config,
	repo repository.AuthRepository,
	cache CacheInvalidator,
	mailer mail.Mailer,
	m *metrics.Metrics,
	logger *logrus.Logger,
) *SessionManager {
	return &SessionManager{
		repo:          repo,
		cache:         cache,
		mailer:        mailer,
		baseURL:       strings.TrimRight(cfg.Site.BaseURL, "/"),
		siteName:      cfg.Mail.FromName,
		magicLinkTTL:  cfg.Auth.MagicLinkTTL,
		sessionTTL:    cfg.Auth.SessionTTL,
		secureCookies: cfg.Auth.SecureCookies,
		now:           time.Now,
		metrics:       m,
		logger:        logger,
	}
}

// WithClock replaces the time source; used by tests.
func (m *SessionManager) WithClock(now func() time.Time) *SessionManager {
	m.now = now
	return m
}

// RequestMagicLink emails a login link to email if it belongs to an active user
// eligible for authCtx. Any other address is silently ignored so that callers
// cannot tell registered addresses apart. Mail failures are returned wrapped in
// ErrMailDelivery.
func (m *SessionManager) RequestMagicLink(ctx context.Context, authCtx models.AuthContext, email string) error {
	email = models.NormalizeEmail(email)
	log := logger.WithCorrelationID(ctx, m.logger).WithField("context", authCtx.String())

	user, err := m.repo.GetUserByEmail(ctx, email)
	if errors.Is(err, repository.ErrNotFound) {
		log.Debug("Magic link requested for unknown email")
		m.metrics.AuthEvent(authCtx.String(), "request_ignored")
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to look up user: %w", err)
	}

	if !user.IsActive || !authCtx.Allows(user.Role) {
		log.WithField("user_id", user.ID).Debug("Magic link requested for ineligible user")
		m.metrics.AuthEvent(authCtx.String(), "request_ignored")
		return nil
	}

	token, err := GenerateSecureToken()
	if err != nil {
		return err
	}

	if err := m.repo.CreateAuthToken(ctx, &models.AuthToken{
		Token:     token,
		Email:     user.Email,
		ExpiresAt: m.now().Add(m.magicLinkTTL),
	}); err != nil {
		return fmt.Errorf("failed to store magic link token: %w", err)
	}

	msg, err := mail.RenderMagicLink(mail.MagicLinkEmail{
		Context:   authCtx,
		Email:     user.Email,
		URL:       m.verifyURL(authCtx, token),
		ExpiresIn: m.magicLinkTTL,
		SiteName:  m.siteName,
	})
	if err != nil {
		return err
	}

	err = m.mailer.Send(ctx, msg)
	m.metrics.MailDelivery(err)
	if err != nil {
		log.WithError(err).WithField("user_id", user.ID).Error("Failed to send magic link")
		return fmt.Errorf("%w: %w", ErrMailDelivery, err)
	}

	log.WithFields(logrus.Fields{
		"user_id": user.ID,
		"token":   logger.MaskSecret(token),
	}).Info("Magic link sent")
	m.metrics.AuthEvent(authCtx.String(), "link_sent")
	return nil
}

func (m *SessionManager) verifyURL(authCtx models.AuthContext, token string) string {
	return m.baseURL + PolicyFor(authCtx).VerifyPath + "?token=" + url.QueryEscape(token)
}

// VerifyMagicLink redeems token for authCtx. On success the token is consumed,
// a session is created and the page cache is invalidated. Every failure is a
// *VerifyError.
func (m *SessionManager) VerifyMagicLink(ctx context.Context, authCtx models.AuthContext, token string) (*Login, error) {
	login, err := m.verifyMagicLink(ctx, authCtx, token)

	log := logger.WithCorrelationID(ctx, m.logger).WithFields(logrus.Fields{
		"context": authCtx.String(),
		"token":   logger.MaskSecret(token),
	})
	if err != nil {
		var verr *VerifyError
		if errors.As(err, &verr) {
			m.metrics.AuthEvent(authCtx.String(), verr.Code)
			if verr.Code == models.ErrCodeServerError {
				log.WithError(err).Error("Magic link verification failed")
			} else {
				log.WithField("code", verr.Code).Info("Magic link rejected")
			}
		}
		return nil, err
	}

	m.metrics.AuthEvent(authCtx.String(), "login")
	log.WithField("user_id", login.User.ID).Info("User logged in")
	return login, nil
}

func (m *SessionManager) verifyMagicLink(ctx context.Context, authCtx models.AuthContext, token string) (*Login, error) {
	policy := PolicyFor(authCtx)
	if token == "" {
		return nil, verifyFailure(models.ErrCodeInvalidToken, nil)
	}

	authToken, err := m.repo.GetUnusedAuthToken(ctx, token)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, verifyFailure(models.ErrCodeInvalidToken, nil)
	}
	if err != nil {
		return nil, verifyFailure(models.ErrCodeServerError, err)
	}

	now := m.now()
	if authToken.IsExpired(now) {
		return nil, verifyFailure(models.ErrCodeExpiredToken, nil)
	}

	user, err := m.repo.GetUserByEmail(ctx, authToken.Email)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, verifyFailure(models.ErrCodeInvalidToken, nil)
	}
	if err != nil {
		return nil, verifyFailure(models.ErrCodeServerError, err)
	}

	if !user.IsActive {
		return nil, verifyFailure(models.ErrCodeAccountInactive, nil)
	}
	if !authCtx.Allows(user.Role) {
		return nil, verifyFailure(policy.MismatchCode, nil)
	}

	consumed, err := m.repo.MarkAuthTokenUsed(ctx, token)
	if err != nil {
		return nil, verifyFailure(models.ErrCodeServerError, err)
	}
	if !consumed {
		// Redeemed concurrently by another request.
		return nil, verifyFailure(models.ErrCodeInvalidToken, nil)
	}

	sessionID, err := GenerateSecureToken()
	if err != nil {
		return nil, verifyFailure(models.ErrCodeServerError, err)
	}

	session := &models.Session{
		SessionID: sessionID,
		UserID:    user.ID,
		ExpiresAt: now.Add(m.sessionTTL),
	}
	if err := m.repo.CreateSession(ctx, session); err != nil {
		return nil, verifyFailure(models.ErrCodeServerError, err)
	}

	if err := m.repo.UpdateLastLogin(ctx, user.ID, now); err != nil {
		return nil, verifyFailure(models.ErrCodeServerError, err)
	}
	user.LastLogin = &now

	m.invalidateCache(ctx)

	return &Login{
		User:      user,
		SessionID: sessionID,
		ExpiresAt: session.ExpiresAt,
		Redirect:  policy.LandingPath,
	}, nil
}

// VerifySession resolves the session cookie of authCtx on r. It returns
// (nil, nil) when there is no valid session; expired sessions and sessions of
// deactivated users are deleted on the way. Store failures are returned.
func (m *SessionManager) VerifySession(ctx context.Context, authCtx models.AuthContext, r *http.Request) (*models.AuthenticatedUser, error) {
	cookie, err := r.Cookie(PolicyFor(authCtx).CookieName)
	if err != nil || cookie.Value == "" {
		return nil, nil
	}

	session, user, err := m.repo.GetSessionWithUser(ctx, cookie.Value)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up session: %w", err)
	}

	if session.IsExpired(m.now()) || !user.IsActive {
		if err := m.repo.DeleteSession(ctx, session.SessionID); err != nil {
			logger.WithCorrelationID(ctx, m.logger).WithError(err).
				WithField("session", logger.MaskSecret(session.SessionID)).
				Warn("Failed to delete stale session")
		}
		return nil, nil
	}

	return &models.AuthenticatedUser{User: *user, SessionID: session.SessionID}, nil
}

// Logout deletes the session named by the authCtx cookie, if any, and
// invalidates the page cache.
func (m *SessionManager) Logout(ctx context.Context, authCtx models.AuthContext, r *http.Request) error {
	if cookie, err := r.Cookie(PolicyFor(authCtx).CookieName); err == nil && cookie.Value != "" {
		if err := m.repo.DeleteSession(ctx, cookie.Value); err != nil {
			return fmt.Errorf("failed to delete session: %w", err)
		}
	}

	m.invalidateCache(ctx)
	m.metrics.AuthEvent(authCtx.String(), "logout")
	return nil
}

func (m *SessionManager) invalidateCache(ctx context.Context) {
	if m.cache == nil {
		return
	}
	if _, err := m.cache.Invalidate(ctx); err != nil {
		logger.WithCorrelationID(ctx, m.logger).WithError(err).Warn("Failed to invalidate page cache")
	}
}

// RequireAdminAuth returns the authenticated administrator of r. When there is
// none, the user is nil and redirect is the admin login page.
func (m *SessionManager) RequireAdminAuth(r *http.Request) (*models.AuthenticatedUser, string, error) {
	return m.require(r, models.ContextAdmin, models.Role.IsAdmin)
}

// RequireSuperAdminAuth is RequireAdminAuth restricted to SUPER_ADMIN.
func (m *SessionManager) RequireSuperAdminAuth(r *http.Request) (*models.AuthenticatedUser, string, error) {
	return m.require(r, models.ContextAdmin, func(role models.Role) bool {
		return role == models.RoleSuperAdmin
	})
}

// RequireMusicianAuth returns the authenticated musician of r, or the musician
// login page to redirect to.
func (m *SessionManager) RequireMusicianAuth(r *http.Request) (*models.AuthenticatedUser, string, error) {
	return m.require(r, models.ContextMusician, models.ContextMusician.Allows)
}

func (m *SessionManager) require(
	r *http.Request,
	authCtx models.AuthContext,
	allowed func(models.Role) bool,
) (*models.AuthenticatedUser, string, error) {
	policy := PolicyFor(authCtx)

	user, err := m.VerifySession(r.Context(), authCtx, r)
	if err != nil {
		return nil, "", err
	}
	if user == nil {
		return nil, policy.LoginURL(""), nil
	}
	if !allowed(user.Role) {
		return nil, policy.LoginURL(models.ErrCodeUnauthorized), nil
	}
	return user, "", nil
}

// SessionCookie is the cookie issued after a successful login.
func (m *SessionManager) SessionCookie(authCtx models.AuthContext, sessionID string) *http.Cookie {
	return &http.Cookie{
		Name:     PolicyFor(authCtx).CookieName,
		Value:    sessionID,
		Path:     "/",
		MaxAge:   int(m.sessionTTL.Seconds()),
		HttpOnly: true,
		Secure:   m.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}

// ClearedSessionCookie expires the authCtx cookie (Max-Age=0).
func (m *SessionManager) ClearedSessionCookie(authCtx models.AuthContext) *http.Cookie {
	return &http.Cookie{
		Name:     PolicyFor(authCtx).CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.secureCookies,
		SameSite: http.SameSiteLaxMode,
	}
}
