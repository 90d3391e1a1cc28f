package auth

import (
	"context"
	"net/url"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
)

// Session cookie names.
const (
	AdminCookieName    = "admin_session"
	MusicianCookieName = "musician_session"
)

// Policy holds everything that differs between the two login portals.
type Policy struct {
	CookieName   string
	LoginPath    string
	LandingPath  string
	VerifyPath   string
	MismatchCode string
}

var policies = map[models.AuthContext]Policy{
	models.ContextAdmin: {
		CookieName:   AdminCookieName,
		LoginPath:    "/admin/login",
		LandingPath:  "/admin",
		VerifyPath:   "/api/auth/verify",
		MismatchCode: models.ErrCodeUnauthorized,
	},
	models.ContextMusician: {
		CookieName:   MusicianCookieName,
		LoginPath:    "/musician/login",
		LandingPath:  "/musician/",
		VerifyPath:   "/api/musician/auth/verify",
		MismatchCode: models.ErrCodeAdminNotAllowed,
	},
}

// PolicyFor returns the portal policy of c. Unknown contexts get the musician
// policy, whose role rule never admits administrators.
func PolicyFor(c models.AuthContext) Policy {
	if p, ok := policies[c]; ok {
		return p
	}
	return policies[models.ContextMusician]
}

// LoginURL is the login page carrying an opaque error code, or the bare page
// when code is empty.
func (p Policy) LoginURL(code string) string {
	if code == "" {
		return p.LoginPath
	}
	return p.LoginPath + "?error=" + url.QueryEscape(code)
}

type userContextKey struct{}

// WithUser stores the authenticated user on ctx.
func WithUser(ctx context.Context, user *models.AuthenticatedUser) context.Context {
	return context.WithValue(ctx, userContextKey{}, user)
}

// UserFromContext returns the user stored by WithUser.
func UserFromContext(ctx context.Context) (*models.AuthenticatedUser, bool) {
	user, ok := ctx.Value(userContextKey{}).(*models.AuthenticatedUser)
	return user, ok && user != nil
}
