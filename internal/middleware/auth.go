package middleware

import (
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/auth"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/pkg/logger"
)

type sessionCheck func(r *http.Request) (*models.AuthenticatedUser, string, error)

// RequireAdmin admits requests carrying a valid admin_session of an ADMIN or
// SUPER_ADMIN. Pages are redirected to the admin login; API calls get a JSON
// 401 or 403.
func (m *Stack) RequireAdmin(next http.Handler) http.Handler {
	return m.requireSession(next, m.sessions.RequireAdminAuth)
}

// RequireSuperAdmin is RequireAdmin restricted to SUPER_ADMIN.
func (m *Stack) RequireSuperAdmin(next http.Handler) http.Handler {
	return m.requireSession(next, m.sessions.RequireSuperAdminAuth)
}

// RequireMusician admits requests carrying a valid musician_session.
func (m *Stack) RequireMusician(next http.Handler) http.Handler {
	return m.requireSession(next, m.sessions.RequireMusicianAuth)
}

func (m *Stack) requireSession(next http.Handler, check sessionCheck) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		api := strings.HasPrefix(r.URL.Path, "/api/")

		user, redirect, err := check(r)
		if err != nil {
			logger.WithCorrelationID(r.Context(), m.logger).WithError(err).
				WithField("path", r.URL.Path).Error("Session lookup failed")
			if api {
				writeJSONError(w, http.StatusInternalServerError, "Internal server error")
				return
			}
			http.Redirect(w, r, loginPath(redirect, r.URL.Path)+"?error="+models.ErrCodeServerError, http.StatusFound)
			return
		}

		if user == nil {
			forbidden := strings.HasSuffix(redirect, "error="+models.ErrCodeUnauthorized)
			if api {
				if forbidden {
					writeJSONError(w, http.StatusForbidden, "Forbidden")
				} else {
					writeJSONError(w, http.StatusUnauthorized, "Unauthorized")
				}
				return
			}
			http.Redirect(w, r, redirect, http.StatusFound)
			return
		}

		logger.WithCorrelationID(r.Context(), m.logger).WithFields(logrus.Fields{
			"user_id": user.ID,
			"role":    user.Role,
		}).Debug("Session authenticated")

		next.ServeHTTP(w, r.WithContext(auth.WithUser(r.Context(), user)))
	})
}

// loginPath picks the login page for a failed lookup, which carries no redirect.
func loginPath(redirect, path string) string {
	if redirect != "" {
		return redirect
	}
	if strings.HasPrefix(path, "/musician") || strings.HasPrefix(path, "/api/musician") {
		return auth.PolicyFor(models.ContextMusician).LoginPath
	}
	return auth.PolicyFor(models.ContextAdmin).LoginPath
}

// InvalidateOnMutation advances the page cache version after every successful
// non-GET request. The bump happens when the status is written, before any of
// the body reaches the client, so a follow-up read never sees the old version.
func (m *Stack) InvalidateOnMutation(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions:
			next.ServeHTTP(w, r)
			return
		}
		if m.pages == nil {
			next.ServeHTTP(w, r)
			return
		}

		mw := &mutationWriter{
			ResponseWriter: w,
			invalidate: func() {
				if _, err := m.pages.Invalidate(r.Context()); err != nil {
					logger.WithCorrelationID(r.Context(), m.logger).WithError(err).
						WithField("path", r.URL.Path).Warn("Failed to invalidate page cache after mutation")
				}
			},
		}
		next.ServeHTTP(mw, r)

		// A handler that writes nothing answers 200.
		if !mw.wroteHeader {
			mw.invalidate()
		}
	})
}

// mutationWriter runs invalidate once, on the first final status below 400.
type mutationWriter struct {
	http.ResponseWriter
	invalidate  func()
	wroteHeader bool
}

func (mw *mutationWriter) WriteHeader(code int) {
	if mw.wroteHeader {
		return
	}
	// Informational responses such as 103 Early Hints are not final.
	if code >= http.StatusContinue && code < http.StatusOK {
		mw.ResponseWriter.WriteHeader(code)
		return
	}
	mw.wroteHeader = true
	if code < HTTPClientError {
		mw.invalidate()
	}
	mw.ResponseWriter.WriteHeader(code)
}

func (mw *mutationWriter) Write(b []byte) (int, error) {
	if !mw.wroteHeader {
		mw.WriteHeader(http.StatusOK)
	}
	return mw.ResponseWriter.Write(b)
}

func (mw *mutationWriter) Flush() {
	if !mw.wroteHeader {
		mw.WriteHeader(http.StatusOK)
	}
	if f, ok := mw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (mw *mutationWriter) Unwrap() http.ResponseWriter {
	return mw.ResponseWriter
}
