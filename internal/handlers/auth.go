package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/auth"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/constants"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/pkg/logger"
)

const (
	internalServerError = "Internal server error"
	magicLinkMessage    = "If this address is registered, a login link has been sent."

	maxFormBytes = 64 << 10
)

var validate = validator.New()

// MagicLinkRequest is the body of a magic-link request.
type MagicLinkRequest struct {
	Email string `json:"email" validate:"required,email,max=254"`
}

// AuthHandler serves the magic-link, verify and logout endpoints of one portal.
type AuthHandler struct {
	authCtx  models.AuthContext
	sessions *auth.SessionManager
	logger   *logrus.Logger
}

// NewAuthHandler creates the handler for authCtx.
func NewAuthHandler(authCtx models.AuthContext, sessions *auth.SessionManager, logger *logrus.Logger) *AuthHandler {
	return &AuthHandler{
		authCtx:  authCtx,
		sessions: sessions,
		logger:   logger,
	}
}

// BasePath is the path prefix of the portal's auth endpoints,
// /api/auth or /api/musician/auth.
func (h *AuthHandler) BasePath() string {
	return strings.TrimSuffix(auth.PolicyFor(h.authCtx).VerifyPath, "/verify")
}

// RegisterRoutes registers the auth endpoints on router. Methods are checked by
// the handlers so that a wrong method still gets a JSON body.
func (h *AuthHandler) RegisterRoutes(router *mux.Router) {
	base := h.BasePath()
	router.HandleFunc(base+"/magic-link", h.RequestMagicLink)
	router.HandleFunc(base+"/verify", h.Verify)
	router.HandleFunc(base+"/logout", h.Logout)
}

// RequestMagicLink handles POST <base>/magic-link with a form (or JSON) email.
//
// Responses:
//   - 200: Accepted, whether or not the address is registered
//   - 400: Missing or malformed email
//   - 405: Method not allowed
//   - 500: Mail or store failure
func (h *AuthHandler) RequestMagicLink(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	req, err := h.parseMagicLinkRequest(w, r)
	if err != nil {
		h.writeErrorResponse(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	req.Email = strings.TrimSpace(req.Email)
	if err := validate.Struct(req); err != nil {
		h.writeErrorResponse(w, "A valid email address is required", http.StatusBadRequest)
		return
	}

	if err := h.sessions.RequestMagicLink(r.Context(), h.authCtx, req.Email); err != nil {
		log := h.log(r).WithError(err)
		if errors.Is(err, auth.ErrMailDelivery) {
			log.Error("Failed to send magic link email")
			h.writeErrorResponse(w, "Failed to send email", http.StatusInternalServerError)
			return
		}
		log.Error("Failed to process magic link request")
		h.writeErrorResponse(w, internalServerError, http.StatusInternalServerError)
		return
	}

	writeJSON(w, models.MagicLinkResponse{Success: true, Message: magicLinkMessage}, http.StatusOK, h.logger)
}

func (h *AuthHandler) parseMagicLinkRequest(w http.ResponseWriter, r *http.Request) (*MagicLinkRequest, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)

	var req MagicLinkRequest
	if strings.Contains(r.Header.Get(constants.HeaderContentType), constants.ContentTypeJSON) {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			return nil, err
		}
		return &req, nil
	}

	if err := r.ParseForm(); err != nil {
		return nil, err
	}
	req.Email = r.PostForm.Get("email")
	return &req, nil
}

// Verify handles GET <base>/verify?token=. It always redirects: to the portal
// landing page with a fresh session cookie, or to the login page with an
// opaque error code.
func (h *AuthHandler) Verify(w http.ResponseWriter, r *http.Request) {
	policy := auth.PolicyFor(h.authCtx)

	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	login, err := h.sessions.VerifyMagicLink(r.Context(), h.authCtx, r.URL.Query().Get("token"))
	if err != nil {
		code := models.ErrCodeServerError
		var verr *auth.VerifyError
		if errors.As(err, &verr) {
			code = verr.Code
		}
		http.Redirect(w, r, policy.LoginURL(code), http.StatusFound)
		return
	}

	http.SetCookie(w, h.sessions.SessionCookie(h.authCtx, login.SessionID))
	http.Redirect(w, r, login.Redirect, http.StatusFound)
}

// Logout handles POST <base>/logout. When the session row cannot be deleted the
// cookie is kept and the client sent to the login page with server_error, so
// the session is not left valid behind a cleared cookie.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	policy := auth.PolicyFor(h.authCtx)

	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	if err := h.sessions.Logout(r.Context(), h.authCtx, r); err != nil {
		h.log(r).WithError(err).Error("Failed to delete session on logout")
		http.Redirect(w, r, policy.LoginURL(models.ErrCodeServerError), http.StatusFound)
		return
	}

	http.SetCookie(w, h.sessions.ClearedSessionCookie(h.authCtx))
	http.Redirect(w, r, policy.LoginPath, http.StatusFound)
}

func (h *AuthHandler) log(r *http.Request) *logrus.Entry {
	return logger.WithCorrelationID(r.Context(), h.logger).WithField("context", h.authCtx.String())
}

func (h *AuthHandler) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, models.APIError{Error: message}, statusCode, h.logger)
}
