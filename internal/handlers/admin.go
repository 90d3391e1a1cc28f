// Package handlers provides HTTP handlers for the edge service endpoints.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/auth"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/constants"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/models"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/internal/repository"
	"github.com/Les-Amis-de-l-Harmonie/amis-harmonie-sucy.fr-sub000/pkg/logger"
)

// AdminHandler handles the edge administration endpoints.
type AdminHandler struct {
	adminSvc auth.AdminService
	logger   *logrus.Logger
}

// NewAdminHandler creates a new admin handler instance with the provided dependencies.
func NewAdminHandler(adminSvc auth.AdminService, logger *logrus.Logger) *AdminHandler {
	return &AdminHandler{
		adminSvc: adminSvc,
		logger:   logger,
	}
}

// RegisterRoutes registers the admin routes on router. Routes that only a super
// admin may call are wrapped with superAdmin.
// Note: The router should already have admin auth middleware applied.
// Handlers check the method themselves: a mux method mismatch on a subrouter
// would fall through to the origin routes instead of answering 405.
func (h *AdminHandler) RegisterRoutes(router *mux.Router, superAdmin func(http.Handler) http.Handler) {
	router.HandleFunc("/stats", h.GetStats)
	router.HandleFunc("/cache/invalidate", h.InvalidateCache)
	router.Handle("/users/{userId}/force-logout", superAdmin(http.HandlerFunc(h.ForceLogout)))
	router.Handle("/sessions/purge", superAdmin(http.HandlerFunc(h.PurgeSessions)))
}

// GetStats handles GET /api/admin/edge/stats
// Returns the cache version, key counts and session totals.
//
// Responses:
//   - 200: Statistics retrieved successfully
//   - 405: Method not allowed
//   - 500: Internal server error
func (h *AdminHandler) GetStats(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethod(w, r, http.MethodGet) {
		return
	}

	stats, err := h.adminSvc.GetEdgeStats(r.Context())
	if err != nil {
		h.log(r).WithError(err).Error("Failed to get edge stats")
		h.writeErrorResponse(w, "Failed to retrieve edge statistics", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, stats, http.StatusOK)
}

// InvalidateCache handles POST /api/admin/edge/cache/invalidate
//
// Responses:
//   - 200: Version advanced, body carries the new tag
//   - 405: Method not allowed
//   - 500: Internal server error
func (h *AdminHandler) InvalidateCache(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethod(w, r, http.MethodPost) {
		return
	}

	h.log(r).Info("Processing cache invalidation request")

	response, err := h.adminSvc.InvalidateCache(r.Context())
	if err != nil {
		h.writeErrorResponse(w, "Failed to invalidate cache", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, response, http.StatusOK)
}

// ForceLogout handles POST /api/admin/edge/users/{userId}/force-logout
// Deletes every session of a user.
//
// Path Parameters:
//   - userId: The numeric id of the user
//
// Responses:
//   - 200: Sessions deleted
//   - 400: Invalid user ID format
//   - 404: Unknown user
//   - 405: Method not allowed
//   - 500: Internal server error
func (h *AdminHandler) ForceLogout(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethod(w, r, http.MethodPost) {
		return
	}

	raw := mux.Vars(r)["userId"]

	userID, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || userID <= 0 {
		h.log(r).WithField("user_id", raw).Warn("Invalid user ID format")
		h.writeErrorResponse(w, "Invalid user ID", http.StatusBadRequest)
		return
	}

	response, err := h.adminSvc.ForceLogoutUser(r.Context(), userID)
	if errors.Is(err, repository.ErrNotFound) {
		h.writeErrorResponse(w, "User not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.log(r).WithError(err).WithField("user_id", userID).Error("Failed to force logout user")
		h.writeErrorResponse(w, "Failed to force logout user", http.StatusInternalServerError)
		return
	}

	h.writeJSONResponse(w, response, http.StatusOK)
}

// PurgeSessions handles POST /api/admin/edge/sessions/purge
func (h *AdminHandler) PurgeSessions(w http.ResponseWriter, r *http.Request) {
	if !h.allowMethod(w, r, http.MethodPost) {
		return
	}

	response, err := h.adminSvc.PurgeExpired(r.Context())
	if err != nil {
		h.writeErrorResponse(w, "Failed to purge expired sessions", http.StatusInternalServerError)
		return
	}

	h.log(r).WithFields(logrus.Fields{
		"sessions_deleted": response.SessionsDeleted,
		"tokens_deleted":   response.TokensDeleted,
	}).Info("Expired rows purged")
	h.writeJSONResponse(w, response, http.StatusOK)
}

func (h *AdminHandler) allowMethod(w http.ResponseWriter, r *http.Request, method string) bool {
	if r.Method == method {
		return true
	}
	w.Header().Set("Allow", method)
	h.writeErrorResponse(w, "Method not allowed", http.StatusMethodNotAllowed)
	return false
}

func (h *AdminHandler) log(r *http.Request) *logrus.Entry {
	entry := logger.WithCorrelationID(r.Context(), h.logger)
	if user, ok := auth.UserFromContext(r.Context()); ok {
		entry = entry.WithField("admin_id", user.ID)
	}
	return entry
}

// writeJSONResponse writes a JSON response with the given status code.
func (h *AdminHandler) writeJSONResponse(w http.ResponseWriter, data any, statusCode int) {
	writeJSON(w, data, statusCode, h.logger)
}

// writeErrorResponse writes a JSON error response with the given message and status code.
func (h *AdminHandler) writeErrorResponse(w http.ResponseWriter, message string, statusCode int) {
	writeJSON(w, models.APIError{Error: message}, statusCode, h.logger)
}

func writeJSON(w http.ResponseWriter, data any, statusCode int, log *logrus.Logger) {
	w.Header().Set(constants.HeaderContentType, constants.ContentTypeJSON)
	w.WriteHeader(statusCode)

	if err := json.NewEncoder(w).Encode(data); err != nil {
		log.WithError(err).Error("Failed to encode JSON response")
	}
}
