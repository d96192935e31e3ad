package handlers

import (
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaycrm/relay/internal/auth"
	"github.com/relaycrm/relay/internal/models"
	pkghttp "github.com/relaycrm/relay/pkg/http"
)

// AdminServiceInterface defines the interface for administrative operations
type AdminServiceInterface interface {
	ListUsers(ctx context.Context, limit, offset int) ([]*models.User, error)
	DeleteUser(ctx context.Context, id, actorID string) error
	ListAuditLogs(ctx context.Context, userID, event string, limit, offset int) ([]*models.AuditLog, error)
}

// AdminHandler handles the admin-only user and audit endpoints
type AdminHandler struct {
	service AdminServiceInterface
}

// NewAdminHandler creates a new AdminHandler
func NewAdminHandler(service AdminServiceInterface) *AdminHandler {
	return &AdminHandler{service: service}
}

// AdminUserResponse represents an account in the admin listing
type AdminUserResponse struct {
	ID            string  `json:"id"`
	Email         string  `json:"email"`
	Role          string  `json:"role"`
	EmailVerified bool    `json:"email_verified"`
	Locked        bool    `json:"locked"`
	LastLoginAt   *string `json:"last_login_at,omitempty"`
	CreatedAt     string  `json:"created_at"`
}

// AuditLogResponse represents a persisted audit event
type AuditLogResponse struct {
	ID        string             `json:"id"`
	UserID    *string            `json:"user_id,omitempty"`
	Event     string             `json:"event"`
	Detail    models.AuditDetail `json:"detail,omitempty"`
	IPAddress string             `json:"ip_address,omitempty"`
	UserAgent string             `json:"user_agent,omitempty"`
	CreatedAt string             `json:"created_at"`
}

// ListUsers returns the account inventory
func (h *AdminHandler) ListUsers(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)

	users, err := h.service.ListUsers(r.Context(), limit, offset)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := make([]AdminUserResponse, 0, len(users))
	for _, user := range users {
		resp = append(resp, adminUserToResponse(user))
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

// DeleteUser removes an account
func (h *AdminHandler) DeleteUser(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	err := h.service.DeleteUser(r.Context(), chi.URLParam(r, "id"), claims.UserID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			pkghttp.WriteNotFound(w, "User not found")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Cannot delete your own account")
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "User is referenced by approval records")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// ListAuditLogs returns audit rows filtered by user_id or event
func (h *AdminHandler) ListAuditLogs(w http.ResponseWriter, r *http.Request) {
	limit, offset := parsePagination(r)
	userID := r.URL.Query().Get("user_id")
	event := r.URL.Query().Get("event")

	logs, err := h.service.ListAuditLogs(r.Context(), userID, event, limit, offset)
	if err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Either user_id or event is required")
		} else {
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	resp := make([]AuditLogResponse, 0, len(logs))
	for _, log := range logs {
		resp = append(resp, AuditLogResponse{
			ID:        log.ID,
			UserID:    log.UserID,
			Event:     log.Event,
			Detail:    log.Detail,
			IPAddress: log.IPAddress,
			UserAgent: log.UserAgent,
			CreatedAt: log.CreatedAt.Format(timeFormat),
		})
	}
	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

func adminUserToResponse(user *models.User) AdminUserResponse {
	resp := AdminUserResponse{
		ID:            user.ID,
		Email:         user.Email,
		Role:          user.Role,
		EmailVerified: user.EmailVerifiedAt != nil,
		Locked:        user.IsLocked(),
		CreatedAt:     user.CreatedAt.Format(timeFormat),
	}
	if user.LastLoginAt != nil {
		last := user.LastLoginAt.Format(timeFormat)
		resp.LastLoginAt = &last
	}
	return resp
}
