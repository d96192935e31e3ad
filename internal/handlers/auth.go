package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/relaycrm/relay/internal/auth"
	"github.com/relaycrm/relay/internal/models"
	"github.com/relaycrm/relay/internal/services"
	pkgauth "github.com/relaycrm/relay/pkg/auth"
	pkghttp "github.com/relaycrm/relay/pkg/http"
)

// AuthServiceInterface defines the interface for auth business logic
type AuthServiceInterface interface {
	Register(ctx context.Context, email, password string, meta pkghttp.ClientMeta) (*services.UserResponse, error)
	Login(ctx context.Context, email, password string, meta pkghttp.ClientMeta) (*services.AuthResponse, error)
	Refresh(ctx context.Context, refreshToken string, meta pkghttp.ClientMeta) (*services.AuthResponse, error)
	Logout(ctx context.Context, refreshToken string, meta pkghttp.ClientMeta) error
	LogoutAll(ctx context.Context, userID string, meta pkghttp.ClientMeta) error
	VerifyEmail(ctx context.Context, token string, meta pkghttp.ClientMeta) error
	RequestPasswordReset(ctx context.Context, email string, meta pkghttp.ClientMeta) error
	ResetPassword(ctx context.Context, token, newPassword string, meta pkghttp.ClientMeta) error
	ListSessions(ctx context.Context, userID string) ([]*models.RefreshToken, error)
}

// AuthHandler handles authentication-related HTTP requests
type AuthHandler struct {
	service  AuthServiceInterface
	ipConfig *pkghttp.IPConfig
}

// NewAuthHandler creates a new AuthHandler
func NewAuthHandler(service AuthServiceInterface, ipConfig *pkghttp.IPConfig) *AuthHandler {
	return &AuthHandler{
		service:  service,
		ipConfig: ipConfig,
	}
}

// Request DTOs

// RegisterRequest represents the request body for registration
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// LoginRequest represents the request body for login
type LoginRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// RefreshRequest represents the request body for token refresh and logout
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required"`
}

// VerifyEmailRequest represents the request body for email verification
type VerifyEmailRequest struct {
	Token string `json:"token" validate:"required"`
}

// PasswordResetRequest represents the request body for requesting a reset
type PasswordResetRequest struct {
	Email string `json:"email" validate:"required,email"`
}

// ResetPasswordRequest represents the request body for completing a reset
type ResetPasswordRequest struct {
	Token       string `json:"token" validate:"required"`
	NewPassword string `json:"new_password" validate:"required"`
}

// SessionResponse represents an active session in the HTTP response
type SessionResponse struct {
	ID        string `json:"id"`
	UserAgent string `json:"user_agent"`
	IPAddress string `json:"ip_address"`
	IssuedAt  string `json:"issued_at"`
	ExpiresAt string `json:"expires_at"`
}

// Register handles user registration
func (h *AuthHandler) Register(w http.ResponseWriter, r *http.Request) {
	var req RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if details := ValidateRequest(req); details != nil {
		pkghttp.WriteValidationError(w, "Validation failed", details)
		return
	}

	user, err := h.service.Register(r.Context(), req.Email, req.Password, h.clientMeta(r))
	if err != nil {
		var validationErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &validationErr):
			pkghttp.WriteValidationError(w, "Password does not meet requirements", validationErr.Errors)
		case errors.Is(err, models.ErrConflict):
			pkghttp.WriteConflict(w, "Email is already registered")
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid request")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusCreated, user)
}

// Login handles user login
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if details := ValidateRequest(req); details != nil {
		pkghttp.WriteValidationError(w, "Validation failed", details)
		return
	}

	authResp, err := h.service.Login(r.Context(), req.Email, req.Password, h.clientMeta(r))
	if err != nil {
		switch {
		case errors.Is(err, models.ErrAccountLocked):
			pkghttp.WriteForbidden(w, "Account temporarily locked. Try again later.")
		case errors.Is(err, models.ErrUnauthorized):
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// Refresh handles refresh token rotation
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if details := ValidateRequest(req); details != nil {
		pkghttp.WriteValidationError(w, "Validation failed", details)
		return
	}

	authResp, err := h.service.Refresh(r.Context(), req.RefreshToken, h.clientMeta(r))
	if err != nil {
		if errors.Is(err, models.ErrUnauthorized) {
			pkghttp.WriteUnauthorized(w, "Authentication failed")
		} else {
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, authResp)
}

// Logout revokes the presented refresh token
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	var req RefreshRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if details := ValidateRequest(req); details != nil {
		pkghttp.WriteValidationError(w, "Validation failed", details)
		return
	}

	if err := h.service.Logout(r.Context(), req.RefreshToken, h.clientMeta(r)); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// LogoutAll revokes every session of the authenticated user
func (h *AuthHandler) LogoutAll(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	if err := h.service.LogoutAll(r.Context(), claims.UserID, h.clientMeta(r)); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// VerifyEmail consumes an email verification token
func (h *AuthHandler) VerifyEmail(w http.ResponseWriter, r *http.Request) {
	var req VerifyEmailRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if details := ValidateRequest(req); details != nil {
		pkghttp.WriteValidationError(w, "Validation failed", details)
		return
	}

	if err := h.service.VerifyEmail(r.Context(), req.Token, h.clientMeta(r)); err != nil {
		if errors.Is(err, models.ErrBadRequest) {
			pkghttp.WriteBadRequest(w, "Invalid or expired token")
		} else {
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Email verified"})
}

// RequestPasswordReset starts the password reset flow. The response is the
// same whether or not the email is registered.
func (h *AuthHandler) RequestPasswordReset(w http.ResponseWriter, r *http.Request) {
	var req PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if details := ValidateRequest(req); details != nil {
		pkghttp.WriteValidationError(w, "Validation failed", details)
		return
	}

	if err := h.service.RequestPasswordReset(r.Context(), req.Email, h.clientMeta(r)); err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	pkghttp.WriteJSON(w, http.StatusAccepted, map[string]string{
		"message": "If the email is registered, a reset link has been sent.",
	})
}

// ResetPassword completes the password reset flow
func (h *AuthHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req ResetPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		pkghttp.WriteBadRequest(w, "Invalid request body")
		return
	}

	if details := ValidateRequest(req); details != nil {
		pkghttp.WriteValidationError(w, "Validation failed", details)
		return
	}

	if err := h.service.ResetPassword(r.Context(), req.Token, req.NewPassword, h.clientMeta(r)); err != nil {
		var validationErr *pkgauth.PasswordValidationError
		switch {
		case errors.As(err, &validationErr):
			pkghttp.WriteValidationError(w, "Password does not meet requirements", validationErr.Errors)
		case errors.Is(err, models.ErrBadRequest):
			pkghttp.WriteBadRequest(w, "Invalid or expired token")
		default:
			pkghttp.WriteInternalError(w, "Internal server error")
		}
		return
	}

	pkghttp.WriteJSON(w, http.StatusOK, map[string]string{"message": "Password updated"})
}

// ListSessions returns the authenticated user's active sessions
func (h *AuthHandler) ListSessions(w http.ResponseWriter, r *http.Request) {
	claims := auth.GetUserFromContext(r)
	if claims == nil {
		pkghttp.WriteUnauthorized(w, "Authentication required")
		return
	}

	sessions, err := h.service.ListSessions(r.Context(), claims.UserID)
	if err != nil {
		pkghttp.WriteInternalError(w, "Internal server error")
		return
	}

	resp := make([]SessionResponse, 0, len(sessions))
	for _, s := range sessions {
		resp = append(resp, SessionResponse{
			ID:        s.ID,
			UserAgent: s.UserAgent,
			IPAddress: s.IPAddress,
			IssuedAt:  s.IssuedAt.Format(timeFormat),
			ExpiresAt: s.ExpiresAt.Format(timeFormat),
		})
	}

	pkghttp.WriteJSON(w, http.StatusOK, resp)
}

func (h *AuthHandler) clientMeta(r *http.Request) pkghttp.ClientMeta {
	return pkghttp.ExtractClientMeta(r, h.ipConfig)
}
