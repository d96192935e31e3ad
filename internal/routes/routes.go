package routes

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/relaycrm/relay/internal/auth"
	"github.com/relaycrm/relay/internal/handlers"
	"github.com/relaycrm/relay/internal/middleware"
	"github.com/relaycrm/relay/internal/models"
)

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	approvalHandler *handlers.ApprovalHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
) {
	router.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Public auth routes. Credential endpoints carry per-IP budgets on top of
	// the account lockout policy.
	router.With(middleware.RateLimitByIP(middleware.RegisterRateLimit())).
		Post("/auth/register", authHandler.Register)
	router.With(middleware.RateLimitByIP(middleware.LoginRateLimit())).
		Post("/auth/login", authHandler.Login)
	router.With(middleware.RateLimitByIP(middleware.PasswordResetRateLimit())).
		Post("/auth/request-password-reset", authHandler.RequestPasswordReset)
	router.Post("/auth/refresh", authHandler.Refresh)
	router.Post("/auth/logout", authHandler.Logout)
	router.Post("/auth/verify-email", authHandler.VerifyEmail)
	router.Post("/auth/reset-password", authHandler.ResetPassword)

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.Middleware(tokenManager))

		r.Post("/auth/logout-all", authHandler.LogoutAll)
		r.Get("/auth/sessions", authHandler.ListSessions)

		// Workflow definitions are readable by anyone; administration is
		// restricted to admins and managers.
		r.Get("/workflows", approvalHandler.ListWorkflows)
		r.Get("/workflows/{id}", approvalHandler.GetWorkflow)
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin, models.RoleManager))
			r.Post("/workflows", approvalHandler.CreateWorkflow)
			r.Post("/workflows/{id}/steps", approvalHandler.AddStep)
			r.Patch("/workflows/{id}", approvalHandler.UpdateWorkflow)
		})

		r.Post("/approval-requests", approvalHandler.CreateRequest)
		r.Get("/approval-requests", approvalHandler.ListMyRequests)
		r.Get("/approval-requests/pending", approvalHandler.ListPendingApprovals)
		r.Get("/approval-requests/{id}", approvalHandler.GetRequest)
		r.Post("/approval-requests/{id}/actions", approvalHandler.ProcessAction)
		r.Post("/approval-requests/{id}/cancel", approvalHandler.CancelRequest)

		// Administrative surface. Admins only, unlike workflow administration
		// which managers share.
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireRole(models.RoleAdmin))
			r.Get("/admin/users", adminHandler.ListUsers)
			r.Delete("/admin/users/{id}", adminHandler.DeleteUser)
			r.Get("/admin/audit-logs", adminHandler.ListAuditLogs)
		})
	})
}
