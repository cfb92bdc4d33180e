package routes

import (
	"github.com/go-chi/chi/v5"

	"github.com/ks-hl/snailpoints/internal/auth"
	"github.com/ks-hl/snailpoints/internal/handlers"
	"github.com/ks-hl/snailpoints/internal/middleware"
	pkghttp "github.com/ks-hl/snailpoints/pkg/http"
)

// AccountChecker answers the per-request role and validation checks of protected routes
type AccountChecker interface {
	auth.AdminChecker
	auth.ValidationChecker
}

// RegisterRoutes registers all application routes
func RegisterRoutes(
	router chi.Router,
	authHandler *handlers.AuthHandler,
	adminHandler *handlers.AdminHandler,
	tokenManager *auth.TokenManager,
	accounts AccountChecker,
	rateLimitConfig middleware.RateLimitConfig,
	ipConfig *pkghttp.IPConfig,
) {
	// Public routes - no authentication required
	router.Group(func(r chi.Router) {
		r.Use(middleware.RateLimitByIP(rateLimitConfig, ipConfig))

		r.Post("/auth/login", authHandler.Login)
		r.Post("/auth/register", authHandler.Register)
		r.Post("/auth/forgot-password", authHandler.ForgotPassword)
		r.Post("/auth/reset-password", authHandler.ResetPassword)
	})

	// Protected routes - authentication required
	router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(tokenManager))

		r.Get("/auth/me", authHandler.Me)

		// Accounts still confirming their email address
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireUnvalidated(accounts))
			r.Post("/auth/verify-email", authHandler.VerifyEmail)
			r.Post("/auth/resend-code", authHandler.ResendCode)
		})

		// Admin-only routes
		r.Group(func(r chi.Router) {
			r.Use(auth.RequireAdmin(accounts))
			r.Post("/admin/accounts/{username}/password", adminHandler.SetPassword)
			r.Post("/admin/sources/{address}/unban", adminHandler.UnbanAddress)
		})
	})
}
