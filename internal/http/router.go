package http

import (
	"context"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/tripletsrewards/server/internal/http/handlers"
	"github.com/tripletsrewards/server/internal/middleware"
)

// Handlers bundles every endpoint group the router mounts
type Handlers struct {
	Auth    *handlers.AuthHandler
	Account *handlers.AccountHandler
	Admin   *handlers.AdminHandler
	Sponsor *handlers.SponsorHandler
	Driver  *handlers.DriverHandler
	Health  *handlers.HealthHandler
}

// Deps is what the router needs besides the handlers
type Deps struct {
	Authenticator middleware.Authenticator
	Policy        middleware.Policy
	Logger        *zerolog.Logger
}

// NewRouter creates a new HTTP router with all routes configured. ctx bounds the
// rate limiters' cleanup goroutines.
func NewRouter(ctx context.Context, h Handlers, deps Deps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(middleware.AccessLog(deps.Logger))
	r.Use(chimw.Recoverer)

	r.Get("/health", h.Health.ServeHTTP)

	// 10 logins, 20 second-factor attempts and 5 reset requests per IP per 10 minutes
	loginLimiter := middleware.NewRateLimiter(ctx, 10*time.Minute, 10)
	verifyLimiter := middleware.NewRateLimiter(ctx, 10*time.Minute, 20)
	resetLimiter := middleware.NewRateLimiter(ctx, 10*time.Minute, 5)

	authn := middleware.AuthMiddleware(deps.Authenticator, deps.Logger)
	authz := middleware.Authorize(deps.Policy, deps.Logger)

	r.Route("/auth", func(r chi.Router) {
		r.With(middleware.RateLimitMiddleware(loginLimiter, middleware.GetIPKey)).Post("/login", h.Auth.HandleLogin)
		r.With(middleware.RateLimitMiddleware(verifyLimiter, middleware.GetIPKey)).Post("/2fa/verify", h.Auth.HandleVerifySecondFactor)
		r.With(middleware.RateLimitMiddleware(verifyLimiter, middleware.GetIPKey)).Post("/2fa/resend", h.Auth.HandleResendCode)
		r.With(middleware.RateLimitMiddleware(resetLimiter, middleware.GetIPKey)).Post("/reset", h.Auth.HandleRequestReset)
		r.With(middleware.RateLimitMiddleware(verifyLimiter, middleware.GetIPKey)).Post("/reset/{token}", h.Auth.HandleCompleteReset)
		r.With(authn, authz).Post("/logout", h.Auth.HandleLogout)
	})

	// Protected routes (valid session, role allowed by policy)
	r.Group(func(r chi.Router) {
		r.Use(authn, authz)

		r.Get("/landing", h.Auth.HandleLanding)

		r.Route("/account", func(r chi.Router) {
			r.Get("/me", h.Account.HandleMe)
			r.Post("/password", h.Account.HandleChangePassword)
			r.Post("/contact", h.Account.HandleUpdateContact)
			r.Post("/2fa/totp/setup", h.Account.HandleBeginTOTP)
			r.Post("/2fa/totp/confirm", h.Account.HandleConfirmTOTP)
			r.Post("/2fa/totp/disable", h.Account.HandleDisableTOTP)
			r.Post("/2fa/email/setup", h.Account.HandleBeginEmail2FA)
			r.Post("/2fa/email/confirm", h.Account.HandleConfirmEmail2FA)
			r.Post("/2fa/email/enable", h.Account.HandleEnableEmail2FA)
			r.Post("/2fa/email/disable", h.Account.HandleDisableEmail2FA)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Get("/dashboard", h.Admin.HandleDashboard)
			r.Get("/sponsors", h.Admin.HandleListSponsorUsers)
			r.Post("/sponsors", h.Admin.HandleCreateSponsorUser)
			r.Post("/accounts/{id}/lock", h.Admin.HandleLockAccount)
			r.Post("/accounts/{id}/unlock", h.Admin.HandleUnlockAccount)
			r.Post("/bulk", h.Admin.HandleBulkUpload)
			r.Get("/bulk/template", h.Admin.HandleBulkTemplate)
			r.Get("/bulk/logs/{name}", h.Admin.HandleBulkLog)
		})

		r.Route("/sponsor", func(r chi.Router) {
			r.Get("/dashboard", h.Sponsor.HandleDashboard)
			r.Get("/drivers", h.Sponsor.HandleListDrivers)
			r.Post("/drivers", h.Sponsor.HandleAddDriver)
			r.Post("/drivers/{id}/points", h.Sponsor.HandleAdjustPoints)
			r.Get("/applications", h.Sponsor.HandlePendingApplications)
			r.Post("/applications/{id}", h.Sponsor.HandleDecideApplication)
			r.Get("/accepted", h.Sponsor.HandleAcceptedDrivers)
			r.Get("/settings", h.Sponsor.HandleGetSettings)
			r.Post("/settings", h.Sponsor.HandleUpdateSettings)
			r.Post("/bulk", h.Sponsor.HandleBulkUpload)
			r.Get("/bulk/template", h.Sponsor.HandleBulkTemplate)
		})

		r.Route("/driver", func(r chi.Router) {
			r.Get("/dashboard", h.Driver.HandleDashboard)
			r.Post("/applications", h.Driver.HandleApply)
		})
	})

	return r
}
