package http

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/utafrali/AuthGo/internal/domain"
	"github.com/utafrali/AuthGo/internal/security"
	"github.com/utafrali/AuthGo/internal/service"
	"github.com/utafrali/AuthGo/pkg/health"
	"github.com/utafrali/AuthGo/pkg/middleware"
)

// NewRouter creates a chi router with all auth service routes registered.
func NewRouter(
	authService *service.AuthService,
	stats *security.StatsAggregator,
	lockout *security.LockoutTracker,
	sweeper *security.Sweeper,
	healthHandler *health.Handler,
	logger *slog.Logger,
	corsConfig middleware.CORSConfig,
	pprofAllowedCIDRs []string,
) http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.CORS(corsConfig))
	r.Use(middleware.Recovery(logger))
	r.Use(middleware.RequestLogging(logger))
	r.Use(middleware.PrometheusMetrics("auth"))
	r.Use(middleware.Tracing("auth"))
	r.Use(middleware.RequestLogger(logger))

	// Health check endpoints
	r.Get("/health/live", healthHandler.LivenessHandler())
	r.Get("/health/ready", healthHandler.ReadinessHandler())
	r.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		promhttp.Handler().ServeHTTP(w, r)
	})

	// Profiling endpoints behind an IP allowlist.
	middleware.RegisterPprof(r, pprofAllowedCIDRs, logger)

	// Token validator that bridges to the auth service. Verification and the
	// revocation check stay in-memory on this path.
	tokenValidator := func(ctx context.Context, token string) (*middleware.Claims, error) {
		claims, err := authService.Authenticate(ctx, token)
		if err != nil {
			return nil, err
		}
		mc := &middleware.Claims{
			UserID:  claims.UserID,
			Email:   claims.Email,
			Role:    claims.Role,
			TokenID: claims.ID,
		}
		if claims.ExpiresAt != nil {
			mc.ExpiresAt = claims.ExpiresAt.Time
		}
		return mc, nil
	}

	authHandler := NewAuthHandler(authService, logger)

	// Public auth endpoints
	r.Route("/api/v1/auth", func(r chi.Router) {
		r.Use(ContentTypeJSON)

		r.Post("/login", authHandler.Login)
		r.Post("/refresh", authHandler.RefreshToken)

		// Authenticated session management
		r.Group(func(r chi.Router) {
			r.Use(middleware.Auth(tokenValidator))

			r.Post("/logout", authHandler.Logout)
			r.Post("/logout-all", authHandler.LogoutAll)
			r.Post("/change-password", authHandler.ChangePassword)
			r.Get("/sessions", authHandler.ListSessions)
			r.Delete("/sessions/{id}", authHandler.RevokeSession)
		})
	})

	// Admin security surface
	adminHandler := NewAdminHandler(stats, lockout, sweeper, logger)
	r.Route("/api/v1/admin/security", func(r chi.Router) {
		r.Use(middleware.Auth(tokenValidator))
		r.Use(middleware.RequireRole(domain.RoleAdmin))

		r.Get("/stats", adminHandler.GetStats)
		r.Post("/cleanup", adminHandler.TriggerCleanup)
		r.Post("/unlock", adminHandler.UnlockAccount)
	})

	return r
}
