package api

import (
	"net/http"

	"github.com/Rrens/healthchat/internal/api/handler"
	customMiddleware "github.com/Rrens/healthchat/internal/api/middleware"
	"github.com/Rrens/healthchat/internal/chat"
	"github.com/Rrens/healthchat/internal/config"
	"github.com/Rrens/healthchat/internal/metrics"
	"github.com/Rrens/healthchat/internal/service"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
)

// Dependencies are the components the router wires into handlers
type Dependencies struct {
	Config   *config.Config
	Auth     service.Authenticator
	Registry *chat.Registry
	// Credits may be nil to disable message metering
	Credits handler.CreditLedger
	Metrics *metrics.Collector
	// Checks are probed by the readiness endpoint
	Checks map[string]handler.Pinger
}

// NewRouter creates and configures the HTTP router
func NewRouter(deps Dependencies) http.Handler {
	cfg := deps.Config
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(customMiddleware.Logger(deps.Metrics))
	r.Use(middleware.Recoverer)
	if cfg.Server.MiddlewareTimeout > 0 {
		r.Use(middleware.Timeout(cfg.Server.MiddlewareTimeout))
	}

	// CORS
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", customMiddleware.GuestIDHeader},
		ExposedHeaders:   []string{"X-Request-ID", customMiddleware.GuestIDHeader},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	if cfg.Metrics.Enabled && deps.Metrics != nil {
		r.Handle(cfg.Metrics.Path, deps.Metrics.Handler())
	}

	credits := handler.NewCredits(deps.Credits, cfg.Credits)

	// Initialize handlers
	authHandler := handler.NewAuthHandler(deps.Auth, deps.Registry, credits, cfg.Auth.ExposeResetToken)
	conversationHandler := handler.NewConversationHandler(credits)
	promptHandler := handler.NewPromptHandler()

	sessionMiddleware := customMiddleware.NewSessionMiddleware(deps.Auth, deps.Registry)

	r.Route("/api/v1", func(r chi.Router) {
		// Health check
		r.Get("/health", handler.HealthCheck)
		r.Get("/ready", handler.ReadyCheck(deps.Checks))

		// Auth routes (public)
		r.Route("/auth", func(r chi.Router) {
			r.Post("/register", authHandler.Register)
			r.Post("/login", authHandler.Login)
			r.Post("/refresh", authHandler.Refresh)
			r.Post("/password-reset", authHandler.RequestPasswordReset)
			r.Post("/password-reset/confirm", authHandler.ConfirmPasswordReset)
			r.With(sessionMiddleware.Resolve, customMiddleware.RequireUser).Post("/logout", authHandler.Logout)
		})

		// Session routes: signed-in users and guests
		r.Group(func(r chi.Router) {
			r.Use(sessionMiddleware.Resolve)

			r.Route("/conversations", func(r chi.Router) {
				r.Get("/", conversationHandler.List)
				r.Post("/", conversationHandler.Create)
				r.Post("/reload", conversationHandler.Reload)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", conversationHandler.Get)
					r.Patch("/", conversationHandler.Rename)
					r.Delete("/", conversationHandler.Delete)
					r.Post("/select", conversationHandler.Select)
					r.Post("/messages", conversationHandler.SendMessage)
					r.Post("/messages/reload", conversationHandler.ReloadMessages)
				})
			})

			r.Route("/prompts", func(r chi.Router) {
				r.Get("/", promptHandler.List)
				r.Post("/", promptHandler.Create)
				r.Delete("/active", promptHandler.Deactivate)
				r.Put("/{id}", promptHandler.Update)
				r.Delete("/{id}", promptHandler.Delete)
				r.Post("/{id}/activate", promptHandler.Activate)
			})

			r.Get("/settings", handler.GetSettings)
			r.Patch("/settings", handler.UpdateSettings)
			r.Get("/credits", credits.Get)
		})
	})

	return r
}
