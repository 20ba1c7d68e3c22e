package router

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wolfman30/tatamali-wallet/internal/http/handlers"
	httpmiddleware "github.com/wolfman30/tatamali-wallet/internal/http/middleware"
	"github.com/wolfman30/tatamali-wallet/pkg/logging"
)

// Config holds router configuration
type Config struct {
	Logger         *logging.Logger
	Health         *handlers.HealthHandler
	WhatsApp       *handlers.WhatsAppWebhookHandler
	Transfers      *handlers.TransferHandler
	Notifications  *handlers.NotificationHandler
	Registration   *handlers.RegistrationHandler
	History        *handlers.HistoryHandler
	MetricsHandler http.Handler

	// API auth: an X-API-Key or an HS256 Bearer token.
	APIKey         string
	AdminJWTSecret string
	// RateLimiter throttles the /api/v1 group per client IP when set.
	RateLimiter *httpmiddleware.RateLimiter
}

// New creates a new Chi router with all routes configured
func New(cfg *Config) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	if cfg.Logger != nil {
		r.Use(httpmiddleware.RequestLogger(cfg.Logger))
	}

	// Public endpoints (webhooks, health checks)
	r.Group(func(public chi.Router) {
		if cfg.Health != nil {
			public.Get("/health", cfg.Health.Live)
			public.Get("/ready", cfg.Health.Ready)
		}
		if cfg.MetricsHandler != nil {
			public.Handle("/metrics", cfg.MetricsHandler)
		}
		if cfg.WhatsApp != nil {
			public.Get("/webhooks/whatsapp", cfg.WhatsApp.Verify)
			public.Post("/webhooks/whatsapp", cfg.WhatsApp.Receive)
		}
	})

	r.Route("/api/v1", func(api chi.Router) {
		// The registration app redirects the user's browser here, so it
		// carries no API credentials.
		if cfg.Registration != nil {
			api.Get("/registration/callback", cfg.Registration.Callback)
		}

		api.Group(func(secured chi.Router) {
			if cfg.RateLimiter != nil {
				secured.Use(httpmiddleware.RateLimit(cfg.RateLimiter))
			}
			secured.Use(httpmiddleware.APIAuth(cfg.APIKey, cfg.AdminJWTSecret))

			if cfg.Transfers != nil {
				secured.Post("/transfers", cfg.Transfers.Create)
				secured.Post("/transfers/notify", cfg.Transfers.Notify)
			}
			if cfg.Notifications != nil {
				secured.Post("/notifications", cfg.Notifications.Send)
				secured.Post("/messages", cfg.Notifications.SendMessage)
			}
			if cfg.History != nil {
				secured.Get("/wallets/{phone}/transactions", cfg.History.List)
			}
		})
	})

	return r
}
