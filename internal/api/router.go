package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/Fantasim/minerstake/internal/api/handlers"
	"github.com/Fantasim/minerstake/internal/api/middleware"
)

// Version is set at build time via ldflags.
var Version = "dev"

// NewRouter creates and configures the Chi router with all middleware and routes.
func NewRouter(deps *handlers.Deps) chi.Router {
	if deps.Version == "" {
		deps.Version = Version
	}

	r := chi.NewRouter()

	// Middleware stack (order matters)
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestLogging)
	r.Use(middleware.HostCheck)
	r.Use(middleware.CORS)
	r.Use(middleware.CSRF)

	slog.Info("router initialized",
		"middleware", []string{"requestID", "requestLogging", "hostCheck", "cors", "csrf"},
	)

	r.Route("/api", func(r chi.Router) {
		r.Get("/health", handlers.HealthHandler(deps))
		r.Get("/tiers", handlers.ListTiers(deps))
		r.Get("/events", handlers.Events(deps))

		r.Route("/wallet", func(r chi.Router) {
			r.Get("/", handlers.GetWallet(deps))
			r.Post("/connect", handlers.ConnectWallet(deps))
			r.Post("/disconnect", handlers.DisconnectWallet(deps))
			r.Post("/switch", handlers.SwitchWallet(deps))
		})

		r.Get("/positions", handlers.ListPositions(deps))
		r.Get("/positions/{tokenId}", handlers.GetPosition(deps))
		r.Get("/balances", handlers.GetBalances(deps))

		r.Get("/pool", handlers.GetPool(deps))
		r.Get("/pool/preview", handlers.PreviewSell(deps))

		r.Route("/actions", func(r chi.Router) {
			r.Get("/", handlers.ListActions(deps))
			r.Get("/inflight", handlers.ListInFlight(deps))
			r.Get("/log/{id}", handlers.GetAction(deps))
			r.Post("/{kind}", handlers.SubmitAction(deps))
		})
		r.Get("/history", handlers.GetHistory(deps))
	})

	return r
}
