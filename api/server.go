/*
server.go - HTTP router and middleware configuration

PURPOSE:
  Configures the chi router, middleware stack, and route definitions.
  This is the wiring layer that connects URLs to handlers.

MIDDLEWARE STACK:
  1. Logger:     Request logging
  2. Recoverer:  Panic recovery (500 instead of crash)
  3. RequestID:  Unique ID per request for tracing
  4. CORS:       Cross-origin requests for dashboards

SEE ALSO:
  - handlers.go: Handler implementations
  - cmd/server/main.go: Server startup
*/
package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a router with all routes configured.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", CallerHeader},
		AllowCredentials: false,
	}))

	r.Route("/api", func(r chi.Router) {
		r.Route("/periods", func(r chi.Router) {
			r.Get("/", h.ListPeriods)
			r.Post("/", h.CreatePeriod)
			r.Post("/batch", h.CreatePeriodBatch)
			r.Get("/current", h.GetCurrentPeriod)
			r.Get("/{id}", h.GetPeriod)
			r.Put("/{id}", h.UpdatePeriod)
		})

		r.Route("/accounts/{address}", func(r chi.Router) {
			r.Get("/energy", h.GetEnergy)
			r.Get("/bonus", h.GetBonus)
			r.Get("/breakdown", h.GetBreakdown)
			r.Post("/spend", h.Spend)
			r.Post("/history", h.AddSnapshot)
			r.Post("/claimable", h.SetClaimable)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Post("/pause", h.Pause)
			r.Post("/unpause", h.Unpause)
			r.Post("/roles", h.ChangeRole)
		})

		r.Get("/events", h.ListEvents)
		r.Get("/health", h.Health)
	})

	if h.Metrics != nil {
		r.Method("GET", "/metrics", promhttp.HandlerFor(h.Metrics.Registry, promhttp.HandlerOpts{}))
	}

	return r
}
