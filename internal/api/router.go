package api

import (
	"log/slog"

	"github.com/go-chi/chi/v5"

	"github.com/iammorganparry/clive/apps/semantic-memory/internal/memory"
	"github.com/iammorganparry/clive/apps/semantic-memory/internal/metrics"
)

// NewRouter creates the Chi router with all routes and middleware.
func NewRouter(
	svc *memory.Service,
	m *metrics.Metrics,
	apiToken string,
	logger *slog.Logger,
) *chi.Mux {
	r := chi.NewRouter()

	// Global middleware (runs on ALL routes including /health)
	r.Use(RequestID)
	r.Use(Logger(logger))
	r.Use(Recovery(logger))

	healthH := NewHealthHandler(svc)
	memoryH := NewMemoryHandler(svc, logger)

	// Unauthenticated routes
	r.Get("/health", healthH.Health)
	r.Handle("/metrics", m.Handler())

	// Authenticated routes
	r.Group(func(r chi.Router) {
		r.Use(BearerAuth(apiToken, logger))

		r.Route("/memory", func(r chi.Router) {
			r.Post("/set", memoryH.Set)
			r.Post("/get", memoryH.Get)
			r.Post("/search", memoryH.Search)
			r.Post("/forget", memoryH.Forget)
		})
		r.Post("/escalate", Escalate)
	})

	return r
}
