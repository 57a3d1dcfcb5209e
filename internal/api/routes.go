package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter creates a new router with all routes configured. When the
// handler carries an API key, every route except health requires it.
func NewRouter(h *Handler) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(LoggingMiddleware)
	r.Use(middleware.Recoverer)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", h.Health)

		r.Group(func(r chi.Router) {
			if h.apiKey != "" {
				r.Use(AuthMiddleware(h.apiKey))
			}
			r.Get("/decision", h.Decision)
			r.Post("/events/conversion", h.Conversion)
			r.Post("/events/permission", h.PermissionResult)
			r.Post("/events/deeplink", h.DeepLink)
			r.Post("/permission/status", h.PermissionStatus)
			r.Put("/identifiers", h.Identifiers)
			r.Get("/launches", h.Launches)
		})
	})

	return r
}
