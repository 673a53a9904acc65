package server

import (
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
)

func SetupRoutes(handler *Handler) *chi.Mux {
	r := chi.NewRouter()

	for _, middleware := range SetupMiddleware() {
		r.Use(middleware)
	}

	// Health check endpoint
	r.Get("/health", handler.HealthCheck)

	// JSON API routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Use(APITimeout())
		r.Use(render.SetContentType(render.ContentTypeJSON))

		r.Get("/height", handler.GetHeight)
		r.Get("/viewer", handler.GetViewer)
		r.Post("/viewer", handler.SetViewer)
		r.Get("/chunks", handler.ListChunks)
		r.Get("/chunks/{x}/{z}", handler.GetChunk)
		r.Get("/stats", handler.GetStats)
	})

	// Long-lived chunk load/evict event stream, outside the API timeout.
	r.Get("/ws/events", handler.StreamEvents)

	return r
}
