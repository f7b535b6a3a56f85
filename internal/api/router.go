package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/peers", s.handleListPeers)
		r.Get("/peers/{addr64}", s.handleGetPeer)
		r.Get("/sightings", s.handleListSightings)
		r.Get("/ws", s.handleWebSocket)

		// Control routes
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)

			r.Delete("/peers", s.handleClearPeers)
			r.Post("/discover", s.handleDiscover)
			r.Post("/send", s.handleSend)
		})
	})

	return r
}
