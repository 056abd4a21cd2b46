package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(
		middleware.RequestID,
		echoRequestID,
		s.observe,
		s.recoverPanics,
		s.cors,
		middleware.RequestSize(maxRequestBodySize),
	)

	if s.metrics != nil {
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/networks/{id}", func(r chi.Router) {
			r.Put("/", s.handleSaveNetwork)
			r.Delete("/", s.handleDeleteNetwork)
		})

		r.Route("/device-types/{id}", func(r chi.Router) {
			r.Put("/", s.handleSaveDeviceType)
			r.Delete("/", s.handleDeleteDeviceType)
		})

		r.Route("/devices/{id}", func(r chi.Router) {
			r.Put("/", s.handleSaveDevice)
			r.Delete("/", s.handleDeleteDevice)
			r.Post("/notifications", s.handleInsertNotification)
			r.Post("/commands", s.handleInsertCommand)
			r.Put("/commands/{commandID}", s.handleUpdateCommand)
		})

		r.Get("/subscriptions", s.handleListSubscriptions)

		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"version":    s.version,
		"ws_clients": s.hub.ClientCount(),
	})
}
