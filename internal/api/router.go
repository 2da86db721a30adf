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
	r.Use(s.bodySizeLimitMiddleware)

	r.Get("/healthz", s.handleHealth)
	r.Get("/metrics", s.handleMetrics)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{id}", s.handleGetDevice)
		r.Get("/alarm", s.handleGetAlarm)
		r.Get("/journal", s.handleListJournal)
		r.Get("/events/ws", s.handleWebSocket)

		// Commands
		r.Group(func(r chi.Router) {
			r.Use(s.authMiddleware)
			r.Post("/alarm/arm", s.handleArm)
			r.Post("/alarm/disarm", s.handleDisarm)
			r.Post("/override", s.handleOverride)
		})
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": s.version,
	})
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	if s.metrics == nil {
		writeUnavailable(w, "metrics not configured")
		return
	}
	s.metrics.ServeHTTP(w, r)
}
