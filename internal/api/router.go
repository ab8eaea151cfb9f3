package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/metrics", s.handleMetrics)

		// Full status snapshot
		r.Get("/status", s.handleStatus)

		// Per-light endpoints
		r.Route("/lights", func(r chi.Router) {
			r.Get("/", s.handleListLights)

			r.Route("/{mac}", func(r chi.Router) {
				r.Get("/", s.handleGetLight)
				r.Post("/cct", s.handleSetCCT)
				r.Post("/power", s.handleSetPower)
			})
		})

		// Fan-out command endpoint; target may be a MAC or "all"
		r.Post("/command", s.handleCommand)

		// WebSocket for real-time status push
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	st := s.manager.Status()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"version":   s.version,
		"connected": st.Connected,
		"total":     st.Total,
	})
}

// handleMetrics returns lifecycle counters for monitoring.
func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"lifecycle":  s.manager.Stats(),
		"ws_clients": s.hub.ClientCount(),
	})
}
