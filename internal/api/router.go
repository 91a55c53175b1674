package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/nerrad567/homismart-go/internal/session"
)

// Handler returns the HTTP handler without starting a listener.
func (s *Server) Handler() http.Handler {
	return s.buildRouter()
}

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.bodySizeLimitMiddleware)
	if s.metrics != nil {
		r.Use(s.metrics.Middleware)
		r.Handle("/metrics", s.metrics.Handler())
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)

		r.Route("/devices", func(r chi.Router) {
			r.Get("/", s.handleListDevices)
			r.Get("/stats", s.handleDeviceStats)

			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetDevice)
				r.With(s.authMiddleware).Post("/commands", s.handleDeviceCommand)
			})
		})

		r.Get("/hubs", s.handleListHubs)
		r.With(s.authMiddleware).Get("/ws", s.handleWebSocket)
	})

	return r
}

// handleHealth reports the session state. It answers 200 whenever the
// server is up; callers read "authenticated" to judge the upstream link.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	state := s.session.State()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ok",
		"version":       s.version,
		"session":       state.String(),
		"authenticated": state == session.Authenticated,
		"username":      s.session.Username(),
		"ws_clients":    s.hub.ClientCount(),
	})
}
