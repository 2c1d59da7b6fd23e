package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	// Global middleware
	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)
	r.Use(s.corsMiddleware)
	r.Use(s.bodySizeLimitMiddleware)

	if s.metricsHandler != nil && s.metricsCfg.Enabled && s.metricsCfg.Path != "" && s.metricsCfg.Path != "/api/v1/metrics" {
		r.Method(http.MethodGet, s.metricsCfg.Path, s.metricsHandler)
	}

	r.Route("/api/v1", func(r chi.Router) {
		// Health check and metrics (no auth required)
		r.Get("/health", s.handleHealth)
		if s.metricsHandler != nil {
			r.Method(http.MethodGet, "/metrics", s.metricsHandler)
		}

		// WebSocket (auth via ticket, validated in handler)
		r.Get("/ws", s.handleWebSocket)

		r.Group(func(r chi.Router) {
			r.Use(s.apiKeyMiddleware)

			r.Post("/auth/login", s.handleLogin)
			r.Post("/auth/ws-ticket", s.handleWSTicket)
			r.Post("/status/refresh", s.handleRefresh)

			r.Route("/devices", func(r chi.Router) {
				r.Get("/", s.handleListDevices)
				r.Post("/discover", s.handleDiscover)

				r.Route("/{id}", func(r chi.Router) {
					r.Get("/", s.handleGetDevice)

					r.Post("/programs/stop-all", s.handleStopAll)
					r.Post("/programs/{program}/activate", s.handleActivateProgram)
					r.Post("/programs/{program}/deactivate", s.handleDeactivateProgram)

					r.Get("/entities", s.handleListEntities)
					r.Put("/entities/{key}", s.handleEntityCommand)

					r.Get("/pump", s.handleGetPump)
					r.Put("/pump", s.handleSetPump)
					r.Delete("/pump", s.handleStopPump)

					r.Put("/heater", s.handleSetHeater)

					r.Get("/climate", s.handleGetClimate)
					r.Put("/climate", s.handleSetClimate)
				})
			})
		})
	})

	return r
}

// handleHealth returns the server health status.
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	body := map[string]any{
		"status":            "ok",
		"version":           s.version,
		"devices":           len(s.core.Devices()),
		"websocket_clients": s.hub.ClientCount(),
	}
	if s.session != nil {
		body["authenticated"] = s.session.Authenticated()
		if cred, ok := s.session.Current(); ok {
			body["token_generation"] = cred.Generation
			body["token_expires_at"] = cred.IDTokenExpiry.UTC().Format(time.RFC3339)
		}
	}
	writeJSON(w, http.StatusOK, body)
}
