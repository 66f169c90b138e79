package api

import (
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/good-yellow-bee/sentrymail/internal/api/middleware"
)

// setupRouter creates and configures the chi router with all routes.
func (s *Server) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestLogger(s.logger))
	r.Use(middleware.Recoverer(s.logger))
	r.Use(middleware.PrometheusMiddleware)

	r.Get("/health", s.handleHealth)
	r.Method("GET", "/metrics", promhttp.Handler())

	// API v1 routes
	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/alerts", func(r chi.Router) {
			r.Post("/", s.handleIngestAlerts)
			r.Post("/simulate", s.handleSimulateAlerts)
			r.Get("/", s.handleListAlerts)
		})

		r.Post("/check-alerts", s.handleCheckAlerts)
		r.Get("/notifications", s.handleListNotifications)

		r.Route("/email-jobs", func(r chi.Router) {
			r.Post("/process", s.handleProcessEmailJobs)
			r.Get("/", s.handleListEmailJobs)
		})

		r.Post("/test-email", s.handleTestEmail)
		r.Get("/stats", s.handleStats)
	})

	return r
}
