package http

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewRouter creates a new HTTP router with configured routes, middleware, and handlers.
// It sets up task and fingerprint routes, health check, and Prometheus metrics endpoint.
func NewRouter(service HarvestServiceI, logger *slog.Logger) *chi.Mux {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Logger)

	taskHandler := NewTaskHandler(service, logger)
	fingerprintHandler := NewFingerprintHandler(service, logger)

	r.Route("/tasks", func(r chi.Router) {
		r.Post("/", taskHandler.EnqueueTask)
		r.Get("/", taskHandler.ListTasks)
		r.Delete("/", taskHandler.CancelTasks)
		r.Get("/{taskID}", taskHandler.GetTask)
		r.Post("/{taskID}/retry", taskHandler.RetryTask)
	})

	r.Route("/fingerprints", func(r chi.Router) {
		r.Get("/lookup", fingerprintHandler.Lookup)
		r.Post("/scans", fingerprintHandler.StartScan)
		r.Get("/scans/{scanID}", fingerprintHandler.GetScan)
		r.Delete("/", fingerprintHandler.Clear)
	})

	r.Get("/stats", fingerprintHandler.Stats)
	r.Get("/activity", fingerprintHandler.Activity)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Handle("/metrics", promhttp.Handler())

	return r
}
