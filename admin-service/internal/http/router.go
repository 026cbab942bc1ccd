package http

import (
	"net/http"
	"time"

	"github.com/elizov/khpi-corporate-systems/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

// NewRouter wires the dashboard API and the realtime stream. The stream is
// kept outside the request timeout.
func NewRouter(h *DashboardHandler, stream http.Handler, m *metrics.ServerMetrics, gatherer prometheus.Gatherer, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(m.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler(gatherer))
	r.Get("/topic/orders", stream.ServeHTTP)

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(requestTimeout))
		r.Get("/dashboard", h.Snapshot)
		r.Get("/dashboard/inbox", h.Inbox)
		r.Post("/orders/{order_id}/confirm", h.Confirm)
		r.Post("/orders/{order_id}/cancel", h.Cancel)
	})

	return r
}
