package http

import (
	"net/http"
	"time"

	"github.com/elizov/khpi-corporate-systems/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
)

func NewRouter(h *OrdersHandler, m *metrics.ServerMetrics, gatherer prometheus.Gatherer, requestTimeout time.Duration) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(m.Middleware)
	r.Use(IdentityMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler(gatherer))

	r.Route("/api/v1/orders", func(r chi.Router) {
		r.Post("/", h.CreateOrder)
		r.Get("/", h.ListOrders)
		r.Get("/{order_id}", h.GetOrder)
	})

	r.Route("/api/admin/orders", func(r chi.Router) {
		r.Use(RequireRole(RoleAdmin))
		r.Get("/", h.ListByStatus)
		r.Get("/{order_id}", h.AdminGetOrder)
		r.Post("/{order_id}/confirm", h.Confirm)
		r.Post("/{order_id}/cancel", h.Cancel)
	})

	return r
}
