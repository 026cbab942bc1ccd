package http

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httputil"
	"net/url"

	"github.com/elizov/khpi-corporate-systems/pkg/contracts"
	"github.com/elizov/khpi-corporate-systems/pkg/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

type Upstreams struct {
	Orders *url.URL
	Admin  *url.URL
}

// newProxy forwards to target. FlushInterval -1 keeps SSE responses
// streaming instead of buffered.
func newProxy(target *url.URL, logger *slog.Logger) *httputil.ReverseProxy {
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			pr.SetXForwarded()
		},
		Transport:     otelhttp.NewTransport(http.DefaultTransport),
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			logger.WarnContext(r.Context(), "upstream request failed",
				slog.String("host", target.Host),
				slog.String("path", r.URL.Path),
				slog.Any("error", err),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadGateway)
			_ = json.NewEncoder(w).Encode(contracts.ErrorResponse{Error: "upstream unavailable", Code: "bad_gateway"})
		},
	}
}

func NewRouter(up Upstreams, m *metrics.ServerMetrics, gatherer prometheus.Gatherer, logger *slog.Logger) http.Handler {
	orders := newProxy(up.Orders, logger)
	admin := newProxy(up.Admin, logger)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(m.Middleware)
	r.Use(MockAuthMiddleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler(gatherer))

	// orders-service
	r.Handle("/api/v1/orders", orders)
	r.Handle("/api/v1/orders/*", orders)
	r.Handle("/api/admin/orders", orders)
	r.Handle("/api/admin/orders/*", orders)

	// admin-service trusts the gateway for staff-only access
	r.Group(func(r chi.Router) {
		r.Use(RequireRole(RoleAdmin))
		r.Handle("/api/dashboard", admin)
		r.Handle("/api/dashboard/*", admin)
		r.Handle("/api/orders/*", admin)
		r.Get("/topic/orders", admin.ServeHTTP)
	})

	return r
}

// ParseUpstreams validates the configured service addresses.
func ParseUpstreams(ordersURL, adminURL string) (Upstreams, error) {
	o, err := url.Parse(ordersURL)
	if err != nil {
		return Upstreams{}, err
	}
	a, err := url.Parse(adminURL)
	if err != nil {
		return Upstreams{}, err
	}
	return Upstreams{Orders: o, Admin: a}, nil
}
