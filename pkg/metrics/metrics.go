package metrics

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "shop"

// Result labels used by OutboxSends.
const (
	OutboxSent       = "sent"
	OutboxFailed     = "failed"
	OutboxDropped    = "dropped"
	OutboxUnroutable = "unroutable"
)

// Result labels used by ConsumerMessages.
const (
	ConsumerApplied      = "applied"
	ConsumerDropped      = "dropped"
	ConsumerDecodeFailed = "decode_failed"
	ConsumerFailed       = "failed"
)

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(reg prometheus.Registerer, service string) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem(service),
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem(service),
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// Middleware records request count and latency labelled by chi route pattern.
func (m *ServerMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unknown"
		if rctx := chi.RouteContext(r.Context()); rctx != nil && rctx.RoutePattern() != "" {
			route = rctx.RoutePattern()
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}

// OutboxMetrics counts post-commit sends per destination and result.
type OutboxMetrics struct {
	Sends *prometheus.CounterVec
}

func NewOutboxMetrics(reg prometheus.Registerer, service string) *OutboxMetrics {
	sends := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem(service),
		Name:      "outbox_sends_total",
		Help:      "Post-commit event sends by sink and result.",
	}, []string{"sink", "result"})
	reg.MustRegister(sends)
	return &OutboxMetrics{Sends: sends}
}

func (m *OutboxMetrics) Observe(sink, result string) {
	if m == nil {
		return
	}
	m.Sends.WithLabelValues(sink, result).Inc()
}

// ConsumerMetrics counts consumed broker messages per queue and result.
type ConsumerMetrics struct {
	Messages *prometheus.CounterVec
}

func NewConsumerMetrics(reg prometheus.Registerer, service string) *ConsumerMetrics {
	messages := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem(service),
		Name:      "consumer_messages_total",
		Help:      "Consumed broker messages by queue and result.",
	}, []string{"queue", "result"})
	reg.MustRegister(messages)
	return &ConsumerMetrics{Messages: messages}
}

func (m *ConsumerMetrics) Observe(queue, result string) {
	if m == nil {
		return
	}
	m.Messages.WithLabelValues(queue, result).Inc()
}

// Handler exposes the collectors registered on g.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// subsystem turns a service name such as "orders-service" into a valid
// metric name component.
func subsystem(service string) string {
	return strings.NewReplacer("-", "_", ".", "_").Replace(service)
}
