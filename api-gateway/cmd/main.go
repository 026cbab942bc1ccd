package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	h "github.com/elizov/khpi-corporate-systems/api-gateway/internal/http"
	"github.com/elizov/khpi-corporate-systems/pkg/logger"
	"github.com/elizov/khpi-corporate-systems/pkg/metrics"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const serviceName = "api-gateway"

type Config struct {
	HTTPPort         string
	OrdersServiceURL string
	AdminServiceURL  string
	ShutdownTimeout  time.Duration
	LogLevel         string
}

func loadConfig() *Config {
	return &Config{
		HTTPPort:         getEnv("HTTP_PORT", "8080"),
		OrdersServiceURL: getEnv("ORDERS_SERVICE_URL", "http://localhost:8081"),
		AdminServiceURL:  getEnv("ADMIN_SERVICE_URL", "http://localhost:8082"),
		ShutdownTimeout:  10 * time.Second,
		LogLevel:         getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg := loadConfig()
	log := logger.New(serviceName, cfg.LogLevel)

	upstreams, err := h.ParseUpstreams(cfg.OrdersServiceURL, cfg.AdminServiceURL)
	if err != nil {
		log.Error("invalid upstream url", "error", err)
		os.Exit(1)
	}

	// trace context crosses service hops through otelhttp
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	router := h.NewRouter(upstreams, metrics.NewServerMetrics(reg, serviceName), reg, log)

	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     otelhttp.NewHandler(router, serviceName),
		ReadTimeout: 10 * time.Second,
		// no WriteTimeout: the realtime stream is proxied through
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		log.Info("API Gateway starting", "http_port", cfg.HTTPPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	log.Info("server exited")
}
