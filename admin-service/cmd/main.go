package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/elizov/khpi-corporate-systems/admin-service/internal/board"
	"github.com/elizov/khpi-corporate-systems/admin-service/internal/consumer"
	adminhttp "github.com/elizov/khpi-corporate-systems/admin-service/internal/http"
	"github.com/elizov/khpi-corporate-systems/pkg/broker"
	"github.com/elizov/khpi-corporate-systems/pkg/healthcheck"
	"github.com/elizov/khpi-corporate-systems/pkg/logger"
	"github.com/elizov/khpi-corporate-systems/pkg/metrics"
	"github.com/elizov/khpi-corporate-systems/pkg/orderclient"
	"github.com/elizov/khpi-corporate-systems/pkg/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const serviceName = "admin-service"

type Config struct {
	HTTPPort          string
	GRPCPort          string
	OrdersServiceURL  string
	KafkaBrokers      []string
	ConsumerGroup     string
	RedisAddr         string
	RedisPassword     string
	ReconcileInterval time.Duration
	RequestTimeout    time.Duration
	ShutdownTimeout   time.Duration
	LogLevel          string
}

func loadConfig() (*Config, error) {
	reconcile, err := time.ParseDuration(getEnv("RECONCILE_INTERVAL", "1m"))
	if err != nil {
		return nil, errors.New("invalid RECONCILE_INTERVAL: " + err.Error())
	}
	return &Config{
		HTTPPort:          getEnv("HTTP_PORT", "8082"),
		GRPCPort:          getEnv("GRPC_PORT", "50062"),
		OrdersServiceURL:  getEnv("ORDERS_SERVICE_URL", "http://localhost:8081"),
		KafkaBrokers:      strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		ConsumerGroup:     getEnv("CONSUMER_GROUP", "admin-service"),
		RedisAddr:         getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:     getEnv("REDIS_PASSWORD", ""),
		ReconcileInterval: reconcile,
		RequestTimeout:    15 * time.Second,
		ShutdownTimeout:   10 * time.Second,
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	cfg, err := loadConfig()
	if err != nil {
		logger.New(serviceName, "info").Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(serviceName, cfg.LogLevel)
	log.Info("admin-service starting...")
	var wg sync.WaitGroup

	// trace context crosses service hops through otelhttp
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()

	orders := orderclient.New(cfg.OrdersServiceURL, orderclient.Options{})
	inbox := board.NewRedisInbox(redisClient)
	hub := realtime.NewHub(log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Realtime relay
	ready := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := hub.Listen(ctx, redisClient, ready); err != nil && ctx.Err() == nil {
			log.Error("realtime relay stopped", "error", err)
		}
	}()

	// orders.new consumer
	if err := broker.Declare(ctx, cfg.KafkaBrokers[0], broker.DefaultTopology(), log); err != nil {
		log.Error("failed to declare broker topology", "error", err)
		os.Exit(1)
	}
	handler := consumer.NewNewOrderHandler(orders, inbox, realtime.NewRedisBroadcaster(redisClient), log)
	newOrders := broker.NewConsumer(
		broker.ConsumerConfig{Queue: broker.QueueNewOrders},
		broker.NewKafkaReader(cfg.KafkaBrokers, cfg.ConsumerGroup, broker.QueueNewOrders),
		handler.Handle,
		metrics.NewConsumerMetrics(reg, serviceName),
		log,
	)
	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := newOrders.Run(ctx); err != nil {
			log.Error("consumer stopped", "error", err)
		}
	}()

	reconciler := board.NewReconciler(inbox, orders, cfg.ReconcileInterval, log)
	wg.Add(1)
	go func() {
		defer wg.Done()
		reconciler.Run(ctx)
	}()

	dashboard := adminhttp.NewDashboardHandler(orders, inbox, cfg.RequestTimeout, log)
	router := adminhttp.NewRouter(dashboard, hub, metrics.NewServerMetrics(reg, serviceName), reg, cfg.RequestTimeout)

	// Request contexts derive from streamCtx so open SSE streams end when
	// shutdown starts instead of holding it until the deadline.
	streamCtx, stopStreams := context.WithCancel(context.Background())
	defer stopStreams()
	srv := &http.Server{
		Addr:        ":" + cfg.HTTPPort,
		Handler:     otelhttp.NewHandler(router, serviceName),
		ReadTimeout: 10 * time.Second,
		// no WriteTimeout: /topic/orders streams indefinitely
		IdleTimeout: 60 * time.Second,
		BaseContext: func(net.Listener) context.Context { return streamCtx },
	}
	srv.RegisterOnShutdown(stopStreams)

	health, err := healthcheck.Listen(cfg.GRPCPort, log)
	if err != nil {
		log.Error("failed to start health server", "error", err)
		os.Exit(1)
	}
	go func() {
		if err := health.Serve(); err != nil {
			log.Error("health server stopped", "error", err)
		}
	}()

	go func() {
		log.Info("admin-service listening", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()

	select {
	case <-ready:
		health.MarkServing(serviceName)
	case <-time.After(10 * time.Second):
		log.Warn("realtime relay not subscribed yet, serving without it")
		health.MarkServing(serviceName)
	}

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down admin-service...")
	health.MarkNotServing(serviceName)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	cancel()

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()

	select {
	case <-doneChan:
		log.Info("workers stopped cleanly")
	case <-shutdownCtx.Done():
		log.Warn("workers didn't stop in time")
	}

	if err := newOrders.Close(); err != nil {
		log.Warn("failed to close consumer", "error", err)
	}
	health.Stop()
	log.Info("admin-service stopped")
}
