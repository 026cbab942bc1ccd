package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/elizov/khpi-corporate-systems/downstream-service/internal/consumer"
	"github.com/elizov/khpi-corporate-systems/downstream-service/internal/sink"
	"github.com/elizov/khpi-corporate-systems/pkg/broker"
	"github.com/elizov/khpi-corporate-systems/pkg/healthcheck"
	"github.com/elizov/khpi-corporate-systems/pkg/logger"
	"github.com/elizov/khpi-corporate-systems/pkg/metrics"
	"github.com/elizov/khpi-corporate-systems/pkg/orderclient"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const serviceName = "downstream-service"

type Config struct {
	HTTPPort         string
	GRPCPort         string
	OrdersServiceURL string
	KafkaBrokers     []string
	ConsumerGroup    string
	MongoURI         string
	MongoDBName      string
	ShutdownTimeout  time.Duration
	LogLevel         string
}

func loadConfig() *Config {
	return &Config{
		HTTPPort:         getEnv("HTTP_PORT", "8083"),
		GRPCPort:         getEnv("GRPC_PORT", "50063"),
		OrdersServiceURL: getEnv("ORDERS_SERVICE_URL", "http://localhost:8081"),
		KafkaBrokers:     strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		ConsumerGroup:    getEnv("CONSUMER_GROUP", "downstream-service"),
		MongoURI:         getEnv("MONGO_URI", "mongodb://localhost:27017"),
		MongoDBName:      getEnv("MONGO_DB_NAME", "downstream"),
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
	log.Info("downstream-service starting...")
	var wg sync.WaitGroup

	// trace context crosses service hops through otelhttp
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// MongoDB
	connectCtx, connectCancel := context.WithTimeout(ctx, 15*time.Second)
	db, err := sink.ConnectMongoDB(connectCtx, cfg.MongoURI, cfg.MongoDBName)
	if err == nil {
		err = sink.NewMongoStore(db).CreateIndexes(connectCtx)
	}
	connectCancel()
	if err != nil {
		log.Error("failed to prepare MongoDB", "error", err)
		os.Exit(1)
	}
	defer db.Client().Disconnect(context.Background())
	store := sink.NewMongoStore(db)

	if err := broker.Declare(ctx, cfg.KafkaBrokers[0], broker.DefaultTopology(), log); err != nil {
		log.Error("failed to declare broker topology", "error", err)
		os.Exit(1)
	}

	handlers := consumer.NewHandlers(orderclient.New(cfg.OrdersServiceURL, orderclient.Options{}), store, log)
	consumerMetrics := metrics.NewConsumerMetrics(reg, serviceName)

	consumers := []*broker.Consumer{
		broker.NewConsumer(
			broker.ConsumerConfig{Queue: broker.QueueConfirmedOrders},
			broker.NewKafkaReader(cfg.KafkaBrokers, cfg.ConsumerGroup+"-procurement", broker.QueueConfirmedOrders),
			handlers.Procurement, consumerMetrics, log,
		),
		broker.NewConsumer(
			broker.ConsumerConfig{Queue: broker.QueueCanceledOrders},
			broker.NewKafkaReader(cfg.KafkaBrokers, cfg.ConsumerGroup+"-quality", broker.QueueCanceledOrders),
			handlers.Quality, consumerMetrics, log,
		),
	}
	for _, c := range consumers {
		wg.Add(1)
		go func(c *broker.Consumer) {
			defer wg.Done()
			if err := c.Run(ctx); err != nil {
				log.Error("consumer stopped", "error", err)
			}
		}(c)
	}

	// Metrics only
	r := chi.NewRouter()
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Handle("/metrics", metrics.Handler(reg))
	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("metrics server error", "error", err)
		}
	}()

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
	health.MarkServing(serviceName)
	log.Info("downstream-service running", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down downstream-service...")
	health.MarkNotServing(serviceName)
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer shutdownCancel()

	doneChan := make(chan struct{})
	go func() {
		wg.Wait()
		close(doneChan)
	}()
	select {
	case <-doneChan:
		log.Info("consumers stopped cleanly")
	case <-shutdownCtx.Done():
		log.Warn("consumers didn't stop in time")
	}

	for _, c := range consumers {
		if err := c.Close(); err != nil {
			log.Warn("failed to close consumer", "error", err)
		}
	}
	_ = srv.Shutdown(shutdownCtx)
	health.Stop()
	log.Info("downstream-service stopped")
}
