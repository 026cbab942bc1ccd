package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	ordershttp "github.com/elizov/khpi-corporate-systems/orders-service/internal/http"
	"github.com/elizov/khpi-corporate-systems/orders-service/internal/publisher"
	"github.com/elizov/khpi-corporate-systems/orders-service/internal/repository"
	"github.com/elizov/khpi-corporate-systems/orders-service/internal/service"
	"github.com/elizov/khpi-corporate-systems/orders-service/internal/transaction"
	"github.com/elizov/khpi-corporate-systems/pkg/broker"
	"github.com/elizov/khpi-corporate-systems/pkg/healthcheck"
	"github.com/elizov/khpi-corporate-systems/pkg/logger"
	"github.com/elizov/khpi-corporate-systems/pkg/metrics"
	"github.com/elizov/khpi-corporate-systems/pkg/realtime"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"
)

const serviceName = "orders-service"

type Config struct {
	HTTPPort           string
	GRPCPort           string
	DB                 repository.Credentials
	KafkaBrokers       []string
	RedisAddr          string
	RedisPassword      string
	PublishTimeout     time.Duration
	OutboxBuffer       int
	StrictCancelReason bool
	RequestTimeout     time.Duration
	ShutdownTimeout    time.Duration
	LogLevel           string
}

func loadConfig() (*Config, error) {
	dbPort, err := strconv.Atoi(getEnv("DB_PORT", "5432"))
	if err != nil {
		return nil, errors.New("invalid DB_PORT: " + err.Error())
	}
	publishTimeout, err := time.ParseDuration(getEnv("PUBLISH_TIMEOUT", "5s"))
	if err != nil {
		return nil, errors.New("invalid PUBLISH_TIMEOUT: " + err.Error())
	}
	buffer, err := strconv.Atoi(getEnv("OUTBOX_BUFFER", "1024"))
	if err != nil || buffer <= 0 {
		return nil, errors.New("invalid OUTBOX_BUFFER")
	}
	strict, err := strconv.ParseBool(getEnv("STRICT_CANCEL_REASON", "false"))
	if err != nil {
		return nil, errors.New("invalid STRICT_CANCEL_REASON: " + err.Error())
	}

	return &Config{
		HTTPPort: getEnv("HTTP_PORT", "8081"),
		GRPCPort: getEnv("GRPC_PORT", "50061"),
		DB: repository.Credentials{
			Driver:            getEnv("DB_DRIVER", repository.DriverPostgres),
			Host:              getEnv("DB_HOST", "localhost"),
			Port:              dbPort,
			User:              getEnv("DB_USER", "postgres"),
			Password:          getEnv("DB_PASSWORD", "postgres"),
			DBName:            getEnv("DB_NAME", "orders"),
			Path:              getEnv("DB_PATH", "orders.db"),
			MigrationsDirPath: getEnv("MIGRATIONS_PATH", "./internal/repository/migrations"),
		},
		KafkaBrokers:       strings.Split(getEnv("KAFKA_BROKERS", "localhost:9092"), ","),
		RedisAddr:          getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:      getEnv("REDIS_PASSWORD", ""),
		PublishTimeout:     publishTimeout,
		OutboxBuffer:       buffer,
		StrictCancelReason: strict,
		RequestTimeout:     30 * time.Second,
		ShutdownTimeout:    10 * time.Second,
		LogLevel:           getEnv("LOG_LEVEL", "info"),
	}, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	bootLog := logger.New(serviceName, "info")
	cfg, err := loadConfig()
	if err != nil {
		bootLog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}
	log := logger.New(serviceName, cfg.LogLevel)
	log.Info("orders-service starting...")

	// trace context crosses service hops through otelhttp
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.TraceContext{}, propagation.Baggage{}))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	// Database
	repo, err := repository.NewRepository(&cfg.DB)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}
	defer repo.Close()

	if err := repo.RunMigrations(&cfg.DB); err != nil {
		log.Error("failed to run migrations", "error", err)
		os.Exit(1)
	}
	log.Info("database migrations completed", "driver", cfg.DB.Driver)

	// Broker topology and producer
	topology := broker.DefaultTopology()
	declareCtx, declareCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := broker.Declare(declareCtx, cfg.KafkaBrokers[0], topology, log); err != nil {
		declareCancel()
		log.Error("failed to declare broker topology", "error", err)
		os.Exit(1)
	}
	declareCancel()

	writer := broker.NewKafkaWriter(cfg.KafkaBrokers...)
	producer := broker.NewProducer(writer, topology, cfg.PublishTimeout, log)
	defer producer.Close()

	// Realtime
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
	defer redisClient.Close()

	dispatcher := publisher.NewDispatcher(
		[]publisher.Sink{
			publisher.NewBrokerSink(producer),
			publisher.NewRealtimeSink(realtime.NewRedisBroadcaster(redisClient)),
		},
		cfg.OutboxBuffer,
		cfg.PublishTimeout,
		metrics.NewOutboxMetrics(reg, serviceName),
		log,
	)

	orderService := service.NewOrderService(
		repo,
		transaction.NewSQLScope(repo.DB()),
		publisher.NewOutbox(dispatcher),
		log,
		service.WithStrictCancelReason(cfg.StrictCancelReason),
	)

	handler := ordershttp.NewOrdersHandler(orderService, cfg.RequestTimeout, log)
	router := ordershttp.NewRouter(handler, metrics.NewServerMetrics(reg, serviceName), reg, cfg.RequestTimeout)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      otelhttp.NewHandler(router, serviceName),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

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
		log.Info("orders-service listening", "http_port", cfg.HTTPPort, "grpc_port", cfg.GRPCPort)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}()
	health.MarkServing(serviceName)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down orders-service...")
	health.MarkNotServing(serviceName)

	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", "error", err)
	}
	// requests are done, flush whatever they queued
	if err := dispatcher.Close(ctx); err != nil {
		log.Warn("outbox did not drain in time", "error", err)
	}
	health.Stop()

	log.Info("orders-service stopped")
}
