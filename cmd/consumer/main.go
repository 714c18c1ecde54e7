package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/alerting"
	"github.com/BarkinBalci/telemetry-pipeline/internal/config"
	"github.com/BarkinBalci/telemetry-pipeline/internal/consumer"
	"github.com/BarkinBalci/telemetry-pipeline/internal/domain"
	"github.com/BarkinBalci/telemetry-pipeline/internal/ingest"
	"github.com/BarkinBalci/telemetry-pipeline/internal/logger"
	"github.com/BarkinBalci/telemetry-pipeline/internal/mailer"
	"github.com/BarkinBalci/telemetry-pipeline/internal/queue/mqtt"
	"github.com/BarkinBalci/telemetry-pipeline/internal/queue/sqs"
	"github.com/BarkinBalci/telemetry-pipeline/internal/repository/clickhouse"
	"github.com/BarkinBalci/telemetry-pipeline/internal/repository/mongodb"
)

const shutdownTimeout = 30 * time.Second

func main() {
	// Registered first so it runs after every other deferred cleanup
	exitCode := 0
	defer func() {
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	}()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	// Initialize logger
	log, err := logger.New(cfg.Service.Environment, cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}
	defer func(log *zap.Logger) {
		err := log.Sync()
		if err != nil {
			log.Error("Failed to sync logger", zap.Error(err))
		}
	}(log)

	log.Info("Starting consumer service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("transport", cfg.Broker.Transport),
		zap.String("namespace", cfg.Broker.Namespace),
		zap.String("constraint", "run a single consumer per namespace; a second one duplicates readings and notifications"))

	ctx := context.Background()

	// Time-series store
	chClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func() {
		if err := chClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}()

	readings := clickhouse.NewRepository(chClient, log)
	if err := readings.InitSchema(ctx); err != nil {
		log.Fatal("Failed to initialize schema", zap.Error(err))
	}
	log.Info("Database schema initialized")

	// Relational store
	mongoClient, err := mongodb.NewClient(ctx, cfg.Mongo, log)
	if err != nil {
		log.Fatal("Failed to create MongoDB client", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mongoClient.Close(closeCtx); err != nil {
			log.Error("Failed to close MongoDB client", zap.Error(err))
		}
	}()
	if err := mongoClient.EnsureIndexes(ctx); err != nil {
		log.Fatal("Failed to ensure MongoDB indexes", zap.Error(err))
	}

	resolver := ingest.NewStoreResolver(mongodb.NewStoreRepository(mongoClient), log)
	writer := ingest.NewFanoutWriter(readings, mongodb.NewSensorConfigRepository(mongoClient),
		ingest.WriterConfig{RegistrationTTL: cfg.Consumer.RegistrationTTL}, log)

	// Alerting
	pool, err := buildAlertPool(ctx, cfg, mongoClient, log)
	if err != nil {
		log.Fatal("Failed to build alerting", zap.Error(err))
	}
	pool.Start()

	parser := consumer.NewTelemetryParser(cfg.Broker.Namespace)
	handler := consumer.NewMessageHandler(parser, resolver, writer, pool, log)

	// Broker
	var (
		source          consumer.Source
		brokerConnected func(context.Context) bool
		closeBroker     = func() {}
	)
	switch cfg.Broker.Transport {
	case "mqtt":
		mqttClient, err := mqtt.NewClient(cfg.MQTT, log)
		if err != nil {
			log.Fatal("Failed to create MQTT client", zap.Error(err))
		}
		if err := mqttClient.Connect(ctx); err != nil {
			log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		source = consumer.NewSubscriberSource(mqttClient, consumer.SubscriptionTopics(cfg.Broker.Namespace), log)
		brokerConnected = func(context.Context) bool { return mqttClient.IsConnected() }
		closeBroker = mqttClient.Close
	case "sqs":
		sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
		if err != nil {
			log.Fatal("Failed to create SQS client", zap.Error(err))
		}
		source = consumer.NewReceiver(sqsClient, consumer.ReceiverConfig{MaxMessages: 10, WaitTimeSeconds: 20}, log)
		brokerConnected = sqsClient.IsConnected
	}

	c := consumer.NewConsumer(source, handler, consumer.Config{
		Workers:       cfg.Consumer.Workers,
		BufferSize:    cfg.Consumer.BufferSize,
		HandleTimeout: cfg.Consumer.HandleTimeout,
	}, log)

	// Ops endpoints
	opsServer := &http.Server{
		Addr:              net.JoinHostPort("", cfg.Consumer.HealthCheckPort),
		Handler:           opsMux(cfg, readings, mongoClient, brokerConnected, log),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		log.Info("Ops server starting", zap.String("address", opsServer.Addr))
		if err := opsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("Ops server error", zap.Error(err))
		}
	}()

	// Start consumer
	consumerCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var consumerErr error
	done := make(chan struct{})
	go func() {
		defer close(done)
		consumerErr = c.Start(consumerCtx)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	select {
	case <-sigChan:
	case <-done:
	}

	log.Info("Shutting down consumer gracefully")
	cancel()
	<-done
	closeBroker()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := pool.Stop(shutdownCtx); err != nil {
		log.Warn("Alert pool did not drain", zap.Error(err))
	}
	if err := opsServer.Shutdown(shutdownCtx); err != nil {
		log.Warn("Failed to stop ops server", zap.Error(err))
	}

	if consumerErr != nil {
		log.Error("Consumer exited with error", zap.Error(consumerErr))
		exitCode = 1
	}
}

func buildAlertPool(ctx context.Context, cfg *config.Config, mongoClient *mongodb.Client, log *zap.Logger) (*alerting.Pool, error) {
	location, err := cfg.Alerting.Location()
	if err != nil {
		return nil, err
	}

	var dedup alerting.Deduper
	switch cfg.Alerting.DedupBackend {
	case "valkey":
		addr := net.JoinHostPort(cfg.Valkey.Host, cfg.Valkey.Port)
		redisClient, err := alerting.NewRedisClient(ctx, addr, cfg.Valkey.Password, cfg.Valkey.DB)
		if err != nil {
			if !cfg.Valkey.FailOpen {
				_ = redisClient.Close()
				return nil, err
			}
			log.Warn("Valkey unreachable at startup, dedup will fail open", zap.String("address", addr), zap.Error(err))
		}
		dedup = alerting.NewRedisDedup(redisClient, cfg.Valkey.FailOpen, log)
	default:
		dedup = alerting.NewMemoryDedup(cfg.Alerting.DedupPruneThreshold)
	}

	emailLogs := mongodb.NewEmailLogRepository(mongoClient)
	throttle := alerting.NewEmailThrottle(emailLogs, alerting.ThrottleConfig{
		DefaultCooldownMinutes: cfg.Alerting.DefaultCooldownMinutes,
		DefaultMaxPerDay:       cfg.Alerting.DefaultMaxPerDay,
		Location:               location,
	})

	var sender alerting.Mailer
	if cfg.SMTP.Host != "" {
		sender = mailer.NewSender(cfg.SMTP, log)
	} else {
		log.Warn("SMTP_HOST not set, email alerts disabled")
	}

	dispatcher := alerting.NewDispatcher(
		mongodb.NewMetricAlertRepository(mongoClient),
		mongodb.NewUserRepository(mongoClient),
		mongodb.NewNotificationRepository(mongoClient),
		emailLogs,
		dedup,
		throttle,
		sender,
		alerting.DispatcherConfig{
			DedupWindow:    cfg.Alerting.DedupWindow,
			StoreURLPrefix: cfg.Alerting.StoreURLPrefix,
		},
		log,
	)

	fallback := domain.NormalizeSeverity(cfg.Alerting.DefaultSeverity)
	evaluator := alerting.NewEvaluator(mongodb.NewMetricRepository(mongoClient), fallback, log)
	engine := alerting.NewEngine(evaluator, dispatcher, log)

	return alerting.NewPool(alerting.PoolConfig{
		Workers:     cfg.Alerting.Workers,
		QueueSize:   cfg.Alerting.QueueSize,
		TaskTimeout: cfg.Alerting.TaskTimeout,
	}, engine.Process, log), nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

func opsMux(cfg *config.Config, readings, mongo pinger, brokerConnected func(context.Context) bool, log *zap.Logger) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := readings.Ping(r.Context()); err != nil {
			log.Warn("Health check failed: clickhouse", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		if err := mongo.Ping(r.Context()); err != nil {
			log.Warn("Health check failed: mongodb", zap.Error(err))
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	mux.Handle("/metrics", promhttp.Handler())

	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{
			"transport":        cfg.Broker.Transport,
			"namespace":        cfg.Broker.Namespace,
			"broker_connected": brokerConnected(r.Context()),
			"dedup_backend":    cfg.Alerting.DedupBackend,
			"time":             time.Now().UTC(),
		})
	})

	return mux
}
