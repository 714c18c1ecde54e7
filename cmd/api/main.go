package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/BarkinBalci/telemetry-pipeline/internal/config"
	"github.com/BarkinBalci/telemetry-pipeline/internal/consumer"
	"github.com/BarkinBalci/telemetry-pipeline/internal/handler"
	"github.com/BarkinBalci/telemetry-pipeline/internal/logger"
	"github.com/BarkinBalci/telemetry-pipeline/internal/queue"
	"github.com/BarkinBalci/telemetry-pipeline/internal/queue/mqtt"
	"github.com/BarkinBalci/telemetry-pipeline/internal/queue/sqs"
	"github.com/BarkinBalci/telemetry-pipeline/internal/repository/clickhouse"
	"github.com/BarkinBalci/telemetry-pipeline/internal/service"
)

func main() {
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

	log.Info("Starting API service",
		zap.String("environment", cfg.Service.Environment),
		zap.String("port", cfg.Service.APIPort),
		zap.String("transport", cfg.Broker.Transport))

	ctx := context.Background()

	// Initialize publisher
	var publisher queue.Publisher
	switch cfg.Broker.Transport {
	case "mqtt":
		mqttClient, err := mqtt.NewClient(cfg.MQTT, log)
		if err != nil {
			log.Fatal("Failed to create MQTT client", zap.Error(err))
		}
		if err := mqttClient.Connect(ctx); err != nil {
			log.Fatal("Failed to connect to MQTT broker", zap.Error(err))
		}
		defer mqttClient.Close()
		publisher = mqttClient
	case "sqs":
		sqsClient, err := sqs.NewClient(ctx, cfg.SQS, log)
		if err != nil {
			log.Fatal("Failed to create SQS client", zap.Error(err))
		}
		publisher = sqsClient
	}

	// Initialize ClickHouse client
	clickhouseClient, err := clickhouse.NewClient(ctx, &cfg.ClickHouse, log)
	if err != nil {
		log.Fatal("Failed to create ClickHouse client", zap.Error(err))
	}
	defer func(clickhouseClient *clickhouse.Client) {
		if err := clickhouseClient.Close(); err != nil {
			log.Error("Failed to close ClickHouse client", zap.Error(err))
		}
	}(clickhouseClient)

	repo := clickhouse.NewRepository(clickhouseClient, log)
	parser := consumer.NewTelemetryParser(cfg.Broker.Namespace)
	telemetryService := service.NewTelemetryService(publisher, parser, repo, cfg.Broker.Namespace, log)

	h := handler.NewHandler(telemetryService, log)

	server := &http.Server{
		Addr:              fmt.Sprintf(":%s", cfg.Service.APIPort),
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Info("API server starting", zap.String("address", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start API server", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	log.Info("Shutting down API server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("Failed to shut down API server", zap.Error(err))
	}
}
