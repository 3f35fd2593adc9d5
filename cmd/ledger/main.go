package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"ledger/internal/app/ledger"
	"ledger/internal/app/policy"
	"ledger/internal/config"
	"ledger/internal/dedup"
	"ledger/internal/handler/command"
	ledger_http "ledger/internal/handler/http/ledger"
	kafka_infra "ledger/internal/infrastructure/kafka"
	"ledger/internal/link"
	"ledger/internal/scheduler"
	"ledger/internal/storage"
)

const dedupCapacity = 200

func ensureKafkaTopics(ctx context.Context, brokerURLs []string, topics []string, logger *zap.Logger) error {
	conn, err := kafka.DialContext(ctx, "tcp", brokerURLs[0])
	if err != nil {
		return fmt.Errorf("failed to dial kafka broker: %w", err)
	}
	defer conn.Close()

	controller, err := conn.Controller()
	if err != nil {
		return fmt.Errorf("failed to get kafka controller: %w", err)
	}
	controllerConn, err := kafka.DialContext(ctx, "tcp", fmt.Sprintf("%s:%d", controller.Host, controller.Port))
	if err != nil {
		return fmt.Errorf("failed to dial kafka controller: %w", err)
	}
	defer controllerConn.Close()

	topicConfigs := make([]kafka.TopicConfig, len(topics))
	for i, topic := range topics {
		topicConfigs[i] = kafka.TopicConfig{
			Topic:             topic,
			NumPartitions:     1,
			ReplicationFactor: 1,
		}
	}
	if err := controllerConn.CreateTopics(topicConfigs...); err != nil {
		if err == kafka.TopicAlreadyExists {
			logger.Info("Kafka topics already exist, skipping creation.")
			return nil
		}
		return fmt.Errorf("failed to create kafka topics: %w", err)
	}
	logger.Info("Kafka topics ensured.", zap.Strings("topics", topics))
	return nil
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading configuration: %v\n", err)
		os.Exit(1)
	}

	zapConfig := zap.NewProductionConfig()
	zapConfig.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapConfig.EncoderConfig.TimeKey = "timestamp"

	appLogger, err := zapConfig.Build()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create zap logger: %v\n", err)
		os.Exit(1)
	}
	appLogger.Info("Ledger service starting...")

	store, err := storage.Open(cfg.DataDir)
	if err != nil {
		appLogger.Fatal("Failed to open data directory", zap.Error(err))
	}
	appLogger.Info("Flat-file store opened.", zap.String("data_dir", cfg.DataDir))

	payoutLocation, err := time.LoadLocation(cfg.PayoutTimezone)
	if err != nil {
		appLogger.Fatal("Invalid payout timezone", zap.String("timezone", cfg.PayoutTimezone), zap.Error(err))
	}

	kafkaBrokers := cfg.GetKafkaBrokers()
	requiredTopics := []string{
		cfg.KafkaCommandEventsTopic,
		cfg.KafkaCommandResultsTopic,
	}
	topicCtx, topicCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer topicCancel()
	if err := ensureKafkaTopics(topicCtx, kafkaBrokers, requiredTopics, appLogger); err != nil {
		appLogger.Fatal("Failed to ensure Kafka topics", zap.Error(err))
	}

	// One lock serializes every balance-mutating operation across both
	// engines; command handling and the payout scheduler share it.
	var engineMu sync.Mutex

	ledgerService := ledger.NewService(store, &engineMu,
		appLogger.With(zap.String("component", "LedgerService")))
	policyService := policy.NewService(store, &engineMu, cfg.AdminIDs,
		appLogger.With(zap.String("component", "PolicyService")))
	linkService := link.NewService(store,
		appLogger.With(zap.String("component", "LinkService")))
	appLogger.Info("Ledger engines initialized.", zap.Int("fixed_admins", len(cfg.AdminIDs)))

	resultProducer := kafka_infra.NewProducer(
		kafkaBrokers,
		cfg.KafkaCommandResultsTopic,
		appLogger.With(zap.String("component", "ResultProducer")),
	)
	defer func() {
		if err := resultProducer.Close(); err != nil {
			appLogger.Error("Error closing Kafka producer", zap.Error(err))
		}
	}()

	dispatcher := command.NewDispatcher(
		ledgerService,
		policyService,
		linkService,
		dedup.New(dedupCapacity),
		resultProducer,
		cfg.KafkaCommandResultsTopic,
		appLogger.With(zap.String("component", "CommandDispatcher")),
	)
	commandConsumer := kafka_infra.NewConsumer(
		kafkaBrokers,
		cfg.KafkaConsumerGroup,
		cfg.KafkaCommandEventsTopic,
		appLogger.With(zap.String("component", "CommandConsumer")),
	)
	appLogger.Info("Command pipeline initialized.")

	payoutScheduler := scheduler.New(
		policyService,
		cfg.SalaryTickInterval,
		payoutLocation,
		appLogger.With(zap.String("component", "SalaryScheduler")),
	)

	router := chi.NewRouter()
	router.Use(middleware.Logger)
	router.Use(middleware.Recoverer)
	ledger_http.RegisterRoutes(router, ledgerService, linkService,
		appLogger.With(zap.String("component", "HTTPHandler")))

	httpServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler: router,
	}

	ctxMain, cancelMain := context.WithCancel(context.Background())

	go func() {
		appLogger.Info("Starting HTTP server", zap.String("address", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Fatal("HTTP server failed", zap.Error(err))
		}
	}()
	go payoutScheduler.Start(ctxMain)
	go func() {
		if err := commandConsumer.Start(ctxMain, dispatcher.Handle); err != nil {
			appLogger.Error("Command consumer stopped with error", zap.Error(err))
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	appLogger.Info("Shutting down application...")

	cancelMain()
	commandConsumer.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("HTTP server graceful shutdown failed", zap.Error(err))
	} else {
		appLogger.Info("HTTP server gracefully shut down.")
	}

	appLogger.Info("Application gracefully shut down.")
}
