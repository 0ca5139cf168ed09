package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prohmpiriya/campus-registration/backend-registration/internal/metrics"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/worker"
	"github.com/prohmpiriya/campus-registration/pkg/config"
	"github.com/prohmpiriya/campus-registration/pkg/kafka"
	"github.com/prohmpiriya/campus-registration/pkg/logger"
	"github.com/prohmpiriya/campus-registration/pkg/retry"
	"github.com/prohmpiriya/campus-registration/pkg/telemetry"
	"go.uber.org/zap"
)

const serviceName = "notification-worker"

func main() {
	// Registered first so it runs after every other deferred cleanup.
	var runErr error
	defer func() {
		if runErr != nil {
			os.Exit(1)
		}
	}()

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logger.Init(&logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Notification Worker...", zap.Strings("brokers", cfg.Kafka.Brokers))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTel.Enabled {
		if _, err := telemetry.Init(ctx, &telemetry.Config{
			Enabled:        true,
			ServiceName:    serviceName,
			ServiceVersion: cfg.App.Version,
			Environment:    cfg.App.Environment,
			CollectorAddr:  cfg.OTel.CollectorAddr,
			SampleRatio:    cfg.OTel.SampleRatio,
		}); err != nil {
			appLog.Warn("Telemetry initialization failed, tracing disabled", zap.Error(err))
		} else {
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = telemetry.Shutdown(shutdownCtx)
			}()
		}
	}

	if err := metrics.Init(); err != nil {
		appLog.Fatal("Failed to register metrics", zap.Error(err))
	}

	consumer, err := kafka.NewConsumer(ctx, &kafka.ConsumerConfig{
		Brokers:        cfg.Kafka.Brokers,
		GroupID:        cfg.Kafka.ConsumerGroup,
		Topics:         []string{cfg.Kafka.Topic},
		ClientID:       cfg.Kafka.ClientID + "-" + serviceName,
		MaxRetries:     5,
		RetryInterval:  2 * time.Second,
		SessionTimeout: 30 * time.Second,
	})
	if err != nil {
		appLog.Fatal("Kafka consumer connection failed", zap.Error(err))
	}

	// Dead letters go to "<topic>.dlq"; without a producer they are only logged
	var dlqPublisher retry.DLQPublisher
	producer, err := kafka.NewProducer(ctx, &kafka.ProducerConfig{
		Brokers:       cfg.Kafka.Brokers,
		ClientID:      cfg.Kafka.ClientID + "-" + serviceName + "-dlq",
		MaxRetries:    3,
		RetryInterval: time.Second,
	})
	if err != nil {
		appLog.Warn("DLQ producer unavailable, dead letters will be dropped", zap.Error(err))
	} else {
		defer producer.Close()
		dlqPublisher = retry.NewKafkaDLQPublisher(producer, serviceName, "")
	}

	workerCfg := worker.DefaultNotificationWorkerConfig()
	workerCfg.Workers = cfg.Notification.Workers
	workerCfg.FromAddress = cfg.Notification.FromAddress
	workerCfg.Retry.MaxRetries = cfg.Notification.MaxRetries

	w := worker.NewNotificationWorker(consumer, worker.NewLogMailer(), dlqPublisher, workerCfg)

	// Metrics endpoint on SERVER_PORT
	metricsSrv := &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           metrics.Handler(),
		ReadHeaderTimeout: 2 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Error("Metrics server error", zap.Error(err))
		}
	}()

	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	select {
	case <-ctx.Done():
		appLog.Info("Shutting down notification worker...")
		// Closing the client unblocks Poll; the worker then returns.
		consumer.Close()
		<-done
	case runErr = <-done:
		consumer.Close()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = metricsSrv.Shutdown(shutdownCtx)

	if runErr != nil {
		// Uncommitted records are redelivered after the restart.
		appLog.Error("Notification worker exited", zap.Error(runErr))
		return
	}
	appLog.Info("Notification worker exited gracefully")
}
