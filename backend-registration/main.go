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

	"github.com/gin-gonic/gin"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/di"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/handler"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/lock"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/metrics"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/repository"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/service"
	"github.com/prohmpiriya/campus-registration/backend-registration/internal/store"
	"github.com/prohmpiriya/campus-registration/pkg/config"
	"github.com/prohmpiriya/campus-registration/pkg/logger"
	"github.com/prohmpiriya/campus-registration/pkg/middleware"
	pkgredis "github.com/prohmpiriya/campus-registration/pkg/redis"
	"github.com/prohmpiriya/campus-registration/pkg/telemetry"
	"go.uber.org/zap"
)

const serviceName = "registration-service"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	logCfg := &logger.Config{
		Level:       cfg.App.Environment,
		ServiceName: serviceName,
		Development: cfg.IsDevelopment(),
	}
	if err := logger.Init(logCfg); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting Registration Service...",
		zap.String("store", cfg.Registration.Store),
		zap.String("locker", cfg.Registration.Locker),
	)

	ctx := context.Background()

	// Initialize tracing
	if cfg.OTel.Enabled {
		if _, err := telemetry.Init(ctx, &telemetry.Config{
			Enabled:        true,
			ServiceName:    cfg.OTel.ServiceName,
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
			appLog.Info("Telemetry initialized", zap.String("collector", cfg.OTel.CollectorAddr))
		}
	}

	if err := metrics.Init(); err != nil {
		appLog.Fatal("Failed to register metrics", zap.Error(err))
	}

	// Open the registration store
	st, err := store.Open(ctx, cfg)
	if err != nil {
		appLog.Fatal("Store connection failed", zap.Error(err))
	}
	defer st.Close()
	appLog.Info("Registration store opened", zap.String("store", st.Kind))

	if cfg.Database.AutoMigrate {
		applied, err := st.Migrate(ctx)
		if err != nil {
			appLog.Fatal("Migration failed", zap.Error(err))
		}
		appLog.Info("Migrations applied", zap.Strings("versions", applied))
	}

	checkers := map[string]handler.HealthChecker{
		"database": st.Checker(),
		"redis":    nil,
	}

	// Initialize Redis connection
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, &pkgredis.Config{
			Host:          cfg.Redis.Host,
			Port:          cfg.Redis.Port,
			Password:      cfg.Redis.Password,
			DB:            cfg.Redis.DB,
			PoolSize:      cfg.Redis.PoolSize,
			MinIdleConns:  cfg.Redis.MinIdleConns,
			DialTimeout:   cfg.Redis.DialTimeout,
			ReadTimeout:   cfg.Redis.ReadTimeout,
			WriteTimeout:  cfg.Redis.WriteTimeout,
			MaxRetries:    3,
			RetryInterval: 100 * time.Millisecond,
		})
		if err != nil {
			if cfg.Registration.Locker == config.LockerRedis {
				appLog.Fatal("Redis connection failed", zap.Error(err))
			}
			appLog.Warn("Redis connection failed, running without cache and idempotency", zap.Error(err))
			redisClient = nil
		} else {
			defer redisClient.Close()
			checkers["redis"] = redisClient
			appLog.Info("Redis connected", zap.String("addr", cfg.Redis.Addr()))
		}
	}

	// Initialize Kafka event publisher
	var eventPublisher service.EventPublisher
	eventPublisher, err = service.NewKafkaEventPublisher(ctx, &service.EventPublisherConfig{
		Brokers:     cfg.Kafka.Brokers,
		Topic:       cfg.Kafka.Topic,
		ServiceName: serviceName,
		ClientID:    cfg.Kafka.ClientID,
	})
	if err != nil {
		appLog.Warn("Kafka connection failed, using no-op publisher", zap.Error(err))
		eventPublisher = service.NewNoOpEventPublisher()
	} else {
		appLog.Info("Kafka event publisher connected", zap.String("topic", cfg.Kafka.Topic))
	}

	// Event snapshots are cached; registration reads always hit the store
	eventRepo := st.Events
	if redisClient != nil {
		eventRepo = repository.NewCachedEventRepository(st.Events, redisClient, cfg.Registration.EventCacheTTL)
	}

	// Per-event critical section
	var locker lock.EventLocker
	if cfg.Registration.Locker == config.LockerRedis {
		locker = lock.NewRedisLocker(redisClient, &lock.RedisLockerConfig{
			TTL:  cfg.Registration.LockTTL,
			Wait: cfg.Registration.LockWait,
		})
	} else {
		locker = lock.NewLocalLocker(cfg.Registration.LockWait)
	}

	// Build dependency injection container
	container := di.NewContainer(&di.ContainerConfig{
		EventRepo:        eventRepo,
		RegistrationRepo: st.Registrations,
		Locker:           locker,
		EventPublisher:   eventPublisher,
		NotifierConfig: &service.AsyncNotifierConfig{
			QueueSize:      cfg.Notification.QueueSize,
			Workers:        cfg.Notification.Workers,
			PublishTimeout: cfg.Notification.PublishTimeout,
		},
		HealthCheckers: checkers,
	})

	// Setup Gin
	if !cfg.App.Debug {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(
		gin.Recovery(),
		middleware.RequestID(),
		telemetry.TracingMiddleware(serviceName),
		metrics.GinMiddleware(),
		middleware.Logger(appLog, "/health", "/ready", "/metrics"),
	)

	router.NoRoute(handler.RouteNotFound)

	// Health check and metrics endpoints
	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)
	router.GET("/metrics", gin.WrapH(metrics.Handler()))

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.Auth(&middleware.AuthConfig{
		JWTSecret: cfg.JWT.Secret,
		Issuer:    cfg.JWT.Issuer,
	}))
	{
		idempotent := func(c *gin.Context) { c.Next() }
		if redisClient != nil {
			idempotencyConfig := middleware.DefaultIdempotencyConfig(redisClient)
			idempotencyConfig.TTL = cfg.Registration.IdempotencyTTL
			idempotent = middleware.IdempotencyMiddleware(idempotencyConfig)
		}
		manage := middleware.RequireRole(middleware.RoleOrganizer, middleware.RoleAdmin)

		events := v1.Group("/events/:eventId")
		{
			events.GET("", container.EventHandler.Get)
			events.GET("/capacity", container.RegistrationHandler.GetCapacity)
			events.GET("/waitlist", manage, container.RegistrationHandler.ListWaitlist)

			events.POST("/registrations", idempotent, container.RegistrationHandler.Register)
			events.GET("/registrations/me", container.RegistrationHandler.GetMine)
			events.DELETE("/registrations/me", container.RegistrationHandler.CancelMine)
			events.DELETE("/registrations/:userId", manage, container.RegistrationHandler.CancelFor)
			events.PUT("/registrations/:userId/attendance", manage, container.RegistrationHandler.SetAttendance)
		}

		admin := v1.Group("/admin", manage)
		{
			admin.POST("/events", idempotent, container.EventHandler.Create)
			admin.DELETE("/events/:eventId", container.EventHandler.Delete)
		}
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	// Start server in goroutine
	go func() {
		appLog.Info(fmt.Sprintf("Registration Service listening on %s", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}

	// Flush notifications accepted before shutdown
	if err := container.Close(); err != nil {
		appLog.Warn("Failed to close event publisher", zap.Error(err))
	}

	appLog.Info("Server exited gracefully")
}
