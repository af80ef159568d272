package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/Reg-Kris/pyairtable-automation-service/internal/config"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/handlers"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/middleware"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/repositories"
	"github.com/Reg-Kris/pyairtable-automation-service/internal/services"
	"github.com/Reg-Kris/pyairtable-automation-service/pkg/database"
	"github.com/Reg-Kris/pyairtable-automation-service/pkg/logger"
	"github.com/Reg-Kris/pyairtable-automation-service/pkg/metrics"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Initialize logger
	zapLogger, err := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	if err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer zapLogger.Sync()

	zapLogger.Info("Starting Automation Service",
		zap.String("version", "1.0.0"),
		zap.String("environment", os.Getenv("ENVIRONMENT")))

	// Initialize database
	db, err := database.New(&cfg.Database)
	if err != nil {
		zapLogger.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer database.Close(db)

	// Run database migrations
	if err := database.RunMigrations(&cfg.Database); err != nil {
		zapLogger.Fatal("Failed to run database migrations", zap.Error(err))
	}

	// Initialize Redis
	redisClient := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.GetRedisAddr(),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     cfg.Redis.PoolSize,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
	})
	defer redisClient.Close()

	pingCtx, pingCancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		pingCancel()
		zapLogger.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	pingCancel()

	// Initialize metrics
	registry := metrics.NewRegistry()
	engineMetrics := services.NewMetricsService(prometheus.DefaultRegisterer)

	// Initialize repositories and services
	repos := repositories.New(db, redisClient)
	svcs := services.New(repos, redisClient, cfg, engineMetrics, zapLogger)

	// Initialize HTTP server
	app := fiber.New(fiber.Config{
		ServerHeader: "Automation Service",
		AppName:      "Automation Service v1.0.0",
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			zapLogger.Error("HTTP error",
				zap.Error(err),
				zap.Int("status_code", code),
				zap.String("method", c.Method()),
				zap.String("path", c.Path()))

			return c.Status(code).JSON(fiber.Map{
				"error": err.Error(),
			})
		},
	})

	// Middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format:     "[${time}] ${status} - ${method} ${path} ${latency}\n",
		TimeFormat: "2006-01-02 15:04:05",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))
	app.Use(middleware.HTTPMetrics(registry))

	// Initialize handlers
	h := handlers.New(svcs, zapLogger)
	authMiddleware := middleware.NewAuthMiddleware(cfg.Auth.JWTSecret, zapLogger)

	app.Get(cfg.Monitoring.HealthCheckPath, h.Ping)
	if cfg.Monitoring.MetricsEnabled {
		app.Get(cfg.Monitoring.MetricsPath, adaptor.HTTPHandler(promhttp.Handler()))
	}

	h.RegisterRoutes(app, authMiddleware)

	// Sample connection pool gauges
	samplerCtx, samplerCancel := context.WithCancel(context.Background())
	defer samplerCancel()
	go samplePoolStats(samplerCtx, registry, db, redisClient)

	// Start the event feed listener
	listenerCtx, listenerCancel := context.WithCancel(context.Background())
	defer listenerCancel()
	go func() {
		if err := svcs.Listener.Start(listenerCtx); err != nil && err != context.Canceled {
			zapLogger.Error("Event listener stopped", zap.Error(err))
		}
	}()

	// Start the daily trigger scheduler
	if err := svcs.Scheduler.Start(); err != nil {
		zapLogger.Fatal("Failed to start scheduler", zap.Error(err))
	}

	// Start server
	address := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	zapLogger.Info("Starting HTTP server", zap.String("address", address))

	go func() {
		if err := app.Listen(address); err != nil {
			zapLogger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan
	zapLogger.Info("Received shutdown signal")

	// Graceful shutdown
	zapLogger.Info("Shutting down server...")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		zapLogger.Error("Server shutdown error", zap.Error(err))
	}

	svcs.Listener.Stop()
	listenerCancel()

	select {
	case <-svcs.Scheduler.Stop().Done():
	case <-shutdownCtx.Done():
		zapLogger.Warn("Scheduler did not finish before shutdown deadline")
	}

	zapLogger.Info("Server shutdown completed")
}

// samplePoolStats periodically exports connection pool gauges
func samplePoolStats(ctx context.Context, registry *metrics.Registry, db *gorm.DB, redisClient *redis.Client) {
	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if stats, err := database.Stats(db); err == nil {
				registry.DatabaseConnections.Set(float64(stats.OpenConnections))
			}
			registry.RedisConnections.Set(float64(redisClient.PoolStats().TotalConns))
		}
	}
}
