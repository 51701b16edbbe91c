package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/jobtrace/internal/api/handler"
	"github.com/cuongbtq/jobtrace/internal/api/router"
	"github.com/cuongbtq/jobtrace/internal/bootstrap"
	"github.com/cuongbtq/jobtrace/internal/config"
	"github.com/cuongbtq/jobtrace/internal/jobtrace"
	"github.com/cuongbtq/jobtrace/internal/queue"
	"github.com/cuongbtq/jobtrace/internal/tracestore"
	"github.com/cuongbtq/jobtrace/internal/worker"
)

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

func run() error {
	// Load .env file if it exists
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found, using environment variables or flags")
	}

	// Parse command-line flags
	defaultConfigPath := os.Getenv("API_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/api-service/config.yaml"
	}
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.Logger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting API service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// Initialize PostgreSQL client
	dbClient, err := bootstrap.PostgreSQL(&cfg.Database, appLogger.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}

	appLogger.Info("Database connection established")

	if err := bootstrap.Migrate(context.Background(), &cfg.Database, dbClient, appLogger.Logger); err != nil {
		dbClient.Close()
		return fmt.Errorf("failed to migrate database: %w", err)
	}

	// Initialize RabbitMQ client
	rabbitClient, err := bootstrap.RabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		dbClient.Close()
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	collector, gatherer := bootstrap.Metrics(&cfg.Metrics)

	// Requests are traced inline: jobs they run become segments of the request
	tracingPipeline, err := bootstrap.NewTracing(cfg, jobtrace.ModeInline, dbClient, collector, appLogger.Component("tracing"))
	if err != nil {
		dbClient.Close()
		rabbitClient.Close()
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	registry := queue.NewRegistry()
	worker.RegisterDemoHandlers(registry)

	handlerDeps := &handler.Dependencies{
		Logger:    appLogger.Component("http"),
		Store:     tracestore.NewStore(dbClient),
		Publisher: rabbitClient,
		Registry:  registry,
		Database:  dbClient,
		Tracing:   tracingPipeline.Factory,
	}
	if collector != nil {
		handlerDeps.Metrics = collector
		handlerDeps.Gatherer = gatherer
	}

	// Initialize router
	r := initRouter(cfg.App.Environment, handlerDeps)

	// Create HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	appLogger.Info("Starting HTTP server",
		slog.String("address", addr),
		slog.Duration("read_timeout", cfg.Server.ReadTimeout),
		slog.Duration("write_timeout", cfg.Server.WriteTimeout),
	)

	// Start server in goroutine
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed to start",
				slog.Any("error", err),
			)
			os.Exit(1)
		}
	}()

	appLogger.Info("API service is running",
		slog.String("address", addr),
	)

	// Wait for interrupt signal to gracefully shutdown the server
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)

	// Cleanup function to close all resources. The transport drains before the database closes.
	cleanup := func() {
		cancel()
		tracingPipeline.Close()
		appLogger.Info("Database pool stats", slog.String("stats", dbClient.Stats()))
		dbClient.Close()
		rabbitClient.Close()
	}
	defer cleanup()

	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Server forced to shutdown",
			slog.Any("error", err),
		)
		return err
	}

	appLogger.Info("Server shutdown complete")
	return nil
}

// initRouter initializes the Gin router with all routes and middleware
func initRouter(environment string, deps *handler.Dependencies) *gin.Engine {
	// Set Gin mode based on environment
	if environment == "production" {
		gin.SetMode(gin.ReleaseMode)
	} else {
		gin.SetMode(gin.DebugMode)
	}

	return router.SetupRouter(deps)
}
