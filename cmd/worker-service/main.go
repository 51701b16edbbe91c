package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/joho/godotenv"

	"github.com/cuongbtq/jobtrace/internal/bootstrap"
	"github.com/cuongbtq/jobtrace/internal/config"
	"github.com/cuongbtq/jobtrace/internal/jobtrace"
	"github.com/cuongbtq/jobtrace/internal/metrics"
	"github.com/cuongbtq/jobtrace/internal/queue"
	"github.com/cuongbtq/jobtrace/internal/worker"
	"github.com/cuongbtq/jobtrace/shared/postgresql"
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
	defaultConfigPath := os.Getenv("WORKER_SERVICE_CONFIG_PATH")
	if defaultConfigPath == "" {
		defaultConfigPath = "configs/worker-service/config.yaml"
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

	if err := cfg.ValidateWorkerConfig(); err != nil {
		return fmt.Errorf("invalid worker config: %w", err)
	}

	// Initialize logger
	appLogger, err := bootstrap.Logger(&cfg.Logging, cfg.App.Name)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer appLogger.Close()

	appLogger.Info("Starting worker service",
		slog.String("app", cfg.App.Name),
		slog.String("version", cfg.App.Version),
		slog.String("environment", cfg.App.Environment),
	)

	// PostgreSQL is only needed to export traces
	var dbClient *postgresql.Client
	if bootstrap.NeedsDatabase(cfg) {
		dbClient, err = bootstrap.PostgreSQL(&cfg.Database, appLogger.Logger)
		if err != nil {
			return fmt.Errorf("failed to initialize database: %w", err)
		}
		appLogger.Info("Database connection established")

		if err := bootstrap.Migrate(context.Background(), &cfg.Database, dbClient, appLogger.Logger); err != nil {
			dbClient.Close()
			return fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	// Initialize RabbitMQ client
	rabbitClient, err := bootstrap.RabbitMQ(&cfg.RabbitMQ, appLogger.Logger)
	if err != nil {
		if dbClient != nil {
			dbClient.Close()
		}
		return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
	}

	appLogger.Info("RabbitMQ connection established")

	collector, gatherer := bootstrap.Metrics(&cfg.Metrics)

	// Every job processed by the worker is its own trace
	tracingPipeline, err := bootstrap.NewTracing(cfg, jobtrace.ModeWorker, dbClient, collector, appLogger.Component("tracing"))
	if err != nil {
		rabbitClient.Close()
		if dbClient != nil {
			dbClient.Close()
		}
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	var metricsServer *metrics.Server
	if gatherer != nil {
		metricsServer = metrics.NewServer(cfg.Metrics.Addr, gatherer, appLogger.Component("metrics"))
		metricsServer.Start()
	}

	registry := queue.NewRegistry()
	worker.RegisterDemoHandlers(registry)

	workerID := fmt.Sprintf("%s-%s", cfg.App.Name, uuid.NewString()[:8])

	// max_jobs bounds unacknowledged deliveries when no prefetch is configured
	prefetch := cfg.RabbitMQ.Consumer.PrefetchCount
	if prefetch <= 0 {
		prefetch = cfg.Worker.MaxJobs
	}

	// Create worker instance
	workerInstance := worker.NewWorker(&worker.Config{
		Logger:            appLogger.Component("worker"),
		Broker:            rabbitClient,
		Registry:          registry,
		Dispatchers:       newDispatcherFactory(appLogger.Component("worker"), collector, tracingPipeline.Factory),
		Concurrency:       cfg.Worker.Concurrency,
		JobTimeout:        cfg.Worker.JobTimeout,
		HeartbeatInterval: cfg.Worker.HeartbeatInterval,
		PrefetchCount:     prefetch,
		WorkerID:          workerID,
	})

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Start worker in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := workerInstance.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	appLogger.Info("Worker service started successfully",
		slog.String("worker_id", workerID),
	)

	// Cleanup function to close all resources. The transport drains before the database closes.
	cleanup := func() {
		if metricsServer != nil {
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			_ = metricsServer.Shutdown(shutdownCtx)
			shutdownCancel()
		}
		tracingPipeline.Close()
		if dbClient != nil {
			dbClient.Close()
		}
		rabbitClient.Close()
	}

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		appLogger.Info("Received signal, shutting down gracefully",
			slog.String("signal", sig.String()),
		)
	case err := <-errChan:
		appLogger.Error("Worker error",
			slog.Any("error", err),
		)
		cleanup()
		return err
	}

	// Cancel context to stop worker
	cancel()

	// Give worker time to shutdown gracefully
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Worker.ShutdownTimeout)
	defer shutdownCancel()

	// Stop worker
	done := make(chan struct{})
	go func() {
		workerInstance.Stop()
		close(done)
	}()

	select {
	case <-done:
		appLogger.Info("Worker stopped gracefully")
	case <-shutdownCtx.Done():
		appLogger.Warn("Worker shutdown timeout exceeded, forcing exit")
	}

	cleanup()

	appLogger.Info("Worker service shutdown complete")
	return nil
}

// newDispatcherFactory gives each pool goroutine a dispatcher with its own tracing session
func newDispatcherFactory(logger *slog.Logger, collector *metrics.Collector, factory *jobtrace.Factory) worker.DispatcherFactory {
	return func(workerName string) *queue.Dispatcher {
		d := queue.NewDispatcher(logger.With(slog.String("worker_name", workerName)))
		if collector != nil {
			collector.Subscribe(d)
		}
		if factory != nil {
			factory.Open(d)
		}
		return d
	}
}
