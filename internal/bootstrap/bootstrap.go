// Package bootstrap builds the shared clients and the tracing pipeline used by the binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/cuongbtq/jobtrace/internal/config"
	"github.com/cuongbtq/jobtrace/internal/jobtrace"
	"github.com/cuongbtq/jobtrace/internal/metrics"
	"github.com/cuongbtq/jobtrace/internal/tracestore"
	"github.com/cuongbtq/jobtrace/internal/tracing"
	"github.com/cuongbtq/jobtrace/shared/logger"
	"github.com/cuongbtq/jobtrace/shared/postgresql"
	"github.com/cuongbtq/jobtrace/shared/rabbitmq"
)

// Logger initializes the application logger; every record carries service
func Logger(cfg *config.LoggingConfig, service string) (*logger.Logger, error) {
	loggerCfg := &logger.Config{
		Level:        cfg.Level,
		Format:       cfg.Format,
		Output:       cfg.Output,
		EnableSource: cfg.EnableCaller,
		TimeFormat:   time.RFC3339,
		NoColor:      cfg.NoColor,
		Service:      service,
	}

	return logger.New(loggerCfg)
}

// PostgreSQL initializes the PostgreSQL database client
func PostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	dbConfig := &postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}

	return postgresql.NewClient(dbConfig, logger)
}

// Migrate applies the trace schema when auto_migrate is set
func Migrate(ctx context.Context, cfg *config.DatabaseConfig, pg *postgresql.Client, logger *slog.Logger) error {
	if !cfg.AutoMigrate || pg == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := tracestore.NewStore(pg).Migrate(ctx); err != nil {
		return err
	}

	logger.Info("Trace schema is up to date")
	return nil
}

// RabbitMQConfig maps the config section onto the client config
func RabbitMQConfig(cfg *config.RabbitMQConfig) *rabbitmq.Config {
	return &rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		DeadLetterExchange: cfg.Queue.DeadLetterExchange,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
		ConsumerExclusive:  cfg.Consumer.Exclusive,
	}
}

// RabbitMQ initializes the RabbitMQ client
func RabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(RabbitMQConfig(cfg), logger)
}

// Metrics creates a registry with runtime collectors and the application Collector.
// Both are nil when metrics are disabled.
func Metrics(cfg *config.MetricsConfig) (*metrics.Collector, *prometheus.Registry) {
	if !cfg.Enabled {
		return nil, nil
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	return metrics.NewCollector(reg), reg
}

// NeedsDatabase reports whether the binary must connect to PostgreSQL to export traces
func NeedsDatabase(cfg *config.Config) bool {
	return cfg.Tracing.Enabled && (cfg.Tracing.Exporter == config.ExporterPostgres || cfg.Tracing.Exporter == "")
}

// Tracing is the process-wide tracing pipeline. Factory is nil when tracing is disabled.
type Tracing struct {
	Factory   *jobtrace.Factory
	Transport *tracing.Transport
}

// Close drains the transport
func (t *Tracing) Close() {
	if t != nil && t.Transport != nil {
		t.Transport.Close()
	}
}

// NewTracing builds the exporter, transport and session factory from cfg.
// pg may be nil unless the postgres exporter is selected. collector may be nil.
func NewTracing(cfg *config.Config, fallback jobtrace.Mode, pg *postgresql.Client, collector *metrics.Collector, logger *slog.Logger) (*Tracing, error) {
	if !cfg.Tracing.Enabled {
		logger.Info("Job tracing disabled")
		return &Tracing{}, nil
	}

	mode, err := cfg.TracingMode(fallback)
	if err != nil {
		return nil, err
	}

	var exporter tracing.Exporter
	switch cfg.Tracing.Exporter {
	case config.ExporterLog:
		exporter = tracing.NewLogExporter(logger)
	case config.ExporterPostgres, "":
		if pg == nil {
			return nil, fmt.Errorf("postgres trace exporter requires a database connection")
		}
		exporter = tracestore.NewStore(pg)
	default:
		return nil, fmt.Errorf("unknown trace exporter: %q", cfg.Tracing.Exporter)
	}

	transportCfg := tracing.TransportConfig{
		BufferSize:    cfg.Tracing.BufferSize,
		ExportTimeout: cfg.Tracing.ExportTimeout,
		Logger:        logger,
	}

	opts := []jobtrace.Option{
		jobtrace.WithFilter(jobtrace.NewIgnoreList(cfg.Tracing.IgnoreJobs...)),
	}
	if collector != nil {
		transportCfg.Metrics = collector
		opts = append(opts, jobtrace.WithMetrics(collector))
	}

	transport := tracing.NewTransport(exporter, transportCfg)

	logger.Info("Job tracing enabled",
		slog.String("mode", mode.String()),
		slog.String("exporter", cfg.Tracing.Exporter),
		slog.Int("ignored_jobs", len(cfg.Tracing.IgnoreJobs)),
	)

	return &Tracing{
		Factory:   jobtrace.NewFactory(transport, mode, logger, opts...),
		Transport: transport,
	}, nil
}
