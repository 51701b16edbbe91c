package config

import (
	"fmt"
	"os"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/jobtrace/internal/jobtrace"
	"github.com/cuongbtq/jobtrace/internal/tracing"
)

const (
	// MinPort is the minimum valid port number
	MinPort = 1
	// MaxPort is the maximum valid port number
	MaxPort = 65535

	// EnvPrefix prefixes environment overrides, e.g. JOBTRACE_TRACING_MODE
	EnvPrefix = "JOBTRACE"
)

// Trace exporters
const (
	ExporterPostgres = "postgres"
	ExporterLog      = "log"
)

// Config represents the complete application configuration
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	RabbitMQ RabbitMQConfig `yaml:"rabbitmq"`
	Logging  LoggingConfig  `yaml:"logging"`
	App      AppConfig      `yaml:"app"`
	Worker   WorkerConfig   `yaml:"worker"`
	Tracing  TracingConfig  `yaml:"tracing"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds PostgreSQL connection configuration
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"sslmode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	ConnMaxIdleTime time.Duration `yaml:"conn_max_idle_time"`
	AutoMigrate     bool          `yaml:"auto_migrate"`
}

// RabbitMQConfig holds RabbitMQ connection and exchange/queue configuration
type RabbitMQConfig struct {
	Host       string           `yaml:"host"`
	Port       int              `yaml:"port"`
	User       string           `yaml:"user"`
	Password   string           `yaml:"password"`
	VHost      string           `yaml:"vhost"`
	Exchange   ExchangeConfig   `yaml:"exchange"`
	Queue      QueueConfig      `yaml:"queue"`
	RoutingKey string           `yaml:"routing_key"`
	Connection ConnectionConfig `yaml:"connection"`
	Publish    PublishConfig    `yaml:"publish"`
	Consumer   ConsumerConfig   `yaml:"consumer"`
}

// ExchangeConfig holds RabbitMQ exchange configuration
type ExchangeConfig struct {
	Name       string `yaml:"name"`
	Type       string `yaml:"type"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
}

// QueueConfig holds RabbitMQ queue configuration
type QueueConfig struct {
	Name       string `yaml:"name"`
	Durable    bool   `yaml:"durable"`
	AutoDelete bool   `yaml:"auto_delete"`
	Exclusive  bool   `yaml:"exclusive"`

	// DeadLetterExchange receives jobs rejected without requeue
	DeadLetterExchange string `yaml:"dead_letter_exchange"`
}

// ConnectionConfig holds RabbitMQ connection settings
type ConnectionConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	Heartbeat         time.Duration `yaml:"heartbeat"`
	ConnectionTimeout time.Duration `yaml:"connection_timeout"`
}

// PublishConfig holds RabbitMQ publish retry settings
type PublishConfig struct {
	RetryAttempts     int           `yaml:"retry_attempts"`
	RetryInterval     time.Duration `yaml:"retry_interval"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
}

// ConsumerConfig holds RabbitMQ consumer settings. Deliveries are always
// acknowledged manually.
type ConsumerConfig struct {
	PrefetchCount int  `yaml:"prefetch_count"`
	Exclusive     bool `yaml:"exclusive"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level        string `yaml:"level"`
	Format       string `yaml:"format"`
	Output       string `yaml:"output"`
	EnableCaller bool   `yaml:"enable_caller" split_words:"true"`
	NoColor      bool   `yaml:"no_color" split_words:"true"`
}

// AppConfig holds application metadata
type AppConfig struct {
	Name        string `yaml:"name"`
	Version     string `yaml:"version"`
	Environment string `yaml:"environment"`
}

// WorkerConfig holds worker service configuration
type WorkerConfig struct {
	Concurrency       int           `yaml:"concurrency"`
	MaxJobs           int           `yaml:"max_jobs"`
	JobTimeout        time.Duration `yaml:"job_timeout"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
	ShutdownTimeout   time.Duration `yaml:"shutdown_timeout"`
}

// TracingConfig holds job tracing configuration
type TracingConfig struct {
	Enabled       bool          `yaml:"enabled"`
	Mode          string        `yaml:"mode"`
	IgnoreJobs    []string      `yaml:"ignore_jobs" split_words:"true"`
	Exporter      string        `yaml:"exporter"`
	BufferSize    int           `yaml:"buffer_size" split_words:"true"`
	ExportTimeout time.Duration `yaml:"export_timeout" split_words:"true"`
}

// MetricsConfig holds Prometheus metrics configuration
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Load reads and parses the configuration file, then applies environment overrides
func Load(configPath string) (*Config, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.applyEnv(); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	config.applyDefaults()

	return &config, nil
}

// applyEnv overlays JOBTRACE_* variables. Unset variables keep the file values.
func (c *Config) applyEnv() error {
	if err := envconfig.Process(EnvPrefix+"_TRACING", &c.Tracing); err != nil {
		return err
	}
	if err := envconfig.Process(EnvPrefix+"_METRICS", &c.Metrics); err != nil {
		return err
	}
	return envconfig.Process(EnvPrefix+"_LOG", &c.Logging)
}

func (c *Config) applyDefaults() {
	if c.Tracing.Exporter == "" {
		c.Tracing.Exporter = ExporterPostgres
	}
	if c.Tracing.BufferSize == 0 {
		c.Tracing.BufferSize = tracing.DefaultBufferSize
	}
	if c.Tracing.ExportTimeout == 0 {
		c.Tracing.ExportTimeout = tracing.DefaultExportTimeout
	}
	if c.Metrics.Addr == "" {
		c.Metrics.Addr = ":9090"
	}
}

// TracingMode returns the configured mode, or fallback when none is set
func (c *Config) TracingMode(fallback jobtrace.Mode) (jobtrace.Mode, error) {
	if c.Tracing.Mode == "" {
		return fallback, nil
	}
	return jobtrace.ParseMode(c.Tracing.Mode)
}

// Validate checks everything the API service needs
func (c *Config) Validate() error {
	if err := c.ValidateAPIConfig(); err != nil {
		return err
	}
	return c.ValidateTracingConfig()
}

// ValidateAPIConfig checks the server, database and broker sections
func (c *Config) ValidateAPIConfig() error {
	if c.Server.Port < MinPort || c.Server.Port > MaxPort {
		return fmt.Errorf("invalid server port: %d (must be between %d and %d)", c.Server.Port, MinPort, MaxPort)
	}

	if c.Database.Host == "" {
		return fmt.Errorf("database host is required")
	}

	if c.Database.Port < MinPort || c.Database.Port > MaxPort {
		return fmt.Errorf("invalid database port: %d (must be between %d and %d)", c.Database.Port, MinPort, MaxPort)
	}

	if c.Database.Database == "" {
		return fmt.Errorf("database name is required")
	}

	if c.RabbitMQ.Host == "" {
		return fmt.Errorf("rabbitmq host is required")
	}

	if c.RabbitMQ.Port < MinPort || c.RabbitMQ.Port > MaxPort {
		return fmt.Errorf("invalid rabbitmq port: %d (must be between %d and %d)", c.RabbitMQ.Port, MinPort, MaxPort)
	}

	if c.RabbitMQ.Exchange.Name == "" {
		return fmt.Errorf("rabbitmq exchange name is required")
	}

	if c.RabbitMQ.Queue.Name == "" {
		return fmt.Errorf("rabbitmq queue name is required")
	}

	return nil
}

// ValidateWorkerConfig checks the worker section
func (c *Config) ValidateWorkerConfig() error {
	if c.Worker.Concurrency <= 0 {
		return fmt.Errorf("worker concurrency must be greater than 0")
	}

	if c.Worker.MaxJobs <= 0 {
		return fmt.Errorf("worker max_jobs must be greater than 0")
	}

	if c.Worker.JobTimeout <= 0 {
		return fmt.Errorf("worker job_timeout must be greater than 0")
	}

	if c.Worker.HeartbeatInterval <= 0 {
		return fmt.Errorf("worker heartbeat_interval must be greater than 0")
	}

	if c.Worker.ShutdownTimeout <= 0 {
		return fmt.Errorf("worker shutdown_timeout must be greater than 0")
	}

	// The worker has no boundary of its own to flush at; traces ship only
	// when the correlator flushes on each terminal event.
	if mode, err := c.TracingMode(jobtrace.ModeWorker); err == nil && mode != jobtrace.ModeWorker {
		return fmt.Errorf("worker requires tracing mode %q, got %q", jobtrace.ModeWorker, c.Tracing.Mode)
	}

	return nil
}

// ValidateTracingConfig checks the tracing section
func (c *Config) ValidateTracingConfig() error {
	if c.Tracing.Mode != "" {
		if _, err := jobtrace.ParseMode(c.Tracing.Mode); err != nil {
			return fmt.Errorf("invalid tracing mode: %w", err)
		}
	}

	switch c.Tracing.Exporter {
	case "", ExporterPostgres, ExporterLog:
	default:
		return fmt.Errorf("invalid tracing exporter: %q (must be %s or %s)", c.Tracing.Exporter, ExporterPostgres, ExporterLog)
	}

	if c.Tracing.BufferSize < 0 {
		return fmt.Errorf("tracing buffer_size must not be negative")
	}

	if c.Tracing.ExportTimeout < 0 {
		return fmt.Errorf("tracing export_timeout must not be negative")
	}

	for _, name := range c.Tracing.IgnoreJobs {
		if name == "" {
			return fmt.Errorf("tracing ignore_jobs must not contain empty names")
		}
	}

	return nil
}
