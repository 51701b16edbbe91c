package bootstrap

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobtrace/internal/config"
	"github.com/cuongbtq/jobtrace/internal/jobtrace"
	"github.com/cuongbtq/jobtrace/internal/metrics"
	"github.com/cuongbtq/jobtrace/internal/queue"
	"github.com/cuongbtq/jobtrace/shared/postgresql"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestNewTracing(t *testing.T) {
	tests := []struct {
		name        string
		tracing     config.TracingConfig
		wantErr     string
		wantFactory bool
		wantMode    jobtrace.Mode
	}{
		{
			name:    "disabled",
			tracing: config.TracingConfig{Enabled: false, Exporter: config.ExporterPostgres},
		},
		{
			name:        "log exporter with fallback mode",
			tracing:     config.TracingConfig{Enabled: true, Exporter: config.ExporterLog},
			wantFactory: true,
			wantMode:    jobtrace.ModeWorker,
		},
		{
			name:        "configured mode wins",
			tracing:     config.TracingConfig{Enabled: true, Exporter: config.ExporterLog, Mode: "inline"},
			wantFactory: true,
			wantMode:    jobtrace.ModeInline,
		},
		{
			name:    "postgres without database",
			tracing: config.TracingConfig{Enabled: true, Exporter: config.ExporterPostgres},
			wantErr: "requires a database connection",
		},
		{
			name:    "unknown exporter",
			tracing: config.TracingConfig{Enabled: true, Exporter: "kafka"},
			wantErr: "unknown trace exporter",
		},
		{
			name:    "bad mode",
			tracing: config.TracingConfig{Enabled: true, Exporter: config.ExporterLog, Mode: "batch"},
			wantErr: "unknown tracing mode",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &config.Config{Tracing: tt.tracing}
			collector := metrics.NewCollector(prometheus.NewRegistry())

			tr, err := NewTracing(cfg, jobtrace.ModeWorker, nil, collector, discardLogger())
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			defer tr.Close()

			if !tt.wantFactory {
				assert.Nil(t, tr.Factory)
				assert.Nil(t, tr.Transport)
				return
			}

			require.NotNil(t, tr.Factory)
			assert.Equal(t, tt.wantMode, tr.Factory.Mode())
		})
	}
}

func TestNewTracing_EndToEnd(t *testing.T) {
	cfg := &config.Config{Tracing: config.TracingConfig{
		Enabled:       true,
		Exporter:      config.ExporterLog,
		IgnoreJobs:    []string{"demo.noop"},
		BufferSize:    4,
		ExportTimeout: time.Second,
	}}

	tr, err := NewTracing(cfg, jobtrace.ModeWorker, nil, nil, discardLogger())
	require.NoError(t, err)

	d := queue.NewDispatcher(discardLogger())
	session := tr.Factory.Open(d)

	body := []byte(`{"uuid":"a1","job":"demo.sleep"}`)
	msg, err := queue.NewMessage("", body)
	require.NoError(t, err)

	d.Emit(&queue.JobStarted{Job: msg})
	assert.True(t, session.Agent.IsRecording())
	d.Emit(&queue.JobProcessed{Job: msg})
	assert.False(t, session.Agent.IsRecording())

	tr.Close()
	assert.Equal(t, int64(1), tr.Transport.ExportedCount())
}

func TestRabbitMQConfig(t *testing.T) {
	cfg := &config.RabbitMQConfig{
		Host:       "localhost",
		Port:       5672,
		Exchange:   config.ExchangeConfig{Name: "jobs", Type: "direct", Durable: true},
		Queue:      config.QueueConfig{Name: "jobs.default", Durable: true, DeadLetterExchange: "jobs.dead"},
		Consumer:   config.ConsumerConfig{PrefetchCount: 8, Exclusive: true},
		RoutingKey: "jobs.default",
		Publish:    config.PublishConfig{RetryAttempts: 4, RetryInterval: time.Second, BackoffMultiplier: 1.5},
	}

	got := RabbitMQConfig(cfg)
	assert.Equal(t, "jobs", got.ExchangeName)
	assert.Equal(t, "jobs.default", got.QueueName)
	assert.True(t, got.QueueDurable)
	assert.Equal(t, 4, got.PublishRetries)
	assert.Equal(t, 1.5, got.PublishBackoffMult)
	assert.Equal(t, "jobs.dead", got.DeadLetterExchange)
	assert.True(t, got.ConsumerExclusive)
}

func TestTracing_CloseNil(t *testing.T) {
	var tr *Tracing
	assert.NotPanics(t, tr.Close)
	assert.NotPanics(t, (&Tracing{}).Close)
}

func TestMetrics(t *testing.T) {
	collector, reg := Metrics(&config.MetricsConfig{Enabled: false})
	assert.Nil(t, collector)
	assert.Nil(t, reg)

	collector, reg = Metrics(&config.MetricsConfig{Enabled: true})
	require.NotNil(t, collector)
	require.NotNil(t, reg)

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestNeedsDatabase(t *testing.T) {
	assert.False(t, NeedsDatabase(&config.Config{Tracing: config.TracingConfig{Enabled: false, Exporter: config.ExporterPostgres}}))
	assert.False(t, NeedsDatabase(&config.Config{Tracing: config.TracingConfig{Enabled: true, Exporter: config.ExporterLog}}))
	assert.True(t, NeedsDatabase(&config.Config{Tracing: config.TracingConfig{Enabled: true, Exporter: config.ExporterPostgres}}))
}

func TestMigrate(t *testing.T) {
	t.Run("disabled is a no-op", func(t *testing.T) {
		require.NoError(t, Migrate(context.Background(), &config.DatabaseConfig{}, nil, discardLogger()))
	})

	t.Run("no client is a no-op", func(t *testing.T) {
		cfg := &config.DatabaseConfig{AutoMigrate: true}
		require.NoError(t, Migrate(context.Background(), cfg, nil, discardLogger()))
	})

	t.Run("applies schema", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		pg := postgresql.NewClientWithDB(sqlx.NewDb(db, "postgres"), &postgresql.Config{}, discardLogger())
		t.Cleanup(func() { pg.Close() })

		mock.ExpectExec("CREATE TABLE IF NOT EXISTS transactions").
			WillReturnResult(sqlmock.NewResult(0, 0))

		cfg := &config.DatabaseConfig{AutoMigrate: true}
		require.NoError(t, Migrate(context.Background(), cfg, pg, discardLogger()))
		assert.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("propagates failure", func(t *testing.T) {
		db, mock, err := sqlmock.New()
		require.NoError(t, err)
		pg := postgresql.NewClientWithDB(sqlx.NewDb(db, "postgres"), &postgresql.Config{}, discardLogger())
		t.Cleanup(func() { pg.Close() })

		mock.ExpectExec("CREATE TABLE").WillReturnError(errors.New("permission denied"))

		cfg := &config.DatabaseConfig{AutoMigrate: true}
		assert.Error(t, Migrate(context.Background(), cfg, pg, discardLogger()))
	})
}
