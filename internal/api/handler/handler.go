package handler

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/cuongbtq/jobtrace/internal/jobtrace"
	"github.com/cuongbtq/jobtrace/internal/metrics"
	"github.com/cuongbtq/jobtrace/internal/queue"
	"github.com/cuongbtq/jobtrace/internal/tracestore"
)

// TraceStore reads stored traces
type TraceStore interface {
	ListTransactions(ctx context.Context, filter tracestore.TransactionFilter) ([]tracestore.TransactionRow, error)
	GetTransaction(ctx context.Context, transactionID string) (*tracestore.Trace, error)
}

// JobPublisher puts job envelopes on the queue
type JobPublisher interface {
	PublishJob(ctx context.Context, messageID string, body []byte) error
}

// HealthChecker reports whether a backing service is reachable
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Dependencies holds all dependencies needed by handlers and middleware
type Dependencies struct {
	Logger    *slog.Logger
	Store     TraceStore
	Publisher JobPublisher
	Registry  *queue.Registry
	// Database is nil when the service runs without PostgreSQL
	Database HealthChecker
	// Tracing is nil when request tracing is disabled
	Tracing *jobtrace.Factory
	// Metrics and Gatherer are nil when metrics are disabled
	Metrics  *metrics.Collector
	Gatherer prometheus.Gatherer
}

// JobHandler handles job submission
type JobHandler struct {
	logger    *slog.Logger
	publisher JobPublisher
}

// NewJobHandler creates a new JobHandler instance
func NewJobHandler(deps *Dependencies) *JobHandler {
	return &JobHandler{
		logger:    deps.Logger,
		publisher: deps.Publisher,
	}
}

// TraceHandler serves stored traces
type TraceHandler struct {
	logger *slog.Logger
	store  TraceStore
}

// NewTraceHandler creates a new TraceHandler instance
func NewTraceHandler(deps *Dependencies) *TraceHandler {
	return &TraceHandler{
		logger: deps.Logger,
		store:  deps.Store,
	}
}
