// Package metrics exposes job, correlation and trace transport metrics to Prometheus.
//
// Metric groups:
//
//	jobtrace_jobs_events_total{event}         lifecycle events seen by a dispatcher
//	jobtrace_job_duration_seconds             handler latency of processed jobs
//	jobtrace_units_opened_total{kind}         trace roots and segments opened by the correlator
//	jobtrace_units_closed_total{kind,result}  trace roots and segments closed by the correlator
//	jobtrace_active_segments                  nested segments waiting for their terminal event
//	jobtrace_jobs_ignored_total               jobs rejected by the ignore list
//	jobtrace_flushes_total                    forced flushes in worker mode
//	jobtrace_tracer_errors_total              tracer calls that failed or panicked
//	jobtrace_batches_exported_total           batches accepted by the exporter
//	jobtrace_batch_entries_total              transactions and segments exported
//	jobtrace_batches_dropped_total            batches dropped by a full or closed transport
//	jobtrace_export_failures_total            batches the exporter rejected
//	jobtrace_http_requests_total{method,route,status}
//	jobtrace_http_request_duration_seconds{method,route}
package metrics

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cuongbtq/jobtrace/internal/jobtrace"
	"github.com/cuongbtq/jobtrace/internal/queue"
	"github.com/cuongbtq/jobtrace/internal/tracing"
)

const namespace = "jobtrace"

// Collector holds every metric of the process.
// It implements jobtrace.Metrics and tracing.TransportMetrics.
type Collector struct {
	jobEvents   *prometheus.CounterVec
	jobDuration prometheus.Histogram

	unitsOpened    *prometheus.CounterVec
	unitsClosed    *prometheus.CounterVec
	activeSegments prometheus.Gauge
	jobsIgnored    prometheus.Counter
	flushes        prometheus.Counter
	tracerErrors   prometheus.Counter

	batchesExported prometheus.Counter
	batchEntries    prometheus.Counter
	batchesDropped  prometheus.Counter
	exportFailures  prometheus.Counter

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
}

var (
	_ jobtrace.Metrics         = (*Collector)(nil)
	_ tracing.TransportMetrics = (*Collector)(nil)
)

// NewCollector creates a Collector and registers its metrics with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewCollector(reg prometheus.Registerer) *Collector {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	c := &Collector{
		jobEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_events_total",
			Help:      "Total number of job lifecycle events by kind",
		}, []string{"event"}),
		jobDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "job_duration_seconds",
			Help:      "Processing time of successful jobs in seconds",
			Buckets:   prometheus.DefBuckets,
		}),
		unitsOpened: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_opened_total",
			Help:      "Total number of trace roots and segments opened for jobs",
		}, []string{"kind"}),
		unitsClosed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "units_closed_total",
			Help:      "Total number of trace roots and segments closed for jobs",
		}, []string{"kind", "result"}),
		activeSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_segments",
			Help:      "Current number of nested job segments waiting for a terminal event",
		}),
		jobsIgnored: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "jobs_ignored_total",
			Help:      "Total number of jobs skipped by the ignore list",
		}),
		flushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flushes_total",
			Help:      "Total number of flushes forced at job boundaries",
		}),
		tracerErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tracer_errors_total",
			Help:      "Total number of tracer calls that failed during correlation",
		}),
		batchesExported: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_exported_total",
			Help:      "Total number of trace batches exported",
		}),
		batchEntries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batch_entries_total",
			Help:      "Total number of transactions and segments exported",
		}),
		batchesDropped: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "batches_dropped_total",
			Help:      "Total number of trace batches dropped by the transport",
		}),
		exportFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "export_failures_total",
			Help:      "Total number of trace batches the exporter failed to write",
		}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "Total number of HTTP requests",
		}, []string{"method", "route", "status"}),
		httpDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}

	reg.MustRegister(
		c.jobEvents,
		c.jobDuration,
		c.unitsOpened,
		c.unitsClosed,
		c.activeSegments,
		c.jobsIgnored,
		c.flushes,
		c.tracerErrors,
		c.batchesExported,
		c.batchEntries,
		c.batchesDropped,
		c.exportFailures,
		c.httpRequests,
		c.httpDuration,
	)

	return c
}

// Subscribe counts every lifecycle event emitted on d
func (c *Collector) Subscribe(d *queue.Dispatcher) {
	for _, kind := range []queue.EventKind{
		queue.EventStarted,
		queue.EventProcessed,
		queue.EventFailed,
		queue.EventExceptionOccurred,
	} {
		d.Listen(kind, c.recordEvent)
	}
}

func (c *Collector) recordEvent(ev queue.Event) {
	c.jobEvents.WithLabelValues(string(ev.Kind())).Inc()
	if e, ok := ev.(*queue.JobProcessed); ok {
		c.jobDuration.Observe(e.Duration.Seconds())
	}
}

// JobIgnored implements jobtrace.Metrics
func (c *Collector) JobIgnored(string) {
	c.jobsIgnored.Inc()
}

// UnitOpened implements jobtrace.Metrics
func (c *Collector) UnitOpened(kind jobtrace.UnitKind) {
	c.unitsOpened.WithLabelValues(string(kind)).Inc()
	if kind == jobtrace.UnitSegment {
		c.activeSegments.Inc()
	}
}

// UnitClosed implements jobtrace.Metrics
func (c *Collector) UnitClosed(kind jobtrace.UnitKind, result tracing.Result) {
	c.unitsClosed.WithLabelValues(string(kind), string(result)).Inc()
	if kind == jobtrace.UnitSegment {
		c.activeSegments.Dec()
	}
}

// Flushed implements jobtrace.Metrics
func (c *Collector) Flushed() {
	c.flushes.Inc()
}

// TracerError implements jobtrace.Metrics
func (c *Collector) TracerError() {
	c.tracerErrors.Inc()
}

// BatchExported implements tracing.TransportMetrics
func (c *Collector) BatchExported(size int) {
	c.batchesExported.Inc()
	c.batchEntries.Add(float64(size))
}

// BatchDropped implements tracing.TransportMetrics
func (c *Collector) BatchDropped() {
	c.batchesDropped.Inc()
}

// ExportFailed implements tracing.TransportMetrics
func (c *Collector) ExportFailed() {
	c.exportFailures.Inc()
}

// ObserveRequest records one finished HTTP request
func (c *Collector) ObserveRequest(method, route string, status int, elapsed time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(method, route).Observe(elapsed.Seconds())
}

// Handler returns the /metrics handler for g
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

// Server serves /metrics on its own listener
type Server struct {
	srv    *http.Server
	logger *slog.Logger
}

// NewServer creates a metrics server listening on addr
func NewServer(addr string, g prometheus.Gatherer, logger *slog.Logger) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler(g))

	return &Server{
		srv: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 5 * time.Second,
		},
		logger: logger,
	}
}

// Start serves in a background goroutine
func (s *Server) Start() {
	go func() {
		s.logger.Info("Metrics server listening", slog.String("addr", s.srv.Addr))
		if err := s.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("Metrics server failed", slog.String("error", err.Error()))
		}
	}()
}

// Shutdown stops the server
func (s *Server) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}
