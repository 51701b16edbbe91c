// Package jobtrace correlates job lifecycle events into traces.
//
// A job that starts while no trace is recording becomes the trace root. A job that starts inside an
// open trace becomes a "job" segment of it, tracked by its JobKey until its terminal event arrives.
package jobtrace

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cuongbtq/jobtrace/internal/queue"
	"github.com/cuongbtq/jobtrace/internal/tracing"
)

const (
	// SegmentCategory is the segment type used for nested jobs
	SegmentCategory = "job"

	transactionPayloadKey = "Payload"
	segmentPayloadKey     = "payload"
)

// UnitKind tells a root transaction from a nested segment
type UnitKind string

const (
	UnitRoot    UnitKind = "root"
	UnitSegment UnitKind = "segment"
)

// Metrics receives correlation outcomes
type Metrics interface {
	JobIgnored(job string)
	UnitOpened(kind UnitKind)
	UnitClosed(kind UnitKind, result tracing.Result)
	Flushed()
	TracerError()
}

type noopMetrics struct{}

func (noopMetrics) JobIgnored(string)                   {}
func (noopMetrics) UnitOpened(UnitKind)                 {}
func (noopMetrics) UnitClosed(UnitKind, tracing.Result) {}
func (noopMetrics) Flushed()                            {}
func (noopMetrics) TracerError()                        {}

// Option configures a Correlator
type Option func(*Correlator)

// WithFilter sets the filter consulted on Started events
func WithFilter(filter Filter) Option {
	return func(c *Correlator) {
		c.filter = filter
	}
}

// WithLogger sets the correlator logger
func WithLogger(logger *slog.Logger) Option {
	return func(c *Correlator) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics sink
func WithMetrics(metrics Metrics) Option {
	return func(c *Correlator) {
		if metrics != nil {
			c.metrics = metrics
		}
	}
}

// Correlator turns job lifecycle events into trace roots and segments.
// One Correlator serves one execution context; its methods are safe for concurrent use.
type Correlator struct {
	mu      sync.Mutex
	tracer  Tracer
	mode    Mode
	filter  Filter
	logger  *slog.Logger
	metrics Metrics
	active  map[JobKey]Segment
}

// NewCorrelator creates a correlator driving tracer
func NewCorrelator(tracer Tracer, mode Mode, opts ...Option) *Correlator {
	c := &Correlator{
		tracer:  tracer,
		mode:    mode,
		logger:  slog.Default(),
		metrics: noopMetrics{},
		active:  make(map[JobKey]Segment),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Subscribe registers the correlator for all four lifecycle events on d
func (c *Correlator) Subscribe(d *queue.Dispatcher) {
	d.Listen(queue.EventStarted, func(ev queue.Event) {
		if e, ok := ev.(*queue.JobStarted); ok {
			c.HandleStarted(e.Job)
		}
	})
	d.Listen(queue.EventProcessed, func(ev queue.Event) {
		if e, ok := ev.(*queue.JobProcessed); ok {
			c.HandleProcessed(e.Job)
		}
	})
	d.Listen(queue.EventFailed, func(ev queue.Event) {
		if e, ok := ev.(*queue.JobFailed); ok {
			c.HandleFailed(e.Job)
		}
	})
	d.Listen(queue.EventExceptionOccurred, func(ev queue.Event) {
		if e, ok := ev.(*queue.JobExceptionOccurred); ok {
			c.HandleExceptionOccurred(e.Job)
		}
	})
}

// Mode returns the execution mode
func (c *Correlator) Mode() Mode {
	return c.mode
}

// ActiveUnits returns the number of open nested segments
func (c *Correlator) ActiveUnits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.active)
}

// HandleStarted opens a trace root, or a segment when a trace is already recording
func (c *Correlator) HandleStarted(job queue.Job) {
	if job == nil {
		return
	}
	defer c.guard(queue.EventStarted)

	c.mu.Lock()
	defer c.mu.Unlock()

	name := job.ResolveName()
	if c.filter != nil && !c.filter.Approved(name) {
		c.metrics.JobIgnored(name)
		c.logger.Debug("Job ignored by filter", slog.String("job_name", name))
		return
	}

	if c.tracer.IsRecording() {
		c.openSegment(job, name)
		return
	}

	tx := c.tracer.StartTransaction(name)
	tx.AddContext(transactionPayloadKey, payloadValue(job.RawBody()))
	c.metrics.UnitOpened(UnitRoot)

	c.logger.Debug("Job trace started", slog.String("job_name", name))
}

func (c *Correlator) openSegment(job queue.Job, name string) {
	segment, err := c.tracer.StartSegment(SegmentCategory, name)
	if err != nil {
		c.metrics.TracerError()
		c.logger.Warn("Failed to start job segment",
			slog.String("job_name", name),
			slog.String("error", err.Error()),
		)
		return
	}
	segment.AddContext(segmentPayloadKey, payloadValue(job.RawBody()))

	key := Resolve(job)
	if _, exists := c.active[key]; exists {
		c.logger.Debug("Job key already tracked, overwriting segment",
			slog.String("job_name", name),
			slog.String("job_key", string(key)),
		)
	}
	c.active[key] = segment
	c.metrics.UnitOpened(UnitSegment)

	c.logger.Debug("Job segment started",
		slog.String("job_name", name),
		slog.String("job_key", string(key)),
	)
}

// HandleProcessed closes the job's unit with a success outcome
func (c *Correlator) HandleProcessed(job queue.Job) {
	c.handleTerminal(queue.EventProcessed, job, tracing.ResultSuccess)
}

// HandleFailed closes the job's unit with an error outcome
func (c *Correlator) HandleFailed(job queue.Job) {
	c.handleTerminal(queue.EventFailed, job, tracing.ResultError)
}

// HandleExceptionOccurred closes the job's unit with an error outcome
func (c *Correlator) HandleExceptionOccurred(job queue.Job) {
	c.handleTerminal(queue.EventExceptionOccurred, job, tracing.ResultError)
}

func (c *Correlator) handleTerminal(kind queue.EventKind, job queue.Job, result tracing.Result) {
	if job == nil {
		return
	}
	defer c.guard(kind)

	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.tracer.IsRecording() {
		return
	}

	key := Resolve(job)
	if segment, ok := c.active[key]; ok {
		// Nested: the outer trace's result belongs to whoever opened it.
		segment.End()
		delete(c.active, key)
		c.metrics.UnitClosed(UnitSegment, result)

		c.logger.Debug("Job segment ended",
			slog.String("job_name", job.ResolveName()),
			slog.String("event", string(kind)),
		)
	} else if tx := c.tracer.CurrentTransaction(); tx != nil {
		tx.SetResult(result)
		tx.End()
		c.metrics.UnitClosed(UnitRoot, result)

		c.logger.Debug("Job trace finished",
			slog.String("job_name", job.ResolveName()),
			slog.String("event", string(kind)),
			slog.String("result", string(result)),
		)
	}

	if c.mode.FlushesOnTerminal() {
		c.tracer.Flush()
		c.metrics.Flushed()
	}
}

func (c *Correlator) guard(kind queue.EventKind) {
	if r := recover(); r != nil {
		c.metrics.TracerError()
		c.logger.Error("Job correlation panicked",
			slog.String("event", string(kind)),
			slog.String("panic", fmt.Sprint(r)),
		)
	}
}

// payloadValue keeps JSON bodies structured so exporters store them as documents
func payloadValue(body []byte) any {
	if len(body) > 0 && json.Valid(body) {
		return json.RawMessage(body)
	}
	return string(body)
}
