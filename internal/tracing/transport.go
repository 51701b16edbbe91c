package tracing

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"
)

const (
	// DefaultBufferSize is the number of batches a transport queues before dropping
	DefaultBufferSize = 256
	// DefaultExportTimeout bounds a single exporter call
	DefaultExportTimeout = 5 * time.Second
	// DefaultDrainTimeout bounds how long Close waits for queued batches
	DefaultDrainTimeout = 10 * time.Second
)

// Exporter ships a batch to its destination
type Exporter interface {
	Export(ctx context.Context, batch Batch) error
}

// TransportMetrics receives transport outcomes
type TransportMetrics interface {
	BatchExported(size int)
	BatchDropped()
	ExportFailed()
}

// TransportConfig holds transport settings
type TransportConfig struct {
	BufferSize    int
	ExportTimeout time.Duration
	DrainTimeout  time.Duration
	Logger        *slog.Logger
	Metrics       TransportMetrics
}

// Transport buffers flushed batches and exports them on a background goroutine.
// Safe for concurrent use by multiple goroutines.
//
//nolint:govet // Field alignment optimized for readability over memory efficiency
type Transport struct {
	exporter      Exporter
	logger        *slog.Logger
	metrics       TransportMetrics
	batches       chan Batch
	stopCh        chan struct{}
	done          chan struct{}
	exportTimeout time.Duration
	drainTimeout  time.Duration
	dropped       atomic.Int64
	exported      atomic.Int64
	failed        atomic.Int64
	closed        atomic.Bool
	syncMode      bool
}

// NewTransport creates a transport and starts its export loop
func NewTransport(exporter Exporter, cfg TransportConfig) *Transport {
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = DefaultBufferSize
	}
	if cfg.ExportTimeout <= 0 {
		cfg.ExportTimeout = DefaultExportTimeout
	}
	if cfg.DrainTimeout <= 0 {
		cfg.DrainTimeout = DefaultDrainTimeout
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	t := &Transport{
		exporter:      exporter,
		logger:        cfg.Logger,
		metrics:       cfg.Metrics,
		batches:       make(chan Batch, cfg.BufferSize),
		stopCh:        make(chan struct{}),
		done:          make(chan struct{}),
		exportTimeout: cfg.ExportTimeout,
		drainTimeout:  cfg.DrainTimeout,
	}
	go t.start()
	return t
}

// SetSyncMode makes Send export on the calling goroutine.
// Used by tests to make export deterministic.
func (t *Transport) SetSyncMode(sync bool) {
	t.syncMode = sync
}

// Send queues a batch for export. It returns false if the batch was dropped.
func (t *Transport) Send(batch Batch) bool {
	if t.closed.Load() {
		t.drop()
		return false
	}

	if t.syncMode {
		t.export(batch)
		return true
	}

	select {
	case t.batches <- batch:
		return true
	default:
		// Buffer full - drop rather than block the job.
		t.drop()
		return false
	}
}

// DroppedCount returns the number of batches dropped
func (t *Transport) DroppedCount() int64 {
	return t.dropped.Load()
}

// ExportedCount returns the number of batches exported successfully
func (t *Transport) ExportedCount() int64 {
	return t.exported.Load()
}

// FailedCount returns the number of batches the exporter rejected
func (t *Transport) FailedCount() int64 {
	return t.failed.Load()
}

// Close stops accepting batches and waits for queued ones to be exported
func (t *Transport) Close() {
	if !t.closed.CompareAndSwap(false, true) {
		return
	}
	close(t.stopCh)

	select {
	case <-t.done:
	case <-time.After(t.drainTimeout):
		t.logger.Warn("Trace transport drain timed out",
			slog.Int("pending", len(t.batches)),
		)
	}
}

func (t *Transport) start() {
	defer close(t.done)

	for {
		select {
		case <-t.stopCh:
			// Drain remaining batches before shutdown.
			for {
				select {
				case batch := <-t.batches:
					t.export(batch)
				default:
					return
				}
			}
		case batch := <-t.batches:
			t.export(batch)
		}
	}
}

func (t *Transport) export(batch Batch) {
	ctx, cancel := context.WithTimeout(context.Background(), t.exportTimeout)
	defer cancel()

	if err := t.exporter.Export(ctx, batch); err != nil {
		t.failed.Add(1)
		if t.metrics != nil {
			t.metrics.ExportFailed()
		}
		t.logger.Error("Failed to export trace batch",
			slog.Int("transactions", len(batch.Transactions)),
			slog.Int("segments", len(batch.Segments)),
			slog.String("error", err.Error()),
		)
		return
	}

	t.exported.Add(1)
	if t.metrics != nil {
		t.metrics.BatchExported(batch.Len())
	}
}

func (t *Transport) drop() {
	t.dropped.Add(1)
	if t.metrics != nil {
		t.metrics.BatchDropped()
	}
}
