package tracing

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memoryExporter struct {
	mu      sync.Mutex
	batches []Batch
	err     error
	block   chan struct{}
}

func (e *memoryExporter) Export(_ context.Context, batch Batch) error {
	if e.block != nil {
		<-e.block
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if e.err != nil {
		return e.err
	}
	e.batches = append(e.batches, batch)
	return nil
}

func (e *memoryExporter) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.batches)
}

type countingMetrics struct {
	mu       sync.Mutex
	exported int
	dropped  int
	failed   int
}

func (m *countingMetrics) BatchExported(int) { m.mu.Lock(); m.exported++; m.mu.Unlock() }
func (m *countingMetrics) BatchDropped()     { m.mu.Lock(); m.dropped++; m.mu.Unlock() }
func (m *countingMetrics) ExportFailed()     { m.mu.Lock(); m.failed++; m.mu.Unlock() }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func oneBatch(name string) Batch {
	return Batch{Transactions: []TransactionData{{ID: name, Name: name}}}
}

func TestTransport_SyncMode(t *testing.T) {
	exporter := &memoryExporter{}
	metrics := &countingMetrics{}
	transport := NewTransport(exporter, TransportConfig{Logger: testLogger(), Metrics: metrics})
	transport.SetSyncMode(true)
	defer transport.Close()

	assert.True(t, transport.Send(oneBatch("a")))

	assert.Equal(t, 1, exporter.count())
	assert.Equal(t, int64(1), transport.ExportedCount())
	assert.Equal(t, 1, metrics.exported)
}

func TestTransport_CloseDrainsQueue(t *testing.T) {
	exporter := &memoryExporter{}
	transport := NewTransport(exporter, TransportConfig{BufferSize: 16, Logger: testLogger()})

	for i := 0; i < 5; i++ {
		require.True(t, transport.Send(oneBatch("b")))
	}
	transport.Close()

	assert.Equal(t, 5, exporter.count())
	assert.Equal(t, int64(5), transport.ExportedCount())
}

func TestTransport_Backpressure(t *testing.T) {
	exporter := &memoryExporter{block: make(chan struct{})}
	metrics := &countingMetrics{}
	transport := NewTransport(exporter, TransportConfig{BufferSize: 1, Logger: testLogger(), Metrics: metrics})

	// First batch is picked up by the export loop and blocks there; the
	// second fills the buffer; the rest are dropped.
	for i := 0; i < 10; i++ {
		transport.Send(oneBatch("c"))
	}

	assert.Eventually(t, func() bool {
		return transport.DroppedCount() >= 8
	}, time.Second, 5*time.Millisecond)

	close(exporter.block)
	transport.Close()

	assert.Equal(t, int64(10), transport.ExportedCount()+transport.DroppedCount())
	assert.Equal(t, int(transport.DroppedCount()), metrics.dropped)
}

func TestTransport_ExportFailureIsSwallowed(t *testing.T) {
	exporter := &memoryExporter{err: errors.New("db down")}
	metrics := &countingMetrics{}
	transport := NewTransport(exporter, TransportConfig{Logger: testLogger(), Metrics: metrics})
	transport.SetSyncMode(true)
	defer transport.Close()

	assert.True(t, transport.Send(oneBatch("d")))
	assert.Equal(t, int64(1), transport.FailedCount())
	assert.Equal(t, int64(0), transport.ExportedCount())
	assert.Equal(t, 1, metrics.failed)
}

func TestTransport_SendAfterClose(t *testing.T) {
	exporter := &memoryExporter{}
	transport := NewTransport(exporter, TransportConfig{Logger: testLogger()})
	transport.Close()
	transport.Close()

	assert.False(t, transport.Send(oneBatch("e")))
	assert.Equal(t, int64(1), transport.DroppedCount())
}

func TestAgentWithTransport(t *testing.T) {
	exporter := &memoryExporter{}
	transport := NewTransport(exporter, TransportConfig{Logger: testLogger()})
	transport.SetSyncMode(true)
	defer transport.Close()

	agent := NewAgent(transport, WithLogger(testLogger()))
	tx := agent.StartTransaction("SyncInvoices")
	tx.SetResult(ResultSuccess)
	tx.End()
	agent.Flush()

	require.Equal(t, 1, exporter.count())
	assert.Equal(t, "SyncInvoices", exporter.batches[0].Transactions[0].Name)
}

func TestLogExporter(t *testing.T) {
	exporter := NewLogExporter(testLogger())

	err := exporter.Export(context.Background(), Batch{
		Transactions: []TransactionData{{ID: "t1", Name: "x", Result: ResultError}},
		Segments:     []SegmentData{{ID: "s1", TransactionID: "t1", Label: "y"}},
	})
	assert.NoError(t, err)
}
