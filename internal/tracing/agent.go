// Package tracing is a small in-process tracing SDK.
//
// An Agent records at most one open Transaction at a time plus any number of Segments nested
// in it. Flush snapshots everything recorded so far into a Batch and hands it to a Sender
// (normally a Transport) without waiting for export.
//
// An Agent belongs to one execution context: one worker goroutine, one HTTP request, one CLI run.
// Its methods are safe for concurrent use, but "the current transaction" only has a useful meaning
// when a single goroutine drives it.
package tracing

import (
	"log/slog"
	"sync"

	"github.com/zoobzio/clockz"
)

// Sender accepts flushed batches. Send must not block.
type Sender interface {
	Send(batch Batch) bool
}

// Option configures an Agent
type Option func(*Agent)

// WithClock sets the clock used for start times and durations
func WithClock(clock clockz.Clock) Option {
	return func(a *Agent) {
		a.clock = clock
	}
}

// WithLogger sets the agent logger
func WithLogger(logger *slog.Logger) Option {
	return func(a *Agent) {
		a.logger = logger
	}
}

// Agent records transactions and segments for one execution context
type Agent struct {
	mu           sync.Mutex
	sender       Sender
	clock        clockz.Clock
	logger       *slog.Logger
	transaction  *Transaction
	transactions []*Transaction
	segments     []*Segment
}

// NewAgent creates an agent that flushes into sender. A nil sender discards flushed batches.
func NewAgent(sender Sender, opts ...Option) *Agent {
	a := &Agent{
		sender: sender,
		clock:  clockz.RealClock,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// IsRecording reports whether a transaction is open and not yet finalized
func (a *Agent) IsRecording() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isRecordingLocked()
}

func (a *Agent) isRecordingLocked() bool {
	return a.transaction != nil && !a.transaction.Ended()
}

// CurrentTransaction returns the most recently started transaction since the last flush, or nil
func (a *Agent) CurrentTransaction() *Transaction {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.transaction
}

// StartTransaction opens a new transaction and makes it current.
// A previously current transaction stays queued until the next flush.
func (a *Agent) StartTransaction(name string) *Transaction {
	a.mu.Lock()
	defer a.mu.Unlock()

	t := newTransaction(name, a.clock)
	a.transaction = t
	a.transactions = append(a.transactions, t)

	a.logger.Debug("Transaction started",
		slog.String("transaction_id", t.ID()),
		slog.String("name", name),
	)

	return t
}

// StartSegment opens a segment inside the current transaction
func (a *Agent) StartSegment(typ, label string) (*Segment, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.isRecordingLocked() {
		return nil, ErrNoTransaction
	}

	s := newSegment(a.transaction.ID(), typ, label, a.clock)
	a.segments = append(a.segments, s)

	a.logger.Debug("Segment started",
		slog.String("transaction_id", s.TransactionID()),
		slog.String("segment_id", s.ID()),
		slog.String("type", typ),
		slog.String("label", label),
	)

	return s, nil
}

// Pending returns the number of transactions and segments waiting for the next flush
func (a *Agent) Pending() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.transactions) + len(a.segments)
}

// Flush finalizes the current transaction if needed, hands everything recorded so far to the
// sender and resets the agent. It never waits for export.
func (a *Agent) Flush() {
	a.mu.Lock()

	if a.transaction != nil {
		a.transaction.End()
	}

	batch := Batch{
		Transactions: make([]TransactionData, 0, len(a.transactions)),
		Segments:     make([]SegmentData, 0, len(a.segments)),
	}
	for _, t := range a.transactions {
		batch.Transactions = append(batch.Transactions, t.snapshot())
	}
	for _, s := range a.segments {
		batch.Segments = append(batch.Segments, s.snapshot())
	}

	a.transaction = nil
	a.transactions = nil
	a.segments = nil
	a.mu.Unlock()

	if batch.Len() == 0 || a.sender == nil {
		return
	}

	if !a.sender.Send(batch) {
		a.logger.Warn("Trace batch dropped",
			slog.Int("transactions", len(batch.Transactions)),
			slog.Int("segments", len(batch.Segments)),
		)
	}
}
