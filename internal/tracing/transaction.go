package tracing

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

// Result is the outcome recorded on a transaction
type Result string

const (
	ResultSuccess Result = "success"
	ResultError   Result = "error"
)

// Transaction types
const (
	TypeProcess = "process"
	TypeJob     = "job"
	TypeRequest = "request"
)

// Transaction is the root unit of a trace.
// Safe for concurrent use by multiple goroutines.
type Transaction struct {
	mu        sync.Mutex
	clock     clockz.Clock
	id        string
	name      string
	typ       string
	result    Result
	startedAt time.Time
	duration  time.Duration
	ended     bool
	context   map[string]any
}

func newTransaction(name string, clock clockz.Clock) *Transaction {
	return &Transaction{
		clock:     clock,
		id:        uuid.NewString(),
		name:      name,
		typ:       TypeProcess,
		startedAt: clock.Now(),
	}
}

// ID returns the transaction id
func (t *Transaction) ID() string {
	return t.id
}

// Name returns the transaction name
func (t *Transaction) Name() string {
	return t.name
}

// SetType sets the transaction type. No-op once ended.
func (t *Transaction) SetType(typ string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ended {
		return
	}
	t.typ = typ
}

// AddContext attaches a named value. No-op once ended.
func (t *Transaction) AddContext(key string, value any) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ended {
		return
	}
	if t.context == nil {
		t.context = make(map[string]any)
	}
	t.context[key] = value
}

// SetResult records the outcome. Allowed after End so a finalized transaction can still be labelled.
func (t *Transaction) SetResult(result Result) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.result = result
}

// Result returns the recorded outcome, or "" if none was set
func (t *Transaction) Result() Result {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.result
}

// End finalizes the transaction.
// Safe to call multiple times - subsequent calls are no-ops.
func (t *Transaction) End() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.ended {
		return
	}
	t.ended = true
	t.duration = t.clock.Now().Sub(t.startedAt)
}

// Ended reports whether End has been called
func (t *Transaction) Ended() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.ended
}

func (t *Transaction) snapshot() TransactionData {
	t.mu.Lock()
	defer t.mu.Unlock()

	return TransactionData{
		ID:        t.id,
		Name:      t.name,
		Type:      t.typ,
		Result:    t.result,
		StartedAt: t.startedAt,
		Duration:  t.duration,
		Context:   copyContext(t.context),
	}
}

func copyContext(src map[string]any) map[string]any {
	if src == nil {
		return nil
	}
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
