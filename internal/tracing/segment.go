package tracing

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/zoobzio/clockz"
)

// Segment is a nested unit of work inside a transaction.
// Safe for concurrent use by multiple goroutines.
type Segment struct {
	mu            sync.Mutex
	clock         clockz.Clock
	id            string
	transactionID string
	typ           string
	label         string
	startedAt     time.Time
	duration      time.Duration
	ended         bool
	context       map[string]any
}

func newSegment(transactionID, typ, label string, clock clockz.Clock) *Segment {
	return &Segment{
		clock:         clock,
		id:            uuid.NewString(),
		transactionID: transactionID,
		typ:           typ,
		label:         label,
		startedAt:     clock.Now(),
	}
}

// ID returns the segment id
func (s *Segment) ID() string {
	return s.id
}

// TransactionID returns the id of the owning transaction
func (s *Segment) TransactionID() string {
	return s.transactionID
}

// Label returns the segment label
func (s *Segment) Label() string {
	return s.label
}

// AddContext attaches a named value. No-op once ended.
func (s *Segment) AddContext(key string, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}
	if s.context == nil {
		s.context = make(map[string]any)
	}
	s.context[key] = value
}

// End closes the segment.
// Safe to call multiple times - subsequent calls are no-ops.
func (s *Segment) End() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.ended {
		return
	}
	s.ended = true
	s.duration = s.clock.Now().Sub(s.startedAt)
}

// Ended reports whether End has been called
func (s *Segment) Ended() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ended
}

func (s *Segment) snapshot() SegmentData {
	s.mu.Lock()
	defer s.mu.Unlock()

	return SegmentData{
		ID:            s.id,
		TransactionID: s.transactionID,
		Type:          s.typ,
		Label:         s.label,
		StartedAt:     s.startedAt,
		Duration:      s.duration,
		Ended:         s.ended,
		Context:       copyContext(s.context),
	}
}
