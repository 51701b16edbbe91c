package tracing

import "time"

// TransactionData is an immutable copy of a transaction handed to exporters
type TransactionData struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Type      string         `json:"type"`
	Result    Result         `json:"result,omitempty"`
	StartedAt time.Time      `json:"started_at"`
	Duration  time.Duration  `json:"duration"`
	Context   map[string]any `json:"context,omitempty"`
}

// SegmentData is an immutable copy of a segment handed to exporters.
// Ended is false for segments still open when their agent flushed.
type SegmentData struct {
	ID            string         `json:"id"`
	TransactionID string         `json:"transaction_id"`
	Type          string         `json:"type"`
	Label         string         `json:"label"`
	StartedAt     time.Time      `json:"started_at"`
	Duration      time.Duration  `json:"duration"`
	Ended         bool           `json:"ended"`
	Context       map[string]any `json:"context,omitempty"`
}

// Batch is the unit of work flushed by an agent
type Batch struct {
	Transactions []TransactionData `json:"transactions"`
	Segments     []SegmentData     `json:"segments"`
}

// Len returns the number of entries in the batch
func (b Batch) Len() int {
	return len(b.Transactions) + len(b.Segments)
}
