package tracestore

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx/types"

	"github.com/cuongbtq/jobtrace/internal/tracing"
)

type TransactionRow struct {
	TransactionID string         `db:"transaction_id"`
	Name          string         `db:"name"`
	Type          string         `db:"type"`
	Result        string         `db:"result"`
	StartedAt     time.Time      `db:"started_at"`
	DurationUS    int64          `db:"duration_us"`
	Context       types.JSONText `db:"context"`
}

type SegmentRow struct {
	SegmentID     string         `db:"segment_id"`
	TransactionID string         `db:"transaction_id"`
	Type          string         `db:"type"`
	Label         string         `db:"label"`
	StartedAt     time.Time      `db:"started_at"`
	DurationUS    int64          `db:"duration_us"`
	Ended         bool           `db:"ended"`
	Context       types.JSONText `db:"context"`
}

// Trace is a stored transaction with its segments
type Trace struct {
	Transaction TransactionRow
	Segments    []SegmentRow
}

// Duration returns the transaction duration
func (r TransactionRow) Duration() time.Duration {
	return time.Duration(r.DurationUS) * time.Microsecond
}

// Duration returns the segment duration
func (r SegmentRow) Duration() time.Duration {
	return time.Duration(r.DurationUS) * time.Microsecond
}

func newTransactionRow(t tracing.TransactionData) (TransactionRow, error) {
	ctx, err := encodeContext(t.Context)
	if err != nil {
		return TransactionRow{}, fmt.Errorf("transaction %s: %w", t.ID, err)
	}

	return TransactionRow{
		TransactionID: t.ID,
		Name:          t.Name,
		Type:          t.Type,
		Result:        string(t.Result),
		StartedAt:     t.StartedAt.UTC(),
		DurationUS:    t.Duration.Microseconds(),
		Context:       ctx,
	}, nil
}

func newSegmentRow(s tracing.SegmentData) (SegmentRow, error) {
	ctx, err := encodeContext(s.Context)
	if err != nil {
		return SegmentRow{}, fmt.Errorf("segment %s: %w", s.ID, err)
	}

	return SegmentRow{
		SegmentID:     s.ID,
		TransactionID: s.TransactionID,
		Type:          s.Type,
		Label:         s.Label,
		StartedAt:     s.StartedAt.UTC(),
		DurationUS:    s.Duration.Microseconds(),
		Ended:         s.Ended,
		Context:       ctx,
	}, nil
}

func encodeContext(ctx map[string]any) (types.JSONText, error) {
	if len(ctx) == 0 {
		return types.JSONText("{}"), nil
	}

	clean := make(map[string]any, len(ctx))
	for k, v := range ctx {
		value, err := stripNUL(v)
		if err != nil {
			return nil, fmt.Errorf("failed to encode context %s: %w", k, err)
		}
		clean[stripNULString(k)] = value
	}

	data, err := json.Marshal(clean)
	if err != nil {
		return nil, fmt.Errorf("failed to encode context: %w", err)
	}
	return types.JSONText(data), nil
}

var escapedNUL = []byte(`\u0000`)

// stripNUL removes NUL characters, which JSONB rejects even when escaped.
// Raw JSON is only decoded when it may contain an escaped NUL.
func stripNUL(v any) (any, error) {
	switch val := v.(type) {
	case string:
		return stripNULString(val), nil
	case json.RawMessage:
		if !bytes.Contains(val, escapedNUL) {
			return val, nil
		}
		dec := json.NewDecoder(bytes.NewReader(val))
		dec.UseNumber()
		var decoded any
		if err := dec.Decode(&decoded); err != nil {
			return nil, err
		}
		return stripNUL(decoded)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			clean, err := stripNUL(item)
			if err != nil {
				return nil, err
			}
			out[stripNULString(k)] = clean
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			clean, err := stripNUL(item)
			if err != nil {
				return nil, err
			}
			out[i] = clean
		}
		return out, nil
	default:
		return v, nil
	}
}

func stripNULString(s string) string {
	return strings.ReplaceAll(s, "\x00", "")
}
