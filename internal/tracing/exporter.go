package tracing

import (
	"context"
	"log/slog"
)

// LogExporter writes every transaction and segment as a structured log line
type LogExporter struct {
	logger *slog.Logger
}

// NewLogExporter creates a LogExporter
func NewLogExporter(logger *slog.Logger) *LogExporter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogExporter{logger: logger}
}

// Export implements Exporter
func (e *LogExporter) Export(ctx context.Context, batch Batch) error {
	for _, t := range batch.Transactions {
		attrs := []slog.Attr{
			slog.String("transaction_id", t.ID),
			slog.String("name", t.Name),
			slog.String("type", t.Type),
			slog.Duration("duration", t.Duration),
		}
		if t.Result != "" {
			attrs = append(attrs, slog.String("result", string(t.Result)))
		}

		level := slog.LevelInfo
		if t.Result == ResultError {
			level = slog.LevelWarn
		}
		e.logger.LogAttrs(ctx, level, "Transaction completed", attrs...)
	}

	for _, s := range batch.Segments {
		e.logger.LogAttrs(ctx, slog.LevelInfo, "Segment completed",
			slog.String("transaction_id", s.TransactionID),
			slog.String("segment_id", s.ID),
			slog.String("type", s.Type),
			slog.String("label", s.Label),
			slog.Duration("duration", s.Duration),
			slog.Bool("ended", s.Ended),
		)
	}

	return nil
}

// ExporterFunc adapts a function to the Exporter interface
type ExporterFunc func(ctx context.Context, batch Batch) error

// Export implements Exporter
func (f ExporterFunc) Export(ctx context.Context, batch Batch) error {
	return f(ctx, batch)
}
