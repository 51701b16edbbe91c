package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/jobtrace/internal/api/dto"
	"github.com/cuongbtq/jobtrace/internal/tracestore"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// ListTraces handles GET /api/v1/traces
// Lists transactions newest first with optional name/result filters and cursor pagination
func (h *TraceHandler) ListTraces(c *gin.Context) {
	var req dto.ListTracesRequest
	if err := c.ShouldBindQuery(&req); err != nil {
		h.logger.Error("Invalid query parameters", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid query parameters",
		})
		return
	}

	if req.PageSize <= 0 {
		req.PageSize = defaultPageSize
	}

	if req.PageSize > maxPageSize {
		req.PageSize = maxPageSize
	}

	cursor, err := DecodeTraceCursor(req.Cursor)
	if err != nil {
		h.logger.Error("Invalid cursor", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid cursor",
		})
		return
	}

	rows, err := h.store.ListTransactions(c.Request.Context(), tracestore.TransactionFilter{
		Name:     req.Name,
		Result:   req.Result,
		PageSize: req.PageSize,
		Cursor:   cursor,
	})
	if err != nil {
		h.logger.Error("Failed to list traces", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list traces",
		})
		return
	}

	hasMore := len(rows) > req.PageSize
	if hasMore {
		rows = rows[:req.PageSize]
	}

	traces := make([]dto.TransactionDTO, len(rows))
	for i, row := range rows {
		traces[i] = toTransactionDTO(row)
	}

	var nextCursor string
	if hasMore {
		last := rows[len(rows)-1]
		nextCursor = EncodeTraceCursor(&tracestore.Cursor{
			StartedAt:     last.StartedAt,
			TransactionID: last.TransactionID,
		})
	}

	c.JSON(http.StatusOK, dto.ListTracesResponse{
		Traces:     traces,
		NextCursor: nextCursor,
	})
}

// GetTrace handles GET /api/v1/traces/:trace_id
// Returns one transaction with its segments
func (h *TraceHandler) GetTrace(c *gin.Context) {
	traceID := c.Param("trace_id")

	if _, err := uuid.Parse(traceID); err != nil {
		h.logger.Error("Invalid trace_id format", slog.String("trace_id", traceID), slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "trace_id must be a valid UUID",
		})
		return
	}

	trace, err := h.store.GetTransaction(c.Request.Context(), traceID)
	if err != nil {
		if errors.Is(err, tracestore.ErrTransactionNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Trace not found",
			})
			return
		}
		h.logger.Error("Failed to get trace", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get trace",
		})
		return
	}

	segments := make([]dto.SegmentDTO, len(trace.Segments))
	for i, seg := range trace.Segments {
		segments[i] = dto.SegmentDTO{
			SegmentID:  seg.SegmentID,
			Type:       seg.Type,
			Label:      seg.Label,
			StartedAt:  seg.StartedAt.Format(time.RFC3339Nano),
			DurationMS: durationMS(seg.Duration()),
			Ended:      seg.Ended,
			Context:    json.RawMessage(seg.Context),
		}
	}

	c.JSON(http.StatusOK, dto.TraceResponse{
		Transaction: toTransactionDTO(trace.Transaction),
		Segments:    segments,
	})
}

func toTransactionDTO(row tracestore.TransactionRow) dto.TransactionDTO {
	return dto.TransactionDTO{
		TransactionID: row.TransactionID,
		Name:          row.Name,
		Type:          row.Type,
		Result:        row.Result,
		StartedAt:     row.StartedAt.Format(time.RFC3339Nano),
		DurationMS:    durationMS(row.Duration()),
		Context:       json.RawMessage(row.Context),
	}
}

func durationMS(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}
