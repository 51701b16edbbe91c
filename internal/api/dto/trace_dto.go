package dto

import "encoding/json"

type ListTracesRequest struct {
	Name     string `form:"name"`
	Result   string `form:"result" binding:"omitempty,oneof=success error"`
	PageSize int    `form:"page_size"`
	Cursor   string `form:"cursor"`
}

type ListTracesResponse struct {
	Traces     []TransactionDTO `json:"traces"`
	NextCursor string           `json:"next_cursor,omitempty"`
}

type TransactionDTO struct {
	TransactionID string          `json:"transaction_id"`
	Name          string          `json:"name"`
	Type          string          `json:"type"`
	Result        string          `json:"result,omitempty"`
	StartedAt     string          `json:"started_at"`
	DurationMS    float64         `json:"duration_ms"`
	Context       json.RawMessage `json:"context,omitempty"`
}

type SegmentDTO struct {
	SegmentID  string          `json:"segment_id"`
	Type       string          `json:"type"`
	Label      string          `json:"label"`
	StartedAt  string          `json:"started_at"`
	DurationMS float64         `json:"duration_ms"`
	Ended      bool            `json:"ended"`
	Context    json.RawMessage `json:"context,omitempty"`
}

type TraceResponse struct {
	Transaction TransactionDTO `json:"transaction"`
	Segments    []SegmentDTO   `json:"segments"`
}
