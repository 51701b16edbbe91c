package dto

import "encoding/json"

type CreateJobRequest struct {
	Job         string          `json:"job" binding:"required"`
	DisplayName string          `json:"display_name"`
	Data        json.RawMessage `json:"data"`
	MaxTries    int             `json:"max_tries" binding:"omitempty,min=1,max=25"`
	Timeout     int             `json:"timeout" binding:"omitempty,min=1"`
	Sync        bool            `json:"sync"`
}

type CreateJobResponse struct {
	JobID  string `json:"job_id"`
	Job    string `json:"job"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Job statuses reported by CreateJob
const (
	JobStatusQueued    = "QUEUED"
	JobStatusCompleted = "COMPLETED"
	JobStatusFailed    = "FAILED"
)
