package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/cuongbtq/jobtrace/internal/api/dto"
	"github.com/cuongbtq/jobtrace/internal/queue"
)

// CreateJob handles POST /api/v1/jobs
// Queues a job for the worker, or runs it inline within the request when sync is set
func (h *JobHandler) CreateJob(c *gin.Context) {
	var req dto.CreateJobRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Error("Invalid request body", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid request body",
		})
		return
	}

	env := &queue.Envelope{
		UUID:        uuid.NewString(),
		DisplayName: req.DisplayName,
		Job:         req.Job,
		Data:        req.Data,
	}
	if req.MaxTries > 0 {
		maxTries := req.MaxTries
		env.MaxTries = &maxTries
	}
	if req.Timeout > 0 {
		timeout := req.Timeout
		env.Timeout = &timeout
	}

	resp := dto.CreateJobResponse{
		JobID: env.UUID,
		Job:   env.Name(),
	}

	if req.Sync {
		h.runInline(c, env, resp)
		return
	}

	if h.publisher == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Job queue is not available",
		})
		return
	}

	body, err := queue.Encode(env)
	if err != nil {
		h.logger.Error("Failed to encode job", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid job",
		})
		return
	}

	if err := h.publisher.PublishJob(c.Request.Context(), env.UUID, body); err != nil {
		h.logger.Error("Failed to publish job",
			slog.String("job_id", env.UUID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to publish job",
		})
		return
	}

	h.logger.Info("Job queued",
		slog.String("job_id", env.UUID),
		slog.String("job_name", env.Name()),
	)

	resp.Status = dto.JobStatusQueued
	c.JSON(http.StatusAccepted, resp)
}

// runInline executes env through the request's SyncRunner so the job lands in the request trace
func (h *JobHandler) runInline(c *gin.Context, env *queue.Envelope, resp dto.CreateJobResponse) {
	err := queue.DispatchSync(c.Request.Context(), env)
	if errors.Is(err, queue.ErrNoRunner) {
		h.logger.Error("Inline job requested without a runner", slog.String("job_id", env.UUID))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Inline execution is not available",
		})
		return
	}

	resp.Status = dto.JobStatusCompleted
	if err != nil {
		resp.Status = dto.JobStatusFailed
		resp.Error = err.Error()
	}

	c.JSON(http.StatusOK, resp)
}
