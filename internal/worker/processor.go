package worker

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cuongbtq/jobtrace/internal/queue"
)

// releaseTimeout bounds the republish of a released job during shutdown
const releaseTimeout = 5 * time.Second

// action is what happens to a delivery once its handler returned
type action int

const (
	actionAck action = iota
	actionRelease
	actionDeadLetter
)

func (a action) String() string {
	switch a {
	case actionAck:
		return "ack"
	case actionRelease:
		return "release"
	case actionDeadLetter:
		return "dead_letter"
	default:
		return "unknown"
	}
}

// decide maps a handler result to the delivery action
func decide(msg *queue.Message, err error) action {
	if err == nil {
		return actionAck
	}
	if queue.IsPermanent(err) || !msg.HasAttemptsLeft() {
		return actionDeadLetter
	}
	return actionRelease
}

// processJob runs one job occurrence and settles its delivery.
// Every occurrence emits JobStarted followed by exactly one terminal event.
func (w *Worker) processJob(ctx context.Context, pw *poolWorker, jm *jobMessage) {
	msg := jm.msg
	logger := pw.logger.With(
		slog.String("job_id", msg.JobID()),
		slog.String("job_name", msg.ResolveName()),
		slog.Int("attempt", msg.Attempts()+1),
		slog.Int("max_tries", msg.MaxTries()),
	)

	start := w.clock.Now()
	pw.dispatcher.Emit(&queue.JobStarted{Job: msg, Timestamp: start})

	err := w.executeJob(ctx, pw, msg)
	next := decide(msg, err)
	logger.Debug("Settling delivery", slog.String("action", next.String()))

	switch next {
	case actionAck:
		pw.dispatcher.Emit(&queue.JobProcessed{Job: msg, Duration: w.clock.Since(start), Timestamp: w.clock.Now()})
		logger.Info("Job completed successfully", slog.Duration("duration", w.clock.Since(start)))
		w.ack(logger, jm)

	case actionRelease:
		logger.Warn("Job attempt failed, releasing for retry", slog.String("error", err.Error()))
		pw.dispatcher.Emit(&queue.JobExceptionOccurred{Job: msg, Err: err, Timestamp: w.clock.Now()})
		if relErr := w.release(ctx, msg); relErr != nil {
			logger.Error("Failed to release job, requeueing delivery", slog.String("error", relErr.Error()))
			w.nack(logger, jm, true)
			return
		}
		w.ack(logger, jm)

	case actionDeadLetter:
		logger.Error("Job failed", slog.String("error", err.Error()), slog.Bool("permanent", queue.IsPermanent(err)))
		pw.dispatcher.Emit(&queue.JobFailed{Job: msg, Err: err, Timestamp: w.clock.Now()})
		w.nack(logger, jm, false)
	}
}

// executeJob runs the registered handler with a timeout. The handler context carries
// the goroutine's SyncRunner so handlers can run nested jobs inline.
func (w *Worker) executeJob(ctx context.Context, pw *poolWorker, msg *queue.Message) error {
	timeout := w.jobTimeout
	if secs := msg.TimeoutSeconds(); secs > 0 {
		timeout = time.Duration(secs) * time.Second
	}

	jobCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	done := make(chan struct{})
	defer close(done)
	if w.heartbeatInterval > 0 {
		go w.watchJob(pw, msg, done)
	}

	err := w.registry.Execute(queue.WithRunner(jobCtx, pw.runner), msg)
	if err == nil && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		// A handler that ignores ctx still counts as timed out
		return context.DeadlineExceeded
	}
	return err
}

// watchJob logs while a job keeps running past each heartbeat interval
func (w *Worker) watchJob(pw *poolWorker, msg *queue.Message, done <-chan struct{}) {
	start := w.clock.Now()
	for {
		select {
		case <-done:
			return
		case <-w.clock.After(w.heartbeatInterval):
			pw.logger.Info("Job still running",
				slog.String("job_id", msg.JobID()),
				slog.String("job_name", msg.ResolveName()),
				slog.Duration("elapsed", w.clock.Since(start)),
			)
		}
	}
}

// release republishes the job with its attempt counter incremented under the same message id
func (w *Worker) release(ctx context.Context, msg *queue.Message) error {
	body, err := msg.Released()
	if err != nil {
		return err
	}

	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), releaseTimeout)
	defer cancel()

	return w.broker.PublishJob(pubCtx, msg.JobID(), body)
}

func (w *Worker) ack(logger *slog.Logger, jm *jobMessage) {
	if err := jm.delivery.Ack(false); err != nil {
		logger.Error("Failed to ACK message", slog.String("error", err.Error()))
	}
}

func (w *Worker) nack(logger *slog.Logger, jm *jobMessage, requeue bool) {
	if err := jm.delivery.Nack(false, requeue); err != nil {
		logger.Error("Failed to NACK message", slog.String("error", err.Error()))
		return
	}
	logger.Info("Message NACKed", slog.Bool("requeue", requeue))
}
