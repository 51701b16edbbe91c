package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
)

type runnerKeyType string

const runnerKey runnerKeyType = "queue.runner"

// SyncRunner executes jobs inline on the calling goroutine, emitting the same lifecycle events
// a queue worker would. A failed inline job is not retried.
type SyncRunner struct {
	registry   *Registry
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewSyncRunner creates a runner that looks handlers up in registry and emits events through dispatcher
func NewSyncRunner(registry *Registry, dispatcher *Dispatcher, logger *slog.Logger) *SyncRunner {
	if logger == nil {
		logger = slog.Default()
	}

	return &SyncRunner{
		registry:   registry,
		dispatcher: dispatcher,
		logger:     logger,
	}
}

// Dispatch encodes env and runs it inline. A missing uuid is generated.
func (r *SyncRunner) Dispatch(ctx context.Context, env *Envelope) error {
	if env.UUID == "" {
		env.UUID = uuid.NewString()
	}

	body, err := Encode(env)
	if err != nil {
		return err
	}

	msg, err := NewMessage("", body)
	if err != nil {
		return err
	}

	return r.Run(ctx, msg)
}

// Run executes msg and returns the handler error. The envelope timeout, when set,
// bounds the handler context; a handler that ignores it still fails with
// context.DeadlineExceeded.
func (r *SyncRunner) Run(ctx context.Context, msg *Message) error {
	start := time.Now()
	r.dispatcher.Emit(&JobStarted{Job: msg, Timestamp: start})

	err := r.execute(ctx, msg)
	if err != nil {
		r.logger.Warn("Inline job failed",
			slog.String("job_name", msg.ResolveName()),
			slog.String("job_id", msg.JobID()),
			slog.String("error", err.Error()),
		)
		r.dispatcher.Emit(&JobFailed{Job: msg, Err: err, Timestamp: time.Now()})
		return fmt.Errorf("inline job %s failed: %w", msg.ResolveName(), err)
	}

	r.dispatcher.Emit(&JobProcessed{Job: msg, Duration: time.Since(start), Timestamp: time.Now()})
	return nil
}

func (r *SyncRunner) execute(ctx context.Context, msg *Message) error {
	jobCtx := ctx
	if secs := msg.TimeoutSeconds(); secs > 0 {
		var cancel context.CancelFunc
		jobCtx, cancel = context.WithTimeout(ctx, time.Duration(secs)*time.Second)
		defer cancel()
	}

	err := r.registry.Execute(WithRunner(jobCtx, r), msg)
	if err == nil && jobCtx != ctx && errors.Is(jobCtx.Err(), context.DeadlineExceeded) {
		return context.DeadlineExceeded
	}
	return err
}

// WithRunner returns a context carrying r, used by DispatchSync
func WithRunner(ctx context.Context, r *SyncRunner) context.Context {
	return context.WithValue(ctx, runnerKey, r)
}

// RunnerFromContext extracts the SyncRunner from ctx, or nil
func RunnerFromContext(ctx context.Context) *SyncRunner {
	if ctx == nil {
		return nil
	}
	r, _ := ctx.Value(runnerKey).(*SyncRunner)
	return r
}

// DispatchSync runs env inline using the runner carried by ctx.
// Job handlers use it to run a nested job within their own execution.
func DispatchSync(ctx context.Context, env *Envelope) error {
	r := RunnerFromContext(ctx)
	if r == nil {
		return ErrNoRunner
	}
	return r.Dispatch(ctx, env)
}
