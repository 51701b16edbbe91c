package worker

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/jobtrace/internal/queue"
)

// poolWorker is the per-goroutine state of the pool
type poolWorker struct {
	name       string
	dispatcher *queue.Dispatcher
	runner     *queue.SyncRunner
	logger     *slog.Logger
}

// spawnWorkerPool spawns N worker goroutines based on concurrency configuration
func (w *Worker) spawnWorkerPool(ctx context.Context) {
	w.logger.Info("Spawning worker pool",
		slog.Int("concurrency", w.concurrency),
		slog.String("worker_id", w.workerID),
	)

	for i := 0; i < w.concurrency; i++ {
		w.wg.Add(1)
		go w.workerLoop(ctx, w.newPoolWorker(i))
	}

	w.logger.Info("Worker pool spawned successfully",
		slog.Int("worker_count", w.concurrency),
	)
}

func (w *Worker) newPoolWorker(workerNum int) *poolWorker {
	name := fmt.Sprintf("%s-%d", w.workerID, workerNum)
	logger := w.logger.With(slog.String("worker_name", name))
	dispatcher := w.dispatchers(name)

	return &poolWorker{
		name:       name,
		dispatcher: dispatcher,
		runner:     queue.NewSyncRunner(w.registry, dispatcher, logger),
		logger:     logger,
	}
}

// workerLoop is the main processing loop for each worker goroutine
func (w *Worker) workerLoop(ctx context.Context, pw *poolWorker) {
	defer w.wg.Done()

	pw.logger.Info("Worker goroutine started")

	for {
		select {
		case <-w.stopChan:
			pw.logger.Info("Worker goroutine stopping - stopChan closed")
			return

		case <-ctx.Done():
			pw.logger.Info("Worker goroutine stopping - context canceled")
			return

		case jm, ok := <-w.jobsChan:
			if !ok {
				pw.logger.Info("Worker goroutine stopping - jobsChan closed")
				return
			}

			pw.logger.Info("Worker received job",
				slog.String("job_id", jm.msg.JobID()),
				slog.String("job_name", jm.msg.ResolveName()),
				slog.Uint64("delivery_tag", jm.delivery.DeliveryTag),
			)

			w.processJob(ctx, pw, jm)
		}
	}
}
