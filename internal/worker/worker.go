package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/zoobzio/clockz"

	"github.com/cuongbtq/jobtrace/internal/queue"
)

// ErrDeliveriesClosed is returned by Start when the broker closes the delivery channel
var ErrDeliveriesClosed = errors.New("delivery channel closed")

// Broker is the subset of the RabbitMQ client the worker needs
type Broker interface {
	Consume(consumerTag string, prefetchCount int) (<-chan amqp.Delivery, error)
	PublishJob(ctx context.Context, messageID string, body []byte) error
}

// DispatcherFactory builds the event dispatcher owned by one pool goroutine.
// Listeners registered on it only ever see events from that goroutine.
type DispatcherFactory func(workerName string) *queue.Dispatcher

// Config holds worker configuration
type Config struct {
	Logger            *slog.Logger
	Broker            Broker
	Registry          *queue.Registry
	Dispatchers       DispatcherFactory
	Concurrency       int
	JobTimeout        time.Duration
	HeartbeatInterval time.Duration
	PrefetchCount     int
	WorkerID          string
	Clock             clockz.Clock
}

// jobMessage is a decoded delivery handed from the message dispatcher to the pool
type jobMessage struct {
	msg      *queue.Message
	delivery amqp.Delivery
}

// Worker consumes job messages from RabbitMQ and executes them on a goroutine pool
type Worker struct {
	logger            *slog.Logger
	broker            Broker
	registry          *queue.Registry
	dispatchers       DispatcherFactory
	concurrency       int
	jobTimeout        time.Duration
	heartbeatInterval time.Duration
	prefetchCount     int
	workerID          string
	clock             clockz.Clock
	jobsChan          chan *jobMessage
	wg                sync.WaitGroup
	stopChan          chan struct{}
	stopOnce          sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 1
	}

	clock := cfg.Clock
	if clock == nil {
		clock = clockz.RealClock
	}

	dispatchers := cfg.Dispatchers
	if dispatchers == nil {
		dispatchers = func(string) *queue.Dispatcher { return queue.NewDispatcher(logger) }
	}

	return &Worker{
		logger:            logger,
		broker:            cfg.Broker,
		registry:          cfg.Registry,
		dispatchers:       dispatchers,
		concurrency:       concurrency,
		jobTimeout:        cfg.JobTimeout,
		heartbeatInterval: cfg.HeartbeatInterval,
		prefetchCount:     cfg.PrefetchCount,
		workerID:          cfg.WorkerID,
		clock:             clock,
		jobsChan:          make(chan *jobMessage),
		stopChan:          make(chan struct{}),
	}
}

// Start subscribes to the queue and processes jobs until ctx is canceled or the broker
// closes the delivery channel
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("concurrency", w.concurrency),
		slog.Duration("job_timeout", w.jobTimeout),
		slog.Any("handlers", w.registry.Names()),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return fmt.Errorf("failed to set up consumer: %w", err)
	}

	w.spawnWorkerPool(ctx)
	w.startMessageDispatcher(ctx, deliveries)

	if ctx.Err() == nil {
		return ErrDeliveriesClosed
	}

	w.logger.Info("Worker context canceled, stopping...")
	return nil
}

// Stop signals the pool goroutines and waits for in-flight jobs to finish
func (w *Worker) Stop() {
	w.logger.Info("Stopping worker...")
	w.stopOnce.Do(func() { close(w.stopChan) })
	w.wg.Wait()
	w.logger.Info("Worker stopped")
}
