package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cuongbtq/jobtrace/internal/queue"
)

// Demo job names registered by RegisterDemoHandlers
const (
	JobSleep  = "demo.sleep"
	JobFail   = "demo.fail"
	JobFanout = "demo.fanout"
)

const defaultSleep = 100 * time.Millisecond

type sleepArgs struct {
	Duration string `json:"duration"`
}

type failArgs struct {
	Message   string `json:"message"`
	Permanent bool   `json:"permanent"`
}

type fanoutArgs struct {
	Count    int    `json:"count"`
	Duration string `json:"duration"`
}

// RegisterDemoHandlers registers the built-in demo jobs
func RegisterDemoHandlers(r *queue.Registry) {
	r.Register(JobSleep, sleepHandler)
	r.Register(JobFail, failHandler)
	r.Register(JobFanout, fanoutHandler)
}

func decodeArgs(msg *queue.Message, v any) error {
	if len(msg.Data()) == 0 {
		return nil
	}
	if err := json.Unmarshal(msg.Data(), v); err != nil {
		return queue.NewPermanentError(fmt.Errorf("invalid %s arguments: %w", msg.Handler(), err))
	}
	return nil
}

func parseSleep(raw string) (time.Duration, error) {
	if raw == "" {
		return defaultSleep, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, queue.NewPermanentError(fmt.Errorf("invalid duration %q: %w", raw, err))
	}
	return d, nil
}

// sleepHandler waits for the requested duration or until ctx is done
func sleepHandler(ctx context.Context, msg *queue.Message) error {
	var args sleepArgs
	if err := decodeArgs(msg, &args); err != nil {
		return err
	}

	d, err := parseSleep(args.Duration)
	if err != nil {
		return err
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("sleep interrupted: %w", ctx.Err())
	}
}

// failHandler always fails, permanently when asked to
func failHandler(_ context.Context, msg *queue.Message) error {
	var args failArgs
	if err := decodeArgs(msg, &args); err != nil {
		return err
	}

	message := args.Message
	if message == "" {
		message = "demo failure"
	}

	err := errors.New(message)
	if args.Permanent {
		return queue.NewPermanentError(err)
	}
	return err
}

// fanoutHandler runs Count demo.sleep jobs inline, one after another
func fanoutHandler(ctx context.Context, msg *queue.Message) error {
	var args fanoutArgs
	if err := decodeArgs(msg, &args); err != nil {
		return err
	}

	if args.Count <= 0 {
		args.Count = 1
	}

	data, err := json.Marshal(sleepArgs{Duration: args.Duration})
	if err != nil {
		return err
	}

	for i := 0; i < args.Count; i++ {
		env := &queue.Envelope{
			Job:         JobSleep,
			DisplayName: fmt.Sprintf("%s #%d", JobSleep, i+1),
			Data:        data,
		}
		if err := queue.DispatchSync(ctx, env); err != nil {
			return fmt.Errorf("fanout child %d: %w", i+1, err)
		}
	}
	return nil
}
