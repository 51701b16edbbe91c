package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/cuongbtq/jobtrace/internal/queue"
)

// JobFile is the YAML document read by enqueue and run
type JobFile struct {
	Jobs []JobSpec `yaml:"jobs"`
}

// JobSpec describes one job to enqueue or run
type JobSpec struct {
	Job         string `yaml:"job"`
	DisplayName string `yaml:"display_name"`
	Data        any    `yaml:"data"`
	MaxTries    int    `yaml:"max_tries"`
	Timeout     int    `yaml:"timeout"`
}

// JobPublisher puts job envelopes on the queue
type JobPublisher interface {
	PublishJob(ctx context.Context, messageID string, body []byte) error
}

// loadJobFile reads and validates a job file
func loadJobFile(path string) ([]JobSpec, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read job file: %w", err)
	}

	var file JobFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse job file: %w", err)
	}

	if len(file.Jobs) == 0 {
		return nil, fmt.Errorf("job file %s contains no jobs", path)
	}

	for i, spec := range file.Jobs {
		if spec.Job == "" {
			return nil, fmt.Errorf("job %d: job name is required", i+1)
		}
		if spec.MaxTries < 0 || spec.Timeout < 0 {
			return nil, fmt.Errorf("job %d: max_tries and timeout must not be negative", i+1)
		}
	}

	return file.Jobs, nil
}

// Envelope converts the spec into a queue envelope with a fresh uuid
func (s JobSpec) Envelope() (*queue.Envelope, error) {
	env := &queue.Envelope{
		UUID:        uuid.NewString(),
		DisplayName: s.DisplayName,
		Job:         s.Job,
	}

	if s.Data != nil {
		data, err := json.Marshal(s.Data)
		if err != nil {
			return nil, fmt.Errorf("job %s: failed to encode data: %w", s.Job, err)
		}
		env.Data = data
	}

	if s.MaxTries > 0 {
		maxTries := s.MaxTries
		env.MaxTries = &maxTries
	}
	if s.Timeout > 0 {
		timeout := s.Timeout
		env.Timeout = &timeout
	}

	return env, nil
}

// enqueueJobs publishes every spec and prints the assigned ids
func enqueueJobs(ctx context.Context, publisher JobPublisher, specs []JobSpec, out io.Writer) error {
	for _, spec := range specs {
		env, err := spec.Envelope()
		if err != nil {
			return err
		}

		body, err := queue.Encode(env)
		if err != nil {
			return err
		}

		if err := publisher.PublishJob(ctx, env.UUID, body); err != nil {
			return fmt.Errorf("failed to enqueue %s: %w", env.Name(), err)
		}

		fmt.Fprintf(out, "queued\t%s\t%s\n", env.UUID, env.Name())
	}
	return nil
}

// runJobs runs every spec inline and returns the number of failed jobs
func runJobs(ctx context.Context, runner *queue.SyncRunner, specs []JobSpec, out io.Writer) (int, error) {
	failed := 0
	for _, spec := range specs {
		env, err := spec.Envelope()
		if err != nil {
			return failed, err
		}

		if err := runner.Dispatch(ctx, env); err != nil {
			failed++
			fmt.Fprintf(out, "failed\t%s\t%s\t%v\n", env.UUID, env.Name(), err)
			continue
		}

		fmt.Fprintf(out, "ok\t%s\t%s\n", env.UUID, env.Name())
	}
	return failed, nil
}
