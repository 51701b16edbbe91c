package queue

import "time"

// EventKind identifies a job lifecycle event
type EventKind string

const (
	EventStarted           EventKind = "started"
	EventProcessed         EventKind = "processed"
	EventFailed            EventKind = "failed"
	EventExceptionOccurred EventKind = "exception_occurred"
)

// Event is the interface for all job lifecycle events
type Event interface {
	Kind() EventKind
}

// JobStarted is emitted right before a job handler runs
type JobStarted struct {
	Job       Job
	Timestamp time.Time
}

func (*JobStarted) Kind() EventKind { return EventStarted }

// JobProcessed is emitted when a job handler returns without error
type JobProcessed struct {
	Job       Job
	Duration  time.Duration
	Timestamp time.Time
}

func (*JobProcessed) Kind() EventKind { return EventProcessed }

// JobFailed is emitted when a job fails and will not be attempted again
type JobFailed struct {
	Job       Job
	Err       error
	Timestamp time.Time
}

func (*JobFailed) Kind() EventKind { return EventFailed }

// JobExceptionOccurred is emitted when a job attempt fails and the job will be released for another attempt
type JobExceptionOccurred struct {
	Job       Job
	Err       error
	Timestamp time.Time
}

func (*JobExceptionOccurred) Kind() EventKind { return EventExceptionOccurred }
