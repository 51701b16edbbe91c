package queue

import "errors"

var (
	// ErrInvalidEnvelope is returned when a message body is not a valid job envelope
	ErrInvalidEnvelope = errors.New("invalid job envelope")

	// ErrUnknownJob is returned when no handler is registered for a job name
	ErrUnknownJob = errors.New("unknown job")

	// ErrNoRunner is returned by DispatchSync when the context carries no SyncRunner
	ErrNoRunner = errors.New("no sync runner in context")
)

// PermanentError marks a handler failure that must not be retried even if attempts remain
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string {
	return "permanent error: " + e.Err.Error()
}

func (e *PermanentError) Unwrap() error {
	return e.Err
}

// NewPermanentError creates a new permanent error
func NewPermanentError(err error) error {
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err should fail the job without further attempts
func IsPermanent(err error) bool {
	if errors.Is(err, ErrUnknownJob) {
		return true
	}

	var permanent *PermanentError
	return errors.As(err, &permanent)
}
