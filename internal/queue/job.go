package queue

import (
	"encoding/json"
	"fmt"
)

// DefaultMaxTries is used when an envelope does not carry maxTries
const DefaultMaxTries = 1

// Job is the read-only view of one job occurrence handed to event listeners
type Job interface {
	// ResolveName returns the human-readable job name
	ResolveName() string
	// JobID returns the queue-assigned identifier, or "" when the queue assigned none
	JobID() string
	// RawBody returns the serialized payload exactly as it was received
	RawBody() []byte
}

// Envelope is the JSON document carried in a queue message body
type Envelope struct {
	UUID        string          `json:"uuid,omitempty"`
	DisplayName string          `json:"displayName,omitempty"`
	Job         string          `json:"job"`
	Data        json.RawMessage `json:"data,omitempty"`
	Attempts    int             `json:"attempts"`
	MaxTries    *int            `json:"maxTries,omitempty"`
	Timeout     *int            `json:"timeout,omitempty"`
}

// Name returns the display name, falling back to the handler name
func (e *Envelope) Name() string {
	if e.DisplayName != "" {
		return e.DisplayName
	}
	return e.Job
}

// Tries returns the maximum number of attempts allowed for this job
func (e *Envelope) Tries() int {
	if e.MaxTries == nil || *e.MaxTries <= 0 {
		return DefaultMaxTries
	}
	return *e.MaxTries
}

// Message is a Job decoded from a queue message
type Message struct {
	id       string
	body     []byte
	envelope Envelope
}

// NewMessage decodes body into a Message. messageID is the broker-level id and may be empty,
// in which case the envelope uuid (if any) is used.
func NewMessage(messageID string, body []byte) (*Message, error) {
	var env Envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidEnvelope, err)
	}

	if env.Job == "" {
		return nil, fmt.Errorf("%w: job name is required", ErrInvalidEnvelope)
	}

	id := messageID
	if id == "" {
		id = env.UUID
	}

	return &Message{
		id:       id,
		body:     body,
		envelope: env,
	}, nil
}

// ResolveName implements Job
func (m *Message) ResolveName() string {
	return m.envelope.Name()
}

// JobID implements Job
func (m *Message) JobID() string {
	return m.id
}

// RawBody implements Job
func (m *Message) RawBody() []byte {
	return m.body
}

// Handler returns the registry name used to look up the job handler
func (m *Message) Handler() string {
	return m.envelope.Job
}

// Data returns the job arguments
func (m *Message) Data() json.RawMessage {
	return m.envelope.Data
}

// Attempts returns how many times this job was attempted before the current delivery
func (m *Message) Attempts() int {
	return m.envelope.Attempts
}

// MaxTries returns the attempt limit for this job
func (m *Message) MaxTries() int {
	return m.envelope.Tries()
}

// TimeoutSeconds returns the per-job timeout, or 0 when the envelope does not set one
func (m *Message) TimeoutSeconds() int {
	if m.envelope.Timeout == nil {
		return 0
	}
	return *m.envelope.Timeout
}

// HasAttemptsLeft reports whether a failure of the current attempt may be retried
func (m *Message) HasAttemptsLeft() bool {
	return m.envelope.Attempts+1 < m.envelope.Tries()
}

// Released returns the body to publish when this job is put back on the queue
func (m *Message) Released() ([]byte, error) {
	env := m.envelope
	env.Attempts++
	if env.UUID == "" {
		env.UUID = m.id
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal released envelope: %w", err)
	}
	return body, nil
}

// Encode marshals an envelope into a message body
func Encode(env *Envelope) ([]byte, error) {
	if env.Job == "" {
		return nil, fmt.Errorf("%w: job name is required", ErrInvalidEnvelope)
	}

	body, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return body, nil
}
