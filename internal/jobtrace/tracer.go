package jobtrace

import (
	"github.com/cuongbtq/jobtrace/internal/tracing"
)

// Tracer is the part of the tracing SDK the correlator drives
type Tracer interface {
	IsRecording() bool
	CurrentTransaction() Transaction
	StartTransaction(name string) Transaction
	StartSegment(category, label string) (Segment, error)
	Flush()
}

// Transaction is an open trace root
type Transaction interface {
	AddContext(key string, value any)
	SetResult(result tracing.Result)
	End()
}

// Segment is an open child unit
type Segment interface {
	AddContext(key string, value any)
	End()
}

type agentTracer struct {
	agent *tracing.Agent
}

// NewAgentTracer adapts a tracing.Agent to Tracer. Roots it opens are typed as jobs.
func NewAgentTracer(agent *tracing.Agent) Tracer {
	return &agentTracer{agent: agent}
}

func (t *agentTracer) IsRecording() bool {
	return t.agent.IsRecording()
}

func (t *agentTracer) CurrentTransaction() Transaction {
	tx := t.agent.CurrentTransaction()
	if tx == nil {
		return nil
	}
	return tx
}

func (t *agentTracer) StartTransaction(name string) Transaction {
	tx := t.agent.StartTransaction(name)
	tx.SetType(tracing.TypeJob)
	return tx
}

func (t *agentTracer) StartSegment(category, label string) (Segment, error) {
	s, err := t.agent.StartSegment(category, label)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (t *agentTracer) Flush() {
	t.agent.Flush()
}
