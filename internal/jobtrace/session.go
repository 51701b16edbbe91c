package jobtrace

import (
	"log/slog"

	"github.com/cuongbtq/jobtrace/internal/queue"
	"github.com/cuongbtq/jobtrace/internal/tracing"
)

// Session is one Agent and its Correlator. A session belongs to a single execution
// context (one worker goroutine, one HTTP request or one CLI run).
type Session struct {
	Agent      *tracing.Agent
	Correlator *Correlator
}

// Factory opens sessions that share one sender and one correlator configuration
type Factory struct {
	sender    tracing.Sender
	mode      Mode
	logger    *slog.Logger
	agentOpts []tracing.Option
	opts      []Option
}

// NewFactory creates a Factory. logger is passed to every agent and correlator.
func NewFactory(sender tracing.Sender, mode Mode, logger *slog.Logger, opts ...Option) *Factory {
	if logger == nil {
		logger = slog.Default()
	}

	return &Factory{
		sender:    sender,
		mode:      mode,
		logger:    logger,
		agentOpts: []tracing.Option{tracing.WithLogger(logger)},
		opts:      append([]Option{WithLogger(logger)}, opts...),
	}
}

// WithAgentOptions appends options applied to every new agent
func (f *Factory) WithAgentOptions(opts ...tracing.Option) *Factory {
	f.agentOpts = append(f.agentOpts, opts...)
	return f
}

// Mode returns the correlator mode of opened sessions
func (f *Factory) Mode() Mode {
	return f.mode
}

// Open creates a session and subscribes its correlator to d
func (f *Factory) Open(d *queue.Dispatcher) *Session {
	agent := tracing.NewAgent(f.sender, f.agentOpts...)
	correlator := NewCorrelator(NewAgentTracer(agent), f.mode, f.opts...)
	if d != nil {
		correlator.Subscribe(d)
	}

	return &Session{
		Agent:      agent,
		Correlator: correlator,
	}
}
