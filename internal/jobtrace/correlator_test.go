package jobtrace

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cuongbtq/jobtrace/internal/queue"
	"github.com/cuongbtq/jobtrace/internal/tracing"
)

type fakeTransaction struct {
	name    string
	context map[string]any
	result  tracing.Result
	ended   bool
}

func (t *fakeTransaction) AddContext(key string, value any) { t.context[key] = value }
func (t *fakeTransaction) SetResult(result tracing.Result)  { t.result = result }
func (t *fakeTransaction) End()                             { t.ended = true }

type fakeSegment struct {
	category string
	label    string
	context  map[string]any
	ended    bool
}

func (s *fakeSegment) AddContext(key string, value any) { s.context[key] = value }
func (s *fakeSegment) End()                             { s.ended = true }

// fakeTracer records every call the correlator makes
type fakeTracer struct {
	calls        []string
	current      *fakeTransaction
	transactions []*fakeTransaction
	segments     []*fakeSegment
	flushes      int
	segmentErr   error
	panicOnStart bool
}

func (f *fakeTracer) IsRecording() bool {
	f.calls = append(f.calls, "IsRecording")
	return f.current != nil && !f.current.ended
}

func (f *fakeTracer) CurrentTransaction() Transaction {
	f.calls = append(f.calls, "CurrentTransaction")
	if f.current == nil {
		return nil
	}
	return f.current
}

func (f *fakeTracer) StartTransaction(name string) Transaction {
	f.calls = append(f.calls, "StartTransaction")
	if f.panicOnStart {
		panic("tracer exploded")
	}
	f.current = &fakeTransaction{name: name, context: map[string]any{}}
	f.transactions = append(f.transactions, f.current)
	return f.current
}

func (f *fakeTracer) StartSegment(category, label string) (Segment, error) {
	f.calls = append(f.calls, "StartSegment")
	if f.segmentErr != nil {
		return nil, f.segmentErr
	}
	s := &fakeSegment{category: category, label: label, context: map[string]any{}}
	f.segments = append(f.segments, s)
	return s, nil
}

func (f *fakeTracer) Flush() {
	f.calls = append(f.calls, "Flush")
	f.flushes++
	f.current = nil
}

// openTrace simulates a caller that already started a trace, without recording calls
func (f *fakeTracer) openTrace(name string) *fakeTransaction {
	f.current = &fakeTransaction{name: name, context: map[string]any{}}
	return f.current
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestCorrelator(tracer Tracer, mode Mode, opts ...Option) *Correlator {
	opts = append([]Option{WithLogger(discardLogger())}, opts...)
	return NewCorrelator(tracer, mode, opts...)
}

func TestCorrelator_StartedWithoutTraceOpensRoot(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCorrelator(tracer, ModeWorker)

	job := &fakeJob{name: "ImportUsers", id: "1", body: []byte(`{"file":"a.csv"}`)}
	c.HandleStarted(job)

	require.Len(t, tracer.transactions, 1)
	assert.Equal(t, "ImportUsers", tracer.transactions[0].name)
	assert.Empty(t, tracer.segments)
	assert.Zero(t, c.ActiveUnits())
	assert.Equal(t, json.RawMessage(`{"file":"a.csv"}`), tracer.transactions[0].context["Payload"])
}

func TestCorrelator_StartedInsideTraceOpensSegment(t *testing.T) {
	tracer := &fakeTracer{}
	outer := tracer.openTrace("GET /users")
	c := newTestCorrelator(tracer, ModeInline)

	c.HandleStarted(&fakeJob{name: "SendEmail", id: "42", body: []byte("not json")})

	require.Len(t, tracer.segments, 1)
	assert.Equal(t, SegmentCategory, tracer.segments[0].category)
	assert.Equal(t, "SendEmail", tracer.segments[0].label)
	assert.Equal(t, "not json", tracer.segments[0].context["payload"])
	assert.Equal(t, 1, c.ActiveUnits())

	assert.Empty(t, tracer.transactions)
	assert.Same(t, outer, tracer.current, "open trace keeps its identity")
}

func TestCorrelator_IgnoredJobHasNoTracerInteraction(t *testing.T) {
	tests := []struct {
		name      string
		openTrace bool
	}{
		{name: "no open trace"},
		{name: "open trace", openTrace: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer := &fakeTracer{}
			if tt.openTrace {
				tracer.openTrace("outer")
			}
			c := newTestCorrelator(tracer, ModeWorker, WithFilter(NewIgnoreList("Heartbeat")))

			c.HandleStarted(&fakeJob{name: "Heartbeat", id: "1"})

			assert.Empty(t, tracer.calls)
			assert.Zero(t, c.ActiveUnits())
		})
	}
}

func TestCorrelator_RootLifecycle(t *testing.T) {
	tests := []struct {
		name   string
		finish func(c *Correlator, job queue.Job)
		want   tracing.Result
	}{
		{name: "processed", finish: (*Correlator).HandleProcessed, want: tracing.ResultSuccess},
		{name: "failed", finish: (*Correlator).HandleFailed, want: tracing.ResultError},
		{name: "exception occurred", finish: (*Correlator).HandleExceptionOccurred, want: tracing.ResultError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer := &fakeTracer{}
			c := newTestCorrelator(tracer, ModeWorker)
			job := &fakeJob{name: "ImportUsers", id: "7"}

			c.HandleStarted(job)
			tx := tracer.current
			tt.finish(c, job)

			assert.Equal(t, tt.want, tx.result)
			assert.True(t, tx.ended)
			assert.Zero(t, c.ActiveUnits())
			assert.Equal(t, 1, tracer.flushes)
		})
	}
}

func TestCorrelator_NestedLifecycle(t *testing.T) {
	tracer := &fakeTracer{}
	outer := tracer.openTrace("outer")
	c := newTestCorrelator(tracer, ModeInline)

	nested := &fakeJob{name: "ResizeImage", body: []byte(`{"id":3}`)}
	other := &fakeJob{name: "ResizeImage", body: []byte(`{"id":4}`)}
	c.HandleStarted(nested)
	c.HandleStarted(other)
	require.Equal(t, 2, c.ActiveUnits())

	c.HandleExceptionOccurred(nested)

	assert.Equal(t, 1, c.ActiveUnits(), "exactly one entry removed")
	assert.True(t, tracer.segments[0].ended)
	assert.False(t, tracer.segments[1].ended)
	assert.Empty(t, outer.result, "outer result untouched")
	assert.False(t, outer.ended)
	assert.Zero(t, tracer.flushes)
}

func TestCorrelator_TerminalWithoutTraceIsNoop(t *testing.T) {
	for _, mode := range []Mode{ModeWorker, ModeInline} {
		t.Run(string(mode), func(t *testing.T) {
			tracer := &fakeTracer{}
			c := newTestCorrelator(tracer, mode)
			job := &fakeJob{name: "Orphan", id: "x"}

			c.HandleProcessed(job)
			c.HandleFailed(job)
			c.HandleExceptionOccurred(job)

			assert.Equal(t, []string{"IsRecording", "IsRecording", "IsRecording"}, tracer.calls)
			assert.Zero(t, c.ActiveUnits())
		})
	}
}

func TestCorrelator_FlushPolicy(t *testing.T) {
	tests := []struct {
		name        string
		mode        Mode
		wantFlushes int
	}{
		{name: "worker flushes every terminal path", mode: ModeWorker, wantFlushes: 2},
		{name: "inline never flushes", mode: ModeInline, wantFlushes: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tracer := &fakeTracer{}
			c := newTestCorrelator(tracer, tt.mode)

			// Root path.
			root := &fakeJob{name: "Root", id: "r"}
			c.HandleStarted(root)
			c.HandleProcessed(root)

			// Nested path.
			tracer.openTrace("outer")
			nested := &fakeJob{name: "Nested", id: "n"}
			c.HandleStarted(nested)
			c.HandleFailed(nested)

			assert.Equal(t, tt.wantFlushes, tracer.flushes)
		})
	}
}

func TestCorrelator_CollisionOverwritesEntry(t *testing.T) {
	tracer := &fakeTracer{}
	tracer.openTrace("outer")
	c := newTestCorrelator(tracer, ModeInline)

	first := &fakeJob{name: "A", id: "dup"}
	second := &fakeJob{name: "B", id: "dup"}
	c.HandleStarted(first)
	c.HandleStarted(second)
	assert.Equal(t, 1, c.ActiveUnits())

	// The first job's terminal event closes the second job's segment.
	c.HandleProcessed(first)

	require.Len(t, tracer.segments, 2)
	assert.False(t, tracer.segments[0].ended, "overwritten segment is never ended")
	assert.True(t, tracer.segments[1].ended)
	assert.Zero(t, c.ActiveUnits())
}

func TestCorrelator_SegmentErrorIsSwallowed(t *testing.T) {
	tracer := &fakeTracer{segmentErr: errors.New("sdk unavailable")}
	tracer.openTrace("outer")
	c := newTestCorrelator(tracer, ModeInline)

	assert.NotPanics(t, func() {
		c.HandleStarted(&fakeJob{name: "A", id: "1"})
	})
	assert.Zero(t, c.ActiveUnits())
}

func TestCorrelator_TracerPanicIsRecovered(t *testing.T) {
	tracer := &fakeTracer{panicOnStart: true}
	c := newTestCorrelator(tracer, ModeWorker)

	assert.NotPanics(t, func() {
		c.HandleStarted(&fakeJob{name: "A", id: "1"})
	})

	// The mutex was released by the panic path.
	assert.Zero(t, c.ActiveUnits())
}

func TestCorrelator_NilJob(t *testing.T) {
	tracer := &fakeTracer{}
	c := newTestCorrelator(tracer, ModeWorker)

	c.HandleStarted(nil)
	c.HandleProcessed(nil)

	assert.Empty(t, tracer.calls)
}

type recordingMetrics struct {
	ignored []string
	opened  map[UnitKind]int
	closed  map[UnitKind]int
	flushed int
	errors  int
}

func newRecordingMetrics() *recordingMetrics {
	return &recordingMetrics{opened: map[UnitKind]int{}, closed: map[UnitKind]int{}}
}

func (m *recordingMetrics) JobIgnored(job string)                      { m.ignored = append(m.ignored, job) }
func (m *recordingMetrics) UnitOpened(kind UnitKind)                   { m.opened[kind]++ }
func (m *recordingMetrics) UnitClosed(kind UnitKind, _ tracing.Result) { m.closed[kind]++ }
func (m *recordingMetrics) Flushed()                                   { m.flushed++ }
func (m *recordingMetrics) TracerError()                               { m.errors++ }

func TestCorrelator_Metrics(t *testing.T) {
	tracer := &fakeTracer{}
	metrics := newRecordingMetrics()
	c := newTestCorrelator(tracer, ModeWorker,
		WithFilter(NewIgnoreList("Skip")),
		WithMetrics(metrics),
	)

	c.HandleStarted(&fakeJob{name: "Skip"})
	root := &fakeJob{name: "Root", id: "1"}
	c.HandleStarted(root)
	nested := &fakeJob{name: "Nested", id: "2"}
	c.HandleStarted(nested)
	c.HandleProcessed(nested)

	assert.Equal(t, []string{"Skip"}, metrics.ignored)
	assert.Equal(t, 1, metrics.opened[UnitRoot])
	assert.Equal(t, 1, metrics.opened[UnitSegment])
	assert.Equal(t, 1, metrics.closed[UnitSegment])
	assert.Equal(t, 1, metrics.flushed)
}
