package logger

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBuffered(t *testing.T, cfg Config) (*Logger, *bytes.Buffer) {
	t.Helper()

	output := &bytes.Buffer{}
	cfg.writer = output

	l, err := New(&cfg)
	require.NoError(t, err)
	return l, output
}

func decodeEntry(t *testing.T, output *bytes.Buffer) map[string]any {
	t.Helper()

	var entry map[string]any
	require.NoError(t, json.Unmarshal(output.Bytes(), &entry))
	return entry
}

func TestNew_JSON(t *testing.T) {
	tests := []struct {
		name      string
		level     string
		emit      func(l *Logger)
		wantEmpty bool
		wantLevel string
	}{
		{
			name:      "debug record at debug level",
			level:     "debug",
			emit:      func(l *Logger) { l.Debug("Job segment started", slog.String("job_name", "demo.sleep")) },
			wantLevel: "DEBUG",
		},
		{
			name:      "debug record filtered at info level",
			level:     "info",
			emit:      func(l *Logger) { l.Debug("Job segment started") },
			wantEmpty: true,
		},
		{
			name:      "warn record at error level is filtered",
			level:     "error",
			emit:      func(l *Logger) { l.Warn("Trace batch dropped") },
			wantEmpty: true,
		},
		{
			name:      "error record at warn level",
			level:     "warn",
			emit:      func(l *Logger) { l.Error("Job correlation panicked") },
			wantLevel: "ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			l, output := newBuffered(t, Config{Level: tt.level, Format: "json"})
			tt.emit(l)

			if tt.wantEmpty {
				assert.Empty(t, output.String())
				return
			}

			entry := decodeEntry(t, output)
			assert.Equal(t, tt.wantLevel, entry["level"])
			assert.Contains(t, entry, "time")
		})
	}
}

func TestNew_ConsoleFormat(t *testing.T) {
	l, output := newBuffered(t, Config{Level: "info", Format: "console", NoColor: true})

	l.Info("Worker started", slog.Int("concurrency", 4))

	line := output.String()
	assert.Contains(t, line, "INF")
	assert.Contains(t, line, "Worker started")
	assert.Contains(t, line, "concurrency=4")
	assert.NotContains(t, line, "\x1b[")
}

func TestNew_UnknownFormatFallsBackToJSON(t *testing.T) {
	l, output := newBuffered(t, Config{Format: "xml"})

	l.Info("Trace exported")

	assert.Equal(t, "Trace exported", decodeEntry(t, output)["msg"])
}

func TestNew_Source(t *testing.T) {
	l, output := newBuffered(t, Config{Format: "json", EnableSource: true})

	l.Info("with source")

	source, ok := decodeEntry(t, output)["source"].(map[string]any)
	require.True(t, ok)
	assert.Contains(t, source, "file")
	assert.Contains(t, source, "line")
}

func TestNew_Service(t *testing.T) {
	l, output := newBuffered(t, Config{Format: "json", Service: "jobtrace-worker"})

	l.Info("Starting worker service")

	assert.Equal(t, "jobtrace-worker", decodeEntry(t, output)[ServiceKey])
}

func TestLogger_Component(t *testing.T) {
	l, output := newBuffered(t, Config{Format: "json", Service: "jobtrace-api"})

	l.Component("tracing").Warn("Trace batch dropped", slog.Int64("dropped", 3))

	entry := decodeEntry(t, output)
	assert.Equal(t, "tracing", entry[ComponentKey])
	assert.Equal(t, "jobtrace-api", entry[ServiceKey])
	assert.Equal(t, float64(3), entry["dropped"])
}

func TestNew_FileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "jobtrace.log")

	l, err := New(&Config{Level: "info", Format: "json", Output: path})
	require.NoError(t, err)

	l.Info("written to file", slog.String("job_name", "demo.fail"))
	require.NoError(t, l.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"job_name":"demo.fail"`)
}

func TestNew_FileOutputError(t *testing.T) {
	l, err := New(&Config{Output: filepath.Join(t.TempDir(), "missing", "dir", "x.log")})
	require.Error(t, err)
	assert.Nil(t, l)
}

func TestNewNop(t *testing.T) {
	l := NewNop()
	require.NotNil(t, l)
	assert.NotPanics(t, func() { l.Component("worker").Info("discarded") })
	assert.NoError(t, l.Close())
}

func TestParseLevel(t *testing.T) {
	tests := []struct {
		level string
		want  slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"info", slog.LevelInfo},
		{"warn", slog.LevelWarn},
		{"Warning", slog.LevelWarn},
		{"ERROR", slog.LevelError},
		{"verbose", slog.LevelInfo},
		{"", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.level))
		})
	}
}
