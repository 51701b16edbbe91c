package jobtrace

import (
	"fmt"
	"strings"
)

// Mode is the execution context the correlator runs in
type Mode string

const (
	// ModeWorker is a long-lived queue worker. Every terminal event forces a flush.
	ModeWorker Mode = "worker"
	// ModeInline runs jobs inside a request or CLI invocation that flushes on its own boundary.
	ModeInline Mode = "inline"
)

// ParseMode parses a mode name. "sync" is accepted as an alias for inline.
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "worker":
		return ModeWorker, nil
	case "inline", "sync":
		return ModeInline, nil
	default:
		return "", fmt.Errorf("unknown tracing mode %q", s)
	}
}

// FlushesOnTerminal reports whether terminal events force a flush in this mode
func (m Mode) FlushesOnTerminal() bool {
	return m == ModeWorker
}

func (m Mode) String() string {
	return string(m)
}
