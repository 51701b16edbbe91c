package queue

import (
	"fmt"
	"log/slog"
	"sync"
)

// Listener handles one lifecycle event
type Listener func(ev Event)

// Dispatcher delivers lifecycle events to listeners synchronously, in registration order.
// Listen is safe to call concurrently with Emit; a single Dispatcher is meant to be driven
// by one goroutine at a time.
type Dispatcher struct {
	logger    *slog.Logger
	mu        sync.RWMutex
	listeners map[EventKind][]Listener
}

// NewDispatcher creates an empty dispatcher
func NewDispatcher(logger *slog.Logger) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}

	return &Dispatcher{
		logger:    logger,
		listeners: make(map[EventKind][]Listener),
	}
}

// Listen registers fn for events of the given kind
func (d *Dispatcher) Listen(kind EventKind, fn Listener) {
	if fn == nil {
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.listeners[kind] = append(d.listeners[kind], fn)
}

// Emit delivers ev to every listener registered for its kind.
// A panicking listener is recovered and logged; remaining listeners still run.
func (d *Dispatcher) Emit(ev Event) {
	if ev == nil {
		return
	}

	d.mu.RLock()
	listeners := make([]Listener, len(d.listeners[ev.Kind()]))
	copy(listeners, d.listeners[ev.Kind()])
	d.mu.RUnlock()

	for _, fn := range listeners {
		d.safeCall(fn, ev)
	}
}

// HasListeners reports whether any listener is registered for kind
func (d *Dispatcher) HasListeners(kind EventKind) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.listeners[kind]) > 0
}

func (d *Dispatcher) safeCall(fn Listener, ev Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("Event listener panicked",
				slog.String("event", string(ev.Kind())),
				slog.String("panic", fmt.Sprint(r)),
			)
		}
	}()
	fn(ev)
}
