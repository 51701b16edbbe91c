package queue

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// HandlerFunc runs one job
type HandlerFunc func(ctx context.Context, msg *Message) error

// Registry maps job names to handlers
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]HandlerFunc
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]HandlerFunc),
	}
}

// Register binds name to fn, replacing any previous handler
func (r *Registry) Register(name string, fn HandlerFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = fn
}

// Lookup returns the handler registered for name
func (r *Registry) Lookup(name string) (HandlerFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.handlers[name]
	return fn, ok
}

// Names returns the registered job names in sorted order
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Execute runs the handler for msg. A panicking handler is reported as an error.
func (r *Registry) Execute(ctx context.Context, msg *Message) (err error) {
	fn, ok := r.Lookup(msg.Handler())
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownJob, msg.Handler())
	}

	defer func() {
		if rec := recover(); rec != nil {
			err = fmt.Errorf("job %s panicked: %v", msg.Handler(), rec)
		}
	}()

	return fn(ctx, msg)
}
