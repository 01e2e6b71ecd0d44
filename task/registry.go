package task

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrHandlerNotFound matches every *HandlerNotFoundError.
var ErrHandlerNotFound = errors.New("task: handler not found")

// HandlerNotFoundError reports a lookup for a task name nobody registered.
type HandlerNotFoundError struct {
	Name string
}

func (e *HandlerNotFoundError) Error() string {
	return fmt.Sprintf("task: no handler registered for %q", e.Name)
}

// Is makes errors.Is(err, ErrHandlerNotFound) true.
func (e *HandlerNotFoundError) Is(target error) bool {
	return target == ErrHandlerNotFound
}

// Handler executes one task. Implementations are looked up by exact name.
type Handler interface {
	Handle(ctx context.Context, t *Task) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, t *Task) error

// Handle calls f.
func (f HandlerFunc) Handle(ctx context.Context, t *Task) error { return f(ctx, t) }

// Registry maps task names to handlers. It is populated at startup and
// safe for concurrent use.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds name to h, replacing any previous binding.
func (r *Registry) Register(name string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[name] = h
}

// RegisterFunc registers a typed handler. The payload is JSON-decoded into
// T before the handler is called.
//
// This is a package-level generic function because Go does not allow
// generic methods.
func RegisterFunc[T any](r *Registry, name string, fn func(ctx context.Context, payload T) error) {
	r.Register(name, HandlerFunc(func(ctx context.Context, t *Task) error {
		var p T
		if len(t.Payload) > 0 {
			if err := json.Unmarshal(t.Payload, &p); err != nil {
				return fmt.Errorf("unmarshal payload for task %q: %w", name, err)
			}
		}
		return fn(ctx, p)
	}))
}

// Get returns the handler for name or a *HandlerNotFoundError.
func (r *Registry) Get(name string) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[name]
	if !ok {
		return nil, &HandlerNotFoundError{Name: name}
	}
	return h, nil
}

// Names returns all registered task names in sorted order.
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
