package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/model"
)

// Registry dispatches on vertex type. New task kinds are registered here;
// the evaluator itself knows nothing about task semantics. The set of types
// is open: collaborators register their own kinds at startup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register binds a handler to a vertex type. Re-registering a type is a
// programming error and is rejected.
func (r *Registry) Register(taskType string, h Handler) error {
	if taskType == "" {
		return fmt.Errorf("engine: task type is required")
	}
	if h == nil {
		return fmt.Errorf("engine: nil handler for task type %q", taskType)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.handlers[taskType]; dup {
		return fmt.Errorf("engine: handler already registered for task type %q", taskType)
	}
	r.handlers[taskType] = h
	return nil
}

// MustRegister is Register for startup wiring, panicking on conflict.
func (r *Registry) MustRegister(taskType string, h Handler) {
	if err := r.Register(taskType, h); err != nil {
		panic(err)
	}
}

// Handle implements Handler by dispatching to the handler registered for
// task.Type. An unregistered type is a per-vertex error, so the evaluator
// fails that vertex without aborting the pass.
func (r *Registry) Handle(ctx context.Context, task *model.Task, ev *model.Event, ec Context) ([]actions.Action, error) {
	r.mu.RLock()
	h, ok := r.handlers[task.Type]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("engine: no handler registered for task type %q", task.Type)
	}
	return h.Handle(ctx, task, ev, ec)
}
