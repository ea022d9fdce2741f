package engine

import (
	"context"
	"fmt"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/model"
)

// Context is the accumulator shared across one evaluation pass, keyed by
// vertex id. A vertex reads the outputs its dependencies wrote earlier in
// the same pass. It is owned by the pass and discarded afterwards; it is
// never shared across passes or goroutines.
type Context map[string]any

// Handler is the type-specific behavior invoked once per vertex during a
// pass. It may write into ec[task.ID] and/or return actions to be applied
// after the pass completes. Handlers must not perform I/O: determinism of
// the whole pass depends on it.
type Handler interface {
	Handle(ctx context.Context, task *model.Task, ev *model.Event, ec Context) ([]actions.Action, error)
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, task *model.Task, ev *model.Event, ec Context) ([]actions.Action, error)

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, task *model.Task, ev *model.Event, ec Context) ([]actions.Action, error) {
	return f(ctx, task, ev, ec)
}

// Loader fetches the job's tasks (topology plus current persisted state)
// for one pass. It is called exactly once per Evaluate invocation.
type Loader func(ctx context.Context) ([]*model.Task, error)

// Evaluate runs one pass over a job's graph: every vertex is visited
// exactly once, leaves first, each after all of its dependencies. It
// returns the pass context and the collected actions.
//
// Evaluate performs no I/O beyond the single Loader call and commits
// nothing; for a fixed graph, event and persisted state it returns the
// same context and the same action list, which is what makes retrying a
// crashed pass safe.
//
// Per-vertex failures do not abort the pass: a handler error synthesizes a
// FailTask action for that vertex and its dependents are skipped (they
// lack valid inputs), while independent subtrees still evaluate.
func Evaluate(ctx context.Context, ev *model.Event, h Handler, load Loader) (Context, []actions.Action, error) {
	tasks, err := load(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("engine: load graph: %w", err)
	}
	if len(tasks) == 0 {
		return nil, nil, fmt.Errorf("%w: no tasks", ErrMalformedGraph)
	}

	byID := make(map[string]*model.Task, len(tasks))
	for _, t := range tasks {
		if _, dup := byID[t.ID]; dup {
			return nil, nil, fmt.Errorf("%w: duplicate task id %q", ErrMalformedGraph, t.ID)
		}
		byID[t.ID] = t
	}
	for _, t := range tasks {
		for _, dep := range t.Dependencies {
			if _, ok := byID[dep]; !ok {
				return nil, nil, fmt.Errorf("%w: task %q depends on unknown task %q",
					ErrMalformedGraph, t.ID, dep)
			}
		}
	}

	w := &walker{
		ctx:     ctx,
		event:   ev,
		handler: h,
		byID:    byID,
		ec:      make(Context, len(tasks)),
		visited: make(map[string]bool, len(tasks)),
		onPath:  make(map[string]bool, len(tasks)),
		skipped: make(map[string]bool),
	}

	// Cancellation short-circuits handler dispatch entirely: affected tasks
	// are driven to cancelled and their dependents are not evaluated.
	if ev != nil && ev.Type == model.EventCancel {
		return w.ec, cancelActions(ev, tasks), nil
	}

	// Visit in loader order so the walk is deterministic; visit() recurses
	// into dependencies first, giving the bottom-up order, and the visited
	// set collapses diamond-shaped dependency structures to a single visit.
	for _, t := range tasks {
		if err := w.visit(t.ID); err != nil {
			return nil, nil, err
		}
	}
	return w.ec, w.actions, nil
}

type walker struct {
	ctx     context.Context
	event   *model.Event
	handler Handler
	byID    map[string]*model.Task

	ec      Context
	actions []actions.Action
	visited map[string]bool
	onPath  map[string]bool
	skipped map[string]bool
}

func (w *walker) visit(id string) error {
	if w.visited[id] {
		return nil
	}
	if w.onPath[id] {
		return fmt.Errorf("%w: dependency cycle through %q", ErrMalformedGraph, id)
	}
	w.onPath[id] = true
	defer delete(w.onPath, id)

	task := w.byID[id]
	for _, dep := range task.Dependencies {
		if err := w.visit(dep); err != nil {
			return err
		}
	}
	w.visited[id] = true

	// A vertex whose dependency failed this pass has no valid inputs;
	// it is left untouched for re-evaluation on the next event.
	for _, dep := range task.Dependencies {
		if w.skipped[dep] {
			w.skipped[id] = true
			return nil
		}
	}

	acts, err := w.handler.Handle(w.ctx, task, w.event, w.ec)
	if err != nil {
		w.skipped[id] = true
		if !task.State.Terminal() {
			w.actions = append(w.actions, actions.FailTask{
				JobID:  task.JobID,
				TaskID: id,
				From:   task.State,
				Reason: err.Error(),
			})
		}
		return nil
	}
	w.actions = append(w.actions, acts...)
	return nil
}

// cancelActions cancels the targeted task, or every non-terminal task when
// the event has no target.
func cancelActions(ev *model.Event, tasks []*model.Task) []actions.Action {
	reason := ev.Status()
	var acts []actions.Action
	for _, t := range tasks {
		if ev.TargetTask != "" && t.ID != ev.TargetTask {
			continue
		}
		if t.State.Terminal() {
			continue
		}
		acts = append(acts, actions.CancelTask{
			JobID:  t.JobID,
			TaskID: t.ID,
			From:   t.State,
			Reason: reason,
		})
	}
	return acts
}
