package engine

import (
	"context"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/model"
)

// Predicate decides whether a handler applies to a vertex for this event.
type Predicate func(task *model.Task, ev *model.Event) bool

// TaskTypeIs matches vertices of any of the given types.
func TaskTypeIs(types ...string) Predicate {
	return func(task *model.Task, _ *model.Event) bool {
		for _, t := range types {
			if task.Type == t {
				return true
			}
		}
		return false
	}
}

// TaskStateIn matches vertices currently in any of the given states.
func TaskStateIn(states ...model.TaskState) Predicate {
	return func(task *model.Task, _ *model.Event) bool {
		for _, s := range states {
			if task.State == s {
				return true
			}
		}
		return false
	}
}

// EventTargets matches when the event addresses this vertex, or addresses
// the whole graph.
func EventTargets(task *model.Task, ev *model.Event) bool {
	if ev == nil {
		return false
	}
	return ev.TargetTask == "" || ev.TargetTask == task.ID
}

// All combines predicates conjunctively.
func All(preds ...Predicate) Predicate {
	return func(task *model.Task, ev *model.Event) bool {
		for _, p := range preds {
			if !p(task, ev) {
				return false
			}
		}
		return true
	}
}

// Filtered runs h only for vertices matching pred; other vertices no-op.
func Filtered(pred Predicate, h Handler) Handler {
	return HandlerFunc(func(ctx context.Context, task *model.Task, ev *model.Event, ec Context) ([]actions.Action, error) {
		if !pred(task, ev) {
			return nil, nil
		}
		return h.Handle(ctx, task, ev, ec)
	})
}

// Sequence runs handlers in order against the same vertex, concatenating
// their actions. The first error wins and fails the vertex.
func Sequence(hs ...Handler) Handler {
	return HandlerFunc(func(ctx context.Context, task *model.Task, ev *model.Event, ec Context) ([]actions.Action, error) {
		var all []actions.Action
		for _, h := range hs {
			acts, err := h.Handle(ctx, task, ev, ec)
			if err != nil {
				return nil, err
			}
			all = append(all, acts...)
		}
		return all, nil
	})
}
