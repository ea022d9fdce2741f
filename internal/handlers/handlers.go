// Package handlers implements the built-in task types of the bisection
// engine: payload constants and operators, build and benchmark-run dispatch,
// sample extraction, and the culprit-finding decision task.
//
// Handlers are registered on an engine.Registry by vertex type; the
// evaluator never learns task semantics. Each handler writes a Result for
// its vertex into the pass context so dependents can read it later in the
// same pass.
package handlers

import (
	"fmt"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/engine"
	"github.com/ashita-ai/hakari/internal/model"
)

// Task type names understood by the built-in registry.
const (
	TypeConstant    = "constant"
	TypeOperatorSum = "operator+"
	TypeBuild       = "build"
	TypeRun         = "run"
	TypeReadValue   = "read_value"
	TypeFindCulprit = "find_culprit"
)

// Result is what a handler publishes for its vertex in the pass context.
// State is the persisted state the pass observed (actions computed during
// the pass take effect on the next one).
type Result struct {
	State   model.TaskState
	Payload map[string]any
}

// Deps carries the external collaborators the built-in handlers need.
type Deps struct {
	Builds actions.BuildClient
	Runs   actions.RunClient
	Events actions.Enqueuer
}

// RegisterBuiltins binds all built-in handlers onto r.
func RegisterBuiltins(r *engine.Registry, deps Deps) error {
	entries := []struct {
		taskType string
		h        engine.Handler
	}{
		{TypeConstant, ConstantHandler{}},
		{TypeOperatorSum, SumHandler{}},
		{TypeBuild, BuildHandler{Builds: deps.Builds, Events: deps.Events}},
		{TypeRun, RunHandler{Runs: deps.Runs, Events: deps.Events}},
		{TypeReadValue, ReadValueHandler{}},
		{TypeFindCulprit, CulpritHandler{}},
	}
	for _, e := range entries {
		if err := r.Register(e.taskType, e.h); err != nil {
			return err
		}
	}
	return nil
}

// resultOf reads a dependency's Result from the pass context.
func resultOf(ec engine.Context, id string) (Result, bool) {
	r, ok := ec[id].(Result)
	return r, ok
}

// asFloat coerces the numeric representations JSON decoding produces.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

// asFloats coerces a payload sample vector.
func asFloats(v any) ([]float64, bool) {
	switch vs := v.(type) {
	case []float64:
		return vs, true
	case []any:
		out := make([]float64, 0, len(vs))
		for _, e := range vs {
			f, ok := asFloat(e)
			if !ok {
				return nil, false
			}
			out = append(out, f)
		}
		return out, true
	default:
		return nil, false
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

// failureReason extracts the reason of a failure update, with a fallback.
func failureReason(ev *model.Event, fallback string) string {
	if ev != nil && ev.Payload != nil {
		if r := asString(ev.Payload["reason"]); r != "" {
			return r
		}
	}
	return fallback
}

// missingDependency is the error for a vertex whose input vanished from the
// pass context; the evaluator turns it into a FailTask for the vertex.
func missingDependency(taskID, dep string) error {
	return fmt.Errorf("handlers: missing dependency %q for task %q", dep, taskID)
}
