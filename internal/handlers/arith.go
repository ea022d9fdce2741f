package handlers

import (
	"context"
	"fmt"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/engine"
	"github.com/ashita-ai/hakari/internal/model"
)

// ConstantHandler injects its payload "value" into the pass context.
// Pure computation: no persisted-state change, no actions.
type ConstantHandler struct{}

// Handle implements engine.Handler.
func (ConstantHandler) Handle(_ context.Context, task *model.Task, _ *model.Event, ec engine.Context) ([]actions.Action, error) {
	v, ok := asFloat(task.Payload["value"])
	if !ok {
		return nil, fmt.Errorf("handlers: constant task %q has no numeric value", task.ID)
	}
	ec[task.ID] = v
	return nil, nil
}

// SumHandler adds its dependency outputs in argument order. Dependency
// order is positional by contract, which is why it matters here even for a
// commutative operator: other operators subtract or divide.
type SumHandler struct{}

// Handle implements engine.Handler.
func (SumHandler) Handle(_ context.Context, task *model.Task, _ *model.Event, ec engine.Context) ([]actions.Action, error) {
	sum := 0.0
	for _, dep := range task.Dependencies {
		v, ok := asFloat(ec[dep])
		if !ok {
			return nil, missingDependency(task.ID, dep)
		}
		sum += v
	}
	ec[task.ID] = sum
	return nil, nil
}
