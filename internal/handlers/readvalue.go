package handlers

import (
	"context"
	"fmt"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/engine"
	"github.com/ashita-ai/hakari/internal/model"
)

// ReadValueHandler extracts the sample vector from a completed run into the
// pass context, completing itself in the same stroke. It is the boundary
// between execution tasks and the statistical decision task above it.
type ReadValueHandler struct{}

// Handle implements engine.Handler.
func (ReadValueHandler) Handle(_ context.Context, task *model.Task, _ *model.Event, ec engine.Context) ([]actions.Action, error) {
	if len(task.Dependencies) != 1 {
		return nil, fmt.Errorf("handlers: read_value task %q needs exactly one run dependency, has %d",
			task.ID, len(task.Dependencies))
	}

	run, ok := resultOf(ec, task.Dependencies[0])
	if !ok {
		ec[task.ID] = Result{State: task.State, Payload: task.Payload}
		return nil, missingDependency(task.ID, task.Dependencies[0])
	}

	if task.State.Terminal() {
		ec[task.ID] = Result{State: task.State, Payload: task.Payload}
		return nil, nil
	}

	switch run.State {
	case model.TaskFailed, model.TaskCancelled:
		ec[task.ID] = Result{State: task.State, Payload: task.Payload}
		return []actions.Action{actions.FailTask{
			JobID:  task.JobID,
			TaskID: task.ID,
			From:   task.State,
			Reason: "run dependency failed, no values to read",
		}}, nil

	case model.TaskCompleted:
		values, ok := asFloats(run.Payload["values"])
		if !ok {
			ec[task.ID] = Result{State: task.State, Payload: task.Payload}
			return []actions.Action{actions.FailTask{
				JobID:  task.JobID,
				TaskID: task.ID,
				From:   task.State,
				Reason: "run payload carries no sample values",
			}}, nil
		}
		payload := map[string]any{
			"change": run.Payload["change"],
			"values": values,
		}
		// Publish as completed immediately: the values exist, the action
		// below only persists the fact.
		ec[task.ID] = Result{State: model.TaskCompleted, Payload: payload}
		return []actions.Action{actions.CompleteTask{
			JobID:   task.JobID,
			TaskID:  task.ID,
			From:    task.State,
			Payload: payload,
		}}, nil

	default:
		ec[task.ID] = Result{State: task.State, Payload: task.Payload}
		return nil, nil
	}
}
