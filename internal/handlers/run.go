package handlers

import (
	"context"
	"fmt"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/engine"
	"github.com/ashita-ai/hakari/internal/model"
)

// RunHandler drives a "run" task: once its build dependency completes it
// dispatches a benchmark run against the built artifact, and it consumes
// the runner's completion updates, which carry the measured sample vector.
type RunHandler struct {
	Runs   actions.RunClient
	Events actions.Enqueuer
}

// Handle implements engine.Handler.
func (h RunHandler) Handle(_ context.Context, task *model.Task, ev *model.Event, ec engine.Context) ([]actions.Action, error) {
	defer func() { ec[task.ID] = Result{State: task.State, Payload: task.Payload} }()

	if len(task.Dependencies) != 1 {
		return nil, fmt.Errorf("handlers: run task %q needs exactly one build dependency, has %d",
			task.ID, len(task.Dependencies))
	}
	build, ok := resultOf(ec, task.Dependencies[0])
	if !ok {
		return nil, missingDependency(task.ID, task.Dependencies[0])
	}

	switch task.State {
	case model.TaskPending:
		switch build.State {
		case model.TaskFailed, model.TaskCancelled:
			return []actions.Action{actions.FailTask{
				JobID:  task.JobID,
				TaskID: task.ID,
				From:   model.TaskPending,
				Reason: "build dependency failed, cannot run tests",
			}}, nil
		case model.TaskCompleted:
			iterations := 10
			if n, ok := asFloat(task.Payload["iterations"]); ok && n > 0 {
				iterations = int(n)
			}
			return []actions.Action{actions.DispatchRun{
				JobID:  task.JobID,
				TaskID: task.ID,
				Request: actions.RunRequest{
					Change:     asString(task.Payload["change"]),
					BuildID:    asString(build.Payload["build_id"]),
					Benchmark:  asString(task.Payload["benchmark"]),
					Iterations: iterations,
				},
				Client: h.Runs,
				Events: h.Events,
			}}, nil
		default:
			// Build not done yet; re-evaluated when its update arrives.
			return nil, nil
		}

	case model.TaskOngoing:
		if ev == nil || ev.Type != model.EventUpdate || ev.TargetTask != task.ID {
			return nil, nil
		}
		switch status := ev.Status(); {
		case status == "dispatched":
			return []actions.Action{actions.AmendTaskPayload{
				JobID:   task.JobID,
				TaskID:  task.ID,
				From:    model.TaskOngoing,
				Payload: map[string]any{"run_id": ev.Payload["run_id"]},
			}}, nil
		case status == "completed":
			values, ok := asFloats(ev.Payload["values"])
			if !ok {
				return []actions.Action{actions.FailTask{
					JobID:  task.JobID,
					TaskID: task.ID,
					From:   model.TaskOngoing,
					Reason: "run completed without sample values",
				}}, nil
			}
			payload := make(map[string]any, len(task.Payload)+2)
			for k, v := range task.Payload {
				payload[k] = v
			}
			payload["status"] = "completed"
			payload["values"] = values
			return []actions.Action{actions.CompleteTask{
				JobID:   task.JobID,
				TaskID:  task.ID,
				Payload: payload,
			}}, nil
		case buildFailureStatuses[status]:
			return []actions.Action{actions.FailTask{
				JobID:  task.JobID,
				TaskID: task.ID,
				From:   model.TaskOngoing,
				Reason: failureReason(ev, "run "+status),
			}}, nil
		}
		return nil, nil

	default:
		return nil, nil
	}
}
