package handlers

import (
	"context"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/engine"
	"github.com/ashita-ai/hakari/internal/model"
)

// buildFailureStatuses maps external completion statuses to failure.
var buildFailureStatuses = map[string]bool{
	"failed":  true,
	"failure": true,
	"timeout": true,
	"error":   true,
}

// BuildHandler drives a "build" task: it dispatches a build for the task's
// change when the job starts, and consumes the external service's
// completion updates. The network call itself happens post-commit inside
// the dispatch action; the handler only describes it.
type BuildHandler struct {
	Builds actions.BuildClient
	Events actions.Enqueuer
}

// Handle implements engine.Handler.
func (h BuildHandler) Handle(_ context.Context, task *model.Task, ev *model.Event, ec engine.Context) ([]actions.Action, error) {
	defer func() { ec[task.ID] = Result{State: task.State, Payload: task.Payload} }()

	switch task.State {
	case model.TaskPending:
		if ev == nil {
			return nil, nil
		}
		switch ev.Type {
		case model.EventInitiate, model.EventSelect:
			if !engine.EventTargets(task, ev) {
				return nil, nil
			}
			return []actions.Action{actions.DispatchBuild{
				JobID:  task.JobID,
				TaskID: task.ID,
				Request: actions.BuildRequest{
					Change:  asString(task.Payload["change"]),
					Builder: asString(task.Payload["builder"]),
					Target:  asString(task.Payload["target"]),
				},
				Client: h.Builds,
				Events: h.Events,
			}}, nil
		}
		return nil, nil

	case model.TaskOngoing:
		if ev == nil || ev.Type != model.EventUpdate || ev.TargetTask != task.ID {
			return nil, nil
		}
		switch status := ev.Status(); {
		case status == "dispatched":
			// Record the external build id without changing state.
			return []actions.Action{actions.AmendTaskPayload{
				JobID:   task.JobID,
				TaskID:  task.ID,
				From:    model.TaskOngoing,
				Payload: map[string]any{"build_id": ev.Payload["build_id"]},
			}}, nil
		case status == "completed":
			// Carry the dispatch-time payload forward so dependents keep
			// seeing the change and build id alongside the result.
			payload := make(map[string]any, len(task.Payload)+2)
			for k, v := range task.Payload {
				payload[k] = v
			}
			payload["status"] = "completed"
			if iso := ev.Payload["isolate"]; iso != nil {
				payload["isolate"] = iso
			}
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
				Reason: failureReason(ev, "build "+status),
			}}, nil
		}
		return nil, nil

	default:
		// Terminal: nothing to do, the deferred Result is all dependents need.
		return nil, nil
	}
}
