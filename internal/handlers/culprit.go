package handlers

import (
	"context"
	"fmt"

	"github.com/ashita-ai/hakari/internal/actions"
	"github.com/ashita-ai/hakari/internal/compare"
	"github.com/ashita-ai/hakari/internal/engine"
	"github.com/ashita-ai/hakari/internal/model"
)

// CulpritHandler is the decision task at the root of a bisection graph.
// Its dependencies are read_value tasks ordered by commit position; it
// compares each neighbouring pair of sample vectors and completes with the
// list of changes whose comparison against their predecessor came out
// significantly different.
//
// Pairs that come out pending or unknown leave the task where it is: the
// job needs more repetitions, which arrive as further run updates.
type CulpritHandler struct{}

// Handle implements engine.Handler.
func (CulpritHandler) Handle(_ context.Context, task *model.Task, _ *model.Event, ec engine.Context) ([]actions.Action, error) {
	defer func() {
		if _, done := ec[task.ID]; !done {
			ec[task.ID] = Result{State: task.State, Payload: task.Payload}
		}
	}()

	if len(task.Dependencies) < 2 {
		return nil, fmt.Errorf("handlers: find_culprit task %q needs at least two dependencies, has %d",
			task.ID, len(task.Dependencies))
	}
	if task.State.Terminal() {
		return nil, nil
	}

	mode := model.ComparisonMode(asString(task.Payload["comparison_mode"]))
	if !mode.Valid() {
		mode = model.ComparePerformance
	}
	magnitude, _ := asFloat(task.Payload["magnitude"])
	opts := compare.DefaultOptions(mode, magnitude)

	// Gather the sample vector of every dependency, in commit order.
	samples := make([][]float64, 0, len(task.Dependencies))
	changes := make([]string, 0, len(task.Dependencies))
	for _, dep := range task.Dependencies {
		r, ok := resultOf(ec, dep)
		if !ok {
			return nil, missingDependency(task.ID, dep)
		}
		switch r.State {
		case model.TaskFailed, model.TaskCancelled:
			return []actions.Action{actions.FailTask{
				JobID:  task.JobID,
				TaskID: task.ID,
				From:   task.State,
				Reason: fmt.Sprintf("dependency %q failed, samples incomplete", dep),
			}}, nil
		case model.TaskCompleted:
			values, ok := asFloats(r.Payload["values"])
			if !ok {
				return nil, fmt.Errorf("handlers: dependency %q completed without values", dep)
			}
			samples = append(samples, values)
			changes = append(changes, asString(r.Payload["change"]))
		default:
			// Samples still being measured.
			return nil, nil
		}
	}

	// Compare neighbouring revisions; a difference between positions i and
	// i+1 blames the later change.
	culprits := make([]string, 0)
	comparisons := make([]map[string]any, 0, len(samples)-1)
	for i := 0; i+1 < len(samples); i++ {
		verdict := compare.Compare(samples[i], samples[i+1], opts)
		comparisons = append(comparisons, map[string]any{
			"prev":    changes[i],
			"next":    changes[i+1],
			"verdict": string(verdict),
		})
		switch verdict {
		case compare.Pending, compare.Unknown:
			// Inconclusive: wait for more repetitions before deciding.
			return nil, nil
		case compare.Different:
			culprits = append(culprits, changes[i+1])
		}
	}

	payload := map[string]any{
		"culprits":    culprits,
		"comparisons": comparisons,
	}
	ec[task.ID] = Result{State: model.TaskCompleted, Payload: payload}
	return []actions.Action{actions.CompleteTask{
		JobID:   task.JobID,
		TaskID:  task.ID,
		From:    task.State,
		Payload: payload,
	}}, nil
}
