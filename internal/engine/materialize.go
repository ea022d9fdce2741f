package engine

import (
	"github.com/google/uuid"

	"github.com/ashita-ai/hakari/internal/model"
)

// Materialize turns a validated graph into the per-vertex task records to
// persist when a job is created. Every task starts pending; dependencies
// keep edge-insertion order.
func Materialize(jobID uuid.UUID, g *TaskGraph) []*model.Task {
	tasks := make([]*model.Task, 0, g.Len())
	for _, v := range g.vertices {
		payload := make(map[string]any, len(v.Payload))
		for k, val := range v.Payload {
			payload[k] = val
		}
		tasks = append(tasks, &model.Task{
			JobID:        jobID,
			ID:           v.ID,
			Type:         v.Type,
			State:        model.TaskPending,
			Payload:      payload,
			Dependencies: g.DependenciesOf(v.ID),
		})
	}
	return tasks
}
