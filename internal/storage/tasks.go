package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/ashita-ai/hakari/internal/model"
)

// GetTask retrieves one task of a job.
func (s queries) GetTask(ctx context.Context, jobID uuid.UUID, taskID string) (*model.Task, error) {
	var (
		task  model.Task
		state string
	)
	err := s.q.QueryRow(ctx,
		`SELECT job_id, id, task_type, state, payload, dependencies, last_error, created_at, updated_at
		 FROM tasks WHERE job_id = $1 AND id = $2`, jobID, taskID,
	).Scan(&task.JobID, &task.ID, &task.Type, &state, &task.Payload,
		&task.Dependencies, &task.LastError, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: task %s/%s", ErrNotFound, jobID, taskID)
		}
		return nil, fmt.Errorf("storage: get task: %w", err)
	}
	task.State = model.TaskState(state)
	return &task, nil
}

// CompareAndSwapTask transitions a task's state only if it currently holds
// expected, recording the new payload and error string with the swap. A nil
// payload leaves the stored payload untouched. A false result means the
// precondition failed; the caller treats that as already-applied.
func (s queries) CompareAndSwapTask(ctx context.Context, jobID uuid.UUID, taskID string,
	expected, next model.TaskState, payload map[string]any, lastError string) (bool, error) {
	if expected != next {
		if err := model.CheckTaskTransition(expected, next); err != nil {
			return false, fmt.Errorf("storage: cas task: %w", err)
		}
	}
	tag, err := s.q.Exec(ctx,
		`UPDATE tasks
		 SET state = $1, payload = COALESCE($2, payload), last_error = $3, updated_at = now()
		 WHERE job_id = $4 AND id = $5 AND state = $6`,
		string(next), payload, lastError, jobID, taskID, string(expected),
	)
	if err != nil {
		return false, fmt.Errorf("storage: cas task: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// ListTasks returns a job's tasks in materialization order, which is a
// valid evaluation order for the loader.
func (s queries) ListTasks(ctx context.Context, jobID uuid.UUID) ([]*model.Task, error) {
	rows, err := s.q.Query(ctx,
		`SELECT job_id, id, task_type, state, payload, dependencies, last_error, created_at, updated_at
		 FROM tasks WHERE job_id = $1 ORDER BY ord`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: list tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*model.Task
	for rows.Next() {
		var (
			task  model.Task
			state string
		)
		if err := rows.Scan(&task.JobID, &task.ID, &task.Type, &state, &task.Payload,
			&task.Dependencies, &task.LastError, &task.CreatedAt, &task.UpdatedAt); err != nil {
			return nil, fmt.Errorf("storage: scan task: %w", err)
		}
		task.State = model.TaskState(state)
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

// CountTasksByState aggregates a job's task states for status reporting.
func (s queries) CountTasksByState(ctx context.Context, jobID uuid.UUID) (map[model.TaskState]int, error) {
	rows, err := s.q.Query(ctx,
		`SELECT state, COUNT(*) FROM tasks WHERE job_id = $1 GROUP BY state`, jobID,
	)
	if err != nil {
		return nil, fmt.Errorf("storage: count tasks: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.TaskState]int)
	for rows.Next() {
		var (
			state string
			n     int
		)
		if err := rows.Scan(&state, &n); err != nil {
			return nil, fmt.Errorf("storage: scan task count: %w", err)
		}
		counts[model.TaskState(state)] = n
	}
	return counts, rows.Err()
}
