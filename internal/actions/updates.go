package actions

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/ashita-ai/hakari/internal/model"
)

// Action is one side effect computed during an evaluation pass. Apply runs
// inside a transaction owned by the executor; implementations must express
// their precondition as a compare-and-swap and return ErrStaleState when it
// no longer holds.
type Action interface {
	// String identifies the action for logs: kind, job and task.
	String() string

	Apply(ctx context.Context, s Store) error
}

// PostCommitter is implemented by actions that perform an external call
// after their transaction commits (e.g. scheduling a build). The call runs
// outside any transaction so store locks are never held across network
// latency; a failed call leaves the task in its dispatched state, to be
// resolved by a later completion or timeout event.
type PostCommitter interface {
	PostCommit(ctx context.Context) error
}

// MarkTaskOngoing records that work has been dispatched for a task.
type MarkTaskOngoing struct {
	JobID   uuid.UUID
	TaskID  string
	Payload map[string]any
}

func (a MarkTaskOngoing) String() string {
	return fmt.Sprintf("mark_task_ongoing(%s, %s)", a.JobID, a.TaskID)
}

func (a MarkTaskOngoing) Apply(ctx context.Context, s Store) error {
	ok, err := s.CompareAndSwapTask(ctx, a.JobID, a.TaskID,
		model.TaskPending, model.TaskOngoing, a.Payload, "")
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleState
	}
	return markJobOngoing(ctx, s, a.JobID)
}

// CompleteTask marks a task's work as done, recording its result payload.
// When the task is the job's root, the job completes with it.
type CompleteTask struct {
	JobID   uuid.UUID
	TaskID  string
	From    model.TaskState
	Payload map[string]any
}

func (a CompleteTask) String() string {
	return fmt.Sprintf("complete_task(%s, %s)", a.JobID, a.TaskID)
}

func (a CompleteTask) Apply(ctx context.Context, s Store) error {
	from := a.From
	if from == "" {
		from = model.TaskOngoing
	}
	ok, err := s.CompareAndSwapTask(ctx, a.JobID, a.TaskID,
		from, model.TaskCompleted, a.Payload, "")
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleState
	}
	return mirrorJob(ctx, s, a.JobID, a.TaskID, model.JobCompleted)
}

// FailTask marks a task as unrecoverably failed with a reason. When the
// task is the job's root, the job fails with it.
type FailTask struct {
	JobID  uuid.UUID
	TaskID string
	From   model.TaskState
	Reason string
}

func (a FailTask) String() string {
	return fmt.Sprintf("fail_task(%s, %s)", a.JobID, a.TaskID)
}

func (a FailTask) Apply(ctx context.Context, s Store) error {
	from := a.From
	if from == "" {
		task, err := s.GetTask(ctx, a.JobID, a.TaskID)
		if err != nil {
			return err
		}
		if task.State.Terminal() {
			return ErrStaleState
		}
		from = task.State
	}
	ok, err := s.CompareAndSwapTask(ctx, a.JobID, a.TaskID,
		from, model.TaskFailed, nil, a.Reason)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleState
	}
	return mirrorJob(ctx, s, a.JobID, a.TaskID, model.JobFailed)
}

// CancelTask drives a task to cancelled, short-circuiting its dependents.
type CancelTask struct {
	JobID  uuid.UUID
	TaskID string
	From   model.TaskState
	Reason string
}

func (a CancelTask) String() string {
	return fmt.Sprintf("cancel_task(%s, %s)", a.JobID, a.TaskID)
}

func (a CancelTask) Apply(ctx context.Context, s Store) error {
	reason := a.Reason
	if reason == "" {
		reason = "cancelled"
	}
	ok, err := s.CompareAndSwapTask(ctx, a.JobID, a.TaskID,
		a.From, model.TaskCancelled, nil, reason)
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleState
	}
	return mirrorJob(ctx, s, a.JobID, a.TaskID, model.JobCancelled)
}

// AmendTaskPayload merges new payload keys into a task without changing its
// state. Earlier tasks use this to feed outputs into not-yet-started
// dependents, and dispatch feedback uses it to record external ids on
// ongoing tasks; topology is never touched. From defaults to pending.
type AmendTaskPayload struct {
	JobID   uuid.UUID
	TaskID  string
	From    model.TaskState
	Payload map[string]any
}

func (a AmendTaskPayload) String() string {
	return fmt.Sprintf("amend_task_payload(%s, %s)", a.JobID, a.TaskID)
}

func (a AmendTaskPayload) Apply(ctx context.Context, s Store) error {
	from := a.From
	if from == "" {
		from = model.TaskPending
	}
	task, err := s.GetTask(ctx, a.JobID, a.TaskID)
	if err != nil {
		return err
	}
	if task.State != from {
		return ErrStaleState
	}
	merged := make(map[string]any, len(task.Payload)+len(a.Payload))
	for k, v := range task.Payload {
		merged[k] = v
	}
	for k, v := range a.Payload {
		merged[k] = v
	}
	ok, err := s.CompareAndSwapTask(ctx, a.JobID, a.TaskID, from, from, merged, "")
	if err != nil {
		return err
	}
	if !ok {
		return ErrStaleState
	}
	return nil
}
